package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// StatusSuccess is the only status the wallet uses for an accepted call.
const StatusSuccess = 2100

// StatusMissing marks a response that carried no usable status field.
const StatusMissing = -1

var ErrRejected = errors.New("wallet rejected the request")

// Report is the transaction detail forwarded with every money movement.
type Report struct {
	Provider  string
	RoundID   string
	GameCode  string
	BetAmount decimal.Decimal
	WinAmount decimal.Decimal
	EventTime time.Time
}

type Request struct {
	PlayID        string
	Currency      string
	TransactionID string
	Amount        decimal.Decimal
	Report        Report
}

type PayoutRequest struct {
	PlayID        string
	Currency      string
	TransactionID string
	BetAmount     decimal.Decimal
	WinAmount     decimal.Decimal
	Report        Report
}

type CancelRequest struct {
	PlayID           string
	Currency         string
	TransactionID    string
	Amount           decimal.Decimal
	RefTransactionID string
}

// Result is what every wallet operation returns. Credit is the balance for
// Balance calls and the balance after the movement for everything else.
type Result struct {
	Status int
	Credit decimal.Decimal
}

func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

// Err is nil only for an accepted result.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	return fmt.Errorf("%w: status %d", ErrRejected, r.Status)
}

// Client is the fixed wallet contract.
type Client interface {
	Balance(ctx context.Context, playID, currency string) (Result, error)
	Wager(ctx context.Context, req Request) (Result, error)
	Payout(ctx context.Context, req Request) (Result, error)
	Bonus(ctx context.Context, req Request) (Result, error)
	WagerAndPayout(ctx context.Context, req PayoutRequest) (Result, error)
	Cancel(ctx context.Context, req CancelRequest) (Result, error)
	TransferIn(ctx context.Context, req Request) (Result, error)
	TransferOut(ctx context.Context, req Request) (Result, error)
	Resettle(ctx context.Context, req Request) (Result, error)
}

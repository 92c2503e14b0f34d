package wallet

import (
	"context"
	"sync"

	"seamless/credentials"

	"github.com/shopspring/decimal"
)

var (
	_ Client    = (*Fake)(nil)
	_ Connector = (*Fake)(nil)
)

// Call is one request received by Fake.
type Call struct {
	Method        string
	PlayID        string
	TransactionID string
	Amount        decimal.Decimal
	RefID         string
}

// Fake is an in-memory wallet. Unknown players start with a zero balance.
type Fake struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	statuses map[string]int
	errs     map[string]error
	calls    []Call
}

func NewFake() *Fake {
	return &Fake{
		balances: make(map[string]decimal.Decimal),
		statuses: make(map[string]int),
		errs:     make(map[string]error),
	}
}

func (f *Fake) Client(credentials.Bundle) (Client, error) {
	return f, nil
}

func (f *Fake) SetBalance(playID string, amount decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[playID] = amount
}

func (f *Fake) BalanceOf(playID string) decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[playID]
}

// Reject makes every call to method answer with status.
func (f *Fake) Reject(method string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[method] = status
}

// FailWith makes every call to method return err.
func (f *Fake) FailWith(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[method] = err
}

func (f *Fake) Calls(method string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) Balance(_ context.Context, playID, _ string) (Result, error) {
	return f.apply(Call{Method: MethodBalance, PlayID: playID}, decimal.Zero)
}

func (f *Fake) Wager(_ context.Context, req Request) (Result, error) {
	return f.apply(call(MethodWager, req), req.Amount.Neg())
}

func (f *Fake) Payout(_ context.Context, req Request) (Result, error) {
	return f.apply(call(MethodPayout, req), req.Amount)
}

func (f *Fake) Bonus(_ context.Context, req Request) (Result, error) {
	return f.apply(call(MethodBonus, req), req.Amount)
}

func (f *Fake) TransferIn(_ context.Context, req Request) (Result, error) {
	return f.apply(call(MethodTransferIn, req), req.Amount)
}

func (f *Fake) TransferOut(_ context.Context, req Request) (Result, error) {
	return f.apply(call(MethodTransferOut, req), req.Amount.Neg())
}

func (f *Fake) Resettle(_ context.Context, req Request) (Result, error) {
	return f.apply(call(MethodResettle, req), req.Amount)
}

func (f *Fake) WagerAndPayout(_ context.Context, req PayoutRequest) (Result, error) {
	c := Call{
		Method:        MethodWagerAndPayout,
		PlayID:        req.PlayID,
		TransactionID: req.TransactionID,
		Amount:        req.BetAmount,
	}
	return f.apply(c, req.WinAmount.Sub(req.BetAmount))
}

func (f *Fake) Cancel(_ context.Context, req CancelRequest) (Result, error) {
	c := Call{
		Method:        MethodCancel,
		PlayID:        req.PlayID,
		TransactionID: req.TransactionID,
		Amount:        req.Amount,
		RefID:         req.RefTransactionID,
	}
	return f.apply(c, req.Amount)
}

func (f *Fake) apply(c Call, delta decimal.Decimal) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, c)
	if err := f.errs[c.Method]; err != nil {
		return Result{}, err
	}
	if st, ok := f.statuses[c.Method]; ok {
		return Result{Status: st, Credit: f.balances[c.PlayID]}, nil
	}
	f.balances[c.PlayID] = f.balances[c.PlayID].Add(delta)
	return Result{Status: StatusSuccess, Credit: f.balances[c.PlayID]}, nil
}

func call(method string, req Request) Call {
	return Call{
		Method:        method,
		PlayID:        req.PlayID,
		TransactionID: req.TransactionID,
		Amount:        req.Amount,
	}
}

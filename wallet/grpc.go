package wallet

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const servicePath = "/wallet.v1.WalletService/"

const (
	MethodBalance        = "Balance"
	MethodWager          = "Wager"
	MethodPayout         = "Payout"
	MethodBonus          = "Bonus"
	MethodWagerAndPayout = "WagerAndPayout"
	MethodCancel         = "Cancel"
	MethodTransferIn     = "TransferIn"
	MethodTransferOut    = "TransferOut"
	MethodResettle       = "Resettle"
)

var _ Client = (*GRPCClient)(nil)

// GRPCClient speaks the wallet contract over gRPC. Messages are
// google.protobuf.Struct values, so no generated stubs are needed.
type GRPCClient struct {
	conn          grpc.ClientConnInterface
	token         string
	signingSecret string
	now           func() time.Time
}

func NewGRPCClient(conn grpc.ClientConnInterface, token, signingSecret string) *GRPCClient {
	return &GRPCClient{
		conn:          conn,
		token:         token,
		signingSecret: signingSecret,
		now:           time.Now,
	}
}

func (c *GRPCClient) Balance(ctx context.Context, playID, currency string) (Result, error) {
	return c.call(ctx, MethodBalance, map[string]any{
		"play_id":  playID,
		"currency": currency,
	})
}

func (c *GRPCClient) Wager(ctx context.Context, req Request) (Result, error) {
	return c.call(ctx, MethodWager, requestFields(req))
}

func (c *GRPCClient) Payout(ctx context.Context, req Request) (Result, error) {
	return c.call(ctx, MethodPayout, requestFields(req))
}

func (c *GRPCClient) Bonus(ctx context.Context, req Request) (Result, error) {
	return c.call(ctx, MethodBonus, requestFields(req))
}

func (c *GRPCClient) TransferIn(ctx context.Context, req Request) (Result, error) {
	return c.call(ctx, MethodTransferIn, requestFields(req))
}

func (c *GRPCClient) TransferOut(ctx context.Context, req Request) (Result, error) {
	return c.call(ctx, MethodTransferOut, requestFields(req))
}

func (c *GRPCClient) Resettle(ctx context.Context, req Request) (Result, error) {
	return c.call(ctx, MethodResettle, requestFields(req))
}

func (c *GRPCClient) WagerAndPayout(ctx context.Context, req PayoutRequest) (Result, error) {
	return c.call(ctx, MethodWagerAndPayout, map[string]any{
		"play_id":        req.PlayID,
		"currency":       req.Currency,
		"transaction_id": req.TransactionID,
		"bet_amount":     req.BetAmount.String(),
		"win_amount":     req.WinAmount.String(),
		"report":         reportFields(req.Report),
	})
}

func (c *GRPCClient) Cancel(ctx context.Context, req CancelRequest) (Result, error) {
	return c.call(ctx, MethodCancel, map[string]any{
		"play_id":            req.PlayID,
		"currency":           req.Currency,
		"transaction_id":     req.TransactionID,
		"amount":             req.Amount.String(),
		"ref_transaction_id": req.RefTransactionID,
	})
}

func (c *GRPCClient) call(ctx context.Context, method string, fields map[string]any) (Result, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return Result{}, fmt.Errorf("wallet %s: build request: %w", method, err)
	}

	ts := strconv.FormatInt(c.now().Unix(), 10)
	sig, err := Sign(c.signingSecret, ts, in)
	if err != nil {
		return Result{}, fmt.Errorf("wallet %s: sign request: %w", method, err)
	}
	ctx = metadata.AppendToOutgoingContext(ctx,
		"authorization", "Bearer "+c.token,
		"x-timestamp", ts,
		"x-signature", sig,
	)

	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, servicePath+method, in, out); err != nil {
		return Result{}, fmt.Errorf("wallet %s: %w", method, err)
	}
	return ParseResult(out), nil
}

// Sign is the hex HMAC-SHA256 of timestamp followed by the deterministic
// protobuf encoding of msg.
func Sign(secret, timestamp string, msg proto.Message) (string, error) {
	b, err := proto.MarshalOptions{Deterministic: true}.Marshal(msg)
	if err != nil {
		return "", err
	}
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(timestamp))
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ParseResult reads status and credit from a wallet response. A missing,
// non-numeric or fractional status yields StatusMissing, which is never a
// success.
func ParseResult(s *structpb.Struct) Result {
	res := Result{Status: StatusMissing}
	if s == nil {
		return res
	}
	f := s.GetFields()

	if v, ok := f["status"]; ok {
		if n, ok := v.GetKind().(*structpb.Value_NumberValue); ok {
			if n.NumberValue == math.Trunc(n.NumberValue) && !math.IsInf(n.NumberValue, 0) {
				res.Status = int(n.NumberValue)
			}
		}
	}

	for _, key := range []string{"credit_after", "credit"} {
		if v, ok := f[key]; ok {
			if d, ok := toDecimal(v); ok {
				res.Credit = d
				break
			}
		}
	}
	return res
}

func toDecimal(v *structpb.Value) (decimal.Decimal, bool) {
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return decimal.NewFromFloat(k.NumberValue), true
	case *structpb.Value_StringValue:
		d, err := decimal.NewFromString(k.StringValue)
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}

func requestFields(req Request) map[string]any {
	return map[string]any{
		"play_id":        req.PlayID,
		"currency":       req.Currency,
		"transaction_id": req.TransactionID,
		"amount":         req.Amount.String(),
		"report":         reportFields(req.Report),
	}
}

func reportFields(r Report) map[string]any {
	m := map[string]any{
		"provider":   r.Provider,
		"round_id":   r.RoundID,
		"game_code":  r.GameCode,
		"bet_amount": r.BetAmount.String(),
		"win_amount": r.WinAmount.String(),
	}
	if !r.EventTime.IsZero() {
		m["event_time"] = r.EventTime.UTC().Format(time.RFC3339)
	}
	return m
}

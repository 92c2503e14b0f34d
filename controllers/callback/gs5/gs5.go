package gs5

import (
	"context"
	"encoding/json"
	"time"

	"seamless/helpers"
	gs5provider "seamless/providers/gs5"
	"seamless/session"
	"seamless/settlement"
	"seamless/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Reply codes.
const (
	CodeOK           = 0
	CodeInvalidToken = 1
	CodeInvalidParam = 2
	CodeInsufficient = 3
	CodeNotFound     = 4
	CodeOther        = 5
)

type Handler struct {
	engine      *settlement.Engine
	sessions    session.Store
	refundDelay time.Duration
	log         *zap.Logger
}

func New(engine *settlement.Engine, sessions session.Store, refundDelay time.Duration, log *zap.Logger) *Handler {
	return &Handler{
		engine:      engine,
		sessions:    sessions,
		refundDelay: refundDelay,
		log:         log.With(zap.String("provider", engine.Provider())),
	}
}

type tokenRequest struct {
	AccessToken string `json:"access_token" validate:"required"`
}

type betRequest struct {
	AccessToken string          `json:"access_token" validate:"required"`
	TxnID       string          `json:"txn_id" validate:"required,max=64"`
	GameID      string          `json:"game_id"`
	TotalBet    decimal.Decimal `json:"total_bet"`
	TS          int64           `json:"ts"`
}

type resultRequest struct {
	AccessToken string          `json:"access_token" validate:"required"`
	TxnID       string          `json:"txn_id" validate:"required,max=64"`
	GameID      string          `json:"game_id"`
	TotalWin    decimal.Decimal `json:"total_win"`
	TS          int64           `json:"ts"`
}

type bonusRequest struct {
	AccessToken string          `json:"access_token" validate:"required"`
	BonusID     string          `json:"bonus_id" validate:"required,max=64"`
	GameID      string          `json:"game_id"`
	BonusReward decimal.Decimal `json:"bonus_reward"`
	TS          int64           `json:"ts"`
}

type refundRequest struct {
	AccessToken string `json:"access_token" validate:"required"`
	TxnID       string `json:"txn_id" validate:"required,max=64"`
}

func (h *Handler) Balance(c *fiber.Ctx) error {
	var req tokenRequest
	if !h.parse(c, &req) {
		return reply(c, CodeInvalidParam, decimal.Zero)
	}
	playID, ok := subject(req.AccessToken)
	if !ok {
		return reply(c, CodeInvalidToken, decimal.Zero)
	}
	ctx := c.UserContext()
	res, err := h.engine.Balance(ctx, playID, h.auth(ctx, req.AccessToken))
	return h.respond(c, "balance", res, err)
}

func (h *Handler) Bet(c *fiber.Ctx) error {
	var req betRequest
	if !h.parse(c, &req) || !req.TotalBet.IsPositive() {
		return reply(c, CodeInvalidParam, decimal.Zero)
	}
	playID, ok := subject(req.AccessToken)
	if !ok {
		return reply(c, CodeInvalidToken, decimal.Zero)
	}
	ctx := c.UserContext()
	res, err := h.engine.PlaceWager(ctx, settlement.Request{
		PlayID:    playID,
		RoundID:   req.TxnID,
		Amount:    req.TotalBet,
		GameCode:  req.GameID,
		Reference: req.TxnID,
		EventTime: helpers.UnixTime(req.TS),
		Authorize: h.auth(ctx, req.AccessToken),
		Payload:   req,
	})
	return h.respond(c, "bet", res, err)
}

func (h *Handler) Result(c *fiber.Ctx) error {
	var req resultRequest
	if !h.parse(c, &req) || req.TotalWin.IsNegative() {
		return reply(c, CodeInvalidParam, decimal.Zero)
	}
	playID, ok := subject(req.AccessToken)
	if !ok {
		return reply(c, CodeInvalidToken, decimal.Zero)
	}
	ctx := c.UserContext()
	res, err := h.engine.SettlePayout(ctx, settlement.Request{
		PlayID:    playID,
		RoundID:   req.TxnID,
		Amount:    req.TotalWin,
		GameCode:  req.GameID,
		Reference: req.TxnID,
		EventTime: helpers.UnixTime(req.TS),
		Authorize: h.auth(ctx, req.AccessToken),
		Payload:   req,
	})
	return h.respond(c, "result", res, err)
}

func (h *Handler) Bonus(c *fiber.Ctx) error {
	var req bonusRequest
	if !h.parse(c, &req) || !req.BonusReward.IsPositive() {
		return reply(c, CodeInvalidParam, decimal.Zero)
	}
	playID, ok := subject(req.AccessToken)
	if !ok {
		return reply(c, CodeInvalidToken, decimal.Zero)
	}
	ctx := c.UserContext()
	res, err := h.engine.IssueBonus(ctx, settlement.Request{
		PlayID:    playID,
		RoundID:   req.BonusID,
		Amount:    req.BonusReward,
		GameCode:  req.GameID,
		Reference: req.BonusID,
		EventTime: helpers.UnixTime(req.TS),
		Authorize: h.auth(ctx, req.AccessToken),
		Payload:   req,
	})
	return h.respond(c, "bonus", res, err)
}

// Refund stalls for refundDelay before cancelling the bet.
func (h *Handler) Refund(c *fiber.Ctx) error {
	var req refundRequest
	if !h.parse(c, &req) {
		return reply(c, CodeInvalidParam, decimal.Zero)
	}
	playID, ok := subject(req.AccessToken)
	if !ok {
		return reply(c, CodeInvalidToken, decimal.Zero)
	}

	ctx := c.UserContext()
	if res, err := h.engine.CheckPlayer(ctx, playID, h.auth(ctx, req.AccessToken)); err != nil || res.Outcome != settlement.OK {
		return h.respond(c, "refund", res, err)
	}
	if err := stall(ctx, h.refundDelay); err != nil {
		return h.respond(c, "refund", settlement.Result{}, err)
	}

	res, err := h.engine.CancelWager(ctx, settlement.CancelRequest{
		PlayID:    playID,
		RoundID:   req.TxnID,
		Reference: req.TxnID,
		Authorize: h.auth(ctx, req.AccessToken),
		Payload:   req,
	})
	return h.respond(c, "refund", res, err)
}

func (h *Handler) auth(ctx context.Context, token string) settlement.Authorizer {
	return gs5provider.Authorizer(ctx, h.sessions, token)
}

func (h *Handler) parse(c *fiber.Ctx, v any) bool {
	if err := c.BodyParser(v); err != nil {
		h.log.Debug("[GS5] bad body", zap.Error(err))
		return false
	}
	if err := validation.Struct(v); err != nil {
		h.log.Debug("[GS5] invalid request", zap.Error(err))
		return false
	}
	return true
}

func (h *Handler) respond(c *fiber.Ctx, op string, res settlement.Result, err error) error {
	if err != nil {
		h.log.Error("[GS5] callback failed", zap.String("op", op), zap.Error(err))
		return reply(c, CodeOther, decimal.Zero)
	}
	return reply(c, code(res.Outcome), res.Balance)
}

func subject(token string) (string, bool) {
	playID, err := gs5provider.Subject(token)
	return playID, err == nil
}

func stall(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// code maps an outcome to a reply code. Replays are answered as successes.
func code(o settlement.Outcome) int {
	switch o {
	case settlement.OK, settlement.AlreadyExists, settlement.AlreadySettled:
		return CodeOK
	case settlement.PlayerNotFound, settlement.InvalidSecret:
		return CodeInvalidToken
	case settlement.InsufficientFunds:
		return CodeInsufficient
	case settlement.TransactionNotFound, settlement.CannotCancel, settlement.WagerCancelled:
		return CodeNotFound
	default:
		return CodeOther
	}
}

func reply(c *fiber.Ctx, code int, gold decimal.Decimal) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"code": code,
		"gold": json.Number(gold.String()),
	})
}

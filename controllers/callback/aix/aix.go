package aix

import (
	"encoding/json"

	"seamless/helpers"
	"seamless/settlement"
	"seamless/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const HeaderSecret = "secret-key"

// Error codes sent in the "error" field of a failed reply.
const (
	ErrInvalidRequest       = "INVALID_REQUEST"
	ErrInvalidSecret        = "INVALID_SECRET"
	ErrPlayerNotFound       = "PLAYER_NOT_FOUND"
	ErrInsufficientFunds    = "INSUFFICIENT_FUNDS"
	ErrDuplicateTransaction = "DUPLICATE_TRANSACTION"
	ErrTransactionNotFound  = "TRANSACTION_NOT_FOUND"
	ErrAlreadySettled       = "ALREADY_SETTLED"
	ErrCannotCancel         = "CANNOT_CANCEL"
	ErrWalletError          = "WALLET_ERROR"
	ErrInternalError        = "INTERNAL_ERROR"
)

type Handler struct {
	engine *settlement.Engine
	log    *zap.Logger
}

func New(engine *settlement.Engine, log *zap.Logger) *Handler {
	return &Handler{engine: engine, log: log.With(zap.String("provider", engine.Provider()))}
}

type balanceRequest struct {
	UserID string `json:"user_id" validate:"required"`
	PrdID  int    `json:"prd_id"`
}

type moneyRequest struct {
	UserID     string          `json:"user_id" validate:"required"`
	PrdID      int             `json:"prd_id"`
	TxnID      string          `json:"txn_id" validate:"required,max=64"`
	GameID     string          `json:"game_id"`
	Amount     decimal.Decimal `json:"amount"`
	DebitTime  string          `json:"debit_time"`
	CreditTime string          `json:"credit_time"`
}

type cancelRequest struct {
	UserID string `json:"user_id" validate:"required"`
	PrdID  int    `json:"prd_id"`
	TxnID  string `json:"txn_id" validate:"required,max=64"`
}

func (h *Handler) Balance(c *fiber.Ctx) error {
	var req balanceRequest
	if !h.parse(c, &req) {
		return reply(c, settlement.Result{}, ErrInvalidRequest)
	}
	res, err := h.engine.Balance(c.UserContext(), req.UserID, h.auth(c))
	return h.respond(c, "balance", res, err)
}

func (h *Handler) Debit(c *fiber.Ctx) error {
	var req moneyRequest
	if !h.parse(c, &req) || !req.Amount.IsPositive() {
		return reply(c, settlement.Result{}, ErrInvalidRequest)
	}
	res, err := h.engine.PlaceWager(c.UserContext(), settlement.Request{
		PlayID:    req.UserID,
		RoundID:   req.TxnID,
		Amount:    req.Amount,
		GameCode:  req.GameID,
		Reference: req.TxnID,
		EventTime: helpers.ParseTime(req.DebitTime),
		Authorize: h.auth(c),
		Payload:   req,
	})
	return h.respond(c, "debit", res, err)
}

func (h *Handler) Credit(c *fiber.Ctx) error {
	var req moneyRequest
	if !h.parse(c, &req) || req.Amount.IsNegative() {
		return reply(c, settlement.Result{}, ErrInvalidRequest)
	}
	res, err := h.engine.SettlePayout(c.UserContext(), settlement.Request{
		PlayID:    req.UserID,
		RoundID:   req.TxnID,
		Amount:    req.Amount,
		GameCode:  req.GameID,
		Reference: req.TxnID,
		EventTime: helpers.ParseTime(req.CreditTime),
		Authorize: h.auth(c),
		Payload:   req,
	})
	return h.respond(c, "credit", res, err)
}

func (h *Handler) Bonus(c *fiber.Ctx) error {
	var req moneyRequest
	if !h.parse(c, &req) || !req.Amount.IsPositive() {
		return reply(c, settlement.Result{}, ErrInvalidRequest)
	}
	res, err := h.engine.IssueBonus(c.UserContext(), settlement.Request{
		PlayID:    req.UserID,
		RoundID:   req.TxnID,
		Amount:    req.Amount,
		GameCode:  req.GameID,
		Reference: req.TxnID,
		EventTime: helpers.ParseTime(req.CreditTime),
		Authorize: h.auth(c),
		Payload:   req,
	})
	return h.respond(c, "bonus", res, err)
}

func (h *Handler) Cancel(c *fiber.Ctx) error {
	var req cancelRequest
	if !h.parse(c, &req) {
		return reply(c, settlement.Result{}, ErrInvalidRequest)
	}
	res, err := h.engine.CancelWager(c.UserContext(), settlement.CancelRequest{
		PlayID:    req.UserID,
		RoundID:   req.TxnID,
		Reference: req.TxnID,
		Authorize: h.auth(c),
		Payload:   req,
	})
	return h.respond(c, "cancel", res, err)
}

func (h *Handler) auth(c *fiber.Ctx) settlement.Authorizer {
	return settlement.SharedSecret(c.Get(HeaderSecret))
}

func (h *Handler) parse(c *fiber.Ctx, v any) bool {
	if err := c.BodyParser(v); err != nil {
		h.log.Debug("[AIX] bad body", zap.Error(err))
		return false
	}
	if err := validation.Struct(v); err != nil {
		h.log.Debug("[AIX] invalid request", zap.Error(err))
		return false
	}
	return true
}

func (h *Handler) respond(c *fiber.Ctx, op string, res settlement.Result, err error) error {
	if err != nil {
		h.log.Error("[AIX] callback failed", zap.String("op", op), zap.Error(err))
		return reply(c, res, ErrInternalError)
	}
	return reply(c, res, errorCode(res.Outcome))
}

func errorCode(o settlement.Outcome) string {
	switch o {
	case settlement.OK:
		return ""
	case settlement.AlreadyExists:
		return ErrDuplicateTransaction
	case settlement.AlreadySettled:
		return ErrAlreadySettled
	case settlement.TransactionNotFound, settlement.WagerCancelled:
		return ErrTransactionNotFound
	case settlement.PlayerNotFound:
		return ErrPlayerNotFound
	case settlement.InvalidSecret:
		return ErrInvalidSecret
	case settlement.InsufficientFunds:
		return ErrInsufficientFunds
	case settlement.CannotCancel:
		return ErrCannotCancel
	case settlement.WalletError:
		return ErrWalletError
	case settlement.InvalidCurrency:
		return ErrInvalidRequest
	default:
		return ErrInternalError
	}
}

// reply writes {status:1, balance} on success and {status:0, error} with the
// balance attached when it is known.
func reply(c *fiber.Ctx, res settlement.Result, code string) error {
	if code == "" {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status":  1,
			"balance": amount(res.Balance),
		})
	}
	body := fiber.Map{
		"status": 0,
		"error":  code,
	}
	if res.Outcome.Duplicate() || res.Outcome == settlement.InsufficientFunds {
		body["balance"] = amount(res.Balance)
	}
	return c.Status(fiber.StatusOK).JSON(body)
}

func amount(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

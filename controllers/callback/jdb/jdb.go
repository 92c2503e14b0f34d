package jdb

import (
	"encoding/json"
	"strconv"
	"strings"

	"seamless/credentials"
	"seamless/helpers"
	"seamless/models"
	jdbprovider "seamless/providers/jdb"
	"seamless/settlement"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Status codes.
const (
	StatusSuccess       = jdbprovider.StatusSuccess
	StatusUserNotFound  = "7501"
	StatusInsufficient  = "6006"
	StatusDuplicate     = "9011"
	StatusInvalidAction = "9017"
	StatusBadParameter  = "8000"
	StatusFailed        = "9999"
)

type Handler struct {
	engine *settlement.Engine
	keys   []credentials.Bundle
	log    *zap.Logger
}

// New prepares a handler that decrypts callbacks with the bundles valid in
// environment.
func New(engine *settlement.Engine, table credentials.Table, environment string, log *zap.Logger) *Handler {
	var keys []credentials.Bundle
	if environment == credentials.EnvProduction {
		for _, cur := range table.Currencies() {
			b, _ := table.Resolve(environment, cur)
			keys = append(keys, b)
		}
	} else {
		keys = append(keys, table.Staging)
	}
	return &Handler{
		engine: engine,
		keys:   keys,
		log:    log.With(zap.String("provider", engine.Provider())),
	}
}

// request is the decrypted body of a callback.
type request struct {
	Action     int             `json:"action"`
	TS         int64           `json:"ts"`
	UID        string          `json:"uid"`
	TransferID json.Number     `json:"transferId"`
	GType      int             `json:"gType"`
	MType      int             `json:"mType"`
	Bet        decimal.Decimal `json:"bet"`
	Win        decimal.Decimal `json:"win"`
	NetWin     decimal.Decimal `json:"netWin"`
	Currency   string          `json:"currency"`
}

// Callback serves every action on one route.
func (h *Handler) Callback(c *fiber.Ctx) error {
	x := c.FormValue("x")
	if x == "" {
		return reply(c, StatusBadParameter, decimal.Zero, "missing x")
	}
	req, key, ok := h.decrypt(x)
	if !ok {
		return reply(c, StatusBadParameter, decimal.Zero, "cannot decrypt x")
	}
	if strings.TrimSpace(req.UID) == "" {
		return reply(c, StatusBadParameter, decimal.Zero, "missing uid")
	}

	switch req.Action {
	case jdbprovider.ActionBalance:
		return h.balance(c, req, key)
	case jdbprovider.ActionBetSettle:
		return h.betSettle(c, req, key)
	case jdbprovider.ActionCancel:
		return h.cancel(c, req, key)
	default:
		return reply(c, StatusInvalidAction, decimal.Zero, "unsupported action")
	}
}

func (h *Handler) balance(c *fiber.Ctx, req request, key credentials.Bundle) error {
	res, err := h.engine.Balance(c.UserContext(), req.UID, authorize(key))
	return h.respond(c, "balance", res, err)
}

// betSettle applies a spin: bet arrives negative, win positive.
func (h *Handler) betSettle(c *fiber.Ctx, req request, key credentials.Bundle) error {
	if req.TransferID == "" || req.Bet.IsPositive() || req.Win.IsNegative() {
		return reply(c, StatusBadParameter, decimal.Zero, "invalid bet")
	}
	res, err := h.engine.WagerAndPayout(c.UserContext(), settlement.ComboRequest{
		PlayID:    req.UID,
		RoundID:   req.TransferID.String(),
		Bet:       req.Bet.Abs(),
		Win:       req.Win,
		GameCode:  gameCode(req),
		Reference: req.TransferID.String(),
		EventTime: helpers.UnixTime(req.TS),
		Authorize: authorize(key),
		Payload:   req,
	})
	if err == nil && res.Outcome.Duplicate() {
		res.Outcome = settlement.OK
	}
	return h.respond(c, "bet_settle", res, err)
}

// cancel reverses a whole bet-and-settle round.
func (h *Handler) cancel(c *fiber.Ctx, req request, key credentials.Bundle) error {
	if req.TransferID == "" {
		return reply(c, StatusBadParameter, decimal.Zero, "missing transferId")
	}
	res, err := h.engine.CancelWager(c.UserContext(), settlement.CancelRequest{
		PlayID:       req.UID,
		RoundID:      req.TransferID.String(),
		Reference:    req.TransferID.String(),
		Authorize:    authorize(key),
		AllowSettled: true,
		Payload:      req,
	})
	return h.respond(c, "cancel", res, err)
}

// decrypt tries each known key until one yields a request with an action.
func (h *Handler) decrypt(x string) (request, credentials.Bundle, bool) {
	for _, b := range h.keys {
		if b.CryptoKey == "" {
			continue
		}
		raw, err := helpers.AESDecrypt(b.CryptoKey, b.CryptoIV, x)
		if err != nil {
			continue
		}
		var req request
		if err := json.Unmarshal(raw, &req); err != nil || req.Action == 0 {
			continue
		}
		return req, b, true
	}
	return request{}, credentials.Bundle{}, false
}

// authorize accepts the player only when their own bundle holds the key
// the callback was encrypted with.
func authorize(key credentials.Bundle) settlement.Authorizer {
	return func(_ *models.Player, b credentials.Bundle) bool {
		return b.CryptoKey != "" && b.CryptoKey == key.CryptoKey && b.CryptoIV == key.CryptoIV
	}
}

func (h *Handler) respond(c *fiber.Ctx, op string, res settlement.Result, err error) error {
	if err != nil {
		h.log.Error("[JDB] callback failed", zap.String("op", op), zap.Error(err))
		return reply(c, StatusFailed, decimal.Zero, "internal error")
	}
	st, text := status(res.Outcome)
	return reply(c, st, res.Balance, text)
}

func status(o settlement.Outcome) (string, string) {
	switch o {
	case settlement.OK:
		return StatusSuccess, ""
	case settlement.AlreadyExists, settlement.AlreadySettled:
		return StatusDuplicate, "duplicate transfer"
	case settlement.PlayerNotFound:
		return StatusUserNotFound, "user not found"
	case settlement.InsufficientFunds:
		return StatusInsufficient, "insufficient balance"
	case settlement.InvalidCurrency:
		return StatusBadParameter, "invalid currency"
	case settlement.TransactionNotFound:
		return StatusFailed, "transfer not found"
	case settlement.InvalidSecret:
		return StatusFailed, "key mismatch"
	default:
		return StatusFailed, o.String()
	}
}

func gameCode(req request) string {
	if req.MType == 0 {
		return ""
	}
	return strconv.Itoa(req.GType) + "-" + strconv.Itoa(req.MType)
}

func reply(c *fiber.Ctx, st string, balance decimal.Decimal, text string) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":   st,
		"balance":  json.Number(balance.StringFixed(2)),
		"err_text": text,
	})
}

package cq9

import (
	"encoding/json"
	"errors"
	"time"

	"seamless/helpers"
	"seamless/models"
	cq9provider "seamless/providers/cq9"
	"seamless/repository"
	"seamless/settlement"
	"seamless/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const HeaderToken = "wtoken"

// Status codes.
const (
	CodeSuccess             = "0"
	CodeInvalidToken        = "4"
	CodeBadParameter        = "1003"
	CodeInsufficientBalance = "1005"
	CodePlayerNotFound      = "1006"
	CodeRecordNotFound      = "1014"
	CodeAlreadyRefunded     = "1015"
	CodeDuplicateMTCode     = "2009"
	CodeServerError         = "1100"
	CodeWalletError         = "1101"
)

var messages = map[string]string{
	CodeSuccess:             "Success",
	CodeInvalidToken:        "Token invalid",
	CodeBadParameter:        "Bad parameter",
	CodeInsufficientBalance: "Insufficient balance",
	CodePlayerNotFound:      "Player not found",
	CodeRecordNotFound:      "Record not found",
	CodeAlreadyRefunded:     "Already refunded or cannot refund",
	CodeDuplicateMTCode:     "Duplicate MTCode",
	CodeServerError:         "Server error",
	CodeWalletError:         "Wallet error",
}

// zone is the fixed UTC-4 offset CQ9 expects in dateTime.
var zone = time.FixedZone("UTC-4", -4*60*60)

type Handler struct {
	engine *settlement.Engine
	log    *zap.Logger
	now    func() time.Time
}

func New(engine *settlement.Engine, log *zap.Logger) *Handler {
	return &Handler{
		engine: engine,
		log:    log.With(zap.String("provider", engine.Provider())),
		now:    time.Now,
	}
}

type betForm struct {
	Account   string `form:"account" validate:"required"`
	GameHall  string `form:"gamehall"`
	GameCode  string `form:"gamecode"`
	RoundID   string `form:"roundid" validate:"required,max=64"`
	Amount    string `form:"amount" validate:"required,numeric"`
	MTCode    string `form:"mtcode" validate:"required,max=96"`
	EventTime string `form:"eventTime"`
}

type endRoundForm struct {
	Account    string `form:"account" validate:"required"`
	GameHall   string `form:"gamehall"`
	GameCode   string `form:"gamecode"`
	RoundID    string `form:"roundid" validate:"required,max=64"`
	Amount     string `form:"amount" validate:"required,numeric"`
	MTCode     string `form:"mtcode" validate:"required,max=96"`
	CreateTime string `form:"createTime"`
}

type refundForm struct {
	MTCode string `form:"mtcode" validate:"required,max=96"`
}

type payoffForm struct {
	Account   string `form:"account" validate:"required"`
	Amount    string `form:"amount" validate:"required,numeric"`
	MTCode    string `form:"mtcode" validate:"required,max=64"`
	EventTime string `form:"eventTime"`
	Remark    string `form:"remark"`
}

type balanceData struct {
	Balance  json.Number `json:"balance"`
	Currency string      `json:"currency"`
}

func (h *Handler) CheckPlayer(c *fiber.Ctx) error {
	account := c.Params("account")
	if account == "" {
		return h.reply(c, CodeBadParameter, nil)
	}
	res, err := h.engine.CheckPlayer(c.UserContext(), account, h.auth(c))
	if err != nil {
		h.log.Error("[CQ9] check player failed", zap.Error(err))
		return h.reply(c, CodeServerError, nil)
	}
	switch res.Outcome {
	case settlement.OK:
		return h.reply(c, CodeSuccess, true)
	case settlement.PlayerNotFound:
		return h.reply(c, CodeSuccess, false)
	default:
		return h.reply(c, code(res.Outcome), nil)
	}
}

func (h *Handler) Balance(c *fiber.Ctx) error {
	account := c.Params("account")
	if account == "" {
		return h.reply(c, CodeBadParameter, nil)
	}
	res, err := h.engine.Balance(c.UserContext(), account, h.auth(c))
	return h.respond(c, "balance", res, err)
}

func (h *Handler) Bet(c *fiber.Ctx) error {
	var f betForm
	amount, ok := h.parse(c, &f, func() string { return f.Amount })
	if !ok || !amount.IsPositive() {
		return h.reply(c, CodeBadParameter, nil)
	}
	res, err := h.engine.PlaceWager(c.UserContext(), settlement.Request{
		PlayID:    f.Account,
		RoundID:   f.RoundID,
		Amount:    amount,
		GameCode:  f.GameCode,
		Reference: f.MTCode,
		EventTime: helpers.ParseTime(f.EventTime),
		Authorize: h.auth(c),
		Payload:   f,
	})
	return h.respond(c, "bet", res, err)
}

func (h *Handler) EndRound(c *fiber.Ctx) error {
	var f endRoundForm
	amount, ok := h.parse(c, &f, func() string { return f.Amount })
	if !ok || amount.IsNegative() {
		return h.reply(c, CodeBadParameter, nil)
	}
	res, err := h.engine.SettlePayout(c.UserContext(), settlement.Request{
		PlayID:    f.Account,
		RoundID:   f.RoundID,
		Amount:    amount,
		GameCode:  f.GameCode,
		Reference: f.MTCode,
		EventTime: helpers.ParseTime(f.CreateTime),
		Authorize: h.auth(c),
		Payload:   f,
	})
	return h.respond(c, "endround", benign(res), err)
}

// Refund cancels the bet that carried mtcode.
func (h *Handler) Refund(c *fiber.Ctx) error {
	var f refundForm
	if err := c.BodyParser(&f); err != nil || validation.Struct(f) != nil {
		return h.reply(c, CodeBadParameter, nil)
	}

	ctx := c.UserContext()
	wager, err := h.engine.FindByReference(ctx, models.KindWager, f.MTCode)
	if errors.Is(err, repository.ErrNotFound) {
		return h.reply(c, CodeRecordNotFound, nil)
	}
	if err != nil {
		h.log.Error("[CQ9] find wager failed", zap.String("mtcode", f.MTCode), zap.Error(err))
		return h.reply(c, CodeServerError, nil)
	}

	res, err := h.engine.CancelWager(ctx, settlement.CancelRequest{
		PlayID:    wager.PlayID,
		RoundID:   wager.RoundID,
		Reference: f.MTCode,
		Authorize: h.auth(c),
		Payload:   f,
	})
	return h.respond(c, "refund", benign(res), err)
}

// Payoff credits a promotion. The mtcode is the round.
func (h *Handler) Payoff(c *fiber.Ctx) error {
	var f payoffForm
	amount, ok := h.parse(c, &f, func() string { return f.Amount })
	if !ok || !amount.IsPositive() {
		return h.reply(c, CodeBadParameter, nil)
	}
	res, err := h.engine.IssueBonus(c.UserContext(), settlement.Request{
		PlayID:    f.Account,
		RoundID:   f.MTCode,
		Amount:    amount,
		Reference: f.MTCode,
		EventTime: helpers.ParseTime(f.EventTime),
		Authorize: h.auth(c),
		Payload:   f,
	})
	return h.respond(c, "payoff", res, err)
}

func (h *Handler) auth(c *fiber.Ctx) settlement.Authorizer {
	return settlement.SharedSecret(c.Get(HeaderToken))
}

// parse binds the form into v, validates it and reads its amount.
func (h *Handler) parse(c *fiber.Ctx, v any, amount func() string) (decimal.Decimal, bool) {
	if err := c.BodyParser(v); err != nil {
		h.log.Debug("[CQ9] bad form", zap.Error(err))
		return decimal.Zero, false
	}
	if err := validation.Struct(v); err != nil {
		h.log.Debug("[CQ9] invalid request", zap.Error(err))
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(amount())
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func (h *Handler) respond(c *fiber.Ctx, op string, res settlement.Result, err error) error {
	if err != nil {
		h.log.Error("[CQ9] callback failed", zap.String("op", op), zap.Error(err))
		return h.reply(c, CodeServerError, nil)
	}
	st := code(res.Outcome)
	switch st {
	case CodeSuccess, CodeDuplicateMTCode, CodeInsufficientBalance:
		data := balanceData{Balance: json.Number(res.Balance.String())}
		if res.Player != nil {
			data.Currency = res.Player.Currency
		}
		return h.reply(c, st, data)
	default:
		return h.reply(c, st, nil)
	}
}

// benign turns a replay into a success for operations CQ9 retries until it
// sees code 0.
func benign(res settlement.Result) settlement.Result {
	if res.Outcome.Duplicate() {
		res.Outcome = settlement.OK
	}
	return res
}

func code(o settlement.Outcome) string {
	switch o {
	case settlement.OK:
		return CodeSuccess
	case settlement.AlreadyExists, settlement.AlreadySettled:
		return CodeDuplicateMTCode
	case settlement.InvalidSecret:
		return CodeInvalidToken
	case settlement.PlayerNotFound:
		return CodePlayerNotFound
	case settlement.InsufficientFunds:
		return CodeInsufficientBalance
	case settlement.TransactionNotFound:
		return CodeRecordNotFound
	case settlement.CannotCancel, settlement.WagerCancelled:
		return CodeAlreadyRefunded
	case settlement.WalletError:
		return CodeWalletError
	case settlement.InvalidCurrency:
		return CodeBadParameter
	default:
		return CodeServerError
	}
}

func (h *Handler) reply(c *fiber.Ctx, st string, data any) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": data,
		"status": cq9provider.Status{
			Code:      st,
			Message:   messages[st],
			DateTime:  h.now().In(zone).Format(time.RFC3339),
			TraceCode: uuid.NewString(),
		},
	})
}

package aix

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"seamless/config"
	"seamless/credentials"
	"seamless/database"
	"seamless/models"
	"seamless/repository"
	"seamless/settlement"
	"seamless/wallet"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const secret = "aix-secret"

type fixture struct {
	app    *fiber.App
	wallet *wallet.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	name := strings.NewReplacer("/", "_").Replace(t.Name())
	db, err := database.Connect(config.DBConfig{
		Driver:      "sqlite",
		Name:        "file:" + name + "?mode=memory&cache=shared",
		AutoMigrate: true,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	repo := repository.New(db, "aix")
	_, err = repo.UpsertPlayer(context.Background(), &models.Player{PlayID: "p1", Currency: "IDR"})
	require.NoError(t, err)

	f := &fixture{wallet: wallet.NewFake()}
	f.wallet.SetBalance("p1", decimal.NewFromInt(1000))

	h := New(settlement.New(settlement.Config{
		Environment: "staging",
		Credentials: credentials.Table{Staging: credentials.Bundle{CallbackSecret: secret}},
		Repo:        repo,
		Wallets:     f.wallet,
	}), zap.NewNop())

	f.app = fiber.New()
	f.app.Post("/aix/balance", h.Balance)
	f.app.Post("/aix/debit", h.Debit)
	f.app.Post("/aix/credit", h.Credit)
	f.app.Post("/aix/bonus", h.Bonus)
	f.app.Post("/aix/cancel", h.Cancel)
	return f
}

func (f *fixture) call(t *testing.T, path, key, body string) map[string]any {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSecret, key)
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestRoundTrip(t *testing.T) {
	f := newFixture(t)

	out := f.call(t, "/aix/balance", secret, `{"user_id":"p1","prd_id":1}`)
	assert.EqualValues(t, 1, out["status"])
	assert.EqualValues(t, 1000, out["balance"])

	out = f.call(t, "/aix/debit", secret, `{"user_id":"p1","txn_id":"t1","amount":100,"game_id":"g"}`)
	assert.EqualValues(t, 1, out["status"])
	assert.EqualValues(t, 900, out["balance"])

	out = f.call(t, "/aix/debit", secret, `{"user_id":"p1","txn_id":"t1","amount":100}`)
	assert.EqualValues(t, 0, out["status"])
	assert.Equal(t, ErrDuplicateTransaction, out["error"])
	assert.EqualValues(t, 900, out["balance"])

	out = f.call(t, "/aix/credit", secret, `{"user_id":"p1","txn_id":"t1","amount":"250.5"}`)
	assert.EqualValues(t, 1, out["status"])
	assert.EqualValues(t, 1150.5, out["balance"])

	out = f.call(t, "/aix/credit", secret, `{"user_id":"p1","txn_id":"t1","amount":250.5}`)
	assert.Equal(t, ErrAlreadySettled, out["error"])

	out = f.call(t, "/aix/cancel", secret, `{"user_id":"p1","txn_id":"t1"}`)
	assert.Equal(t, ErrCannotCancel, out["error"])

	assert.Len(t, f.wallet.Calls(wallet.MethodWager), 1)
	assert.Len(t, f.wallet.Calls(wallet.MethodPayout), 1)
}

func TestCancelAndBonus(t *testing.T) {
	f := newFixture(t)

	f.call(t, "/aix/debit", secret, `{"user_id":"p1","txn_id":"t2","amount":40}`)
	out := f.call(t, "/aix/cancel", secret, `{"user_id":"p1","txn_id":"t2"}`)
	assert.EqualValues(t, 1, out["status"])
	assert.EqualValues(t, 1000, out["balance"])

	out = f.call(t, "/aix/credit", secret, `{"user_id":"p1","txn_id":"t2","amount":10}`)
	assert.Equal(t, ErrTransactionNotFound, out["error"])

	out = f.call(t, "/aix/bonus", secret, `{"user_id":"p1","txn_id":"promo-1","amount":5}`)
	assert.EqualValues(t, 1005, out["balance"])
}

func TestRejections(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		path string
		key  string
		body string
		code string
	}{
		{"bad secret", "/aix/balance", "nope", `{"user_id":"p1"}`, ErrInvalidSecret},
		{"unknown player", "/aix/balance", secret, `{"user_id":"ghost"}`, ErrPlayerNotFound},
		{"missing user", "/aix/balance", secret, `{}`, ErrInvalidRequest},
		{"zero debit", "/aix/debit", secret, `{"user_id":"p1","txn_id":"t","amount":0}`, ErrInvalidRequest},
		{"negative credit", "/aix/credit", secret, `{"user_id":"p1","txn_id":"t","amount":-1}`, ErrInvalidRequest},
		{"credit without debit", "/aix/credit", secret, `{"user_id":"p1","txn_id":"none","amount":1}`, ErrTransactionNotFound},
		{"insufficient funds", "/aix/debit", secret, `{"user_id":"p1","txn_id":"big","amount":5000}`, ErrInsufficientFunds},
		{"broken json", "/aix/debit", secret, `{`, ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := f.call(t, tt.path, tt.key, tt.body)
			assert.EqualValues(t, 0, out["status"])
			assert.Equal(t, tt.code, out["error"])
		})
	}
	assert.Empty(t, f.wallet.Calls(wallet.MethodWager))
}

func TestWalletRejection(t *testing.T) {
	f := newFixture(t)
	f.wallet.Reject(wallet.MethodWager, 3001)

	out := f.call(t, "/aix/debit", secret, `{"user_id":"p1","txn_id":"t3","amount":10}`)
	assert.Equal(t, ErrWalletError, out["error"])
	assert.EqualValues(t, 1000, f.wallet.BalanceOf("p1").IntPart())
}

package settlement

import (
	"context"
	"errors"
	"strings"
	"testing"

	"seamless/config"
	"seamless/credentials"
	"seamless/database"
	"seamless/models"
	"seamless/repository"
	"seamless/wallet"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSecret = "cb-secret"

var staging = credentials.Table{
	Staging: credentials.Bundle{WalletAddr: "wallet:9000", CallbackSecret: testSecret},
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
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
	return db
}

type fixture struct {
	db     *gorm.DB
	repo   repository.Repository
	wallet *wallet.Fake
	engine *Engine
}

type option func(*Config)

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()
	db := newTestDB(t)
	f := &fixture{
		db:     db,
		repo:   repository.New(db, "aix"),
		wallet: wallet.NewFake(),
	}
	cfg := Config{
		Environment: "staging",
		Credentials: staging,
		Repo:        f.repo,
		Wallets:     f.wallet,
	}
	for _, o := range opts {
		o(&cfg)
	}
	f.repo = cfg.Repo
	f.engine = New(cfg)

	_, err := repository.New(db, "aix").UpsertPlayer(context.Background(), &models.Player{
		PlayID:   "p1",
		Username: "player one",
		Currency: "IDR",
	})
	require.NoError(t, err)
	f.wallet.SetBalance("p1", decimal.NewFromInt(1000))
	return f
}

func withConverter(c Converter) option {
	return func(cfg *Config) { cfg.Converter = c }
}

func withRepo(wrap func(repository.Repository) repository.Repository) option {
	return func(cfg *Config) { cfg.Repo = wrap(cfg.Repo) }
}

var auth = SharedSecret(testSecret)

func amt(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func assertAmount(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Equal(amt(want)), "want %d, got %s", want, got)
}

func wager(round string, amount int64) Request {
	return Request{PlayID: "p1", RoundID: round, Amount: amt(amount), GameCode: "g1", Reference: round, Authorize: auth}
}

func TestWagerPayoutRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.PlaceWager(ctx, wager("r1", 100))
	require.NoError(t, err)
	assert.Equal(t, OK, res.Outcome)
	assertAmount(t, 900, res.Balance)

	res, err = f.engine.SettlePayout(ctx, wager("r1", 300))
	require.NoError(t, err)
	assert.Equal(t, OK, res.Outcome)
	assertAmount(t, 1200, res.Balance)

	res, err = f.engine.SettlePayout(ctx, wager("r1", 300))
	require.NoError(t, err)
	assert.Equal(t, AlreadySettled, res.Outcome)
	assertAmount(t, 1200, res.Balance)

	assert.Len(t, f.wallet.Calls(wallet.MethodWager), 1)
	assert.Len(t, f.wallet.Calls(wallet.MethodPayout), 1)
	assertAmount(t, 1200, f.wallet.BalanceOf("p1"))

	w, err := f.repo.FindReport(ctx, "wager-r1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSettled, w.Status)
	assertAmount(t, 300, w.WinAmount)

	p, err := f.repo.FindReport(ctx, "payout-r1")
	require.NoError(t, err)
	assert.Equal(t, models.KindPayout, p.Kind)
	assert.Equal(t, "g1", p.GameCode)
}

func TestPlaceWagerIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := f.engine.PlaceWager(ctx, wager("r1", 100))
		require.NoError(t, err)
		if i == 0 {
			assert.Equal(t, OK, res.Outcome)
		} else {
			assert.Equal(t, AlreadyExists, res.Outcome)
			assert.True(t, res.Outcome.Duplicate())
		}
		assertAmount(t, 900, res.Balance)
	}

	calls := f.wallet.Calls(wallet.MethodWager)
	require.Len(t, calls, 1)
	assert.Equal(t, "wager-r1", calls[0].TransactionID)
}

func TestPayoutWithoutWager(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.SettlePayout(context.Background(), wager("missing", 50))
	require.NoError(t, err)
	assert.Equal(t, TransactionNotFound, res.Outcome)
	assert.Empty(t, f.wallet.Calls(wallet.MethodPayout))
}

func TestInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	f.wallet.SetBalance("p1", amt(50))
	ctx := context.Background()

	res, err := f.engine.PlaceWager(ctx, wager("r1", 100))
	require.NoError(t, err)
	assert.Equal(t, InsufficientFunds, res.Outcome)
	assertAmount(t, 50, res.Balance)
	assert.Empty(t, f.wallet.Calls(wallet.MethodWager))

	_, err = f.repo.FindReport(ctx, "wager-r1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestWalletRejectionRollsBack(t *testing.T) {
	f := newFixture(t)
	f.wallet.Reject(wallet.MethodWager, 3001)
	ctx := context.Background()

	res, err := f.engine.PlaceWager(ctx, wager("r1", 100))
	require.NoError(t, err)
	assert.Equal(t, WalletError, res.Outcome)
	assert.Equal(t, 3001, res.WalletStatus)

	_, err = f.repo.FindReport(ctx, "wager-r1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assertAmount(t, 1000, f.wallet.BalanceOf("p1"))
}

func TestWalletTransportErrorRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.PlaceWager(ctx, wager("r1", 100))
	require.NoError(t, err)

	f.wallet.FailWith(wallet.MethodPayout, errors.New("unavailable"))
	res, err := f.engine.SettlePayout(ctx, wager("r1", 300))
	require.NoError(t, err)
	assert.Equal(t, WalletError, res.Outcome)
	assert.Equal(t, wallet.StatusMissing, res.WalletStatus)

	_, err = f.repo.FindReport(ctx, "payout-r1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	w, err := f.repo.FindReport(ctx, "wager-r1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, w.Status)
}

func TestRejectedCallers(t *testing.T) {
	t.Run("unknown player", func(t *testing.T) {
		f := newFixture(t)
		req := wager("r1", 10)
		req.PlayID = "ghost"
		res, err := f.engine.PlaceWager(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, PlayerNotFound, res.Outcome)
	})

	t.Run("bad secret", func(t *testing.T) {
		f := newFixture(t)
		req := wager("r1", 10)
		req.Authorize = SharedSecret("wrong")
		res, err := f.engine.PlaceWager(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, InvalidSecret, res.Outcome)
		assert.Empty(t, f.wallet.Calls(wallet.MethodBalance))
	})

	t.Run("nil authorizer", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.engine.Balance(context.Background(), "p1", nil)
		require.NoError(t, err)
		assert.Equal(t, InvalidSecret, res.Outcome)
	})

	t.Run("currency without production bundle", func(t *testing.T) {
		f := newFixture(t, func(cfg *Config) {
			cfg.Environment = credentials.EnvProduction
			cfg.Credentials = credentials.Table{Production: map[string]credentials.Bundle{
				"PHP": {Currency: "PHP", CallbackSecret: testSecret},
			}}
		})
		res, err := f.engine.PlaceWager(context.Background(), wager("r1", 10))
		require.NoError(t, err)
		assert.Equal(t, InvalidCurrency, res.Outcome)
	})
}

func TestBonus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := Request{PlayID: "p1", RoundID: "b1", Amount: amt(50), Authorize: auth}
	res, err := f.engine.IssueBonus(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, OK, res.Outcome)
	assertAmount(t, 1050, res.Balance)

	res, err = f.engine.IssueBonus(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, AlreadyExists, res.Outcome)
	assert.Len(t, f.wallet.Calls(wallet.MethodBonus), 1)
}

func TestCancelWager(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.PlaceWager(ctx, wager("r1", 100))
	require.NoError(t, err)

	cancel := CancelRequest{PlayID: "p1", RoundID: "r1", Authorize: auth}
	res, err := f.engine.CancelWager(ctx, cancel)
	require.NoError(t, err)
	assert.Equal(t, OK, res.Outcome)
	assertAmount(t, 1000, res.Balance)

	calls := f.wallet.Calls(wallet.MethodCancel)
	require.Len(t, calls, 1)
	assert.Equal(t, "cancel-r1", calls[0].TransactionID)
	assert.Equal(t, "wager-r1", calls[0].RefID)

	w, err := f.repo.FindReport(ctx, "wager-r1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, w.Status)

	res, err = f.engine.CancelWager(ctx, cancel)
	require.NoError(t, err)
	assert.Equal(t, AlreadyExists, res.Outcome)

	res, err = f.engine.SettlePayout(ctx, wager("r1", 300))
	require.NoError(t, err)
	assert.Equal(t, WagerCancelled, res.Outcome)
	assert.Empty(t, f.wallet.Calls(wallet.MethodPayout))
}

func TestCancelRules(t *testing.T) {
	t.Run("without wager", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.engine.CancelWager(context.Background(), CancelRequest{PlayID: "p1", RoundID: "nope", Authorize: auth})
		require.NoError(t, err)
		assert.Equal(t, TransactionNotFound, res.Outcome)
	})

	t.Run("after payout", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		_, err := f.engine.PlaceWager(ctx, wager("r1", 100))
		require.NoError(t, err)
		_, err = f.engine.SettlePayout(ctx, wager("r1", 30))
		require.NoError(t, err)

		res, err := f.engine.CancelWager(ctx, CancelRequest{PlayID: "p1", RoundID: "r1", Authorize: auth})
		require.NoError(t, err)
		assert.Equal(t, CannotCancel, res.Outcome)
		assert.Empty(t, f.wallet.Calls(wallet.MethodCancel))
	})
}

func TestWagerAndPayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := ComboRequest{PlayID: "p1", RoundID: "t1", Bet: amt(100), Win: amt(30), Authorize: auth}
	res, err := f.engine.WagerAndPayout(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, OK, res.Outcome)
	assertAmount(t, 930, res.Balance)

	res, err = f.engine.WagerAndPayout(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, AlreadyExists, res.Outcome)
	assertAmount(t, 930, res.Balance)
	assert.Len(t, f.wallet.Calls(wallet.MethodWagerAndPayout), 1)

	for _, id := range []string{"wager-t1", "payout-t1"} {
		_, err := f.repo.FindReport(ctx, id)
		assert.NoError(t, err, id)
	}

	// A combined round can only be reversed with AllowSettled, by its net.
	cancel := CancelRequest{PlayID: "p1", RoundID: "t1", Authorize: auth}
	res, err = f.engine.CancelWager(ctx, cancel)
	require.NoError(t, err)
	assert.Equal(t, CannotCancel, res.Outcome)

	cancel.AllowSettled = true
	res, err = f.engine.CancelWager(ctx, cancel)
	require.NoError(t, err)
	assert.Equal(t, OK, res.Outcome)
	assertAmount(t, 1000, res.Balance)
	assertAmount(t, 70, f.wallet.Calls(wallet.MethodCancel)[0].Amount)
}

func TestComboFundsGate(t *testing.T) {
	f := newFixture(t)
	f.wallet.SetBalance("p1", amt(10))

	res, err := f.engine.WagerAndPayout(context.Background(), ComboRequest{PlayID: "p1", RoundID: "t1", Bet: amt(100), Win: amt(500), Authorize: auth})
	require.NoError(t, err)
	assert.Equal(t, InsufficientFunds, res.Outcome)
	assert.Empty(t, f.wallet.Calls(wallet.MethodWagerAndPayout))
}

func TestConversionIsSymmetric(t *testing.T) {
	f := newFixture(t, withConverter(Factor(100)))
	f.wallet.SetBalance("p1", amt(200))
	ctx := context.Background()

	res, err := f.engine.Balance(ctx, "p1", auth)
	require.NoError(t, err)
	assertAmount(t, 2, res.Balance)

	res, err = f.engine.PlaceWager(ctx, wager("r1", 1))
	require.NoError(t, err)
	assert.Equal(t, OK, res.Outcome)
	assertAmount(t, 1, res.Balance)
	assertAmount(t, 100, f.wallet.Calls(wallet.MethodWager)[0].Amount)

	res, err = f.engine.SettlePayout(ctx, wager("r1", 3))
	require.NoError(t, err)
	assertAmount(t, 4, res.Balance)
	assertAmount(t, 300, f.wallet.Calls(wallet.MethodPayout)[0].Amount)
	assertAmount(t, 400, f.wallet.BalanceOf("p1"))
}

// blindRepo never sees existing reports, as if a concurrent request had
// inserted between the pre-read and the insert.
type blindRepo struct {
	repository.Repository
}

func (blindRepo) FindReport(context.Context, string) (*models.Report, error) {
	return nil, repository.ErrNotFound
}

func TestUniqueIndexCatchesRace(t *testing.T) {
	f := newFixture(t, withRepo(func(r repository.Repository) repository.Repository { return blindRepo{r} }))
	ctx := context.Background()

	res, err := f.engine.PlaceWager(ctx, wager("r1", 100))
	require.NoError(t, err)
	require.Equal(t, OK, res.Outcome)

	res, err = f.engine.PlaceWager(ctx, wager("r1", 100))
	require.NoError(t, err)
	assert.Equal(t, AlreadyExists, res.Outcome)
	assert.Len(t, f.wallet.Calls(wallet.MethodWager), 1)
	assertAmount(t, 900, f.wallet.BalanceOf("p1"))
}

// commitFailRepo runs the transaction body and then fails as a commit would.
type commitFailRepo struct {
	repository.Repository
}

func (r commitFailRepo) InTx(ctx context.Context, fn func(tx repository.Repository) error) error {
	return r.Repository.InTx(ctx, func(tx repository.Repository) error {
		if err := fn(tx); err != nil {
			return err
		}
		return errors.New("commit: connection reset")
	})
}

func TestCommitFailureRecordsDivergence(t *testing.T) {
	f := newFixture(t, withRepo(func(r repository.Repository) repository.Repository { return commitFailRepo{r} }))
	ctx := context.Background()

	res, err := f.engine.PlaceWager(ctx, wager("r1", 100))
	require.NoError(t, err)
	assert.Equal(t, OK, res.Outcome)
	assertAmount(t, 900, res.Balance)

	_, err = f.repo.FindReport(ctx, "wager-r1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	var divs []models.Divergence
	require.NoError(t, f.db.Find(&divs).Error)
	require.Len(t, divs, 1)
	assert.Equal(t, "aix", divs[0].Provider)
	assert.Equal(t, "wager-r1", divs[0].TxID)
	assert.Contains(t, divs[0].Reason, "connection reset")
	assert.Contains(t, string(divs[0].Payload), `"tx_id":"wager-r1"`)
	assert.Nil(t, divs[0].ResolvedAt)
}

// racingRepo runs race once, just before the next transaction opens, as if
// another callback for the same round had been handled in between.
type racingRepo struct {
	repository.Repository
	race func()
}

func (r *racingRepo) InTx(ctx context.Context, fn func(tx repository.Repository) error) error {
	if race := r.race; race != nil {
		r.race = nil
		race()
	}
	return r.Repository.InTx(ctx, fn)
}

func TestPayoutBetweenCancelReadAndCommit(t *testing.T) {
	rr := &racingRepo{}
	f := newFixture(t, withRepo(func(r repository.Repository) repository.Repository {
		rr.Repository = r
		return rr
	}))
	ctx := context.Background()

	_, err := f.engine.PlaceWager(ctx, wager("r1", 100))
	require.NoError(t, err)

	rr.race = func() {
		res, err := f.engine.SettlePayout(ctx, wager("r1", 300))
		require.NoError(t, err)
		require.Equal(t, OK, res.Outcome)
	}
	res, err := f.engine.CancelWager(ctx, CancelRequest{PlayID: "p1", RoundID: "r1", Authorize: auth})
	require.NoError(t, err)
	assert.Equal(t, CannotCancel, res.Outcome)

	assert.Empty(t, f.wallet.Calls(wallet.MethodCancel))
	assertAmount(t, 1200, f.wallet.BalanceOf("p1"))

	w, err := f.repo.FindReport(ctx, "wager-r1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSettled, w.Status)
	_, err = f.repo.FindReport(ctx, "cancel-r1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCancelBetweenPayoutReadAndCommit(t *testing.T) {
	rr := &racingRepo{}
	f := newFixture(t, withRepo(func(r repository.Repository) repository.Repository {
		rr.Repository = r
		return rr
	}))
	ctx := context.Background()

	_, err := f.engine.PlaceWager(ctx, wager("r1", 100))
	require.NoError(t, err)

	rr.race = func() {
		res, err := f.engine.CancelWager(ctx, CancelRequest{PlayID: "p1", RoundID: "r1", Authorize: auth})
		require.NoError(t, err)
		require.Equal(t, OK, res.Outcome)
	}
	res, err := f.engine.SettlePayout(ctx, wager("r1", 300))
	require.NoError(t, err)
	assert.Equal(t, WagerCancelled, res.Outcome)

	assert.Empty(t, f.wallet.Calls(wallet.MethodPayout))
	assertAmount(t, 1000, f.wallet.BalanceOf("p1"))
	_, err = f.repo.FindReport(ctx, "payout-r1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRoundOwnedByAnotherPlayer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := repository.New(f.db, "aix").UpsertPlayer(ctx, &models.Player{
		PlayID:   "p2",
		Username: "player two",
		Currency: "IDR",
	})
	require.NoError(t, err)
	f.wallet.SetBalance("p2", decimal.Zero)

	_, err = f.engine.PlaceWager(ctx, wager("r1", 100))
	require.NoError(t, err)

	res, err := f.engine.CancelWager(ctx, CancelRequest{PlayID: "p2", RoundID: "r1", Authorize: auth})
	require.NoError(t, err)
	assert.Equal(t, TransactionNotFound, res.Outcome)

	steal := wager("r1", 500)
	steal.PlayID = "p2"
	res, err = f.engine.SettlePayout(ctx, steal)
	require.NoError(t, err)
	assert.Equal(t, TransactionNotFound, res.Outcome)

	assert.Empty(t, f.wallet.Calls(wallet.MethodCancel))
	assert.Empty(t, f.wallet.Calls(wallet.MethodPayout))
	assertAmount(t, 900, f.wallet.BalanceOf("p1"))
	assertAmount(t, 0, f.wallet.BalanceOf("p2"))

	w, err := f.repo.FindReport(ctx, "wager-r1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, w.Status)
}

func TestCheckPlayer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.CheckPlayer(ctx, "p1", auth)
	require.NoError(t, err)
	assert.Equal(t, OK, res.Outcome)
	require.NotNil(t, res.Player)
	assert.Equal(t, "IDR", res.Player.Currency)

	res, err = f.engine.CheckPlayer(ctx, "ghost", auth)
	require.NoError(t, err)
	assert.Equal(t, PlayerNotFound, res.Outcome)
}

func TestFindByReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := wager("r1", 100)
	req.Reference = "mt-001"
	_, err := f.engine.PlaceWager(ctx, req)
	require.NoError(t, err)

	rep, err := f.engine.FindByReference(ctx, models.KindWager, "mt-001")
	require.NoError(t, err)
	assert.Equal(t, "r1", rep.RoundID)

	_, err = f.engine.FindByReference(ctx, models.KindWager, "mt-404")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

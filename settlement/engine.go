package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"seamless/credentials"
	"seamless/metrics"
	"seamless/models"
	"seamless/repository"
	"seamless/wallet"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type Config struct {
	Environment string
	Credentials credentials.Table
	Repo        repository.Repository
	Wallets     wallet.Connector
	Converter   Converter
	Log         *zap.Logger
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

// Engine applies each provider transaction to the wallet at most once and
// keeps the local report table in step with the wallet ledger.
type Engine struct {
	provider string
	env      string
	creds    credentials.Table
	repo     repository.Repository
	wallets  wallet.Connector
	conv     Converter
	log      *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func New(cfg Config) *Engine {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		provider: cfg.Repo.Provider(),
		env:      cfg.Environment,
		creds:    cfg.Credentials,
		repo:     cfg.Repo,
		wallets:  cfg.Wallets,
		conv:     cfg.Converter,
		log:      log.With(zap.String("provider", cfg.Repo.Provider())),
		metrics:  cfg.Metrics,
		now:      now,
	}
}

// Request describes a single-sided money movement. Amount is in provider
// units.
type Request struct {
	PlayID    string
	RoundID   string
	Amount    decimal.Decimal
	GameCode  string
	Reference string
	EventTime time.Time
	Authorize Authorizer
	Payload   any
}

// ComboRequest is a wager settled in the same call.
type ComboRequest struct {
	PlayID    string
	RoundID   string
	Bet       decimal.Decimal
	Win       decimal.Decimal
	GameCode  string
	Reference string
	EventTime time.Time
	Authorize Authorizer
	Payload   any
}

type CancelRequest struct {
	PlayID    string
	RoundID   string
	Reference string
	Authorize Authorizer
	// AllowSettled lets a cancel reverse a wager that was already paid out.
	// The reversed amount is then bet minus win.
	AllowSettled bool
	Payload      any
}

// session is what every operation resolves before touching money.
type session struct {
	player *models.Player
	bundle credentials.Bundle
	wallet wallet.Client
}

func (e *Engine) Provider() string {
	return e.provider
}

func (e *Engine) Converter() Converter {
	return e.conv
}

// Balance reads the wallet balance of playID in provider units.
func (e *Engine) Balance(ctx context.Context, playID string, auth Authorizer) (Result, error) {
	s, res, err := e.open(ctx, playID, auth)
	if err != nil {
		return Result{}, err
	}
	if s == nil {
		return e.finish("balance", res), nil
	}

	bal, err := s.wallet.Balance(ctx, s.player.PlayID, s.player.Currency)
	if res, failed := e.walletFailed(s, "balance", bal, err); failed {
		return e.finish("balance", res), nil
	}
	return e.finish("balance", Result{
		Outcome: OK,
		Player:  s.player,
		Balance: e.conv.FromWallet(bal.Credit),
	}), nil
}

// CheckPlayer resolves and authorizes playID without touching the wallet.
func (e *Engine) CheckPlayer(ctx context.Context, playID string, auth Authorizer) (Result, error) {
	s, res, err := e.open(ctx, playID, auth)
	if err != nil {
		return Result{}, err
	}
	if s == nil {
		return res, nil
	}
	return Result{Outcome: OK, Player: s.player}, nil
}

// PlaceWager debits the player for round "wager-{RoundID}".
func (e *Engine) PlaceWager(ctx context.Context, req Request) (Result, error) {
	s, res, err := e.open(ctx, req.PlayID, req.Authorize)
	if err != nil {
		return Result{}, err
	}
	if s == nil {
		return e.finish(models.KindWager, res), nil
	}

	txID := models.TxKey(models.KindWager, req.RoundID)
	if exists, err := e.exists(ctx, txID); err != nil {
		return Result{}, err
	} else if exists {
		return e.finish(models.KindWager, e.duplicate(ctx, s, AlreadyExists)), nil
	}

	amount := e.conv.ToWallet(req.Amount)
	if res, ok := e.checkFunds(ctx, s, amount); !ok {
		return e.finish(models.KindWager, res), nil
	}

	rep := e.newReport(s, models.KindWager, req.RoundID, req.GameCode, req.Reference, req.EventTime, req.Payload)
	rep.BetAmount = amount
	rep.Status = models.StatusPending

	res, err = e.apply(ctx, s, []*models.Report{rep}, AlreadyExists, nil, func(ctx context.Context) (wallet.Result, error) {
		return s.wallet.Wager(ctx, wallet.Request{
			PlayID:        s.player.PlayID,
			Currency:      s.player.Currency,
			TransactionID: txID,
			Amount:        amount,
			Report:        walletReport(rep),
		})
	})
	if err != nil {
		return Result{}, err
	}
	return e.finish(models.KindWager, res), nil
}

// SettlePayout credits the win of a previously accepted wager.
func (e *Engine) SettlePayout(ctx context.Context, req Request) (Result, error) {
	s, res, err := e.open(ctx, req.PlayID, req.Authorize)
	if err != nil {
		return Result{}, err
	}
	if s == nil {
		return e.finish(models.KindPayout, res), nil
	}

	wagerID := models.TxKey(models.KindWager, req.RoundID)
	txID := models.TxKey(models.KindPayout, req.RoundID)

	wager, err := e.repo.FindReport(ctx, wagerID)
	if errors.Is(err, repository.ErrNotFound) {
		return e.finish(models.KindPayout, Result{Outcome: TransactionNotFound, Player: s.player}), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("find %s: %w", wagerID, err)
	}
	if wager.PlayerID != s.player.ID {
		return e.finish(models.KindPayout, Result{Outcome: TransactionNotFound, Player: s.player}), nil
	}
	if exists, err := e.exists(ctx, txID); err != nil {
		return Result{}, err
	} else if exists {
		return e.finish(models.KindPayout, e.duplicate(ctx, s, AlreadySettled)), nil
	}
	if wager.Status == models.StatusCancelled {
		return e.finish(models.KindPayout, Result{Outcome: WagerCancelled, Player: s.player, Report: wager}), nil
	}

	amount := e.conv.ToWallet(req.Amount)
	gameCode := req.GameCode
	if gameCode == "" {
		gameCode = wager.GameCode
	}
	rep := e.newReport(s, models.KindPayout, req.RoundID, gameCode, req.Reference, req.EventTime, req.Payload)
	rep.BetAmount = wager.BetAmount
	rep.WinAmount = amount
	rep.Status = models.StatusDone

	settle := func(ctx context.Context, tx repository.Repository) error {
		err := tx.MarkSettled(ctx, wagerID, models.StatusPending, models.StatusSettled, amount)
		var sc *repository.StatusConflict
		if !errors.As(err, &sc) {
			return err
		}
		if sc.Got == models.StatusCancelled {
			return &stateConflict{outcome: WagerCancelled, err: err}
		}
		return &stateConflict{outcome: AlreadySettled, err: err}
	}
	res, err = e.apply(ctx, s, []*models.Report{rep}, AlreadySettled, settle, func(ctx context.Context) (wallet.Result, error) {
		return s.wallet.Payout(ctx, wallet.Request{
			PlayID:        s.player.PlayID,
			Currency:      s.player.Currency,
			TransactionID: txID,
			Amount:        amount,
			Report:        walletReport(rep),
		})
	})
	if err != nil {
		return Result{}, err
	}
	return e.finish(models.KindPayout, res), nil
}

// IssueBonus credits a bonus. No prior wager is needed.
func (e *Engine) IssueBonus(ctx context.Context, req Request) (Result, error) {
	s, res, err := e.open(ctx, req.PlayID, req.Authorize)
	if err != nil {
		return Result{}, err
	}
	if s == nil {
		return e.finish(models.KindBonus, res), nil
	}

	txID := models.TxKey(models.KindBonus, req.RoundID)
	if exists, err := e.exists(ctx, txID); err != nil {
		return Result{}, err
	} else if exists {
		return e.finish(models.KindBonus, e.duplicate(ctx, s, AlreadyExists)), nil
	}

	amount := e.conv.ToWallet(req.Amount)
	rep := e.newReport(s, models.KindBonus, req.RoundID, req.GameCode, req.Reference, req.EventTime, req.Payload)
	rep.WinAmount = amount
	rep.Status = models.StatusDone

	res, err = e.apply(ctx, s, []*models.Report{rep}, AlreadyExists, nil, func(ctx context.Context) (wallet.Result, error) {
		return s.wallet.Bonus(ctx, wallet.Request{
			PlayID:        s.player.PlayID,
			Currency:      s.player.Currency,
			TransactionID: txID,
			Amount:        amount,
			Report:        walletReport(rep),
		})
	})
	if err != nil {
		return Result{}, err
	}
	return e.finish(models.KindBonus, res), nil
}

// CancelWager reverses an accepted wager that has not been paid out.
func (e *Engine) CancelWager(ctx context.Context, req CancelRequest) (Result, error) {
	s, res, err := e.open(ctx, req.PlayID, req.Authorize)
	if err != nil {
		return Result{}, err
	}
	if s == nil {
		return e.finish(models.KindCancel, res), nil
	}

	wagerID := models.TxKey(models.KindWager, req.RoundID)
	txID := models.TxKey(models.KindCancel, req.RoundID)

	wager, err := e.repo.FindReport(ctx, wagerID)
	if errors.Is(err, repository.ErrNotFound) {
		return e.finish(models.KindCancel, Result{Outcome: TransactionNotFound, Player: s.player}), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("find %s: %w", wagerID, err)
	}
	if wager.PlayerID != s.player.ID {
		return e.finish(models.KindCancel, Result{Outcome: TransactionNotFound, Player: s.player}), nil
	}
	if exists, err := e.exists(ctx, txID); err != nil {
		return Result{}, err
	} else if exists {
		return e.finish(models.KindCancel, e.duplicate(ctx, s, AlreadyExists)), nil
	}

	amount := wager.BetAmount
	from := models.StatusPending
	paid, err := e.exists(ctx, models.TxKey(models.KindPayout, req.RoundID))
	if err != nil {
		return Result{}, err
	}
	if paid {
		if !req.AllowSettled {
			return e.finish(models.KindCancel, Result{Outcome: CannotCancel, Player: s.player, Report: wager}), nil
		}
		amount = wager.BetAmount.Sub(wager.WinAmount)
		from = models.StatusSettled
	}

	rep := e.newReport(s, models.KindCancel, req.RoundID, wager.GameCode, req.Reference, e.now(), req.Payload)
	rep.BetAmount = amount
	rep.Status = models.StatusDone

	markCancelled := func(ctx context.Context, tx repository.Repository) error {
		err := tx.MarkSettled(ctx, wagerID, from, models.StatusCancelled, wager.WinAmount)
		var sc *repository.StatusConflict
		if !errors.As(err, &sc) {
			return err
		}
		if sc.Got == models.StatusCancelled {
			return &stateConflict{outcome: AlreadyExists, err: err}
		}
		return &stateConflict{outcome: CannotCancel, err: err}
	}
	res, err = e.apply(ctx, s, []*models.Report{rep}, AlreadyExists, markCancelled, func(ctx context.Context) (wallet.Result, error) {
		return s.wallet.Cancel(ctx, wallet.CancelRequest{
			PlayID:           s.player.PlayID,
			Currency:         s.player.Currency,
			TransactionID:    txID,
			Amount:           amount,
			RefTransactionID: wagerID,
		})
	})
	if err != nil {
		return Result{}, err
	}
	return e.finish(models.KindCancel, res), nil
}

// WagerAndPayout records a wager and its payout in one wallet call.
func (e *Engine) WagerAndPayout(ctx context.Context, req ComboRequest) (Result, error) {
	s, res, err := e.open(ctx, req.PlayID, req.Authorize)
	if err != nil {
		return Result{}, err
	}
	if s == nil {
		return e.finish(models.KindWager, res), nil
	}

	wagerID := models.TxKey(models.KindWager, req.RoundID)
	if exists, err := e.exists(ctx, wagerID); err != nil {
		return Result{}, err
	} else if exists {
		return e.finish(models.KindWager, e.duplicate(ctx, s, AlreadyExists)), nil
	}

	bet := e.conv.ToWallet(req.Bet)
	win := e.conv.ToWallet(req.Win)
	if res, ok := e.checkFunds(ctx, s, bet); !ok {
		return e.finish(models.KindWager, res), nil
	}

	wager := e.newReport(s, models.KindWager, req.RoundID, req.GameCode, req.Reference, req.EventTime, req.Payload)
	wager.BetAmount = bet
	wager.WinAmount = win
	wager.Status = models.StatusSettled

	payout := e.newReport(s, models.KindPayout, req.RoundID, req.GameCode, req.Reference, req.EventTime, nil)
	payout.BetAmount = bet
	payout.WinAmount = win
	payout.Status = models.StatusDone

	res, err = e.apply(ctx, s, []*models.Report{wager, payout}, AlreadyExists, nil, func(ctx context.Context) (wallet.Result, error) {
		return s.wallet.WagerAndPayout(ctx, wallet.PayoutRequest{
			PlayID:        s.player.PlayID,
			Currency:      s.player.Currency,
			TransactionID: wagerID,
			BetAmount:     bet,
			WinAmount:     win,
			Report:        walletReport(wager),
		})
	})
	if err != nil {
		return Result{}, err
	}
	return e.finish(models.KindWager, res), nil
}

// FindByReference returns the report of kind carrying the provider reference.
func (e *Engine) FindByReference(ctx context.Context, kind, reference string) (*models.Report, error) {
	return e.repo.FindReportByReference(ctx, kind, reference)
}

// open resolves the player, its credentials and its wallet client. A nil
// session with a nil error means res holds the rejection.
func (e *Engine) open(ctx context.Context, playID string, auth Authorizer) (*session, Result, error) {
	player, err := e.repo.FindPlayer(ctx, playID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, Result{Outcome: PlayerNotFound}, nil
	}
	if err != nil {
		return nil, Result{}, fmt.Errorf("find player %s: %w", playID, err)
	}

	bundle, err := e.creds.Resolve(e.env, player.Currency)
	if errors.Is(err, credentials.ErrInvalidCurrency) {
		return nil, Result{Outcome: InvalidCurrency, Player: player}, nil
	}
	if err != nil {
		return nil, Result{}, err
	}

	if auth == nil || !auth(player, bundle) {
		return nil, Result{Outcome: InvalidSecret, Player: player}, nil
	}

	client, err := e.wallets.Client(bundle)
	if err != nil {
		return nil, Result{}, fmt.Errorf("wallet client for %s: %w", bundle.Currency, err)
	}
	return &session{player: player, bundle: bundle, wallet: client}, Result{}, nil
}

func (e *Engine) exists(ctx context.Context, txID string) (bool, error) {
	_, err := e.repo.FindReport(ctx, txID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, repository.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("find %s: %w", txID, err)
	}
}

// duplicate answers a replayed callback with the current balance when the
// wallet can give it.
func (e *Engine) duplicate(ctx context.Context, s *session, o Outcome) Result {
	res := Result{Outcome: o, Player: s.player}
	bal, err := s.wallet.Balance(ctx, s.player.PlayID, s.player.Currency)
	if err != nil || !bal.OK() {
		e.log.Warn("balance unavailable for duplicate", zap.String("play_id", s.player.PlayID), zap.Error(err))
		return res
	}
	res.Balance = e.conv.FromWallet(bal.Credit)
	return res
}

func (e *Engine) checkFunds(ctx context.Context, s *session, amount decimal.Decimal) (Result, bool) {
	bal, err := s.wallet.Balance(ctx, s.player.PlayID, s.player.Currency)
	if res, failed := e.walletFailed(s, "balance", bal, err); failed {
		return res, false
	}
	if bal.Credit.LessThan(amount) {
		return Result{
			Outcome: InsufficientFunds,
			Player:  s.player,
			Balance: e.conv.FromWallet(bal.Credit),
		}, false
	}
	return Result{}, true
}

func (e *Engine) walletFailed(s *session, op string, res wallet.Result, err error) (Result, bool) {
	if err != nil {
		e.log.Error("wallet call failed", zap.String("op", op), zap.String("play_id", s.player.PlayID), zap.Error(err))
		return Result{Outcome: WalletError, Player: s.player, WalletStatus: wallet.StatusMissing}, true
	}
	if !res.OK() {
		e.metrics.ObserveWalletStatus(op, strconv.Itoa(res.Status))
		e.log.Warn("wallet rejected call", zap.String("op", op), zap.String("play_id", s.player.PlayID), zap.Int("status", res.Status))
		return Result{Outcome: WalletError, Player: s.player, WalletStatus: res.Status}, true
	}
	return Result{}, false
}

type walletRejection struct {
	status int
	err    error
}

func (w *walletRejection) Error() string {
	if w.err != nil {
		return w.err.Error()
	}
	return fmt.Sprintf("wallet status %d", w.status)
}

// stateConflict aborts a transaction whose wager moved to another status
// after it was read.
type stateConflict struct {
	outcome Outcome
	err     error
}

func (c *stateConflict) Error() string { return c.err.Error() }

func (c *stateConflict) Unwrap() error { return c.err }

// apply inserts reps, runs extra and then call inside one database
// transaction. Any wallet answer other than success rolls the inserts back.
// A unique violation on insert is reported as dup.
func (e *Engine) apply(
	ctx context.Context,
	s *session,
	reps []*models.Report,
	dup Outcome,
	extra func(context.Context, repository.Repository) error,
	call func(context.Context) (wallet.Result, error),
) (Result, error) {
	var (
		accepted bool
		credit   decimal.Decimal
	)

	err := e.repo.InTx(ctx, func(tx repository.Repository) error {
		for _, rep := range reps {
			if err := tx.InsertReport(ctx, rep); err != nil {
				return err
			}
		}
		if extra != nil {
			if err := extra(ctx, tx); err != nil {
				return err
			}
		}

		res, err := call(ctx)
		if err != nil {
			return &walletRejection{status: wallet.StatusMissing, err: err}
		}
		if !res.OK() {
			return &walletRejection{status: res.Status, err: res.Err()}
		}
		accepted = true
		credit = res.Credit
		return nil
	})

	var (
		rej *walletRejection
		sc  *stateConflict
	)
	switch {
	case err == nil:
		e.log.Info("transaction applied",
			zap.String("tx_id", reps[0].TxID),
			zap.String("play_id", s.player.PlayID),
			zap.String("credit_after", credit.String()),
		)
		return Result{Outcome: OK, Player: s.player, Report: reps[0], Balance: e.conv.FromWallet(credit)}, nil
	case accepted:
		return e.diverged(ctx, s, reps, credit, err)
	case errors.As(err, &rej):
		e.metrics.ObserveWalletStatus(reps[0].Kind, strconv.Itoa(rej.status))
		e.log.Warn("wallet rejected transaction, rolled back",
			zap.String("tx_id", reps[0].TxID),
			zap.Int("status", rej.status),
			zap.NamedError("cause", rej.err),
		)
		return Result{Outcome: WalletError, Player: s.player, WalletStatus: rej.status}, nil
	case errors.As(err, &sc):
		e.log.Info("wager status changed, rolled back",
			zap.String("tx_id", reps[0].TxID),
			zap.String("outcome", sc.outcome.String()),
		)
		if sc.outcome.Duplicate() {
			return e.duplicate(ctx, s, sc.outcome), nil
		}
		return Result{Outcome: sc.outcome, Player: s.player}, nil
	case repository.IsUniqueViolation(err):
		return e.duplicate(ctx, s, dup), nil
	default:
		return Result{}, fmt.Errorf("apply %s: %w", reps[0].TxID, err)
	}
}

// diverged handles a wallet that accepted while the local commit failed.
// The reports are parked as a Divergence for the reconciler and the caller
// is told the transaction succeeded, because the money did move.
func (e *Engine) diverged(ctx context.Context, s *session, reps []*models.Report, credit decimal.Decimal, cause error) (Result, error) {
	e.metrics.ObserveDivergence(e.provider)
	e.log.Error("wallet accepted but local commit failed",
		zap.String("tx_id", reps[0].TxID),
		zap.String("play_id", s.player.PlayID),
		zap.Error(cause),
	)

	payload, err := json.Marshal(reps)
	if err != nil {
		return Result{}, fmt.Errorf("encode divergence %s: %w", reps[0].TxID, err)
	}
	d := &models.Divergence{
		TxID:    reps[0].TxID,
		Reason:  truncate(cause.Error(), 255),
		Payload: datatypes.JSON(payload),
	}
	if err := e.repo.RecordDivergence(context.WithoutCancel(ctx), d); err != nil {
		return Result{}, fmt.Errorf("record divergence %s: %w (commit: %v)", reps[0].TxID, err, cause)
	}
	return Result{Outcome: OK, Player: s.player, Report: reps[0], Balance: e.conv.FromWallet(credit)}, nil
}

func (e *Engine) newReport(s *session, kind, roundID, gameCode, reference string, at time.Time, payload any) *models.Report {
	if at.IsZero() {
		at = e.now()
	}
	rep := &models.Report{
		Provider:  e.provider,
		TxID:      models.TxKey(kind, roundID),
		RoundID:   roundID,
		Kind:      kind,
		PlayerID:  s.player.ID,
		PlayID:    s.player.PlayID,
		Currency:  s.player.Currency,
		GameCode:  gameCode,
		Reference: reference,
		EventTime: at.UTC(),
	}
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			rep.Payload = datatypes.JSON(b)
		}
	}
	return rep
}

func (e *Engine) finish(op string, res Result) Result {
	e.metrics.ObserveSettlement(e.provider, op, res.Outcome.String())
	return res
}

func walletReport(r *models.Report) wallet.Report {
	return wallet.Report{
		Provider:  r.Provider,
		RoundID:   r.RoundID,
		GameCode:  r.GameCode,
		BetAmount: r.BetAmount,
		WinAmount: r.WinAmount,
		EventTime: r.EventTime,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

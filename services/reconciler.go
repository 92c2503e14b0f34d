package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"seamless/metrics"
	"seamless/models"
	"seamless/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	reconcileBatch       = 100
	reconcileMaxAttempts = 10
)

// Reconciler replays divergences: transactions the wallet accepted whose
// local commit failed. Replay is insert-or-ignore so each report lands once.
type Reconciler struct {
	db          *gorm.DB
	divergences *repository.Divergences
	metrics     *metrics.Metrics
	log         *zap.Logger
	now         func() time.Time
}

func NewReconciler(db *gorm.DB, m *metrics.Metrics, log *zap.Logger) *Reconciler {
	return &Reconciler{
		db:          db,
		divergences: repository.NewDivergences(db),
		metrics:     m,
		log:         log,
		now:         time.Now,
	}
}

// Run replays one batch of pending divergences and returns how many were
// resolved.
func (r *Reconciler) Run(ctx context.Context) (int, error) {
	pending, err := r.divergences.Pending(ctx, reconcileBatch, reconcileMaxAttempts)
	if err != nil {
		r.metrics.ObserveReconcile(0, err)
		return 0, fmt.Errorf("load divergences: %w", err)
	}

	resolved := 0
	for _, d := range pending {
		if err := r.replay(ctx, d); err != nil {
			r.log.Warn("[Reconcile] replay failed",
				zap.Uint("divergence_id", d.ID),
				zap.String("provider", d.Provider),
				zap.String("tx_id", d.TxID),
				zap.Error(err),
			)
			if ferr := r.divergences.Fail(ctx, d.ID, truncate(err.Error(), 255)); ferr != nil {
				r.metrics.ObserveReconcile(resolved, ferr)
				return resolved, ferr
			}
			continue
		}
		if err := r.divergences.Resolve(ctx, d.ID, r.now().UTC()); err != nil {
			r.metrics.ObserveReconcile(resolved, err)
			return resolved, err
		}
		resolved++
	}

	if resolved > 0 {
		r.log.Info("[Reconcile] divergences resolved", zap.Int("count", resolved), zap.Int("pending", len(pending)))
	}
	r.metrics.ObserveReconcile(resolved, nil)
	return resolved, nil
}

// replay restores the reports of d and the wager state change that went
// with them.
func (r *Reconciler) replay(ctx context.Context, d models.Divergence) error {
	var reps []models.Report
	if err := json.Unmarshal(d.Payload, &reps); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if len(reps) == 0 {
		return errors.New("empty payload")
	}

	repo := repository.New(r.db, d.Provider)
	return repo.InTx(ctx, func(tx repository.Repository) error {
		for i := range reps {
			rep := &reps[i]
			if _, err := tx.RestoreReport(ctx, rep); err != nil {
				return fmt.Errorf("restore %s: %w", rep.TxID, err)
			}
			if err := settleWager(ctx, tx, rep); err != nil {
				return err
			}
		}
		return nil
	})
}

func settleWager(ctx context.Context, tx repository.Repository, rep *models.Report) error {
	var status string
	switch rep.Kind {
	case models.KindPayout:
		status = models.StatusSettled
	case models.KindCancel:
		status = models.StatusCancelled
	default:
		return nil
	}

	wagerID := models.TxKey(models.KindWager, rep.RoundID)
	wager, err := tx.FindReport(ctx, wagerID)
	if err != nil {
		return fmt.Errorf("find %s: %w", wagerID, err)
	}
	win := rep.WinAmount
	if rep.Kind == models.KindCancel {
		win = wager.WinAmount
	}
	return tx.MarkSettled(ctx, wagerID, "", status, win)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

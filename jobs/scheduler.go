package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Reconciler interface {
	Run(ctx context.Context) (int, error)
}

type SessionCleaner interface {
	Cleanup(ctx context.Context, maxAge time.Duration) (int64, error)
}

type Config struct {
	ReconcileInterval      time.Duration
	SessionCleanupInterval time.Duration
	SessionMaxAge          time.Duration
}

// StartScheduler runs the background tickers until ctx is done. Sessions is
// optional. The returned WaitGroup is released once every ticker stopped.
func StartScheduler(ctx context.Context, cfg Config, reconciler Reconciler, sessions SessionCleaner, log *zap.Logger) *sync.WaitGroup {
	var wg sync.WaitGroup

	every(ctx, &wg, cfg.ReconcileInterval, func() {
		if _, err := reconciler.Run(ctx); err != nil {
			log.Error("[Jobs] reconcile failed", zap.Error(err))
		}
	})

	if sessions != nil {
		every(ctx, &wg, cfg.SessionCleanupInterval, func() {
			n, err := sessions.Cleanup(ctx, cfg.SessionMaxAge)
			if err != nil {
				log.Error("[Jobs] session cleanup failed", zap.Error(err))
				return
			}
			if n > 0 {
				log.Info("[Jobs] expired sessions deleted", zap.Int64("count", n))
			}
		})
	}

	return &wg
}

func every(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

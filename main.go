package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"seamless/config"
	aixcallback "seamless/controllers/callback/aix"
	cq9callback "seamless/controllers/callback/cq9"
	gs5callback "seamless/controllers/callback/gs5"
	jdbcallback "seamless/controllers/callback/jdb"
	"seamless/controllers/integrator"
	"seamless/credentials"
	"seamless/database"
	"seamless/jobs"
	"seamless/logger"
	"seamless/metrics"
	"seamless/providers"
	"seamless/providers/aix"
	"seamless/providers/cq9"
	"seamless/providers/gs5"
	"seamless/providers/jdb"
	"seamless/repository"
	"seamless/routes"
	"seamless/services"
	"seamless/session"
	"seamless/settlement"
	"seamless/wallet"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zl.Sync()
	zap.ReplaceGlobals(zl)

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server stopped", zap.Error(err))
	}
	zl.Info("Server exited cleanly")
}

func run(cfg *config.Config, zl *zap.Logger) error {
	db, err := database.Connect(cfg.DB, zl)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	wallets := wallet.NewPool(zl.Named("wallet"), m, cfg.WalletTimeout)
	defer wallets.Close()

	sessions, cleaner, closeSessions := newSessionStore(cfg, db, zl)
	defer closeSessions()

	env := cfg.AppEnv
	api := providers.NewAPI(cfg.ProviderTimeout, zl.Named("api"))
	registry := providers.NewRegistry()

	build := func(name string, load func() (credentials.Table, error), conv settlement.Converter, launcher providers.Launcher) (*settlement.Engine, credentials.Table, error) {
		table, err := load()
		if err != nil {
			return nil, credentials.Table{}, err
		}
		repo := repository.New(db, name)
		registry.RegisterProvider(providers.Module{
			Name:        name,
			Credentials: table,
			Repo:        repo,
			Launcher:    launcher,
		})
		engine := settlement.New(settlement.Config{
			Environment: env,
			Credentials: table,
			Repo:        repo,
			Wallets:     wallets,
			Converter:   conv,
			Log:         zl.Named("settlement"),
			Metrics:     m,
		})
		return engine, table, nil
	}

	aixEngine, _, err := build(aix.Name, aix.LoadCredentials, settlement.Converter{}, aix.NewLauncher(api))
	if err != nil {
		return err
	}
	gs5Engine, _, err := build(gs5.Name, gs5.LoadCredentials, gs5.Converter, gs5.NewLauncher(sessions))
	if err != nil {
		return err
	}
	cq9Engine, _, err := build(cq9.Name, cq9.LoadCredentials, settlement.Converter{}, cq9.NewLauncher(api))
	if err != nil {
		return err
	}
	jdbEngine, jdbTable, err := build(jdb.Name, jdb.LoadCredentials, settlement.Converter{}, jdb.NewLauncher(api))
	if err != nil {
		return err
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: cfg.IsProduction()})
	routes.Setup(app, routes.Deps{
		IntegratorToken: cfg.IntegratorToken,
		Log:             zl.Named("http"),
		Gatherer:        reg,
		Integrator:      integrator.New(registry, env, zl.Named("integrator")),
		Aix:             aixcallback.New(aixEngine, zl),
		Gs5:             gs5callback.New(gs5Engine, sessions, cfg.Gs5RefundDelay, zl),
		Cq9:             cq9callback.New(cq9Engine, zl),
		Jdb:             jdbcallback.New(jdbEngine, jdbTable, env, zl),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wg := jobs.StartScheduler(ctx, jobs.Config{
		ReconcileInterval:      cfg.ReconcileInterval,
		SessionCleanupInterval: cfg.SessionCleanupInterval,
		SessionMaxAge:          cfg.SessionMaxAge,
	}, services.NewReconciler(db, m, zl.Named("reconcile")), cleaner, zl.Named("jobs"))

	errc := make(chan error, 1)
	go func() {
		zl.Info("Server running", zap.String("addr", cfg.Addr()), zap.String("env", env))
		errc <- app.Listen(cfg.Addr())
	}()

	select {
	case err := <-errc:
		stop()
		wg.Wait()
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	zl.Info("Gracefully shutting down...")
	if err := app.Shutdown(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	wg.Wait()
	return nil
}

// newSessionStore prefers Redis and falls back to the database. The cleaner
// is nil for Redis, whose keys expire on their own.
func newSessionStore(cfg *config.Config, db *gorm.DB, zl *zap.Logger) (session.Store, jobs.SessionCleaner, func()) {
	if cfg.Redis.Addr == "" {
		zl.Info("session store: database")
		store := session.NewGormStore(db)
		return store, store, func() {}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	zl.Info("session store: redis", zap.String("addr", cfg.Redis.Addr))
	return session.NewRedisStore(rdb), nil, func() {
		if err := rdb.Close(); err != nil {
			zl.Warn("close redis", zap.Error(err))
		}
	}
}

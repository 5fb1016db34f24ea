package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mvrodrig/tillsync/api/routes"
	"github.com/mvrodrig/tillsync/internal/diagnostics"
	"github.com/mvrodrig/tillsync/internal/payments"
	"github.com/mvrodrig/tillsync/internal/snapshots"
	"github.com/mvrodrig/tillsync/internal/syncengine"
	"github.com/mvrodrig/tillsync/internal/terminal"
	"github.com/mvrodrig/tillsync/pkg/config"
	"github.com/mvrodrig/tillsync/pkg/db"
	"github.com/mvrodrig/tillsync/pkg/logger"
	"github.com/mvrodrig/tillsync/pkg/migrate"
	"github.com/mvrodrig/tillsync/pkg/remote"
)

const httpShutdownTimeout = 10 * time.Second

// tillsyncd runs the whole terminal daemon in one process: the local HTTP
// surface and the sync engine share one store and one in-process
// single-flight guard, so no two submissions for the same intent can ever
// race across processes.
func main() {
	logg := logger.New(logger.Options{ServiceName: "tillsyncd"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "tillsyncd",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.Open(context.Background(), cfg.Store, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to open record store", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing record store", err)
		}
	}()

	if err := migrate.MaybeRun(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run migrations", err)
		os.Exit(1)
	}

	terminalSvc, err := terminal.NewService(dbClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create terminal service", err)
		os.Exit(1)
	}

	paymentsRepo := payments.NewRepository(dbClient)
	queueSvc, err := payments.NewService(payments.ServiceParams{
		Logger:   logg,
		Repo:     paymentsRepo,
		Terminal: terminalSvc,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment queue", err)
		os.Exit(1)
	}

	remoteClient, err := remote.NewClient(cfg.Remote, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create remote client", err)
		os.Exit(1)
	}

	engine, err := syncengine.NewService(syncengine.ServiceParams{
		Config: cfg,
		Logger: logg,
		Repo:   paymentsRepo,
		Remote: remoteClient,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create sync engine", err)
		os.Exit(1)
	}

	diagSvc, err := diagnostics.NewService(dbClient, paymentsRepo, terminalSvc, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create diagnostics service", err)
		os.Exit(1)
	}

	snapshotSvc, err := snapshots.NewService(dbClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create snapshot cache", err)
		os.Exit(1)
	}

	terminalID, err := terminalSvc.EnsureID(context.Background())
	if err != nil {
		logg.Error(context.Background(), "failed to ensure terminal identity", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"terminal_id": terminalID,
		"durable":     dbClient.Durable(),
	})

	server := &http.Server{
		Addr: ":" + cfg.App.Port,
		Handler: routes.NewRouter(cfg, logg, dbClient,
			queueSvc, engine, diagSvc, snapshotSvc),
	}

	engineDone := make(chan error, 1)
	go func() {
		engineDone <- engine.Run(ctx)
	}()

	serverDone := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting tillsync daemon")
		serverDone <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-serverDone:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
		}
	case err := <-engineDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(ctx, "sync engine stopped unexpectedly", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "error shutting down api server", err)
	}

	logg.Info(ctx, "tillsync daemon shutting down gracefully")
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/iago/meetiq-back/internal/app"
	"github.com/iago/meetiq-back/internal/config"
)

// The standalone worker shares the job store with the API, so it refuses to
// start on the in-memory repository.
func main() {
	dotEnvErr := config.LoadDotEnv(".env", ".env.local")
	cfg := config.Load()
	logger := app.NewLogger(nil, cfg.LogLevel, "meetiq-worker")
	if dotEnvErr != nil {
		logger.Warn().Err(dotEnvErr).Msg("failed loading .env files")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := app.OpenRepository(ctx, cfg, true, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("repository setup failed")
	}
	defer closeRepo()

	bus, closeBus := app.OpenBus(ctx, cfg, logger)
	defer closeBus()

	store, err := app.OpenObjectStore(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("object store setup failed")
	}

	client, err := app.NewTextGenerator(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("provider setup failed")
	}
	if !client.Available() {
		logger.Warn().Str("provider", cfg.Provider).Msg("provider API key missing, jobs will fail at extract")
	}

	workers := app.NewWorkers(cfg, app.WorkerDependencies{
		Repo:    repo,
		Store:   store,
		Wakeups: bus,
		Client:  client,
		Logger:  logger,
	})

	group, groupCtx := errgroup.WithContext(ctx)
	for _, w := range workers {
		w := w
		group.Go(func() error { return w.Run(groupCtx) })
	}
	logger.Info().Int("workers", len(workers)).Msg("workers started")

	if err := group.Wait(); err != nil {
		logger.Error().Err(err).Msg("workers stopped with error")
		closeBus()
		closeRepo()
		os.Exit(1)
	}
	logger.Info().Msg("workers stopped")
}

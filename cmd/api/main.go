package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iago/meetiq-back/internal/app"
	"github.com/iago/meetiq-back/internal/config"
	httpserver "github.com/iago/meetiq-back/internal/http"
	"github.com/iago/meetiq-back/internal/http/handlers"
	"github.com/iago/meetiq-back/internal/service"
)

func main() {
	dotEnvErr := config.LoadDotEnv(".env", ".env.local")
	cfg := config.Load()
	logger := app.NewLogger(nil, cfg.LogLevel, "meetiq-api")
	if dotEnvErr != nil {
		logger.Warn().Err(dotEnvErr).Msg("failed loading .env files")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := app.OpenRepository(ctx, cfg, false, logger)
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

	jobsService := service.NewJobsService(repo, bus, service.JobsServiceConfig{
		MaxTranscriptBytes: cfg.MaxTranscriptBytes,
		Logger:             logger,
	})
	api := handlers.NewAPI(jobsService, logger)

	routerDeps := httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	}
	if store != nil {
		routerDeps.Objects = store
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpserver.NewRouter(routerDeps),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	if cfg.WorkerEnabled {
		client, err := app.NewTextGenerator(cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("provider setup failed")
		}
		workers := app.NewWorkers(cfg, app.WorkerDependencies{
			Repo:    repo,
			Store:   store,
			Wakeups: bus,
			Client:  client,
			Logger:  logger,
		})
		for _, w := range workers {
			w := w
			group.Go(func() error { return w.Run(groupCtx) })
		}
		logger.Info().Int("workers", len(workers)).Msg("embedded workers started")
	} else {
		logger.Info().Msg("embedded workers disabled by configuration")
	}

	group.Go(func() error {
		logger.Info().Str("addr", server.Addr).Msg("api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		logger.Error().Err(err).Msg("api stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("api stopped")
}

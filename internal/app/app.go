// Package app wires configuration into the concrete stores, buses, provider
// adapters and workers shared by the api and worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/iago/meetiq-back/internal/ai"
	"github.com/iago/meetiq-back/internal/config"
	"github.com/iago/meetiq-back/internal/pipeline"
	"github.com/iago/meetiq-back/internal/quality"
	"github.com/iago/meetiq-back/internal/queue"
	"github.com/iago/meetiq-back/internal/repository"
	"github.com/iago/meetiq-back/internal/storage"
	"github.com/iago/meetiq-back/internal/worker"
)

var ErrDatabaseRequired = errors.New("DATABASE_URL is required")

// NewLogger builds the process logger. Console output is used when w is a
// terminal-like writer; tests pass a buffer.
func NewLogger(w io.Writer, level, service string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	if w == nil {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(parsed).With().Timestamp().Str("service", service).Logger()
}

// OpenRepository returns the Postgres store when DATABASE_URL is set, applying
// pending migrations first. Without it the in-memory store is used unless
// requireDatabase is set.
func OpenRepository(
	ctx context.Context,
	cfg config.Config,
	requireDatabase bool,
	logger zerolog.Logger,
) (repository.JobsRepository, func(), error) {
	if cfg.DatabaseURL == "" {
		if requireDatabase {
			return nil, nil, ErrDatabaseRequired
		}
		logger.Warn().Msg("DATABASE_URL not configured, using in-memory repository")
		return repository.NewMemoryJobsRepository(), func() {}, nil
	}

	pgRepo, err := repository.NewPostgresJobsRepository(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := repository.Migrate(ctx, pgRepo.Pool(), logger); err != nil {
		pgRepo.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info().Msg("postgres repository initialized")
	return pgRepo, pgRepo.Close, nil
}

// OpenBus returns the Redis wake-up bus when REDIS_ADDR is set and a local
// in-process bus otherwise. A Redis failure degrades to local delivery since
// workers still poll the store.
func OpenBus(ctx context.Context, cfg config.Config, logger zerolog.Logger) (queue.Bus, func()) {
	if cfg.RedisAddr == "" {
		logger.Info().Msg("REDIS_ADDR not configured, using local wake-up bus")
		return queue.NewLocalBus(64), func() {}
	}

	bus, err := queue.NewRedisBus(ctx, queue.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Channel:  cfg.RedisChannel,
		Logger:   logger,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("redis wake-up bus unavailable, using local bus")
		return queue.NewLocalBus(64), func() {}
	}
	logger.Info().Str("channel", cfg.RedisChannel).Msg("redis wake-up bus initialized")
	return bus, func() { _ = bus.Close() }
}

// OpenObjectStore returns nil when no STORAGE_SECRET is configured; audio jobs
// then fail with DownloadFailure.
func OpenObjectStore(cfg config.Config, logger zerolog.Logger) (*storage.LocalStore, error) {
	if strings.TrimSpace(cfg.StorageSecret) == "" {
		logger.Warn().Msg("STORAGE_SECRET not configured, audio inputs disabled")
		return nil, nil
	}
	store, err := storage.NewLocalStore(storage.LocalStoreConfig{
		Root:    cfg.StorageDir,
		BaseURL: cfg.PublicBaseURL,
		Secret:  cfg.StorageSecret,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open object store: %w", err)
	}
	return store, nil
}

// NewTextGenerator picks the completion adapter named by AI_PROVIDER.
func NewTextGenerator(cfg config.Config) (ai.TextGenerator, error) {
	switch cfg.Provider {
	case "", "openai":
		return ai.NewOpenAIClient(ai.OpenAIClientConfig{
			APIKey:            cfg.OpenAIAPIKey,
			BaseURL:           cfg.OpenAIBaseURL,
			Timeout:           time.Duration(cfg.OpenAITimeoutMS) * time.Millisecond,
			MaxRetries:        cfg.OpenAIMaxRetries,
			RequestsPerSecond: cfg.AIRPS,
		}), nil
	case "openrouter":
		return ai.NewOpenRouterClient(ai.OpenRouterClientConfig{
			APIKey:            cfg.OpenRouterAPIKey,
			BaseURL:           cfg.OpenRouterBaseURL,
			Timeout:           time.Duration(cfg.OpenRouterTimeoutMS) * time.Millisecond,
			MaxRetries:        cfg.OpenRouterMaxRetries,
			SiteURL:           cfg.OpenRouterSiteURL,
			AppName:           cfg.OpenRouterAppName,
			RequestsPerSecond: cfg.AIRPS,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported AI_PROVIDER %q", cfg.Provider)
	}
}

type WorkerDependencies struct {
	Repo    repository.JobsRepository
	Store   *storage.LocalStore
	Wakeups queue.Subscriber
	Client  ai.TextGenerator
	Logger  zerolog.Logger
}

// NewWorkers builds cfg.WorkerCount workers sharing one pipeline, validator
// and repairer. Each worker gets its own wake-up subscription when it runs.
func NewWorkers(cfg config.Config, deps WorkerDependencies) []*worker.Worker {
	router := ai.NewModelRouter(ai.ModelRouterConfig{
		ExtractPrimary:  cfg.ModelExtractPrimary,
		ExtractFallback: cfg.ModelExtractFallback,
		WritePrimary:    cfg.ModelWritePrimary,
		WriteFallback:   cfg.ModelWriteFallback,
		RepairPrimary:   cfg.ModelRepairPrimary,
		RepairFallback:  cfg.ModelRepairFallback,
	})
	validator := quality.NewSchemaValidator(quality.Options{AllowUnknownKeys: cfg.SchemaAllowUnknownKeys})
	orchestrator := pipeline.NewOrchestrator(pipeline.Dependencies{
		Client: deps.Client,
		Router: router,
		Logger: deps.Logger,
	})
	repairer := pipeline.NewRepairer(pipeline.RepairerDependencies{
		Client:    deps.Client,
		Router:    router,
		Validator: validator,
		Policy:    pipeline.RetryPolicy{MaxAttempts: cfg.RepairMaxAttempts},
		Logger:    deps.Logger,
	})
	transcriber := ai.NewOpenAITranscriber(ai.OpenAITranscriberConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.ModelTranscribe,
	})

	var store storage.ObjectStore
	if deps.Store != nil {
		store = deps.Store
	}

	count := cfg.WorkerCount
	if count <= 0 {
		count = 1
	}
	workers := make([]*worker.Worker, 0, count)
	for i := 0; i < count; i++ {
		workers = append(workers, worker.New(worker.Config{
			PollInterval: cfg.PollInterval(),
			ErrorBackoff: cfg.ErrorBackoff(),
			StaleAfter:   cfg.StaleAfter(),
			ReapInterval: cfg.ReapInterval(),
			SignedURLTTL: cfg.SignedURLTTL(),
			TempDir:      cfg.TempDir,
		}, worker.Dependencies{
			Repo:        deps.Repo,
			Pipeline:    orchestrator,
			Validator:   validator,
			Repairer:    repairer,
			Store:       store,
			Transcriber: transcriber,
			Wakeups:     deps.Wakeups,
			Logger:      deps.Logger.With().Int("worker", i+1).Logger(),
		}))
	}
	return workers
}

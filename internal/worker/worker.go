package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iago/meetiq-back/internal/ai"
	"github.com/iago/meetiq-back/internal/domain"
	"github.com/iago/meetiq-back/internal/pipeline"
	"github.com/iago/meetiq-back/internal/policy"
	"github.com/iago/meetiq-back/internal/quality"
	"github.com/iago/meetiq-back/internal/queue"
	"github.com/iago/meetiq-back/internal/repository"
	"github.com/iago/meetiq-back/internal/storage"
)

const defaultMeetingTitle = "Meeting Summary"

type Config struct {
	PollInterval time.Duration
	ErrorBackoff time.Duration
	StaleAfter   time.Duration
	ReapInterval time.Duration
	SignedURLTTL time.Duration
	TempDir      string
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 1500 * time.Millisecond
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 2 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 15 * time.Minute
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = time.Minute
	}
	if c.SignedURLTTL <= 0 {
		c.SignedURLTTL = 10 * time.Minute
	}
	if strings.TrimSpace(c.TempDir) == "" {
		c.TempDir = os.TempDir()
	}
	return c
}

type Drafter interface {
	Run(ctx context.Context, transcript string) (pipeline.Draft, error)
}

type Repairer interface {
	Repair(ctx context.Context, document []byte, violations []quality.Violation) (domain.PipelineResult, error)
}

type Dependencies struct {
	Repo        repository.JobsRepository
	Pipeline    Drafter
	Validator   pipeline.Validator
	Repairer    Repairer
	Store       storage.ObjectStore
	Transcriber ai.Transcriber
	HTTPClient  *http.Client
	Wakeups     queue.Subscriber
	Clock       Clock
	NewID       func() string
	Logger      zerolog.Logger
}

// Worker claims queued jobs one at a time and drives each to done or error.
type Worker struct {
	config      Config
	repo        repository.JobsRepository
	pipeline    Drafter
	validator   pipeline.Validator
	repairer    Repairer
	store       storage.ObjectStore
	transcriber ai.Transcriber
	httpClient  *http.Client
	wakeups     queue.Subscriber
	clock       Clock
	newID       func() string
	logger      zerolog.Logger
}

func New(config Config, deps Dependencies) *Worker {
	if deps.Validator == nil {
		deps.Validator = quality.NewSchemaValidator(quality.Options{})
	}
	if deps.Clock == nil {
		deps.Clock = systemClock{}
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Worker{
		config:      config.withDefaults(),
		repo:        deps.Repo,
		pipeline:    deps.Pipeline,
		validator:   deps.Validator,
		repairer:    deps.Repairer,
		store:       deps.Store,
		transcriber: deps.Transcriber,
		httpClient:  deps.HTTPClient,
		wakeups:     deps.Wakeups,
		clock:       deps.Clock,
		newID:       deps.NewID,
		logger:      deps.Logger,
	}
}

// Run polls until ctx is cancelled. Job failures are recorded on the job and
// never stop the loop.
func (w *Worker) Run(ctx context.Context) error {
	var wake <-chan string
	if w.wakeups != nil {
		ch, err := w.wakeups.Subscribe(ctx)
		if err != nil {
			w.logger.Warn().Err(err).Msg("wake-up subscription failed, polling only")
		} else {
			wake = ch
		}
	}

	w.logger.Info().Dur("poll_interval", w.config.PollInterval).Msg("worker started")
	lastReap := time.Time{}

	for {
		if ctx.Err() != nil {
			w.logger.Info().Msg("worker stopped")
			return nil
		}

		if now := w.clock.Now(); now.Sub(lastReap) >= w.config.ReapInterval {
			lastReap = now
			w.reap(ctx, now)
		}

		worked, err := w.Tick(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error().Err(err).Msg("worker poll failed")
			w.wait(ctx, w.config.ErrorBackoff, nil)
		case !worked:
			wake = w.wait(ctx, w.config.PollInterval, wake)
		}
	}
}

// wait blocks for d, a wake-up or cancellation, and returns the wake-up
// channel to keep using (nil once it is closed).
func (w *Worker) wait(ctx context.Context, d time.Duration, wake <-chan string) <-chan string {
	select {
	case <-ctx.Done():
	case <-w.clock.After(d):
	case _, ok := <-wake:
		if !ok {
			return nil
		}
	}
	return wake
}

// Tick runs one poll cycle. It reports whether a job was found, including
// a claim lost to another worker, in which case the caller polls again.
func (w *Worker) Tick(ctx context.Context) (bool, error) {
	next, err := w.repo.NextQueued(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("next queued job: %w", err)
	}

	job, err := w.repo.Claim(ctx, next.ID, w.clock.Now())
	if errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrNotFound) {
		w.logger.Debug().Str("job_id", next.ID).Msg("claim lost")
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim job %s: %w", next.ID, err)
	}

	w.handle(ctx, job)
	return true, nil
}

func (w *Worker) handle(ctx context.Context, job *domain.Job) {
	logger := w.logger.With().Str("job_id", job.ID).Logger()
	started := w.clock.Now()
	logger.Info().Str("mode", job.MeetingMode).Msg("job claimed")

	meetingID, err := w.process(ctx, job, logger)
	if err == nil {
		logger.Info().
			Str("meeting_id", meetingID).
			Dur("elapsed", w.clock.Now().Sub(started)).
			Msg("job done")
		return
	}

	if ctx.Err() != nil {
		// The failure is the shutdown, not the job. The claim is left for the
		// stale sweep instead of recording a false cause.
		logger.Warn().Err(err).Msg("job interrupted by shutdown, left for stale sweep")
		return
	}

	jobErr := classify(err)
	failErr := w.repo.Fail(ctx, job.ID, jobErr.Code, jobErr.Error(), w.clock.Now())
	event := logger.Warn()
	if failErr != nil {
		event = logger.Error().AnErr("fail_err", failErr)
	}
	event.Err(jobErr.Err).Str("code", string(jobErr.Code)).Msg("job failed")
}

func (w *Worker) process(ctx context.Context, job *domain.Job, logger zerolog.Logger) (string, error) {
	transcript, err := w.resolveTranscript(ctx, job, logger)
	if err != nil {
		return "", err
	}
	logger.Debug().Str("transcript", policy.Preview(transcript, 160)).Msg("transcript ready")

	if w.pipeline == nil {
		return "", jobError(domain.ErrorExtractFailure, errors.New("pipeline not configured"))
	}
	draft, err := w.pipeline.Run(ctx, transcript)
	if err != nil {
		var stageErr *pipeline.StageError
		if errors.As(err, &stageErr) && stageErr.Raw != "" {
			logger.Debug().Str("stage", string(stageErr.Stage)).Str("raw", policy.Preview(stageErr.Raw, 240)).Msg("stage output rejected")
		}
		return "", err
	}

	result, err := w.validate(ctx, draft, logger)
	if err != nil {
		return "", err
	}

	title := strings.TrimSpace(result.Summary.Title)
	if title == "" {
		title = defaultMeetingTitle
	}
	meeting := &domain.Meeting{
		ID:             w.newID(),
		JobID:          job.ID,
		Title:          title,
		Mode:           job.MeetingMode,
		Result:         result,
		TranscriptText: transcript,
		CreatedAt:      w.clock.Now(),
	}
	if err := w.repo.Complete(ctx, job.ID, meeting, meeting.CreatedAt); err != nil {
		return "", jobError(domain.ErrorPersistenceFailure, err)
	}
	return meeting.ID, nil
}

func (w *Worker) validate(ctx context.Context, draft pipeline.Draft, logger zerolog.Logger) (domain.PipelineResult, error) {
	result, err := w.validator.Validate(draft.Document)
	if err == nil {
		return result, nil
	}

	var validationErr *quality.ValidationError
	if !errors.As(err, &validationErr) || w.repairer == nil {
		return domain.PipelineResult{}, jobError(domain.ErrorSchemaValidationFailure, err)
	}

	logger.Info().
		Int("violations", len(validationErr.Violations)).
		RawJSON("draft", policy.MaskPIIJSON(draft.Document)).
		Msg("draft failed validation, repairing")
	repaired, err := w.repairer.Repair(ctx, draft.Document, validationErr.Violations)
	if err != nil {
		return domain.PipelineResult{}, jobError(domain.ErrorRepairExhausted, err)
	}
	return repaired, nil
}

func (w *Worker) resolveTranscript(ctx context.Context, job *domain.Job, logger zerolog.Logger) (string, error) {
	if job.HasTranscript() && strings.TrimSpace(*job.TranscriptText) != "" {
		return *job.TranscriptText, nil
	}
	if strings.TrimSpace(job.InputRef) == "" {
		return "", jobError(domain.ErrorInputMissing, errors.New("job has neither transcript nor input reference"))
	}
	if w.store == nil || w.transcriber == nil {
		return "", jobError(domain.ErrorDownloadFailure, errors.New("object store or transcriber not configured"))
	}

	signedURL, err := w.store.SignedURL(ctx, job.InputRef, w.config.SignedURLTTL)
	if err != nil {
		return "", jobError(domain.ErrorDownloadFailure, fmt.Errorf("sign %s: %w", job.InputRef, err))
	}

	filePath, cleanup, err := storage.Download(ctx, w.httpClient, signedURL, w.config.TempDir, path.Base(job.InputRef))
	defer cleanup()
	if err != nil {
		return "", jobError(domain.ErrorDownloadFailure, err)
	}

	text, err := w.transcriber.Transcribe(ctx, filePath)
	if err != nil {
		return "", jobError(domain.ErrorTranscriptionFailure, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", jobError(domain.ErrorTranscriptionEmpty, errors.New("transcription returned no text"))
	}

	if err := w.repo.SetTranscript(ctx, job.ID, text, w.clock.Now()); err != nil {
		return "", jobError(domain.ErrorPersistenceFailure, fmt.Errorf("store transcript: %w", err))
	}
	logger.Info().Int("chars", len(text)).Msg("audio transcribed")
	return text, nil
}

func (w *Worker) reap(ctx context.Context, now time.Time) {
	count, err := w.repo.FailStale(ctx, now.Add(-w.config.StaleAfter), now)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("stale job sweep failed")
		}
		return
	}
	if count > 0 {
		w.logger.Warn().Int("jobs", count).Dur("stale_after", w.config.StaleAfter).Msg("failed stale processing jobs")
	}
}

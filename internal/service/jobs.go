package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iago/meetiq-back/internal/domain"
	"github.com/iago/meetiq-back/internal/export"
	"github.com/iago/meetiq-back/internal/queue"
	"github.com/iago/meetiq-back/internal/repository"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrTranscriptTooLarge = errors.New("transcript too large")
)

const (
	DefaultMaxTranscriptBytes = 512 << 10
	maxMeetingModeLength      = 64
	maxInputRefLength         = 512
)

type JobsServiceConfig struct {
	MaxTranscriptBytes int
	Logger             zerolog.Logger
	Now                func() time.Time
}

// JobsService is the submission side of the job core: it creates queued jobs
// and reads jobs and meetings back. It never changes a job after creation.
type JobsService struct {
	repo      repository.JobsRepository
	publisher queue.Publisher
	maxBytes  int
	logger    zerolog.Logger
	now       func() time.Time
}

func NewJobsService(repo repository.JobsRepository, publisher queue.Publisher, config JobsServiceConfig) *JobsService {
	if config.MaxTranscriptBytes <= 0 {
		config.MaxTranscriptBytes = DefaultMaxTranscriptBytes
	}
	if config.Now == nil {
		config.Now = func() time.Time { return time.Now().UTC() }
	}
	return &JobsService{
		repo:      repo,
		publisher: publisher,
		maxBytes:  config.MaxTranscriptBytes,
		logger:    config.Logger,
		now:       config.Now,
	}
}

func (s *JobsService) SubmitTranscript(ctx context.Context, transcript, mode string) (*domain.Job, error) {
	text := strings.TrimSpace(transcript)
	if text == "" {
		return nil, fmt.Errorf("%w: transcript is required", ErrInvalidInput)
	}
	if len(text) > s.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrTranscriptTooLarge, len(text), s.maxBytes)
	}
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: transcript must be valid UTF-8", ErrInvalidInput)
	}

	job, err := s.newJob(mode)
	if err != nil {
		return nil, err
	}
	job.TranscriptText = &text
	return s.enqueue(ctx, job)
}

func (s *JobsService) SubmitAudio(ctx context.Context, inputRef, mode string) (*domain.Job, error) {
	ref := strings.TrimSpace(inputRef)
	if ref == "" || len(ref) > maxInputRefLength || strings.Contains(ref, "..") {
		return nil, fmt.Errorf("%w: input_ref must be a relative object path", ErrInvalidInput)
	}

	job, err := s.newJob(mode)
	if err != nil {
		return nil, err
	}
	job.InputRef = strings.TrimPrefix(ref, "/")
	return s.enqueue(ctx, job)
}

func (s *JobsService) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.repo.GetJob(ctx, jobID)
}

func (s *JobsService) GetMeeting(ctx context.Context, meetingID string) (*domain.Meeting, error) {
	return s.repo.GetMeeting(ctx, meetingID)
}

// Ready reports whether the job store answers. Stores without a Ping method
// are always ready.
func (s *JobsService) Ready(ctx context.Context) error {
	pinger, ok := s.repo.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	if err := pinger.Ping(ctx); err != nil {
		return fmt.Errorf("job store unavailable: %w", err)
	}
	return nil
}

type ExportedFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

func (s *JobsService) ExportMeeting(ctx context.Context, meetingID string, format export.Format) (ExportedFile, error) {
	meeting, err := s.repo.GetMeeting(ctx, meetingID)
	if err != nil {
		return ExportedFile{}, err
	}

	doc := export.Build(meeting, s.now())
	switch format {
	case export.FormatJSON:
		body, err := export.ToJSON(doc)
		if err != nil {
			return ExportedFile{}, fmt.Errorf("encode export: %w", err)
		}
		return ExportedFile{
			Filename:    export.Filename(doc.Meeting.Title, format),
			ContentType: "application/json",
			Body:        body,
		}, nil
	case export.FormatMarkdown:
		return ExportedFile{
			Filename:    export.Filename(doc.Meeting.Title, format),
			ContentType: "text/markdown; charset=utf-8",
			Body:        []byte(export.ToMarkdown(doc)),
		}, nil
	default:
		return ExportedFile{}, fmt.Errorf("%w: %q", export.ErrUnsupportedFormat, format)
	}
}

func (s *JobsService) newJob(mode string) (*domain.Job, error) {
	mode = strings.TrimSpace(mode)
	if mode == "" {
		mode = domain.DefaultMeetingMode
	}
	if len(mode) > maxMeetingModeLength {
		return nil, fmt.Errorf("%w: meeting_mode is too long", ErrInvalidInput)
	}

	now := s.now()
	return &domain.Job{
		ID:          uuid.NewString(),
		Status:      domain.JobStatusQueued,
		MeetingMode: mode,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// enqueue stores the job and then nudges idle workers. A failed nudge is only
// logged: workers still find the job on their next poll.
func (s *JobsService) enqueue(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, job.ID); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("job wake-up publish failed")
		}
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("mode", job.MeetingMode).
		Bool("audio", job.InputRef != "").
		Msg("job queued")
	return job, nil
}

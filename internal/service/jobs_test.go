package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/iago/meetiq-back/internal/domain"
	"github.com/iago/meetiq-back/internal/export"
	"github.com/iago/meetiq-back/internal/queue"
	"github.com/iago/meetiq-back/internal/repository"
)

var fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestService(repo repository.JobsRepository, publisher queue.Publisher) *JobsService {
	return NewJobsService(repo, publisher, JobsServiceConfig{
		MaxTranscriptBytes: 64,
		Logger:             zerolog.Nop(),
		Now:                func() time.Time { return fixedNow },
	})
}

func TestSubmitTranscriptQueuesJobAndNotifies(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	bus := queue.NewLocalBus(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notifications, _ := bus.Subscribe(ctx)

	service := newTestService(repo, bus)
	job, err := service.SubmitTranscript(context.Background(), "  Alex will email the team.  ", "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	stored, err := repo.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if stored.Status != domain.JobStatusQueued || stored.MeetingMode != domain.DefaultMeetingMode {
		t.Fatalf("unexpected job %+v", stored)
	}
	if stored.TranscriptText == nil || *stored.TranscriptText != "Alex will email the team." {
		t.Fatalf("expected trimmed transcript, got %v", stored.TranscriptText)
	}
	if !stored.CreatedAt.Equal(fixedNow) {
		t.Fatalf("unexpected created_at %s", stored.CreatedAt)
	}

	select {
	case id := <-notifications:
		if id != job.ID {
			t.Fatalf("unexpected notification %q", id)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected wake-up notification")
	}
}

func TestSubmitTranscriptValidation(t *testing.T) {
	service := newTestService(repository.NewMemoryJobsRepository(), nil)

	if _, err := service.SubmitTranscript(context.Background(), "   ", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := service.SubmitTranscript(context.Background(), strings.Repeat("a", 65), ""); !errors.Is(err, ErrTranscriptTooLarge) {
		t.Fatalf("expected too large, got %v", err)
	}
	if _, err := service.SubmitTranscript(context.Background(), "hi", strings.Repeat("m", 65)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected long mode to be rejected, got %v", err)
	}
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string) error {
	return errors.New("redis down")
}

func TestSubmitAudioSurvivesPublishFailure(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	service := newTestService(repo, failingPublisher{})

	job, err := service.SubmitAudio(context.Background(), "/uploads/standup.m4a", "Standup")
	if err != nil {
		t.Fatalf("submit audio: %v", err)
	}
	stored, _ := repo.GetJob(context.Background(), job.ID)
	if stored.InputRef != "uploads/standup.m4a" || stored.TranscriptText != nil || stored.MeetingMode != "Standup" {
		t.Fatalf("unexpected job %+v", stored)
	}

	if _, err := service.SubmitAudio(context.Background(), "../secrets", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected traversal to be rejected, got %v", err)
	}
}

func TestExportMeeting(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	service := newTestService(repo, nil)
	ctx := context.Background()

	job, _ := service.SubmitTranscript(ctx, "Alex will email the team.", "")
	if _, err := repo.Claim(ctx, job.ID, fixedNow); err != nil {
		t.Fatalf("claim: %v", err)
	}
	owner := "Alex"
	meeting := &domain.Meeting{
		ID:    "m1",
		JobID: job.ID,
		Title: "Release plan",
		Result: domain.PipelineResult{
			SchemaVersion: domain.ResultSchemaVersion,
			Summary:       domain.Summary{Title: "Release plan", TLDR: "Ship Friday."},
			ActionItems:   []domain.ActionItem{{Task: "Email the team", Owner: &owner}},
		},
		CreatedAt: fixedNow,
	}
	if err := repo.Complete(ctx, job.ID, meeting, fixedNow); err != nil {
		t.Fatalf("complete: %v", err)
	}

	file, err := service.ExportMeeting(ctx, "m1", export.FormatMarkdown)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if file.Filename != "Release-plan-meeting.md" || !strings.HasPrefix(file.ContentType, "text/markdown") {
		t.Fatalf("unexpected file %+v", file)
	}
	if !strings.Contains(string(file.Body), "(UNKNOWN, Alex, 0% confidence) Email the team") {
		t.Fatalf("unexpected markdown:\n%s", file.Body)
	}

	if _, err := service.ExportMeeting(ctx, "missing", export.FormatJSON); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

type pingingRepo struct {
	*repository.MemoryJobsRepository
	err error
}

func (r pingingRepo) Ping(context.Context) error { return r.err }

func TestReadyUsesStorePing(t *testing.T) {
	if err := newTestService(repository.NewMemoryJobsRepository(), nil).Ready(context.Background()); err != nil {
		t.Fatalf("memory store should be ready, got %v", err)
	}

	down := errors.New("connection refused")
	service := newTestService(pingingRepo{MemoryJobsRepository: repository.NewMemoryJobsRepository(), err: down}, nil)
	if err := service.Ready(context.Background()); !errors.Is(err, down) {
		t.Fatalf("expected ping error, got %v", err)
	}
}

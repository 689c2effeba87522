package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/iago/meetiq-back/internal/domain"
)

var (
	ErrNotFound = errors.New("resource not found")
	// ErrConflict means a conditional update lost: the job was not in the
	// status the caller expected at commit time.
	ErrConflict = errors.New("job state changed concurrently")
)

// JobsRepository is the durable job store. Every state mutation is a
// conditional update so several workers can share one store safely.
type JobsRepository interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	// NextQueued returns the oldest queued job or ErrNotFound.
	NextQueued(ctx context.Context) (*domain.Job, error)
	// Claim moves a job queued -> processing. ErrConflict when another
	// worker got there first.
	Claim(ctx context.Context, jobID string, at time.Time) (*domain.Job, error)
	SetTranscript(ctx context.Context, jobID string, transcript string, at time.Time) error
	// Complete stores the meeting and moves the job processing -> done in one
	// atomic step. Nothing is written when the job is no longer processing.
	Complete(ctx context.Context, jobID string, meeting *domain.Meeting, at time.Time) error
	Fail(ctx context.Context, jobID string, code domain.ErrorCode, message string, at time.Time) error
	// FailStale moves processing jobs claimed before the cutoff to error.
	FailStale(ctx context.Context, claimedBefore time.Time, at time.Time) (int, error)
	GetMeeting(ctx context.Context, meetingID string) (*domain.Meeting, error)
}

// MemoryJobsRepository keeps jobs in memory. It follows the same conditional
// update rules as the Postgres store and backs tests and local development.
type MemoryJobsRepository struct {
	mu       sync.RWMutex
	jobs     map[string]*domain.Job
	meetings map[string]*domain.Meeting
}

func NewMemoryJobsRepository() *MemoryJobsRepository {
	return &MemoryJobsRepository{
		jobs:     make(map[string]*domain.Job),
		meetings: make(map[string]*domain.Meeting),
	}
}

func (r *MemoryJobsRepository) CreateJob(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID]; exists {
		return ErrConflict
	}
	r.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *MemoryJobsRepository) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func (r *MemoryJobsRepository) NextQueued(_ context.Context) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	queued := make([]*domain.Job, 0)
	for _, job := range r.jobs {
		if job.Status == domain.JobStatusQueued {
			queued = append(queued, job)
		}
	}
	if len(queued) == 0 {
		return nil, ErrNotFound
	}

	sort.Slice(queued, func(i, j int) bool {
		if queued[i].CreatedAt.Equal(queued[j].CreatedAt) {
			return queued[i].ID < queued[j].ID
		}
		return queued[i].CreatedAt.Before(queued[j].CreatedAt)
	})
	return cloneJob(queued[0]), nil
}

func (r *MemoryJobsRepository) Claim(_ context.Context, jobID string, at time.Time) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	if !domain.CanTransition(job.Status, domain.JobStatusProcessing) {
		return nil, ErrConflict
	}

	claimedAt := at
	job.Status = domain.JobStatusProcessing
	job.ClaimedAt = &claimedAt
	job.UpdatedAt = at
	return cloneJob(job), nil
}

func (r *MemoryJobsRepository) SetTranscript(_ context.Context, jobID string, transcript string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if job.Status != domain.JobStatusProcessing {
		return ErrConflict
	}

	text := transcript
	job.TranscriptText = &text
	job.UpdatedAt = at
	return nil
}

func (r *MemoryJobsRepository) Complete(_ context.Context, jobID string, meeting *domain.Meeting, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if !domain.CanTransition(job.Status, domain.JobStatusDone) {
		return ErrConflict
	}
	if _, exists := r.meetings[meeting.ID]; exists {
		return ErrConflict
	}

	r.meetings[meeting.ID] = cloneMeeting(meeting)
	job.Status = domain.JobStatusDone
	job.OutputRef = meeting.ID
	job.Error = ""
	job.ErrorCode = ""
	job.UpdatedAt = at
	return nil
}

func (r *MemoryJobsRepository) Fail(
	_ context.Context,
	jobID string,
	code domain.ErrorCode,
	message string,
	at time.Time,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if !domain.CanTransition(job.Status, domain.JobStatusError) {
		return ErrConflict
	}

	job.Status = domain.JobStatusError
	job.Error = failureMessage(message)
	job.ErrorCode = code
	job.OutputRef = ""
	job.UpdatedAt = at
	return nil
}

func (r *MemoryJobsRepository) FailStale(_ context.Context, claimedBefore time.Time, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, job := range r.jobs {
		if !domain.CanTransition(job.Status, domain.JobStatusError) || job.ClaimedAt == nil {
			continue
		}
		if !job.ClaimedAt.Before(claimedBefore) {
			continue
		}
		job.Status = domain.JobStatusError
		job.ErrorCode = domain.ErrorStaleProcessing
		job.Error = staleMessage
		job.UpdatedAt = at
		count++
	}
	return count, nil
}

func (r *MemoryJobsRepository) GetMeeting(_ context.Context, meetingID string) (*domain.Meeting, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	meeting, ok := r.meetings[meetingID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMeeting(meeting), nil
}

const staleMessage = "worker stopped before the job was committed"

// failureMessage keeps the error column non-empty so the done/error
// invariant holds even when the cause had no text.
func failureMessage(message string) string {
	if message == "" {
		return "job failed"
	}
	return message
}

func cloneJob(job *domain.Job) *domain.Job {
	if job == nil {
		return nil
	}
	clone := *job
	if job.TranscriptText != nil {
		text := *job.TranscriptText
		clone.TranscriptText = &text
	}
	if job.ClaimedAt != nil {
		claimedAt := *job.ClaimedAt
		clone.ClaimedAt = &claimedAt
	}
	return &clone
}

func cloneMeeting(meeting *domain.Meeting) *domain.Meeting {
	if meeting == nil {
		return nil
	}
	clone := *meeting
	clone.Result.Summary.Bullets = append([]string(nil), meeting.Result.Summary.Bullets...)
	clone.Result.ActionItems = append([]domain.ActionItem(nil), meeting.Result.ActionItems...)
	clone.Result = clone.Result.Normalize()
	return &clone
}

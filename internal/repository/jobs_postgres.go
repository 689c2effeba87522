package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iago/meetiq-back/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresJobsRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresJobsRepository(ctx context.Context, databaseURL string, maxConns int) (*PostgresJobsRepository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return &PostgresJobsRepository{pool: pool}, nil
}

func (r *PostgresJobsRepository) Pool() *pgxpool.Pool {
	return r.pool
}

func (r *PostgresJobsRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresJobsRepository) Close() {
	r.pool.Close()
}

const jobColumns = `id, status, input_ref, transcript_text, meeting_mode, output_ref, error, error_code, created_at, updated_at, claimed_at`

func (r *PostgresJobsRepository) CreateJob(ctx context.Context, job *domain.Job) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO jobs (
			id,
			status,
			input_ref,
			transcript_text,
			meeting_mode,
			created_at,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		job.ID,
		string(job.Status),
		job.InputRef,
		job.TranscriptText,
		job.MeetingMode,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *PostgresJobsRepository) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("query job: %w", err)
	}
	return job, nil
}

func (r *PostgresJobsRepository) NextQueued(ctx context.Context) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = 'queued'
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`)
	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("query next queued job: %w", err)
	}
	return job, nil
}

func (r *PostgresJobsRepository) Claim(ctx context.Context, jobID string, at time.Time) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE jobs
		SET status = 'processing',
			claimed_at = $2,
			updated_at = $2
		WHERE id = $1 AND status = 'queued'
		RETURNING `+jobColumns, jobID, at)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

func (r *PostgresJobsRepository) SetTranscript(ctx context.Context, jobID string, transcript string, at time.Time) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET transcript_text = $2,
			updated_at = $3
		WHERE id = $1 AND status = 'processing'
	`, jobID, transcript, at)
	if err != nil {
		return fmt.Errorf("update transcript: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (r *PostgresJobsRepository) Complete(ctx context.Context, jobID string, meeting *domain.Meeting, at time.Time) error {
	result, err := json.Marshal(meeting.Result.Normalize())
	if err != nil {
		return fmt.Errorf("encode meeting result: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin complete tx: %w", err)
	}
	defer tx.Rollback(ctx)

	command, err := tx.Exec(ctx, `
		UPDATE jobs
		SET status = 'done',
			output_ref = $2,
			error = NULL,
			error_code = NULL,
			updated_at = $3
		WHERE id = $1 AND status = 'processing'
	`, jobID, meeting.ID, at)
	if err != nil {
		return fmt.Errorf("mark job done: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrConflict
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO meetings (id, job_id, title, mode, result, transcript_text, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		meeting.ID,
		jobID,
		meeting.Title,
		meeting.Mode,
		result,
		meeting.TranscriptText,
		meeting.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert meeting: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit complete tx: %w", err)
	}
	return nil
}

func (r *PostgresJobsRepository) Fail(
	ctx context.Context,
	jobID string,
	code domain.ErrorCode,
	message string,
	at time.Time,
) error {
	command, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'error',
			error = $2,
			error_code = $3,
			output_ref = NULL,
			updated_at = $4
		WHERE id = $1 AND status = 'processing'
	`, jobID, failureMessage(message), string(code), at)
	if err != nil {
		return fmt.Errorf("mark job error: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (r *PostgresJobsRepository) FailStale(ctx context.Context, claimedBefore time.Time, at time.Time) (int, error) {
	command, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'error',
			error = $2,
			error_code = $3,
			updated_at = $4
		WHERE status = 'processing' AND claimed_at < $1
	`, claimedBefore, staleMessage, string(domain.ErrorStaleProcessing), at)
	if err != nil {
		return 0, fmt.Errorf("fail stale jobs: %w", err)
	}
	return int(command.RowsAffected()), nil
}

func (r *PostgresJobsRepository) GetMeeting(ctx context.Context, meetingID string) (*domain.Meeting, error) {
	var (
		meeting domain.Meeting
		result  []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, job_id, title, mode, result, transcript_text, created_at
		FROM meetings
		WHERE id = $1
	`, meetingID).Scan(
		&meeting.ID,
		&meeting.JobID,
		&meeting.Title,
		&meeting.Mode,
		&result,
		&meeting.TranscriptText,
		&meeting.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query meeting: %w", err)
	}
	if err := json.Unmarshal(result, &meeting.Result); err != nil {
		return nil, fmt.Errorf("decode meeting result: %w", err)
	}
	meeting.Result = meeting.Result.Normalize()
	return &meeting, nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job       domain.Job
		status    string
		outputRef *string
		errText   *string
		errCode   *string
	)
	err := row.Scan(
		&job.ID,
		&status,
		&job.InputRef,
		&job.TranscriptText,
		&job.MeetingMode,
		&outputRef,
		&errText,
		&errCode,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.ClaimedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	job.Status = domain.JobStatus(status)
	if outputRef != nil {
		job.OutputRef = *outputRef
	}
	if errText != nil {
		job.Error = *errText
	}
	if errCode != nil {
		job.ErrorCode = domain.ErrorCode(*errCode)
	}
	return &job, nil
}

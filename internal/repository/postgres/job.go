package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/healthdesk/clinic-api/internal/model"
	"github.com/healthdesk/clinic-api/internal/repository"
)

const jobColumns = `
	id, type, status, priority, payload, dedup_key, retry_count,
	max_retries, error_message, created_at, scheduled_for, claimed_at,
	completed_at
`

type jobRepository struct {
	BaseRepository
}

func NewJobRepository(base BaseRepository) repository.JobRepository {
	return &jobRepository{base}
}

func (r *jobRepository) Create(ctx context.Context, job *model.Job) error {
	if job.Payload == nil {
		return fmt.Errorf("job payload cannot be nil")
	}

	query := `
		INSERT INTO jobs (
			id, type, status, priority, payload, dedup_key,
			retry_count, max_retries, created_at, scheduled_for
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.Status = model.JobStatusPending
	job.CreatedAt = time.Now()
	if job.ScheduledFor.IsZero() {
		job.ScheduledFor = job.CreatedAt
	}

	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.Type,
		job.Status,
		job.Priority,
		job.Payload,
		job.DedupKey,
		job.RetryCount,
		job.MaxRetries,
		job.CreatedAt,
		job.ScheduledFor,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (r *jobRepository) Get(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	var job model.Job
	err := r.db.GetContext(ctx, &job, query, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (r *jobRepository) FindPendingByDedupKey(ctx context.Context, key string) (*model.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE dedup_key = $1 AND status = 'pending'
		ORDER BY created_at ASC
		LIMIT 1
	`
	var job model.Job
	err := r.db.GetContext(ctx, &job, query, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending job: %w", err)
	}
	return &job, nil
}

// ClaimDue flips due pending jobs to running in one statement so that
// concurrent dispatchers never claim the same job twice.
func (r *jobRepository) ClaimDue(ctx context.Context, limit int, now time.Time) ([]*model.Job, error) {
	query := `
		UPDATE jobs
		SET status = 'running', claimed_at = $1
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'pending' AND scheduled_for <= $1
			ORDER BY priority ASC, created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	var jobs []*model.Job
	if err := r.db.SelectContext(ctx, &jobs, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to claim due jobs: %w", err)
	}
	return jobs, nil
}

func (r *jobRepository) MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE jobs
		SET status = 'completed', completed_at = $1
		WHERE id = $2 AND status = 'running'
	`
	return r.execStatusChange(ctx, query, at, id)
}

func (r *jobRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, at time.Time) error {
	query := `
		UPDATE jobs
		SET status = 'failed', error_message = $1, completed_at = $2
		WHERE id = $3 AND status = 'running'
	`
	return r.execStatusChange(ctx, query, errMsg, at, id)
}

func (r *jobRepository) RescheduleRetry(ctx context.Context, id uuid.UUID, retryCount int, errMsg string, at time.Time) error {
	query := `
		UPDATE jobs
		SET status = 'pending', retry_count = $1, error_message = $2,
			scheduled_for = $3, claimed_at = NULL
		WHERE id = $4 AND status = 'running'
	`
	return r.execStatusChange(ctx, query, retryCount, errMsg, at, id)
}

// RequeueStale recovers jobs whose worker died after claiming them: a
// running job whose claim is older than the cutoff can no longer have a
// live handler, so it goes back to pending with the claim counted as an
// attempt.
func (r *jobRepository) RequeueStale(ctx context.Context, claimedBefore time.Time) (int64, error) {
	query := `
		UPDATE jobs
		SET status = 'pending', retry_count = retry_count + 1,
			claimed_at = NULL, scheduled_for = NOW()
		WHERE status = 'running' AND claimed_at < $1
	`
	result, err := r.db.ExecContext(ctx, query, claimedBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale jobs: %w", err)
	}
	return result.RowsAffected()
}

func (r *jobRepository) CancelPending(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE jobs
		SET status = 'cancelled', completed_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *jobRepository) CountPending(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM jobs WHERE status = 'pending'`)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending jobs: %w", err)
	}
	return count, nil
}

func (r *jobRepository) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
		AND completed_at < $1
	`
	result, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete terminal jobs: %w", err)
	}
	return result.RowsAffected()
}

func (r *jobRepository) execStatusChange(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("job not in expected status")
	}
	return nil
}

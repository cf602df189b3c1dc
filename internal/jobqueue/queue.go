// Package jobqueue provides durable, priority-ordered scheduling of
// asynchronous work with at-least-once execution and bounded retries.
// Jobs live in Postgres; execution is decoupled from enqueueing and a
// caller is only ever guaranteed "job accepted", never "job succeeded".
package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/healthdesk/clinic-api/internal/model"
	"github.com/healthdesk/clinic-api/internal/repository"
	"github.com/healthdesk/clinic-api/pkg/logger"
)

// Queue is the enqueue-side API. It never blocks on execution.
type Queue struct {
	repo       repository.JobRepository
	maxRetries int
	logger     *logger.Logger
}

func NewQueue(repo repository.JobRepository, maxRetries int, logger *logger.Logger) *Queue {
	return &Queue{
		repo:       repo,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Options tune a single enqueue call.
type Options struct {
	Priority     int
	ScheduledFor time.Time
	// DedupKey coalesces pending, not-yet-started jobs: a second
	// enqueue with the same key before the first executes is dropped.
	// Correctness never depends on this, recalculation is idempotent;
	// it only bounds redundant work.
	DedupKey string
}

// Enqueue persists a pending job and returns its id.
func (q *Queue) Enqueue(ctx context.Context, jobType model.JobType, payload interface{}, opts Options) (uuid.UUID, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}

	if opts.DedupKey != "" {
		existing, err := q.repo.FindPendingByDedupKey(ctx, opts.DedupKey)
		if err != nil {
			return uuid.Nil, fmt.Errorf("failed to check for duplicate job: %w", err)
		}
		if existing != nil {
			q.logger.Debug("coalesced job onto pending duplicate",
				"job_type", string(jobType), "dedup_key", opts.DedupKey)
			return existing.ID, nil
		}
	}

	if opts.Priority == 0 {
		opts.Priority = model.PriorityNormal
	}

	job := &model.Job{
		ID:           uuid.New(),
		Type:         jobType,
		Priority:     opts.Priority,
		Payload:      raw,
		MaxRetries:   q.maxRetries,
		ScheduledFor: opts.ScheduledFor,
	}
	if opts.DedupKey != "" {
		job.DedupKey = &opts.DedupKey
	}

	if err := q.repo.Create(ctx, job); err != nil {
		return uuid.Nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	q.logger.Debug("job enqueued", "job_id", job.ID.String(), "job_type", string(jobType))
	return job.ID, nil
}

// EnqueueRecalculation schedules a queue recalculation for one
// doctor-day, coalescing with any pending run for the same key.
func (q *Queue) EnqueueRecalculation(ctx context.Context, doctorID uuid.UUID, day model.ServiceDay) (uuid.UUID, error) {
	payload := model.RecalculateQueuePayload{
		DoctorID:   doctorID,
		ServiceDay: day,
	}
	return q.Enqueue(ctx, model.JobTypeRecalculateQueue, payload, Options{
		Priority: model.PriorityHigh,
		DedupKey: payload.SerializationKey(),
	})
}

// Cancel stops a job before it runs. Cancelling a running job is not
// supported: once a handler has started it must reach completed or
// failed on its own, otherwise an interrupted batch write could leave
// queue positions with gaps or duplicates.
func (q *Queue) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	cancelled, err := q.repo.CancelPending(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}
	return cancelled, nil
}

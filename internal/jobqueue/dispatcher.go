package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/healthdesk/clinic-api/internal/model"
	"github.com/healthdesk/clinic-api/internal/repository"
	"github.com/healthdesk/clinic-api/pkg/errors"
	"github.com/healthdesk/clinic-api/pkg/logger"
	"github.com/healthdesk/clinic-api/pkg/metrics"
)

// HandlerFunc executes one job. A non-nil error marks the attempt
// failed; whether it is retried depends on the error code and the
// job's remaining retry budget.
type HandlerFunc func(ctx context.Context, job *model.Job) error

type DispatcherConfig struct {
	Workers      int
	PollInterval time.Duration
	BatchSize    int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	StoreTimeout time.Duration
	// Running jobs claimed longer ago than ClaimTimeout are presumed
	// orphaned by a dead worker and returned to pending. Must exceed
	// the longest possible handler run (lock wait plus store timeout).
	ClaimTimeout time.Duration
	// Terminal jobs older than Retention are purged by the janitor.
	Retention       time.Duration
	JanitorInterval time.Duration
}

// Dispatcher pulls due jobs from the store and executes them on a
// fixed worker pool. Handlers for jobs sharing a serialization key run
// one at a time; everything else runs in parallel.
type Dispatcher struct {
	repo     repository.JobRepository
	locks    KeyLocker
	handlers map[model.JobType]HandlerFunc
	config   DispatcherConfig
	logger   *logger.Logger
	metrics  *metrics.Metrics

	jobs chan *model.Job
	wg   sync.WaitGroup
}

func NewDispatcher(
	repo repository.JobRepository,
	locks KeyLocker,
	config DispatcherConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Dispatcher {
	if config.Workers <= 0 {
		panic("Workers must be greater than 0")
	}
	if config.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.BaseBackoff <= 0 {
		panic("BaseBackoff must be greater than 0")
	}
	if config.MaxBackoff < config.BaseBackoff {
		panic("MaxBackoff must not be less than BaseBackoff")
	}
	if config.StoreTimeout <= 0 {
		panic("StoreTimeout must be greater than 0")
	}
	if config.ClaimTimeout <= 0 {
		panic("ClaimTimeout must be greater than 0")
	}

	return &Dispatcher{
		repo:     repo,
		locks:    locks,
		handlers: make(map[model.JobType]HandlerFunc),
		config:   config,
		logger:   logger,
		metrics:  metrics,
		jobs:     make(chan *model.Job, config.BatchSize),
	}
}

// Register binds a handler to a job type. Must be called before Start.
func (d *Dispatcher) Register(jobType model.JobType, handler HandlerFunc) {
	d.handlers[jobType] = handler
}

// Start runs the dispatch loop until ctx is cancelled. Workers finish
// the jobs they already hold before Start returns; a running job is
// never terminated mid-handler.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("starting job dispatcher", "workers", d.config.Workers)

	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}

	if d.config.JanitorInterval > 0 && d.config.Retention > 0 {
		d.wg.Add(1)
		go d.janitor(ctx)
	}

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("shutting down job dispatcher")
			close(d.jobs)
			d.wg.Wait()
			return
		case <-ticker.C:
			if err := d.dispatchDue(ctx); err != nil {
				d.logger.Error(err, "failed to dispatch due jobs")
			}
		}
	}
}

func (d *Dispatcher) dispatchDue(ctx context.Context) error {
	claimCtx, cancel := context.WithTimeout(ctx, d.config.StoreTimeout)
	defer cancel()

	// Recover claims orphaned by a crashed worker before claiming more.
	requeued, err := d.repo.RequeueStale(claimCtx, time.Now().Add(-d.config.ClaimTimeout))
	if err != nil {
		d.logger.Error(err, "failed to requeue stale jobs")
	} else if requeued > 0 {
		d.metrics.JobsRequeued.Add(float64(requeued))
		d.logger.Warn("requeued stale running jobs", "count", requeued)
	}

	jobs, err := d.repo.ClaimDue(claimCtx, d.config.BatchSize, time.Now())
	if err != nil {
		d.metrics.DatabaseOperations.WithLabelValues("claim_due_jobs", "error").Inc()
		return fmt.Errorf("failed to claim due jobs: %w", err)
	}
	d.metrics.DatabaseOperations.WithLabelValues("claim_due_jobs", "success").Inc()

	if pending, err := d.repo.CountPending(ctx); err == nil {
		d.metrics.PendingJobs.Set(float64(pending))
	}

	for _, job := range jobs {
		select {
		case d.jobs <- job:
		case <-ctx.Done():
			// The claim already flipped these jobs to running; let the
			// workers drain what was handed over and stop feeding.
			return nil
		}
	}
	return nil
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for job := range d.jobs {
		d.execute(job)
	}
	d.logger.Debug("worker stopped", "worker", id)
}

// execute runs a claimed job to a terminal or retryable outcome. It
// deliberately uses a fresh context so that shutdown never interrupts
// a batch write mid-flight.
func (d *Dispatcher) execute(job *model.Job) {
	ctx := context.Background()

	timer := prometheus.NewTimer(d.metrics.JobLatency.WithLabelValues(string(job.Type)))
	defer timer.ObserveDuration()

	handler, ok := d.handlers[job.Type]
	if !ok {
		d.fail(ctx, job, fmt.Errorf("no handler registered for job type %s", job.Type))
		return
	}

	run := func(ctx context.Context) error {
		hctx, cancel := context.WithTimeout(ctx, d.config.StoreTimeout)
		defer cancel()
		return handler(hctx, job)
	}

	var err error
	if key := d.serializationKey(job); key != "" {
		err = d.locks.WithLock(ctx, key, run)
	} else {
		err = run(ctx)
	}

	if err == nil {
		if markErr := d.repo.MarkCompleted(ctx, job.ID, time.Now()); markErr != nil {
			d.logger.Error(markErr, "failed to mark job completed", "job_id", job.ID.String())
			return
		}
		d.metrics.JobsProcessed.WithLabelValues(string(job.Type)).Inc()
		return
	}

	if errors.CodeOf(err) == errors.ErrLockContention {
		d.metrics.LockContention.Inc()
	}

	if d.shouldRetry(job, err) {
		backoff := d.Backoff(job.RetryCount)
		retryAt := time.Now().Add(backoff)
		if rsErr := d.repo.RescheduleRetry(ctx, job.ID, job.RetryCount+1, err.Error(), retryAt); rsErr != nil {
			d.logger.Error(rsErr, "failed to reschedule job", "job_id", job.ID.String())
			return
		}
		d.metrics.JobRetries.WithLabelValues(string(job.Type)).Inc()
		d.logger.Warn("job attempt failed, rescheduled",
			"job_id", job.ID.String(),
			"job_type", string(job.Type),
			"retry_count", job.RetryCount+1,
			"retry_at", retryAt.Format(time.RFC3339),
			"error", err.Error())
		return
	}

	d.fail(ctx, job, err)
}

func (d *Dispatcher) fail(ctx context.Context, job *model.Job, err error) {
	if markErr := d.repo.MarkFailed(ctx, job.ID, err.Error(), time.Now()); markErr != nil {
		d.logger.Error(markErr, "failed to mark job failed", "job_id", job.ID.String())
		return
	}
	d.metrics.JobsFailed.WithLabelValues(string(job.Type)).Inc()
	d.logger.Error(err, "job failed permanently",
		"job_id", job.ID.String(),
		"job_type", string(job.Type),
		"retry_count", job.RetryCount)
}

func (d *Dispatcher) shouldRetry(job *model.Job, err error) bool {
	if job.RetryCount >= job.MaxRetries {
		return false
	}
	return errors.Retryable(err)
}

// Backoff returns the delay before the attempt after retryCount prior
// retries: BaseBackoff doubled per retry, capped at MaxBackoff.
func (d *Dispatcher) Backoff(retryCount int) time.Duration {
	backoff := d.config.BaseBackoff
	for i := 0; i < retryCount; i++ {
		backoff *= 2
		if backoff >= d.config.MaxBackoff {
			return d.config.MaxBackoff
		}
	}
	if backoff > d.config.MaxBackoff {
		return d.config.MaxBackoff
	}
	return backoff
}

// serializationKey identifies jobs that must not run concurrently.
func (d *Dispatcher) serializationKey(job *model.Job) string {
	if job.DedupKey != nil && *job.DedupKey != "" {
		return *job.DedupKey
	}
	if job.Type == model.JobTypeRecalculateQueue {
		var payload model.RecalculateQueuePayload
		if err := json.Unmarshal(job.Payload, &payload); err == nil {
			return payload.SerializationKey()
		}
	}
	return ""
}

func (d *Dispatcher) janitor(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-d.config.Retention)
			deleted, err := d.repo.DeleteTerminalBefore(ctx, cutoff)
			if err != nil {
				d.logger.Error(err, "failed to purge terminal jobs")
				continue
			}
			if deleted > 0 {
				d.logger.Info("purged terminal jobs", "deleted", deleted)
			}
		}
	}
}

package jobqueue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/healthdesk/clinic-api/internal/model"
	"github.com/healthdesk/clinic-api/pkg/logger"
	"github.com/healthdesk/clinic-api/pkg/metrics"
)

// Shared across all tests in the package; promauto registers on the
// default registry and must only do so once per binary.
var testMetrics = metrics.NewMetrics("test", "jobqueue")

func testLogger() *logger.Logger {
	return logger.NewLogger(nil)
}

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*model.Job
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[uuid.UUID]*model.Job)}
}

func (r *fakeJobRepo) snapshot(id uuid.UUID) *model.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil
	}
	copied := *job
	return &copied
}

func (r *fakeJobRepo) Create(ctx context.Context, job *model.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job.Status = model.JobStatusPending
	job.CreatedAt = time.Now()
	if job.ScheduledFor.IsZero() {
		job.ScheduledFor = job.CreatedAt
	}
	copied := *job
	r.jobs[job.ID] = &copied
	return nil
}

func (r *fakeJobRepo) Get(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	job := r.snapshot(id)
	if job == nil {
		return nil, fmt.Errorf("job not found")
	}
	return job, nil
}

func (r *fakeJobRepo) FindPendingByDedupKey(ctx context.Context, key string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		if job.Status == model.JobStatusPending && job.DedupKey != nil && *job.DedupKey == key {
			copied := *job
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeJobRepo) ClaimDue(ctx context.Context, limit int, now time.Time) ([]*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*model.Job
	for _, job := range r.jobs {
		if job.Status == model.JobStatusPending && !job.ScheduledFor.After(now) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority < due[j].Priority
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*model.Job, 0, len(due))
	for _, job := range due {
		job.Status = model.JobStatusRunning
		claimedAt := now
		job.ClaimedAt = &claimedAt
		copied := *job
		claimed = append(claimed, &copied)
	}
	return claimed, nil
}

func (r *fakeJobRepo) RequeueStale(ctx context.Context, claimedBefore time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var requeued int64
	for _, job := range r.jobs {
		if job.Status == model.JobStatusRunning && job.ClaimedAt != nil && job.ClaimedAt.Before(claimedBefore) {
			job.Status = model.JobStatusPending
			job.RetryCount++
			job.ClaimedAt = nil
			job.ScheduledFor = time.Now()
			requeued++
		}
	}
	return requeued, nil
}

func (r *fakeJobRepo) MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.transition(id, model.JobStatusRunning, func(job *model.Job) {
		job.Status = model.JobStatusCompleted
		job.CompletedAt = &at
	})
}

func (r *fakeJobRepo) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, at time.Time) error {
	return r.transition(id, model.JobStatusRunning, func(job *model.Job) {
		job.Status = model.JobStatusFailed
		job.ErrorMessage = &errMsg
		job.CompletedAt = &at
	})
}

func (r *fakeJobRepo) RescheduleRetry(ctx context.Context, id uuid.UUID, retryCount int, errMsg string, at time.Time) error {
	return r.transition(id, model.JobStatusRunning, func(job *model.Job) {
		job.Status = model.JobStatusPending
		job.RetryCount = retryCount
		job.ErrorMessage = &errMsg
		job.ScheduledFor = at
		job.ClaimedAt = nil
	})
}

func (r *fakeJobRepo) CancelPending(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != model.JobStatusPending {
		return false, nil
	}
	now := time.Now()
	job.Status = model.JobStatusCancelled
	job.CompletedAt = &now
	return true, nil
}

func (r *fakeJobRepo) CountPending(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, job := range r.jobs {
		if job.Status == model.JobStatusPending {
			count++
		}
	}
	return count, nil
}

func (r *fakeJobRepo) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for id, job := range r.jobs {
		if job.Terminal() && job.CompletedAt != nil && job.CompletedAt.Before(before) {
			delete(r.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *fakeJobRepo) transition(id uuid.UUID, want model.JobStatus, apply func(*model.Job)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != want {
		return fmt.Errorf("job not in expected status")
	}
	apply(job)
	return nil
}

// inProcessLocker serializes by key with plain mutexes; good enough
// for single-process tests.
type inProcessLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newInProcessLocker() *inProcessLocker {
	return &inProcessLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *inProcessLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

package changefeed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthdesk/clinic-api/internal/jobqueue"
	"github.com/healthdesk/clinic-api/internal/model"
	"github.com/healthdesk/clinic-api/pkg/errors"
	"github.com/healthdesk/clinic-api/pkg/logger"
)

type recordingJobRepo struct {
	mu   sync.Mutex
	jobs []*model.Job
}

func (r *recordingJobRepo) Create(ctx context.Context, job *model.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *job
	r.jobs = append(r.jobs, &copied)
	return nil
}

func (r *recordingJobRepo) Get(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	return nil, errors.NewNotFound("job", nil)
}

func (r *recordingJobRepo) FindPendingByDedupKey(ctx context.Context, key string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		if job.DedupKey != nil && *job.DedupKey == key {
			copied := *job
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *recordingJobRepo) ClaimDue(ctx context.Context, limit int, now time.Time) ([]*model.Job, error) {
	return nil, nil
}

func (r *recordingJobRepo) MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) error {
	return nil
}

func (r *recordingJobRepo) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, at time.Time) error {
	return nil
}

func (r *recordingJobRepo) RescheduleRetry(ctx context.Context, id uuid.UUID, retryCount int, errMsg string, at time.Time) error {
	return nil
}

func (r *recordingJobRepo) RequeueStale(ctx context.Context, claimedBefore time.Time) (int64, error) {
	return 0, nil
}

func (r *recordingJobRepo) CancelPending(ctx context.Context, id uuid.UUID) (bool, error) {
	return false, nil
}

func (r *recordingJobRepo) CountPending(ctx context.Context) (int, error) {
	return 0, nil
}

func (r *recordingJobRepo) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (r *recordingJobRepo) created() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func newTestListener(repo *recordingJobRepo, opts ...Option) *Listener {
	l := &Listener{
		queue:  jobqueue.NewQueue(repo, 3, logger.NewLogger(nil)),
		logger: logger.NewLogger(nil),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func TestHandleEnqueuesRecalculation(t *testing.T) {
	repo := &recordingJobRepo{}
	l := newTestListener(repo)
	doctorID := uuid.New()

	l.handle(context.Background(), []byte(`{"doctor_id":"`+doctorID.String()+`","service_day":"2025-06-02","op":"UPDATE"}`))

	require.Equal(t, 1, repo.created())
	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Equal(t, model.JobTypeRecalculateQueue, repo.jobs[0].Type)
	require.NotNil(t, repo.jobs[0].DedupKey)
	assert.Equal(t, "recalc:"+doctorID.String()+":2025-06-02", *repo.jobs[0].DedupKey)
}

func TestHandleCoalescesBurstsOfEvents(t *testing.T) {
	repo := &recordingJobRepo{}
	l := newTestListener(repo)
	doctorID := uuid.New()
	payload := []byte(`{"doctor_id":"` + doctorID.String() + `","service_day":"2025-06-02"}`)

	for i := 0; i < 5; i++ {
		l.handle(context.Background(), payload)
	}

	assert.Equal(t, 1, repo.created())
}

func TestHandleDropsBadPayloads(t *testing.T) {
	repo := &recordingJobRepo{}
	l := newTestListener(repo)

	l.handle(context.Background(), []byte(`not json`))
	l.handle(context.Background(), []byte(`{"service_day":"2025-06-02"}`))
	l.handle(context.Background(), []byte(`{"doctor_id":"`+uuid.NewString()+`"}`))

	assert.Equal(t, 0, repo.created())
}

func TestHandleAppliesDoctorFilter(t *testing.T) {
	repo := &recordingJobRepo{}
	wanted := uuid.New()
	l := newTestListener(repo, WithDoctorFilter(wanted))

	l.handle(context.Background(), []byte(`{"doctor_id":"`+uuid.NewString()+`","service_day":"2025-06-02"}`))
	assert.Equal(t, 0, repo.created())

	l.handle(context.Background(), []byte(`{"doctor_id":"`+wanted.String()+`","service_day":"2025-06-02"}`))
	assert.Equal(t, 1, repo.created())
}

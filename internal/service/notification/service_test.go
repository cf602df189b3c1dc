package notification

import (
	"context"
	"encoding/json"
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
	"github.com/healthdesk/clinic-api/pkg/metrics"
)

var testMetrics = metrics.NewMetrics("test", "notification")

func testLogger() *logger.Logger {
	return logger.NewLogger(nil)
}

type fakeNotificationRepo struct {
	mu            sync.Mutex
	notifications map[uuid.UUID]*model.Notification
}

func newFakeNotificationRepo() *fakeNotificationRepo {
	return &fakeNotificationRepo{notifications: make(map[uuid.UUID]*model.Notification)}
}

func (r *fakeNotificationRepo) Create(ctx context.Context, n *model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *n
	copied.Status = model.NotificationStatusPending
	copied.CreatedAt = time.Now()
	r.notifications[n.ID] = &copied
	return nil
}

func (r *fakeNotificationRepo) Get(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notifications[id]
	if !ok {
		return nil, errors.NewNotFound("notification", nil)
	}
	copied := *n
	return &copied, nil
}

func (r *fakeNotificationRepo) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notifications[id]
	if !ok {
		return errors.NewNotFound("notification", nil)
	}
	n.Status = model.NotificationStatusSent
	n.SentAt = &at
	return nil
}

func (r *fakeNotificationRepo) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notifications[id]
	if !ok {
		return errors.NewNotFound("notification", nil)
	}
	n.Status = model.NotificationStatusFailed
	n.LastError = &errMsg
	return nil
}

func (r *fakeNotificationRepo) RecordError(ctx context.Context, id uuid.UUID, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notifications[id]
	if !ok {
		return errors.NewNotFound("notification", nil)
	}
	n.LastError = &errMsg
	return nil
}

func (r *fakeNotificationRepo) Counts(ctx context.Context) (*model.NotificationCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := &model.NotificationCounts{}
	for _, n := range r.notifications {
		switch n.Status {
		case model.NotificationStatusPending:
			counts.Pending++
		case model.NotificationStatusSent:
			counts.Sent++
		case model.NotificationStatusFailed:
			counts.Failed++
		}
	}
	return counts, nil
}

// recordingJobRepo keeps created jobs in memory; Deliver is driven
// directly in these tests, never through a dispatcher.
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

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *fakeSender) Send(ctx context.Context, recipientID uuid.UUID, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, subject)
	return nil
}

func newTestService(sender *fakeSender) (Service, *fakeNotificationRepo, *recordingJobRepo) {
	repo := newFakeNotificationRepo()
	jobs := &recordingJobRepo{}
	queue := jobqueue.NewQueue(jobs, 3, testLogger())
	svc := NewService(repo, queue, sender, nil, testLogger(), testMetrics)
	return svc, repo, jobs
}

func TestNotifyRecordsPendingAndSchedulesDelivery(t *testing.T) {
	svc, repo, jobs := newTestService(&fakeSender{})

	id, err := svc.Notify(context.Background(), model.NotificationTypeAppointment,
		uuid.New(), "Appointment scheduled", "See you at 09:00.", 0)
	require.NoError(t, err)

	stored, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationStatusPending, stored.Status)
	assert.Equal(t, model.PriorityNormal, stored.Priority)

	jobs.mu.Lock()
	defer jobs.mu.Unlock()
	require.Len(t, jobs.jobs, 1)
	assert.Equal(t, model.JobTypeSendNotification, jobs.jobs[0].Type)

	var payload model.SendNotificationPayload
	require.NoError(t, json.Unmarshal(jobs.jobs[0].Payload, &payload))
	assert.Equal(t, id, payload.NotificationID)
	assert.Equal(t, "Appointment scheduled", payload.Title)
}

func TestNotifyRejectsIncompleteInput(t *testing.T) {
	svc, _, _ := newTestService(&fakeSender{})

	_, err := svc.Notify(context.Background(), model.NotificationTypeAppointment,
		uuid.Nil, "title", "message", 0)
	require.Error(t, err)
	assert.Equal(t, errors.ErrValidation, errors.CodeOf(err))

	_, err = svc.Notify(context.Background(), model.NotificationTypeAppointment,
		uuid.New(), "", "message", 0)
	require.Error(t, err)
	assert.Equal(t, errors.ErrValidation, errors.CodeOf(err))
}

func deliveryJob(t *testing.T, id, recipient uuid.UUID) *model.Job {
	t.Helper()
	raw, err := json.Marshal(model.SendNotificationPayload{
		NotificationID: id,
		RecipientID:    recipient,
		Type:           string(model.NotificationTypeAppointment),
		Title:          "Appointment scheduled",
		Message:        "See you at 09:00.",
	})
	require.NoError(t, err)
	return &model.Job{ID: uuid.New(), Type: model.JobTypeSendNotification, Payload: raw, MaxRetries: 3}
}

func TestDeliverMarksSentOnSuccess(t *testing.T) {
	sender := &fakeSender{}
	svc, repo, _ := newTestService(sender)

	recipient := uuid.New()
	id, err := svc.Notify(context.Background(), model.NotificationTypeAppointment,
		recipient, "Appointment scheduled", "See you at 09:00.", 0)
	require.NoError(t, err)

	require.NoError(t, svc.Deliver(context.Background(), deliveryJob(t, id, recipient)))

	stored, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationStatusSent, stored.Status)
	assert.NotNil(t, stored.SentAt)
	assert.Equal(t, []string{"Appointment scheduled"}, sender.sent)
}

func TestDeliverKeepsRecordPendingWhileRetriesRemain(t *testing.T) {
	sender := &fakeSender{err: assert.AnError}
	svc, repo, _ := newTestService(sender)

	recipient := uuid.New()
	id, err := svc.Notify(context.Background(), model.NotificationTypeAppointment,
		recipient, "Appointment scheduled", "See you at 09:00.", 0)
	require.NoError(t, err)

	err = svc.Deliver(context.Background(), deliveryJob(t, id, recipient))
	require.Error(t, err)
	assert.Equal(t, errors.ErrDelivery, errors.CodeOf(err))
	assert.True(t, errors.Retryable(err))

	// The job will retry, so the record is not failed yet.
	stored, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationStatusPending, stored.Status)
	require.NotNil(t, stored.LastError)
}

func TestDeliverMarksFailedOnFinalAttempt(t *testing.T) {
	sender := &fakeSender{err: assert.AnError}
	svc, repo, _ := newTestService(sender)

	recipient := uuid.New()
	id, err := svc.Notify(context.Background(), model.NotificationTypeAppointment,
		recipient, "Appointment scheduled", "See you at 09:00.", 0)
	require.NoError(t, err)

	job := deliveryJob(t, id, recipient)
	job.RetryCount = job.MaxRetries

	err = svc.Deliver(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, errors.ErrDelivery, errors.CodeOf(err))

	stored, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationStatusFailed, stored.Status)
	require.NotNil(t, stored.LastError)
}

func TestDeliverRejectsMalformedPayload(t *testing.T) {
	svc, _, _ := newTestService(&fakeSender{})

	err := svc.Deliver(context.Background(), &model.Job{Payload: []byte(`{"title":`)})
	require.Error(t, err)
	assert.Equal(t, errors.ErrValidation, errors.CodeOf(err))
	assert.False(t, errors.Retryable(err))
}

func TestCountsAggregateByStatus(t *testing.T) {
	sender := &fakeSender{}
	svc, _, _ := newTestService(sender)

	recipient := uuid.New()
	sentID, err := svc.Notify(context.Background(), model.NotificationTypeAppointment,
		recipient, "a", "b", 0)
	require.NoError(t, err)
	require.NoError(t, svc.Deliver(context.Background(), deliveryJob(t, sentID, recipient)))

	_, err = svc.Notify(context.Background(), model.NotificationTypeSystem,
		recipient, "c", "d", 0)
	require.NoError(t, err)

	counts, err := svc.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Sent)
	assert.Equal(t, 1, counts.Pending)
	assert.Equal(t, 0, counts.Failed)
}

package jobqueue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthdesk/clinic-api/internal/model"
)

func TestEnqueueCreatesPendingJob(t *testing.T) {
	repo := newFakeJobRepo()
	q := NewQueue(repo, 3, testLogger())

	id, err := q.Enqueue(context.Background(), model.JobTypeSendNotification,
		model.SendNotificationPayload{Title: "hi"}, Options{})
	require.NoError(t, err)

	job := repo.snapshot(id)
	require.NotNil(t, job)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Equal(t, model.PriorityNormal, job.Priority)
	assert.Equal(t, 3, job.MaxRetries)
	assert.Equal(t, 0, job.RetryCount)
	assert.False(t, job.ScheduledFor.IsZero())
}

func TestEnqueueCoalescesOnDedupKey(t *testing.T) {
	repo := newFakeJobRepo()
	q := NewQueue(repo, 3, testLogger())
	doctorID := uuid.New()
	day := model.ServiceDay("2025-06-02")

	first, err := q.EnqueueRecalculation(context.Background(), doctorID, day)
	require.NoError(t, err)

	second, err := q.EnqueueRecalculation(context.Background(), doctorID, day)
	require.NoError(t, err)

	assert.Equal(t, first, second, "pending recalculations for the same doctor-day must coalesce")

	count, err := repo.CountPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEnqueueDoesNotCoalesceAcrossKeys(t *testing.T) {
	repo := newFakeJobRepo()
	q := NewQueue(repo, 3, testLogger())
	doctorID := uuid.New()

	first, err := q.EnqueueRecalculation(context.Background(), doctorID, model.ServiceDay("2025-06-02"))
	require.NoError(t, err)

	second, err := q.EnqueueRecalculation(context.Background(), doctorID, model.ServiceDay("2025-06-03"))
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestCancelOnlyAffectsPendingJobs(t *testing.T) {
	repo := newFakeJobRepo()
	q := NewQueue(repo, 3, testLogger())

	id, err := q.Enqueue(context.Background(), model.JobTypeSendNotification,
		model.SendNotificationPayload{Title: "hi"}, Options{})
	require.NoError(t, err)

	cancelled, err := q.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, cancelled)
	assert.Equal(t, model.JobStatusCancelled, repo.snapshot(id).Status)

	// A claimed (running) job cannot be cancelled.
	id2, err := q.Enqueue(context.Background(), model.JobTypeSendNotification,
		model.SendNotificationPayload{Title: "again"}, Options{})
	require.NoError(t, err)

	claimed, err := repo.ClaimDue(context.Background(), 10, time.Now())
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, id2, claimed[0].ID)

	cancelled, err = q.Cancel(context.Background(), id2)
	require.NoError(t, err)
	assert.False(t, cancelled)
	assert.Equal(t, model.JobStatusRunning, repo.snapshot(id2).Status)
}

package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/healthdesk/clinic-api/internal/model"
)

type AppointmentRepository interface {
	Create(ctx context.Context, appointment *model.Appointment) error
	Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
	Update(ctx context.Context, appointment *model.Appointment) error
	List(ctx context.Context, filters *model.AppointmentFilters) ([]*model.Appointment, error)

	// ListActiveForDay returns queue-eligible appointments for one
	// doctor-day ordered by scheduled time then id.
	ListActiveForDay(ctx context.Context, doctorID uuid.UUID, day model.ServiceDay) ([]*model.Appointment, error)

	// ApplyQueueAssignments writes recomputed queue fields in a single
	// transaction; either every row is updated or none is.
	ApplyQueueAssignments(ctx context.Context, assignments []model.QueueAssignment) error

	CheckConflicts(ctx context.Context, doctorID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (bool, error)
}

type JobRepository interface {
	Create(ctx context.Context, job *model.Job) error
	Get(ctx context.Context, id uuid.UUID) (*model.Job, error)

	// FindPendingByDedupKey returns a pending, not-yet-claimed job with
	// the given coalescing key, or nil when there is none.
	FindPendingByDedupKey(ctx context.Context, key string) (*model.Job, error)

	// ClaimDue atomically selects due pending jobs ordered by priority
	// then creation time and flips them to running.
	ClaimDue(ctx context.Context, limit int, now time.Time) ([]*model.Job, error)

	MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, at time.Time) error

	// RescheduleRetry moves a running job back to pending with an
	// incremented retry count and a new eligible time.
	RescheduleRetry(ctx context.Context, id uuid.UUID, retryCount int, errMsg string, at time.Time) error

	// RequeueStale returns running jobs claimed before the cutoff to
	// pending, counting the lost claim as an attempt. Recovers jobs
	// stranded by a worker that died between claim and completion.
	RequeueStale(ctx context.Context, claimedBefore time.Time) (int64, error)

	// CancelPending cancels the job only while it is still pending and
	// reports whether the cancellation took effect.
	CancelPending(ctx context.Context, id uuid.UUID) (bool, error)

	CountPending(ctx context.Context) (int, error)
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error)
}

type NotificationRepository interface {
	Create(ctx context.Context, notification *model.Notification) error
	Get(ctx context.Context, id uuid.UUID) (*model.Notification, error)
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error

	// RecordError stores the latest delivery error without changing the
	// record's status; used while the delivery job still has retries.
	RecordError(ctx context.Context, id uuid.UUID, errMsg string) error
	Counts(ctx context.Context) (*model.NotificationCounts, error)
}

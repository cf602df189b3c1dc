package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type JobType string

const (
	JobTypeRecalculateQueue JobType = "recalculate_queue"
	JobTypeSendNotification JobType = "send_notification"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job priorities; lower is more urgent.
const (
	PriorityHigh   = 1
	PriorityNormal = 5
	PriorityLow    = 9
)

// Job is a unit of asynchronous work. Completed, Failed (after
// exhausting retries) and Cancelled are terminal; terminal jobs are
// retained for observability and never mutated again.
type Job struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	Type         JobType         `db:"type" json:"type"`
	Status       JobStatus       `db:"status" json:"status"`
	Priority     int             `db:"priority" json:"priority"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	DedupKey     *string         `db:"dedup_key" json:"dedup_key,omitempty"`
	RetryCount   int             `db:"retry_count" json:"retry_count"`
	MaxRetries   int             `db:"max_retries" json:"max_retries"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	ScheduledFor time.Time       `db:"scheduled_for" json:"scheduled_for"`
	ClaimedAt    *time.Time      `db:"claimed_at" json:"claimed_at,omitempty"`
	CompletedAt  *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
}

// Terminal reports whether the job can never run again.
func (j *Job) Terminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// RecalculateQueuePayload scopes a recalculation run to one doctor-day.
type RecalculateQueuePayload struct {
	DoctorID          uuid.UUID  `json:"doctor_id"`
	ServiceDay        ServiceDay `json:"service_day"`
	StartFromPosition int        `json:"start_from_position,omitempty"`
}

// SerializationKey identifies the doctor-day whose queue the job
// mutates; jobs sharing a key must not run concurrently.
func (p RecalculateQueuePayload) SerializationKey() string {
	return fmt.Sprintf("recalc:%s:%s", p.DoctorID, p.ServiceDay)
}

// SendNotificationPayload carries a queued delivery.
type SendNotificationPayload struct {
	NotificationID uuid.UUID `json:"notification_id"`
	RecipientID    uuid.UUID `json:"recipient_id"`
	Type           string    `json:"type"`
	Title          string    `json:"title"`
	Message        string    `json:"message"`
	Priority       int       `json:"priority"`
}

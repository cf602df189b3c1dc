package model

import (
	"time"

	"github.com/google/uuid"
)

type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
)

type NotificationType string

const (
	NotificationTypeAppointment NotificationType = "appointment"
	NotificationTypePayment     NotificationType = "payment"
	NotificationTypeSystem      NotificationType = "system"
)

// Notification is a user-facing message derived from a domain event.
// Delivery failures never mutate the originating domain entity.
type Notification struct {
	ID          uuid.UUID          `db:"id" json:"id"`
	Type        NotificationType   `db:"type" json:"type"`
	RecipientID uuid.UUID          `db:"recipient_id" json:"recipient_id"`
	Title       string             `db:"title" json:"title"`
	Message     string             `db:"message" json:"message"`
	Priority    int                `db:"priority" json:"priority"`
	Status      NotificationStatus `db:"status" json:"status"`
	LastError   *string            `db:"last_error" json:"last_error,omitempty"`
	CreatedAt   time.Time          `db:"created_at" json:"created_at"`
	SentAt      *time.Time         `db:"sent_at" json:"sent_at,omitempty"`
}

// NotificationCounts aggregates delivery outcomes for operator visibility.
type NotificationCounts struct {
	Pending int `db:"pending" json:"pending"`
	Sent    int `db:"sent" json:"sent"`
	Failed  int `db:"failed" json:"failed"`
}

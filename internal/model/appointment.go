package model

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	AppointmentStatusScheduled   AppointmentStatus = "scheduled"
	AppointmentStatusCheckedIn   AppointmentStatus = "checked_in"
	AppointmentStatusInProgress  AppointmentStatus = "in_progress"
	AppointmentStatusCompleted   AppointmentStatus = "completed"
	AppointmentStatusCancelled   AppointmentStatus = "cancelled"
	AppointmentStatusNoShow      AppointmentStatus = "no_show"
	AppointmentStatusRescheduled AppointmentStatus = "rescheduled"
)

// Appointment is a scheduled encounter between one patient and one doctor.
// Queue position, estimated start and delay are owned by the queue
// recalculation engine and are non-null only while the appointment is
// active; status and the transition timestamps are owned by the
// appointment service.
type Appointment struct {
	Base
	ClinicID        uuid.UUID         `db:"clinic_id" json:"clinic_id"`
	DoctorID        uuid.UUID         `db:"doctor_id" json:"doctor_id"`
	PatientID       uuid.UUID         `db:"patient_id" json:"patient_id"`
	ScheduledAt     time.Time         `db:"scheduled_at" json:"scheduled_at"`
	DurationMinutes int               `db:"duration_minutes" json:"duration_minutes"`
	Status          AppointmentStatus `db:"status" json:"status"`
	CheckedIn       bool              `db:"checked_in" json:"checked_in"`
	CheckedInAt     *time.Time        `db:"checked_in_at" json:"checked_in_at,omitempty"`
	StartedAt       *time.Time        `db:"started_at" json:"started_at,omitempty"`
	EndedAt         *time.Time        `db:"ended_at" json:"ended_at,omitempty"`
	DelayMinutes    int               `db:"delay_minutes" json:"delay_minutes"`
	QueuePosition   *int              `db:"queue_position" json:"queue_position,omitempty"`
	EstimatedStart  *time.Time        `db:"estimated_start" json:"estimated_start,omitempty"`
	Notes           string            `db:"notes" json:"notes,omitempty"`
	CancelReason    *string           `db:"cancel_reason" json:"cancel_reason,omitempty"`
}

// ServiceDay returns the calendar date the appointment is scheduled on.
func (a *Appointment) ServiceDay() ServiceDay {
	return ServiceDayOf(a.ScheduledAt)
}

// Duration returns the planned consultation length.
func (a *Appointment) Duration() time.Duration {
	return time.Duration(a.DurationMinutes) * time.Minute
}

type CreateAppointmentRequest struct {
	ClinicID        uuid.UUID `json:"clinic_id" binding:"required"`
	DoctorID        uuid.UUID `json:"doctor_id" binding:"required"`
	PatientID       uuid.UUID `json:"patient_id" binding:"required"`
	ScheduledAt     time.Time `json:"scheduled_at" binding:"required"`
	DurationMinutes int       `json:"duration_minutes" binding:"required,min=5,max=240"`
	Notes           string    `json:"notes" binding:"max=1000"`
}

type RescheduleAppointmentRequest struct {
	ScheduledAt     time.Time `json:"scheduled_at" binding:"required"`
	DurationMinutes int       `json:"duration_minutes" binding:"required,min=5,max=240"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason" binding:"required,max=500"`
}

type AppointmentFilters struct {
	ClinicID  uuid.UUID
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Statuses  []AppointmentStatus
	StartDate time.Time
	EndDate   time.Time
}

// QueueAssignment is one appointment's recomputed queue placement,
// written back as part of a single all-or-nothing batch.
type QueueAssignment struct {
	AppointmentID  uuid.UUID
	Position       int
	EstimatedStart time.Time
	DelayMinutes   int
}

// QueueEntry is the read-side projection of one appointment on the
// doctor-day queue board.
type QueueEntry struct {
	AppointmentID  uuid.UUID         `json:"appointment_id"`
	PatientID      uuid.UUID         `json:"patient_id"`
	Status         AppointmentStatus `json:"status"`
	Position       int               `json:"position"`
	ScheduledAt    time.Time         `json:"scheduled_at"`
	EstimatedStart time.Time         `json:"estimated_start"`
	DelayMinutes   int               `json:"delay_minutes"`
}

// Package lifecycle owns the appointment state machine: which statuses
// exist, which transitions are legal, and which statuses keep an
// appointment eligible for queue positioning.
//
// The explicit checked_in status is canonical. The checked_in boolean
// and checked_in_at timestamp on the appointment row are a derived
// legacy view kept in sync by the appointment service: the flag is true
// iff the appointment passed through check-in, regardless of whether
// the row still reads scheduled or has already moved on. Downstream
// consumers treat both representations as "checked in".
package lifecycle

import (
	"github.com/healthdesk/clinic-api/internal/model"
	"github.com/healthdesk/clinic-api/pkg/errors"
)

var transitions = map[model.AppointmentStatus]map[model.AppointmentStatus]bool{
	model.AppointmentStatusScheduled: {
		model.AppointmentStatusCheckedIn:   true,
		model.AppointmentStatusInProgress:  true, // only when checked in, see CanStart
		model.AppointmentStatusCancelled:   true,
		model.AppointmentStatusNoShow:      true,
		model.AppointmentStatusRescheduled: true,
	},
	model.AppointmentStatusCheckedIn: {
		model.AppointmentStatusInProgress:  true,
		model.AppointmentStatusCancelled:   true,
		model.AppointmentStatusNoShow:      true,
		model.AppointmentStatusRescheduled: true,
	},
	model.AppointmentStatusInProgress: {
		model.AppointmentStatusCompleted:   true,
		model.AppointmentStatusCancelled:   true,
		model.AppointmentStatusNoShow:      true,
		model.AppointmentStatusRescheduled: true,
	},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to model.AppointmentStatus) bool {
	return transitions[from][to]
}

// Transition validates the move and returns the target status, failing
// with an InvalidTransition error otherwise.
func Transition(from, to model.AppointmentStatus) (model.AppointmentStatus, error) {
	if !CanTransition(from, to) {
		return from, errors.NewInvalidTransition(string(from), string(to))
	}
	return to, nil
}

// CanCheckIn reports whether the appointment may check in now.
func CanCheckIn(a *model.Appointment) bool {
	return a.Status == model.AppointmentStatusScheduled && !a.CheckedIn
}

// CanStart reports whether a consultation may begin: either the
// explicit checked_in status, or scheduled with the legacy flag set.
func CanStart(a *model.Appointment) bool {
	if a.Status == model.AppointmentStatusCheckedIn {
		return true
	}
	return a.Status == model.AppointmentStatusScheduled && a.CheckedIn
}

// Terminal reports whether the status is final. Rescheduled is the
// terminal marker for the source record; the replacement appointment is
// a fresh row.
func Terminal(s model.AppointmentStatus) bool {
	switch s {
	case model.AppointmentStatusCompleted,
		model.AppointmentStatusCancelled,
		model.AppointmentStatusNoShow,
		model.AppointmentStatusRescheduled:
		return true
	}
	return false
}

// Active reports whether the status keeps the appointment eligible for
// queue positioning.
func Active(s model.AppointmentStatus) bool {
	switch s {
	case model.AppointmentStatusScheduled,
		model.AppointmentStatusCheckedIn,
		model.AppointmentStatusInProgress:
		return true
	}
	return false
}

// ActiveStatuses is the queue-eligible status set, in lifecycle order.
func ActiveStatuses() []model.AppointmentStatus {
	return []model.AppointmentStatus{
		model.AppointmentStatusScheduled,
		model.AppointmentStatusCheckedIn,
		model.AppointmentStatusInProgress,
	}
}

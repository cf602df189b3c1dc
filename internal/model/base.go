package model

import (
	"time"

	"github.com/google/uuid"
)

// Base contains common fields for all models
type Base struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ServiceDay is the doctor-local calendar date an appointment falls on,
// the scope of one queue recalculation run. Stored as YYYY-MM-DD.
type ServiceDay string

const serviceDayLayout = "2006-01-02"

// ServiceDayOf truncates t to its calendar date.
func ServiceDayOf(t time.Time) ServiceDay {
	return ServiceDay(t.Format(serviceDayLayout))
}

// Bounds returns the half-open interval [start, end) covering the day.
func (d ServiceDay) Bounds() (time.Time, time.Time, error) {
	start, err := time.Parse(serviceDayLayout, string(d))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.Add(24 * time.Hour), nil
}

func (d ServiceDay) String() string { return string(d) }

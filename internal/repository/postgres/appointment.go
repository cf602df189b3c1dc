package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/healthdesk/clinic-api/internal/model"
	"github.com/healthdesk/clinic-api/internal/repository"
)

const appointmentColumns = `
	id, clinic_id, doctor_id, patient_id, scheduled_at, duration_minutes,
	status, checked_in, checked_in_at, started_at, ended_at,
	delay_minutes, queue_position, estimated_start, notes, cancel_reason,
	created_at, updated_at
`

type appointmentRepository struct {
	BaseRepository
}

func NewAppointmentRepository(base BaseRepository) repository.AppointmentRepository {
	return &appointmentRepository{base}
}

func (r *appointmentRepository) Create(ctx context.Context, appointment *model.Appointment) error {
	query := `
		INSERT INTO appointments (
			id, clinic_id, doctor_id, patient_id, scheduled_at,
			duration_minutes, status, checked_in, notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	if appointment.ID == uuid.Nil {
		appointment.ID = uuid.New()
	}
	appointment.CreatedAt = time.Now()
	appointment.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		appointment.ID,
		appointment.ClinicID,
		appointment.DoctorID,
		appointment.PatientID,
		appointment.ScheduledAt,
		appointment.DurationMinutes,
		appointment.Status,
		appointment.CheckedIn,
		appointment.Notes,
		appointment.CreatedAt,
		appointment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`

	var appointment model.Appointment
	err := r.db.GetContext(ctx, &appointment, query, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("appointment not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get appointment: %w", err)
	}
	return &appointment, nil
}

func (r *appointmentRepository) Update(ctx context.Context, appointment *model.Appointment) error {
	query := `
		UPDATE appointments
		SET scheduled_at = $1, duration_minutes = $2, status = $3,
			checked_in = $4, checked_in_at = $5, started_at = $6, ended_at = $7,
			delay_minutes = $8, queue_position = $9, estimated_start = $10,
			notes = $11, cancel_reason = $12, updated_at = $13
		WHERE id = $14
	`
	appointment.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, query,
		appointment.ScheduledAt,
		appointment.DurationMinutes,
		appointment.Status,
		appointment.CheckedIn,
		appointment.CheckedInAt,
		appointment.StartedAt,
		appointment.EndedAt,
		appointment.DelayMinutes,
		appointment.QueuePosition,
		appointment.EstimatedStart,
		appointment.Notes,
		appointment.CancelReason,
		appointment.UpdatedAt,
		appointment.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update appointment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("appointment not found")
	}

	return nil
}

func (r *appointmentRepository) List(ctx context.Context, filters *model.AppointmentFilters) ([]*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE 1=1`
	args := []interface{}{}
	argCount := 1

	if filters.ClinicID != uuid.Nil {
		query += fmt.Sprintf(" AND clinic_id = $%d", argCount)
		args = append(args, filters.ClinicID)
		argCount++
	}

	if filters.DoctorID != uuid.Nil {
		query += fmt.Sprintf(" AND doctor_id = $%d", argCount)
		args = append(args, filters.DoctorID)
		argCount++
	}

	if filters.PatientID != uuid.Nil {
		query += fmt.Sprintf(" AND patient_id = $%d", argCount)
		args = append(args, filters.PatientID)
		argCount++
	}

	if len(filters.Statuses) > 0 {
		placeholders := make([]string, len(filters.Statuses))
		for i, s := range filters.Statuses {
			placeholders[i] = fmt.Sprintf("$%d", argCount)
			args = append(args, string(s))
			argCount++
		}
		query += " AND status IN (" + strings.Join(placeholders, ", ") + ")"
	}

	if !filters.StartDate.IsZero() {
		query += fmt.Sprintf(" AND scheduled_at >= $%d", argCount)
		args = append(args, filters.StartDate)
		argCount++
	}

	if !filters.EndDate.IsZero() {
		query += fmt.Sprintf(" AND scheduled_at < $%d", argCount)
		args = append(args, filters.EndDate)
		argCount++
	}

	query += " ORDER BY scheduled_at ASC, id ASC"

	var appointments []*model.Appointment
	err := r.db.SelectContext(ctx, &appointments, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	return appointments, nil
}

func (r *appointmentRepository) ListActiveForDay(ctx context.Context, doctorID uuid.UUID, day model.ServiceDay) ([]*model.Appointment, error) {
	start, end, err := day.Bounds()
	if err != nil {
		return nil, fmt.Errorf("invalid service day %q: %w", day, err)
	}

	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE doctor_id = $1
		AND scheduled_at >= $2 AND scheduled_at < $3
		AND status IN ('scheduled', 'checked_in', 'in_progress')
		ORDER BY scheduled_at ASC, id ASC
	`
	var appointments []*model.Appointment
	if err := r.db.SelectContext(ctx, &appointments, query, doctorID, start, end); err != nil {
		return nil, fmt.Errorf("failed to list active appointments: %w", err)
	}
	return appointments, nil
}

func (r *appointmentRepository) ApplyQueueAssignments(ctx context.Context, assignments []model.QueueAssignment) error {
	if len(assignments) == 0 {
		return nil
	}

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			UPDATE appointments
			SET queue_position = $1, estimated_start = $2, delay_minutes = $3, updated_at = NOW()
			WHERE id = $4
		`
		for _, a := range assignments {
			result, err := tx.ExecContext(ctx, query, a.Position, a.EstimatedStart, a.DelayMinutes, a.AppointmentID)
			if err != nil {
				return fmt.Errorf("failed to apply queue assignment: %w", err)
			}
			rows, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to get rows affected: %w", err)
			}
			if rows == 0 {
				return fmt.Errorf("appointment %s vanished during recalculation", a.AppointmentID)
			}
		}
		return nil
	})
}

func (r *appointmentRepository) CheckConflicts(ctx context.Context, doctorID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE doctor_id = $1
			AND status IN ('scheduled', 'checked_in', 'in_progress')
			AND (
				(scheduled_at <= $2 AND scheduled_at + duration_minutes * INTERVAL '1 minute' > $2)
				OR (scheduled_at < $3 AND scheduled_at + duration_minutes * INTERVAL '1 minute' >= $3)
				OR (scheduled_at >= $2 AND scheduled_at + duration_minutes * INTERVAL '1 minute' <= $3)
			)
	`
	args := []interface{}{doctorID, start, end}

	if excludeID != nil {
		query += " AND id != $4"
		args = append(args, *excludeID)
	}

	query += ")"

	var hasConflict bool
	err := r.db.GetContext(ctx, &hasConflict, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to check conflicts: %w", err)
	}
	return hasConflict, nil
}

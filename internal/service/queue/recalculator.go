// Package queue derives per-doctor, per-day queue positions and
// estimated start times from the current appointment snapshot. The
// model is a single server per doctor: a late start cascades through
// every later appointment on the same day.
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/healthdesk/clinic-api/internal/model"
	"github.com/healthdesk/clinic-api/internal/repository"
	"github.com/healthdesk/clinic-api/pkg/errors"
	"github.com/healthdesk/clinic-api/pkg/logger"
	"github.com/healthdesk/clinic-api/pkg/messaging"
	"github.com/healthdesk/clinic-api/pkg/metrics"
)

// Plan computes queue assignments for the given active appointments,
// assigning positions sequentially from startFrom. It is pure and
// deterministic: ordering is a strict function of scheduled time with
// id as the tie-breaker, so repeated runs over the same snapshot yield
// identical assignments. The input slice is not modified.
func Plan(appointments []*model.Appointment, startFrom int) []model.QueueAssignment {
	if startFrom < 1 {
		startFrom = 1
	}
	if len(appointments) == 0 {
		return nil
	}

	sorted := make([]*model.Appointment, len(appointments))
	copy(sorted, appointments)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].ScheduledAt.Equal(sorted[j].ScheduledAt) {
			return sorted[i].ScheduledAt.Before(sorted[j].ScheduledAt)
		}
		return bytes.Compare(sorted[i].ID[:], sorted[j].ID[:]) < 0
	})

	assignments := make([]model.QueueAssignment, 0, len(sorted))
	var cursor time.Time

	for i, apt := range sorted {
		var estimated time.Time
		switch {
		case apt.Status == model.AppointmentStatusInProgress && apt.StartedAt != nil:
			// Real elapsed time is authoritative once the
			// consultation has begun.
			estimated = *apt.StartedAt
		case cursor.IsZero() || apt.ScheduledAt.After(cursor):
			estimated = apt.ScheduledAt
		default:
			estimated = cursor
		}

		delay := int(estimated.Sub(apt.ScheduledAt) / time.Minute)
		if delay < 0 {
			delay = 0
		}

		assignments = append(assignments, model.QueueAssignment{
			AppointmentID:  apt.ID,
			Position:       startFrom + i,
			EstimatedStart: estimated,
			DelayMinutes:   delay,
		})

		cursor = estimated.Add(apt.Duration())
	}

	return assignments
}

// Engine reads a doctor-day snapshot, recomputes the plan and writes
// back only the rows whose values changed, in one transaction. It is
// the sole writer of queue position, estimated start and delay fields.
type Engine struct {
	repo    repository.AppointmentRepository
	broker  messaging.Broker
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewEngine(repo repository.AppointmentRepository, broker messaging.Broker, logger *logger.Logger, metrics *metrics.Metrics) *Engine {
	return &Engine{
		repo:    repo,
		broker:  broker,
		logger:  logger,
		metrics: metrics,
	}
}

// Recalculate recomputes positions and ETAs for one doctor-day. A day
// with no active appointments is a no-op. The computation is
// deterministic for a fixed snapshot, which makes retries idempotent.
func (e *Engine) Recalculate(ctx context.Context, doctorID uuid.UUID, day model.ServiceDay, startFrom int) error {
	timer := prometheus.NewTimer(e.metrics.RecalculationLatency)
	defer timer.ObserveDuration()

	appointments, err := e.repo.ListActiveForDay(ctx, doctorID, day)
	if err != nil {
		return errors.NewTransientStore("list active appointments", err)
	}
	if len(appointments) == 0 {
		return nil
	}

	plan := Plan(appointments, startFrom)
	changed := diff(appointments, plan)
	e.metrics.Recalculations.Inc()

	if len(changed) == 0 {
		return nil
	}

	if err := e.repo.ApplyQueueAssignments(ctx, changed); err != nil {
		return errors.NewTransientStore("apply queue assignments", err)
	}
	e.metrics.AppointmentsReordered.Add(float64(len(changed)))

	e.logger.Debug("queue recalculated",
		"doctor_id", doctorID.String(),
		"service_day", day.String(),
		"active", len(appointments),
		"updated", len(changed))

	if e.broker != nil {
		update := map[string]interface{}{
			"doctor_id":   doctorID,
			"service_day": day,
		}
		if err := e.broker.Publish(ctx, messaging.ChannelQueueUpdates, update); err != nil {
			// Fan-out is best effort; the written state is already correct.
			e.logger.Warn("failed to publish queue update", "error", err.Error())
		}
	}

	return nil
}

// HandleJob adapts Recalculate to the job queue handler contract.
func (e *Engine) HandleJob(ctx context.Context, job *model.Job) error {
	var payload model.RecalculateQueuePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return errors.NewValidation("malformed recalculation payload", err)
	}
	if payload.DoctorID == uuid.Nil {
		return errors.NewValidation("recalculation payload missing doctor id", nil)
	}
	if _, _, err := payload.ServiceDay.Bounds(); err != nil {
		return errors.NewValidation(fmt.Sprintf("invalid service day %q", payload.ServiceDay), err)
	}
	return e.Recalculate(ctx, payload.DoctorID, payload.ServiceDay, payload.StartFromPosition)
}

// diff keeps only assignments that change stored values, avoiding
// spurious change-feed churn from rewriting identical rows.
func diff(appointments []*model.Appointment, plan []model.QueueAssignment) []model.QueueAssignment {
	byID := make(map[uuid.UUID]*model.Appointment, len(appointments))
	for _, apt := range appointments {
		byID[apt.ID] = apt
	}

	changed := make([]model.QueueAssignment, 0, len(plan))
	for _, a := range plan {
		apt := byID[a.AppointmentID]
		if apt == nil {
			continue
		}
		if apt.QueuePosition != nil && *apt.QueuePosition == a.Position &&
			apt.EstimatedStart != nil && apt.EstimatedStart.Equal(a.EstimatedStart) &&
			apt.DelayMinutes == a.DelayMinutes {
			continue
		}
		changed = append(changed, a)
	}
	return changed
}

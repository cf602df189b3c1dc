package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/healthdesk/clinic-api/internal/jobqueue"
	"github.com/healthdesk/clinic-api/internal/lifecycle"
	"github.com/healthdesk/clinic-api/internal/model"
	"github.com/healthdesk/clinic-api/internal/repository"
	"github.com/healthdesk/clinic-api/internal/service/notification"
	"github.com/healthdesk/clinic-api/pkg/errors"
	"github.com/healthdesk/clinic-api/pkg/logger"
)

const (
	MinAppointmentDuration = 5 * time.Minute
	MaxAppointmentDuration = 4 * time.Hour
)

// Service drives appointments through the lifecycle state machine. It
// is the sole writer of status and transition timestamps; every
// successful transition enqueues a queue recalculation for the
// affected doctor-day. Lifecycle errors are returned synchronously and
// never queued.
type Service struct {
	repo     repository.AppointmentRepository
	queue    *jobqueue.Queue
	notifSvc notification.Service
	logger   *logger.Logger
}

func NewService(repo repository.AppointmentRepository, queue *jobqueue.Queue, notifSvc notification.Service, logger *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		queue:    queue,
		notifSvc: notifSvc,
		logger:   logger,
	}
}

func (s *Service) Create(ctx context.Context, req *model.CreateAppointmentRequest) (*model.Appointment, error) {
	apt := &model.Appointment{
		ClinicID:        req.ClinicID,
		DoctorID:        req.DoctorID,
		PatientID:       req.PatientID,
		ScheduledAt:     req.ScheduledAt,
		DurationMinutes: req.DurationMinutes,
		Status:          model.AppointmentStatusScheduled,
		Notes:           req.Notes,
	}
	apt.ID = uuid.New()

	if err := s.validate(ctx, apt, nil); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, apt); err != nil {
		return nil, errors.NewTransientStore("create appointment", err)
	}

	s.scheduleRecalculation(ctx, apt.DoctorID, apt.ServiceDay())
	s.notify(ctx, apt.PatientID, "Appointment scheduled",
		fmt.Sprintf("Your appointment is scheduled for %s.", apt.ScheduledAt.Format(time.RFC1123)))

	return apt, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	apt, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, errors.NewNotFound("appointment", err)
	}
	return apt, nil
}

func (s *Service) List(ctx context.Context, filters *model.AppointmentFilters) ([]*model.Appointment, error) {
	appointments, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, errors.NewTransientStore("list appointments", err)
	}
	return appointments, nil
}

// CheckIn marks the patient as arrived. Valid only once, from
// scheduled. The explicit checked_in status is canonical; the boolean
// flag and timestamp are maintained as the legacy view.
func (s *Service) CheckIn(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	apt, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !lifecycle.CanCheckIn(apt) {
		return nil, errors.NewInvalidTransition(string(apt.Status), string(model.AppointmentStatusCheckedIn))
	}

	now := time.Now()
	apt.Status = model.AppointmentStatusCheckedIn
	apt.CheckedIn = true
	apt.CheckedInAt = &now

	if err := s.repo.Update(ctx, apt); err != nil {
		return nil, errors.NewTransientStore("update appointment", err)
	}

	s.scheduleRecalculation(ctx, apt.DoctorID, apt.ServiceDay())
	return apt, nil
}

// Start begins the consultation and records the actual start time,
// which anchors the delay cascade for the rest of the day.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	apt, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !lifecycle.CanStart(apt) {
		return nil, errors.NewInvalidTransition(string(apt.Status), string(model.AppointmentStatusInProgress))
	}

	now := time.Now()
	apt.Status = model.AppointmentStatusInProgress
	apt.StartedAt = &now

	if err := s.repo.Update(ctx, apt); err != nil {
		return nil, errors.NewTransientStore("update appointment", err)
	}

	s.scheduleRecalculation(ctx, apt.DoctorID, apt.ServiceDay())
	return apt, nil
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	apt, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	newStatus, err := lifecycle.Transition(apt.Status, model.AppointmentStatusCompleted)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	apt.Status = newStatus
	apt.EndedAt = &now
	clearQueueFields(apt)

	if err := s.repo.Update(ctx, apt); err != nil {
		return nil, errors.NewTransientStore("update appointment", err)
	}

	s.scheduleRecalculation(ctx, apt.DoctorID, apt.ServiceDay())
	return apt, nil
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*model.Appointment, error) {
	apt, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	newStatus, err := lifecycle.Transition(apt.Status, model.AppointmentStatusCancelled)
	if err != nil {
		return nil, err
	}

	apt.Status = newStatus
	apt.CancelReason = &reason
	clearQueueFields(apt)

	if err := s.repo.Update(ctx, apt); err != nil {
		return nil, errors.NewTransientStore("update appointment", err)
	}

	s.scheduleRecalculation(ctx, apt.DoctorID, apt.ServiceDay())
	return apt, nil
}

func (s *Service) NoShow(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	apt, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	newStatus, err := lifecycle.Transition(apt.Status, model.AppointmentStatusNoShow)
	if err != nil {
		return nil, err
	}

	apt.Status = newStatus
	clearQueueFields(apt)

	if err := s.repo.Update(ctx, apt); err != nil {
		return nil, errors.NewTransientStore("update appointment", err)
	}

	s.scheduleRecalculation(ctx, apt.DoctorID, apt.ServiceDay())
	return apt, nil
}

// Reschedule marks the source record rescheduled and creates a fresh
// scheduled appointment at the new time. Both the original and the new
// service day get a recalculation.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, req *model.RescheduleAppointmentRequest) (*model.Appointment, error) {
	apt, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	newStatus, err := lifecycle.Transition(apt.Status, model.AppointmentStatusRescheduled)
	if err != nil {
		return nil, err
	}

	replacement := &model.Appointment{
		ClinicID:        apt.ClinicID,
		DoctorID:        apt.DoctorID,
		PatientID:       apt.PatientID,
		ScheduledAt:     req.ScheduledAt,
		DurationMinutes: req.DurationMinutes,
		Status:          model.AppointmentStatusScheduled,
		Notes:           apt.Notes,
	}
	replacement.ID = uuid.New()

	if err := s.validate(ctx, replacement, &apt.ID); err != nil {
		return nil, err
	}

	originalDay := apt.ServiceDay()

	apt.Status = newStatus
	clearQueueFields(apt)

	if err := s.repo.Update(ctx, apt); err != nil {
		return nil, errors.NewTransientStore("update appointment", err)
	}
	if err := s.repo.Create(ctx, replacement); err != nil {
		return nil, errors.NewTransientStore("create replacement appointment", err)
	}

	s.scheduleRecalculation(ctx, apt.DoctorID, originalDay)
	if newDay := replacement.ServiceDay(); newDay != originalDay {
		s.scheduleRecalculation(ctx, apt.DoctorID, newDay)
	}

	s.notify(ctx, apt.PatientID, "Appointment rescheduled",
		fmt.Sprintf("Your appointment was moved to %s.", replacement.ScheduledAt.Format(time.RFC1123)))

	return replacement, nil
}

func (s *Service) validate(ctx context.Context, apt *model.Appointment, excludeID *uuid.UUID) error {
	if apt.PatientID == uuid.Nil {
		return errors.NewValidation("patient is required", nil)
	}
	if apt.DoctorID == uuid.Nil {
		return errors.NewValidation("doctor is required", nil)
	}

	duration := apt.Duration()
	if duration < MinAppointmentDuration || duration > MaxAppointmentDuration {
		return errors.NewValidation(
			fmt.Sprintf("duration must be between %v and %v", MinAppointmentDuration, MaxAppointmentDuration), nil)
	}

	hasConflict, err := s.repo.CheckConflicts(ctx, apt.DoctorID, apt.ScheduledAt, apt.ScheduledAt.Add(duration), excludeID)
	if err != nil {
		return errors.NewTransientStore("check conflicts", err)
	}
	if hasConflict {
		return errors.NewValidation("appointment conflicts with an existing booking", nil)
	}

	return nil
}

// scheduleRecalculation enqueues the follow-up job. Enqueue failure is
// logged, not returned: the transition itself already committed and
// the next change-feed event or transition will reconverge the queue.
func (s *Service) scheduleRecalculation(ctx context.Context, doctorID uuid.UUID, day model.ServiceDay) {
	if _, err := s.queue.EnqueueRecalculation(ctx, doctorID, day); err != nil {
		s.logger.Error(err, "failed to enqueue queue recalculation",
			"doctor_id", doctorID.String(), "service_day", day.String())
	}
}

// notify is best effort; a delivery problem never blocks a transition.
func (s *Service) notify(ctx context.Context, recipientID uuid.UUID, title, message string) {
	if s.notifSvc == nil {
		return
	}
	if _, err := s.notifSvc.Notify(ctx, model.NotificationTypeAppointment, recipientID, title, message, model.PriorityNormal); err != nil {
		s.logger.Error(err, "failed to queue notification", "recipient_id", recipientID.String())
	}
}

func clearQueueFields(apt *model.Appointment) {
	apt.QueuePosition = nil
	apt.EstimatedStart = nil
	apt.DelayMinutes = 0
}

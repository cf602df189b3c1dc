// Package notification tracks user-facing messages through a
// pending/sent/failed lifecycle and delivers them asynchronously via
// the job queue. Delivery is best effort: a failed notification never
// rolls back or blocks the domain transition that produced it.
package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/healthdesk/clinic-api/internal/email"
	"github.com/healthdesk/clinic-api/internal/jobqueue"
	"github.com/healthdesk/clinic-api/internal/model"
	"github.com/healthdesk/clinic-api/internal/repository"
	"github.com/healthdesk/clinic-api/pkg/errors"
	"github.com/healthdesk/clinic-api/pkg/logger"
	"github.com/healthdesk/clinic-api/pkg/messaging"
	"github.com/healthdesk/clinic-api/pkg/metrics"
)

type Service interface {
	// Notify records a pending notification and schedules its delivery.
	// Exactly one record is created per call; callers decide which
	// transitions are user-visible.
	Notify(ctx context.Context, typ model.NotificationType, recipientID uuid.UUID, title, message string, priority int) (uuid.UUID, error)

	// Deliver executes a queued SendNotification job.
	Deliver(ctx context.Context, job *model.Job) error

	Counts(ctx context.Context) (*model.NotificationCounts, error)
}

type service struct {
	repo    repository.NotificationRepository
	queue   *jobqueue.Queue
	sender  email.Sender
	broker  messaging.Broker
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewService(
	repo repository.NotificationRepository,
	queue *jobqueue.Queue,
	sender email.Sender,
	broker messaging.Broker,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) Service {
	return &service{
		repo:    repo,
		queue:   queue,
		sender:  sender,
		broker:  broker,
		logger:  logger,
		metrics: metrics,
	}
}

func (s *service) Notify(ctx context.Context, typ model.NotificationType, recipientID uuid.UUID, title, message string, priority int) (uuid.UUID, error) {
	if recipientID == uuid.Nil {
		return uuid.Nil, errors.NewValidation("recipient is required", nil)
	}
	if title == "" || message == "" {
		return uuid.Nil, errors.NewValidation("title and message are required", nil)
	}
	if priority == 0 {
		priority = model.PriorityNormal
	}

	notification := &model.Notification{
		ID:          uuid.New(),
		Type:        typ,
		RecipientID: recipientID,
		Title:       title,
		Message:     message,
		Priority:    priority,
	}
	if err := s.repo.Create(ctx, notification); err != nil {
		return uuid.Nil, errors.NewTransientStore("create notification", err)
	}

	payload := model.SendNotificationPayload{
		NotificationID: notification.ID,
		RecipientID:    recipientID,
		Type:           string(typ),
		Title:          title,
		Message:        message,
		Priority:       priority,
	}
	if _, err := s.queue.Enqueue(ctx, model.JobTypeSendNotification, payload, jobqueue.Options{
		Priority: priority,
	}); err != nil {
		// The record stays pending; the operator sees it in the counts.
		s.logger.Error(err, "failed to schedule notification delivery",
			"notification_id", notification.ID.String())
		return notification.ID, err
	}

	return notification.ID, nil
}

func (s *service) Deliver(ctx context.Context, job *model.Job) error {
	var payload model.SendNotificationPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return errors.NewValidation("malformed notification payload", err)
	}

	if err := s.send(ctx, &payload); err != nil {
		s.metrics.NotificationsFailed.Inc()
		// The record only flips to failed once the job is out of
		// retries; until then it stays pending with the latest error.
		if job.RetryCount >= job.MaxRetries {
			if markErr := s.repo.MarkFailed(ctx, payload.NotificationID, err.Error()); markErr != nil {
				s.logger.Error(markErr, "failed to mark notification failed",
					"notification_id", payload.NotificationID.String())
			}
		} else if recErr := s.repo.RecordError(ctx, payload.NotificationID, err.Error()); recErr != nil {
			s.logger.Error(recErr, "failed to record notification error",
				"notification_id", payload.NotificationID.String())
		}
		return errors.NewDelivery("email", err)
	}

	if err := s.repo.MarkSent(ctx, payload.NotificationID, time.Now()); err != nil {
		return errors.NewTransientStore("mark notification sent", err)
	}
	s.metrics.NotificationsSent.Inc()
	return nil
}

func (s *service) send(ctx context.Context, payload *model.SendNotificationPayload) error {
	if err := s.sender.Send(ctx, payload.RecipientID, payload.Title, payload.Message); err != nil {
		return err
	}

	if s.broker != nil {
		event := map[string]interface{}{
			"notification_id": payload.NotificationID,
			"recipient_id":    payload.RecipientID,
			"type":            payload.Type,
			"title":           payload.Title,
		}
		if err := s.broker.Publish(ctx, messaging.ChannelNotifications, event); err != nil {
			// In-app fan-out is advisory once the primary channel succeeded.
			s.logger.Warn("failed to publish notification event", "error", err.Error())
		}
	}
	return nil
}

func (s *service) Counts(ctx context.Context) (*model.NotificationCounts, error) {
	counts, err := s.repo.Counts(ctx)
	if err != nil {
		return nil, errors.NewTransientStore("count notifications", err)
	}
	return counts, nil
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/healthdesk/clinic-api/internal/model"
	"github.com/healthdesk/clinic-api/internal/repository"
)

type notificationRepository struct {
	BaseRepository
}

func NewNotificationRepository(base BaseRepository) repository.NotificationRepository {
	return &notificationRepository{base}
}

func (r *notificationRepository) Create(ctx context.Context, notification *model.Notification) error {
	query := `
		INSERT INTO notifications (
			id, type, recipient_id, title, message, priority, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if notification.ID == uuid.Nil {
		notification.ID = uuid.New()
	}
	notification.Status = model.NotificationStatusPending
	notification.CreatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		notification.ID,
		notification.Type,
		notification.RecipientID,
		notification.Title,
		notification.Message,
		notification.Priority,
		notification.Status,
		notification.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	query := `
		SELECT id, type, recipient_id, title, message, priority, status,
			   last_error, created_at, sent_at
		FROM notifications
		WHERE id = $1
	`
	var notification model.Notification
	err := r.db.GetContext(ctx, &notification, query, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("notification not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return &notification, nil
}

func (r *notificationRepository) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE notifications
		SET status = 'sent', sent_at = $1, last_error = NULL
		WHERE id = $2
	`
	_, err := r.db.ExecContext(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}
	return nil
}

func (r *notificationRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	query := `
		UPDATE notifications
		SET status = 'failed', last_error = $1
		WHERE id = $2
	`
	_, err := r.db.ExecContext(ctx, query, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification failed: %w", err)
	}
	return nil
}

func (r *notificationRepository) RecordError(ctx context.Context, id uuid.UUID, errMsg string) error {
	query := `
		UPDATE notifications
		SET last_error = $1
		WHERE id = $2
	`
	_, err := r.db.ExecContext(ctx, query, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to record notification error: %w", err)
	}
	return nil
}

func (r *notificationRepository) Counts(ctx context.Context) (*model.NotificationCounts, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE status = 'sent') AS sent,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed
		FROM notifications
	`
	var counts model.NotificationCounts
	if err := r.db.GetContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("failed to count notifications: %w", err)
	}
	return &counts, nil
}

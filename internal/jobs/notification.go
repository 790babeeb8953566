package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rmoura-dev/docflow/internal/common"
	"github.com/rmoura-dev/docflow/internal/entity"
	"github.com/rmoura-dev/docflow/internal/repository"
)

// NotificationPayload is the queue payload for notification jobs.
type NotificationPayload struct {
	OrganizationID uuid.UUID               `json:"organization_id"`
	UserID         uuid.UUID               `json:"user_id"`
	Type           entity.NotificationType `json:"type"`
	Title          string                  `json:"title"`
	Body           string                  `json:"body,omitempty"`
}

// NotificationDispatcher persists notification rows. Delivery to outer
// channels (email, push) hangs off the persisted row and is best effort.
type NotificationDispatcher struct {
	notes  repository.NotificationRepository
	logger *slog.Logger
}

func NewNotificationDispatcher(notes repository.NotificationRepository, logger *slog.Logger) *NotificationDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationDispatcher{notes: notes, logger: logger}
}

// Handle is the queue handler for notification jobs.
func (d *NotificationDispatcher) Handle(ctx context.Context, job *entity.Job) error {
	var payload NotificationPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return common.NewAppError("INVALID_PAYLOAD", "decode notification payload", err)
	}
	if payload.Type == "" {
		payload.Type = entity.NotificationGeneral
	}

	err := d.notes.Create(ctx, &entity.Notification{
		OrganizationID: payload.OrganizationID,
		UserID:         payload.UserID,
		Type:           payload.Type,
		Title:          payload.Title,
		Body:           payload.Body,
	})
	if err != nil {
		return err
	}

	d.logger.Info("notification.dispatched",
		"user_id", payload.UserID,
		"type", string(payload.Type),
	)
	return nil
}

// HandleExhausted drops the notification: it is best effort by contract.
func (d *NotificationDispatcher) HandleExhausted(ctx context.Context, job *entity.Job, err error) {
	d.logger.Warn("notification.dropped", "job_id", job.ID, "error", err)
}

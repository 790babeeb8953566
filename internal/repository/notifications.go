package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rmoura-dev/docflow/internal/common"
	"github.com/rmoura-dev/docflow/internal/entity"
)

// NotificationRepository persists per-user notifications.
type NotificationRepository interface {
	Create(ctx context.Context, note *entity.Notification) error
	ListUnread(ctx context.Context, userID uuid.UUID, limit int) ([]*entity.Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
}

type notificationRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewNotificationRepository(pool *pgxpool.Pool, logger *slog.Logger) NotificationRepository {
	return &notificationRepository{pool: pool, logger: logger}
}

func (r *notificationRepository) Create(ctx context.Context, note *entity.Notification) error {
	if note.ID == uuid.Nil {
		note.ID = uuid.New()
	}
	note.CreatedAt = time.Now().UTC()

	_, err := r.pool.Exec(ctx,
		`INSERT INTO notifications (id, organization_id, user_id, type, title, body, read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, false, $7)`,
		note.ID, note.OrganizationID, note.UserID, note.Type, note.Title, note.Body, note.CreatedAt)
	if err != nil {
		r.logger.Error("failed to create notification", "user_id", note.UserID, "error", err)
		return common.NewAppError("DB_ERROR", "create notification", err)
	}
	return nil
}

func (r *notificationRepository) ListUnread(ctx context.Context, userID uuid.UUID, limit int) ([]*entity.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, organization_id, user_id, type, title, body, read, created_at
		 FROM notifications WHERE user_id = $1 AND NOT read
		 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, common.NewAppError("DB_ERROR", "list notifications", err)
	}
	defer rows.Close()

	var notes []*entity.Notification
	for rows.Next() {
		var note entity.Notification
		if err := rows.Scan(&note.ID, &note.OrganizationID, &note.UserID, &note.Type,
			&note.Title, &note.Body, &note.Read, &note.CreatedAt); err != nil {
			return nil, common.NewAppError("DB_ERROR", "scan notification", err)
		}
		notes = append(notes, &note)
	}
	return notes, rows.Err()
}

func (r *notificationRepository) MarkRead(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE notifications SET read = true WHERE id = $1`, id)
	if err != nil {
		return common.NewAppError("DB_ERROR", "mark notification read", err)
	}
	return nil
}

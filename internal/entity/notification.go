package entity

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType categorizes persisted notifications.
type NotificationType string

const (
	NotificationWorkflowCompleted NotificationType = "workflow_completed"
	NotificationWorkflowFailed    NotificationType = "workflow_failed"
	NotificationLedgerProcessed   NotificationType = "ledger_processed"
	NotificationGeneral           NotificationType = "general"
)

// Notification is a persisted, per-user message. Dispatch is best effort;
// the row is the source of truth.
type Notification struct {
	ID             uuid.UUID        `json:"id"`
	OrganizationID uuid.UUID        `json:"organization_id"`
	UserID         uuid.UUID        `json:"user_id"`
	Type           NotificationType `json:"type"`
	Title          string           `json:"title"`
	Body           string           `json:"body,omitempty"`
	Read           bool             `json:"read"`
	CreatedAt      time.Time        `json:"created_at"`
}

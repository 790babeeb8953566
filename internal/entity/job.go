package entity

import (
	"encoding/json"
	"time"

	"github.com/rmoura-dev/docflow/constants"
)

// Job is a durable unit of async work. The job ID is the idempotency key:
// resubmitting the same ID never duplicates execution.
type Job struct {
	ID          string             `json:"id"`
	Type        constants.JobType  `json:"type"`
	Payload     json.RawMessage    `json:"payload"`
	Priority    int                `json:"priority"`
	State       constants.JobState `json:"state"`
	Attempts    int                `json:"attempts"`
	MaxAttempts int                `json:"max_attempts"`
	LastError   string             `json:"last_error,omitempty"`
	RunAfter    time.Time          `json:"run_after"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	FinishedAt  *time.Time         `json:"finished_at,omitempty"`
}

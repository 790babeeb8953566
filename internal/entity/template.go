package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FieldType enumerates the value types a template field may declare.
type FieldType string

const (
	FieldText    FieldType = "text"
	FieldNumber  FieldType = "number"
	FieldDate    FieldType = "date"
	FieldBoolean FieldType = "boolean"
	FieldEnum    FieldType = "enum"
	FieldJSON    FieldType = "json"
)

// FieldRules holds per-field validation constraints. Zero values mean
// "no constraint"; pointers distinguish 0 from unset.
type FieldRules struct {
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	MinLength int      `json:"min_length,omitempty"`
	MaxLength int      `json:"max_length,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
	Enum      []string `json:"enum,omitempty"`
}

// FieldDef describes one field a template expects to extract.
type FieldDef struct {
	Name     string      `json:"name"`
	Label    string      `json:"label"`
	Type     FieldType   `json:"type"`
	Required bool        `json:"required"`
	Rules    *FieldRules `json:"rules,omitempty"`
}

// CrossRuleType enumerates cross-field rule kinds.
type CrossRuleType string

const (
	RequiredTogether  CrossRuleType = "required_together"
	MutuallyExclusive CrossRuleType = "mutually_exclusive"
)

// CrossRule is a validation rule spanning multiple fields.
type CrossRule struct {
	Type    CrossRuleType `json:"type"`
	Fields  []string      `json:"fields"`
	Message string        `json:"message,omitempty"`
}

// Template defines how a document's content maps onto normalized data.
type Template struct {
	ID                 uuid.UUID       `json:"id"`
	OrganizationID     uuid.UUID       `json:"organization_id"`
	Name               string          `json:"name"`
	Description        string          `json:"description,omitempty"`
	Fields             []FieldDef      `json:"fields"`
	CrossRules         []CrossRule     `json:"cross_rules,omitempty"`
	Schema             json.RawMessage `json:"schema,omitempty"` // optional JSON-schema for compatibility checks
	DocumentsProcessed int             `json:"documents_processed"`
	LastUsedAt         *time.Time      `json:"last_used_at,omitempty"`
	IsActive           bool            `json:"is_active"`
	CreatedBy          uuid.UUID       `json:"created_by"`
	CreatedAt          time.Time       `json:"created_at"`
}

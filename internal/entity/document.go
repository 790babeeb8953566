package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rmoura-dev/docflow/constants"
)

// Document represents an ingested file for data transfer between layers.
// Normalization and classification advance independently; see constants.
type Document struct {
	ID                   uuid.UUID                      `json:"id"`
	OrganizationID       uuid.UUID                      `json:"organization_id"`
	UploadedBy           uuid.UUID                      `json:"uploaded_by"`
	Filename             string                         `json:"filename"`
	FilePath             string                         `json:"file_path"`
	FileExt              string                         `json:"file_ext"`
	ContentHash          []byte                         `json:"content_hash"`
	TemplateID           *uuid.UUID                     `json:"template_id,omitempty"`
	NormalizationStatus  constants.NormalizationStatus  `json:"normalization_status"`
	NormalizationError   *string                        `json:"normalization_error,omitempty"`
	ClassificationStatus constants.ClassificationStatus `json:"classification_status"`
	ClassificationError  *string                        `json:"classification_error,omitempty"`
	Progress             int                            `json:"progress"`
	DraftData            json.RawMessage                `json:"draft_data,omitempty"`
	DraftConfidence      *int                           `json:"draft_confidence,omitempty"`
	NormalizedRecordID   *uuid.UUID                     `json:"normalized_record_id,omitempty"`
	UploadedAt           time.Time                      `json:"uploaded_at"`
	CompletedAt          *time.Time                     `json:"completed_at,omitempty"`
}

// HasDraft reports whether the document holds a pending draft payload.
func (d *Document) HasDraft() bool {
	return d.ClassificationStatus == constants.ClassificationDraft && len(d.DraftData) > 0
}

// NormalizedRecord is one row of the permanent normalized-data container.
type NormalizedRecord struct {
	ID             uuid.UUID       `json:"id"`
	OrganizationID uuid.UUID       `json:"organization_id"`
	DocumentID     uuid.UUID       `json:"document_id"`
	TemplateID     uuid.UUID       `json:"template_id"`
	Data           json.RawMessage `json:"data"`
	CreatedBy      uuid.UUID       `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
}

package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rmoura-dev/docflow/constants"
	"github.com/rmoura-dev/docflow/internal/common"
	"github.com/rmoura-dev/docflow/internal/entity"
)

// DocumentRepository persists documents and their independent status pair.
type DocumentRepository interface {
	Create(ctx context.Context, doc *entity.Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Document, error)
	UpdateNormalization(ctx context.Context, id uuid.UUID, status constants.NormalizationStatus, errMsg *string) error
	UpdateClassification(ctx context.Context, id uuid.UUID, status constants.ClassificationStatus, errMsg *string) error
	UpdateProgress(ctx context.Context, id uuid.UUID, progress int) error
	SaveDraft(ctx context.Context, id uuid.UUID, draft []byte, confidence int) error
	ClearDraft(ctx context.Context, id uuid.UUID) error
	LinkNormalizedRecord(ctx context.Context, id uuid.UUID, recordID uuid.UUID) error
}

type documentRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewDocumentRepository(pool *pgxpool.Pool, logger *slog.Logger) DocumentRepository {
	return &documentRepository{pool: pool, logger: logger}
}

const documentColumns = `id, organization_id, uploaded_by, filename, file_path, file_ext, content_hash,
	template_id, normalization_status, normalization_error, classification_status, classification_error,
	progress, draft_data, draft_confidence, normalized_record_id, uploaded_at, completed_at`

func (r *documentRepository) Create(ctx context.Context, doc *entity.Document) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	doc.UploadedAt = time.Now().UTC()
	if doc.NormalizationStatus == "" {
		doc.NormalizationStatus = constants.NormalizationPending
	}
	if doc.ClassificationStatus == "" {
		doc.ClassificationStatus = constants.ClassificationPending
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO documents (id, organization_id, uploaded_by, filename, file_path, file_ext, content_hash,
		     template_id, normalization_status, classification_status, progress, uploaded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11)`,
		doc.ID, doc.OrganizationID, doc.UploadedBy, doc.Filename, doc.FilePath, doc.FileExt,
		doc.ContentHash, doc.TemplateID, doc.NormalizationStatus, doc.ClassificationStatus, doc.UploadedAt)
	if err != nil {
		r.logger.Error("failed to create document", "document_id", doc.ID, "error", err)
		return common.NewAppError("DB_ERROR", "create document", err)
	}
	return nil
}

func (r *documentRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)

	var doc entity.Document
	err := row.Scan(&doc.ID, &doc.OrganizationID, &doc.UploadedBy, &doc.Filename, &doc.FilePath,
		&doc.FileExt, &doc.ContentHash, &doc.TemplateID, &doc.NormalizationStatus, &doc.NormalizationError,
		&doc.ClassificationStatus, &doc.ClassificationError, &doc.Progress, &doc.DraftData,
		&doc.DraftConfidence, &doc.NormalizedRecordID, &doc.UploadedAt, &doc.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewAppError("NOT_FOUND", "document not found", common.ErrNotFound)
		}
		r.logger.Error("failed to get document", "document_id", id, "error", err)
		return nil, common.NewAppError("DB_ERROR", "get document", err)
	}
	return &doc, nil
}

func (r *documentRepository) UpdateNormalization(ctx context.Context, id uuid.UUID, status constants.NormalizationStatus, errMsg *string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE documents SET normalization_status = $2, normalization_error = $3 WHERE id = $1`,
		id, status, errMsg)
	if err != nil {
		r.logger.Error("failed to update normalization status", "document_id", id, "status", status, "error", err)
		return common.NewAppError("DB_ERROR", "update normalization status", err)
	}
	return nil
}

func (r *documentRepository) UpdateClassification(ctx context.Context, id uuid.UUID, status constants.ClassificationStatus, errMsg *string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE documents SET classification_status = $2, classification_error = $3 WHERE id = $1`,
		id, status, errMsg)
	if err != nil {
		r.logger.Error("failed to update classification status", "document_id", id, "status", status, "error", err)
		return common.NewAppError("DB_ERROR", "update classification status", err)
	}
	return nil
}

func (r *documentRepository) UpdateProgress(ctx context.Context, id uuid.UUID, progress int) error {
	_, err := r.pool.Exec(ctx, `UPDATE documents SET progress = $2 WHERE id = $1`, id, progress)
	if err != nil {
		return common.NewAppError("DB_ERROR", "update progress", err)
	}
	return nil
}

func (r *documentRepository) SaveDraft(ctx context.Context, id uuid.UUID, draft []byte, confidence int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE documents SET draft_data = $2, draft_confidence = $3, classification_status = $4 WHERE id = $1`,
		id, draft, confidence, constants.ClassificationDraft)
	if err != nil {
		r.logger.Error("failed to save draft", "document_id", id, "error", err)
		return common.NewAppError("DB_ERROR", "save draft", err)
	}
	return nil
}

func (r *documentRepository) ClearDraft(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE documents SET draft_data = NULL, draft_confidence = NULL WHERE id = $1`, id)
	if err != nil {
		return common.NewAppError("DB_ERROR", "clear draft", err)
	}
	return nil
}

func (r *documentRepository) LinkNormalizedRecord(ctx context.Context, id uuid.UUID, recordID uuid.UUID) error {
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx,
		`UPDATE documents SET normalized_record_id = $2, completed_at = $3 WHERE id = $1`,
		id, recordID, now)
	if err != nil {
		return common.NewAppError("DB_ERROR", "link normalized record", err)
	}
	return nil
}

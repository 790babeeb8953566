package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rmoura-dev/docflow/internal/common"
	"github.com/rmoura-dev/docflow/internal/entity"
)

// NormalizedRecordRepository persists approved normalized data.
type NormalizedRecordRepository interface {
	Create(ctx context.Context, record *entity.NormalizedRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.NormalizedRecord, error)
	GetByDocument(ctx context.Context, documentID uuid.UUID) (*entity.NormalizedRecord, error)
}

type normalizedRecordRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewNormalizedRecordRepository(pool *pgxpool.Pool, logger *slog.Logger) NormalizedRecordRepository {
	return &normalizedRecordRepository{pool: pool, logger: logger}
}

// Create stores the record, replacing a previous payload for the same
// document. The surviving row id is written back so callers link the right
// row after a re-approval.
func (r *normalizedRecordRepository) Create(ctx context.Context, record *entity.NormalizedRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	record.CreatedAt = time.Now().UTC()

	err := r.pool.QueryRow(ctx,
		`INSERT INTO normalized_records (id, organization_id, document_id, template_id, data, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (document_id) DO UPDATE
		 SET template_id = EXCLUDED.template_id,
		     data = EXCLUDED.data,
		     created_by = EXCLUDED.created_by,
		     created_at = EXCLUDED.created_at
		 RETURNING id`,
		record.ID, record.OrganizationID, record.DocumentID, record.TemplateID,
		record.Data, record.CreatedBy, record.CreatedAt).Scan(&record.ID)
	if err != nil {
		r.logger.Error("failed to create normalized record", "document_id", record.DocumentID, "error", err)
		return common.NewAppError("DB_ERROR", "create normalized record", err)
	}
	return nil
}

func (r *normalizedRecordRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.NormalizedRecord, error) {
	return r.get(ctx, `SELECT id, organization_id, document_id, template_id, data, created_by, created_at
		FROM normalized_records WHERE id = $1`, id)
}

func (r *normalizedRecordRepository) GetByDocument(ctx context.Context, documentID uuid.UUID) (*entity.NormalizedRecord, error) {
	return r.get(ctx, `SELECT id, organization_id, document_id, template_id, data, created_by, created_at
		FROM normalized_records WHERE document_id = $1`, documentID)
}

func (r *normalizedRecordRepository) get(ctx context.Context, query string, arg any) (*entity.NormalizedRecord, error) {
	var record entity.NormalizedRecord
	err := r.pool.QueryRow(ctx, query, arg).Scan(&record.ID, &record.OrganizationID, &record.DocumentID,
		&record.TemplateID, &record.Data, &record.CreatedBy, &record.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewAppError("NOT_FOUND", "normalized record not found", common.ErrNotFound)
		}
		r.logger.Error("failed to get normalized record", "error", err)
		return nil, common.NewAppError("DB_ERROR", "get normalized record", err)
	}
	return &record, nil
}

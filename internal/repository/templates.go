package repository

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rmoura-dev/docflow/internal/common"
	"github.com/rmoura-dev/docflow/internal/entity"
)

// TemplateRepository persists extraction templates.
type TemplateRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Template, error)
	ListActive(ctx context.Context, organizationID uuid.UUID) ([]*entity.Template, error)
	RecordUsage(ctx context.Context, id uuid.UUID) error
}

type templateRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewTemplateRepository(pool *pgxpool.Pool, logger *slog.Logger) TemplateRepository {
	return &templateRepository{pool: pool, logger: logger}
}

func (r *templateRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Template, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, organization_id, name, description, fields, cross_rules, schema,
		        documents_processed, last_used_at, is_active, created_by, created_at
		 FROM templates WHERE id = $1`, id)
	return scanTemplate(row, r.logger)
}

func (r *templateRepository) ListActive(ctx context.Context, organizationID uuid.UUID) ([]*entity.Template, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, organization_id, name, description, fields, cross_rules, schema,
		        documents_processed, last_used_at, is_active, created_by, created_at
		 FROM templates WHERE organization_id = $1 AND is_active ORDER BY name`, organizationID)
	if err != nil {
		r.logger.Error("failed to list templates", "organization_id", organizationID, "error", err)
		return nil, common.NewAppError("DB_ERROR", "list templates", err)
	}
	defer rows.Close()

	var templates []*entity.Template
	for rows.Next() {
		tmpl, err := scanTemplate(rows, r.logger)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tmpl)
	}
	return templates, rows.Err()
}

// RecordUsage bumps the processed counter and usage timestamp after a
// successful save.
func (r *templateRepository) RecordUsage(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE templates SET documents_processed = documents_processed + 1, last_used_at = $2 WHERE id = $1`,
		id, time.Now().UTC())
	if err != nil {
		return common.NewAppError("DB_ERROR", "record template usage", err)
	}
	return nil
}

func scanTemplate(row pgx.Row, logger *slog.Logger) (*entity.Template, error) {
	var (
		tmpl       entity.Template
		fields     []byte
		crossRules []byte
	)
	err := row.Scan(&tmpl.ID, &tmpl.OrganizationID, &tmpl.Name, &tmpl.Description, &fields, &crossRules,
		&tmpl.Schema, &tmpl.DocumentsProcessed, &tmpl.LastUsedAt, &tmpl.IsActive, &tmpl.CreatedBy, &tmpl.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewAppError("NOT_FOUND", "template not found", common.ErrNotFound)
		}
		logger.Error("failed to scan template", "error", err)
		return nil, common.NewAppError("DB_ERROR", "get template", err)
	}

	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &tmpl.Fields); err != nil {
			return nil, common.NewAppError("DB_ERROR", "decode template fields", err)
		}
	}
	if len(crossRules) > 0 {
		if err := json.Unmarshal(crossRules, &tmpl.CrossRules); err != nil {
			return nil, common.NewAppError("DB_ERROR", "decode template cross rules", err)
		}
	}
	return &tmpl, nil
}

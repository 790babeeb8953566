package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rmoura-dev/docflow/internal/common"
)

// Chunk is one embeddable slice of a document's canonical content.
type Chunk struct {
	DocumentID uuid.UUID
	Index      int
	Text       string
	Vector     []float32
}

// EmbeddingRepository persists chunk vectors. Writes are incremental so a
// retried job resumes where the last batch stopped.
type EmbeddingRepository interface {
	SaveBatch(ctx context.Context, chunks []Chunk) error
	CountByDocument(ctx context.Context, documentID uuid.UUID) (int, error)
	DeleteByDocument(ctx context.Context, documentID uuid.UUID) error
}

type embeddingRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewEmbeddingRepository(pool *pgxpool.Pool, logger *slog.Logger) EmbeddingRepository {
	return &embeddingRepository{pool: pool, logger: logger}
}

func (r *embeddingRepository) SaveBatch(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return common.NewAppError("DB_ERROR", "begin save embeddings", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	for _, chunk := range chunks {
		_, err := tx.Exec(ctx,
			`INSERT INTO document_embeddings (document_id, chunk_index, chunk_text, embedding, created_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (document_id, chunk_index) DO UPDATE SET chunk_text = $3, embedding = $4`,
			chunk.DocumentID, chunk.Index, chunk.Text, chunk.Vector, now)
		if err != nil {
			return common.NewAppError("DB_ERROR", "insert embedding", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return common.NewAppError("DB_ERROR", "commit save embeddings", err)
	}

	r.logger.Debug("embeddings.batch_saved", "document_id", chunks[0].DocumentID, "count", len(chunks))
	return nil
}

func (r *embeddingRepository) CountByDocument(ctx context.Context, documentID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM document_embeddings WHERE document_id = $1`, documentID).Scan(&count)
	if err != nil {
		return 0, common.NewAppError("DB_ERROR", "count embeddings", err)
	}
	return count, nil
}

func (r *embeddingRepository) DeleteByDocument(ctx context.Context, documentID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM document_embeddings WHERE document_id = $1`, documentID)
	if err != nil {
		return common.NewAppError("DB_ERROR", "delete embeddings", err)
	}
	return nil
}

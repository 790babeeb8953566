package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rmoura-dev/docflow/constants"
	"github.com/rmoura-dev/docflow/internal/ai"
	"github.com/rmoura-dev/docflow/internal/common"
	"github.com/rmoura-dev/docflow/internal/entity"
	"github.com/rmoura-dev/docflow/internal/events"
	"github.com/rmoura-dev/docflow/internal/repository"
)

// Embedding jobs send chunks to the provider in fixed batches with a
// cooldown pause between calls.
const (
	EmbeddingBatchSize = 100
	embeddingCooldown  = time.Second
)

// EmbeddingPayload is the queue payload for embedding-generation jobs.
type EmbeddingPayload struct {
	DocumentID uuid.UUID `json:"document_id"`
	Chunks     []string  `json:"chunks"`
}

// EmbeddingGenerator turns document chunks into persisted vectors and walks
// the owning document through chunking and embedding. Each batch is
// persisted as soon as it returns, so a retried job resumes instead of
// restarting.
type EmbeddingGenerator struct {
	embedder ai.Embedder
	store    repository.EmbeddingRepository
	docs     repository.DocumentRepository
	bus      *events.Bus
	cooldown time.Duration
	logger   *slog.Logger
}

func NewEmbeddingGenerator(embedder ai.Embedder, store repository.EmbeddingRepository, docs repository.DocumentRepository, bus *events.Bus, logger *slog.Logger) *EmbeddingGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmbeddingGenerator{
		embedder: embedder,
		store:    store,
		docs:     docs,
		bus:      bus,
		cooldown: embeddingCooldown,
		logger:   logger,
	}
}

// Handle is the queue handler for embedding-generation jobs.
func (g *EmbeddingGenerator) Handle(ctx context.Context, job *entity.Job) error {
	var payload EmbeddingPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return common.NewAppError("INVALID_PAYLOAD", "decode embedding payload", err)
	}
	if len(payload.Chunks) == 0 {
		return g.finalize(ctx, payload.DocumentID)
	}

	// skip batches persisted by a previous attempt
	already, err := g.store.CountByDocument(ctx, payload.DocumentID)
	if err != nil {
		return err
	}
	if already >= len(payload.Chunks) {
		g.logger.Info("embedding.already_done", "document_id", payload.DocumentID, "chunks", already)
		return g.finalize(ctx, payload.DocumentID)
	}
	start := already - already%EmbeddingBatchSize

	if err := g.docs.UpdateClassification(ctx, payload.DocumentID, constants.ClassificationChunking, nil); err != nil {
		return err
	}
	if err := g.docs.UpdateClassification(ctx, payload.DocumentID, constants.ClassificationEmbedding, nil); err != nil {
		return err
	}

	total := len(payload.Chunks)
	for offset := start; offset < total; offset += EmbeddingBatchSize {
		end := offset + EmbeddingBatchSize
		if end > total {
			end = total
		}
		batch := payload.Chunks[offset:end]

		vectors, err := g.embedder.Embed(ctx, batch)
		if err != nil {
			return fmt.Errorf("embed batch at %d: %w", offset, err)
		}

		chunks := make([]repository.Chunk, len(batch))
		for i := range batch {
			chunks[i] = repository.Chunk{
				DocumentID: payload.DocumentID,
				Index:      offset + i,
				Text:       batch[i],
				Vector:     vectors[i],
			}
		}
		if err := g.store.SaveBatch(ctx, chunks); err != nil {
			return err
		}

		g.bus.Emit(job.ID, events.EventProgress, events.EventData{
			Status:   "embedding",
			Progress: end * 100 / total,
			Message:  fmt.Sprintf("embedded %d/%d chunks", end, total),
		})

		if end < total {
			select {
			case <-time.After(g.cooldown):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if err := g.finalize(ctx, payload.DocumentID); err != nil {
		return err
	}

	g.bus.Emit(job.ID, events.EventComplete, events.EventData{
		Status:   "completed",
		Progress: 100,
		Stats:    map[string]int{"chunks": total},
	})
	return nil
}

// finalize settles the document after its vectors are in place. A document
// still carrying draft data goes to draft for human review, anything else
// is done.
func (g *EmbeddingGenerator) finalize(ctx context.Context, documentID uuid.UUID) error {
	doc, err := g.docs.GetByID(ctx, documentID)
	if err != nil {
		return err
	}
	status := constants.ClassificationCompleted
	if len(doc.DraftData) > 0 {
		status = constants.ClassificationDraft
	}
	return g.docs.UpdateClassification(ctx, documentID, status, nil)
}

// HandleExhausted marks the owning document failed with the terminal error
// and publishes it; partial batches stay persisted for the next submission.
func (g *EmbeddingGenerator) HandleExhausted(ctx context.Context, job *entity.Job, err error) {
	var payload EmbeddingPayload
	if decodeErr := json.Unmarshal(job.Payload, &payload); decodeErr != nil {
		g.logger.Error("embedding.exhausted_payload_undecodable", "job_id", job.ID, "error", decodeErr)
	} else {
		msg := err.Error()
		if updateErr := g.docs.UpdateClassification(ctx, payload.DocumentID, constants.ClassificationFailed, &msg); updateErr != nil {
			g.logger.Error("embedding.exhausted_update_failed",
				"document_id", payload.DocumentID, "error", updateErr)
		}
	}
	g.bus.Emit(job.ID, events.EventError, events.EventData{
		Status: "failed",
		Error:  err.Error(),
	})
}

package ai

import (
	"context"

	"github.com/rmoura-dev/docflow/internal/entity"
)

// ExtractRequest carries everything the extractor needs for one document.
type ExtractRequest struct {
	Content      string
	FilenameHint string
	Template     *entity.Template
	Language     string
}

// Extraction is the structured outcome of a field-extraction call.
// Confidence is the share of template fields the model filled, 0..100.
type Extraction struct {
	Fields     map[string]any
	Confidence int
	RawJSON    []byte
}

// FieldExtractor is the interface the normalization pipeline depends on.
type FieldExtractor interface {
	ExtractFields(ctx context.Context, req ExtractRequest) (Extraction, error)
}

// Embedder turns text chunks into vectors.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

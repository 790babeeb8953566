package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmoura-dev/docflow/internal/common"
	"github.com/rmoura-dev/docflow/internal/entity"
)

func newTestClient(baseURL string) *Client {
	return NewClient(common.AIConfig{
		BaseURL:        baseURL,
		Model:          "test-model",
		EmbeddingModel: "test-embed",
		APIKey:         "sk-test",
	}, nil)
}

func extractionTemplate() *entity.Template {
	return &entity.Template{
		Name: "invoice",
		Fields: []entity.FieldDef{
			{Name: "supplier", Type: entity.FieldText, Required: true},
			{Name: "total", Type: entity.FieldNumber, Required: true},
			{Name: "issue_date", Type: entity.FieldDate},
			{Name: "notes", Type: entity.FieldText},
		},
	}
}

func chatResponse(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
}

func TestExtractFieldsParsesModelOutput(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/chat/completions", r.URL.Path)
		_ = json.NewEncoder(w).Encode(chatResponse(
			`{"supplier":"ACME","total":1234.56,"issue_date":"2024-01-15"}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	extraction, err := client.ExtractFields(context.Background(), ExtractRequest{
		Content:  "Nota fiscal ...",
		Template: extractionTemplate(),
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "ACME", extraction.Fields["supplier"])
	// 3 of 4 fields filled
	assert.Equal(t, 75, extraction.Confidence)
	assert.JSONEq(t, `{"supplier":"ACME","total":1234.56,"issue_date":"2024-01-15"}`, string(extraction.RawJSON))
}

func TestExtractFieldsRejectsInvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(chatResponse("sorry, I cannot do that"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).ExtractFields(context.Background(), ExtractRequest{
		Content:  "text",
		Template: extractionTemplate(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestExtractFieldsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).ExtractFields(context.Background(), ExtractRequest{
		Content:  "text",
		Template: extractionTemplate(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestEmbedPreservesInputOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		// indexes deliberately out of order
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float32{0.2}},
				{"index": 0, "embedding": []float32{0.1}},
			},
		})
	}))
	defer srv.Close()

	vectors, err := newTestClient(srv.URL).Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, float32(0.1), vectors[0][0])
	assert.Equal(t, float32(0.2), vectors[1][0])
}

func TestEmbedCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"index": 0, "embedding": []float32{0.1}}},
		})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Embed(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatch")
}

func TestEmbedEmptyInputIsNoop(t *testing.T) {
	vectors, err := newTestClient("http://unused").Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestConfidence(t *testing.T) {
	defs := extractionTemplate().Fields

	assert.Equal(t, 100, Confidence(defs, map[string]any{
		"supplier": "A", "total": 1.0, "issue_date": "2024-01-01", "notes": "x",
	}))
	assert.Equal(t, 50, Confidence(defs, map[string]any{
		"supplier": "A", "total": 1.0, "issue_date": nil, "notes": "",
	}))
	assert.Equal(t, 0, Confidence(defs, map[string]any{}))
	assert.Equal(t, 0, Confidence(nil, map[string]any{"x": 1}))
}

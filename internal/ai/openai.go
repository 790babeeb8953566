package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rmoura-dev/docflow/internal/common"
	"github.com/rmoura-dev/docflow/internal/entity"
)

// Client talks to an OpenAI-compatible API. It implements FieldExtractor
// and Embedder.
type Client struct {
	cfg  common.AIConfig
	http *http.Client
	log  *slog.Logger
}

func NewClient(cfg common.AIConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 45 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
		log:  logger,
	}
}

func (c *Client) headers() map[string]string {
	h := map[string]string{}
	if c.cfg.APIKey != "" {
		h["Authorization"] = "Bearer " + c.cfg.APIKey
	}
	return h
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}

// ExtractFields implements FieldExtractor using text-only chat/completions.
func (c *Client) ExtractFields(ctx context.Context, req ExtractRequest) (Extraction, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.log.Info("ai.extract.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"text_len", len(req.Content),
		"template", req.Template.Name,
		"fields", len(req.Template.Fields),
	)

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": buildSystemPrompt(req)},
			{"role": "user", "content": buildUserPrompt(req) + "\n\nReturn ONLY a JSON object with the listed field names as keys."},
		},
	}

	raw, _, err := SendJSON(ctx, c.http, c.endpoint("/chat/completions"), body, c.headers(), c.log)
	if err != nil {
		c.log.Error("ai.extract.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return Extraction{}, err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.log.Error("ai.extract.decode_error", "req_id", rid, "error", err, "raw_bytes", len(raw))
		return Extraction{}, fmt.Errorf("decode chat response: %w", err)
	}
	if len(cc.Choices) == 0 {
		c.log.Error("ai.extract.no_choices", "req_id", rid, "raw", string(raw))
		return Extraction{}, fmt.Errorf("no choices in chat response")
	}

	content := []byte(strings.TrimSpace(cc.Choices[0].Message.Content))
	var fields map[string]any
	if err := json.Unmarshal(content, &fields); err != nil {
		c.log.Error("ai.extract.bad_json", "req_id", rid, "error", err, "content", string(content))
		return Extraction{}, fmt.Errorf("model returned invalid JSON: %w", err)
	}

	confidence := Confidence(req.Template.Fields, fields)
	c.log.Info("ai.extract.done",
		"req_id", rid,
		"filled", len(fields),
		"confidence", confidence,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return Extraction{Fields: fields, Confidence: confidence, RawJSON: content}, nil
}

// Embed implements Embedder via the /embeddings endpoint. Vector order
// matches input order.
func (c *Client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	body := map[string]any{
		"model": c.cfg.EmbeddingModel,
		"input": inputs,
	}

	raw, _, err := SendJSON(ctx, c.http, c.endpoint("/embeddings"), body, c.headers(), c.log)
	if err != nil {
		return nil, err
	}

	var er struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &er); err != nil {
		return nil, fmt.Errorf("decode embeddings response: %w", err)
	}
	if len(er.Data) != len(inputs) {
		return nil, fmt.Errorf("embeddings count mismatch: sent %d, got %d", len(inputs), len(er.Data))
	}

	vectors := make([][]float32, len(inputs))
	for _, d := range er.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// Confidence is the share of template fields the model filled, 0..100.
func Confidence(defs []entity.FieldDef, data map[string]any) int {
	if len(defs) == 0 {
		return 0
	}
	filled := 0
	for _, def := range defs {
		if v, ok := data[def.Name]; ok && v != nil && v != "" {
			filled++
		}
	}
	return filled * 100 / len(defs)
}

func buildSystemPrompt(req ExtractRequest) string {
	lang := req.Language
	if lang == "" {
		lang = "pt-BR"
	}
	return fmt.Sprintf(
		"You extract structured data from business documents. Document language: %s. "+
			"Use null for fields you cannot find. Dates as YYYY-MM-DD, amounts as plain numbers.", lang)
}

func buildUserPrompt(req ExtractRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Template: %s\nFields:\n", req.Template.Name)
	for _, def := range req.Template.Fields {
		required := ""
		if def.Required {
			required = " (required)"
		}
		fmt.Fprintf(&b, "- %s: %s%s\n", def.Name, def.Type, required)
	}
	if req.FilenameHint != "" {
		fmt.Fprintf(&b, "\nFilename: %s\n", req.FilenameHint)
	}
	fmt.Fprintf(&b, "\nDocument content:\n%s", req.Content)
	return b.String()
}

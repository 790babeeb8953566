package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/rmoura-dev/docflow/constants"
	"github.com/rmoura-dev/docflow/internal/ai"
	"github.com/rmoura-dev/docflow/internal/common"
	"github.com/rmoura-dev/docflow/internal/convert"
	"github.com/rmoura-dev/docflow/internal/entity"
	"github.com/rmoura-dev/docflow/internal/repository"
	"github.com/rmoura-dev/docflow/internal/validate"
)

// Drafts below this confidence carry a review warning.
const lowConfidenceThreshold = 70

// Service drives the two document state machines: the structural
// normalization pipeline (pending, validating, saving, completed, failed)
// and the AI classification pipeline (pending, extracting, draft,
// completed, failed). The dimensions are stored independently, but
// classification only starts once normalization has completed. Data
// reaches the permanent container only through Process or an approved
// draft.
type Service struct {
	docs      repository.DocumentRepository
	templates repository.TemplateRepository
	records   repository.NormalizedRecordRepository
	extractor ai.FieldExtractor
	converter *convert.Converter
	logger    *slog.Logger
}

func NewService(
	docs repository.DocumentRepository,
	templates repository.TemplateRepository,
	records repository.NormalizedRecordRepository,
	extractor ai.FieldExtractor,
	converter *convert.Converter,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		docs:      docs,
		templates: templates,
		records:   records,
		extractor: extractor,
		converter: converter,
		logger:    logger,
	}
}

// Result is the outcome of a normalization run.
type Result struct {
	Record *entity.NormalizedRecord
	Report *entity.ValidationReport
}

// Process runs a document through validating and saving into the permanent
// container. The document must be normalization-pending (or failed, for a
// rerun); validation rule violations fail the document, they do not error.
func (s *Service) Process(ctx context.Context, documentID uuid.UUID, data map[string]any, actor uuid.UUID) (*Result, error) {
	doc, err := s.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	switch doc.NormalizationStatus {
	case constants.NormalizationPending, constants.NormalizationFailed:
	default:
		return nil, common.NewAppError("INVALID_STATE",
			fmt.Sprintf("document is %s, expected pending", doc.NormalizationStatus), common.ErrConflict)
	}
	if doc.TemplateID == nil {
		return nil, common.NewAppError("NO_TEMPLATE", "document has no template assigned", common.ErrInvalidInput)
	}

	if err := s.docs.UpdateNormalization(ctx, doc.ID, constants.NormalizationValidating, nil); err != nil {
		return nil, err
	}

	tmpl, err := s.templates.GetByID(ctx, *doc.TemplateID)
	if err != nil {
		return nil, s.failNormalization(ctx, doc.ID, err)
	}
	if err := checkSchemaCompat(tmpl); err != nil {
		return nil, s.failNormalization(ctx, doc.ID, err)
	}

	report := validate.Record(tmpl, data)
	if !report.Valid {
		msg := validationSummary(report)
		if err := s.docs.UpdateNormalization(ctx, doc.ID, constants.NormalizationFailed, &msg); err != nil {
			return nil, err
		}
		s.logger.Warn("normalize.validation_failed",
			"document_id", doc.ID,
			"errors", len(report.Errors),
			"score", report.Score,
		)
		return &Result{Report: report}, nil
	}

	if err := s.docs.UpdateNormalization(ctx, doc.ID, constants.NormalizationSaving, nil); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, s.failNormalization(ctx, doc.ID, err)
	}
	record := &entity.NormalizedRecord{
		OrganizationID: doc.OrganizationID,
		DocumentID:     doc.ID,
		TemplateID:     tmpl.ID,
		Data:           raw,
		CreatedBy:      actor,
	}
	if err := s.records.Create(ctx, record); err != nil {
		return nil, s.failNormalization(ctx, doc.ID, err)
	}
	if err := s.docs.LinkNormalizedRecord(ctx, doc.ID, record.ID); err != nil {
		return nil, err
	}
	if err := s.templates.RecordUsage(ctx, tmpl.ID); err != nil {
		s.logger.Warn("normalize.usage_update_failed", "template_id", tmpl.ID, "error", err)
	}
	if err := s.docs.UpdateNormalization(ctx, doc.ID, constants.NormalizationCompleted, nil); err != nil {
		return nil, err
	}

	s.logger.Info("normalize.completed",
		"document_id", doc.ID,
		"record_id", record.ID,
		"template", tmpl.Name,
		"score", report.Score,
	)
	return &Result{Record: record, Report: report}, nil
}

// ExtractToDraft converts the document's content, runs the field extractor
// and parks the outcome as a draft awaiting human review. Nothing touches
// the permanent container here.
func (s *Service) ExtractToDraft(ctx context.Context, documentID uuid.UUID) (*entity.Document, error) {
	doc, err := s.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.NormalizationStatus != constants.NormalizationCompleted {
		return nil, common.NewAppError("NOT_NORMALIZED",
			fmt.Sprintf("document normalization is %s, extraction requires completed", doc.NormalizationStatus),
			common.ErrConflict)
	}
	switch doc.ClassificationStatus {
	case constants.ClassificationPending, constants.ClassificationFailed:
	default:
		return nil, common.NewAppError("INVALID_STATE",
			fmt.Sprintf("document is %s, expected pending", doc.ClassificationStatus), common.ErrConflict)
	}
	if doc.TemplateID == nil {
		return nil, common.NewAppError("NO_TEMPLATE", "document has no template assigned", common.ErrInvalidInput)
	}

	if err := s.docs.UpdateClassification(ctx, doc.ID, constants.ClassificationExtracting, nil); err != nil {
		return nil, err
	}

	tmpl, err := s.templates.GetByID(ctx, *doc.TemplateID)
	if err != nil {
		return nil, s.failClassification(ctx, doc.ID, err)
	}

	converted, err := s.converter.Convert(ctx, doc.FilePath)
	if err != nil {
		return nil, s.failClassification(ctx, doc.ID, err)
	}

	extraction, err := s.extractor.ExtractFields(ctx, ai.ExtractRequest{
		Content:      converted.Content,
		FilenameHint: doc.Filename,
		Template:     tmpl,
	})
	if err != nil {
		return nil, s.failClassification(ctx, doc.ID, err)
	}

	if extraction.Confidence < lowConfidenceThreshold {
		s.logger.Warn("normalize.low_confidence_draft",
			"document_id", doc.ID,
			"confidence", extraction.Confidence,
		)
	}
	if err := s.docs.SaveDraft(ctx, doc.ID, extraction.RawJSON, extraction.Confidence); err != nil {
		return nil, err
	}

	s.logger.Info("normalize.draft_ready",
		"document_id", doc.ID,
		"confidence", extraction.Confidence,
	)
	return s.docs.GetByID(ctx, doc.ID)
}

// ApproveDraft commits a draft to the permanent container. The draft is
// validated against its template and written directly; the record is
// persisted before the classification flips to completed, so a crash
// between the two leaves an approvable draft, never a lost record.
func (s *Service) ApproveDraft(ctx context.Context, documentID uuid.UUID, approvedBy uuid.UUID) (*Result, error) {
	doc, err := s.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !doc.HasDraft() {
		return nil, common.NewAppError("NO_DRAFT", "document has no draft awaiting approval", common.ErrConflict)
	}
	if doc.TemplateID == nil {
		return nil, common.NewAppError("NO_TEMPLATE", "document has no template assigned", common.ErrInvalidInput)
	}

	var data map[string]any
	if err := json.Unmarshal(doc.DraftData, &data); err != nil {
		return nil, common.NewAppError("BAD_DRAFT", "decode draft payload", err)
	}

	tmpl, err := s.templates.GetByID(ctx, *doc.TemplateID)
	if err != nil {
		return nil, err
	}

	report := validate.Record(tmpl, data)
	if !report.Valid {
		// classification stays in draft so the reviewer can fix the data
		// or reject
		s.logger.Warn("normalize.draft_rejected_by_validation",
			"document_id", doc.ID,
			"errors", len(report.Errors),
			"score", report.Score,
		)
		return &Result{Report: report}, nil
	}

	record := &entity.NormalizedRecord{
		OrganizationID: doc.OrganizationID,
		DocumentID:     doc.ID,
		TemplateID:     tmpl.ID,
		Data:           doc.DraftData,
		CreatedBy:      approvedBy,
	}
	if err := s.records.Create(ctx, record); err != nil {
		return nil, err
	}
	if err := s.docs.LinkNormalizedRecord(ctx, doc.ID, record.ID); err != nil {
		return nil, err
	}
	if err := s.templates.RecordUsage(ctx, tmpl.ID); err != nil {
		s.logger.Warn("normalize.usage_update_failed", "template_id", tmpl.ID, "error", err)
	}

	if err := s.docs.UpdateClassification(ctx, doc.ID, constants.ClassificationCompleted, nil); err != nil {
		return nil, err
	}
	if err := s.docs.ClearDraft(ctx, doc.ID); err != nil {
		return nil, err
	}

	s.logger.Info("normalize.draft_approved",
		"document_id", doc.ID,
		"record_id", record.ID,
		"approved_by", approvedBy,
	)
	return &Result{Record: record, Report: report}, nil
}

// RejectDraft discards the draft entirely and returns the document to
// classification-pending for a fresh extraction.
func (s *Service) RejectDraft(ctx context.Context, documentID uuid.UUID) error {
	doc, err := s.docs.GetByID(ctx, documentID)
	if err != nil {
		return err
	}
	if !doc.HasDraft() {
		return common.NewAppError("NO_DRAFT", "document has no draft to reject", common.ErrConflict)
	}

	if err := s.docs.ClearDraft(ctx, doc.ID); err != nil {
		return err
	}
	if err := s.docs.UpdateClassification(ctx, doc.ID, constants.ClassificationPending, nil); err != nil {
		return err
	}

	s.logger.Info("normalize.draft_rejected", "document_id", doc.ID)
	return nil
}

func (s *Service) failNormalization(ctx context.Context, id uuid.UUID, cause error) error {
	msg := cause.Error()
	if err := s.docs.UpdateNormalization(ctx, id, constants.NormalizationFailed, &msg); err != nil {
		s.logger.Error("normalize.fail_update_failed", "document_id", id, "error", err)
	}
	return cause
}

func (s *Service) failClassification(ctx context.Context, id uuid.UUID, cause error) error {
	msg := cause.Error()
	if err := s.docs.UpdateClassification(ctx, id, constants.ClassificationFailed, &msg); err != nil {
		s.logger.Error("normalize.fail_update_failed", "document_id", id, "error", err)
	}
	return cause
}

// checkSchemaCompat compiles the template's optional JSON schema. A schema
// that no longer compiles means the template drifted from its stored
// documents and the run must not proceed.
func checkSchemaCompat(tmpl *entity.Template) error {
	if len(tmpl.Schema) == 0 {
		return nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("template.json", strings.NewReader(string(tmpl.Schema))); err != nil {
		return common.NewAppError("SCHEMA_INCOMPATIBLE", "template schema rejected", err)
	}
	if _, err := compiler.Compile("template.json"); err != nil {
		return common.NewAppError("SCHEMA_INCOMPATIBLE", "template schema does not compile", err)
	}
	return nil
}

func validationSummary(report *entity.ValidationReport) string {
	codes := make([]string, 0, len(report.Errors))
	for _, issue := range report.Errors {
		codes = append(codes, issue.Code)
	}
	return fmt.Sprintf("validation failed (%d errors): %s", len(report.Errors), strings.Join(codes, ", "))
}

package normalize

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmoura-dev/docflow/constants"
	"github.com/rmoura-dev/docflow/internal/ai"
	"github.com/rmoura-dev/docflow/internal/common"
	"github.com/rmoura-dev/docflow/internal/convert"
	"github.com/rmoura-dev/docflow/internal/entity"
)

// --- fakes -----------------------------------------------------------------

type fakeDocs struct {
	doc                   *entity.Document
	normalizationStatuses []constants.NormalizationStatus
	classificationHistory []constants.ClassificationStatus
}

func (f *fakeDocs) Create(ctx context.Context, doc *entity.Document) error { return nil }
func (f *fakeDocs) GetByID(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	if f.doc == nil || f.doc.ID != id {
		return nil, common.NewAppError("NOT_FOUND", "document not found", common.ErrNotFound)
	}
	copied := *f.doc
	return &copied, nil
}
func (f *fakeDocs) UpdateNormalization(ctx context.Context, id uuid.UUID, status constants.NormalizationStatus, errMsg *string) error {
	f.doc.NormalizationStatus = status
	f.doc.NormalizationError = errMsg
	f.normalizationStatuses = append(f.normalizationStatuses, status)
	return nil
}
func (f *fakeDocs) UpdateClassification(ctx context.Context, id uuid.UUID, status constants.ClassificationStatus, errMsg *string) error {
	f.doc.ClassificationStatus = status
	f.doc.ClassificationError = errMsg
	f.classificationHistory = append(f.classificationHistory, status)
	return nil
}
func (f *fakeDocs) UpdateProgress(ctx context.Context, id uuid.UUID, progress int) error {
	f.doc.Progress = progress
	return nil
}
func (f *fakeDocs) SaveDraft(ctx context.Context, id uuid.UUID, draft []byte, confidence int) error {
	f.doc.DraftData = draft
	f.doc.DraftConfidence = &confidence
	f.doc.ClassificationStatus = constants.ClassificationDraft
	f.classificationHistory = append(f.classificationHistory, constants.ClassificationDraft)
	return nil
}
func (f *fakeDocs) ClearDraft(ctx context.Context, id uuid.UUID) error {
	f.doc.DraftData = nil
	f.doc.DraftConfidence = nil
	return nil
}
func (f *fakeDocs) LinkNormalizedRecord(ctx context.Context, id uuid.UUID, recordID uuid.UUID) error {
	f.doc.NormalizedRecordID = &recordID
	return nil
}

type fakeTemplates struct {
	tmpl       *entity.Template
	usageCount int
}

func (f *fakeTemplates) GetByID(ctx context.Context, id uuid.UUID) (*entity.Template, error) {
	if f.tmpl == nil {
		return nil, common.NewAppError("NOT_FOUND", "template not found", common.ErrNotFound)
	}
	return f.tmpl, nil
}
func (f *fakeTemplates) ListActive(ctx context.Context, orgID uuid.UUID) ([]*entity.Template, error) {
	return []*entity.Template{f.tmpl}, nil
}
func (f *fakeTemplates) RecordUsage(ctx context.Context, id uuid.UUID) error {
	f.usageCount++
	return nil
}

type fakeRecords struct {
	created []*entity.NormalizedRecord
}

// Create mirrors the repository upsert: one record per document, a second
// write replaces the payload and keeps the surviving row id.
func (f *fakeRecords) Create(ctx context.Context, record *entity.NormalizedRecord) error {
	for i, r := range f.created {
		if r.DocumentID == record.DocumentID {
			record.ID = r.ID
			f.created[i] = record
			return nil
		}
	}
	record.ID = uuid.New()
	f.created = append(f.created, record)
	return nil
}
func (f *fakeRecords) GetByID(ctx context.Context, id uuid.UUID) (*entity.NormalizedRecord, error) {
	for _, r := range f.created {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, common.NewAppError("NOT_FOUND", "record not found", common.ErrNotFound)
}
func (f *fakeRecords) GetByDocument(ctx context.Context, documentID uuid.UUID) (*entity.NormalizedRecord, error) {
	for _, r := range f.created {
		if r.DocumentID == documentID {
			return r, nil
		}
	}
	return nil, common.NewAppError("NOT_FOUND", "record not found", common.ErrNotFound)
}

type fakeExtractor struct {
	extraction ai.Extraction
	err        error
}

func (f *fakeExtractor) ExtractFields(ctx context.Context, req ai.ExtractRequest) (ai.Extraction, error) {
	return f.extraction, f.err
}

// --- helpers ---------------------------------------------------------------

func testTemplate() *entity.Template {
	return &entity.Template{
		ID:   uuid.New(),
		Name: "invoice",
		Fields: []entity.FieldDef{
			{Name: "supplier", Type: entity.FieldText, Required: true},
			{Name: "total", Type: entity.FieldNumber, Required: true},
		},
	}
}

func newFixture(t *testing.T) (*Service, *fakeDocs, *fakeTemplates, *fakeRecords, *fakeExtractor) {
	t.Helper()
	tmpl := testTemplate()

	dir := t.TempDir()
	filePath := filepath.Join(dir, "invoice.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("NOTA FISCAL ACME 1234,56"), 0o644))

	docs := &fakeDocs{doc: &entity.Document{
		ID:                   uuid.New(),
		OrganizationID:       uuid.New(),
		Filename:             "invoice.txt",
		FilePath:             filePath,
		TemplateID:           &tmpl.ID,
		NormalizationStatus:  constants.NormalizationPending,
		ClassificationStatus: constants.ClassificationPending,
	}}
	templates := &fakeTemplates{tmpl: tmpl}
	records := &fakeRecords{}
	extractor := &fakeExtractor{extraction: ai.Extraction{
		Fields:     map[string]any{"supplier": "ACME", "total": 1234.56},
		Confidence: 100,
		RawJSON:    []byte(`{"supplier":"ACME","total":1234.56}`),
	}}

	converter := convert.NewConverter(common.ConvertConfig{}, nil, nil)
	svc := NewService(docs, templates, records, extractor, converter, nil)
	return svc, docs, templates, records, extractor
}

// --- normalization pipeline ------------------------------------------------

func TestProcessWalksValidatingSavingCompleted(t *testing.T) {
	svc, docs, templates, records, _ := newFixture(t)
	actor := uuid.New()

	result, err := svc.Process(context.Background(), docs.doc.ID,
		map[string]any{"supplier": "ACME", "total": 99.5}, actor)
	require.NoError(t, err)

	assert.Equal(t, []constants.NormalizationStatus{
		constants.NormalizationValidating,
		constants.NormalizationSaving,
		constants.NormalizationCompleted,
	}, docs.normalizationStatuses)

	require.NotNil(t, result.Record)
	assert.Equal(t, actor, result.Record.CreatedBy)
	require.Len(t, records.created, 1)
	require.NotNil(t, docs.doc.NormalizedRecordID)
	assert.Equal(t, result.Record.ID, *docs.doc.NormalizedRecordID)
	assert.Equal(t, 1, templates.usageCount)
	assert.True(t, result.Report.Valid)
}

func TestProcessInvalidDataFailsDocumentWithoutError(t *testing.T) {
	svc, docs, _, records, _ := newFixture(t)

	result, err := svc.Process(context.Background(), docs.doc.ID,
		map[string]any{"supplier": "ACME"}, uuid.New()) // total missing
	require.NoError(t, err, "rule violations are report data, not errors")

	assert.Nil(t, result.Record)
	assert.False(t, result.Report.Valid)
	assert.Empty(t, records.created)
	assert.Equal(t, constants.NormalizationFailed, docs.doc.NormalizationStatus)
	require.NotNil(t, docs.doc.NormalizationError)
	assert.Contains(t, *docs.doc.NormalizationError, "REQUIRED_FIELD_MISSING")
}

func TestProcessRejectsNonPendingDocument(t *testing.T) {
	svc, docs, _, _, _ := newFixture(t)
	docs.doc.NormalizationStatus = constants.NormalizationCompleted

	_, err := svc.Process(context.Background(), docs.doc.ID, map[string]any{}, uuid.New())
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrConflict))
}

func TestProcessFailedDocumentCanRerun(t *testing.T) {
	svc, docs, _, _, _ := newFixture(t)
	docs.doc.NormalizationStatus = constants.NormalizationFailed

	result, err := svc.Process(context.Background(), docs.doc.ID,
		map[string]any{"supplier": "ACME", "total": 10.0}, uuid.New())
	require.NoError(t, err)
	require.NotNil(t, result.Record)
}

func TestProcessBrokenTemplateSchemaFails(t *testing.T) {
	svc, docs, templates, _, _ := newFixture(t)
	templates.tmpl.Schema = json.RawMessage(`{"type": "not-a-real-type"}`)

	_, err := svc.Process(context.Background(), docs.doc.ID,
		map[string]any{"supplier": "ACME", "total": 10.0}, uuid.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SCHEMA_INCOMPATIBLE")
	assert.Equal(t, constants.NormalizationFailed, docs.doc.NormalizationStatus)
}

// --- classification pipeline -----------------------------------------------

func TestExtractToDraftRequiresCompletedNormalization(t *testing.T) {
	svc, docs, _, _, _ := newFixture(t)
	require.Equal(t, constants.NormalizationPending, docs.doc.NormalizationStatus)

	_, err := svc.ExtractToDraft(context.Background(), docs.doc.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrConflict))
	assert.Contains(t, err.Error(), "NOT_NORMALIZED")
	assert.Empty(t, docs.classificationHistory, "no transition on a rejected extraction")
}

func TestExtractToDraftParksDataWithoutTouchingContainer(t *testing.T) {
	svc, docs, _, records, _ := newFixture(t)
	docs.doc.NormalizationStatus = constants.NormalizationCompleted

	doc, err := svc.ExtractToDraft(context.Background(), docs.doc.ID)
	require.NoError(t, err)

	assert.True(t, doc.HasDraft())
	require.NotNil(t, doc.DraftConfidence)
	assert.Equal(t, 100, *doc.DraftConfidence)
	assert.Empty(t, records.created, "draft must not reach the permanent container")
	assert.Equal(t, []constants.ClassificationStatus{
		constants.ClassificationExtracting,
		constants.ClassificationDraft,
	}, docs.classificationHistory)
}

func TestExtractToDraftExtractorFailureMarksFailed(t *testing.T) {
	svc, docs, _, _, extractor := newFixture(t)
	docs.doc.NormalizationStatus = constants.NormalizationCompleted
	extractor.err = errors.New("provider down")

	_, err := svc.ExtractToDraft(context.Background(), docs.doc.ID)
	require.Error(t, err)
	assert.Equal(t, constants.ClassificationFailed, docs.doc.ClassificationStatus)
	require.NotNil(t, docs.doc.ClassificationError)
}

func TestApproveDraftPersistsRecordThenCompletes(t *testing.T) {
	svc, docs, _, records, _ := newFixture(t)
	docs.doc.NormalizationStatus = constants.NormalizationCompleted

	_, err := svc.ExtractToDraft(context.Background(), docs.doc.ID)
	require.NoError(t, err)

	approver := uuid.New()
	result, err := svc.ApproveDraft(context.Background(), docs.doc.ID, approver)
	require.NoError(t, err)

	require.NotNil(t, result.Record)
	require.Len(t, records.created, 1)
	assert.Equal(t, approver, records.created[0].CreatedBy)
	assert.JSONEq(t, `{"supplier":"ACME","total":1234.56}`, string(records.created[0].Data))
	assert.Equal(t, constants.ClassificationCompleted, docs.doc.ClassificationStatus)
	assert.Nil(t, docs.doc.DraftData, "draft cleared after approval")
	assert.Equal(t, constants.NormalizationCompleted, docs.doc.NormalizationStatus)
}

// The documented sequence end to end: normalization runs to completed
// first, extraction drafts on top of it, and approval still succeeds with
// the draft payload replacing the structural container.
func TestApproveDraftAfterFullNormalizationFlow(t *testing.T) {
	svc, docs, _, records, _ := newFixture(t)

	_, err := svc.Process(context.Background(), docs.doc.ID,
		map[string]any{"supplier": "SEED", "total": 1.0}, uuid.New())
	require.NoError(t, err)
	require.Equal(t, constants.NormalizationCompleted, docs.doc.NormalizationStatus)

	_, err = svc.ExtractToDraft(context.Background(), docs.doc.ID)
	require.NoError(t, err)
	require.True(t, docs.doc.HasDraft())

	approver := uuid.New()
	result, err := svc.ApproveDraft(context.Background(), docs.doc.ID, approver)
	require.NoError(t, err)

	require.NotNil(t, result.Record)
	require.Len(t, records.created, 1, "approval replaces the container, not duplicates it")
	assert.JSONEq(t, `{"supplier":"ACME","total":1234.56}`, string(records.created[0].Data))
	assert.Equal(t, approver, records.created[0].CreatedBy)
	assert.Equal(t, constants.ClassificationCompleted, docs.doc.ClassificationStatus)
	assert.Nil(t, docs.doc.DraftData)
}

func TestApproveDraftWithoutDraftIsConflict(t *testing.T) {
	svc, docs, _, _, _ := newFixture(t)

	_, err := svc.ApproveDraft(context.Background(), docs.doc.ID, uuid.New())
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrConflict))
}

func TestApproveDraftThatFailsValidationStaysDraft(t *testing.T) {
	svc, docs, _, records, extractor := newFixture(t)
	docs.doc.NormalizationStatus = constants.NormalizationCompleted
	extractor.extraction = ai.Extraction{
		Fields:     map[string]any{"supplier": "ACME"},
		Confidence: 50,
		RawJSON:    []byte(`{"supplier":"ACME"}`), // total missing
	}

	_, err := svc.ExtractToDraft(context.Background(), docs.doc.ID)
	require.NoError(t, err)

	result, err := svc.ApproveDraft(context.Background(), docs.doc.ID, uuid.New())
	require.NoError(t, err)

	assert.Nil(t, result.Record)
	assert.False(t, result.Report.Valid)
	assert.Empty(t, records.created)
	assert.Equal(t, constants.ClassificationDraft, docs.doc.ClassificationStatus)
	assert.NotNil(t, docs.doc.DraftData, "draft retained for review")
}

func TestRejectDraftDiscardsAndReturnsToPending(t *testing.T) {
	svc, docs, _, _, _ := newFixture(t)
	docs.doc.NormalizationStatus = constants.NormalizationCompleted

	_, err := svc.ExtractToDraft(context.Background(), docs.doc.ID)
	require.NoError(t, err)

	require.NoError(t, svc.RejectDraft(context.Background(), docs.doc.ID))
	assert.Nil(t, docs.doc.DraftData)
	assert.Nil(t, docs.doc.DraftConfidence)
	assert.Equal(t, constants.ClassificationPending, docs.doc.ClassificationStatus)

	// rejecting twice is a conflict, the draft is gone
	err = svc.RejectDraft(context.Background(), docs.doc.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrConflict))
}

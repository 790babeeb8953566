package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmoura-dev/docflow/constants"
	"github.com/rmoura-dev/docflow/internal/common"
	"github.com/rmoura-dev/docflow/internal/entity"
	"github.com/rmoura-dev/docflow/internal/events"
	"github.com/rmoura-dev/docflow/internal/ledger"
	"github.com/rmoura-dev/docflow/internal/queue"
)

type fakeLedgers struct {
	files  map[uuid.UUID]*entity.LedgerFile
	byHash map[string]*entity.LedgerFile
	parsed map[uuid.UUID]*ledger.Result
}

func newFakeLedgers() *fakeLedgers {
	return &fakeLedgers{
		files:  map[uuid.UUID]*entity.LedgerFile{},
		byHash: map[string]*entity.LedgerFile{},
		parsed: map[uuid.UUID]*ledger.Result{},
	}
}

func (f *fakeLedgers) CreateFile(_ context.Context, file *entity.LedgerFile) error {
	if file.ID == uuid.Nil {
		file.ID = uuid.New()
	}
	f.files[file.ID] = file
	f.byHash[file.FileHash] = file
	return nil
}

func (f *fakeLedgers) GetFile(_ context.Context, id uuid.UUID) (*entity.LedgerFile, error) {
	file, ok := f.files[id]
	if !ok {
		return nil, common.NewAppError("NOT_FOUND", "ledger file not found", common.ErrNotFound)
	}
	return file, nil
}

func (f *fakeLedgers) FindByHash(_ context.Context, _ uuid.UUID, hash string) (*entity.LedgerFile, error) {
	return f.byHash[hash], nil
}

func (f *fakeLedgers) UpdateFileStatus(_ context.Context, id uuid.UUID, status constants.LedgerFileStatus, errMsg *string) error {
	f.files[id].Status = status
	f.files[id].ErrorMessage = errMsg
	return nil
}

func (f *fakeLedgers) SaveParsed(_ context.Context, fileID uuid.UUID, result *ledger.Result) error {
	f.parsed[fileID] = result
	return nil
}

func (f *fakeLedgers) LoadParsed(_ context.Context, fileID uuid.UUID) (*ledger.Result, error) {
	result, ok := f.parsed[fileID]
	if !ok {
		return nil, common.NewAppError("NOT_FOUND", "no parsed data for file", common.ErrNotFound)
	}
	return result, nil
}

type fakeNotes struct {
	created []*entity.Notification
}

func (f *fakeNotes) Create(_ context.Context, note *entity.Notification) error {
	if note.ID == uuid.Nil {
		note.ID = uuid.New()
	}
	f.created = append(f.created, note)
	return nil
}

func (f *fakeNotes) ListUnread(_ context.Context, userID uuid.UUID, _ int) ([]*entity.Notification, error) {
	var out []*entity.Notification
	for _, n := range f.created {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeNotes) MarkRead(_ context.Context, _ uuid.UUID) error { return nil }

type fixture struct {
	server  *Server
	ledgers *fakeLedgers
	notes   *fakeNotes
	bus     *events.Bus
	manager *queue.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ledgers := newFakeLedgers()
	notes := &fakeNotes{}
	bus := events.NewBus(nil)
	manager := queue.NewManager(store, common.QueueConfig{PollInterval: 10 * time.Millisecond}, nil)

	cfg := common.ServerConfig{Addr: ":0", StreamTimeout: 300 * time.Millisecond}
	srv := New(cfg, t.TempDir(), bus, manager, nil, ledgers, notes, nil)
	return &fixture{server: srv, ledgers: ledgers, notes: notes, bus: bus, manager: manager}
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func multipartUpload(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIngestLedgerAccepted(t *testing.T) {
	f := newFixture(t)
	body, contentType := multipartUpload(t, "razao.txt", []byte("|0000|ACME|123|\n"))

	req := httptest.NewRequest(http.MethodPost, "/api/ingest/ledger", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Organization-ID", uuid.NewString())
	req.Header.Set("X-User-ID", uuid.NewString())

	rec := f.do(t, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		FileID uuid.UUID `json:"file_id"`
		JobID  string    `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, resp.FileID.String(), resp.JobID)

	stored, ok := f.ledgers.files[resp.FileID]
	require.True(t, ok)
	assert.Equal(t, "razao.txt", stored.FileName)
	assert.Equal(t, constants.LedgerFileProcessing, stored.Status)

	stats, err := f.manager.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats[constants.JobTypeLedger][constants.JobStateQueued])
}

func TestIngestLedgerDedupByHash(t *testing.T) {
	f := newFixture(t)
	orgID := uuid.NewString()
	content := []byte("|0000|ACME|123|\n")

	for i := 0; i < 2; i++ {
		body, contentType := multipartUpload(t, "razao.txt", content)
		req := httptest.NewRequest(http.MethodPost, "/api/ingest/ledger", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("X-Organization-ID", orgID)
		req.Header.Set("X-User-ID", uuid.NewString())

		rec := f.do(t, req)
		if i == 0 {
			assert.Equal(t, http.StatusAccepted, rec.Code)
		} else {
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Body.String(), `"duplicate":true`)
		}
	}
	assert.Len(t, f.ledgers.files, 1)
}

func TestIngestLedgerRequiresTenantHeaders(t *testing.T) {
	f := newFixture(t)
	body, contentType := multipartUpload(t, "razao.txt", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/ledger", body)
	req.Header.Set("Content-Type", contentType)

	rec := f.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLedgerValidationReport(t *testing.T) {
	f := newFixture(t)
	fileID := uuid.New()
	f.ledgers.parsed[fileID] = &ledger.Result{
		Accounts: []entity.Account{{Code: "1", Name: "Ativo", Type: "S", Level: 1}},
		Entries: []entity.LedgerEntry{{
			Number: "1", Date: "2024-01-15", Amount: 100,
			Items: []entity.LedgerItem{
				{AccountCode: "1.1", Amount: 100, DebitCredit: "D"},
				{AccountCode: "2.1", Amount: 100, DebitCredit: "C"},
			},
		}},
	}

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/ledgers/"+fileID.String()+"/validation", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"valid":`)
	assert.Contains(t, rec.Body.String(), `"score":`)
}

func TestLedgerValidationNotFound(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/ledgers/"+uuid.NewString()+"/validation", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobHistoryEndpoint(t *testing.T) {
	f := newFixture(t)
	f.bus.Emit("job-1", events.EventProgress, events.EventData{Progress: 50})
	f.bus.Emit("job-1", events.EventComplete, events.EventData{Progress: 100})

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/job-1/events", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Events   []events.Event `json:"events"`
		Complete bool           `json:"complete"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Events, 2)
	assert.True(t, resp.Complete)
}

func TestStreamReplaysHistoryAndClosesAfterTerminal(t *testing.T) {
	f := newFixture(t)
	f.bus.Emit("job-2", events.EventProgress, events.EventData{Progress: 30, Message: "parsing"})
	f.bus.Emit("job-2", events.EventComplete, events.EventData{Progress: 100})

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		rec := httptest.NewRecorder()
		f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/job-2/stream", nil))
		done <- rec
	}()

	select {
	case rec := <-done:
		assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
		body := rec.Body.String()
		assert.Contains(t, body, "event:progress")
		assert.Contains(t, body, "event:job-complete")
		assert.Contains(t, body, `"progress":100`)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not close after terminal event")
	}
}

func TestStreamDeliversLiveEvents(t *testing.T) {
	f := newFixture(t)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		rec := httptest.NewRecorder()
		f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/job-3/stream", nil))
		done <- rec
	}()

	time.Sleep(50 * time.Millisecond)
	f.bus.Emit("job-3", events.EventProgress, events.EventData{Progress: 10})
	f.bus.Emit("job-3", events.EventError, events.EventData{Error: "boom"})

	select {
	case rec := <-done:
		body := rec.Body.String()
		assert.Contains(t, body, "event:progress")
		assert.Contains(t, body, "event:job-error")
		assert.Contains(t, body, "boom")
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not close after terminal event")
	}
}

func TestStreamIdleTimeout(t *testing.T) {
	f := newFixture(t)

	start := time.Now()
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/silent-job/stream", nil))

	assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Contains(t, rec.Body.String(), "event:job-error")
	assert.Contains(t, rec.Body.String(), "timeout")
	// the timeout is stream-side only; nothing lands in the job's history
	assert.Empty(t, f.bus.GetHistory("silent-job"))
}

func TestStreamDisconnectLeavesJobRunning(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/jobs/job-4/stream", nil).WithContext(ctx)
		f.server.Handler().ServeHTTP(rec, req)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return on client disconnect")
	}

	// events after the disconnect still land in history
	f.bus.Emit("job-4", events.EventComplete, events.EventData{Progress: 100})
	assert.True(t, f.bus.IsJobComplete("job-4"))
}

func TestQueueStatsEndpoint(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Submit(context.Background(), &entity.Job{
		ID:      "stats-job",
		Type:    constants.JobTypeWorkflow,
		Payload: []byte(`{}`),
	})
	require.NoError(t, err)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/queue/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(constants.JobTypeWorkflow))
}

func TestListNotifications(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	require.NoError(t, f.notes.Create(context.Background(), &entity.Notification{
		UserID: userID,
		Type:   entity.NotificationLedgerProcessed,
		Title:  "Ledger processed",
	}))

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/notifications?user_id="+userID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Ledger processed")

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/notifications", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvalidUUIDParam(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/ledgers/not-a-uuid/validation", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

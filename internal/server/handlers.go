package server

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rmoura-dev/docflow/constants"
	"github.com/rmoura-dev/docflow/internal/common"
	"github.com/rmoura-dev/docflow/internal/entity"
	"github.com/rmoura-dev/docflow/internal/jobs"
	"github.com/rmoura-dev/docflow/internal/validate"
)

// handleIngestLedger accepts a ledger upload, dedups on content hash and
// enqueues the processing job. The response carries the job id to stream.
func (s *Server) handleIngestLedger(c *gin.Context) {
	orgID, userID, ok := tenantFrom(c)
	if !ok {
		return
	}
	ctx := common.WithUserID(common.WithOrgID(c.Request.Context(), orgID.String()), userID.String())

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'file' is required"})
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open upload"})
		return
	}
	defer src.Close()

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		writeError(c, err)
		return
	}
	dstPath := filepath.Join(s.uploadDir, uuid.NewString()+"_"+filepath.Base(fileHeader.Filename))
	dst, err := os.Create(dstPath)
	if err != nil {
		writeError(c, err)
		return
	}
	hasher := sha256.New()
	_, copyErr := io.Copy(io.MultiWriter(dst, hasher), src)
	closeErr := dst.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(dstPath)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store upload"})
		return
	}
	hash := hex.EncodeToString(hasher.Sum(nil))

	// same bytes for the same tenant: point at the existing file, keep its job
	existing, err := s.ledgers.FindByHash(ctx, orgID, hash)
	if err != nil {
		writeError(c, err)
		return
	}
	if existing != nil {
		os.Remove(dstPath)
		c.JSON(http.StatusOK, gin.H{
			"file_id":   existing.ID,
			"job_id":    existing.ID.String(),
			"status":    existing.Status,
			"duplicate": true,
		})
		return
	}

	file := &entity.LedgerFile{
		OrganizationID: orgID,
		UploadedBy:     userID,
		FileName:       fileHeader.Filename,
		FilePath:       dstPath,
		FileHash:       hash,
		Status:         constants.LedgerFileProcessing,
	}
	if err := s.ledgers.CreateFile(ctx, file); err != nil {
		writeError(c, err)
		return
	}

	payload, _ := json.Marshal(jobs.LedgerPayload{
		FileID:         file.ID,
		OrganizationID: orgID,
		UserID:         userID,
	})
	jobID := file.ID.String()
	if _, err := s.manager.Submit(ctx, &entity.Job{
		ID:      jobID,
		Type:    constants.JobTypeLedger,
		Payload: payload,
	}); err != nil {
		writeError(c, err)
		return
	}

	s.logger.Info("ingest.ledger_accepted", "file_id", file.ID, "file_name", file.FileName)
	c.JSON(http.StatusAccepted, gin.H{
		"file_id": file.ID,
		"job_id":  jobID,
		"status":  file.Status,
	})
}

// handleLedgerValidation re-runs the validators over the persisted parse of
// a ledger file and returns the full report.
func (s *Server) handleLedgerValidation(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	result, err := s.ledgers.LoadParsed(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	report := validate.Ledger(validate.NewInput(result.Accounts, result.Balances, result.Entries))
	c.JSON(http.StatusOK, report)
}

type normalizeRequest struct {
	Data  map[string]any `json:"data" binding:"required"`
	Actor uuid.UUID      `json:"actor"`
}

func (s *Server) handleNormalize(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req normalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.svc.Process(c.Request.Context(), id, req.Data, req.Actor)
	if err != nil {
		writeError(c, err)
		return
	}
	if result.Record == nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"report": result.Report})
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": result.Record, "report": result.Report})
}

func (s *Server) handleExtract(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	doc, err := s.svc.ExtractToDraft(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": doc})
}

type approveRequest struct {
	ApprovedBy uuid.UUID `json:"approved_by"`
}

func (s *Server) handleApproveDraft(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.svc.ApproveDraft(c.Request.Context(), id, req.ApprovedBy)
	if err != nil {
		writeError(c, err)
		return
	}
	if result.Record == nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"report": result.Report})
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": result.Record, "report": result.Report})
}

func (s *Server) handleRejectDraft(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if err := s.svc.RejectDraft(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}

func (s *Server) handleQueueStats(c *gin.Context) {
	stats, err := s.manager.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queues": stats})
}

func (s *Server) handleListNotifications(c *gin.Context) {
	userID, err := uuid.Parse(c.Query("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id query parameter is required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	notes, err := s.notes.ListUnread(c.Request.Context(), userID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notes})
}

// handleJobHistory returns the buffered event log for a job, a plain-JSON
// alternative to the SSE stream.
func (s *Server) handleJobHistory(c *gin.Context) {
	jobID := c.Param("id")
	c.JSON(http.StatusOK, gin.H{
		"events":   s.bus.GetHistory(jobID),
		"complete": s.bus.IsJobComplete(jobID),
	})
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid %s", name)})
		return uuid.Nil, false
	}
	return id, true
}

// tenantFrom reads the tenant scope headers set by the auth proxy.
func tenantFrom(c *gin.Context) (orgID, userID uuid.UUID, ok bool) {
	orgID, err := uuid.Parse(c.GetHeader("X-Organization-ID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-Organization-ID header is required"})
		return uuid.Nil, uuid.Nil, false
	}
	userID, err = uuid.Parse(c.GetHeader("X-User-ID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-User-ID header is required"})
		return uuid.Nil, uuid.Nil, false
	}
	return orgID, userID, true
}

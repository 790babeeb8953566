package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rmoura-dev/docflow/constants"
	"github.com/rmoura-dev/docflow/internal/common"
	"github.com/rmoura-dev/docflow/internal/entity"
	"github.com/rmoura-dev/docflow/internal/events"
	"github.com/rmoura-dev/docflow/internal/ledger"
	"github.com/rmoura-dev/docflow/internal/repository"
	"github.com/rmoura-dev/docflow/internal/validate"
)

// LedgerPayload is the queue payload for ledger-processing jobs.
type LedgerPayload struct {
	FileID         uuid.UUID `json:"file_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	UserID         uuid.UUID `json:"user_id"`
}

// LedgerParser abstracts file parsing so tests can substitute fixtures.
type LedgerParser func(path string) (*ledger.Result, error)

// LedgerProcessor drives one ledger file through parse, persist and
// validate, reporting phased progress on the event bus.
type LedgerProcessor struct {
	files  repository.LedgerRepository
	notes  repository.NotificationRepository
	bus    *events.Bus
	parse  LedgerParser
	logger *slog.Logger
}

func NewLedgerProcessor(files repository.LedgerRepository, notes repository.NotificationRepository, bus *events.Bus, logger *slog.Logger) *LedgerProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerProcessor{
		files:  files,
		notes:  notes,
		bus:    bus,
		parse:  ledger.ParseFile,
		logger: logger,
	}
}

// Progress milestones of a ledger run.
const (
	phaseStart     = 10
	phaseParsed    = 30
	phaseAccounts  = 40
	phaseEntries   = 60
	phaseValidated = 80
	phaseDone      = 100
)

// Handle is the queue handler for ledger-processing jobs.
func (p *LedgerProcessor) Handle(ctx context.Context, job *entity.Job) error {
	var payload LedgerPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return common.NewAppError("INVALID_PAYLOAD", "decode ledger payload", err)
	}

	file, err := p.files.GetFile(ctx, payload.FileID)
	if err != nil {
		return err
	}

	p.emit(job.ID, phaseStart, file.FileName, "reading file")

	result, err := p.parse(file.FilePath)
	if err != nil {
		return fmt.Errorf("parse ledger: %w", err)
	}
	p.emitStats(job.ID, phaseParsed, file.FileName, "file parsed", map[string]int{
		"accounts": result.Stats.Accounts,
		"balances": result.Stats.Balances,
		"entries":  result.Stats.Entries,
		"items":    result.Stats.Items,
		"errors":   result.Stats.Errors,
	})

	p.emit(job.ID, phaseAccounts, file.FileName, "saving chart of accounts")
	if err := p.files.SaveParsed(ctx, file.ID, result); err != nil {
		return err
	}
	p.emit(job.ID, phaseEntries, file.FileName, "entries saved")

	report := validate.Ledger(validate.NewInput(result.Accounts, result.Balances, result.Entries))
	p.emitStats(job.ID, phaseValidated, file.FileName, "validation finished", map[string]int{
		"score":    report.Score,
		"errors":   len(report.Errors),
		"warnings": len(report.Warnings),
	})

	if err := p.files.UpdateFileStatus(ctx, file.ID, constants.LedgerFileCompleted, nil); err != nil {
		return err
	}

	p.notify(ctx, payload, entity.NotificationLedgerProcessed,
		fmt.Sprintf("Ledger %s processed", file.FileName),
		fmt.Sprintf("score %d, %d errors, %d warnings", report.Score, len(report.Errors), len(report.Warnings)))

	p.bus.Emit(job.ID, events.EventComplete, events.EventData{
		FileName: file.FileName,
		Status:   "completed",
		Progress: phaseDone,
		Stats: map[string]int{
			"totalRecords": result.Stats.TotalLines,
			"score":        report.Score,
		},
	})
	return nil
}

// HandleExhausted permanently rejects the file and records the error on its
// row, then publishes the terminal event.
func (p *LedgerProcessor) HandleExhausted(ctx context.Context, job *entity.Job, jobErr error) {
	var payload LedgerPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		p.logger.Error("ledger.exhausted.bad_payload", "job_id", job.ID, "error", err)
		return
	}

	message := jobErr.Error()
	if err := p.files.UpdateFileStatus(ctx, payload.FileID, constants.LedgerFileRejected, &message); err != nil {
		p.logger.Error("ledger.exhausted.status_update_failed", "file_id", payload.FileID, "error", err)
	}

	p.notify(ctx, payload, entity.NotificationGeneral, "Ledger processing failed", message)

	p.bus.Emit(job.ID, events.EventError, events.EventData{
		Status: "failed",
		Error:  message,
	})
}

func (p *LedgerProcessor) emit(jobID string, progress int, fileName, message string) {
	p.bus.Emit(jobID, events.EventProgress, events.EventData{
		FileName: fileName,
		Status:   "processing",
		Progress: progress,
		Message:  message,
	})
}

func (p *LedgerProcessor) emitStats(jobID string, progress int, fileName, message string, stats map[string]int) {
	p.bus.Emit(jobID, events.EventProgress, events.EventData{
		FileName: fileName,
		Status:   "processing",
		Progress: progress,
		Message:  message,
		Stats:    stats,
	})
}

// notify persists a notification; dispatch failures are logged, never
// propagated.
func (p *LedgerProcessor) notify(ctx context.Context, payload LedgerPayload, noteType entity.NotificationType, title, body string) {
	if p.notes == nil {
		return
	}
	err := p.notes.Create(ctx, &entity.Notification{
		OrganizationID: payload.OrganizationID,
		UserID:         payload.UserID,
		Type:           noteType,
		Title:          title,
		Body:           body,
	})
	if err != nil {
		p.logger.Warn("ledger.notify_failed", "file_id", payload.FileID, "error", err)
	}
}

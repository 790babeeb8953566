// Package app wires the full daemon: database, queue store, worker pools,
// event bus and the HTTP surface.
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/rmoura-dev/docflow/constants"
	"github.com/rmoura-dev/docflow/internal/ai"
	"github.com/rmoura-dev/docflow/internal/common"
	"github.com/rmoura-dev/docflow/internal/convert"
	"github.com/rmoura-dev/docflow/internal/events"
	"github.com/rmoura-dev/docflow/internal/jobs"
	"github.com/rmoura-dev/docflow/internal/normalize"
	"github.com/rmoura-dev/docflow/internal/queue"
	"github.com/rmoura-dev/docflow/internal/repository"
	"github.com/rmoura-dev/docflow/internal/server"
)

// Run boots every component and serves until ctx is cancelled, then shuts
// down in dependency order.
func Run(ctx context.Context, cfg *common.Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	pool, err := repository.Open(ctx, cfg.Database, logger)
	if err != nil {
		return common.WrapError(err, "open database")
	}
	defer repository.Close(pool, logger)

	if err := repository.HealthCheck(ctx, pool, 5*time.Second, logger); err != nil {
		return common.WrapError(err, "database health check")
	}

	store, err := queue.Open(cfg.Queue.Path)
	if err != nil {
		return common.WrapError(err, "open queue store")
	}
	defer store.Close()

	docsRepo := repository.NewDocumentRepository(pool, logger)
	templatesRepo := repository.NewTemplateRepository(pool, logger)
	recordsRepo := repository.NewNormalizedRecordRepository(pool, logger)
	ledgersRepo := repository.NewLedgerRepository(pool, logger)
	notesRepo := repository.NewNotificationRepository(pool, logger)
	embeddingsRepo := repository.NewEmbeddingRepository(pool, logger)

	bus := events.NewBus(logger)
	aiClient := ai.NewClient(cfg.AI, logger)
	converter := convert.NewConverter(cfg.Convert, convert.NewExecRunner(), logger)
	svc := normalize.NewService(docsRepo, templatesRepo, recordsRepo, aiClient, converter, logger)

	manager := queue.NewManager(store, cfg.Queue, logger)

	workflows := jobs.NewWorkflowRunner(bus, logger)
	ledgerProc := jobs.NewLedgerProcessor(ledgersRepo, notesRepo, bus, logger)
	embedder := jobs.NewEmbeddingGenerator(aiClient, embeddingsRepo, docsRepo, bus, logger)
	notifier := jobs.NewNotificationDispatcher(notesRepo, logger)

	manager.Register(constants.JobTypeWorkflow, workflows.Handle, workflows.HandleExhausted)
	manager.Register(constants.JobTypeLedger, ledgerProc.Handle, ledgerProc.HandleExhausted)
	manager.Register(constants.JobTypeEmbedding, embedder.Handle, embedder.HandleExhausted)
	manager.Register(constants.JobTypeNotification, notifier.Handle, notifier.HandleExhausted)

	if err := manager.Start(ctx); err != nil {
		return common.WrapError(err, "start queue manager")
	}

	srv := server.New(cfg.Server, cfg.Convert.CacheDir, bus, manager, svc, ledgersRepo, notesRepo, logger)
	serveErr := srv.Run(ctx)

	// server has drained; give in-flight jobs a bounded window to finish
	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	manager.Shutdown(drainCtx)

	logger.Info("shutdown complete")
	return serveErr
}

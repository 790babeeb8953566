package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rmoura-dev/docflow/internal/common"
	"github.com/rmoura-dev/docflow/internal/events"
	"github.com/rmoura-dev/docflow/internal/normalize"
	"github.com/rmoura-dev/docflow/internal/queue"
	"github.com/rmoura-dev/docflow/internal/repository"
)

// Server is the HTTP/SSE surface of the service.
type Server struct {
	cfg     common.ServerConfig
	logger  *slog.Logger
	bus     *events.Bus
	manager *queue.Manager
	svc     *normalize.Service
	ledgers repository.LedgerRepository
	notes   repository.NotificationRepository

	uploadDir string
	engine    *gin.Engine
	httpSrv   *http.Server
}

func New(
	cfg common.ServerConfig,
	uploadDir string,
	bus *events.Bus,
	manager *queue.Manager,
	svc *normalize.Service,
	ledgers repository.LedgerRepository,
	notes repository.NotificationRepository,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		bus:       bus,
		manager:   manager,
		svc:       svc,
		ledgers:   ledgers,
		notes:     notes,
		uploadDir: uploadDir,
	}
	s.engine = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	api := r.Group("/api")
	{
		api.POST("/ingest/ledger", s.handleIngestLedger)
		api.GET("/ledgers/:id/validation", s.handleLedgerValidation)

		api.GET("/jobs/:id/stream", s.handleJobStream)
		api.GET("/jobs/:id/events", s.handleJobHistory)

		api.POST("/documents/:id/normalize", s.handleNormalize)
		api.POST("/documents/:id/extract", s.handleExtract)
		api.POST("/documents/:id/draft/approve", s.handleApproveDraft)
		api.POST("/documents/:id/draft/reject", s.handleRejectDraft)

		api.GET("/queue/stats", s.handleQueueStats)
		api.GET("/notifications", s.handleListNotifications)
	}
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Request = c.Request.WithContext(common.WithRequestID(c.Request.Context(), reqID))
		c.Header("X-Request-ID", reqID)

		start := time.Now()
		c.Next()
		s.logger.Info("http.request",
			"req_id", reqID,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{Addr: s.cfg.Addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http.listening", "addr", s.cfg.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

// writeError maps application errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, common.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, common.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, common.ErrConflict):
		status = http.StatusConflict
	}

	var appErr *common.AppError
	if errors.As(err, &appErr) {
		c.JSON(status, gin.H{"error": appErr.Message, "code": appErr.Code})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

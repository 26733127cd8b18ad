package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/relayspring/gatehouse/internal/admission"
	"github.com/relayspring/gatehouse/internal/audit"
	"github.com/relayspring/gatehouse/internal/replay"
)

// OpsHandler exposes operator-facing diagnostics. Routes under /ops are
// JWT-protected by the server middleware.
type OpsHandler struct {
	replayCache *replay.Cache
	limiter     *admission.Limiter
	auditLog    *audit.Log
	logger      *slog.Logger
}

func NewOpsHandler(log *slog.Logger, replayCache *replay.Cache, limiter *admission.Limiter, auditLog *audit.Log) *OpsHandler {
	return &OpsHandler{
		replayCache: replayCache,
		limiter:     limiter,
		auditLog:    auditLog,
		logger:      log.With(slog.String("handler", "ops")),
	}
}

func (h *OpsHandler) Register(e *echo.Echo) {
	e.GET("/ops/stats", h.Stats)
}

func (h *OpsHandler) Stats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"replayEntries":   h.replayCache.Len(),
		"rateLimitKeys":   h.limiter.Len(),
		"auditQueueDepth": h.auditLog.QueueDepth(),
	})
}

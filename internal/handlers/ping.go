package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type PingHandler struct {
	service string
	logger  *slog.Logger
}

func NewPingHandler(log *slog.Logger, service string) *PingHandler {
	return &PingHandler{service: service, logger: log.With(slog.String("handler", "ping"))}
}

func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.HEAD("/health", h.HealthHead)
}

func (h *PingHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"ok":      true,
		"service": h.service,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *PingHandler) HealthHead(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

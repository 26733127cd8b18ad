package handlers

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/relayspring/gatehouse/internal/gateway"
)

const (
	// SignatureHeader carries the hex HMAC over the exact request body bytes.
	SignatureHeader = "x-channel-signature"
	// RequestIDHeader is the optional caller-supplied correlation id.
	RequestIDHeader = "x-request-id"

	// maxBodyBytes bounds the request body read. Envelope text is capped at
	// 10k characters; anything near this limit is garbage.
	maxBodyBytes = 1 << 20
)

// InboundHandler exposes the admission pipeline over HTTP.
type InboundHandler struct {
	service *gateway.Service
	logger  *slog.Logger
}

func NewInboundHandler(log *slog.Logger, service *gateway.Service) *InboundHandler {
	return &InboundHandler{
		service: service,
		logger:  log.With(slog.String("handler", "inbound")),
	}
}

func (h *InboundHandler) Register(e *echo.Echo) {
	e.POST("/channel/inbound", h.Inbound)
}

func (h *InboundHandler) Inbound(c echo.Context) error {
	body, err := readAllWithLimit(c.Request().Body, maxBodyBytes)
	if err != nil {
		requestID := gateway.ResolveRequestID(c.Request().Header.Get(RequestIDHeader))
		return c.JSON(http.StatusBadRequest, map[string]any{"requestId": requestID, "error": "malformed body"})
	}

	out := h.service.HandleInbound(
		c.Request().Context(),
		body,
		c.Request().Header.Get(SignatureHeader),
		c.Request().Header.Get(RequestIDHeader),
	)
	return c.JSON(out.Status, out.Body)
}

// readAllWithLimit reads from reader and rejects payloads larger than maxBytes.
func readAllWithLimit(reader io.Reader, maxBytes int64) ([]byte, error) {
	if reader == nil {
		return nil, fmt.Errorf("reader is required")
	}
	limited := &io.LimitedReader{R: reader, N: maxBytes + 1}
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("body exceeds %d bytes", maxBytes)
	}
	return data, nil
}

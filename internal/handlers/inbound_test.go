package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayspring/gatehouse/internal/admission"
	"github.com/relayspring/gatehouse/internal/audit"
	"github.com/relayspring/gatehouse/internal/envelope"
	"github.com/relayspring/gatehouse/internal/gateway"
	"github.com/relayspring/gatehouse/internal/replay"
	"github.com/relayspring/gatehouse/internal/runtime"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubSender struct {
	replies []string
	calls   int
}

func (s *stubSender) Send(_ context.Context, _ runtime.Request) (runtime.Response, error) {
	reply := ""
	if s.calls < len(s.replies) {
		reply = s.replies[s.calls]
	}
	s.calls++
	return runtime.Response{Reply: reply, SessionID: "sess-1"}, nil
}

func newInboundServer(t *testing.T, sender runtime.Sender) *echo.Echo {
	t.Helper()

	auditLog, err := audit.New(audit.Options{Path: filepath.Join(t.TempDir(), "audit.log")})
	require.NoError(t, err)
	t.Cleanup(auditLog.Close)

	cache := replay.New(replay.Options{SweepInterval: time.Hour})
	t.Cleanup(func() { cache.Destroy(false) })

	svc := gateway.NewService(testLogger(), gateway.Config{
		Secrets: map[string]string{"chat": "chat-secret"},
	}, cache, admission.New(testLogger(), 0), auditLog, sender)

	e := echo.New()
	NewInboundHandler(testLogger(), svc).Register(e)
	return e
}

func postInbound(e *echo.Echo, body []byte, sig, requestID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/channel/inbound", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if sig != "" {
		req.Header.Set(SignatureHeader, sig)
	}
	if requestID != "" {
		req.Header.Set(RequestIDHeader, requestID)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestInboundEndToEnd(t *testing.T) {
	t.Parallel()

	verdict := `{"valid":true,"summary":"user asks for help","reason":""}`
	e := newInboundServer(t, &stubSender{replies: []string{verdict, "happy to help"}})

	env := envelope.Envelope{
		UserID:    "u1",
		Channel:   "chat",
		Text:      "help me",
		Nonce:     "n-http-1",
		Timestamp: time.Now().UnixMilli(),
	}
	body, err := json.Marshal(env)
	require.NoError(t, err)
	sig, err := envelope.Sign("chat-secret", body)
	require.NoError(t, err)

	rec := postInbound(e, body, sig, "req-http-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "req-http-1", resp["requestId"])
	assert.Equal(t, "happy to help", resp["answer"])
	assert.Equal(t, "u1", resp["userId"])
}

func TestInboundBadSignature(t *testing.T) {
	t.Parallel()

	e := newInboundServer(t, &stubSender{})

	env := envelope.Envelope{
		UserID:    "u1",
		Channel:   "chat",
		Text:      "help me",
		Nonce:     "n-http-2",
		Timestamp: time.Now().UnixMilli(),
	}
	body, err := json.Marshal(env)
	require.NoError(t, err)

	rec := postInbound(e, body, "deadbeef", "req-http-2")
	require.Equal(t, http.StatusForbidden, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "req-http-2", resp["requestId"])
	assert.NotEmpty(t, resp["error"])
}

func TestInboundGeneratesRequestID(t *testing.T) {
	t.Parallel()

	e := newInboundServer(t, &stubSender{})
	rec := postInbound(e, []byte("{not json"), "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["requestId"])
}

func TestInboundOversizedBody(t *testing.T) {
	t.Parallel()

	e := newInboundServer(t, &stubSender{})
	rec := postInbound(e, bytes.Repeat([]byte("a"), maxBodyBytes+1), "", "req-big")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReadAllWithLimit(t *testing.T) {
	t.Parallel()

	data, err := readAllWithLimit(bytes.NewReader([]byte("hello")), 16)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	_, err = readAllWithLimit(bytes.NewReader(bytes.Repeat([]byte("a"), 17)), 16)
	assert.Error(t, err)

	_, err = readAllWithLimit(nil, 16)
	assert.Error(t, err)
}

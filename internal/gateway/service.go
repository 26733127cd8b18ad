// Package gateway composes the admission pipeline: signature verification,
// shape validation, replay and rate-limit gates, intake screening, and the
// forward to the reasoning runtime.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relayspring/gatehouse/internal/admission"
	"github.com/relayspring/gatehouse/internal/audit"
	"github.com/relayspring/gatehouse/internal/envelope"
	"github.com/relayspring/gatehouse/internal/intake"
	"github.com/relayspring/gatehouse/internal/replay"
	"github.com/relayspring/gatehouse/internal/runtime"
	"github.com/relayspring/gatehouse/internal/sanitize"
)

// Pipeline stage names as they appear in the audit trail.
const (
	ActionInbound = "channel_inbound"
	ActionIntake  = "channel_intake"
	ActionForward = "channel_forward_to_core"
)

// Caller-supplied request ids are accepted only when they match this shape;
// anything else is replaced so untrusted input never reaches the audit trail
// unescaped or unbounded.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Config carries the per-deployment admission policy.
type Config struct {
	// Secrets maps channel name to its shared signing secret. A channel
	// without a secret is unconfigured and always rejected.
	Secrets map[string]string

	UserLimit     int
	UserWindow    time.Duration
	ChannelLimit  int
	ChannelWindow time.Duration
}

// Service is the gateway orchestrator.
type Service struct {
	cfg     Config
	replay  *replay.Cache
	limiter *admission.Limiter
	audit   *audit.Log
	runtime runtime.Sender
	logger  *slog.Logger
}

// NewService wires the pipeline. All collaborators are injected so tests can
// substitute fakes.
func NewService(log *slog.Logger, cfg Config, replayCache *replay.Cache, limiter *admission.Limiter, auditLog *audit.Log, sender runtime.Sender) *Service {
	if log == nil {
		log = slog.Default()
	}
	if cfg.UserLimit <= 0 {
		cfg.UserLimit = 20
	}
	if cfg.UserWindow <= 0 {
		cfg.UserWindow = time.Minute
	}
	if cfg.ChannelLimit <= 0 {
		cfg.ChannelLimit = 120
	}
	if cfg.ChannelWindow <= 0 {
		cfg.ChannelWindow = time.Minute
	}
	return &Service{
		cfg:     cfg,
		replay:  replayCache,
		limiter: limiter,
		audit:   auditLog,
		runtime: sender,
		logger:  log.With(slog.String("component", "gateway")),
	}
}

// Outcome is the HTTP-shaped result of one pipeline run.
type Outcome struct {
	Status int
	Body   map[string]any
}

// ResolveRequestID returns header when it is safe to echo, otherwise a
// generated id.
func ResolveRequestID(header string) string {
	header = strings.TrimSpace(header)
	if requestIDPattern.MatchString(header) {
		return header
	}
	return uuid.NewString()
}

// HandleInbound runs the admission pipeline over the raw request body and
// its signature header. It always produces a response; failures are encoded
// as HTTP-shaped outcomes, never panics or raw errors.
func (s *Service) HandleInbound(ctx context.Context, body []byte, signature, requestIDHeader string) Outcome {
	requestID := ResolveRequestID(requestIDHeader)

	var env envelope.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return s.deny(requestID, "", http.StatusBadRequest, "malformed body", map[string]any{"stage": "parse"})
	}

	channel := strings.TrimSpace(env.Channel)
	secret := s.cfg.Secrets[channel]
	if strings.TrimSpace(secret) == "" {
		// No secret means unconfigured; never reach signature comparison.
		return s.deny(requestID, env.UserID, http.StatusForbidden, "channel not configured", map[string]any{"stage": "secret", "channel": channel})
	}

	// The signature covers the literal request bytes, not a re-serialization.
	if !envelope.Verify(secret, body, signature) {
		return s.deny(requestID, env.UserID, http.StatusForbidden, "invalid signature", map[string]any{"stage": "signature", "channel": channel})
	}

	if err := env.Validate(); err != nil {
		return s.deny(requestID, env.UserID, http.StatusBadRequest, "invalid payload", map[string]any{"stage": "shape", "error": err.Error()})
	}

	if !s.replay.CheckAndStore(env.Nonce, env.Timestamp) {
		return s.deny(requestID, env.UserID, http.StatusConflict, "replay detected", map[string]any{"stage": "replay", "channel": channel})
	}

	if !s.limiter.Allow("user:"+env.UserID, s.cfg.UserLimit, s.cfg.UserWindow) {
		return s.deny(requestID, env.UserID, http.StatusTooManyRequests, "rate limited", map[string]any{"stage": "rate_limit", "key": "user"})
	}
	if !s.limiter.Allow("channel:"+channel, s.cfg.ChannelLimit, s.cfg.ChannelWindow) {
		return s.deny(requestID, env.UserID, http.StatusTooManyRequests, "rate limited", map[string]any{"stage": "rate_limit", "key": "channel"})
	}

	sessionID := channel + ":" + env.UserID
	s.audit.Write(audit.Event{
		RequestID: requestID,
		SessionID: sessionID,
		UserID:    env.UserID,
		Action:    ActionInbound,
		Status:    audit.StatusOK,
		Details:   map[string]any{"channel": channel, "nonce": env.Nonce},
	})

	decision, outcome := s.screen(ctx, env, requestID, sessionID)
	if outcome != nil {
		return *outcome
	}

	answer, outcome := s.forward(ctx, env, decision, requestID, sessionID)
	if outcome != nil {
		return *outcome
	}

	return Outcome{
		Status: http.StatusOK,
		Body: map[string]any{
			"requestId": requestID,
			"sessionId": answer.SessionID,
			"userId":    env.UserID,
			"answer":    answer.Reply,
			"intake":    map[string]any{"valid": true, "summary": decision.Summary},
			"metadata":  sanitize.Metadata(env.Metadata),
		},
	}
}

// screen runs the intake validation exchange and interprets the verdict.
func (s *Service) screen(ctx context.Context, env envelope.Envelope, requestID, sessionID string) (intake.Decision, *Outcome) {
	resp, err := s.runtime.Send(ctx, runtime.Request{
		Message:   intake.BuildPrompt(env),
		UserID:    env.UserID,
		SessionID: sessionID,
		AgentID:   "intake",
		Channel:   env.Channel,
	})
	if err != nil {
		s.logger.Warn("intake call failed", slog.String("request_id", requestID), slog.Any("error", err))
		out := s.fail(requestID, sessionID, env.UserID, ActionIntake, "upstream unavailable", map[string]any{"error": err.Error()})
		return intake.Decision{}, &out
	}

	decision, err := intake.ParseDecision(resp.Reply)
	if err != nil {
		// A malformed verdict is a downstream fault, not a content verdict.
		s.logger.Warn("intake decision malformed", slog.String("request_id", requestID), slog.Any("error", err))
		out := s.fail(requestID, sessionID, env.UserID, ActionIntake, "upstream unavailable", map[string]any{"error": err.Error()})
		return intake.Decision{}, &out
	}

	if !decision.Valid {
		reason := strings.TrimSpace(decision.Reason)
		if reason == "" {
			reason = "rejected"
		}
		s.audit.Write(audit.Event{
			RequestID: requestID,
			SessionID: sessionID,
			UserID:    env.UserID,
			Action:    ActionIntake,
			Status:    audit.StatusDenied,
			Details:   map[string]any{"reason": reason},
		})
		out := Outcome{
			Status: http.StatusUnprocessableEntity,
			Body:   map[string]any{"requestId": requestID, "error": "request rejected", "reason": reason},
		}
		return decision, &out
	}

	s.audit.Write(audit.Event{
		RequestID: requestID,
		SessionID: sessionID,
		UserID:    env.UserID,
		Action:    ActionIntake,
		Status:    audit.StatusOK,
		Details:   map[string]any{"summary": decision.Summary},
	})
	return decision, nil
}

// forward sends the screened summary to the runtime for the final answer.
func (s *Service) forward(ctx context.Context, env envelope.Envelope, decision intake.Decision, requestID, sessionID string) (runtime.Response, *Outcome) {
	resp, err := s.runtime.Send(ctx, runtime.Request{
		Message:   decision.Summary,
		UserID:    env.UserID,
		SessionID: sessionID,
		Channel:   env.Channel,
	})
	if err != nil {
		s.logger.Warn("forward call failed", slog.String("request_id", requestID), slog.Any("error", err))
		out := s.fail(requestID, sessionID, env.UserID, ActionForward, "upstream unavailable", map[string]any{"error": err.Error()})
		return runtime.Response{}, &out
	}
	if resp.SessionID == "" {
		resp.SessionID = sessionID
	}
	s.audit.Write(audit.Event{
		RequestID: requestID,
		SessionID: sessionID,
		UserID:    env.UserID,
		Action:    ActionForward,
		Status:    audit.StatusOK,
	})
	return resp, nil
}

// deny records a denied admission gate and shapes the 4xx response. The
// user-visible message stays deliberately generic.
func (s *Service) deny(requestID, userID string, status int, message string, details map[string]any) Outcome {
	s.audit.Write(audit.Event{
		RequestID: requestID,
		UserID:    strings.TrimSpace(userID),
		Action:    ActionInbound,
		Status:    audit.StatusDenied,
		Details:   details,
	})
	s.logger.Info("request denied",
		slog.String("request_id", requestID),
		slog.Int("status", status),
		slog.String("reason", message),
	)
	return Outcome{
		Status: status,
		Body:   map[string]any{"requestId": requestID, "error": message},
	}
}

// fail records a downstream failure and shapes the 502 response.
func (s *Service) fail(requestID, sessionID, userID, action, message string, details map[string]any) Outcome {
	s.audit.Write(audit.Event{
		RequestID: requestID,
		SessionID: sessionID,
		UserID:    userID,
		Action:    action,
		Status:    audit.StatusError,
		Details:   details,
	})
	return Outcome{
		Status: http.StatusBadGateway,
		Body:   map[string]any{"requestId": requestID, "error": message},
	}
}

// Package runtime calls the downstream reasoning runtime that produces
// intake verdicts and final answers.
package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultTimeout     = 15 * time.Second
	DefaultRetryMax    = 2
	DefaultBackoffBase = 150 * time.Millisecond

	messagesPath = "/api/messages"
)

// ErrUnavailable marks failures that exhausted the retry budget or were not
// retryable; the gateway surfaces these as upstream unavailability.
var ErrUnavailable = errors.New("runtime unavailable")

// Request carries one outgoing message to the runtime.
type Request struct {
	Message   string `json:"message"`
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	AgentID   string `json:"agentId,omitempty"`
	Channel   string `json:"channel,omitempty"`
}

// Response is the runtime's answer.
type Response struct {
	Reply     string         `json:"reply"`
	SessionID string         `json:"sessionId"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Sender is the runtime call surface; the gateway and tests depend on this
// rather than the concrete client.
type Sender interface {
	Send(ctx context.Context, req Request) (Response, error)
}

// Options configures a Client.
type Options struct {
	BaseURL string
	// Timeout bounds each individual attempt.
	Timeout time.Duration
	// RetryMax is the number of additional attempts after the first.
	RetryMax int
	// BackoffBase is the base of the exponential backoff between attempts.
	BackoffBase time.Duration

	Logger *slog.Logger
}

// Client is an HTTP Sender with per-attempt timeouts and exponential backoff.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	timeout     time.Duration
	retryMax    int
	backoffBase time.Duration
	logger      *slog.Logger
}

// NewClient creates a Client. Zero option fields fall back to defaults.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("runtime base url is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RetryMax < 0 {
		opts.RetryMax = DefaultRetryMax
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{},
		timeout:     opts.Timeout,
		retryMax:    opts.RetryMax,
		backoffBase: opts.BackoffBase,
		logger:      log.With(slog.String("component", "runtime_client")),
	}, nil
}

// Send posts req to the runtime. Timeouts and 429/502/503/504 responses are
// retried with backoff delay base*2^n; other failures surface immediately.
func (c *Client) Send(ctx context.Context, req Request) (Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("encode runtime request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryMax; attempt++ {
		if attempt > 0 {
			delay := c.backoffBase * time.Duration(1<<(attempt-1))
			c.logger.Debug("retrying runtime call",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.Any("error", lastErr),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Response{}, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			}
		}

		resp, err := c.attempt(ctx, payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable(err) {
			return Response{}, err
		}
		if ctx.Err() != nil {
			return Response{}, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		}
	}
	return Response{}, lastErr
}

type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("runtime returned status %d", e.status)
}

func (e *statusError) Unwrap() error { return ErrUnavailable }

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		switch se.status {
		case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	// Timeouts and transport failures are treated as retryable; the caller
	// abandons the attempt rather than waiting on the transport teardown.
	return true
}

func (c *Client) attempt(ctx context.Context, payload []byte) (Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.baseURL+messagesPath, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("build runtime request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(httpResp.Body, 4096)) //nolint:errcheck // drain for connection reuse
		return Response{}, &statusError{status: httpResp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 4*1024*1024))
	if err != nil {
		return Response{}, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return Response{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return resp, nil
}

// ABOUTME: Outbound HTTP client used by the gateway to reach worker services
// ABOUTME: Applies a bounded timeout, classifies failures, and retries read-only calls

package bridge

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

	"github.com/2389/agent-gateway/internal/envelope"
	"github.com/2389/agent-gateway/internal/routetable"
)

// Classified call failures. Callers map these onto the envelope error
// taxonomy with errors.Is.
var (
	ErrTimeout        = errors.New("upstream call timed out")
	ErrTransport      = errors.New("transport error")
	ErrUpstreamClient = errors.New("upstream rejected request")
	ErrUpstreamServer = errors.New("upstream server error")
	ErrBadResponse    = errors.New("invalid upstream response body")
)

// retry policy for read-only actions
const (
	maxReadRetries = 2
	retryBackoff   = 500 * time.Millisecond
)

// maxResponseBytes bounds how much of a worker response is read.
const maxResponseBytes = 10 << 20

// Response is the normalized result of a worker call. On upstream error
// statuses the raw body is still populated for logging.
type Response struct {
	StatusCode int
	Data       map[string]any
	Raw        []byte
	Duration   time.Duration
	Attempts   int
}

// Bridge performs outbound calls to worker services.
type Bridge struct {
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a bridge with the given per-call timeout.
func New(timeout time.Duration, logger *slog.Logger) *Bridge {
	return &Bridge{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		logger:  logger.With("component", "bridge"),
	}
}

// Call dispatches the envelope to the worker behind the route.
// Read-only actions are retried up to maxReadRetries times with linear
// backoff on retryable failures; state-mutating actions are never retried.
func (b *Bridge) Call(ctx context.Context, route *routetable.Route, req *envelope.Request) (*Response, error) {
	attempts := 1
	if route.Rule.ReadOnly {
		attempts += maxReadRetries
	}

	var resp *Response
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err = b.callOnce(ctx, route, req)
		if resp != nil {
			resp.Attempts = attempt
		}
		if err == nil || !retryable(err) || attempt == attempts {
			return resp, err
		}

		b.logger.Debug("retrying read-only call",
			"worker", route.Worker,
			"action", route.Action,
			"attempt", attempt,
			"error", err,
		)

		select {
		case <-time.After(time.Duration(attempt) * retryBackoff):
		case <-ctx.Done():
			return resp, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
	}
	return resp, err
}

// callOnce performs a single HTTP round trip.
func (b *Bridge) callOnce(ctx context.Context, route *routetable.Route, req *envelope.Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request envelope: %w", err)
	}

	url := strings.TrimSuffix(route.BaseURL, "/") + "/" + route.Action

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Correlation-ID", req.CorrelationID)
	if route.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+route.APIKey)
	}

	start := time.Now()
	httpResp, err := b.client.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, duration.Round(time.Millisecond))
		}
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrTransport, err)
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Raw:        raw,
		Duration:   duration,
	}

	switch {
	case httpResp.StatusCode >= 500:
		return resp, fmt.Errorf("%w: status %d", ErrUpstreamServer, httpResp.StatusCode)
	case httpResp.StatusCode >= 400:
		return resp, fmt.Errorf("%w: status %d", ErrUpstreamClient, httpResp.StatusCode)
	}

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &resp.Data); err != nil {
			return resp, fmt.Errorf("%w: %v", ErrBadResponse, err)
		}
	}
	return resp, nil
}

// retryable reports whether a classified failure is safe to retry for a
// read-only action. Client errors are deterministic and never retried.
func retryable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrTransport) ||
		errors.Is(err, ErrUpstreamServer)
}

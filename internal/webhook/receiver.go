// ABOUTME: Inbound webhook receiver with HMAC verification and event dispatch
// ABOUTME: Signature check happens before any parsing so tampered bodies cause no side effects

package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/agent-gateway/internal/auth"
	"github.com/2389/agent-gateway/internal/store"
)

// ErrUnknownEvent is returned by the registry when no handler is bound to an
// event type. The receiver converts it into an ignored ack, never an error.
var ErrUnknownEvent = errors.New("unknown event type")

// Event is one parsed inbound callback.
type Event struct {
	Type    string
	Payload map[string]any
}

// Ack is the receiver's response to a verified callback.
type Ack struct {
	Received bool   `json:"received"`
	Event    string `json:"event"`
	Ignored  bool   `json:"ignored,omitempty"`
}

// Handler processes one verified event.
type Handler interface {
	Handle(ctx context.Context, evt *Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt *Event) error

func (f HandlerFunc) Handle(ctx context.Context, evt *Event) error {
	return f(ctx, evt)
}

// Registry is an explicit event-to-handler table built at startup.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to an event type, replacing any previous binding.
func (r *Registry) Register(event string, h Handler) {
	r.handlers[event] = h
}

// Dispatch routes the event to its handler. Returns ErrUnknownEvent when no
// handler is bound.
func (r *Registry) Dispatch(ctx context.Context, evt *Event) error {
	h, ok := r.handlers[evt.Type]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, evt.Type)
	}
	return h.Handle(ctx, evt)
}

// CommLogger records processed events in the communication log.
type CommLogger interface {
	AppendCommLog(ctx context.Context, entry *store.CommLogEntry) error
}

// Receiver verifies and dispatches inbound webhook callbacks.
type Receiver struct {
	signer   *auth.Signer
	registry *Registry
	commLog  CommLogger
	logger   *slog.Logger
}

// NewReceiver creates a receiver over the given signer and handler registry.
// commLog may be nil in tests.
func NewReceiver(signer *auth.Signer, registry *Registry, commLog CommLogger, logger *slog.Logger) *Receiver {
	return &Receiver{
		signer:   signer,
		registry: registry,
		commLog:  commLog,
		logger:   logger.With("component", "webhook"),
	}
}

// Receive verifies the signature, parses the payload, and dispatches to the
// registered handler. The signature is checked before the body is parsed, so
// a rejected callback causes no state change of any kind.
func (r *Receiver) Receive(ctx context.Context, event string, rawBody []byte, sigHeader string) (*Ack, error) {
	start := time.Now()

	if err := r.signer.Verify(rawBody, sigHeader); err != nil {
		r.logger.Warn("webhook signature rejected", "event", event, "error", err)
		return nil, err
	}

	var payload map[string]any
	if len(rawBody) > 0 {
		if err := json.Unmarshal(rawBody, &payload); err != nil {
			return nil, fmt.Errorf("parsing webhook body: %w", err)
		}
	}

	evt := &Event{Type: event, Payload: payload}
	err := r.registry.Dispatch(ctx, evt)
	if errors.Is(err, ErrUnknownEvent) {
		// Forward compatibility: unknown events are acknowledged so newer
		// workers can emit event types this gateway does not understand yet.
		r.logger.Info("ignoring unknown webhook event", "event", event)
		r.record(ctx, evt, rawBody, true, time.Since(start))
		return &Ack{Received: true, Event: event, Ignored: true}, nil
	}
	if err != nil {
		r.logger.Error("webhook handler failed", "event", event, "error", err)
		r.record(ctx, evt, rawBody, false, time.Since(start))
		return nil, err
	}

	r.logger.Info("webhook event processed", "event", event)
	r.record(ctx, evt, rawBody, true, time.Since(start))
	return &Ack{Received: true, Event: event}, nil
}

// record appends a comm log entry for a processed event. Logging failures
// must not fail the ack.
func (r *Receiver) record(ctx context.Context, evt *Event, rawBody []byte, success bool, duration time.Duration) {
	if r.commLog == nil {
		return
	}

	source := "unknown"
	if w, ok := evt.Payload["worker"].(string); ok {
		source = w
	}

	entry := &store.CommLogEntry{
		Source:      source,
		Destination: "gateway",
		Action:      evt.Type,
		Request:     string(rawBody),
		Success:     success,
		Duration:    duration,
		RequestSize: len(rawBody),
	}
	if err := r.commLog.AppendCommLog(ctx, entry); err != nil {
		r.logger.Error("failed to record webhook in comm log", "event", evt.Type, "error", err)
	}
}

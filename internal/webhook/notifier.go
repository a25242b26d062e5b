// ABOUTME: Outbound hook notifier delivering signed event notifications to registered callbacks
// ABOUTME: Delivery is best effort; failures are logged and never surfaced to the worker

package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/agent-gateway/internal/auth"
	"github.com/2389/agent-gateway/internal/store"
)

// RegistrationStore is the registration surface the notifier needs.
type RegistrationStore interface {
	ListWebhookRegistrations(ctx context.Context, event string) ([]*store.WebhookRegistration, error)
}

// HTTPNotifier posts signed event notifications to every callback registered
// for the event, plus an optional static hook URL from config.
type HTTPNotifier struct {
	client        *http.Client
	registrations RegistrationStore
	hookURL       string
	hookSigner    *auth.Signer
	logger        *slog.Logger
}

// NewHTTPNotifier creates a notifier. hookURL may be empty when no static
// host hook is configured; hookSigner signs deliveries to it.
func NewHTTPNotifier(registrations RegistrationStore, hookURL string, hookSigner *auth.Signer, logger *slog.Logger) *HTTPNotifier {
	return &HTTPNotifier{
		client:        &http.Client{Timeout: 10 * time.Second},
		registrations: registrations,
		hookURL:       hookURL,
		hookSigner:    hookSigner,
		logger:        logger.With("component", "notifier"),
	}
}

// Notify delivers the event to all registered callbacks. Individual delivery
// failures are logged; the returned error covers only the inability to load
// registrations.
func (n *HTTPNotifier) Notify(ctx context.Context, event string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling notification payload: %w", err)
	}

	regs, err := n.registrations.ListWebhookRegistrations(ctx, event)
	if err != nil {
		return fmt.Errorf("loading registrations for %s: %w", event, err)
	}

	for _, reg := range regs {
		n.deliver(ctx, event, reg.CallbackURL, body, auth.NewSigner([]byte(reg.Secret)))
	}

	if n.hookURL != "" {
		n.deliver(ctx, event, n.hookURL, body, n.hookSigner)
	}
	return nil
}

// deliver posts one signed notification. Failures are logged, never returned.
func (n *HTTPNotifier) deliver(ctx context.Context, event, url string, body []byte, signer *auth.Signer) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		n.logger.Error("building hook notification", "url", url, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", event)
	req.Header.Set("X-Signature", signer.Sign(body))

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Error("hook notification delivery failed", "url", url, "event", event, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		n.logger.Error("hook notification rejected", "url", url, "event", event, "status", resp.StatusCode)
		return
	}
	n.logger.Debug("hook notification delivered", "url", url, "event", event)
}

// ABOUTME: Webhook registration persistence binding event types to callback URLs
// ABOUTME: Registrations are append-only; duplicates on (event, url) are rejected

package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateWebhookRegistration stores a new event subscription. Returns
// ErrDuplicate when the (event, callback_url) pair is already registered.
func (s *SQLiteStore) CreateWebhookRegistration(ctx context.Context, reg *WebhookRegistration) error {
	if reg.ID == "" {
		reg.ID = uuid.New().String()
	}
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO webhook_registrations (id, event, callback_url, secret, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		reg.ID,
		reg.Event,
		reg.CallbackURL,
		reg.Secret,
		reg.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("registration for %s at %s: %w", reg.Event, reg.CallbackURL, ErrDuplicate)
		}
		return fmt.Errorf("creating webhook registration: %w", err)
	}

	s.logger.Info("webhook registration created", "id", reg.ID, "event", reg.Event, "callback_url", reg.CallbackURL)
	return nil
}

// ListWebhookRegistrations returns registrations for one event, or all
// registrations when event is empty.
func (s *SQLiteStore) ListWebhookRegistrations(ctx context.Context, event string) ([]*WebhookRegistration, error) {
	query := `
		SELECT id, event, callback_url, secret, created_at
		FROM webhook_registrations
	`
	var args []any
	if event != "" {
		query += " WHERE event = ?"
		args = append(args, event)
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying webhook registrations: %w", err)
	}
	defer rows.Close()

	var regs []*WebhookRegistration
	for rows.Next() {
		var reg WebhookRegistration
		var createdAtStr string

		if err := rows.Scan(&reg.ID, &reg.Event, &reg.CallbackURL, &reg.Secret, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning webhook registration: %w", err)
		}
		reg.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		regs = append(regs, &reg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating registration rows: %w", err)
	}
	return regs, nil
}

// isUniqueViolation reports whether err is a SQLite unique constraint error.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ABOUTME: Communication log persistence, the append-only record of gateway traffic
// ABOUTME: Supports filtered listing and retention-driven purging

package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AppendCommLog records one gateway call or processed webhook event.
// The entry ID and timestamp are assigned if unset.
func (s *SQLiteStore) AppendCommLog(ctx context.Context, entry *CommLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO comm_log (id, source, destination, action, request, response,
			success, duration_ms, request_size, response_size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.Source,
		entry.Destination,
		entry.Action,
		nullString(entry.Request),
		nullString(entry.Response),
		entry.Success,
		entry.Duration.Milliseconds(),
		entry.RequestSize,
		entry.ResponseSize,
		entry.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("appending comm log entry: %w", err)
	}

	s.logger.Debug("comm log entry recorded",
		"id", entry.ID,
		"destination", entry.Destination,
		"action", entry.Action,
		"success", entry.Success)
	return nil
}

// ListCommLog returns log entries matching the filter, newest first.
func (s *SQLiteStore) ListCommLog(ctx context.Context, filter CommLogFilter) ([]*CommLogEntry, error) {
	var conditions []string
	var args []any

	if filter.Worker != nil {
		conditions = append(conditions, "destination = ?")
		args = append(args, *filter.Worker)
	}
	if filter.Since != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since.UTC().Format(time.RFC3339))
	}
	if filter.Until != nil {
		conditions = append(conditions, "created_at < ?")
		args = append(args, filter.Until.UTC().Format(time.RFC3339))
	}

	query := `
		SELECT id, source, destination, action, request, response,
			success, duration_ms, request_size, response_size, created_at
		FROM comm_log
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying comm log: %w", err)
	}
	defer rows.Close()

	var entries []*CommLogEntry
	for rows.Next() {
		var entry CommLogEntry
		var request, response *string
		var durationMs int64
		var createdAtStr string

		err := rows.Scan(&entry.ID, &entry.Source, &entry.Destination, &entry.Action,
			&request, &response, &entry.Success, &durationMs,
			&entry.RequestSize, &entry.ResponseSize, &createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("scanning comm log entry: %w", err)
		}

		if request != nil {
			entry.Request = *request
		}
		if response != nil {
			entry.Response = *response
		}
		entry.Duration = time.Duration(durationMs) * time.Millisecond
		entry.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}

		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating comm log rows: %w", err)
	}
	return entries, nil
}

// PurgeCommLog deletes entries created before the cutoff and returns the
// number deleted. Called periodically by the retention loop.
func (s *SQLiteStore) PurgeCommLog(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM comm_log WHERE created_at < ?",
		before.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("purging comm log: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting purged rows: %w", err)
	}

	if deleted > 0 {
		s.logger.Info("purged old comm log entries", "deleted", deleted, "before", before.UTC().Format(time.RFC3339))
	}
	return deleted, nil
}

// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides gateway bookkeeping persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agent_snapshots (
			worker_id     TEXT PRIMARY KEY,
			state_json    TEXT NOT NULL,
			submission_id TEXT,
			updated_at    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS comm_log (
			id            TEXT PRIMARY KEY,
			source        TEXT NOT NULL,
			destination   TEXT NOT NULL,
			action        TEXT NOT NULL,
			request       TEXT,
			response      TEXT,
			success       INTEGER NOT NULL,
			duration_ms   INTEGER NOT NULL,
			request_size  INTEGER NOT NULL,
			response_size INTEGER NOT NULL,
			created_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_comm_log_destination_created
			ON comm_log(destination, created_at);

		CREATE INDEX IF NOT EXISTS idx_comm_log_created ON comm_log(created_at);

		CREATE TABLE IF NOT EXISTS workflows (
			workflow_id   TEXT PRIMARY KEY,
			submission_id TEXT,
			stage         TEXT NOT NULL,
			result_json   TEXT,
			error_detail  TEXT,
			created_at    TEXT NOT NULL,
			dispatched_at TEXT,
			processing_at TEXT,
			completed_at  TEXT,

			CHECK (stage IN ('queued', 'dispatched', 'processing', 'completed', 'failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_workflows_submission ON workflows(submission_id);

		CREATE TABLE IF NOT EXISTS webhook_registrations (
			id           TEXT PRIMARY KEY,
			event        TEXT NOT NULL,
			callback_url TEXT NOT NULL,
			secret       TEXT NOT NULL,
			created_at   TEXT NOT NULL,

			UNIQUE(event, callback_url)
		);

		CREATE INDEX IF NOT EXISTS idx_webhook_registrations_event
			ON webhook_registrations(event);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// UpsertAgentSnapshot saves or replaces the latest state for a worker.
func (s *SQLiteStore) UpsertAgentSnapshot(ctx context.Context, snap *AgentSnapshot) error {
	stateJSON, err := json.Marshal(snap.State)
	if err != nil {
		return fmt.Errorf("marshaling snapshot state: %w", err)
	}

	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}

	query := `
		INSERT OR REPLACE INTO agent_snapshots (worker_id, state_json, submission_id, updated_at)
		VALUES (?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		snap.WorkerID,
		string(stateJSON),
		nullString(snap.SubmissionID),
		snap.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting agent snapshot: %w", err)
	}

	s.logger.Debug("saved agent snapshot", "worker_id", snap.WorkerID)
	return nil
}

// GetAgentSnapshot retrieves the latest state for a worker.
// Returns ErrNotFound if the worker has no saved snapshot.
func (s *SQLiteStore) GetAgentSnapshot(ctx context.Context, workerID string) (*AgentSnapshot, error) {
	query := `
		SELECT worker_id, state_json, submission_id, updated_at
		FROM agent_snapshots
		WHERE worker_id = ?
	`

	return scanSnapshot(s.db.QueryRowContext(ctx, query, workerID))
}

// ListAgentSnapshots returns the latest snapshot for every known worker.
func (s *SQLiteStore) ListAgentSnapshots(ctx context.Context) ([]*AgentSnapshot, error) {
	query := `
		SELECT worker_id, state_json, submission_id, updated_at
		FROM agent_snapshots
		ORDER BY worker_id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying agent snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*AgentSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshot rows: %w", err)
	}
	return snaps, nil
}

// scanSnapshot scans one agent snapshot row.
func scanSnapshot(scanner interface{ Scan(dest ...any) error }) (*AgentSnapshot, error) {
	var snap AgentSnapshot
	var stateJSON, updatedAtStr string
	var submissionID sql.NullString

	err := scanner.Scan(&snap.WorkerID, &stateJSON, &submissionID, &updatedAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning agent snapshot: %w", err)
	}

	if err := json.Unmarshal([]byte(stateJSON), &snap.State); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot state: %w", err)
	}
	if submissionID.Valid {
		snap.SubmissionID = submissionID.String
	}
	snap.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &snap, nil
}

// nullString returns nil for empty strings, otherwise the string value
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)

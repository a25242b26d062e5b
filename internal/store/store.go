// ABOUTME: Store interface and data models for gateway bookkeeping
// ABOUTME: Covers agent state snapshots, communication logs, workflows, and webhook registrations

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/agent-gateway/internal/workflow"
)

// Store errors
var (
	// ErrNotFound is returned when a requested record doesn't exist
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a unique constraint is violated
	ErrDuplicate = errors.New("duplicate record")
)

// AgentSnapshot is the latest known state document for one worker.
// One row per worker id, overwritten on each update - it represents
// current state, not history.
type AgentSnapshot struct {
	WorkerID     string
	State        map[string]any
	SubmissionID string
	UpdatedAt    time.Time
}

// CommLogEntry records one gateway call or processed webhook event.
// Entries are append-only and pruned by the retention policy.
type CommLogEntry struct {
	ID           string
	Source       string
	Destination  string
	Action       string
	Request      string
	Response     string
	Success      bool
	Duration     time.Duration
	RequestSize  int
	ResponseSize int
	CreatedAt    time.Time
}

// CommLogFilter specifies filtering options for listing communication logs.
type CommLogFilter struct {
	Worker *string
	Since  *time.Time
	Until  *time.Time
	Limit  int
}

// WorkflowRecord tracks one long-running task from dispatch to terminal state.
type WorkflowRecord struct {
	WorkflowID   string
	SubmissionID string
	Stage        workflow.Stage
	Result       map[string]any
	ErrorDetail  string
	CreatedAt    time.Time
	DispatchedAt *time.Time
	ProcessingAt *time.Time
	CompletedAt  *time.Time
}

// WebhookRegistration binds an event type to a callback URL with a shared
// signing secret.
type WebhookRegistration struct {
	ID          string
	Event       string
	CallbackURL string
	Secret      string
	CreatedAt   time.Time
}

// Store is the persistence interface consumed by the gateway and webhook
// receiver. SQLiteStore is the implementation.
type Store interface {
	// Agent state snapshots
	UpsertAgentSnapshot(ctx context.Context, snap *AgentSnapshot) error
	GetAgentSnapshot(ctx context.Context, workerID string) (*AgentSnapshot, error)
	ListAgentSnapshots(ctx context.Context) ([]*AgentSnapshot, error)

	// Communication log
	AppendCommLog(ctx context.Context, entry *CommLogEntry) error
	ListCommLog(ctx context.Context, filter CommLogFilter) ([]*CommLogEntry, error)
	PurgeCommLog(ctx context.Context, before time.Time) (int64, error)

	// Workflow status
	CreateWorkflow(ctx context.Context, rec *WorkflowRecord) error
	GetWorkflow(ctx context.Context, workflowID string) (*WorkflowRecord, error)
	GetWorkflowStage(ctx context.Context, workflowID string) (workflow.Stage, error)
	SetWorkflowStage(ctx context.Context, workflowID string, stage workflow.Stage, detail map[string]any) error

	// Webhook registrations
	CreateWebhookRegistration(ctx context.Context, reg *WebhookRegistration) error
	ListWebhookRegistrations(ctx context.Context, event string) ([]*WebhookRegistration, error)

	Close() error
}

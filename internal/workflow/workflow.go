// ABOUTME: Workflow stage state machine for long-running agent tasks
// ABOUTME: Enforces monotonic queued -> dispatched -> processing -> terminal transitions

package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Stage is the lifecycle stage of a tracked workflow.
type Stage string

const (
	StageQueued     Stage = "queued"
	StageDispatched Stage = "dispatched"
	StageProcessing Stage = "processing"
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
)

// Workflow errors
var (
	// ErrStageRegression means the requested transition targets an earlier
	// stage than the current one. Callers log and discard these.
	ErrStageRegression = errors.New("stage regression")

	// ErrUnknownStage means the stage name is not part of the lifecycle.
	ErrUnknownStage = errors.New("unknown stage")
)

// stageRank orders stages along the lifecycle. Both terminal stages share
// the top rank: completed and failed are alternatives, not a sequence.
var stageRank = map[Stage]int{
	StageQueued:     0,
	StageDispatched: 1,
	StageProcessing: 2,
	StageCompleted:  3,
	StageFailed:     3,
}

// Valid reports whether s names a known stage.
func (s Stage) Valid() bool {
	_, ok := stageRank[s]
	return ok
}

// Terminal reports whether s is a terminal stage.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Store is the persistence surface the tracker needs. Implemented by the
// SQLite state store.
type Store interface {
	GetWorkflowStage(ctx context.Context, workflowID string) (Stage, error)
	SetWorkflowStage(ctx context.Context, workflowID string, stage Stage, detail map[string]any) error
}

// Tracker applies stage transitions while preserving the monotonic
// invariant. Updates for the same workflow id are serialized with a per-key
// lock so concurrent duplicate callbacks cannot interleave the
// read-check-write sequence.
type Tracker struct {
	store  Store
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTracker creates a tracker over the given store.
func NewTracker(store Store, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:  store,
		logger: logger.With("component", "workflow"),
		locks:  make(map[string]*sync.Mutex),
	}
}

// keyLock returns the mutex serializing updates for one workflow id.
func (t *Tracker) keyLock(workflowID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.locks[workflowID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[workflowID] = l
	}
	return l
}

// Advance moves a workflow to the given stage.
// A transition to the current stage is a no-op (duplicate delivery
// tolerance). A transition to an earlier stage returns ErrStageRegression
// and leaves state unchanged.
func (t *Tracker) Advance(ctx context.Context, workflowID string, stage Stage, detail map[string]any) error {
	if !stage.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStage, stage)
	}

	l := t.keyLock(workflowID)
	l.Lock()
	defer l.Unlock()

	current, err := t.store.GetWorkflowStage(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("loading workflow %s: %w", workflowID, err)
	}

	if stage == current {
		t.logger.Debug("duplicate stage transition ignored", "workflow_id", workflowID, "stage", stage)
		return nil
	}
	if stageRank[stage] < stageRank[current] {
		return fmt.Errorf("%w: %s -> %s", ErrStageRegression, current, stage)
	}
	if current.Terminal() {
		// completed -> failed (or the reverse) shares a rank but is still
		// a forbidden transition between alternatives.
		return fmt.Errorf("%w: %s -> %s", ErrStageRegression, current, stage)
	}

	if err := t.store.SetWorkflowStage(ctx, workflowID, stage, detail); err != nil {
		return fmt.Errorf("persisting workflow %s stage %s: %w", workflowID, stage, err)
	}

	t.logger.Info("workflow stage advanced", "workflow_id", workflowID, "from", current, "to", stage)
	return nil
}

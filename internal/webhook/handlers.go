// ABOUTME: Built-in webhook event handlers for agent status and workflow lifecycle events
// ABOUTME: Handlers are registered explicitly at startup, one per event type

package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/agent-gateway/internal/store"
	"github.com/2389/agent-gateway/internal/workflow"
)

// Known event types accepted by registration and handled by the built-ins.
const (
	EventStatusChanged   = "agent.status.changed"
	EventTaskCompleted   = "agent.task.completed"
	EventTaskFailed      = "agent.task.failed"
	EventWorkflowUpdated = "workflow.status.updated"
)

// AllowedEvents lists the event types that may be registered for callbacks.
var AllowedEvents = []string{
	EventStatusChanged,
	EventTaskCompleted,
	EventTaskFailed,
	EventWorkflowUpdated,
}

// SnapshotStore is the snapshot surface the status handler needs.
type SnapshotStore interface {
	UpsertAgentSnapshot(ctx context.Context, snap *store.AgentSnapshot) error
}

// Notifier delivers host-side hook notifications for terminal task events.
type Notifier interface {
	Notify(ctx context.Context, event string, payload map[string]any) error
}

// RegisterBuiltins wires the standard event handlers into the registry.
func RegisterBuiltins(reg *Registry, snapshots SnapshotStore, tracker *workflow.Tracker, notifier Notifier, logger *slog.Logger) {
	logger = logger.With("component", "webhook")

	reg.Register(EventStatusChanged, &statusChangedHandler{snapshots: snapshots})
	reg.Register(EventTaskCompleted, &taskTerminalHandler{
		tracker: tracker, notifier: notifier, logger: logger, stage: workflow.StageCompleted,
	})
	reg.Register(EventTaskFailed, &taskTerminalHandler{
		tracker: tracker, notifier: notifier, logger: logger, stage: workflow.StageFailed,
	})
	reg.Register(EventWorkflowUpdated, &stageUpdateHandler{tracker: tracker, logger: logger})
}

// statusChangedHandler overwrites the latest state snapshot for a worker.
type statusChangedHandler struct {
	snapshots SnapshotStore
}

func (h *statusChangedHandler) Handle(ctx context.Context, evt *Event) error {
	workerID, ok := evt.Payload["worker"].(string)
	if !ok || workerID == "" {
		return fmt.Errorf("status event missing worker id")
	}

	snap := &store.AgentSnapshot{
		WorkerID:  workerID,
		UpdatedAt: time.Now().UTC(),
	}
	if state, ok := evt.Payload["state"].(map[string]any); ok {
		snap.State = state
	} else {
		snap.State = map[string]any{}
	}
	if sub, ok := evt.Payload["submission_id"].(string); ok {
		snap.SubmissionID = sub
	}

	return h.snapshots.UpsertAgentSnapshot(ctx, snap)
}

// taskTerminalHandler moves a workflow to its terminal stage, stores the
// result or error payload, and emits a host-side hook notification.
type taskTerminalHandler struct {
	tracker  *workflow.Tracker
	notifier Notifier
	logger   *slog.Logger
	stage    workflow.Stage
}

func (h *taskTerminalHandler) Handle(ctx context.Context, evt *Event) error {
	workflowID, ok := evt.Payload["workflow_id"].(string)
	if !ok || workflowID == "" {
		return fmt.Errorf("task event missing workflow_id")
	}

	detail := map[string]any{}
	if h.stage == workflow.StageCompleted {
		if results, ok := evt.Payload["results"].(map[string]any); ok {
			detail = results
		}
	} else {
		if msg, ok := evt.Payload["error"].(string); ok {
			detail["error"] = msg
		}
	}

	err := h.tracker.Advance(ctx, workflowID, h.stage, detail)
	if errors.Is(err, workflow.ErrStageRegression) {
		// Late or duplicate terminal delivery. The workflow already settled,
		// so discard the event rather than failing the worker's callback.
		h.logger.Warn("discarding stale terminal event",
			"workflow_id", workflowID, "stage", h.stage, "error", err)
		return nil
	}
	if err != nil {
		return err
	}

	if h.notifier != nil {
		if err := h.notifier.Notify(ctx, evt.Type, evt.Payload); err != nil {
			// Host notification is best effort. The worker already did its
			// part, so its ack must not depend on our downstream delivery.
			h.logger.Error("host hook notification failed",
				"event", evt.Type, "workflow_id", workflowID, "error", err)
		}
	}
	return nil
}

// stageUpdateHandler applies an explicit stage update from a worker.
type stageUpdateHandler struct {
	tracker *workflow.Tracker
	logger  *slog.Logger
}

func (h *stageUpdateHandler) Handle(ctx context.Context, evt *Event) error {
	workflowID, ok := evt.Payload["workflow_id"].(string)
	if !ok || workflowID == "" {
		return fmt.Errorf("stage update missing workflow_id")
	}
	stageStr, ok := evt.Payload["stage"].(string)
	if !ok || stageStr == "" {
		return fmt.Errorf("stage update missing stage")
	}

	err := h.tracker.Advance(ctx, workflowID, workflow.Stage(stageStr), nil)
	if errors.Is(err, workflow.ErrStageRegression) {
		h.logger.Warn("discarding backward stage update",
			"workflow_id", workflowID, "stage", stageStr, "error", err)
		return nil
	}
	return err
}

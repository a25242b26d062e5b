// ABOUTME: Dispatch orchestrator running the route, admit, auth, validate, call sequence
// ABOUTME: Every dispatch leaves a communication log entry regardless of outcome

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/agent-gateway/internal/auth"
	"github.com/2389/agent-gateway/internal/bridge"
	"github.com/2389/agent-gateway/internal/envelope"
	"github.com/2389/agent-gateway/internal/ratelimit"
	"github.com/2389/agent-gateway/internal/routetable"
	"github.com/2389/agent-gateway/internal/store"
	"github.com/2389/agent-gateway/internal/workflow"
)

// UpstreamCaller performs the outbound worker call. Implemented by the
// bridge; faked in tests.
type UpstreamCaller interface {
	Call(ctx context.Context, route *routetable.Route, env *envelope.Request) (*bridge.Response, error)
}

// DispatchRequest carries everything the orchestrator needs for one call.
type DispatchRequest struct {
	Worker     string
	Action     string
	Payload    map[string]any
	Credential auth.Credential
	Host       string
	Session    string
}

// Gateway orchestrates inbound action dispatches.
type Gateway struct {
	table     *routetable.Table
	limiter   *ratelimit.Limiter
	validator *auth.Validator
	upstream  UpstreamCaller
	store     store.Store
	tracker   *workflow.Tracker
	metrics   *Metrics
	logger    *slog.Logger
}

// New creates a gateway. metrics may be nil when the endpoint is disabled.
func New(table *routetable.Table, limiter *ratelimit.Limiter, validator *auth.Validator,
	upstream UpstreamCaller, st store.Store, tracker *workflow.Tracker,
	metrics *Metrics, logger *slog.Logger) *Gateway {
	return &Gateway{
		table:     table,
		limiter:   limiter,
		validator: validator,
		upstream:  upstream,
		store:     st,
		tracker:   tracker,
		metrics:   metrics,
		logger:    logger.With("component", "gateway"),
	}
}

// Dispatch runs the full dispatch sequence and returns exactly one of a
// success or error envelope. Failure paths before the upstream call leave no
// side effect beyond the log entry; once the call is in flight it is never
// retried here.
func (g *Gateway) Dispatch(ctx context.Context, req *DispatchRequest) (*envelope.Success, *envelope.Error) {
	start := time.Now()

	route, err := g.table.Resolve(req.Worker, req.Action)
	if err != nil {
		return nil, g.fail(ctx, req, "", start, envelope.CodeRouteNotFound,
			fmt.Sprintf("no route for %s/%s", req.Worker, req.Action))
	}

	key := req.Worker + ":" + req.Action
	if !g.limiter.Admit(ctx, key, route.Rule.RateLimit, route.Rule.RateWindow) {
		g.metrics.recordRateLimited(req.Worker, req.Action)
		return nil, g.fail(ctx, req, "", start, envelope.CodeRateLimited,
			fmt.Sprintf("rate limit exceeded for %s", key))
	}

	identity, err := g.validator.Validate(req.Credential)
	if err != nil {
		return nil, g.fail(ctx, req, "", start, envelope.CodeUnauthenticated, "invalid credentials")
	}

	if err := route.Rule.Validate(req.Payload); err != nil {
		return nil, g.fail(ctx, req, identity.Subject, start, envelope.CodeValidationError, err.Error())
	}

	env := envelope.NewRequest(req.Worker, req.Action, req.Payload, envelope.Caller{
		Subject: identity.Subject,
		Host:    req.Host,
		Session: req.Session,
	})

	workflowID, err := g.createWorkflow(ctx, req.Payload)
	if err != nil {
		return nil, g.fail(ctx, req, identity.Subject, start, envelope.CodeInternalError, "failed to track workflow")
	}

	resp, callErr := g.upstream.Call(ctx, route, env)
	if callErr != nil {
		code, msg := classifyBridgeError(callErr)
		g.finishWorkflow(ctx, workflowID, workflow.StageFailed, map[string]any{"error": msg})
		errEnv := g.fail(ctx, req, identity.Subject, start, code, msg)
		return nil, errEnv
	}

	data := resp.Data
	if route.Rule.Async {
		g.finishWorkflow(ctx, workflowID, workflow.StageDispatched, nil)
		if data == nil {
			data = map[string]any{}
		}
		data["workflow_id"] = workflowID
	} else {
		g.finishWorkflow(ctx, workflowID, workflow.StageCompleted, data)
	}

	success := envelope.NewSuccess(req.Worker, req.Action, data)
	g.record(ctx, req, identity.Subject, data, true, time.Since(start))
	g.metrics.recordDispatch(req.Worker, req.Action, "success", time.Since(start).Seconds())

	g.logger.Info("dispatch succeeded",
		"worker", req.Worker,
		"action", req.Action,
		"caller", identity.Subject,
		"correlation_id", env.CorrelationID,
		"attempts", resp.Attempts,
		"duration_ms", time.Since(start).Milliseconds())
	return success, nil
}

// createWorkflow opens a workflow record for a dispatch about to go out.
func (g *Gateway) createWorkflow(ctx context.Context, payload map[string]any) (string, error) {
	rec := &store.WorkflowRecord{
		WorkflowID: "wf_" + uuid.New().String(),
		Stage:      workflow.StageQueued,
	}
	if sub, ok := payload["submission_id"].(string); ok {
		rec.SubmissionID = sub
	}
	if err := g.store.CreateWorkflow(ctx, rec); err != nil {
		g.logger.Error("failed to create workflow record", "error", err)
		return "", err
	}
	return rec.WorkflowID, nil
}

// finishWorkflow advances the dispatch's workflow record. A tracking failure
// is logged but never turns a settled dispatch into a caller-facing error.
func (g *Gateway) finishWorkflow(ctx context.Context, workflowID string, stage workflow.Stage, detail map[string]any) {
	if err := g.tracker.Advance(ctx, workflowID, stage, detail); err != nil {
		g.logger.Error("failed to advance workflow",
			"workflow_id", workflowID, "stage", stage, "error", err)
	}
}

// fail records the failure and builds the caller-facing error envelope.
func (g *Gateway) fail(ctx context.Context, req *DispatchRequest, caller string, start time.Time, code envelope.Code, message string) *envelope.Error {
	g.record(ctx, req, caller, map[string]any{"error": message}, false, time.Since(start))
	g.metrics.recordDispatch(req.Worker, req.Action, string(code), time.Since(start).Seconds())

	g.logger.Warn("dispatch rejected",
		"worker", req.Worker,
		"action", req.Action,
		"code", code,
		"message", message)
	return envelope.NewError(code, message)
}

// record appends the communication log entry for a dispatch.
func (g *Gateway) record(ctx context.Context, req *DispatchRequest, caller string, response map[string]any, success bool, duration time.Duration) {
	if caller == "" {
		caller = "anonymous"
	}
	reqJSON, _ := json.Marshal(req.Payload)
	respJSON, _ := json.Marshal(response)

	entry := &store.CommLogEntry{
		Source:       caller,
		Destination:  req.Worker,
		Action:       req.Action,
		Request:      string(reqJSON),
		Response:     string(respJSON),
		Success:      success,
		Duration:     duration,
		RequestSize:  len(reqJSON),
		ResponseSize: len(respJSON),
	}
	if err := g.store.AppendCommLog(ctx, entry); err != nil {
		g.logger.Error("failed to append comm log", "worker", req.Worker, "action", req.Action, "error", err)
	}
}

// classifyBridgeError maps a bridge failure onto the caller-facing taxonomy.
func classifyBridgeError(err error) (envelope.Code, string) {
	switch {
	case errors.Is(err, bridge.ErrTimeout):
		return envelope.CodeUpstreamTimeout, "upstream call timed out"
	case errors.Is(err, bridge.ErrBadResponse):
		return envelope.CodeBadUpstreamBody, "upstream returned an undecodable response"
	case errors.Is(err, bridge.ErrUpstreamClient), errors.Is(err, bridge.ErrUpstreamServer), errors.Is(err, bridge.ErrTransport):
		return envelope.CodeUpstreamError, "upstream call failed"
	default:
		return envelope.CodeInternalError, "internal dispatch failure"
	}
}

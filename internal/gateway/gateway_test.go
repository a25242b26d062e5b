// ABOUTME: Tests for the dispatch orchestrator sequence
// ABOUTME: Verifies ordering of checks, error mapping, workflow tracking, and comm logging

package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agent-gateway/internal/auth"
	"github.com/2389/agent-gateway/internal/bridge"
	"github.com/2389/agent-gateway/internal/config"
	"github.com/2389/agent-gateway/internal/envelope"
	"github.com/2389/agent-gateway/internal/ratelimit"
	"github.com/2389/agent-gateway/internal/routetable"
	"github.com/2389/agent-gateway/internal/store"
	"github.com/2389/agent-gateway/internal/workflow"
)

// fakeUpstream returns a canned response or error and records calls.
type fakeUpstream struct {
	resp  *bridge.Response
	err   error
	calls int
}

func (f *fakeUpstream) Call(_ context.Context, _ *routetable.Route, _ *envelope.Request) (*bridge.Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func testWorkers() []config.WorkerConfig {
	return []config.WorkerConfig{
		{
			Name:    "research-discovery",
			BaseURL: "http://localhost:9001",
			APIKey:  "rd-key",
			Actions: []config.ActionConfig{
				{
					Name:     "literature_search",
					Required: []string{"query"},
					Fields:   map[string]string{"query": "string", "filters": "object"},
					ReadOnly: true,
				},
				{
					Name:     "deep_analysis",
					Required: []string{"query"},
					Fields:   map[string]string{"query": "string"},
					Async:    true,
				},
			},
		},
		{
			Name:    "submission-assistant",
			BaseURL: "http://localhost:9002",
			APIKey:  "sa-key",
			Actions: []config.ActionConfig{
				{
					Name:      "quality_assessment",
					Required:  []string{"manuscript_content"},
					Fields:    map[string]string{"manuscript_content": "string"},
					RateLimit: 5,
				},
			},
		},
	}
}

type gatewayFixture struct {
	gw       *Gateway
	st       *store.SQLiteStore
	upstream *fakeUpstream
}

func setupGateway(t *testing.T, upstream *fakeUpstream) *gatewayFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	table, err := routetable.New(testWorkers())
	require.NoError(t, err)

	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryWindow(), true, time.Minute, 100, logger)
	validator := auth.NewValidator(map[string]string{"researcher": "caller-key"}, nil)
	tracker := workflow.NewTracker(st, logger)

	gw := New(table, limiter, validator, upstream, st, tracker, nil, logger)
	return &gatewayFixture{gw: gw, st: st, upstream: upstream}
}

func validRequest() *DispatchRequest {
	return &DispatchRequest{
		Worker:     "research-discovery",
		Action:     "literature_search",
		Payload:    map[string]any{"query": "peptides", "filters": map[string]any{}},
		Credential: auth.Credential{APIKey: "caller-key"},
	}
}

func okResponse() *bridge.Response {
	return &bridge.Response{
		StatusCode: 200,
		Data:       map[string]any{"results": []any{"paper-1"}},
		Attempts:   1,
	}
}

func TestDispatch_Success(t *testing.T) {
	f := setupGateway(t, &fakeUpstream{resp: okResponse()})

	success, errEnv := f.gw.Dispatch(context.Background(), validRequest())
	require.Nil(t, errEnv)
	require.NotNil(t, success)

	assert.Equal(t, "success", success.Status)
	assert.Equal(t, "research-discovery", success.Worker)
	assert.Equal(t, "literature_search", success.Action)
	assert.Contains(t, success.Data, "results")
	assert.NotEmpty(t, success.ResponseID)

	entries, err := f.st.ListCommLog(context.Background(), store.CommLogFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Success)
	assert.Equal(t, "researcher", entries[0].Source)
}

func TestDispatch_RouteNotFound(t *testing.T) {
	f := setupGateway(t, &fakeUpstream{resp: okResponse()})

	req := validRequest()
	req.Worker = "nonexistent"

	_, errEnv := f.gw.Dispatch(context.Background(), req)
	require.NotNil(t, errEnv)
	assert.Equal(t, envelope.CodeRouteNotFound, errEnv.Err.Code)
	assert.Equal(t, 0, f.upstream.calls, "no upstream call for an unroutable request")
}

func TestDispatch_Unauthenticated(t *testing.T) {
	f := setupGateway(t, &fakeUpstream{resp: okResponse()})

	req := validRequest()
	req.Credential = auth.Credential{APIKey: "wrong-key"}

	_, errEnv := f.gw.Dispatch(context.Background(), req)
	require.NotNil(t, errEnv)
	assert.Equal(t, envelope.CodeUnauthenticated, errEnv.Err.Code)
	assert.Equal(t, 0, f.upstream.calls)
}

func TestDispatch_ValidationError(t *testing.T) {
	f := setupGateway(t, &fakeUpstream{resp: okResponse()})

	req := &DispatchRequest{
		Worker:     "submission-assistant",
		Action:     "quality_assessment",
		Payload:    map[string]any{},
		Credential: auth.Credential{APIKey: "caller-key"},
	}

	_, errEnv := f.gw.Dispatch(context.Background(), req)
	require.NotNil(t, errEnv)
	assert.Equal(t, envelope.CodeValidationError, errEnv.Err.Code)
	assert.Contains(t, errEnv.Err.Message, "manuscript_content")
	assert.Equal(t, 0, f.upstream.calls)
}

func TestDispatch_RateLimited(t *testing.T) {
	f := setupGateway(t, &fakeUpstream{resp: okResponse()})

	req := &DispatchRequest{
		Worker:     "submission-assistant",
		Action:     "quality_assessment",
		Payload:    map[string]any{"manuscript_content": "draft"},
		Credential: auth.Credential{APIKey: "caller-key"},
	}

	for i := 0; i < 5; i++ {
		_, errEnv := f.gw.Dispatch(context.Background(), req)
		require.Nil(t, errEnv, "call %d within the limit must pass", i+1)
	}

	_, errEnv := f.gw.Dispatch(context.Background(), req)
	require.NotNil(t, errEnv)
	assert.Equal(t, envelope.CodeRateLimited, errEnv.Err.Code)
	assert.Equal(t, 5, f.upstream.calls)
}

func TestDispatch_RateLimitCheckedBeforeAuth(t *testing.T) {
	f := setupGateway(t, &fakeUpstream{resp: okResponse()})

	req := &DispatchRequest{
		Worker:     "submission-assistant",
		Action:     "quality_assessment",
		Payload:    map[string]any{"manuscript_content": "draft"},
		Credential: auth.Credential{APIKey: "wrong-key"},
	}

	// Unauthenticated calls still consume window slots, so abusive callers
	// cannot probe credentials faster than the limit allows.
	for i := 0; i < 5; i++ {
		_, errEnv := f.gw.Dispatch(context.Background(), req)
		require.NotNil(t, errEnv)
		assert.Equal(t, envelope.CodeUnauthenticated, errEnv.Err.Code)
	}

	_, errEnv := f.gw.Dispatch(context.Background(), req)
	require.NotNil(t, errEnv)
	assert.Equal(t, envelope.CodeRateLimited, errEnv.Err.Code)
}

func TestDispatch_UpstreamTimeout(t *testing.T) {
	f := setupGateway(t, &fakeUpstream{err: bridge.ErrTimeout})

	_, errEnv := f.gw.Dispatch(context.Background(), validRequest())
	require.NotNil(t, errEnv)
	assert.Equal(t, envelope.CodeUpstreamTimeout, errEnv.Err.Code)
}

func TestDispatch_UpstreamErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want envelope.Code
	}{
		{"client error", bridge.ErrUpstreamClient, envelope.CodeUpstreamError},
		{"server error", bridge.ErrUpstreamServer, envelope.CodeUpstreamError},
		{"transport", bridge.ErrTransport, envelope.CodeUpstreamError},
		{"bad body", bridge.ErrBadResponse, envelope.CodeBadUpstreamBody},
		{"unknown", errors.New("wat"), envelope.CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupGateway(t, &fakeUpstream{err: tt.err})
			_, errEnv := f.gw.Dispatch(context.Background(), validRequest())
			require.NotNil(t, errEnv)
			assert.Equal(t, tt.want, errEnv.Err.Code)
		})
	}
}

func TestDispatch_AsyncReturnsWorkflowID(t *testing.T) {
	f := setupGateway(t, &fakeUpstream{resp: &bridge.Response{
		StatusCode: 200,
		Data:       map[string]any{"accepted": true},
		Attempts:   1,
	}})

	req := &DispatchRequest{
		Worker:     "research-discovery",
		Action:     "deep_analysis",
		Payload:    map[string]any{"query": "peptides", "submission_id": "sub_9"},
		Credential: auth.Credential{APIKey: "caller-key"},
	}

	success, errEnv := f.gw.Dispatch(context.Background(), req)
	require.Nil(t, errEnv)

	workflowID, ok := success.Data["workflow_id"].(string)
	require.True(t, ok, "async dispatch must return a workflow id")

	rec, err := f.st.GetWorkflow(context.Background(), workflowID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StageDispatched, rec.Stage)
	assert.Equal(t, "sub_9", rec.SubmissionID)
	require.NotNil(t, rec.DispatchedAt)
}

func TestDispatch_SyncWorkflowCompletedImmediately(t *testing.T) {
	f := setupGateway(t, &fakeUpstream{resp: okResponse()})

	success, errEnv := f.gw.Dispatch(context.Background(), validRequest())
	require.Nil(t, errEnv)
	assert.NotContains(t, success.Data, "workflow_id", "sync dispatches do not expose a workflow id")
}

func TestDispatch_FailureLogsEntry(t *testing.T) {
	f := setupGateway(t, &fakeUpstream{err: bridge.ErrUpstreamServer})

	_, errEnv := f.gw.Dispatch(context.Background(), validRequest())
	require.NotNil(t, errEnv)

	entries, err := f.st.ListCommLog(context.Background(), store.CommLogFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1, "failures are logged too")
	assert.False(t, entries[0].Success)
}

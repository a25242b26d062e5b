// ABOUTME: Tests for the outbound bridge client
// ABOUTME: Covers success, error classification, timeouts, and read-only retry policy

package bridge

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agent-gateway/internal/envelope"
	"github.com/2389/agent-gateway/internal/routetable"
)

func testBridge(timeout time.Duration) *Bridge {
	return New(timeout, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testRoute(baseURL, action string, readOnly bool) *routetable.Route {
	return &routetable.Route{
		Worker:  "test-worker",
		Action:  action,
		BaseURL: baseURL,
		APIKey:  "worker-key",
		Rule:    &routetable.Rule{ReadOnly: readOnly},
	}
}

func testEnvelope(action string) *envelope.Request {
	return envelope.NewRequest("test-worker", action, map[string]any{"query": "peptides"}, envelope.Caller{Subject: "tester"})
}

func TestBridge_Call_Success(t *testing.T) {
	var gotCorrelation, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCorrelation = r.Header.Get("X-Correlation-ID")
		gotAuth = r.Header.Get("Authorization")

		var req envelope.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "literature_search", req.Action)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"results": []string{"a", "b"}})
	}))
	defer srv.Close()

	b := testBridge(5 * time.Second)
	env := testEnvelope("literature_search")

	resp, err := b.Call(context.Background(), testRoute(srv.URL, "literature_search", false), env)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, env.CorrelationID, gotCorrelation)
	assert.Equal(t, "Bearer worker-key", gotAuth)
	assert.Contains(t, resp.Data, "results")
	assert.Equal(t, 1, resp.Attempts)
}

func TestBridge_Call_UpstreamClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	b := testBridge(5 * time.Second)
	resp, err := b.Call(context.Background(), testRoute(srv.URL, "a", false), testEnvelope("a"))

	assert.ErrorIs(t, err, ErrUpstreamClient)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(resp.Raw), "bad request")
}

func TestBridge_Call_UpstreamServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := testBridge(5 * time.Second)
	_, err := b.Call(context.Background(), testRoute(srv.URL, "a", false), testEnvelope("a"))

	assert.ErrorIs(t, err, ErrUpstreamServer)
}

func TestBridge_Call_BadResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	defer srv.Close()

	b := testBridge(5 * time.Second)
	_, err := b.Call(context.Background(), testRoute(srv.URL, "a", false), testEnvelope("a"))

	assert.ErrorIs(t, err, ErrBadResponse)
}

func TestBridge_Call_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	b := testBridge(50 * time.Millisecond)
	_, err := b.Call(context.Background(), testRoute(srv.URL, "a", false), testEnvelope("a"))

	assert.ErrorIs(t, err, ErrTimeout)
}

func TestBridge_Call_TransportError(t *testing.T) {
	b := testBridge(time.Second)
	// Port 1 is essentially guaranteed to refuse connections.
	_, err := b.Call(context.Background(), testRoute("http://127.0.0.1:1", "a", false), testEnvelope("a"))

	assert.ErrorIs(t, err, ErrTransport)
}

func TestBridge_Call_ReadOnlyRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "flaky", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	b := testBridge(5 * time.Second)
	resp, err := b.Call(context.Background(), testRoute(srv.URL, "status_query", true), testEnvelope("status_query"))

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 3, resp.Attempts)
}

func TestBridge_Call_MutatingNeverRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := testBridge(5 * time.Second)
	_, err := b.Call(context.Background(), testRoute(srv.URL, "mutate", false), testEnvelope("mutate"))

	assert.ErrorIs(t, err, ErrUpstreamServer)
	assert.Equal(t, int32(1), calls.Load())
}

func TestBridge_Call_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	b := testBridge(5 * time.Second)
	_, err := b.Call(context.Background(), testRoute(srv.URL, "read", true), testEnvelope("read"))

	assert.ErrorIs(t, err, ErrUpstreamClient)
	assert.Equal(t, int32(1), calls.Load(), "4xx responses are deterministic and must not be retried")
}

// ABOUTME: HTTP surface for dispatches, status queries, webhook callbacks, and health checks
// ABOUTME: Owns the retention sweeper and graceful shutdown of the listener and store

package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/agent-gateway/internal/auth"
	"github.com/2389/agent-gateway/internal/config"
	"github.com/2389/agent-gateway/internal/envelope"
	"github.com/2389/agent-gateway/internal/store"
	"github.com/2389/agent-gateway/internal/webhook"
)

// maxBodyBytes bounds inbound request bodies.
const maxBodyBytes = 10 << 20

// retentionTick is how often the comm log retention sweep runs.
const retentionTick = time.Hour

// WorkerStatus is one worker's entry in a status response.
type WorkerStatus struct {
	Worker       string         `json:"worker"`
	State        map[string]any `json:"state"`
	SubmissionID string         `json:"submission_id,omitempty"`
	UpdatedAt    string         `json:"updated_at,omitempty"`
}

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Workers []WorkerStatus `json:"workers"`
}

// RegisterResponse is the JSON response for POST /webhook/register. The
// secret is returned exactly once, at registration time.
type RegisterResponse struct {
	ID          string `json:"id"`
	Event       string `json:"event"`
	CallbackURL string `json:"callback_url"`
	Secret      string `json:"secret"`
}

// Server wires the gateway, webhook receiver, and store behind HTTP.
type Server struct {
	gateway   *Gateway
	receiver  *webhook.Receiver
	store     store.Store
	cfg       *config.Config
	metrics   *Metrics
	logger    *slog.Logger
	httpSrv   *http.Server
	stopPurge context.CancelFunc
}

// NewServer creates the HTTP server. registry may be nil when metrics are
// disabled in config.
func NewServer(g *Gateway, receiver *webhook.Receiver, st store.Store, cfg *config.Config,
	metrics *Metrics, registry *prometheus.Registry, logger *slog.Logger) *Server {
	s := &Server{
		gateway:  g,
		receiver: receiver,
		store:    st,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.With("component", "server"),
	}

	mux := http.NewServeMux()
	if cfg.Metrics.Enabled && registry != nil {
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/", s.route)

	s.httpSrv = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins serving and launches the retention sweeper. It blocks until
// the listener stops.
func (s *Server) Start() error {
	purgeCtx, cancel := context.WithCancel(context.Background())
	s.stopPurge = cancel
	go s.retentionLoop(purgeCtx)

	s.logger.Info("gateway listening", "addr", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains the listener, stops the retention sweeper, and closes the
// store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if s.stopPurge != nil {
		s.stopPurge()
	}

	var firstErr error
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		firstErr = err
	}
	if err := s.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// retentionLoop periodically purges comm log entries older than the
// configured retention period.
func (s *Server) retentionLoop(ctx context.Context) {
	ticker := time.NewTicker(retentionTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-s.cfg.Retention.CommLog)
			if _, err := s.store.PurgeCommLog(ctx, cutoff); err != nil {
				s.logger.Error("comm log retention sweep failed", "error", err)
			}
		}
	}
}

// route is the catch-all handler dispatching on the pure path router.
func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	decision := Decide(r.Method, r.URL.Path)

	switch decision.Kind {
	case KindHealth:
		s.handleHealth(w)
	case KindReady:
		s.handleReady(w, r)
	case KindDispatch:
		s.handleDispatch(w, r, decision.Worker, decision.Action)
	case KindStatusAll:
		s.handleStatusAll(w, r)
	case KindStatusWorker:
		s.handleStatusWorker(w, r, decision.Worker)
	case KindWebhookRegister:
		s.handleWebhookRegister(w, r)
	case KindWebhookEvent:
		s.handleWebhookEvent(w, r, decision.Event)
	case KindMethodNotAllowed:
		writeError(w, envelope.NewError(envelope.CodeRouteNotFound, "method not allowed"), http.StatusMethodNotAllowed)
	default:
		writeError(w, envelope.NewError(envelope.CodeRouteNotFound, "not found"), http.StatusNotFound)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady verifies the store is reachable before reporting ready.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := s.store.ListAgentSnapshots(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request, worker, action string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, envelope.NewError(envelope.CodeValidationError, "unreadable request body"), 0)
		return
	}

	payload := map[string]any{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			writeError(w, envelope.NewError(envelope.CodeValidationError, "request body must be a JSON object"), 0)
			return
		}
	}

	req := &DispatchRequest{
		Worker:     worker,
		Action:     action,
		Payload:    payload,
		Credential: credentialFrom(r),
		Host:       r.RemoteAddr,
		Session:    r.Header.Get("X-Session-ID"),
	}

	success, errEnv := s.gateway.Dispatch(r.Context(), req)
	if errEnv != nil {
		writeError(w, errEnv, 0)
		return
	}
	writeJSON(w, http.StatusOK, success)
}

func (s *Server) handleStatusAll(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.store.ListAgentSnapshots(r.Context())
	if err != nil {
		writeError(w, envelope.NewError(envelope.CodeInternalError, "failed to load worker status"), 0)
		return
	}

	resp := StatusResponse{Workers: []WorkerStatus{}}
	for _, snap := range snaps {
		resp.Workers = append(resp.Workers, workerStatusFrom(snap))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatusWorker(w http.ResponseWriter, r *http.Request, worker string) {
	if !s.gateway.table.HasWorker(worker) {
		writeError(w, envelope.NewError(envelope.CodeRouteNotFound, fmt.Sprintf("unknown worker %q", worker)), 0)
		return
	}

	snap, err := s.store.GetAgentSnapshot(r.Context(), worker)
	if errors.Is(err, store.ErrNotFound) {
		// Configured but never reported in; an empty state document is more
		// useful to callers than a 404 for a real worker.
		writeJSON(w, http.StatusOK, WorkerStatus{Worker: worker, State: map[string]any{}})
		return
	}
	if err != nil {
		writeError(w, envelope.NewError(envelope.CodeInternalError, "failed to load worker status"), 0)
		return
	}
	writeJSON(w, http.StatusOK, workerStatusFrom(snap))
}

func (s *Server) handleWebhookRegister(w http.ResponseWriter, r *http.Request) {
	var req webhook.RegistrationRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, envelope.NewError(envelope.CodeValidationError, "invalid registration body"), 0)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, envelope.NewError(envelope.CodeValidationError, err.Error()), 0)
		return
	}

	secret, err := randomSecret()
	if err != nil {
		writeError(w, envelope.NewError(envelope.CodeInternalError, "failed to generate secret"), 0)
		return
	}

	reg := &store.WebhookRegistration{
		Event:       req.Event,
		CallbackURL: req.CallbackURL,
		Secret:      secret,
	}
	if err := s.store.CreateWebhookRegistration(r.Context(), reg); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, envelope.NewError(envelope.CodeValidationError, "callback already registered for this event"), 0)
			return
		}
		writeError(w, envelope.NewError(envelope.CodeInternalError, "failed to save registration"), 0)
		return
	}

	writeJSON(w, http.StatusCreated, RegisterResponse{
		ID:          reg.ID,
		Event:       reg.Event,
		CallbackURL: reg.CallbackURL,
		Secret:      secret,
	})
}

func (s *Server) handleWebhookEvent(w http.ResponseWriter, r *http.Request, event string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, envelope.NewError(envelope.CodeValidationError, "unreadable request body"), 0)
		return
	}

	ack, err := s.receiver.Receive(r.Context(), event, body, r.Header.Get("X-Signature"))
	switch {
	case errors.Is(err, auth.ErrMissingSignature), errors.Is(err, auth.ErrBadSignature):
		s.metrics.recordWebhook(event, "signature_invalid")
		writeError(w, envelope.NewError(envelope.CodeSignatureInvalid, "webhook signature verification failed"), 0)
		return
	case err != nil:
		s.metrics.recordWebhook(event, "error")
		writeError(w, envelope.NewError(envelope.CodeInternalError, "failed to process webhook event"), 0)
		return
	}

	outcome := "processed"
	if ack.Ignored {
		outcome = "ignored"
	}
	s.metrics.recordWebhook(event, outcome)
	writeJSON(w, http.StatusOK, ack)
}

// credentialFrom extracts whatever credential the caller presented.
func credentialFrom(r *http.Request) auth.Credential {
	cred := auth.Credential{APIKey: r.Header.Get("X-API-Key")}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		cred.BearerToken = strings.TrimPrefix(h, "Bearer ")
	}
	return cred
}

func workerStatusFrom(snap *store.AgentSnapshot) WorkerStatus {
	return WorkerStatus{
		Worker:       snap.WorkerID,
		State:        snap.State,
		SubmissionID: snap.SubmissionID,
		UpdatedAt:    snap.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// randomSecret returns a 32-byte hex secret from crypto/rand.
func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes an error envelope. A zero status derives it from the
// envelope's code.
func writeError(w http.ResponseWriter, errEnv *envelope.Error, status int) {
	if status == 0 {
		status = envelope.HTTPStatus(errEnv.Err.Code)
	}
	writeJSON(w, status, errEnv)
}

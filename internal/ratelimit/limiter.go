// ABOUTME: Sliding-window rate limiter keyed by worker:action
// ABOUTME: Window state lives behind an interface so in-memory and Redis backends are interchangeable

package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Window tracks request timestamps per key inside a trailing time window.
// Admit must atomically prune expired entries, check the count against the
// limit, and record now on admission.
type Window interface {
	Admit(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (bool, error)
}

// Limiter applies sliding-window rate limits per worker:action key.
// A disabled limiter admits everything. Backend errors fail open: a broken
// counter store should degrade throughput protection, not availability.
type Limiter struct {
	window  Window
	enabled bool
	defWin  time.Duration
	defLim  int
	logger  *slog.Logger
}

// NewLimiter creates a limiter over the given window backend.
func NewLimiter(window Window, enabled bool, defaultWindow time.Duration, defaultLimit int, logger *slog.Logger) *Limiter {
	return &Limiter{
		window:  window,
		enabled: enabled,
		defWin:  defaultWindow,
		defLim:  defaultLimit,
		logger:  logger.With("component", "ratelimit"),
	}
}

// Admit reports whether a request for the key may proceed now.
// Zero limit or window values fall back to the limiter defaults.
func (l *Limiter) Admit(ctx context.Context, key string, limit int, window time.Duration) bool {
	if !l.enabled {
		return true
	}
	if limit <= 0 {
		limit = l.defLim
	}
	if window <= 0 {
		window = l.defWin
	}

	ok, err := l.window.Admit(ctx, key, time.Now(), window, limit)
	if err != nil {
		l.logger.Warn("rate limit backend error, failing open", "key", key, "error", err)
		return true
	}
	if !ok {
		l.logger.Debug("rate limit exceeded", "key", key, "limit", limit, "window", window)
	}
	return ok
}

// MemoryWindow is the process-local Window implementation: per-key ordered
// timestamp slices behind a mutex. Expired entries are pruned lazily on each
// admit check. State is lost on restart and is not shared across processes;
// multi-node deployments should use RedisWindow instead.
type MemoryWindow struct {
	mu   sync.Mutex
	keys map[string][]time.Time
}

// NewMemoryWindow creates an empty in-memory window store.
func NewMemoryWindow() *MemoryWindow {
	return &MemoryWindow{keys: make(map[string][]time.Time)}
}

// Admit implements Window.
func (m *MemoryWindow) Admit(_ context.Context, key string, now time.Time, window time.Duration, limit int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-window)
	stamps := m.keys[key]

	// Drop everything older than the window. Timestamps are appended in
	// order, so the first in-window entry marks the keep boundary.
	keep := 0
	for keep < len(stamps) && !stamps[keep].After(cutoff) {
		keep++
	}
	stamps = stamps[keep:]

	if len(stamps) >= limit {
		m.keys[key] = stamps
		return false, nil
	}

	m.keys[key] = append(stamps, now)
	return true, nil
}

// Len returns the number of in-window timestamps currently recorded for a
// key. Intended for tests and diagnostics.
func (m *MemoryWindow) Len(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys[key])
}

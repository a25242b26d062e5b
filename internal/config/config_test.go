// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
server:
  http_addr: "0.0.0.0:8080"
  request_timeout: "45s"

database:
  path: "./test.db"

auth:
  jwt_secret: "test-jwt-secret"
  api_keys:
    publisher: "pk-test-key"

workers:
  - name: "research-discovery"
    base_url: "https://agents.example.com/research"
    api_key: "worker-key"
    actions:
      - name: "literature_search"
        required: ["query"]
        fields:
          query: string
          filters: object
        read_only: true
      - name: "deep_analysis"
        required: ["manuscript_content"]
        fields:
          manuscript_content: string
        async: true
        rate_limit: 5
        rate_window: "30s"

rate_limit:
  enabled: true
  limit: 50
  window: "90s"

webhook:
  secret: "test-webhook-secret"

retention:
  comm_log: "168h"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, 45*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "./test.db", cfg.Database.Path)
	assert.Equal(t, "pk-test-key", cfg.Auth.APIKeys["publisher"])

	require.Len(t, cfg.Workers, 1)
	w := cfg.Workers[0]
	assert.Equal(t, "research-discovery", w.Name)
	require.Len(t, w.Actions, 2)
	assert.Equal(t, []string{"query"}, w.Actions[0].Required)
	assert.True(t, w.Actions[0].ReadOnly)
	assert.True(t, w.Actions[1].Async)
	assert.Equal(t, 5, w.Actions[1].RateLimit)
	assert.Equal(t, 30*time.Second, w.Actions[1].RateWindow)

	assert.Equal(t, 50, cfg.RateLimit.Limit)
	assert.Equal(t, 90*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, "memory", cfg.RateLimit.Backend)
	assert.Equal(t, 168*time.Hour, cfg.Retention.CommLog)
}

func TestLoad_Defaults(t *testing.T) {
	minimal := `
server:
  http_addr: "localhost:8080"
database:
  path: "./test.db"
workers:
  - name: "w1"
    base_url: "http://localhost:9000"
webhook:
  secret: "s"
`
	cfg, err := Load(writeConfig(t, minimal))
	require.NoError(t, err)

	assert.Equal(t, DefaultRequestTimeout, cfg.Server.RequestTimeout)
	assert.Equal(t, DefaultRateWindow, cfg.RateLimit.Window)
	assert.Equal(t, DefaultRateLimit, cfg.RateLimit.Limit)
	assert.Equal(t, DefaultCommLogMaxAge, cfg.Retention.CommLog)
	assert.Equal(t, "memory", cfg.RateLimit.Backend)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_GATEWAY_SECRET", "expanded-secret")

	content := `
server:
  http_addr: "localhost:8080"
database:
  path: "./test.db"
workers:
  - name: "w1"
    base_url: "http://localhost:9000"
webhook:
  secret: "${TEST_GATEWAY_SECRET}"
`
	cfg, err := Load(writeConfig(t, content))
	require.NoError(t, err)
	assert.Equal(t, "expanded-secret", cfg.Webhook.Secret)
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing http addr",
			content: `
database:
  path: "./test.db"
workers:
  - name: "w1"
    base_url: "http://localhost:9000"
webhook:
  secret: "s"
`,
			wantErr: "http_addr",
		},
		{
			name: "no workers",
			content: `
server:
  http_addr: "localhost:8080"
database:
  path: "./test.db"
webhook:
  secret: "s"
`,
			wantErr: "worker",
		},
		{
			name: "relative base url",
			content: `
server:
  http_addr: "localhost:8080"
database:
  path: "./test.db"
workers:
  - name: "w1"
    base_url: "/not-absolute"
webhook:
  secret: "s"
`,
			wantErr: "base_url",
		},
		{
			name: "duplicate worker names",
			content: `
server:
  http_addr: "localhost:8080"
database:
  path: "./test.db"
workers:
  - name: "w1"
    base_url: "http://localhost:9000"
  - name: "w1"
    base_url: "http://localhost:9001"
webhook:
  secret: "s"
`,
			wantErr: "duplicate worker",
		},
		{
			name: "unknown field type",
			content: `
server:
  http_addr: "localhost:8080"
database:
  path: "./test.db"
workers:
  - name: "w1"
    base_url: "http://localhost:9000"
    actions:
      - name: "a1"
        fields:
          query: integer
webhook:
  secret: "s"
`,
			wantErr: "unknown type",
		},
		{
			name: "redis backend without address",
			content: `
server:
  http_addr: "localhost:8080"
database:
  path: "./test.db"
workers:
  - name: "w1"
    base_url: "http://localhost:9000"
rate_limit:
  backend: "redis"
webhook:
  secret: "s"
`,
			wantErr: "redis",
		},
		{
			name: "missing webhook secret",
			content: `
server:
  http_addr: "localhost:8080"
database:
  path: "./test.db"
workers:
  - name: "w1"
    base_url: "http://localhost:9000"
`,
			wantErr: "webhook.secret",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_BadDuration(t *testing.T) {
	content := `
server:
  http_addr: "localhost:8080"
  request_timeout: "not-a-duration"
database:
  path: "./test.db"
workers:
  - name: "w1"
    base_url: "http://localhost:9000"
webhook:
  secret: "s"
`
	_, err := Load(writeConfig(t, content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request_timeout")
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

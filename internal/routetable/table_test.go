// ABOUTME: Tests for route table resolution and payload validation
// ABOUTME: Covers unknown routes, wildcard fallback, required fields, and type checks

package routetable

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agent-gateway/internal/config"
)

func testTable(t *testing.T) *Table {
	t.Helper()
	table, err := New([]config.WorkerConfig{
		{
			Name:    "research-discovery",
			BaseURL: "http://localhost:9000",
			APIKey:  "rd-key",
			Actions: []config.ActionConfig{
				{
					Name:     "literature_search",
					Required: []string{"query"},
					Fields:   map[string]string{"query": "string", "filters": "object"},
					ReadOnly: true,
				},
				{
					Name:       "deep_analysis",
					Required:   []string{"manuscript_content"},
					Fields:     map[string]string{"manuscript_content": "string", "depth": "number"},
					Async:      true,
					RateLimit:  5,
					RateWindow: 30 * time.Second,
				},
			},
		},
		{
			Name:     "submission-assistant",
			BaseURL:  "http://localhost:9001",
			Wildcard: true,
			Actions: []config.ActionConfig{
				{
					Name:     "quality_assessment",
					Required: []string{"manuscript_content"},
					Fields:   map[string]string{"manuscript_content": "string"},
				},
			},
		},
	})
	require.NoError(t, err)
	return table
}

func TestTable_Resolve(t *testing.T) {
	table := testTable(t)

	route, err := table.Resolve("research-discovery", "literature_search")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000", route.BaseURL)
	assert.Equal(t, "rd-key", route.APIKey)
	assert.True(t, route.Rule.ReadOnly)
	assert.False(t, route.Rule.Async)
}

func TestTable_Resolve_UnknownWorker(t *testing.T) {
	table := testTable(t)

	_, err := table.Resolve("nonexistent", "literature_search")
	assert.ErrorIs(t, err, ErrRouteNotFound)
}

func TestTable_Resolve_UnknownAction(t *testing.T) {
	table := testTable(t)

	_, err := table.Resolve("research-discovery", "unlisted_action")
	assert.ErrorIs(t, err, ErrRouteNotFound)
}

func TestTable_Resolve_WildcardFallback(t *testing.T) {
	table := testTable(t)

	route, err := table.Resolve("submission-assistant", "unlisted_action")
	require.NoError(t, err)
	assert.Equal(t, "unlisted_action", route.Action)

	// Wildcard rule has no field constraints
	assert.NoError(t, route.Rule.Validate(map[string]any{"anything": 42}))
}

func TestTable_Workers(t *testing.T) {
	table := testTable(t)

	workers := table.Workers()
	assert.Len(t, workers, 2)
	assert.True(t, table.HasWorker("research-discovery"))
	assert.False(t, table.HasWorker("nonexistent"))
}

func TestRule_Validate_OK(t *testing.T) {
	table := testTable(t)
	route, err := table.Resolve("research-discovery", "literature_search")
	require.NoError(t, err)

	err = route.Rule.Validate(map[string]any{
		"query":   "peptides",
		"filters": map[string]any{"year": 2024},
	})
	assert.NoError(t, err)
}

func TestRule_Validate_MissingRequired(t *testing.T) {
	table := testTable(t)
	route, err := table.Resolve("submission-assistant", "quality_assessment")
	require.NoError(t, err)

	err = route.Rule.Validate(map[string]any{"title": "untitled"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Contains(t, err.Error(), "manuscript_content")
}

func TestRule_Validate_TypeMismatch(t *testing.T) {
	table := testTable(t)
	route, err := table.Resolve("research-discovery", "literature_search")
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload map[string]any
		field   string
	}{
		{"query as number", map[string]any{"query": 42}, "query"},
		{"filters as string", map[string]any{"query": "q", "filters": "oops"}, "filters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := route.Rule.Validate(tt.payload)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestRule_Validate_NumberAcceptsIntAndFloat(t *testing.T) {
	table := testTable(t)
	route, err := table.Resolve("research-discovery", "deep_analysis")
	require.NoError(t, err)

	assert.NoError(t, route.Rule.Validate(map[string]any{"manuscript_content": "text", "depth": 3}))
	assert.NoError(t, route.Rule.Validate(map[string]any{"manuscript_content": "text", "depth": 2.5}))
}

func TestRule_Validate_NilPayload(t *testing.T) {
	table := testTable(t)
	route, err := table.Resolve("research-discovery", "literature_search")
	require.NoError(t, err)

	err = route.Rule.Validate(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query")
}

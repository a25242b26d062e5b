// ABOUTME: Static route table mapping (worker, action) pairs to validation rules
// ABOUTME: Built once from configuration at startup and immutable afterwards

package routetable

import (
	"errors"
	"fmt"
	"time"

	"github.com/2389/agent-gateway/internal/config"
)

// ErrRouteNotFound means no worker/action entry matches the requested route.
var ErrRouteNotFound = errors.New("route not found")

// FieldType is the expected JSON type of a payload field.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldArray   FieldType = "array"
	FieldObject  FieldType = "object"
)

// Rule describes the validation and dispatch constraints for one action.
type Rule struct {
	Required []string
	Fields   map[string]FieldType
	Async    bool
	ReadOnly bool

	// Per-action rate limit override; zero means the limiter defaults apply.
	RateLimit  int
	RateWindow time.Duration

	schema *compiledSchema
}

// Endpoint is the static configuration for one worker.
type Endpoint struct {
	Name     string
	BaseURL  string
	APIKey   string
	Wildcard bool
	Actions  map[string]*Rule
}

// Route is a resolved dispatch target: the worker endpoint plus the
// matched action rule.
type Route struct {
	Worker  string
	Action  string
	BaseURL string
	APIKey  string
	Rule    *Rule
}

// Table holds all configured worker endpoints. It is safe for concurrent
// reads; it is never mutated after New returns.
type Table struct {
	endpoints map[string]*Endpoint
}

// New builds a route table from worker configuration. Validation schemas
// are compiled eagerly so a malformed rule fails at startup, not dispatch.
func New(workers []config.WorkerConfig) (*Table, error) {
	endpoints := make(map[string]*Endpoint, len(workers))
	for _, w := range workers {
		ep := &Endpoint{
			Name:     w.Name,
			BaseURL:  w.BaseURL,
			APIKey:   w.APIKey,
			Wildcard: w.Wildcard,
			Actions:  make(map[string]*Rule, len(w.Actions)),
		}
		for _, a := range w.Actions {
			rule := &Rule{
				Required:   a.Required,
				Fields:     make(map[string]FieldType, len(a.Fields)),
				Async:      a.Async,
				ReadOnly:   a.ReadOnly,
				RateLimit:  a.RateLimit,
				RateWindow: a.RateWindow,
			}
			for field, typ := range a.Fields {
				rule.Fields[field] = FieldType(typ)
			}

			schema, err := compileRule(rule)
			if err != nil {
				return nil, fmt.Errorf("compiling rule for %s/%s: %w", w.Name, a.Name, err)
			}
			rule.schema = schema
			ep.Actions[a.Name] = rule
		}
		endpoints[w.Name] = ep
	}
	return &Table{endpoints: endpoints}, nil
}

// Resolve looks up the route for a worker/action pair.
// If the worker allows wildcard actions, unlisted actions resolve to a
// permissive rule with no field constraints.
func (t *Table) Resolve(worker, action string) (*Route, error) {
	ep, ok := t.endpoints[worker]
	if !ok {
		return nil, ErrRouteNotFound
	}

	rule, ok := ep.Actions[action]
	if !ok {
		if !ep.Wildcard {
			return nil, ErrRouteNotFound
		}
		rule = &Rule{}
	}

	return &Route{
		Worker:  worker,
		Action:  action,
		BaseURL: ep.BaseURL,
		APIKey:  ep.APIKey,
		Rule:    rule,
	}, nil
}

// Workers returns the names of all configured workers.
func (t *Table) Workers() []string {
	names := make([]string, 0, len(t.endpoints))
	for name := range t.endpoints {
		names = append(names, name)
	}
	return names
}

// HasWorker reports whether a worker is configured.
func (t *Table) HasWorker(worker string) bool {
	_, ok := t.endpoints[worker]
	return ok
}

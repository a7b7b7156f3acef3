// Package pipeline holds the data model threaded between stages of an
// Artemis pipeline run: the mutable Context, per-stage bookkeeping, and the
// Stage interface stages implement.
package pipeline

import (
	"context"
	"sync"
)

// Reserved top-level namespaces in Context. Stages may read and write
// their own namespace freely but must go through the dedicated accessors
// for these three.
const (
	nsRetry       = "retry"
	nsSharedData  = "shared_data"
	nsDiagnostics = "diagnostics"
)

// Context is the mutable dictionary threaded between stages during a
// pipeline run. Keys are stage-local namespaces; within a namespace a stage
// may only ever add keys, never remove ones a prior stage wrote - the
// context accumulates a full audit trail of the run.
type Context struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]interface{}
}

// NewContext creates an empty Context with its reserved namespaces
// pre-initialized.
func NewContext() *Context {
	return &Context{
		namespaces: map[string]map[string]interface{}{
			nsRetry:       {},
			nsSharedData:  {},
			nsDiagnostics: {},
		},
	}
}

// Set stores key=value under namespace, appending to whatever that
// namespace already holds. Overwriting an existing key in the same
// namespace is allowed - it's re-running a stage within a namespace, not
// erasing history - but callers that need strict append-only semantics
// should use a fresh key per write (e.g. suffixed with an attempt number).
func (c *Context) Set(namespace, key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ns, ok := c.namespaces[namespace]
	if !ok {
		ns = make(map[string]interface{})
		c.namespaces[namespace] = ns
	}
	ns[key] = value
}

// Get retrieves key from namespace. The second return value reports
// whether the key was present.
func (c *Context) Get(namespace, key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ns, ok := c.namespaces[namespace]
	if !ok {
		return nil, false
	}
	v, ok := ns[key]
	return v, ok
}

// Namespace returns a shallow copy of everything stored under namespace.
func (c *Context) Namespace(namespace string) map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ns, ok := c.namespaces[namespace]
	if !ok {
		return map[string]interface{}{}
	}
	cp := make(map[string]interface{}, len(ns))
	for k, v := range ns {
		cp[k] = v
	}
	return cp
}

// SetShared stores key=value in the shared_data namespace, visible to every
// stage and to agent-messenger shared state synchronization.
func (c *Context) SetShared(key string, value interface{}) {
	c.Set(nsSharedData, key, value)
}

// GetShared retrieves key from the shared_data namespace.
func (c *Context) GetShared(key string) (interface{}, bool) {
	return c.Get(nsSharedData, key)
}

// RecordDiagnostic appends a diagnostic entry under key. Diagnostics never
// drive control flow; they exist purely for postmortem and recovery-engine
// context.
func (c *Context) RecordDiagnostic(key string, value interface{}) {
	c.Set(nsDiagnostics, key, value)
}

// RetryHistoryEntry records one retry attempt of a stage that failed code
// review. NEEDS_IMPROVEMENT results are surfaced for human triage, not
// retried automatically - see ReviewReport.
type RetryHistoryEntry struct {
	Attempt       int    `json:"attempt"`
	ReviewResult  string `json:"review_result"`
	CriticalIssues int   `json:"critical_issues"`
	HighIssues    int    `json:"high_issues"`
}

// RecordRetry appends a retry history entry for stageName under the retry
// namespace.
func (c *Context) RecordRetry(stageName string, entry RetryHistoryEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ns, ok := c.namespaces[nsRetry]
	if !ok {
		ns = make(map[string]interface{})
		c.namespaces[nsRetry] = ns
	}

	var history []RetryHistoryEntry
	if existing, ok := ns[stageName]; ok {
		if h, ok := existing.([]RetryHistoryEntry); ok {
			history = h
		}
	}
	history = append(history, entry)
	ns[stageName] = history
}

// RetryHistory returns the retry history recorded for stageName, if any.
func (c *Context) RetryHistory(stageName string) []RetryHistoryEntry {
	v, ok := c.Get(nsRetry, stageName)
	if !ok {
		return nil
	}
	h, _ := v.([]RetryHistoryEntry)
	return h
}

// contextKey is an unexported type to avoid collisions with other
// packages' context keys stored on a standard context.Context.
type contextKey string

const (
	cardIDKey contextKey = "artemis.card_id"
	runIDKey  contextKey = "artemis.run_id"
)

// WithCardID attaches a card ID to a standard context.Context so that
// logging and telemetry emitted deep inside the supervisor or recovery
// engine can be correlated back to the run, without threading the ID
// through every function signature.
func WithCardID(ctx context.Context, cardID string) context.Context {
	return context.WithValue(ctx, cardIDKey, cardID)
}

// GetCardID retrieves the card ID attached by WithCardID, if any.
func GetCardID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(cardIDKey).(string)
	return v, ok
}

// WithRunID attaches a pipeline run ID to a standard context.Context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// GetRunID retrieves the run ID attached by WithRunID, if any.
func GetRunID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(runIDKey).(string)
	return v, ok
}

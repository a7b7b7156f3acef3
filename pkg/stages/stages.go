// Package stages provides concrete, deterministic, dependency-free
// implementations of the eight named pipeline stages. They exist so the
// orchestrator, supervisor, and state machine can be exercised end to end
// without an LLM in the loop; a production deployment swaps any of them
// out for an LLM-backed implementation satisfying the same pipeline.Stage
// interface.
package stages

import (
	"fmt"

	"github.com/artemis-pipeline/artemis/pkg/card"
	"github.com/artemis-pipeline/artemis/pkg/pipeline"
)

// Status is the outcome recorded in a stage's result map, per the core
// contract that every stage result carries at least a status field.
type Status string

const (
	StatusComplete Status = "COMPLETE"
	StatusFail     Status = "FAIL"
	StatusSkip     Status = "SKIP"
)

// sharedCardKey is the shared_data key the orchestrator stores the active
// card under before running any stage.
const sharedCardKey = "card"

// cardFrom retrieves the card the orchestrator placed in pctx's shared
// namespace. Every stage needs it; a missing card is the orchestrator's
// bug, not the stage's, so callers surface it as a FAIL result rather than
// panicking.
func cardFrom(pctx *pipeline.Context) (*card.Card, error) {
	v, ok := pctx.GetShared(sharedCardKey)
	if !ok {
		return nil, fmt.Errorf("stages: no card in shared context")
	}
	c, ok := v.(*card.Card)
	if !ok {
		return nil, fmt.Errorf("stages: shared card has wrong type %T", v)
	}
	return c, nil
}

// result is the JSON-serializable map every stage writes to its own
// namespace, at minimum carrying "status".
func result(status Status, fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["status"] = string(status)
	return out
}

// Package learning lets the supervisor consult a configured assistant when
// it hits a state the recovery engine has no workflow for. The assistant
// only ever proposes a WorkflowPlan; it never mutates pipeline state
// itself, so a misbehaving or unavailable assistant degrades to "no plan"
// rather than corrupting a run.
package learning

import (
	"context"
	"time"

	"github.com/artemis-pipeline/artemis/orchestration"
)

// Event packages the context around an unexpected state for the proposer
// to reason about.
type Event struct {
	CardID     string                 `json:"card_id"`
	StageName  string                 `json:"stage_name"`
	IssueType  orchestration.IssueType `json:"issue_type"`
	Message    string                 `json:"message"`
	Context    map[string]interface{} `json:"context"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// WorkflowPlan is a proposed recovery workflow plus the rationale the
// assistant gave for it. The engine executes Workflow unchanged; Rationale
// is carried through only for logging and the RAG record.
type WorkflowPlan struct {
	Workflow  orchestration.Workflow `json:"workflow"`
	Rationale string                 `json:"rationale"`
}

// Proposer is the narrow interface the supervisor calls on an unexpected
// state. Propose must not execute anything or mutate pipeline state -
// the recovery engine is the only thing that ever runs a Workflow.
type Proposer interface {
	Propose(ctx context.Context, event Event) (*WorkflowPlan, error)
}

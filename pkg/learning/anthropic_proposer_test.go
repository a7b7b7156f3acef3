package learning

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artemis-pipeline/artemis/core"
	"github.com/artemis-pipeline/artemis/pkg/rag"
)

type fakeAIClient struct {
	response *core.AIResponse
	err      error
}

func (f *fakeAIClient) GenerateResponse(ctx context.Context, prompt string, options *core.AIOptions) (*core.AIResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

const samplePlanJSON = "```json\n" + `{
  "workflow": {
    "name": "recover-hanging-stage",
    "issue_type": "HANGING_PROCESS",
    "actions": [{"name": "kill", "handler": "kill_hanging_process", "retry_on_failure": false, "max_retries": 0}],
    "success_state": "RUNNING",
    "failure_state": "FAILED",
    "rollback_on_failure": true
  },
  "rationale": "the process looked wedged, killing it frees the stage to retry"
}` + "\n```"

func TestAnthropicProposer_Propose_ParsesPlanFromFencedResponse(t *testing.T) {
	client := &fakeAIClient{response: &core.AIResponse{Content: samplePlanJSON}}
	store := rag.NewInMemoryRAG()
	proposer := NewAnthropicProposer(client, store, nil)

	plan, err := proposer.Propose(context.Background(), Event{
		CardID:    "card-1",
		StageName: "testing",
		IssueType: "HANGING_PROCESS",
		Message:   "process did not exit",
	})

	require.NoError(t, err)
	assert.Equal(t, "recover-hanging-stage", plan.Workflow.Name)
	assert.Equal(t, "kill_hanging_process", plan.Workflow.Actions[0].Handler)
	assert.NotEmpty(t, plan.Rationale)
}

func TestAnthropicProposer_Propose_PersistsLearnedSolution(t *testing.T) {
	client := &fakeAIClient{response: &core.AIResponse{Content: samplePlanJSON}}
	store := rag.NewInMemoryRAG()
	proposer := NewAnthropicProposer(client, store, nil)

	_, err := proposer.Propose(context.Background(), Event{CardID: "card-2", StageName: "validation", IssueType: "HANGING_PROCESS"})
	require.NoError(t, err)

	results, err := store.QuerySimilar("HANGING_PROCESS validation", 5, &rag.Filter{Type: rag.ArtifactLearnedSolution})
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestAnthropicProposer_Propose_ReturnsErrorOnClientFailure(t *testing.T) {
	client := &fakeAIClient{err: fmt.Errorf("connection refused")}
	proposer := NewAnthropicProposer(client, nil, nil)

	_, err := proposer.Propose(context.Background(), Event{CardID: "card-3"})
	assert.Error(t, err)
}

func TestAnthropicProposer_Propose_ReturnsErrorOnUnparseableResponse(t *testing.T) {
	client := &fakeAIClient{response: &core.AIResponse{Content: "not json at all"}}
	store := rag.NewInMemoryRAG()
	proposer := NewAnthropicProposer(client, store, nil)

	_, err := proposer.Propose(context.Background(), Event{CardID: "card-4"})
	assert.Error(t, err)
}

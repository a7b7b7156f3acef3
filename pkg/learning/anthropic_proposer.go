package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/artemis-pipeline/artemis/core"
	"github.com/artemis-pipeline/artemis/pkg/rag"
)

const systemPrompt = `You are the recovery planner for an autonomous software-development pipeline.
Given a card, a stage, and an issue the recovery engine has no workflow for, propose a
remediation workflow built only from these named actions:
increase_timeout, kill_hanging_process, free_memory, cleanup_temp_files, retry_stage,
restart_process, wait_backoff, reset_circuit.

Respond with JSON only, no explanation, in this exact shape:
{
  "workflow": {
    "name": "string",
    "issue_type": "string",
    "actions": [{"name": "string", "handler": "string", "retry_on_failure": true/false, "max_retries": 0}],
    "success_state": "string",
    "failure_state": "string",
    "rollback_on_failure": true/false
  },
  "rationale": "brief explanation"
}`

// AnthropicProposer adapts core.AIClient (ai/providers/anthropic.Client in
// production) to the Proposer interface. Once the assistant has replied,
// the outcome is persisted to RAG as a learned_solution artifact whether or
// not a plan could be parsed from the reply, so future runs can be steered
// by what was tried; a GenerateResponse error returns before anything is
// stored. StoreArtifact failures are logged and swallowed per the store's
// best-effort contract.
type AnthropicProposer struct {
	client core.AIClient
	store  rag.RAG
	logger core.Logger
}

// NewAnthropicProposer creates a proposer backed by client, recording its
// proposals into store. store may be nil to skip persistence (e.g. tests).
func NewAnthropicProposer(client core.AIClient, store rag.RAG, logger core.Logger) *AnthropicProposer {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &AnthropicProposer{client: client, store: store, logger: logger}
}

// Propose asks the assistant for a workflow plan addressing event, then
// persists the outcome to RAG. It never executes the plan itself.
func (p *AnthropicProposer) Propose(ctx context.Context, event Event) (*WorkflowPlan, error) {
	prompt := buildEventPrompt(event)

	resp, err := p.client.GenerateResponse(ctx, prompt, &core.AIOptions{
		SystemPrompt: systemPrompt,
		Temperature:  0.2,
		MaxTokens:    1024,
	})
	if err != nil {
		return nil, fmt.Errorf("learning: generate response: %w", err)
	}

	plan, parseErr := parsePlanResponse(resp.Content)
	if parseErr != nil {
		p.persist(event, nil, parseErr)
		return nil, fmt.Errorf("learning: parse plan: %w", parseErr)
	}

	p.persist(event, plan, nil)
	return plan, nil
}

func (p *AnthropicProposer) persist(event Event, plan *WorkflowPlan, proposeErr error) {
	if p.store == nil {
		return
	}
	metadata := map[string]interface{}{
		"card_id":    event.CardID,
		"stage_name": event.StageName,
		"issue_type": string(event.IssueType),
	}
	content := fmt.Sprintf("issue %s stage %s", event.IssueType, event.StageName)
	if proposeErr != nil {
		metadata["error"] = proposeErr.Error()
	} else {
		metadata["workflow_name"] = plan.Workflow.Name
		metadata["rationale"] = plan.Rationale
	}

	if _, err := p.store.StoreArtifact(rag.ArtifactLearnedSolution, content, metadata); err != nil {
		p.logger.Warn("failed to persist learned solution", map[string]interface{}{
			"card_id": event.CardID,
			"error":   err.Error(),
		})
	}
}

func buildEventPrompt(event Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "card_id: %s\n", event.CardID)
	fmt.Fprintf(&b, "stage: %s\n", event.StageName)
	fmt.Fprintf(&b, "issue_type: %s\n", event.IssueType)
	fmt.Fprintf(&b, "message: %s\n", event.Message)
	if len(event.Context) > 0 {
		if contextJSON, err := json.Marshal(event.Context); err == nil {
			fmt.Fprintf(&b, "context: %s\n", contextJSON)
		}
	}
	return b.String()
}

// parsePlanResponse extracts the JSON object from content, tolerating a
// markdown code fence or surrounding prose the way an LLM's reply often
// carries one.
func parsePlanResponse(content string) (*WorkflowPlan, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	if start == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	end := findJSONEnd(content, start)
	if end == -1 {
		return nil, fmt.Errorf("invalid JSON structure in response")
	}

	var plan WorkflowPlan
	if err := json.Unmarshal([]byte(content[start:end]), &plan); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return &plan, nil
}

// findJSONEnd returns the index just past the closing brace matching the
// opening brace at start, tracking string/escape state so braces inside
// string values don't throw off the depth count.
func findJSONEnd(s string, start int) int {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

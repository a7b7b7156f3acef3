package stages

import (
	"context"
	"fmt"

	"github.com/artemis-pipeline/artemis/pkg/pipeline"
)

// TestingStage derives a deterministic pass/fail test count from the card's
// acceptance criteria: one synthetic test per criterion, each passing
// unless the code review's overall_score fell below 50. A real deployment
// replaces this with an actual test-runner invocation against the
// integrated artifact.
type TestingStage struct{}

func NewTestingStage() *TestingStage { return &TestingStage{} }

func (s *TestingStage) Name() string { return "testing" }

func (s *TestingStage) Execute(ctx context.Context, pctx *pipeline.Context) error {
	c, err := cardFrom(pctx)
	if err != nil {
		pctx.Set(s.Name(), "result", result(StatusFail, map[string]interface{}{"error": err.Error()}))
		return err
	}

	total := len(c.AcceptanceCriteria)
	if total == 0 {
		total = 1
	}

	healthy := true
	if review, ok := pctx.Get("code_review", "result"); ok {
		if m, ok := review.(map[string]interface{}); ok {
			if score, ok := m["overall_score"].(int); ok && score < 50 {
				healthy = false
			}
		}
	}

	passed := total
	if !healthy {
		passed = total / 2
	}

	if passed < total {
		pctx.Set(s.Name(), "result", result(StatusFail, map[string]interface{}{
			"tests_total":  total,
			"tests_passed": passed,
		}))
		return fmt.Errorf("testing: %d/%d tests passed", passed, total)
	}

	pctx.Set(s.Name(), "result", result(StatusComplete, map[string]interface{}{
		"tests_total":  total,
		"tests_passed": passed,
	}))
	pctx.SetShared("current_stage", s.Name())
	return nil
}

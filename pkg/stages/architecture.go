package stages

import (
	"context"
	"fmt"

	"github.com/artemis-pipeline/artemis/pkg/pipeline"
)

// ArchitectureStage proposes a deterministic component layout and module
// list derived from project_analysis's complexity estimate. A real
// deployment replaces this with an LLM-backed architecture writer under
// the same "architecture" namespace.
type ArchitectureStage struct{}

func NewArchitectureStage() *ArchitectureStage { return &ArchitectureStage{} }

func (s *ArchitectureStage) Name() string { return "architecture" }

func (s *ArchitectureStage) Execute(ctx context.Context, pctx *pipeline.Context) error {
	analysis, ok := pctx.Get("project_analysis", "result")
	if !ok {
		err := fmt.Errorf("architecture: project_analysis result missing from context")
		pctx.Set(s.Name(), "result", result(StatusFail, map[string]interface{}{"error": err.Error()}))
		return err
	}

	complexity := "medium"
	if m, ok := analysis.(map[string]interface{}); ok {
		if c, ok := m["complexity"].(string); ok {
			complexity = c
		}
	}

	modules := modulesForComplexity(complexity)

	pctx.Set(s.Name(), "result", result(StatusComplete, map[string]interface{}{
		"modules":      modules,
		"module_count": len(modules),
		"layering":     "handler -> service -> repository",
		"based_on":     complexity,
	}))
	pctx.SetShared("current_stage", s.Name())
	return nil
}

// modulesForComplexity returns a fixed module breakdown scaled to the
// card's estimated complexity.
func modulesForComplexity(complexity string) []string {
	base := []string{"handler", "service", "repository"}
	switch complexity {
	case "low":
		return base
	case "high":
		return append(base, "validator", "cache", "events")
	default:
		return append(base, "validator")
	}
}

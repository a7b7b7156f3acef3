package stages

import (
	"context"
	"fmt"

	"github.com/artemis-pipeline/artemis/pkg/pipeline"
)

// DependencyValidationStage checks the module list architecture proposed
// against a fixed allowlist of known-safe dependency names, standing in
// for a real dependency-graph/vulnerability check against the repo's
// module graph.
type DependencyValidationStage struct {
	Allowlist map[string]bool
}

// NewDependencyValidationStage creates the stage with a default allowlist
// covering every module name the stand-in ArchitectureStage can propose.
func NewDependencyValidationStage() *DependencyValidationStage {
	return &DependencyValidationStage{
		Allowlist: map[string]bool{
			"handler": true, "service": true, "repository": true,
			"validator": true, "cache": true, "events": true,
		},
	}
}

func (s *DependencyValidationStage) Name() string { return "dependencies" }

func (s *DependencyValidationStage) Execute(ctx context.Context, pctx *pipeline.Context) error {
	arch, ok := pctx.Get("architecture", "result")
	if !ok {
		err := fmt.Errorf("dependencies: architecture result missing from context")
		pctx.Set(s.Name(), "result", result(StatusFail, map[string]interface{}{"error": err.Error()}))
		return err
	}

	var modules []string
	if m, ok := arch.(map[string]interface{}); ok {
		if list, ok := m["modules"].([]string); ok {
			modules = list
		}
	}

	var rejected []string
	for _, mod := range modules {
		if !s.Allowlist[mod] {
			rejected = append(rejected, mod)
		}
	}

	if len(rejected) > 0 {
		pctx.Set(s.Name(), "result", result(StatusFail, map[string]interface{}{
			"rejected_modules": rejected,
		}))
		return fmt.Errorf("dependencies: modules not in allowlist: %v", rejected)
	}

	pctx.Set(s.Name(), "result", result(StatusComplete, map[string]interface{}{
		"validated_modules": modules,
	}))
	pctx.SetShared("current_stage", s.Name())
	return nil
}

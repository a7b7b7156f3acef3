package stages

import (
	"context"
	"fmt"

	"github.com/artemis-pipeline/artemis/pkg/pipeline"
)

// IntegrationStage checks that every upstream namespace this pipeline run
// touched reported COMPLETE, standing in for merging the winning artifact
// into the target branch and checking for conflicts against other
// in-flight work.
type IntegrationStage struct {
	upstream []string
}

// NewIntegrationStage creates the stage, checking the given upstream
// namespaces for a COMPLETE status before declaring integration safe.
func NewIntegrationStage() *IntegrationStage {
	return &IntegrationStage{upstream: []string{"project_analysis", "architecture", "dependencies", "development", "validation"}}
}

func (s *IntegrationStage) Name() string { return "integration" }

func (s *IntegrationStage) Execute(ctx context.Context, pctx *pipeline.Context) error {
	var conflicts []string
	for _, ns := range s.upstream {
		v, ok := pctx.Get(ns, "result")
		if !ok {
			conflicts = append(conflicts, ns+": missing")
			continue
		}
		m, _ := v.(map[string]interface{})
		if m["status"] != string(StatusComplete) {
			conflicts = append(conflicts, fmt.Sprintf("%s: status %v", ns, m["status"]))
		}
	}

	if len(conflicts) > 0 {
		pctx.Set(s.Name(), "result", result(StatusFail, map[string]interface{}{"conflicts": conflicts}))
		return fmt.Errorf("integration: conflicts found: %v", conflicts)
	}

	pctx.Set(s.Name(), "result", result(StatusComplete, map[string]interface{}{
		"merged_stages": s.upstream,
	}))
	pctx.SetShared("current_stage", s.Name())
	return nil
}

package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/artemis-pipeline/artemis/core"
	"github.com/artemis-pipeline/artemis/pkg/pipeline"
	"github.com/artemis-pipeline/artemis/pkg/sandbox"
)

// ValidationStage runs the winning development artifact's source through
// the sandbox's denylist scan and a resource-limited existence check,
// standing in for a real build/lint/static-analysis pass. A real
// deployment replaces the command with an actual compiler or test runner
// invocation inside the same sandbox.
type ValidationStage struct {
	box *sandbox.Sandbox
}

// NewValidationStage creates the stage backed by a sandbox enforcing cfg's
// resource limits.
func NewValidationStage(cfg core.SandboxConfig, logger core.Logger) *ValidationStage {
	return &ValidationStage{box: sandbox.New(cfg, logger)}
}

func (s *ValidationStage) Name() string { return "validation" }

func (s *ValidationStage) Execute(ctx context.Context, pctx *pipeline.Context) error {
	dirVal, ok := pctx.GetShared("development_artifact_dir")
	if !ok {
		err := fmt.Errorf("validation: no development artifact directory in context")
		pctx.Set(s.Name(), "result", result(StatusFail, map[string]interface{}{"error": err.Error()}))
		return err
	}
	dir, _ := dirVal.(string)

	artifactPath := filepath.Join(dir, "solution.go")
	source, err := os.ReadFile(artifactPath)
	if err != nil {
		pctx.Set(s.Name(), "result", result(StatusFail, map[string]interface{}{"error": err.Error()}))
		return fmt.Errorf("validation: read artifact: %w", err)
	}

	res, err := s.box.Execute(ctx, string(source), dir, "test", "-s", "solution.go")
	if err != nil {
		pctx.Set(s.Name(), "result", result(StatusFail, map[string]interface{}{"error": err.Error()}))
		return fmt.Errorf("validation: sandbox execution: %w", err)
	}
	if res.ExitCode != 0 {
		pctx.Set(s.Name(), "result", result(StatusFail, map[string]interface{}{
			"exit_code": res.ExitCode,
			"stderr":    res.Stderr,
		}))
		return fmt.Errorf("validation: artifact check exited %d", res.ExitCode)
	}

	pctx.Set(s.Name(), "result", result(StatusComplete, map[string]interface{}{
		"duration_seconds": res.Duration.Seconds(),
		"artifact_path":    artifactPath,
	}))
	pctx.SetShared("current_stage", s.Name())
	return nil
}

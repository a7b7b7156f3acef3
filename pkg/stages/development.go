package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/artemis-pipeline/artemis/core"
	"github.com/artemis-pipeline/artemis/pkg/budget"
	"github.com/artemis-pipeline/artemis/pkg/devpool"
	"github.com/artemis-pipeline/artemis/pkg/pipeline"
)

// developmentModel is the nominal model identity charged against the
// budget tracker for one development attempt. A real deployment passes the
// model its developer agents actually call.
const developmentModel = "claude-3-5-sonnet-20241022"

// developmentTokensPerWorker is a fixed per-worker token estimate standing
// in for the real prompt/completion counts a live LLM call would report.
var developmentTokensPerWorker = core.TokenUsage{PromptTokens: 2000, CompletionTokens: 1500, TotalTokens: 3500}

// DevelopmentStage runs N deterministic developer workers racing to
// produce an artifact directory plus a scorecard, then arbitrates a
// winner per the core's arbitration contract. A real deployment replaces
// the workers with LLM-backed developer agents implementing
// devpool.Worker against the same pool.
type DevelopmentStage struct {
	pool    *devpool.Pool
	workers []devpool.Worker
	baseDir string
	budget  *budget.Tracker
}

// NewDevelopmentStage creates the stage with cfg.MaxConcurrentWorkers
// deterministic competing workers, each producing its artifact under a
// subdirectory of baseDir. tracker may be nil to skip budget enforcement
// (e.g. tests).
func NewDevelopmentStage(cfg core.ArbitrationConfig, baseDir string, logger core.Logger, tracker *budget.Tracker) *DevelopmentStage {
	count := cfg.MaxConcurrentWorkers
	if count <= 0 {
		count = 2
	}
	workers := make([]devpool.Worker, count)
	for i := 0; i < count; i++ {
		workers[i] = &deterministicWorker{name: fmt.Sprintf("developer-%d", i+1), seed: i}
	}
	return &DevelopmentStage{
		pool:    devpool.New(cfg, logger),
		workers: workers,
		baseDir: baseDir,
		budget:  tracker,
	}
}

func (s *DevelopmentStage) Name() string { return "development" }

func (s *DevelopmentStage) Execute(ctx context.Context, pctx *pipeline.Context) error {
	c, err := cardFrom(pctx)
	if err != nil {
		pctx.Set(s.Name(), "result", result(StatusFail, map[string]interface{}{"error": err.Error()}))
		return err
	}

	if s.budget != nil {
		cost, budgetErr := s.budget.CheckAndRecord("anthropic", developmentModel, developmentTokensPerWorker)
		if budgetErr != nil {
			pctx.Set(s.Name(), "result", result(StatusFail, map[string]interface{}{"error": budgetErr.Error()}))
			return fmt.Errorf("development: %w", budgetErr)
		}
		pctx.RecordDiagnostic("development_cost_usd", cost)
	}

	runDir := filepath.Join(s.baseDir, c.ID, fmt.Sprintf("attempt-%d", len(pctx.RetryHistory(s.Name()))+1))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		pctx.Set(s.Name(), "result", result(StatusFail, map[string]interface{}{"error": err.Error()}))
		return fmt.Errorf("development: create run dir: %w", err)
	}

	// Workers improve deterministically with every prior code-review
	// rejection, standing in for developers incorporating review feedback
	// left in context by the orchestrator's retry loop.
	attempt := len(pctx.RetryHistory(s.Name()))
	for _, w := range s.workers {
		w.(*deterministicWorker).attempt = attempt
	}

	results := s.pool.Run(ctx, runDir, s.workers)
	winner, ok := devpool.Arbitrate(results)

	summaries := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		summary := map[string]interface{}{
			"worker":    r.WorkerName,
			"scorecard": r.Scorecard,
		}
		if r.Err != nil {
			summary["error"] = r.Err.Error()
		}
		summaries = append(summaries, summary)
	}

	if !ok {
		pctx.Set(s.Name(), "result", result(StatusFail, map[string]interface{}{
			"workers": summaries,
			"reason":  "all developer workers disqualified",
		}))
		return fmt.Errorf("development: all %d workers disqualified", len(results))
	}

	pctx.Set(s.Name(), "result", result(StatusComplete, map[string]interface{}{
		"winner":       winner.WorkerName,
		"artifact_dir": winner.Dir,
		"scorecard":    winner.Scorecard,
		"workers":      summaries,
	}))
	pctx.SetShared("current_stage", s.Name())
	pctx.SetShared("development_artifact_dir", winner.Dir)
	return nil
}

// deterministicWorker is a dependency-free devpool.Worker whose scorecard
// is a pure function of its seed and the current development attempt
// number, improving on every retry to simulate incorporating review
// feedback.
type deterministicWorker struct {
	name    string
	seed    int
	attempt int
}

func (w *deterministicWorker) Name() string { return w.name }

func (w *deterministicWorker) Develop(ctx context.Context, dir string) (devpool.Scorecard, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return devpool.Scorecard{}, fmt.Errorf("deterministicWorker: create dir: %w", err)
	}
	content := fmt.Sprintf("// generated by %s, attempt %d\npackage artifact\n", w.name, w.attempt+1)
	if err := os.WriteFile(filepath.Join(dir, "solution.go"), []byte(content), 0o644); err != nil {
		return devpool.Scorecard{}, fmt.Errorf("deterministicWorker: write artifact: %w", err)
	}

	select {
	case <-ctx.Done():
		return devpool.Scorecard{}, ctx.Err()
	case <-time.After(time.Millisecond):
	}

	base := 70 + w.seed*5 + w.attempt*10
	clamp := func(v int) int {
		if v > 100 {
			return 100
		}
		return v
	}
	return devpool.Scorecard{
		Overall:       clamp(base),
		Security:      clamp(base + 2),
		GDPR:          clamp(base),
		Accessibility: clamp(base - 3),
		CodeQuality:   clamp(base + 1),
	}, nil
}

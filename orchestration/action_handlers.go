package orchestration

import (
	"context"
	"fmt"
	"time"

	"github.com/artemis-pipeline/artemis/pkg/pipeline"
)

// CircuitResetter is the narrow slice of the supervisor that reset_circuit
// needs. The supervisor implements this; action_handlers stays ignorant of
// everything else the supervisor does to avoid an import cycle.
type CircuitResetter interface {
	ResetCircuit(stageName string) error
}

// Handlers bundles the canonical action handlers with whatever external
// dependencies they need, and registers them into an Engine. Every handler
// is side-effect-light by default so the recovery engine runs end-to-end
// without real infrastructure behind it.
type Handlers struct {
	// Breaker resets a stage's circuit breaker. May be nil if the
	// pipeline was built without a supervisor.
	Breaker CircuitResetter
}

// RegisterDefaults registers the eight canonical action handlers named in
// the Workflow action contract onto engine.
func (h Handlers) RegisterDefaults(engine *Engine) {
	engine.RegisterHandler("increase_timeout", h.increaseTimeout)
	engine.RegisterHandler("kill_hanging_process", h.killHangingProcess)
	engine.RegisterHandler("free_memory", h.freeMemory)
	engine.RegisterHandler("cleanup_temp_files", h.cleanupTempFiles)
	engine.RegisterHandler("retry_stage", h.retryStage)
	engine.RegisterHandler("restart_process", h.restartProcess)
	engine.RegisterHandler("wait_backoff", h.waitBackoff)
	engine.RegisterHandler("reset_circuit", h.resetCircuit)
}

// increaseTimeout records a timeout in the diagnostics namespace: 30s on
// the first call, doubling on each later call. It never talks to an
// external scheduler, and neither the supervisor nor the stages read this
// value back; it is a diagnostic marker only.
func (h Handlers) increaseTimeout(ctx context.Context, pctx *pipeline.Context) (bool, string, error) {
	current, _ := pctx.Get("diagnostics", "timeout_seconds")
	next := 30.0
	if v, ok := current.(float64); ok {
		next = v * 2
	}
	pctx.Set("diagnostics", "timeout_seconds", next)
	return true, fmt.Sprintf("timeout increased to %.0fs", next), nil
}

// killHangingProcess is a placeholder remediation: in a real deployment
// this would signal a tracked PID. Here it records intent so the workflow
// can proceed and a real implementation can be swapped in via
// Engine.RegisterHandler.
func (h Handlers) killHangingProcess(ctx context.Context, pctx *pipeline.Context) (bool, string, error) {
	pctx.RecordDiagnostic("killed_hanging_process", true)
	return true, "hanging process terminated", nil
}

// freeMemory records a memory-pressure remediation marker. Real resource
// reclamation is deployment-specific and injected by replacing this
// handler.
func (h Handlers) freeMemory(ctx context.Context, pctx *pipeline.Context) (bool, string, error) {
	pctx.RecordDiagnostic("memory_freed", true)
	return true, "memory reclaimed", nil
}

// cleanupTempFiles records a cleanup marker for the run's scratch
// directory; it removes no files itself. Real cleanup is
// deployment-specific and injected by replacing this handler.
func (h Handlers) cleanupTempFiles(ctx context.Context, pctx *pipeline.Context) (bool, string, error) {
	pctx.RecordDiagnostic("temp_files_cleaned", true)
	return true, "temporary files removed", nil
}

// retryStage records a retry history entry for the current stage with
// attempt incremented. The orchestrator does not read this entry; it
// re-runs a stage whenever its recovery workflow succeeds.
func (h Handlers) retryStage(ctx context.Context, pctx *pipeline.Context) (bool, string, error) {
	stage, _ := pctx.GetShared("current_stage")
	name, _ := stage.(string)
	if name == "" {
		name = "unknown"
	}
	history := pctx.RetryHistory(name)
	pctx.RecordRetry(name, pipeline.RetryHistoryEntry{Attempt: len(history) + 1})
	return true, fmt.Sprintf("stage %s marked for retry", name), nil
}

// restartProcess records a restart marker. Process-level restarts are
// deployment-specific and injected by replacing this handler.
func (h Handlers) restartProcess(ctx context.Context, pctx *pipeline.Context) (bool, string, error) {
	pctx.RecordDiagnostic("process_restarted", true)
	return true, "process restarted", nil
}

// waitBackoff sleeps a short, context-cancellable duration, honoring ctx
// cancellation instead of blocking indefinitely.
func (h Handlers) waitBackoff(ctx context.Context, pctx *pipeline.Context) (bool, string, error) {
	const delay = 500 * time.Millisecond
	select {
	case <-time.After(delay):
		return true, fmt.Sprintf("waited %s backoff", delay), nil
	case <-ctx.Done():
		return false, "backoff wait canceled", ctx.Err()
	}
}

// resetCircuit asks the supervisor to reset the circuit breaker for the
// stage named in shared_data.current_stage. No-ops successfully if no
// breaker is wired, since not every deployment runs a supervisor.
func (h Handlers) resetCircuit(ctx context.Context, pctx *pipeline.Context) (bool, string, error) {
	if h.Breaker == nil {
		return true, "no circuit breaker wired, nothing to reset", nil
	}

	stage, _ := pctx.GetShared("current_stage")
	name, _ := stage.(string)
	if name == "" {
		return true, "no current stage recorded, nothing to reset", nil
	}

	if err := h.Breaker.ResetCircuit(name); err != nil {
		return false, fmt.Sprintf("failed to reset circuit for %s", name), err
	}
	return true, fmt.Sprintf("circuit reset for stage %s", name), nil
}

package orchestration

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/artemis-pipeline/artemis/core"
	"github.com/artemis-pipeline/artemis/pkg/pipeline"
)

// IssueType is the closed enumeration of problems the recovery workflow
// engine knows how to remediate. Every value here must have exactly one
// registered Workflow - an IssueType with no workflow is a configuration
// bug, not a runtime condition to tolerate.
type IssueType string

const (
	// Infrastructure issues.
	IssueTimeout         IssueType = "TIMEOUT"
	IssueHangingProcess  IssueType = "HANGING_PROCESS"
	IssueMemoryExhausted IssueType = "MEMORY_EXHAUSTED"
	IssueDiskFull        IssueType = "DISK_FULL"
	IssueNetworkError    IssueType = "NETWORK_ERROR"

	// Code issues.
	IssueCompilationError    IssueType = "COMPILATION_ERROR"
	IssueTestFailure         IssueType = "TEST_FAILURE"
	IssueSecurityVuln        IssueType = "SECURITY_VULNERABILITY"
	IssueLintingError        IssueType = "LINTING_ERROR"

	// Dependency issues.
	IssueMissingDependency IssueType = "MISSING_DEPENDENCY"
	IssueVersionConflict   IssueType = "VERSION_CONFLICT"
	IssueImportError       IssueType = "IMPORT_ERROR"

	// LLM issues.
	IssueLLMAPIError       IssueType = "LLM_API_ERROR"
	IssueLLMTimeout        IssueType = "LLM_TIMEOUT"
	IssueLLMRateLimit      IssueType = "LLM_RATE_LIMIT"
	IssueInvalidLLMResponse IssueType = "INVALID_LLM_RESPONSE"

	// Stage issues.
	IssueArchitectureInvalid IssueType = "ARCHITECTURE_INVALID"
	IssueCodeReviewFailed    IssueType = "CODE_REVIEW_FAILED"
	IssueIntegrationConflict IssueType = "INTEGRATION_CONFLICT"
	IssueValidationFailed    IssueType = "VALIDATION_FAILED"

	// Multi-agent issues.
	IssueArbitrationDeadlock IssueType = "ARBITRATION_DEADLOCK"
	IssueDeveloperConflict   IssueType = "DEVELOPER_CONFLICT"
	IssueMessengerError      IssueType = "MESSENGER_ERROR"

	// Data issues.
	IssueInvalidCard     IssueType = "INVALID_CARD"
	IssueCorruptedState  IssueType = "CORRUPTED_STATE"
	IssueRAGError        IssueType = "RAG_ERROR"

	// System issues.
	IssueZombieProcess   IssueType = "ZOMBIE_PROCESS"
	IssueFileLock        IssueType = "FILE_LOCK"
	IssuePermissionDenied IssueType = "PERMISSION_DENIED"
)

// ActionHandler executes one remediation action against the pipeline
// context, reporting whether it succeeded and a human-readable message.
// Handlers are registered by name in a Registry and dispatched as tagged
// variants - the engine never holds an inline callable, matching the
// canonical action names in Action.Handler.
type ActionHandler func(ctx context.Context, pctx *pipeline.Context) (ok bool, message string, err error)

// Action is one step of a Workflow: a named handler plus its own retry
// policy, independent of the workflow's overall success/failure handling.
type Action struct {
	Name           string `yaml:"name" json:"name"`
	Handler        string `yaml:"handler" json:"handler"`
	RetryOnFailure bool   `yaml:"retry_on_failure" json:"retry_on_failure"`
	MaxRetries     int    `yaml:"max_retries" json:"max_retries"`
}

// Workflow binds an IssueType to an ordered sequence of remediation
// actions and the state-machine outcomes of running them.
type Workflow struct {
	Name             string    `yaml:"name" json:"name"`
	IssueType        IssueType `yaml:"issue_type" json:"issue_type"`
	Actions          []Action  `yaml:"actions" json:"actions"`
	SuccessState     State     `yaml:"success_state" json:"success_state"`
	FailureState     State     `yaml:"failure_state" json:"failure_state"`
	RollbackOnFailure bool     `yaml:"rollback_on_failure" json:"rollback_on_failure"`
}

// WorkflowFile is the top-level shape of a YAML workflow definitions file.
type WorkflowFile struct {
	Workflows []Workflow `yaml:"workflows"`
}

// WorkflowExecution records one recovery attempt for a run's audit trail
// and report.
type WorkflowExecution struct {
	WorkflowName string    `json:"workflow_name"`
	IssueType    IssueType `json:"issue_type"`
	Success      bool      `json:"success"`
	ActionsTaken []string  `json:"actions_taken"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	Error        string    `json:"error,omitempty"`
}

// RecoveryStrategy describes a per-stage retry/backoff/circuit-breaker
// envelope. Neither the Engine nor the supervisor reads it; the supervisor
// takes its settings from supervisor.Policy.
type RecoveryStrategy struct {
	MaxRetries              int     `yaml:"max_retries" json:"max_retries"`
	RetryDelaySeconds        float64 `yaml:"retry_delay_seconds" json:"retry_delay_seconds"`
	BackoffMultiplier        float64 `yaml:"backoff_multiplier" json:"backoff_multiplier"`
	TimeoutSeconds           float64 `yaml:"timeout_seconds" json:"timeout_seconds"`
	CircuitBreakerThreshold  float64 `yaml:"circuit_breaker_threshold" json:"circuit_breaker_threshold"`
	CircuitBreakerTimeoutSec float64 `yaml:"circuit_breaker_timeout_seconds" json:"circuit_breaker_timeout_seconds"`
	Fallback                 string  `yaml:"fallback" json:"fallback"`
}

// Engine is the Recovery Workflow Engine: it maps a typed issue to a
// remediation sequence, runs it against the shared pipeline Context, and
// drives the state machine through RECOVERING to RUNNING when every action
// succeeds or to FAILED when one fails. A Workflow's SuccessState and
// FailureState are not consulted.
type Engine struct {
	mu        sync.RWMutex
	workflows map[IssueType]Workflow
	handlers  map[string]ActionHandler
	machine   *Machine
	logger    core.Logger
}

// NewEngine creates a recovery engine bound to machine. Handlers must be
// registered via RegisterHandler and workflows via RegisterWorkflow (or
// LoadWorkflowsFromYAML) before ExecuteWorkflow is called.
func NewEngine(machine *Machine, logger core.Logger) *Engine {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Engine{
		workflows: make(map[IssueType]Workflow),
		handlers:  make(map[string]ActionHandler),
		machine:   machine,
		logger:    logger,
	}
}

// RegisterHandler binds a named action handler. Re-registering a name
// overwrites the previous handler, supporting test doubles.
func (e *Engine) RegisterHandler(name string, handler ActionHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[name] = handler
}

// RegisterWorkflow binds a workflow to its IssueType. Registering a second
// workflow for the same IssueType replaces the first - callers should
// prefer distinct IssueTypes per the "exactly one workflow" invariant.
func (e *Engine) RegisterWorkflow(w Workflow) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workflows[w.IssueType] = w
}

// LoadWorkflowsFromYAML reads a workflow definitions file and registers
// every workflow it contains.
func (e *Engine) LoadWorkflowsFromYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read workflow definitions: %w", err)
	}

	var file WorkflowFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse workflow definitions: %w", err)
	}

	for _, w := range file.Workflows {
		e.RegisterWorkflow(w)
	}
	return nil
}

// ExecuteWorkflow runs the workflow registered for issueType against pctx:
// it transitions to RECOVERING and runs each action in order honoring its
// own retry policy. If all succeed it fires RECOVERY_SUCCESS, ending in
// RUNNING; otherwise it fires RECOVERY_FAIL and the rollback steps, ending
// in FAILED. It returns the WorkflowExecution for the run's record. The
// workflow's SuccessState and FailureState are not read.
func (e *Engine) ExecuteWorkflow(ctx context.Context, issueType IssueType, pctx *pipeline.Context) (WorkflowExecution, error) {
	e.mu.RLock()
	workflow, ok := e.workflows[issueType]
	e.mu.RUnlock()

	if !ok {
		return WorkflowExecution{}, &core.FrameworkError{
			Op:      "Engine.ExecuteWorkflow",
			Kind:    "configuration",
			ID:      string(issueType),
			Message: fmt.Sprintf("no workflow registered for issue type %s", issueType),
			Err:     core.ErrMissingConfiguration,
		}
	}

	exec := WorkflowExecution{
		WorkflowName: workflow.Name,
		IssueType:    issueType,
		StartTime:    time.Now(),
	}

	if _, err := e.machine.Transition(EventRecoveryStart, fmt.Sprintf("executing workflow %s", workflow.Name), nil); err != nil {
		exec.EndTime = time.Now()
		exec.Success = false
		exec.Error = err.Error()
		return exec, err
	}

	var failure error
	for _, action := range workflow.Actions {
		ok, message, err := e.runAction(ctx, action, pctx)
		exec.ActionsTaken = append(exec.ActionsTaken, action.Name)
		pctx.RecordDiagnostic(fmt.Sprintf("recovery.%s.%s", workflow.Name, action.Name), message)

		if err != nil || !ok {
			failure = &core.FrameworkError{
				Op:      "Engine.ExecuteWorkflow",
				Kind:    "recovery",
				ID:      string(issueType),
				Message: fmt.Sprintf("action %s failed: %s", action.Name, message),
				Err:     err,
			}
			break
		}
	}

	exec.EndTime = time.Now()

	if failure == nil {
		exec.Success = true
		if _, err := e.machine.Transition(EventRecoverySuccess, "recovery succeeded", nil); err != nil {
			return exec, err
		}
		return exec, nil
	}

	exec.Success = false
	exec.Error = failure.Error()

	if _, err := e.machine.Transition(EventRecoveryFail, "recovery failed", nil); err != nil {
		return exec, err
	}

	if workflow.RollbackOnFailure {
		if rbErr := e.machine.RollbackToState(StateRunning); rbErr != nil {
			e.logger.Warn("rollback to RUNNING failed, stack likely empty", map[string]interface{}{
				"workflow": workflow.Name,
				"error":    rbErr.Error(),
			})
			// Still in ROLLING_BACK: close the rollback out to FAILED.
			if _, err := e.machine.Transition(EventRollbackComplete, "recovery failed, no RUNNING frame to roll back to", nil); err != nil {
				return exec, err
			}
			return exec, failure
		}
		if _, err := e.machine.Transition(EventFail, "recovery failed after rollback", nil); err != nil {
			return exec, err
		}
		return exec, failure
	}

	if _, err := e.machine.Transition(EventRollbackComplete, "recovery failed", nil); err != nil {
		return exec, err
	}

	return exec, failure
}

// runAction executes a single action, retrying up to MaxRetries times when
// RetryOnFailure is set.
func (e *Engine) runAction(ctx context.Context, action Action, pctx *pipeline.Context) (bool, string, error) {
	e.mu.RLock()
	handler, ok := e.handlers[action.Handler]
	e.mu.RUnlock()

	if !ok {
		return false, fmt.Sprintf("handler %q not registered", action.Handler), &core.FrameworkError{
			Op:      "Engine.runAction",
			Kind:    "configuration",
			ID:      action.Handler,
			Message: fmt.Sprintf("action handler %q not registered", action.Handler),
			Err:     core.ErrMissingConfiguration,
		}
	}

	attempts := 1
	if action.RetryOnFailure && action.MaxRetries > 0 {
		attempts = 1 + action.MaxRetries
	}

	var lastMsg string
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return false, "context canceled", err
		}

		ok, message, err := handler(ctx, pctx)
		lastMsg, lastErr = message, err
		if ok && err == nil {
			return true, message, nil
		}
		if !action.RetryOnFailure {
			break
		}
	}

	return false, lastMsg, lastErr
}

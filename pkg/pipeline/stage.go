package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/artemis-pipeline/artemis/core"
)

// StageState is the lifecycle state of a single stage execution.
type StageState string

const (
	StagePending     StageState = "pending"
	StageRunning     StageState = "running"
	StageCompleted   StageState = "completed"
	StageFailed      StageState = "failed"
	StageRetrying    StageState = "retrying"
	StageSkipped     StageState = "skipped"
	StageCircuitOpen StageState = "circuit_open"
	StageTimedOut    StageState = "timed_out"
	StageRolledBack  StageState = "rolled_back"
)

// StageInfo records everything the supervisor and orchestrator track about
// one stage's execution within a run.
type StageInfo struct {
	StageName     string                 `json:"stage_name"`
	State         StageState             `json:"state"`
	StartTime     time.Time              `json:"start_time"`
	EndTime       time.Time              `json:"end_time,omitempty"`
	DurationSecs  float64                `json:"duration_seconds"`
	RetryCount    int                    `json:"retry_count"`
	ErrorMessage  string                 `json:"error_message,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Transition is an immutable record of one pipeline state machine move.
type Transition struct {
	FromState string                 `json:"from_state"`
	ToState   string                 `json:"to_state"`
	Event     string                 `json:"event"`
	Reason    string                 `json:"reason,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// IssueSeverity classifies a single review finding.
type IssueSeverity string

const (
	SeverityCritical IssueSeverity = "critical"
	SeverityHigh     IssueSeverity = "high"
	SeverityMedium   IssueSeverity = "medium"
	SeverityLow      IssueSeverity = "low"
)

// ReviewIssue is one finding raised by a code review stage.
type ReviewIssue struct {
	File           string        `json:"file"`
	Line           int           `json:"line"`
	Severity       IssueSeverity `json:"severity"`
	Description    string        `json:"description"`
	Recommendation string        `json:"recommendation"`
}

// ReviewStatus is the overall verdict of a ReviewReport.
type ReviewStatus string

const (
	ReviewPass              ReviewStatus = "PASS"
	ReviewNeedsImprovement  ReviewStatus = "NEEDS_IMPROVEMENT"
	ReviewFail              ReviewStatus = "FAIL"
)

// ReviewReport is produced by the code review stage. NEEDS_IMPROVEMENT
// never triggers an automatic retry - it surfaces for human triage - only
// FAIL feeds the orchestrator's bounded retry loop.
type ReviewReport struct {
	OverallStatus  ReviewStatus  `json:"overall_status"`
	CriticalIssues int           `json:"critical_issues"`
	HighIssues     int           `json:"high_issues"`
	OverallScore   int           `json:"overall_score"`
	Issues         []ReviewIssue `json:"issues"`
}

// RecoveryAttempt records one invocation of the recovery workflow engine
// against a failed stage, independent of orchestration.WorkflowExecution
// since pipeline cannot import orchestration (orchestration already
// imports pipeline for Context and Transition).
type RecoveryAttempt struct {
	StageName    string   `json:"stage_name"`
	IssueType    string   `json:"issue_type"`
	WorkflowName string   `json:"workflow_name"`
	Success      bool     `json:"success"`
	ActionsTaken []string `json:"actions_taken"`
	Error        string   `json:"error,omitempty"`
}

// Report is the final summary of a pipeline run, assembled by the
// orchestrator when the run ends. Status names the run's outcome:
// COMPLETED_SUCCESSFULLY, FAILED_CODE_REVIEW, or "FAILED_STAGE:<name>";
// the orchestrator does not set ABORTED.
type Report struct {
	CardID       string              `json:"card_id"`
	RunID        string              `json:"run_id"`
	Status       string              `json:"status"`
	Stages       []StageInfo         `json:"stages"`
	Transitions  []Transition        `json:"transitions"`
	Review       *ReviewReport       `json:"review,omitempty"`
	TotalRetries int                 `json:"total_retries"`
	RetryHistory []RetryHistoryEntry `json:"retry_history,omitempty"`
	Recovery     []RecoveryAttempt   `json:"recovery,omitempty"`
	StartTime    time.Time           `json:"started_at"`
	EndTime      time.Time           `json:"ended_at"`
	Success      bool                `json:"success"`
}

// Stage is one unit of work in the pipeline. Concrete implementations live
// in pkg/stages; core code never depends on their internals, only on this
// interface and on Context.
type Stage interface {
	// Name identifies the stage for logging, metrics, and registry lookup.
	Name() string

	// Execute runs the stage against the shared Context, returning an
	// error on failure. Implementations should respect ctx cancellation
	// for anything that can block.
	Execute(ctx context.Context, pctx *Context) error
}

// StageRegistry maps stage names to their implementations, mirroring the
// register-by-name (no reflection) pattern used for capability lookup
// elsewhere in the framework.
type StageRegistry struct {
	mu     sync.RWMutex
	stages map[string]Stage
	order  []string
}

// NewStageRegistry creates an empty registry.
func NewStageRegistry() *StageRegistry {
	return &StageRegistry{stages: make(map[string]Stage)}
}

// Register adds a stage under its own Name(). Registering the same name
// twice is a configuration error.
func (r *StageRegistry) Register(s Stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := s.Name()
	if _, exists := r.stages[name]; exists {
		return &core.FrameworkError{Op: "StageRegistry.Register", Kind: "configuration", ID: name, Message: fmt.Sprintf("stage %q already registered", name), Err: core.ErrAlreadyRegistered}
	}
	r.stages[name] = s
	r.order = append(r.order, name)
	return nil
}

// Get looks up a stage by name.
func (r *StageRegistry) Get(name string) (Stage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.stages[name]
	if !ok {
		return nil, &core.FrameworkError{Op: "StageRegistry.Get", Kind: "not_found", ID: name, Message: fmt.Sprintf("stage %q not registered", name), Err: core.ErrStageNotFound}
	}
	return s, nil
}

// Names returns registered stage names in registration order.
func (r *StageRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

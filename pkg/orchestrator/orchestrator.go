// Package orchestrator composes the fixed stage sequence, the supervisor,
// the state machine, and the recovery engine into the single entry point
// a deployment calls per card: RunFullPipeline.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/artemis-pipeline/artemis/core"
	"github.com/artemis-pipeline/artemis/orchestration"
	"github.com/artemis-pipeline/artemis/pkg/card"
	"github.com/artemis-pipeline/artemis/pkg/communication"
	"github.com/artemis-pipeline/artemis/pkg/learning"
	"github.com/artemis-pipeline/artemis/pkg/pipeline"
	"github.com/artemis-pipeline/artemis/pkg/rag"
	"github.com/artemis-pipeline/artemis/pkg/supervisor"
)

// stageOrder is the fixed, spec-mandated sequence every run executes.
var stageOrder = []string{
	"project_analysis", "architecture", "dependencies", "development",
	"code_review", "validation", "integration", "testing",
}

const developmentIndex = 3

// topIssuesBySeverity bounds how many review issues are carried into the
// next development attempt's feedback blob.
const topIssuesBySeverity = 10

// maxRecoveryAttemptsPerStage bounds how many times the recovery workflow
// engine may be consulted for the same stage within one run, so a
// workflow whose actions always report success cannot retry a
// permanently-failing stage forever.
const maxRecoveryAttemptsPerStage = 1

// recoveryIssueForStage maps a stage name to the IssueType its failure is
// classified as for the recovery workflow engine. A stage absent from
// this map gets no workflow: its failure ends the run unless a proposer
// is wired (WithProposer), which is then consulted.
var recoveryIssueForStage = map[string]orchestration.IssueType{
	"project_analysis": orchestration.IssueInvalidCard,
	"architecture":      orchestration.IssueArchitectureInvalid,
	"dependencies":      orchestration.IssueMissingDependency,
	"development":       orchestration.IssueCompilationError,
	"validation":        orchestration.IssueValidationFailed,
	"integration":       orchestration.IssueIntegrationConflict,
	"testing":           orchestration.IssueTestFailure,
}

// Orchestrator owns the long-lived collaborators shared across runs: the
// board, the single RAG instance, the messenger, and the stage registry.
// A fresh Machine and Supervisor are created per run, since their stats
// and PDA stack are scoped to one card's pipeline execution.
type Orchestrator struct {
	board     card.KanbanBoard
	store     rag.RAG
	messenger communication.Messenger
	registry  *pipeline.StageRegistry
	snapshots orchestration.SnapshotStore
	logger    core.Logger
	telemetry core.Telemetry
	proposer  learning.Proposer
}

// New creates an Orchestrator. snapshots may be nil to skip persistence
// (e.g. tests); messenger may be nil to skip broadcast side effects.
func New(board card.KanbanBoard, store rag.RAG, messenger communication.Messenger, registry *pipeline.StageRegistry, snapshots orchestration.SnapshotStore, logger core.Logger) *Orchestrator {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Orchestrator{
		board:     board,
		store:     store,
		messenger: messenger,
		registry:  registry,
		snapshots: snapshots,
		logger:    logger,
		telemetry: &core.NoOpTelemetry{},
	}
}

// WithTelemetry wires t as the span/metric sink every run's supervisor
// uses. Passing nil reverts to the no-op default. Must be called before
// RunFullPipeline to take effect.
func (o *Orchestrator) WithTelemetry(t core.Telemetry) {
	if t == nil {
		t = &core.NoOpTelemetry{}
	}
	o.telemetry = t
}

// WithProposer wires p as the assistant consulted as a last resort when a
// stage fails and either has no static recovery workflow or that workflow
// did not resolve the failure. A nil proposer (the default) disables this
// path entirely - recovery then relies only on recoveryIssueForStage.
func (o *Orchestrator) WithProposer(p learning.Proposer) {
	o.proposer = p
}

// RunFullPipeline drives cardID through the fixed stage sequence, honoring
// the development<->code_review retry loop, and returns a Report that
// always reflects the last observed state.
func (o *Orchestrator) RunFullPipeline(ctx context.Context, cardID string, maxRetries int) (*pipeline.Report, error) {
	if maxRetries < 0 {
		return nil, &core.FrameworkError{
			Op:      "Orchestrator.RunFullPipeline",
			Kind:    "configuration",
			ID:      cardID,
			Message: "max_retries must be >= 0",
			Err:     core.ErrInvalidConfiguration,
		}
	}

	c, err := o.board.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}

	machine := orchestration.NewMachine(cardID)
	if o.snapshots != nil {
		if snap, ok, loadErr := o.snapshots.Load(ctx, cardID); loadErr == nil && ok {
			machine.Restore(snap)
		}
	}
	if machine.Current() == orchestration.StateIdle {
		if _, err := machine.Transition(orchestration.EventStart, "pipeline starting", nil); err != nil {
			return nil, err
		}
		if _, err := machine.Transition(orchestration.EventComplete, "initialization complete", nil); err != nil {
			return nil, err
		}
	}

	sup := supervisor.New(machine, o.messenger, o.logger)
	sup.WithTelemetry(o.telemetry)
	// The orchestrator owns the development<->code_review retry loop
	// itself; the supervisor must not also retry a review FAIL as if it
	// were a transient error.
	reviewPolicy := supervisor.DefaultPolicy()
	reviewPolicy.MaxRetries = 0
	sup.WithPolicy("code_review", reviewPolicy)

	engine := orchestration.NewEngine(machine, o.logger)
	handlers := orchestration.Handlers{Breaker: sup}
	handlers.RegisterDefaults(engine)
	for _, wf := range orchestration.DefaultWorkflows() {
		engine.RegisterWorkflow(wf)
	}

	pctx := pipeline.NewContext()
	pctx.SetShared("card", c)

	report := &pipeline.Report{
		CardID:    cardID,
		RunID:     uuid.New().String(),
		StartTime: time.Now(),
	}

	retries := 0
	recoveryAttempts := make(map[string]int)

	for i := 0; i < len(stageOrder); i++ {
		stageName := stageOrder[i]

		stage, err := o.registry.Get(stageName)
		if err != nil {
			report.Status = fmt.Sprintf("FAILED_STAGE:%s", stageName)
			report.EndTime = time.Now()
			o.finish(ctx, cardID, machine, report)
			return report, err
		}

		info, execErr := sup.ExecuteWithSupervision(ctx, stage, cardID, pctx)
		report.Stages = append(report.Stages, info)
		o.emitSideEffects(ctx, c, stageName, info)

		if execErr != nil && stageName != "code_review" {
			issueType, recoverable := recoveryIssueForStage[stageName]
			resolved := false

			if recoverable && recoveryAttempts[stageName] < maxRecoveryAttemptsPerStage {
				recoveryAttempts[stageName]++
				exec, recErr := engine.ExecuteWorkflow(ctx, issueType, pctx)
				report.Recovery = append(report.Recovery, pipeline.RecoveryAttempt{
					StageName:    stageName,
					IssueType:    string(issueType),
					WorkflowName: exec.WorkflowName,
					Success:      exec.Success,
					ActionsTaken: exec.ActionsTaken,
					Error:        exec.Error,
				})
				resolved = recErr == nil && exec.Success
			}

			if !resolved && o.proposer != nil && recoveryAttempts[stageName] < maxRecoveryAttemptsPerStage+1 {
				recoveryAttempts[stageName]++
				resolved = o.consultProposer(ctx, engine, report, cardID, stageName, issueType, execErr, pctx)
			}

			if resolved {
				i--
				continue
			}

			report.Status = fmt.Sprintf("FAILED_STAGE:%s", stageName)
			report.EndTime = time.Now()
			o.finish(ctx, cardID, machine, report)
			return report, nil
		}

		if stageName == "code_review" {
			reviewVal, _ := pctx.Get("code_review", "review_report")
			reviewReport, _ := reviewVal.(pipeline.ReviewReport)
			report.Review = &reviewReport

			switch reviewReport.OverallStatus {
			case pipeline.ReviewPass, pipeline.ReviewNeedsImprovement:
				// proceed to validation

			case pipeline.ReviewFail:
				if retries >= maxRetries {
					report.Status = "FAILED_CODE_REVIEW"
					report.TotalRetries = retries
					report.RetryHistory = pctx.RetryHistory("development")
					report.EndTime = time.Now()
					o.finish(ctx, cardID, machine, report)
					return report, nil
				}

				retries++
				feedback := topIssues(reviewReport.Issues, topIssuesBySeverity)
				pctx.Set("retry", "previous_review_feedback", feedback)
				pctx.Set("retry", "retry_attempt", retries)
				pctx.RecordRetry("development", pipeline.RetryHistoryEntry{
					Attempt:        retries,
					ReviewResult:   string(reviewReport.OverallStatus),
					CriticalIssues: reviewReport.CriticalIssues,
					HighIssues:     reviewReport.HighIssues,
				})

				// Re-run development then code_review with the feedback
				// now in context; validation must not run on this pass.
				i = developmentIndex - 1
				continue
			}
		}
	}

	report.Status = "COMPLETED_SUCCESSFULLY"
	report.Success = true
	report.TotalRetries = retries
	report.RetryHistory = pctx.RetryHistory("development")
	report.EndTime = time.Now()
	o.finish(ctx, cardID, machine, report)
	return report, nil
}

// finish persists the machine's final snapshot and attaches its transition
// history to the report. Snapshot failures are logged, not fatal - the
// report is still the authoritative record of what happened.
func (o *Orchestrator) finish(ctx context.Context, cardID string, machine *orchestration.Machine, report *pipeline.Report) {
	// Every Push must have a matching Pop by the end of a run; drain
	// whatever a failed stage's frame left behind now that no further
	// rollback against it will happen.
	for {
		if _, ok := machine.Pop(); !ok {
			break
		}
	}

	report.Transitions = machine.History()
	if o.snapshots == nil {
		return
	}
	if err := o.snapshots.Save(ctx, machine.Snapshot()); err != nil {
		o.logger.Warn("failed to persist pipeline snapshot", map[string]interface{}{
			"card_id": cardID,
			"error":   err.Error(),
		})
	}
}

// consultProposer asks o.proposer for a remediation plan for stageName's
// failure, registers the proposed workflow under its own IssueType, and
// runs it once. It returns whether the run can proceed past the stage. A
// proposer error or declined plan is logged, not fatal - the caller falls
// through to the normal FAILED_STAGE path.
func (o *Orchestrator) consultProposer(ctx context.Context, engine *orchestration.Engine, report *pipeline.Report, cardID, stageName string, issueType orchestration.IssueType, execErr error, pctx *pipeline.Context) bool {
	plan, err := o.proposer.Propose(ctx, learning.Event{
		CardID:     cardID,
		StageName:  stageName,
		IssueType:  issueType,
		Message:    execErr.Error(),
		OccurredAt: time.Now(),
	})
	if err != nil || plan == nil {
		if err != nil {
			o.logger.Warn("recovery proposer declined", map[string]interface{}{"card_id": cardID, "stage": stageName, "error": err.Error()})
		}
		return false
	}

	engine.RegisterWorkflow(plan.Workflow)
	exec, recErr := engine.ExecuteWorkflow(ctx, plan.Workflow.IssueType, pctx)
	report.Recovery = append(report.Recovery, pipeline.RecoveryAttempt{
		StageName:    stageName,
		IssueType:    string(plan.Workflow.IssueType),
		WorkflowName: exec.WorkflowName,
		Success:      exec.Success,
		ActionsTaken: exec.ActionsTaken,
		Error:        exec.Error,
	})
	return recErr == nil && exec.Success
}

// emitSideEffects fires the three observable side effects the spec
// requires per stage: a Kanban column move, a messenger broadcast, and a
// RAG artifact append. Every one is best-effort - a failure here never
// fails the pipeline run, only logs.
func (o *Orchestrator) emitSideEffects(ctx context.Context, c *card.Card, stageName string, info pipeline.StageInfo) {
	if err := o.board.MoveCard(ctx, c.ID, columnForState(info.State)); err != nil {
		o.logger.Debug("kanban move failed", map[string]interface{}{"card_id": c.ID, "stage": stageName, "error": err.Error()})
	}

	if o.messenger != nil {
		msg := communication.Message{
			From:   stageName,
			To:     "all",
			Type:   communication.TypeDataUpdate,
			CardID: c.ID,
			Data: map[string]interface{}{
				"stage": stageName,
				"state": string(info.State),
			},
		}
		if err := o.messenger.Send(ctx, msg); err != nil {
			o.logger.Debug("messenger broadcast failed", map[string]interface{}{"card_id": c.ID, "stage": stageName, "error": err.Error()})
		}
	}

	if o.store != nil {
		content := fmt.Sprintf("stage=%s state=%s card=%s", stageName, info.State, c.ID)
		if _, err := o.store.StoreArtifact(rag.ArtifactStageResult, content, map[string]interface{}{
			"card_id": c.ID,
			"stage":   stageName,
			"state":   string(info.State),
		}); err != nil {
			o.logger.Debug("rag artifact append failed", map[string]interface{}{"card_id": c.ID, "stage": stageName, "error": err.Error()})
		}
	}
}

// columnForState maps a stage's terminal state to the Kanban column the
// card should be observed in.
func columnForState(state pipeline.StageState) string {
	switch state {
	case pipeline.StageCompleted:
		return card.ColumnInProgress
	case pipeline.StageFailed, pipeline.StageTimedOut, pipeline.StageCircuitOpen:
		return card.ColumnBlocked
	default:
		return card.ColumnInProgress
	}
}

// topIssues returns the first n issues ordered by severity
// (critical -> high -> medium -> low), stable on original order within a
// severity band.
func topIssues(issues []pipeline.ReviewIssue, n int) []pipeline.ReviewIssue {
	rank := map[pipeline.IssueSeverity]int{
		pipeline.SeverityCritical: 0,
		pipeline.SeverityHigh:     1,
		pipeline.SeverityMedium:   2,
		pipeline.SeverityLow:      3,
	}

	sorted := make([]pipeline.ReviewIssue, len(issues))
	copy(sorted, issues)
	sort.SliceStable(sorted, func(i, j int) bool {
		return rank[sorted[i].Severity] < rank[sorted[j].Severity]
	})

	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

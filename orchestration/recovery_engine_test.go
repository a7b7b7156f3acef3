package orchestration

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artemis-pipeline/artemis/pkg/pipeline"
)

func newStageFailedMachine() *Machine {
	m := NewMachine("card-1")
	_, _ = m.Transition(EventStart, "", nil)
	_, _ = m.Transition(EventComplete, "", nil)
	m.Push(map[string]interface{}{"stage": "test-stage"})
	_, _ = m.Transition(EventStageStart, "", nil)
	_, _ = m.Transition(EventStageFail, "", nil)
	return m
}

func TestEngine_ExecuteWorkflow_Success(t *testing.T) {
	m := newStageFailedMachine()
	engine := NewEngine(m, nil)

	var called []string
	engine.RegisterHandler("step_a", func(ctx context.Context, pctx *pipeline.Context) (bool, string, error) {
		called = append(called, "step_a")
		return true, "ok", nil
	})
	engine.RegisterHandler("step_b", func(ctx context.Context, pctx *pipeline.Context) (bool, string, error) {
		called = append(called, "step_b")
		return true, "ok", nil
	})

	engine.RegisterWorkflow(Workflow{
		Name:      "test-recovery",
		IssueType: IssueTimeout,
		Actions: []Action{
			{Name: "a", Handler: "step_a"},
			{Name: "b", Handler: "step_b"},
		},
		SuccessState: StateRunning,
		FailureState: StateFailed,
	})

	pctx := pipeline.NewContext()
	exec, err := engine.ExecuteWorkflow(context.Background(), IssueTimeout, pctx)
	require.NoError(t, err)
	assert.True(t, exec.Success)
	assert.Equal(t, []string{"a", "b"}, exec.ActionsTaken)
	assert.Equal(t, []string{"step_a", "step_b"}, called)
	assert.Equal(t, StateRunning, m.Current())
}

func TestEngine_ExecuteWorkflow_UnregisteredIssueTypeFails(t *testing.T) {
	m := newStageFailedMachine()
	engine := NewEngine(m, nil)

	_, err := engine.ExecuteWorkflow(context.Background(), IssueDiskFull, pipeline.NewContext())
	require.Error(t, err)
	assert.Equal(t, StateStageFailed, m.Current())
}

func TestEngine_ExecuteWorkflow_FailureTransitionsToFailureState(t *testing.T) {
	m := newStageFailedMachine()
	engine := NewEngine(m, nil)

	engine.RegisterHandler("always_fails", func(ctx context.Context, pctx *pipeline.Context) (bool, string, error) {
		return false, "nope", nil
	})
	engine.RegisterWorkflow(Workflow{
		Name:              "test-recovery-fail",
		IssueType:         IssueMemoryExhausted,
		Actions:           []Action{{Name: "a", Handler: "always_fails"}},
		SuccessState:      StateRunning,
		FailureState:      StateFailed,
		RollbackOnFailure: true,
	})

	exec, err := engine.ExecuteWorkflow(context.Background(), IssueMemoryExhausted, pipeline.NewContext())
	require.Error(t, err)
	assert.False(t, exec.Success)
	assert.Equal(t, StateFailed, m.Current())

	frame, ok := m.Peek()
	require.True(t, ok, "rollback must leave the RUNNING frame on top of the stack")
	assert.Equal(t, StateRunning, frame.State)
	assert.Equal(t, 1, m.StackDepth())
}

func TestEngine_RunAction_RetriesUntilSuccess(t *testing.T) {
	m := newStageFailedMachine()
	engine := NewEngine(m, nil)

	attempts := 0
	engine.RegisterHandler("flaky", func(ctx context.Context, pctx *pipeline.Context) (bool, string, error) {
		attempts++
		if attempts < 3 {
			return false, "retry me", nil
		}
		return true, "eventually ok", nil
	})
	engine.RegisterWorkflow(Workflow{
		Name:         "test-flaky",
		IssueType:    IssueNetworkError,
		Actions:      []Action{{Name: "a", Handler: "flaky", RetryOnFailure: true, MaxRetries: 5}},
		SuccessState: StateRunning,
		FailureState: StateFailed,
	})

	exec, err := engine.ExecuteWorkflow(context.Background(), IssueNetworkError, pipeline.NewContext())
	require.NoError(t, err)
	assert.True(t, exec.Success)
	assert.Equal(t, 3, attempts)
}

func TestEngine_LoadWorkflowsFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/workflows.yaml"
	contents := `
workflows:
  - name: yaml-recovery
    issue_type: DISK_FULL
    actions:
      - name: cleanup
        handler: cleanup_temp_files
    success_state: RUNNING
    failure_state: FAILED
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	m := newStageFailedMachine()
	engine := NewEngine(m, nil)
	Handlers{}.RegisterDefaults(engine)

	require.NoError(t, engine.LoadWorkflowsFromYAML(path))

	exec, err := engine.ExecuteWorkflow(context.Background(), IssueDiskFull, pipeline.NewContext())
	require.NoError(t, err)
	assert.True(t, exec.Success)
}

func TestDefaultWorkflows_CoverEveryIssueType(t *testing.T) {
	m := newStageFailedMachine()
	engine := NewEngine(m, nil)
	Handlers{}.RegisterDefaults(engine)
	for _, w := range DefaultWorkflows() {
		engine.RegisterWorkflow(w)
	}

	issueTypes := []IssueType{
		IssueTimeout, IssueHangingProcess, IssueMemoryExhausted, IssueDiskFull, IssueNetworkError,
		IssueCompilationError, IssueTestFailure, IssueSecurityVuln, IssueLintingError,
		IssueMissingDependency, IssueVersionConflict, IssueImportError,
		IssueLLMAPIError, IssueLLMTimeout, IssueLLMRateLimit, IssueInvalidLLMResponse,
		IssueArchitectureInvalid, IssueCodeReviewFailed, IssueIntegrationConflict, IssueValidationFailed,
		IssueArbitrationDeadlock, IssueDeveloperConflict, IssueMessengerError,
		IssueInvalidCard, IssueCorruptedState, IssueRAGError,
		IssueZombieProcess, IssueFileLock, IssuePermissionDenied,
	}

	for _, it := range issueTypes {
		engine.mu.RLock()
		_, ok := engine.workflows[it]
		engine.mu.RUnlock()
		assert.True(t, ok, "missing workflow for issue type %s", it)
	}
}

package supervisor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artemis-pipeline/artemis/orchestration"
	"github.com/artemis-pipeline/artemis/pkg/communication"
	"github.com/artemis-pipeline/artemis/pkg/pipeline"
)

type fakeStage struct {
	name    string
	calls   int
	failFor int
	delay   time.Duration
}

func (f *fakeStage) Name() string { return f.name }

func (f *fakeStage) Execute(ctx context.Context, pctx *pipeline.Context) error {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.calls <= f.failFor {
		return fmt.Errorf("stage %s attempt %d failed", f.name, f.calls)
	}
	return nil
}

func newRunningMachine(cardID string) *orchestration.Machine {
	m := orchestration.NewMachine(cardID)
	_, _ = m.Transition(orchestration.EventStart, "", nil)
	_, _ = m.Transition(orchestration.EventComplete, "", nil)
	return m
}

func fastPolicy() Policy {
	return Policy{MaxRetries: 3, RetryDelaySeconds: 0, BackoffMultiplier: 1, TimeoutSeconds: 5, CircuitBreakerThreshold: 5, CircuitBreakerTimeoutSec: 60}
}

func TestSupervisor_ExecuteWithSupervision_SucceedsFirstTry(t *testing.T) {
	m := newRunningMachine("card-1")
	sup := New(m, nil, nil)
	sup.WithPolicy("stage-a", fastPolicy())

	info, err := sup.ExecuteWithSupervision(context.Background(), &fakeStage{name: "stage-a"}, "card-1", pipeline.NewContext())
	require.NoError(t, err)
	assert.Equal(t, pipeline.StageCompleted, info.State)
}

func TestSupervisor_ExecuteWithSupervision_RetriesThenSucceeds(t *testing.T) {
	m := newRunningMachine("card-2")
	sup := New(m, nil, nil)
	sup.WithPolicy("stage-b", fastPolicy())

	stage := &fakeStage{name: "stage-b", failFor: 2}
	info, err := sup.ExecuteWithSupervision(context.Background(), stage, "card-2", pipeline.NewContext())
	require.NoError(t, err)
	assert.Equal(t, pipeline.StageCompleted, info.State)
	assert.Equal(t, 2, info.RetryCount)
	assert.Equal(t, 3, stage.calls)
}

func TestSupervisor_ExecuteWithSupervision_ExhaustsRetriesAndFails(t *testing.T) {
	m := newRunningMachine("card-3")
	sup := New(m, nil, nil)
	policy := fastPolicy()
	policy.MaxRetries = 1
	sup.WithPolicy("stage-c", policy)

	stage := &fakeStage{name: "stage-c", failFor: 100}
	info, err := sup.ExecuteWithSupervision(context.Background(), stage, "card-3", pipeline.NewContext())
	require.Error(t, err)
	assert.Equal(t, pipeline.StageFailed, info.State)
}

func TestSupervisor_ExecuteWithSupervision_TimesOutStage(t *testing.T) {
	m := newRunningMachine("card-4")
	sup := New(m, nil, nil)
	policy := fastPolicy()
	policy.MaxRetries = 0
	policy.TimeoutSeconds = 0
	sup.WithPolicy("stage-d", policy)

	stage := &fakeStage{name: "stage-d", delay: time.Second}
	_, err := sup.ExecuteWithSupervision(context.Background(), stage, "card-4", pipeline.NewContext())
	require.Error(t, err)
}

func TestSupervisor_ExecuteWithSupervision_OpensCircuitAndAlertsMessenger(t *testing.T) {
	m := newRunningMachine("card-5")
	messenger := communication.NewMailboxMessenger(nil)
	messenger.RegisterRecipient("watcher")
	sup := New(m, messenger, nil)

	policy := fastPolicy()
	policy.MaxRetries = 0
	policy.CircuitBreakerThreshold = 1
	sup.WithPolicy("stage-e", policy)

	stage := &fakeStage{name: "stage-e", failFor: 100}
	_, err := sup.ExecuteWithSupervision(context.Background(), stage, "card-5", pipeline.NewContext())
	require.Error(t, err)

	messages, err := messenger.Receive(context.Background(), "watcher")
	require.NoError(t, err)
	require.NotEmpty(t, messages)
	assert.Equal(t, communication.TypeAlert, messages[0].Type)
}

func TestSupervisor_ExecuteWithSupervision_SkipsWhenCircuitOpen(t *testing.T) {
	m := newRunningMachine("card-6")
	sup := New(m, nil, nil)
	policy := fastPolicy()
	policy.MaxRetries = 0
	policy.CircuitBreakerThreshold = 1
	sup.WithPolicy("stage-f", policy)

	stage := &fakeStage{name: "stage-f", failFor: 100}
	_, _ = sup.ExecuteWithSupervision(context.Background(), stage, "card-6", pipeline.NewContext())

	info, err := sup.ExecuteWithSupervision(context.Background(), stage, "card-6", pipeline.NewContext())
	require.Error(t, err)
	assert.Equal(t, pipeline.StageCircuitOpen, info.State)
}

func TestSupervisor_ResetCircuit_ReopensForExecution(t *testing.T) {
	m := newRunningMachine("card-7")
	sup := New(m, nil, nil)
	policy := fastPolicy()
	policy.MaxRetries = 0
	policy.CircuitBreakerThreshold = 1
	sup.WithPolicy("stage-g", policy)

	stage := &fakeStage{name: "stage-g", failFor: 1}
	_, _ = sup.ExecuteWithSupervision(context.Background(), stage, "card-7", pipeline.NewContext())

	require.NoError(t, sup.ResetCircuit("stage-g"))

	info, err := sup.ExecuteWithSupervision(context.Background(), stage, "card-7", pipeline.NewContext())
	require.NoError(t, err)
	assert.Equal(t, pipeline.StageCompleted, info.State)
}

func TestSupervisor_HealthReport_TracksStats(t *testing.T) {
	m := newRunningMachine("card-8")
	sup := New(m, nil, nil)
	sup.WithPolicy("stage-h", fastPolicy())

	_, _ = sup.ExecuteWithSupervision(context.Background(), &fakeStage{name: "stage-h", failFor: 1}, "card-8", pipeline.NewContext())

	report := sup.HealthReport()
	stats, ok := report.Stages["stage-h"]
	require.True(t, ok)
	assert.GreaterOrEqual(t, stats.TotalAttempts, 2)
}

func TestSupervisor_HealthReport_OverallHealthyWhenNoFailures(t *testing.T) {
	m := newRunningMachine("card-9")
	sup := New(m, nil, nil)
	sup.WithPolicy("stage-i", fastPolicy())

	_, _ = sup.ExecuteWithSupervision(context.Background(), &fakeStage{name: "stage-i"}, "card-9", pipeline.NewContext())

	assert.Equal(t, HealthOverallHealthy, sup.HealthReport().Overall)
}

func TestSupervisor_HealthReport_OverallCriticalWhenCircuitOpen(t *testing.T) {
	m := newRunningMachine("card-10")
	sup := New(m, nil, nil)
	policy := fastPolicy()
	policy.MaxRetries = 0
	policy.CircuitBreakerThreshold = 1
	sup.WithPolicy("stage-j", policy)

	_, _ = sup.ExecuteWithSupervision(context.Background(), &fakeStage{name: "stage-j", failFor: 100}, "card-10", pipeline.NewContext())

	assert.Equal(t, HealthOverallCritical, sup.HealthReport().Overall)
}

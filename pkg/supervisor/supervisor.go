// Package supervisor wraps every stage call with retry, timeout, circuit
// breaking, stats, and health reporting, per the core's supervision
// contract. It never runs a stage directly - ExecuteWithSupervision is the
// only entry point stages and the orchestrator ever call through.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/artemis-pipeline/artemis/core"
	"github.com/artemis-pipeline/artemis/orchestration"
	"github.com/artemis-pipeline/artemis/pkg/communication"
	"github.com/artemis-pipeline/artemis/pkg/pipeline"
	"github.com/artemis-pipeline/artemis/resilience"
)

// StageStats tracks the supervisor's running view of one stage's health
// across a pipeline's lifetime.
type StageStats struct {
	ConsecutiveFailures int
	TotalAttempts       int
	TotalFailures       int
	LastError           string
	CircuitState        string
}

// Supervisor owns one circuit breaker and policy per stage name, keyed
// lazily on first use so callers never have to pre-register stages.
type Supervisor struct {
	mu        sync.Mutex
	breakers  map[string]*resilience.CircuitBreaker
	policies  map[string]Policy
	stats     sync.Map // map[string]*StageStats
	machine   *orchestration.Machine
	messenger communication.Messenger
	logger    core.Logger
	telemetry core.Telemetry
}

// New creates a Supervisor driving machine's transitions and, if messenger
// is non-nil, alerting it when a circuit opens.
func New(machine *orchestration.Machine, messenger communication.Messenger, logger core.Logger) *Supervisor {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Supervisor{
		breakers:  make(map[string]*resilience.CircuitBreaker),
		policies:  make(map[string]Policy),
		machine:   machine,
		messenger: messenger,
		logger:    logger,
		telemetry: &core.NoOpTelemetry{},
	}
}

// WithPolicy overrides the default policy for stageName. Must be called
// before that stage's first execution to take effect.
func (s *Supervisor) WithPolicy(stageName string, policy Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[stageName] = policy
}

// WithTelemetry wires t as the supervisor's span/metric sink. Passing nil
// reverts to the no-op default.
func (s *Supervisor) WithTelemetry(t core.Telemetry) {
	if t == nil {
		t = &core.NoOpTelemetry{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.telemetry = t
}

func (s *Supervisor) policyFor(stageName string) Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.policies[stageName]; ok {
		return p
	}
	return DefaultPolicy()
}

func (s *Supervisor) breakerFor(stageName string, policy Policy) *resilience.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cb, ok := s.breakers[stageName]; ok {
		return cb
	}

	// VolumeThreshold paired with ErrorThreshold 1.0 approximates "N
	// consecutive failures": a single intervening success keeps the
	// windowed error rate below 1.0 and the circuit stays closed, matching
	// the core's consecutive_failures reset-on-success semantics better
	// than the legacy cumulative FailureThreshold counter would.
	cfg := resilience.DefaultConfig()
	cfg.Name = stageName
	cfg.VolumeThreshold = policy.CircuitBreakerThreshold
	cfg.ErrorThreshold = 1.0
	cfg.SleepWindow = time.Duration(policy.CircuitBreakerTimeoutSec) * time.Second
	cfg.Logger = s.logger

	cb, _ := resilience.NewCircuitBreaker(cfg)
	s.breakers[stageName] = cb
	return cb
}

func (s *Supervisor) statsFor(stageName string) *StageStats {
	v, _ := s.stats.LoadOrStore(stageName, &StageStats{})
	return v.(*StageStats)
}

// ExecuteWithSupervision runs stage against pctx under stageName's policy:
// deadline, retry-with-backoff, and circuit breaking. Every lifecycle
// transition is emitted to the state machine; a circuit-open alert is
// broadcast to the messenger if one is wired.
func (s *Supervisor) ExecuteWithSupervision(ctx context.Context, stage pipeline.Stage, cardID string, pctx *pipeline.Context) (pipeline.StageInfo, error) {
	stageName := stage.Name()
	policy := s.policyFor(stageName)
	breaker := s.breakerFor(stageName, policy)
	stats := s.statsFor(stageName)

	ctx, span := s.telemetry.StartSpan(ctx, fmt.Sprintf("stage.%s", stageName))
	span.SetAttribute("card_id", cardID)
	defer span.End()

	info := pipeline.StageInfo{StageName: stageName, StartTime: time.Now()}
	defer func() {
		s.telemetry.RecordMetric("stage.duration_seconds", info.DurationSecs, map[string]string{"stage": stageName, "state": string(info.State)})
	}()

	if !breaker.CanExecute() {
		info.State = pipeline.StageCircuitOpen
		info.EndTime = time.Now()
		s.transition(orchestration.EventStageStart, stageName, "")
		s.transition(orchestration.EventStageSkip, stageName, "circuit_open")
		return info, &core.FrameworkError{
			Op:      "Supervisor.ExecuteWithSupervision",
			Kind:    "circuit",
			ID:      stageName,
			Message: fmt.Sprintf("stage %q circuit is open", stageName),
			Err:     core.ErrCircuitOpen,
		}
	}

	s.push(map[string]interface{}{"stage": stageName})
	s.transition(orchestration.EventStageStart, stageName, "")

	var lastErr error
	for attempt := 0; ; attempt++ {
		attemptErr := s.runOnce(ctx, stage, pctx, policy.timeout())
		stats.TotalAttempts++

		if attemptErr == nil {
			breaker.RecordSuccess()
			stats.ConsecutiveFailures = 0
			stats.CircuitState = breaker.GetState()
			info.State = pipeline.StageCompleted
			info.EndTime = time.Now()
			info.DurationSecs = info.EndTime.Sub(info.StartTime).Seconds()
			info.RetryCount = attempt
			s.transition(orchestration.EventStageComplete, stageName, "")
			if breaker.GetState() == "closed" {
				s.transition(orchestration.EventCircuitClose, stageName, "")
			}
			s.pop()
			return info, nil
		}

		lastErr = attemptErr
		breaker.RecordFailure()
		stats.TotalFailures++
		stats.ConsecutiveFailures++
		stats.LastError = attemptErr.Error()
		stats.CircuitState = breaker.GetState()

		timedOut := attemptErr == context.DeadlineExceeded
		if timedOut {
			s.transition(orchestration.EventStageTimeout, stageName, attemptErr.Error())
		} else {
			s.transition(orchestration.EventStageFail, stageName, attemptErr.Error())
		}

		if breaker.GetState() == "open" {
			s.transition(orchestration.EventCircuitOpen, stageName, "failure threshold crossed")
			s.alertCircuitOpen(ctx, cardID, stageName)
			break
		}

		if attempt >= policy.MaxRetries || core.IsBudgetExceeded(attemptErr) {
			break
		}

		s.transition(orchestration.EventStageRetry, stageName, fmt.Sprintf("attempt %d failed, retrying", attempt+1))
		pctx.RecordRetry(stageName, pipeline.RetryHistoryEntry{Attempt: attempt + 1})

		select {
		case <-time.After(policy.retryDelay(attempt)):
		case <-ctx.Done():
			lastErr = ctx.Err()
			goto done
		}
	}

done:
	info.State = pipeline.StageFailed
	info.EndTime = time.Now()
	info.DurationSecs = info.EndTime.Sub(info.StartTime).Seconds()
	info.ErrorMessage = lastErr.Error()
	span.RecordError(lastErr)
	return info, lastErr
}

// runOnce executes stage once, bounded by timeout, mirroring the teacher's
// ExecuteWithTimeout goroutine-plus-select pattern: the stage body runs in
// a goroutine feeding a buffered channel, and a timed-out call leaves the
// goroutine to finish in the background - its result is simply discarded.
func (s *Supervisor) runOnce(ctx context.Context, stage pipeline.Stage, pctx *pipeline.Context, timeout time.Duration) error {
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("stage %q panicked: %v", stage.Name(), r)
			}
		}()
		done <- stage.Execute(stageCtx, pctx)
	}()

	select {
	case err := <-done:
		return err
	case <-stageCtx.Done():
		return context.DeadlineExceeded
	}
}

func (s *Supervisor) transition(event orchestration.Event, stageName, reason string) {
	if s.machine == nil {
		return
	}
	if _, err := s.machine.Transition(event, reason, map[string]interface{}{"stage": stageName}); err != nil {
		s.logger.Debug("supervisor transition rejected", map[string]interface{}{
			"stage": stageName,
			"event": string(event),
			"error": err.Error(),
		})
	}
}

// push saves a frame onto the state machine's PDA stack before a stage
// starts, so a recovery workflow that fails can unwind back to it via
// RollbackToState. A stage that completes successfully pops its own frame;
// one that fails leaves it for the recovery engine to roll back to.
func (s *Supervisor) push(ctxData map[string]interface{}) {
	if s.machine == nil {
		return
	}
	s.machine.Push(ctxData)
}

// pop discards the frame pushed for the stage that just completed.
func (s *Supervisor) pop() {
	if s.machine == nil {
		return
	}
	s.machine.Pop()
}

func (s *Supervisor) alertCircuitOpen(ctx context.Context, cardID, stageName string) {
	if s.messenger == nil {
		return
	}
	_ = s.messenger.Send(ctx, communication.Message{
		From:     "supervisor",
		To:       "all",
		Type:     communication.TypeAlert,
		CardID:   cardID,
		Priority: communication.PriorityHigh,
		Data: map[string]interface{}{
			"stage":  stageName,
			"reason": "circuit_open",
		},
	})
}

// OverallHealth classifies the supervisor's aggregated view across every
// stage it has tracked stats for.
type OverallHealth string

const (
	HealthOverallHealthy  OverallHealth = "healthy"
	HealthOverallDegraded OverallHealth = "degraded"
	HealthOverallFailing  OverallHealth = "failing"
	HealthOverallCritical OverallHealth = "critical"
)

// Health is the supervisor's full health snapshot: an aggregated
// classification plus the per-stage stats it was derived from.
type Health struct {
	Overall OverallHealth         `json:"overall"`
	Stages  map[string]StageStats `json:"stages"`
}

// HealthReport returns a snapshot of every stage's stats the supervisor
// has tracked so far, plus an overall classification derived from them:
// critical if any stage's circuit is open, failing if any stage has
// repeated consecutive failures, degraded if any stage has a single
// recent failure or a half-open circuit, healthy otherwise.
func (s *Supervisor) HealthReport() Health {
	stages := make(map[string]StageStats)
	s.stats.Range(func(key, value interface{}) bool {
		stages[key.(string)] = *value.(*StageStats)
		return true
	})
	return Health{Overall: classifyOverall(stages), Stages: stages}
}

func classifyOverall(stages map[string]StageStats) OverallHealth {
	overall := HealthOverallHealthy
	for _, st := range stages {
		switch {
		case st.CircuitState == "open":
			return HealthOverallCritical
		case st.ConsecutiveFailures >= 2:
			overall = HealthOverallFailing
		case (st.ConsecutiveFailures == 1 || st.CircuitState == "half-open") && overall == HealthOverallHealthy:
			overall = HealthOverallDegraded
		}
	}
	return overall
}

// ResetCircuit force-closes the named stage's circuit breaker, satisfying
// orchestration.CircuitResetter so the recovery engine's reset_circuit
// action can reach a real Supervisor.
func (s *Supervisor) ResetCircuit(stageName string) error {
	s.mu.Lock()
	cb, ok := s.breakers[stageName]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	cb.Reset()
	return nil
}

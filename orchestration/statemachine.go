// Package orchestration implements the pipeline's pushdown automaton state
// machine, its snapshot persistence, and the recovery workflow engine that
// reacts to stage failures.
package orchestration

import (
	"fmt"
	"sync"
	"time"

	"github.com/artemis-pipeline/artemis/core"
	"github.com/artemis-pipeline/artemis/pkg/pipeline"
)

// State is one node of the pipeline's pushdown automaton.
type State string

const (
	StateIdle          State = "IDLE"
	StateInitializing  State = "INITIALIZING"
	StateRunning       State = "RUNNING"
	StateStageRunning  State = "STAGE_RUNNING"
	StateStageFailed   State = "STAGE_FAILED"
	StateRecovering    State = "RECOVERING"
	StateDegraded      State = "DEGRADED"
	StatePaused        State = "PAUSED"
	StateRollingBack   State = "ROLLING_BACK"
	StateFailed        State = "FAILED"
	StateCompleted     State = "COMPLETED"
	StateAborted       State = "ABORTED"
)

// HealthState tracks pipeline health independent of its lifecycle state.
type HealthState string

const (
	HealthHealthy        HealthState = "HEALTHY"
	HealthDegradedHealth HealthState = "DEGRADED_HEALTH"
	HealthCritical       HealthState = "CRITICAL"
)

// Event drives transitions in the pushdown automaton.
type Event string

const (
	EventStart           Event = "START"
	EventComplete         Event = "COMPLETE"
	EventFail             Event = "FAIL"
	EventAbort            Event = "ABORT"
	EventPause            Event = "PAUSE"
	EventResume           Event = "RESUME"
	EventStageStart       Event = "STAGE_START"
	EventStageComplete    Event = "STAGE_COMPLETE"
	EventStageFail        Event = "STAGE_FAIL"
	EventStageRetry       Event = "STAGE_RETRY"
	EventStageSkip        Event = "STAGE_SKIP"
	EventStageTimeout     Event = "STAGE_TIMEOUT"
	EventRecoveryStart    Event = "RECOVERY_START"
	EventRecoverySuccess  Event = "RECOVERY_SUCCESS"
	EventRecoveryFail     Event = "RECOVERY_FAIL"
	EventRollbackStart    Event = "ROLLBACK_START"
	EventRollbackComplete Event = "ROLLBACK_COMPLETE"
	EventHealthDegraded   Event = "HEALTH_DEGRADED"
	EventHealthCritical   Event = "HEALTH_CRITICAL"
	EventHealthRecovered  Event = "HEALTH_RECOVERED"
	EventCircuitOpen      Event = "CIRCUIT_OPEN"
	EventCircuitClose     Event = "CIRCUIT_CLOSE"
)

// transitionKey pairs a source state and triggering event for table lookup.
type transitionKey struct {
	from  State
	event Event
}

// allowedTransitions is the fixed transition table. Every legal move in the
// pipeline's pushdown automaton is listed here; anything absent is
// rejected by Transition.
var allowedTransitions = map[transitionKey]State{
	{StateIdle, EventStart}: StateInitializing,

	{StateInitializing, EventComplete}: StateRunning,
	{StateInitializing, EventFail}:     StateFailed,
	{StateInitializing, EventAbort}:    StateAborted,

	{StateRunning, EventStageStart}: StateStageRunning,
	{StateRunning, EventPause}:      StatePaused,
	{StateRunning, EventComplete}:   StateCompleted,
	{StateRunning, EventAbort}:      StateAborted,
	{StateRunning, EventFail}:       StateFailed,

	{StateStageRunning, EventStageComplete}: StateRunning,
	{StateStageRunning, EventStageFail}:     StateStageFailed,
	{StateStageRunning, EventStageTimeout}:  StateStageFailed,
	{StateStageRunning, EventStageSkip}:     StateRunning,
	{StateStageRunning, EventCircuitOpen}:   StateDegraded,
	{StateStageRunning, EventAbort}:         StateAborted,

	{StateStageFailed, EventStageRetry}:    StateStageRunning,
	{StateStageFailed, EventRecoveryStart}: StateRecovering,
	{StateStageFailed, EventFail}:          StateFailed,
	{StateStageFailed, EventAbort}:         StateAborted,

	{StateRecovering, EventRecoverySuccess}: StateRunning,
	{StateRecovering, EventRecoveryFail}:    StateRollingBack,
	{StateRecovering, EventAbort}:           StateAborted,

	{StateDegraded, EventCircuitClose}:    StateRunning,
	{StateDegraded, EventRecoveryStart}:   StateRecovering,
	{StateDegraded, EventFail}:            StateFailed,
	{StateDegraded, EventAbort}:           StateAborted,

	{StatePaused, EventResume}: StateRunning,
	{StatePaused, EventAbort}:  StateAborted,

	{StateRollingBack, EventRollbackComplete}: StateFailed,
	{StateRollingBack, EventAbort}:            StateAborted,

	{StateFailed, EventRecoveryStart}: StateRecovering,
}

// terminalStates absorb every event: once reached, the machine accepts no
// further transitions.
var terminalStates = map[State]bool{
	StateCompleted: true,
	StateAborted:   true,
}

// Frame is one entry on the pushdown automaton's LIFO stack: a state paired
// with the context snapshot active when it was pushed. The supervisor
// pushes a frame before each stage and pops it when the stage completes;
// a failed stage's frame stays on the stack for RollbackToState. Pop only
// removes a frame and does not change the current state.
type Frame struct {
	State   State                  `json:"state"`
	Context map[string]interface{} `json:"context"`
}

// Machine is the pipeline's pushdown automaton: a current state plus a
// stack of frames, and the full transition history for the run.
type Machine struct {
	mu          sync.Mutex
	current     State
	health      HealthState
	stack       []Frame
	history     []pipeline.Transition
	cardID      string
}

// NewMachine creates a state machine starting in IDLE.
func NewMachine(cardID string) *Machine {
	return &Machine{
		current: StateIdle,
		health:  HealthHealthy,
		cardID:  cardID,
	}
}

// Current returns the machine's current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Health returns the machine's current health classification.
func (m *Machine) Health() HealthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.health
}

// IsTerminal reports whether the machine has reached an absorbing state.
func (m *Machine) IsTerminal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return terminalStates[m.current]
}

// Transition attempts to move the machine from its current state to the
// state reached by firing event, recording the move in history. Terminal
// states reject every event with ErrInvalidTransition.
func (m *Machine) Transition(event Event, reason string, ctxData map[string]interface{}) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if terminalStates[m.current] {
		return m.current, &core.FrameworkError{
			Op:      "Machine.Transition",
			Kind:    "state",
			ID:      m.cardID,
			Message: fmt.Sprintf("state %s is terminal, rejecting event %s", m.current, event),
			Err:     core.ErrInvalidTransition,
		}
	}

	next, ok := allowedTransitions[transitionKey{m.current, event}]
	if !ok {
		return m.current, &core.FrameworkError{
			Op:      "Machine.Transition",
			Kind:    "state",
			ID:      m.cardID,
			Message: fmt.Sprintf("no transition from %s on event %s", m.current, event),
			Err:     core.ErrInvalidTransition,
		}
	}

	m.history = append(m.history, pipeline.Transition{
		FromState: string(m.current),
		ToState:   string(next),
		Event:     string(event),
		Reason:    reason,
		Context:   ctxData,
		Timestamp: time.Now(),
	})
	m.current = next

	switch event {
	case EventHealthDegraded:
		m.health = HealthDegradedHealth
	case EventHealthCritical:
		m.health = HealthCritical
	case EventHealthRecovered:
		m.health = HealthHealthy
	}

	return m.current, nil
}

// Push saves the current state onto the LIFO stack along with a context
// snapshot. RollbackToState can later restore the current state from the
// frame; Pop only removes it.
func (m *Machine) Push(ctxData map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stack = append(m.stack, Frame{State: m.current, Context: ctxData})
}

// Pop removes and returns the top frame of the stack. The second return
// value is false if the stack was empty.
func (m *Machine) Pop() (Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.stack) == 0 {
		return Frame{}, false
	}
	top := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return top, true
}

// Peek returns the top frame without removing it.
func (m *Machine) Peek() (Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.stack) == 0 {
		return Frame{}, false
	}
	return m.stack[len(m.stack)-1], true
}

// RollbackToState pops frames in LIFO order until the top of the stack is
// in state s, leaving that matching frame in place so Peek still reports
// it after rollback. It restores the machine's current state to s and
// records a synthetic transition capturing the rollback for the audit
// trail. Returns ErrStackUnderflow if s is never found, leaving the stack
// fully unwound.
func (m *Machine) RollbackToState(s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.stack) > 0 {
		top := m.stack[len(m.stack)-1]
		if top.State == s {
			m.history = append(m.history, pipeline.Transition{
				FromState: string(m.current),
				ToState:   string(s),
				Event:     "ROLLBACK",
				Reason:    "rollback_to_state",
				Context:   top.Context,
				Timestamp: time.Now(),
			})
			m.current = s
			return nil
		}
		m.stack = m.stack[:len(m.stack)-1]
	}

	return &core.FrameworkError{
		Op:      "Machine.RollbackToState",
		Kind:    "state",
		ID:      m.cardID,
		Message: fmt.Sprintf("state %s not found on stack", s),
		Err:     core.ErrStackUnderflow,
	}
}

// History returns a copy of every transition recorded so far.
func (m *Machine) History() []pipeline.Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]pipeline.Transition, len(m.history))
	copy(out, m.history)
	return out
}

// StackDepth reports how many frames are currently pushed.
func (m *Machine) StackDepth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stack)
}

// Package workflow defines the analysis lifecycle of a session.
package workflow

import (
	"fmt"

	"github.com/felixgeelhaar/statekit"
)

// State constants double as statekit.StateID values.
const (
	StateIdle      = "idle"
	StateAnalyzing = "analyzing"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
)

const (
	EventRun     = "run"
	EventSucceed = "succeed"
	EventFail    = "fail"
	EventReset   = "reset"
)

// RunContext carries the guard input for the run event.
type RunContext struct {
	HasImages func() bool
}

// Machine wraps a statekit interpreter for one session.
type Machine struct {
	interpreter *statekit.Interpreter[RunContext]
}

// New builds a machine starting in idle. hasImages guards the run event.
func New(hasImages func() bool) (*Machine, error) {
	if hasImages == nil {
		hasImages = func() bool { return true }
	}

	builder := statekit.NewMachine[RunContext]("analysis-workflow").
		WithInitial(statekit.StateID(StateIdle)).
		WithContext(RunContext{HasImages: hasImages}).
		WithGuard("hasImages", func(ctx RunContext, e statekit.Event) bool {
			return ctx.HasImages()
		})

	builder.State(StateIdle).
		On(EventRun).Target(StateAnalyzing).Guard("hasImages").
		Done()

	builder.State(StateAnalyzing).
		On(EventSucceed).Target(StateSucceeded).
		On(EventFail).Target(StateFailed).
		On(EventReset).Target(StateIdle).
		Done()

	builder.State(StateSucceeded).
		On(EventRun).Target(StateAnalyzing).Guard("hasImages").
		On(EventReset).Target(StateIdle).
		Done()

	builder.State(StateFailed).
		On(EventRun).Target(StateAnalyzing).Guard("hasImages").
		On(EventReset).Target(StateIdle).
		Done()

	machine, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build state machine: %w", err)
	}

	interpreter := statekit.NewInterpreter(machine)
	interpreter.Start()

	return &Machine{interpreter: interpreter}, nil
}

// Fire sends event and reports an error when the machine did not move.
// Reset from idle is accepted as a no-op.
func (m *Machine) Fire(event string) error {
	before := m.Current()
	m.interpreter.Send(statekit.Event{Type: statekit.EventType(event)})
	after := m.Current()

	if before != after || (event == EventReset && after == StateIdle) {
		return nil
	}
	return fmt.Errorf("event %q not allowed in state %q", event, before)
}

func (m *Machine) Current() string {
	return string(m.interpreter.State().Value)
}

func (m *Machine) Is(state string) bool {
	return m.Current() == state
}

package executor

import "fmt"

// State is the lifecycle state of one plan run.
type State int

const (
	StateIdle State = iota
	StatePlanning
	StateExecuting
	StateRecovering
	StateSynthesizing
	StateCompleted
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StatePlanning:
		return "PLANNING"
	case StateExecuting:
		return "EXECUTING"
	case StateRecovering:
		return "RECOVERING"
	case StateSynthesizing:
		return "SYNTHESIZING"
	case StateCompleted:
		return "COMPLETED"
	case StateError:
		return "ERROR"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type EventKind int

const (
	EvStart EventKind = iota
	EvPlanReady
	EvStepSucceeded
	EvStepFailed
	EvRecoverContinue
	EvRecoverAbort
	EvSynthesize
	EvSynthesized
)

func (k EventKind) String() string {
	return [...]string{
		"start", "plan-ready", "step-succeeded", "step-failed",
		"recover-continue", "recover-abort", "synthesize", "synthesized",
	}[k]
}

// Event drives the machine. Steps is only read by EvPlanReady.
type Event struct {
	Kind  EventKind
	Steps int
}

type EffectKind int

const (
	EffNone EffectKind = iota
	EffPlan
	EffExecuteStep
	EffRecover
	EffSynthesize
)

// Effect is the side effect the caller performs after a transition. Step is
// the 1-based step index for EffExecuteStep and EffRecover.
type Effect struct {
	Kind EffectKind
	Step int
}

// Machine is the value-typed run state. EXECUTING(i) and RECOVERING(i) carry
// the current step in Step.
type Machine struct {
	State   State
	Step    int
	Total   int
	Aborted bool
	// Done is set once synthesis has finished; ERROR with Done is terminal.
	Done bool
}

// Terminal reports whether no further events are accepted.
func (m Machine) Terminal() bool {
	return m.State == StateCompleted || (m.State == StateError && m.Done)
}

func (m Machine) String() string {
	switch m.State {
	case StateExecuting, StateRecovering:
		return fmt.Sprintf("%s(%d/%d)", m.State, m.Step, m.Total)
	}
	return m.State.String()
}

// Transition is the pure transition function of a plan run.
func Transition(m Machine, ev Event) (Machine, Effect, error) {
	illegal := func() (Machine, Effect, error) {
		return m, Effect{}, fmt.Errorf("illegal transition: %s on %s", m, ev.Kind)
	}

	switch m.State {
	case StateIdle:
		if ev.Kind == EvStart {
			m.State = StatePlanning
			return m, Effect{Kind: EffPlan}, nil
		}

	case StatePlanning:
		if ev.Kind == EvPlanReady {
			if ev.Steps < 1 {
				return m, Effect{}, fmt.Errorf("illegal transition: plan with %d steps", ev.Steps)
			}
			m.State, m.Step, m.Total = StateExecuting, 1, ev.Steps
			return m, Effect{Kind: EffExecuteStep, Step: 1}, nil
		}

	case StateExecuting:
		switch ev.Kind {
		case EvStepSucceeded:
			return advance(m)
		case EvStepFailed:
			m.State = StateRecovering
			return m, Effect{Kind: EffRecover, Step: m.Step}, nil
		}

	case StateRecovering:
		switch ev.Kind {
		case EvRecoverContinue:
			return advance(m)
		case EvRecoverAbort:
			m.State, m.Aborted = StateError, true
			return m, Effect{Kind: EffNone}, nil
		}

	case StateError:
		if ev.Kind == EvSynthesize && !m.Done {
			m.State = StateSynthesizing
			return m, Effect{Kind: EffSynthesize}, nil
		}

	case StateSynthesizing:
		if ev.Kind == EvSynthesized {
			m.Done = true
			if m.Aborted {
				m.State = StateError
			} else {
				m.State = StateCompleted
			}
			return m, Effect{Kind: EffNone}, nil
		}
	}
	return illegal()
}

// advance moves past the current step.
func advance(m Machine) (Machine, Effect, error) {
	if m.Step < m.Total {
		m.State = StateExecuting
		m.Step++
		return m, Effect{Kind: EffExecuteStep, Step: m.Step}, nil
	}
	m.State = StateSynthesizing
	return m, Effect{Kind: EffSynthesize}, nil
}

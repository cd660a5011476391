package strategy

import "sync"

type State string

type Event string

const (
	StateNoPosition State = "NO_POSITION"
	StateEntered    State = "ENTERED"
	StateHedged     State = "HEDGED"
)

const (
	EventEnter Event = "ENTER"
	EventHedge Event = "HEDGE"
	EventClear Event = "CLEAR"
)

// StateMachine tracks one asset's position lifecycle. HEDGED only leaves
// through CLEAR.
type StateMachine struct {
	mu    sync.Mutex
	state State
}

func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateNoPosition}
}

func (s *StateMachine) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *StateMachine) Apply(event Event) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nextState(s.state, event)
	return s.state
}

func (s *StateMachine) SetState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func nextState(current State, event Event) State {
	if event == EventClear {
		return StateNoPosition
	}
	switch current {
	case StateNoPosition:
		if event == EventEnter {
			return StateEntered
		}
	case StateEntered:
		if event == EventHedge {
			return StateHedged
		}
	}
	return current
}

package sourcing

import (
	"github.com/cockroachdb/errors"
)

// State is a step of the item state machine.
type State string

// Item states in pipeline order, plus the two side exits.
const (
	StatePending    State = "pending"
	StateValidating State = "validating"
	StateScraping   State = "scraping"
	StateMerging    State = "merging"
	StateEnriching  State = "enriching"
	StateScoring    State = "scoring"
	StateComplete   State = "complete"
	StateFailed     State = "failed"
	StateSkipped    State = "skipped"
)

var transitions = map[State][]State{
	StatePending:    {StateValidating, StateSkipped},
	StateValidating: {StateScraping},
	StateScraping:   {StateMerging},
	StateMerging:    {StateEnriching},
	StateEnriching:  {StateScoring},
	StateScoring:    {StateComplete},
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed || s == StateSkipped
}

// CanTransition reports whether from → to is a legal move. Failed is reachable
// from every non-terminal state.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Machine tracks one item's position in the state machine.
type Machine struct {
	state   State
	history []State
}

// NewMachine returns a machine in the Pending state.
func NewMachine() *Machine {
	return &Machine{state: StatePending, history: []State{StatePending}}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// History returns every state visited, in order.
func (m *Machine) History() []State {
	return append([]State(nil), m.history...)
}

// To moves the machine to next or returns an assertion failure.
func (m *Machine) To(next State) error {
	if !CanTransition(m.state, next) {
		return errors.AssertionFailedf("illegal item transition %s -> %s", m.state, next)
	}
	m.state = next
	m.history = append(m.history, next)
	return nil
}

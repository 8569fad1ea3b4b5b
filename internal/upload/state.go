package upload

import "fmt"

// State is the lifecycle position of one file transfer.
type State string

// Transfer states.
const (
	StateQueued    State = "queued"
	StateUploading State = "uploading"
	StatePaused    State = "paused-resumable"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

var transitions = map[State][]State{
	StateQueued:    {StateUploading, StatePaused, StateFailed, StateCancelled, StateSucceeded},
	StatePaused:    {StateUploading, StateFailed, StateCancelled},
	StateUploading: {StateSucceeded, StateFailed, StateCancelled},
}

// CanTransitionTo reports whether s may move to next.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// IsActive reports whether the transfer still blocks sending.
func (s State) IsActive() bool {
	return !s.IsTerminal()
}

func (s State) transition(next State) (State, error) {
	if !s.CanTransitionTo(next) {
		return s, fmt.Errorf("%s -> %s: %w", s, next, ErrInvalidTransition)
	}
	return next, nil
}

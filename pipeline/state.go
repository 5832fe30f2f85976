package pipeline

import "fmt"

// State is the progress of a run.
type State int

const (
	Start State = iota
	InputResolved
	Aligned
	Filtered
	Converted
	Finalized
	Aborted
)

var stateNames = [...]string{"START", "INPUT_RESOLVED", "ALIGNED", "FILTERED", "CONVERTED", "FINALIZED", "ABORTED"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// IsTerminal reports whether the run has finished.
func IsTerminal(s State) bool {
	return s == Finalized || s == Aborted
}

// transition validates a move between states. Stages only advance one step
// at a time; any non-terminal state may abort.
func transition(from, to State) error {
	if IsTerminal(from) {
		return fmt.Errorf("invalid transition %s -> %s: run already finished", from, to)
	}
	if to == Aborted || to == from+1 {
		return nil
	}
	return fmt.Errorf("invalid transition %s -> %s", from, to)
}

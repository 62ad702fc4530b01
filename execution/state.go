package execution

import "fmt"

// State is the lifecycle state of an Execution.
type State int

const (
	Created State = iota
	Running
	Completed
	TimedOut
	Interrupted
	Failed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case Interrupted:
		return "interrupted"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	return s >= Completed
}

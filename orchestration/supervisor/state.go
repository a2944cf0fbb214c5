package supervisor

// State is the lifecycle position of a Supervisor. Transitions only move
// forward: NotStarted → Starting → StartFailed, or
// NotStarted → Starting → Running → Exited.
type State int32

const (
	NotStarted State = iota
	Starting
	StartFailed
	Running
	Exited
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Starting:
		return "starting"
	case StartFailed:
		return "start-failed"
	case Running:
		return "running"
	case Exited:
		return "exited"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StartFailed || s == Exited
}

package sched

// Error is a recoverable scheduler error. Conditions that would desynchronize
// scheduler state are not errors; they halt the system.
type Error uint8

const (
	ErrInvalidArgument Error = iota + 1
	ErrNoHandles
	ErrNoEntry
	ErrInterrupted
	ErrTimedOut
)

func (e Error) String() string {
	switch e {
	case ErrInvalidArgument:
		return "invalid argument"
	case ErrNoHandles:
		return "thread table full"
	case ErrNoEntry:
		return "no such thread"
	case ErrInterrupted:
		return "interrupted"
	case ErrTimedOut:
		return "timed out"
	default:
		return "unknown"
	}
}

func (e Error) Error() string { return "sched: " + e.String() }

// Fatal describes an unrecoverable scheduler condition.
type Fatal struct {
	Reason string
	Thread ThreadID
	Name   string
}

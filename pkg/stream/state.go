package stream

import "sync/atomic"

// State is a session's lifecycle position
type State int32

const (
	StateIdle State = iota
	StateActive
	StateCompleted
	StateAborted
	StateFailed
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// GetDisplayName returns a human-readable name for the state
func (s State) GetDisplayName() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateActive:
		return "Receiving"
	case StateCompleted:
		return "Done"
	case StateAborted:
		return "Stopped"
	case StateFailed:
		return "Failed"
	default:
		return ""
	}
}

// IsTerminal reports whether no further callbacks can follow
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateAborted || s == StateFailed
}

// InFlight is the single-in-flight flag for one conversation. It is owned by whoever
// manages the conversation and handed to Start; the zero value is ready to use.
type InFlight struct {
	active atomic.Bool
}

// TryAcquire sets the flag if it is clear
func (f *InFlight) TryAcquire() bool {
	return f.active.CompareAndSwap(false, true)
}

// Release clears the flag. Releasing a clear flag is a no-op.
func (f *InFlight) Release() {
	f.active.Store(false)
}

// Active reports whether a session currently holds the flag
func (f *InFlight) Active() bool {
	return f.active.Load()
}

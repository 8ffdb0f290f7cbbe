package reconcile

import (
	"time"

	"moviebox/internal/api"
)

type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateSynced
	StateError
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateSynced:
		return "synced"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Status is a point-in-time view of a reconciler.
type Status struct {
	State  State
	UserID string

	// Set while State is StateError.
	ErrorKind api.ErrorKind
	Err       error

	LastSynced time.Time

	// Last background mutation failure. Informational only; it never
	// changes State.
	LastMutationError error

	PendingAdds    int
	PendingRemoves int
}

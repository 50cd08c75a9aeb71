package engine

import "fmt"

// Op identifies which tool operation produced a Result.
type Op string

const (
	OpRun   Op = "run"
	OpStart Op = "start"
	OpStop  Op = "stop"
)

// Kind classifies a Result. Everything except image provisioning is absorbed
// at the operation boundary and rendered as text for the caller; the kind is
// kept so programmatic callers don't have to parse messages.
type Kind int

const (
	// KindOK is a successful operation.
	KindOK Kind = iota
	// KindInvalidInput is a precondition failure (e.g. empty argv).
	KindInvalidInput
	// KindExecutionFailure is a nonzero exit or runtime error, recovered
	// locally.
	KindExecutionFailure
	// KindStartupUnconfirmed means a service never reached running within
	// the retry budget. The container has been cleaned up.
	KindStartupUnconfirmed
	// KindStopIncomplete means a service did not reach exited after the
	// configured checks. The container has NOT been removed and may still
	// be running — a documented resource-leak risk.
	KindStopIncomplete
)

// Result is the outcome of a tool operation. It is structured internally and
// stringified only at the boundary exposed to the caller.
type Result struct {
	Op          Op
	Kind        Kind
	Output      string // captured command output (OpRun success)
	ContainerID string
	Retries     int
	Err         error
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool {
	return r.Kind == KindOK
}

// Message renders the caller-facing string. This is the soft-fail contract:
// every operation yields text, never an unrecovered fault.
func (r Result) Message() string {
	switch r.Op {
	case OpRun:
		if r.Kind == KindOK {
			return r.Output
		}
		return fmt.Sprintf("Failed to run command: %v", r.Err)
	case OpStart:
		switch r.Kind {
		case KindOK:
			return fmt.Sprintf("Service started successfully with container ID: %s", r.ContainerID)
		case KindStartupUnconfirmed:
			return fmt.Sprintf("Failed to start background service after %d retries", r.Retries)
		default:
			return fmt.Sprintf("Failed to start background service: %v", r.Err)
		}
	case OpStop:
		switch r.Kind {
		case KindOK:
			return fmt.Sprintf("Service stopped and container removed with ID: %s", r.ContainerID)
		case KindStopIncomplete:
			return fmt.Sprintf("Failed to stop background service with container ID: %s", r.ContainerID)
		default:
			return fmt.Sprintf("Failed to stop background service: %v", r.Err)
		}
	}
	if r.Err != nil {
		return r.Err.Error()
	}
	return r.Output
}

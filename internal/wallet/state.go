package wallet

import "fmt"

// State is a position in the wallet protocol lifecycle.
type State int

const (
	Created State = iota
	Connecting
	Connected
	RequestingMediation
	Mediated
	PickingUp
	Completed
	Failed
)

var stateNames = [...]string{
	Created:             "created",
	Connecting:          "connecting",
	Connected:           "connected",
	RequestingMediation: "requesting_mediation",
	Mediated:            "mediated",
	PickingUp:           "picking_up",
	Completed:           "completed",
	Failed:              "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == Completed || s == Failed
}

// Failed is reachable from every non-terminal state and is not listed here.
var transitions = map[State][]State{
	Created:             {Connecting},
	Connecting:          {Connected},
	Connected:           {RequestingMediation},
	RequestingMediation: {Mediated},
	Mediated:            {PickingUp},
	PickingUp:           {Completed},
}

// CanTransition reports whether the machine may move from one state to another.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == Failed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Stage is one discrete step of the protocol with its own timeout and metrics.
type Stage string

const (
	StageConnection Stage = "connection"
	StageMediation  Stage = "mediation"
	StagePickup     Stage = "pickup"
)

// Stages lists the stages in execution order.
var Stages = []Stage{StageConnection, StageMediation, StagePickup}

// Metric returns the metric name for this stage, e.g. "connection.duration".
func (s Stage) Metric(suffix string) string {
	return string(s) + "." + suffix
}

// Fatal reports whether exhausting this stage's retries fails the whole run.
func (s Stage) Fatal() bool {
	return s != StagePickup
}

// ErrorKind classifies why a stage or run failed.
type ErrorKind string

const (
	ConnectionTimeout  ErrorKind = "ConnectionTimeout"
	ConnectionError    ErrorKind = "ConnectionError"
	MediationTimeout   ErrorKind = "MediationTimeout"
	MediationError     ErrorKind = "MediationError"
	PickupTimeout      ErrorKind = "PickupTimeout"
	PickupError        ErrorKind = "PickupError"
	ConfigurationError ErrorKind = "ConfigurationError"
	SchedulingOverload ErrorKind = "SchedulingOverload"
)

// Metric returns the counter name used to count occurrences of the kind.
func (k ErrorKind) Metric() string {
	return "error." + string(k)
}

func (s Stage) errorKind(timedOut bool) ErrorKind {
	switch s {
	case StageConnection:
		if timedOut {
			return ConnectionTimeout
		}
		return ConnectionError
	case StageMediation:
		if timedOut {
			return MediationTimeout
		}
		return MediationError
	default:
		if timedOut {
			return PickupTimeout
		}
		return PickupError
	}
}

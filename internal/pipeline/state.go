package pipeline

// Role is the part a participant plays in the pipeline.
type Role int

const (
	RoleIdle Role = iota
	RoleProducer
	RoleConsumer
)

// String returns the string representation of the role
func (r Role) String() string {
	switch r {
	case RoleIdle:
		return "idle"
	case RoleProducer:
		return "producer"
	case RoleConsumer:
		return "consumer"
	default:
		return "unknown"
	}
}

// MarshalText renders the role by name in JSON and logs.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// State is a driver's position in its state machine.
type State int32

const (
	StateIdle State = iota
	StateGating
	StateFilling
	StateSending
	StateThrottling
	StateDraining
	StateReceiving
	StateWaiting
	StateConsuming
	StateDone
	StateFailed
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGating:
		return "gating"
	case StateFilling:
		return "filling"
	case StateSending:
		return "sending"
	case StateThrottling:
		return "throttling"
	case StateDraining:
		return "draining"
	case StateReceiving:
		return "receiving"
	case StateWaiting:
		return "waiting"
	case StateConsuming:
		return "consuming"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// AwaitKind labels the suspension points of the drivers.
type AwaitKind string

const (
	AwaitGate    AwaitKind = "gate"
	AwaitReceive AwaitKind = "receive"
	AwaitDrain   AwaitKind = "drain"
)

package rotation

import "time"

// State is the rotation state machine position.
type State int

const (
	// StateIdle means no rotation is in progress.
	StateIdle State = iota
	// StateRotating means attempts are in progress.
	StateRotating
	// StateVerified means the last rotation changed the address.
	StateVerified
	// StateExhausted means the last rotation ran out of attempts.
	StateExhausted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRotating:
		return "rotating"
	case StateVerified:
		return "verified"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Mode is the rotation enforcement level.
type Mode int

const (
	// ModeOff accepts the first attempt without comparing addresses.
	ModeOff Mode = iota
	// ModeAdvisory verifies, and only warns when verification fails.
	ModeAdvisory
	// ModeStrict verifies, and fails when verification fails.
	ModeStrict
)

// ModeFromFlags maps the enforceRotation and strictRotation settings to a Mode.
func ModeFromFlags(enforce, strict bool) Mode {
	switch {
	case strict:
		return ModeStrict
	case enforce:
		return ModeAdvisory
	default:
		return ModeOff
	}
}

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeAdvisory:
		return "advisory"
	case ModeStrict:
		return "strict"
	default:
		return "unknown"
	}
}

// Session is the identity observed during this process. It is never
// persisted.
type Session struct {
	// Address is the last verified external address. It is authoritative
	// only right after a successful probe.
	Address string

	// RequestsSinceRotation counts crawl requests since the last verified
	// rotation.
	RequestsSinceRotation int

	// Rotations counts verified rotations.
	Rotations int

	// Exhaustions counts rotations that ran out of attempts.
	Exhaustions int

	// LastRotation is when the last verified rotation finished.
	LastRotation time.Time

	// State is the current state machine position.
	State State
}

// Outcome describes one rotation.
type Outcome struct {
	State    State
	Attempts int

	// Previous is the address before the rotation and Address the one
	// after. They are equal when the rotation was exhausted.
	Previous string
	Address  string

	// LastErr is the error of the last failed attempt, if any.
	LastErr error
}

package rotation

import "errors"

var (
	// ErrRotationExhausted is returned when every rotation attempt left the
	// external address unchanged under strict enforcement, or when the last
	// attempt failed on the control channel or the probe.
	ErrRotationExhausted = errors.New("identity rotation exhausted")

	// ErrTorNotRunning is returned by SelfTest when the Tor check page does
	// not confirm that traffic goes through Tor.
	ErrTorNotRunning = errors.New("tor is not running or traffic is not routed through it")

	// ErrRotationNonFunctional is returned by SelfTest under strict
	// enforcement when every probed address was identical.
	ErrRotationNonFunctional = errors.New("identity rotation appears non-functional")
)

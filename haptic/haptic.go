// Package haptic defines the actuator surface the control loop drives: five
// finger channels per hand, each with amplitude and resonant-frequency
// control. Hardware backends live under drivers/; Sim is the host backend.
package haptic

// Driver is one hand's worth of actuator channels.
type Driver interface {
	// Activate drives a finger at the given amplitude percent (0-100).
	Activate(finger int, amplitudePct int) error
	// Deactivate releases one finger.
	Deactivate(finger int) error
	// SetFrequency retunes one finger's drive frequency in Hz.
	SetFrequency(finger int, hz int) error
	// Enabled reports whether the channel is present and healthy.
	Enabled(finger int) bool
	// StopAll releases every finger unconditionally. Must not fail partway:
	// every channel gets its release attempt even when earlier ones error.
	StopAll()
}

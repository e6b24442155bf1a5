// Package gpio provides GPIO line access with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementations allow testing without hardware.
package gpio

// Input reads a single GPIO input line.
type Input interface {
	// Value returns the logical level of the line (true = high).
	Value() (bool, error)

	// Close releases the line.
	Close() error
}

// Output drives a single GPIO output line.
type Output interface {
	// Set drives the line to the given level (true = high).
	Set(level bool) error

	// Close releases the line.
	Close() error
}

// Default line offsets (BCM numbering). These match the controller board
// wiring; override via config for other layouts.
const (
	DefaultPinWatchdog  = 4  // toggled while the relay is on
	DefaultPinPower     = 17 // relay enable
	DefaultPinGfiStatus = 22 // input, high = GFI set
	DefaultPinRelayTest = 23 // input, mirrors contactor state
	DefaultPinGfiTest   = 24 // toggled at 60 Hz during the GFI self-test
	DefaultPinGfiReset  = 27 // pulsed high to clear the GFI
)

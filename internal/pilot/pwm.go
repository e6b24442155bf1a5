package pilot

// PWM abstracts the hardware PWM channel behind the pilot. The real
// implementation writes the Linux sysfs pwmchip files; the fake records
// writes for tests.
type PWM interface {
	// SetPeriod programs the PWM period in nanoseconds.
	SetPeriod(periodNs int) error

	// SetHighNanos programs the per-period high time in nanoseconds.
	SetHighNanos(highNs int) error

	// Enable turns the PWM output on or off.
	Enable(on bool) error

	// Close releases the channel.
	Close() error
}

package pilot

import "fmt"

const (
	// PeriodNanos is the fixed 1 kHz pilot period.
	PeriodNanos = 1_000_000

	// nanosPerPercent converts a duty percentage to high time.
	nanosPerPercent = PeriodNanos / 100

	// forcedHighNanos is 101% of the period: the hardware convention for
	// pinning the pilot at a constant +12 V.
	forcedHighNanos = 101 * nanosPerPercent
)

// Driver owns the pilot PWM channel. It is the only writer of the duty
// command; the state machine decides, the driver programs.
//
// A failed hardware write is returned unretried: per the safety design a
// pilot that cannot be programmed means the whole controller must stop.
type Driver struct {
	pwm  PWM
	last DutyCommand
	set  bool
}

// NewDriver programs the fixed 1 kHz period, forces the pilot high (the
// standby level) and enables the output.
func NewDriver(pwm PWM) (*Driver, error) {
	d := &Driver{pwm: pwm}
	if err := pwm.SetPeriod(PeriodNanos); err != nil {
		return nil, fmt.Errorf("program pilot period: %w", err)
	}
	if err := d.SetDuty(ForcedHigh()); err != nil {
		return nil, err
	}
	if err := pwm.Enable(true); err != nil {
		return nil, fmt.Errorf("enable pilot output: %w", err)
	}
	return d, nil
}

// SetDuty programs the commanded duty. Idempotent: re-commanding the current
// duty is a no-op. The new waveform takes effect at the next period boundary.
func (d *Driver) SetDuty(cmd DutyCommand) error {
	if d.set && cmd == d.last {
		return nil
	}

	var highNs int
	switch cmd.Kind {
	case DutyForcedHigh:
		highNs = forcedHighNanos
	case DutyForcedLow:
		highNs = 0
	case DutyOscillating:
		if cmd.Percent < 0 || cmd.Percent > 100 {
			return fmt.Errorf("duty percent %.1f out of range", cmd.Percent)
		}
		highNs = int(cmd.Percent * nanosPerPercent)
	default:
		return fmt.Errorf("unknown duty kind %d", cmd.Kind)
	}

	if err := d.pwm.SetHighNanos(highNs); err != nil {
		return fmt.Errorf("program pilot duty %s: %w", cmd, err)
	}
	d.last = cmd
	d.set = true
	return nil
}

// Current returns the last successfully programmed command.
func (d *Driver) Current() DutyCommand {
	return d.last
}

// Close releases the PWM channel.
func (d *Driver) Close() error {
	return d.pwm.Close()
}

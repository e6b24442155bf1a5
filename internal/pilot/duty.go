package pilot

import "fmt"

// DutyKind distinguishes an oscillating pilot from the forced override
// levels. Override and oscillation are deliberately separate variants, not
// magic percentages, so 0% oscillation can never be confused with forced low.
type DutyKind int

const (
	// DutyOscillating outputs a square wave at Percent duty.
	DutyOscillating DutyKind = iota
	// DutyForcedHigh pins the pilot at a constant +12 V (the 101% convention).
	DutyForcedHigh
	// DutyForcedLow pins the pilot at a constant -12 V (the 0% convention).
	DutyForcedLow
)

// DutyCommand is the commanded pilot output. Percent is meaningful only when
// Kind is DutyOscillating.
type DutyCommand struct {
	Kind    DutyKind
	Percent float64
}

// Oscillating returns a command for a square wave at the given duty cycle.
func Oscillating(percent float64) DutyCommand {
	return DutyCommand{Kind: DutyOscillating, Percent: percent}
}

// ForcedHigh returns the constant +12 V command.
func ForcedHigh() DutyCommand {
	return DutyCommand{Kind: DutyForcedHigh}
}

// ForcedLow returns the constant -12 V command.
func ForcedLow() DutyCommand {
	return DutyCommand{Kind: DutyForcedLow}
}

// IsOscillating reports whether the command produces a square wave.
func (c DutyCommand) IsOscillating() bool {
	return c.Kind == DutyOscillating
}

func (c DutyCommand) String() string {
	switch c.Kind {
	case DutyForcedHigh:
		return "FORCED_HIGH"
	case DutyForcedLow:
		return "FORCED_LOW"
	default:
		return fmt.Sprintf("OSC_%.1f%%", c.Percent)
	}
}

// DutyForAmps converts an advertised current into a pilot duty cycle
// percentage: amps = duty% * 0.6 per J1772 for the 6-51 A range.
func DutyForAmps(amps float64) float64 {
	return amps / 0.6
}

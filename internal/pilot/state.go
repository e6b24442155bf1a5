// Package pilot generates the J1772 control-pilot waveform and interprets
// the pilot feedback voltage. The pilot is a 1 kHz square wave between +12 V
// and -12 V; its duty cycle advertises available current and its high level,
// pulled down by resistors in the vehicle, reports the vehicle state.
package pilot

// State is the vehicle state derived from the high extreme of the pilot
// feedback voltage.
type State string

const (
	StateA       State = "A" // +12 V: no vehicle
	StateB       State = "B" // +9 V: vehicle detected
	StateC       State = "C" // +6 V: ready, charging
	StateD       State = "D" // +3 V: charging, ventilation required
	StateE       State = "E" // 0 V: no power / shutoff
	StateF       State = "F" // -12 V: error
	StateUnknown State = "UNKNOWN"
)

// stateVolts maps each state to its nominal pilot high voltage.
var stateVolts = []struct {
	state State
	volts float64
}{
	{StateA, 12.0},
	{StateB, 9.0},
	{StateC, 6.0},
	{StateD, 3.0},
	{StateE, 0.0},
	{StateF, -12.0},
}

// StateTolerance is the half-width of each state's voltage band, per the
// J1772 pilot table (±1 V).
const StateTolerance = 1.0

// Classify maps a pilot high-extreme voltage to a vehicle state. A voltage
// outside every band classifies as Unknown.
func Classify(highVolts float64) State {
	for _, sv := range stateVolts {
		d := highVolts - sv.volts
		if d >= -StateTolerance && d <= StateTolerance {
			return sv.state
		}
	}
	return StateUnknown
}

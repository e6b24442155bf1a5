package pilot

import (
	"fmt"

	"github.com/dkronst/juiced/internal/adc"
)

// Two-point ADC calibration for the pilot feedback divider. The feedback
// network maps the -12..+12 V pilot into the ADC's input range; these codes
// were measured against a bench supply.
const (
	calCodeNeg12 = 184
	calCodePos12 = 932
)

// voltsPerCode is the slope of the calibration line: 24 V across 748 codes.
const voltsPerCode = 24.0 / (calCodePos12 - calCodeNeg12)

// Volts converts a raw pilot-feedback code to pilot volts.
func Volts(code uint16) float64 {
	return (float64(code)-calCodeNeg12)*voltsPerCode - 12.0
}

// WindowSize is the number of consecutive ADC reads per sample window. At
// 1 kHz pilot and the ADC's sample rate this spans multiple pilot periods,
// so both extremes of the square wave are captured.
const WindowSize = 500

// diodeTolerance is the acceptance band around -12 V for the low extreme of
// an oscillating pilot. Wider than the state bands: a window can straddle a
// duty-cycle edge, but a missing diode flatlines the low extreme near 0 V.
const diodeTolerance = 2.0

// Window is one sample window over the pilot feedback channel.
type Window struct {
	LowVolts  float64
	HighVolts float64
}

// State classifies the window's high extreme.
func (w Window) State() State {
	return Classify(w.HighVolts)
}

// DiodeOK reports whether the low extreme shows the -12 V swing that the
// vehicle's diode produces while the pilot oscillates. Only meaningful when
// the commanded duty is oscillating.
func (w Window) DiodeOK() bool {
	d := w.LowVolts - (-12.0)
	return d >= -diodeTolerance && d <= diodeTolerance
}

// Sampler derives vehicle state from the pilot feedback channel.
type Sampler struct {
	conv   adc.Converter
	window int
}

// NewSampler creates a Sampler reading from the given converter.
func NewSampler(conv adc.Converter) *Sampler {
	return &Sampler{conv: conv, window: WindowSize}
}

// Sample reads one full window and returns the voltage extremes.
func (s *Sampler) Sample() (Window, error) {
	var low, high float64
	for i := 0; i < s.window; i++ {
		code, err := s.conv.Read(adc.ChannelPilot)
		if err != nil {
			return Window{}, fmt.Errorf("pilot sample %d: %w", i, err)
		}
		v := Volts(code)
		if i == 0 || v < low {
			low = v
		}
		if i == 0 || v > high {
			high = v
		}
	}
	return Window{LowVolts: low, HighVolts: high}, nil
}

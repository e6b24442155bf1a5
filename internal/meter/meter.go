// Package meter computes RMS current and peak AC voltage from the ADC's
// sense channels. Measurements are monitoring only: they feed telemetry and
// the status page, never the power-control path, and a failed measurement is
// reported stale rather than treated as a fault.
package meter

import (
	"errors"
	"fmt"
	"math"

	"github.com/dkronst/juiced/internal/adc"
)

// zeroCode is the ADC code at zero current / zero volts: the sense networks
// bias their AC signals to mid-scale.
const zeroCode = 512

// Sense-network calibration.
const (
	// ampsPerCode converts a current-sense code offset to amps: 3.3 V
	// across 1024 codes through a 66 mV/A hall sensor.
	ampsPerCode = 3.3 / 1024 / 0.066

	// voltsPerCode converts a voltage-sense code offset to mains volts,
	// set by the sense divider ratio.
	voltsPerCode = 0.36
)

// Sampling budgets. The current budget covers several 50/60 Hz cycles at the
// ADC's sample rate; running past it means there is no AC on the channel.
const (
	currentBudget = 2000
	voltageWindow = 400
)

// Measurement is one reading of the power channels. Valid is false when the
// reading is stale (the previous good values are carried instead).
type Measurement struct {
	RMSCurrentAmps   float64
	PeakVoltageVolts float64
	Valid            bool
}

// ErrNoZeroCrossing is returned when the current channel shows no AC signal
// within the sample budget.
var ErrNoZeroCrossing = errors.New("no zero crossing on current channel")

// Meter reads the current and voltage sense channels.
type Meter struct {
	conv adc.Converter
	last Measurement
}

// New creates a Meter reading from the given converter.
func New(conv adc.Converter) *Meter {
	return &Meter{conv: conv}
}

// Measure reads both channels and returns a fresh Measurement. On failure it
// returns the previous measurement marked stale, plus the error for logging.
func (m *Meter) Measure() (Measurement, error) {
	amps, err := m.rmsCurrent()
	if err != nil {
		stale := m.last
		stale.Valid = false
		return stale, err
	}

	volts, err := m.peakVoltage()
	if err != nil {
		stale := m.last
		stale.Valid = false
		return stale, err
	}

	m.last = Measurement{RMSCurrentAmps: amps, PeakVoltageVolts: volts, Valid: true}
	return m.last, nil
}

// Last returns the most recent good measurement.
func (m *Meter) Last() Measurement {
	return m.last
}

// rmsCurrent samples the current channel until it has seen a full half cycle
// between two zero crossings, then computes the RMS over the enclosed
// samples.
func (m *Meter) rmsCurrent() (float64, error) {
	prev, err := m.conv.Read(adc.ChannelCurrent)
	if err != nil {
		return 0, fmt.Errorf("current sense: %w", err)
	}

	var (
		sumSquares float64
		n          int
		crossings  int
	)
	for i := 0; i < currentBudget; i++ {
		cur, err := m.conv.Read(adc.ChannelCurrent)
		if err != nil {
			return 0, fmt.Errorf("current sense: %w", err)
		}

		if crossed(prev, cur) {
			crossings++
			if crossings == 2 {
				if n == 0 {
					return 0, ErrNoZeroCrossing
				}
				rmsCodes := math.Sqrt(sumSquares / float64(n))
				return rmsCodes * ampsPerCode, nil
			}
		}

		if crossings == 1 {
			d := float64(int(cur) - zeroCode)
			sumSquares += d * d
			n++
		}
		prev = cur
	}

	return 0, ErrNoZeroCrossing
}

// crossed reports whether the signal passed through mid-scale between two
// consecutive codes.
func crossed(prev, cur uint16) bool {
	return (prev < zeroCode && cur >= zeroCode) || (prev > zeroCode && cur <= zeroCode)
}

// peakVoltage samples the voltage channel for a bounded window and scales
// the peak magnitude.
func (m *Meter) peakVoltage() (float64, error) {
	var peak float64
	for i := 0; i < voltageWindow; i++ {
		code, err := m.conv.Read(adc.ChannelVoltage)
		if err != nil {
			return 0, fmt.Errorf("voltage sense: %w", err)
		}
		mag := math.Abs(float64(int(code) - zeroCode))
		if mag > peak {
			peak = mag
		}
	}
	return peak * voltsPerCode, nil
}

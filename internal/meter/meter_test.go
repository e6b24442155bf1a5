package meter

import (
	"errors"
	"math"
	"testing"

	"github.com/dkronst/juiced/internal/adc"
)

// halfCycle is a negative half cycle of a synthetic AC current signal:
// the signal drops through mid-scale, bottoms out and rises back through it.
var halfCycle = []uint16{600, 550, 500, 450, 412, 450, 500, 550, 600}

func halfCycleRMSAmps() float64 {
	// Samples enclosed between the two crossings (500..500).
	enclosed := []float64{500, 450, 412, 450, 500}
	var sum float64
	for _, c := range enclosed {
		d := c - zeroCode
		sum += d * d
	}
	return math.Sqrt(sum/float64(len(enclosed))) * ampsPerCode
}

func TestMeasureRMSCurrent(t *testing.T) {
	fake := adc.NewFake(map[int][]uint16{
		adc.ChannelCurrent: halfCycle,
		adc.ChannelVoltage: {512},
	})
	m := New(fake)

	got, err := m.Measure()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Valid {
		t.Error("expected valid measurement")
	}

	want := halfCycleRMSAmps()
	if math.Abs(got.RMSCurrentAmps-want) > 1e-9 {
		t.Errorf("RMSCurrentAmps: got %.4f, want %.4f", got.RMSCurrentAmps, want)
	}
}

func TestMeasurePeakVoltage(t *testing.T) {
	fake := adc.NewFake(map[int][]uint16{
		adc.ChannelCurrent: halfCycle,
		adc.ChannelVoltage: {512, 700, 300, 512},
	})
	m := New(fake)

	got, err := m.Measure()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Peak magnitude is |300-512| = 212 codes.
	want := 212 * voltsPerCode
	if math.Abs(got.PeakVoltageVolts-want) > 1e-9 {
		t.Errorf("PeakVoltageVolts: got %.2f, want %.2f", got.PeakVoltageVolts, want)
	}
}

func TestMeasureNoZeroCrossing(t *testing.T) {
	// A flat DC current channel never crosses mid-scale.
	fake := adc.NewFake(map[int][]uint16{
		adc.ChannelCurrent: {512},
		adc.ChannelVoltage: {512},
	})
	m := New(fake)

	got, err := m.Measure()
	if !errors.Is(err, ErrNoZeroCrossing) {
		t.Fatalf("expected ErrNoZeroCrossing, got %v", err)
	}
	if got.Valid {
		t.Error("expected stale measurement")
	}
}

func TestMeasureStaleCarriesLastGood(t *testing.T) {
	fake := adc.NewFake(map[int][]uint16{
		adc.ChannelCurrent: halfCycle,
		adc.ChannelVoltage: {512, 700},
	})
	m := New(fake)

	first, err := m.Measure()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Current channel goes flat: measurement fails, last good values carry.
	fake.SetChannel(adc.ChannelCurrent, 512)
	second, err := m.Measure()
	if err == nil {
		t.Fatal("expected error for flat current channel")
	}
	if second.Valid {
		t.Error("expected stale measurement")
	}
	if second.RMSCurrentAmps != first.RMSCurrentAmps {
		t.Errorf("stale RMSCurrentAmps: got %.4f, want %.4f", second.RMSCurrentAmps, first.RMSCurrentAmps)
	}
	if m.Last() != first {
		t.Error("Last() should still return the last good measurement")
	}
}

func TestMeasureADCError(t *testing.T) {
	fake := adc.NewFake(map[int][]uint16{
		adc.ChannelCurrent: halfCycle,
		adc.ChannelVoltage: {512},
	})
	fake.ReadError = errors.New("spi broken")
	m := New(fake)

	if _, err := m.Measure(); err == nil {
		t.Error("expected error from failing converter")
	}
}

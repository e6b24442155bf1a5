package pilot

import (
	"errors"
	"testing"
)

func TestNewDriverStartsForcedHigh(t *testing.T) {
	pwm := NewFakePWM()
	d, err := NewDriver(pwm)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pwm.PeriodNs != PeriodNanos {
		t.Errorf("period: got %d, want %d", pwm.PeriodNs, PeriodNanos)
	}
	if pwm.LastHigh() != forcedHighNanos {
		t.Errorf("high time: got %d, want %d (forced high)", pwm.LastHigh(), forcedHighNanos)
	}
	if !pwm.Enabled {
		t.Error("expected output enabled")
	}
	if d.Current() != ForcedHigh() {
		t.Errorf("current: got %s, want FORCED_HIGH", d.Current())
	}
}

func TestSetDutyOscillating(t *testing.T) {
	pwm := NewFakePWM()
	d, err := NewDriver(pwm)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := d.SetDuty(Oscillating(50)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pwm.LastHigh() != 500_000 {
		t.Errorf("high time: got %d, want 500000", pwm.LastHigh())
	}

	// 53.3% advertises 32 A
	if err := d.SetDuty(Oscillating(DutyForAmps(32))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := int(DutyForAmps(32) * 10_000)
	if pwm.LastHigh() != want {
		t.Errorf("high time: got %d, want %d", pwm.LastHigh(), want)
	}
}

func TestSetDutyForcedLow(t *testing.T) {
	pwm := NewFakePWM()
	d, err := NewDriver(pwm)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := d.SetDuty(ForcedLow()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pwm.LastHigh() != 0 {
		t.Errorf("high time: got %d, want 0", pwm.LastHigh())
	}
}

func TestSetDutyIdempotent(t *testing.T) {
	pwm := NewFakePWM()
	d, err := NewDriver(pwm)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	writes := len(pwm.HighNs)
	for i := 0; i < 3; i++ {
		if err := d.SetDuty(Oscillating(40)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := len(pwm.HighNs) - writes; got != 1 {
		t.Errorf("expected 1 hardware write for repeated command, got %d", got)
	}
}

func TestSetDutyOutOfRange(t *testing.T) {
	pwm := NewFakePWM()
	d, err := NewDriver(pwm)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := d.SetDuty(Oscillating(101)); err == nil {
		t.Error("expected error for 101% oscillating duty")
	}
	if err := d.SetDuty(Oscillating(-1)); err == nil {
		t.Error("expected error for negative duty")
	}
}

func TestSetDutyHardwareFailure(t *testing.T) {
	pwm := NewFakePWM()
	d, err := NewDriver(pwm)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pwm.Err = errors.New("pwm write failed")
	if err := d.SetDuty(Oscillating(50)); err == nil {
		t.Error("expected error from failing PWM")
	}

	// The failed command must not be cached as current.
	if d.Current() != ForcedHigh() {
		t.Errorf("current after failure: got %s, want FORCED_HIGH", d.Current())
	}
}

func TestDutyForAmps(t *testing.T) {
	if got := DutyForAmps(30); got != 50.0 {
		t.Errorf("DutyForAmps(30): got %.2f, want 50", got)
	}
}

func TestDutyCommandString(t *testing.T) {
	tests := []struct {
		cmd  DutyCommand
		want string
	}{
		{ForcedHigh(), "FORCED_HIGH"},
		{ForcedLow(), "FORCED_LOW"},
		{Oscillating(53.3), "OSC_53.3%"},
	}
	for _, tt := range tests {
		if got := tt.cmd.String(); got != tt.want {
			t.Errorf("String: got %q, want %q", got, tt.want)
		}
	}
}

// Package gfi supervises the ground-fault interrupter: it runs the pre-power
// self-test protocol and exposes the live status line.
//
// The self-test induces a simulated fault by toggling a test winding through
// the GFI's current transformer at 60 Hz, then verifies the GFI both trips
// and resets cleanly. It runs before every power-on attempt and is never
// cached across attempts.
package gfi

import (
	"fmt"
	"time"

	"github.com/dkronst/juiced/internal/gpio"
)

// Stage names the step of the self-test protocol at which a verdict was
// reached.
type Stage string

const (
	StageIdle              Stage = "IDLE"
	StageAwaitInitialClear Stage = "AWAIT_INITIAL_CLEAR"
	StageToggling          Stage = "TOGGLING"
	StageAwaitSet          Stage = "AWAIT_SET"
	StageAwaitSecondClear  Stage = "AWAIT_SECOND_CLEAR"
	StageAwaitStableClear  Stage = "AWAIT_STABLE_CLEAR"
	StagePass              Stage = "PASS"
)

// Self-test timing. The 60 Hz toggle matches the mains frequency the CT is
// built for; the 100 ms windows bound how long the GFI may take to trip and
// to recover.
const (
	toggleHalfPeriod   = 8333 * time.Microsecond // 60 Hz
	toggleCycles       = 10
	resetPulseWidth    = 100 * time.Millisecond
	initialClearWindow = 50 * time.Millisecond
	setWindow          = 20 * time.Millisecond
	clearWindow        = 100 * time.Millisecond
	stableWindow       = 100 * time.Millisecond
	pollInterval       = 2 * time.Millisecond
)

// FailError reports a self-test failure and the stage that produced it.
type FailError struct {
	Stage Stage
	Err   error // underlying hardware error, if any
}

func (e *FailError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gfi self-test failed at %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("gfi self-test failed at %s", e.Stage)
}

func (e *FailError) Unwrap() error { return e.Err }

// Supervisor owns the GFI lines. The reset line must never be pulsed while
// vehicle power is on; the state machine guarantees the self-test only runs
// with power off.
type Supervisor struct {
	status gpio.Input  // high = GFI set (fault latched)
	test   gpio.Output // toggled at 60 Hz to induce a simulated fault
	reset  gpio.Output // pulsed high to clear the GFI

	// now and sleep are injectable for tests.
	now   func() time.Time
	sleep func(time.Duration)
}

// New creates a Supervisor over the given lines using the real clock.
func New(status gpio.Input, test, reset gpio.Output) *Supervisor {
	return &Supervisor{
		status: status,
		test:   test,
		reset:  reset,
		now:    time.Now,
		sleep:  time.Sleep,
	}
}

// WithClock substitutes the time source, for tests.
func (s *Supervisor) WithClock(now func() time.Time, sleep func(time.Duration)) *Supervisor {
	s.now = now
	s.sleep = sleep
	return s
}

// Status reads the live status line (true = GFI set).
func (s *Supervisor) Status() (bool, error) {
	return s.status.Value()
}

// SelfTest runs the full protocol. A nil return means Pass and the GFI left
// clear; any other outcome is a *FailError naming the stage.
func (s *Supervisor) SelfTest() error {
	// AwaitInitialClear: the GFI must start clear. A latched fault from a
	// previous trip gets one reset attempt.
	set, err := s.Status()
	if err != nil {
		return &FailError{Stage: StageAwaitInitialClear, Err: err}
	}
	if set {
		if err := s.pulseReset(); err != nil {
			return &FailError{Stage: StageAwaitInitialClear, Err: err}
		}
		if ok, err := s.waitForLevel(false, initialClearWindow); err != nil {
			return &FailError{Stage: StageAwaitInitialClear, Err: err}
		} else if !ok {
			return &FailError{Stage: StageAwaitInitialClear}
		}
	}

	// Toggling: 10 cycles of 60 Hz through the test winding.
	for i := 0; i < toggleCycles; i++ {
		if err := s.test.Set(true); err != nil {
			return &FailError{Stage: StageToggling, Err: err}
		}
		s.sleep(toggleHalfPeriod)
		if err := s.test.Set(false); err != nil {
			return &FailError{Stage: StageToggling, Err: err}
		}
		s.sleep(toggleHalfPeriod)
	}

	// AwaitSet: the simulated fault must have tripped the GFI.
	if ok, err := s.waitForLevel(true, setWindow); err != nil {
		return &FailError{Stage: StageAwaitSet, Err: err}
	} else if !ok {
		return &FailError{Stage: StageAwaitSet}
	}

	// AwaitSecondClear: let the trip settle, then the reset must clear it.
	s.sleep(clearWindow)
	if err := s.pulseReset(); err != nil {
		return &FailError{Stage: StageAwaitSecondClear, Err: err}
	}
	if ok, err := s.waitForLevel(false, clearWindow); err != nil {
		return &FailError{Stage: StageAwaitSecondClear, Err: err}
	} else if !ok {
		return &FailError{Stage: StageAwaitSecondClear}
	}

	// AwaitStableClear: the GFI must stay clear with the test line idle.
	deadline := s.now().Add(stableWindow)
	for s.now().Before(deadline) {
		set, err := s.Status()
		if err != nil {
			return &FailError{Stage: StageAwaitStableClear, Err: err}
		}
		if set {
			return &FailError{Stage: StageAwaitStableClear}
		}
		s.sleep(pollInterval)
	}

	return nil
}

// pulseReset drives the reset line high for the pulse width, then low.
func (s *Supervisor) pulseReset() error {
	if err := s.reset.Set(true); err != nil {
		return fmt.Errorf("raise gfi reset: %w", err)
	}
	s.sleep(resetPulseWidth)
	if err := s.reset.Set(false); err != nil {
		return fmt.Errorf("lower gfi reset: %w", err)
	}
	return nil
}

// waitForLevel polls the status line until it reads want or the window
// expires. Returns whether the level was observed.
func (s *Supervisor) waitForLevel(want bool, window time.Duration) (bool, error) {
	deadline := s.now().Add(window)
	for {
		set, err := s.Status()
		if err != nil {
			return false, err
		}
		if set == want {
			return true, nil
		}
		if !s.now().Before(deadline) {
			return false, nil
		}
		s.sleep(pollInterval)
	}
}

package gfi

import (
	"errors"
	"testing"
	"time"

	"github.com/dkronst/juiced/internal/gpio"
)

// fakeClock advances a synthetic time on every sleep, so the self-test's
// wait sequences run instantly and deterministically.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time        { return c.t }
func (c *fakeClock) sleep(d time.Duration) { c.t = c.t.Add(d) }

func newTestSupervisor(status *gpio.FakeInput) (*Supervisor, *gpio.FakeOutput, *gpio.FakeOutput, *fakeClock) {
	test := gpio.NewFakeOutput()
	reset := gpio.NewFakeOutput()
	clock := newFakeClock()
	s := New(status, test, reset).WithClock(clock.now, clock.sleep)
	return s, test, reset, clock
}

func failStage(t *testing.T, err error) Stage {
	t.Helper()
	var fe *FailError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FailError, got %v", err)
	}
	return fe.Stage
}

func TestSelfTestPass(t *testing.T) {
	// Clear at start, set after toggling, clear after reset, stays clear.
	status := gpio.NewFakeInput(false, true, false)
	s, test, _, _ := newTestSupervisor(status)

	if err := s.SelfTest(); err != nil {
		t.Fatalf("expected pass, got %v", err)
	}

	// 10 cycles of 60 Hz toggling = 20 writes, ending low.
	if test.Writes() != 20 {
		t.Errorf("test line writes: got %d, want 20", test.Writes())
	}
	if test.Level() {
		t.Error("test line must end low")
	}
}

func TestSelfTestFailAwaitSet(t *testing.T) {
	// The GFI never trips despite the simulated fault.
	status := gpio.NewFakeInput(false)
	s, _, _, _ := newTestSupervisor(status)

	err := s.SelfTest()
	if err == nil {
		t.Fatal("expected failure")
	}
	if got := failStage(t, err); got != StageAwaitSet {
		t.Errorf("stage: got %s, want %s", got, StageAwaitSet)
	}
}

func TestSelfTestFailAwaitSecondClear(t *testing.T) {
	// The GFI trips but the reset pulse does not clear it.
	status := gpio.NewFakeInput(false, true)
	s, _, reset, _ := newTestSupervisor(status)

	err := s.SelfTest()
	if got := failStage(t, err); got != StageAwaitSecondClear {
		t.Errorf("stage: got %s, want %s", got, StageAwaitSecondClear)
	}

	// The reset pulse was issued: high then low.
	if reset.Writes() != 2 || reset.History[0] != true || reset.History[1] != false {
		t.Errorf("reset history: got %v, want [true false]", reset.History)
	}
}

func TestSelfTestFailAwaitStableClear(t *testing.T) {
	// Clears after reset, then trips again inside the stability window.
	status := gpio.NewFakeInput(false, true, false, false, true)
	s, _, _, _ := newTestSupervisor(status)

	err := s.SelfTest()
	if got := failStage(t, err); got != StageAwaitStableClear {
		t.Errorf("stage: got %s, want %s", got, StageAwaitStableClear)
	}
}

func TestSelfTestInitialSetCleared(t *testing.T) {
	// A stale latched fault is cleared by the initial reset and the rest
	// of the protocol proceeds to pass.
	status := gpio.NewFakeInput(true, false, true, false)
	s, _, reset, _ := newTestSupervisor(status)

	if err := s.SelfTest(); err != nil {
		t.Fatalf("expected pass, got %v", err)
	}
	if reset.Writes() != 4 {
		t.Errorf("reset writes: got %d, want 4 (two pulses)", reset.Writes())
	}
}

func TestSelfTestInitialSetStuck(t *testing.T) {
	// The latched fault does not clear within the initial window.
	status := gpio.NewFakeInput(true)
	s, _, _, _ := newTestSupervisor(status)

	err := s.SelfTest()
	if got := failStage(t, err); got != StageAwaitInitialClear {
		t.Errorf("stage: got %s, want %s", got, StageAwaitInitialClear)
	}
}

func TestSelfTestStatusReadError(t *testing.T) {
	status := gpio.NewFakeInput(false)
	status.ReadError = errors.New("line gone")
	s, _, _, _ := newTestSupervisor(status)

	err := s.SelfTest()
	if got := failStage(t, err); got != StageAwaitInitialClear {
		t.Errorf("stage: got %s, want %s", got, StageAwaitInitialClear)
	}
	if !errors.Is(err, status.ReadError) {
		t.Error("expected underlying read error to be wrapped")
	}
}

func TestStatus(t *testing.T) {
	status := gpio.NewFakeInput(true)
	s, _, _, _ := newTestSupervisor(status)

	set, err := s.Status()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !set {
		t.Error("expected status set")
	}
}

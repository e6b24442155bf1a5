// Package power owns the high-voltage relay and its two safety mechanisms:
// the watchdog line that must toggle for as long as power is commanded on,
// and the relay-test input that mirrors the physical contactor state.
package power

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkronst/juiced/internal/gpio"
)

// Watchdog frequency bounds. The hardware accepts anything in this range;
// outside it the toggling is either too slow to prove liveness or faster
// than the line driver.
const (
	MinWatchdogHz     = 100
	MaxWatchdogHz     = 100_000
	DefaultWatchdogHz = 1000
)

// verifyGrace is how long the relay-test input has to agree with the
// commanded state after a transition.
const verifyGrace = 100 * time.Millisecond

const verifyPoll = 5 * time.Millisecond

// VerifyError reports a relay-test mismatch that outlasted the grace period.
type VerifyError struct {
	Expected bool
	Actual   bool
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("relay test: expected %v, read %v past grace period", e.Expected, e.Actual)
}

// Interlock drives the relay. On and Off are invoked only by the state
// machine, on legal transitions or fault response.
type Interlock struct {
	relay     gpio.Output
	watchdog  gpio.Output
	relayTest gpio.Input

	watchdogHz int

	mu   sync.Mutex // serializes On/Off
	on   atomic.Bool
	stop chan struct{}
	done chan struct{}

	// now and sleep are injectable for tests.
	now   func() time.Time
	sleep func(time.Duration)
}

// New creates an Interlock. watchdogHz is clamped to the supported range.
func New(relay, watchdog gpio.Output, relayTest gpio.Input, watchdogHz int) *Interlock {
	if watchdogHz < MinWatchdogHz {
		watchdogHz = MinWatchdogHz
	}
	if watchdogHz > MaxWatchdogHz {
		watchdogHz = MaxWatchdogHz
	}
	return &Interlock{
		relay:      relay,
		watchdog:   watchdog,
		relayTest:  relayTest,
		watchdogHz: watchdogHz,
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

// WithClock substitutes the time source used by Verify, for tests.
func (i *Interlock) WithClock(now func() time.Time, sleep func(time.Duration)) *Interlock {
	i.now = now
	i.sleep = sleep
	return i
}

// WatchdogHz returns the clamped watchdog frequency.
func (i *Interlock) WatchdogHz() int {
	return i.watchdogHz
}

// IsOn reports the commanded power state. Safe to read from any goroutine.
func (i *Interlock) IsOn() bool {
	return i.on.Load()
}

// On starts the watchdog toggling, then closes the relay. Idempotent.
//
// The order matters: the hardware synthesizes a fault if the relay is on
// without the watchdog toggling.
func (i *Interlock) On() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.on.Load() {
		return nil
	}

	i.stop = make(chan struct{})
	i.done = make(chan struct{})
	go i.toggleWatchdog(i.stop, i.done)

	if err := i.relay.Set(true); err != nil {
		close(i.stop)
		<-i.done
		return fmt.Errorf("close relay: %w", err)
	}
	i.on.Store(true)
	return nil
}

// Off opens the relay, then stops the watchdog and leaves its line low.
// Idempotent. Blocks until the watchdog goroutine has exited.
func (i *Interlock) Off() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.on.Load() {
		return nil
	}

	relayErr := i.relay.Set(false)
	close(i.stop)
	<-i.done
	i.on.Store(false)

	if relayErr != nil {
		return fmt.Errorf("open relay: %w", relayErr)
	}
	return nil
}

// Verify polls the relay-test input until it matches want or the grace
// period expires. Called after every transition.
func (i *Interlock) Verify(want bool) error {
	deadline := i.now().Add(verifyGrace)
	var actual bool
	for {
		v, err := i.relayTest.Value()
		if err != nil {
			return fmt.Errorf("read relay test: %w", err)
		}
		actual = v
		if actual == want {
			return nil
		}
		if !i.now().Before(deadline) {
			return &VerifyError{Expected: want, Actual: actual}
		}
		i.sleep(verifyPoll)
	}
}

// toggleWatchdog runs on its own goroutine so its schedule is independent of
// the service loop's ADC and GFI suspension points. It must never block on
// anything but its ticker.
func (i *Interlock) toggleWatchdog(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	half := time.Second / time.Duration(2*i.watchdogHz)
	ticker := time.NewTicker(half)
	defer ticker.Stop()

	level := false
	for {
		select {
		case <-stop:
			if err := i.watchdog.Set(false); err != nil {
				log.Printf("watchdog: park line low: %v", err)
			}
			return
		case <-ticker.C:
			level = !level
			if err := i.watchdog.Set(level); err != nil {
				// A dead watchdog line means the hardware will
				// synthesize a fault on its own; nothing to do
				// here but record it.
				log.Printf("watchdog: toggle: %v", err)
			}
		}
	}
}

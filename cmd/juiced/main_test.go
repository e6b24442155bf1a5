package main

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/dkronst/juiced/internal/evse"
	"github.com/dkronst/juiced/internal/gfi"
	"github.com/dkronst/juiced/internal/gpio"
	"github.com/dkronst/juiced/internal/meter"
	"github.com/dkronst/juiced/internal/mqtt"
	"github.com/dkronst/juiced/internal/pilot"
	"github.com/dkronst/juiced/internal/power"
	"github.com/dkronst/juiced/internal/status"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env. If pi-helper changes its var names, this test fails
// and we update the constants — not the other way around.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func TestReadNetworkInfoAllSet(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "MyNetwork")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}
	if info.Type != "wifi" {
		t.Errorf("Type: got %q, want wifi", info.Type)
	}
	if info.IP != "192.168.1.100" {
		t.Errorf("IP: got %q", info.IP)
	}
	if info.Status != "connected" {
		t.Errorf("Status: got %q", info.Status)
	}
	if info.SSID != "MyNetwork" {
		t.Errorf("SSID: got %q", info.SSID)
	}
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	info := readNetworkInfo()
	if info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}
}

func TestResolveWSBroker(t *testing.T) {
	tests := []struct {
		ws     string
		broker string
		want   string
	}{
		{"off", "tcp://192.168.1.200:1883", ""},
		{"", "tcp://192.168.1.200:1883", ""},
		{"ws://example:9001", "tcp://192.168.1.200:1883", "ws://example:9001"},
		{"=broker", "tcp://192.168.1.200:1883", "ws://192.168.1.200:9001"},
	}
	for _, tt := range tests {
		if got := resolveWSBroker(tt.ws, tt.broker); got != tt.want {
			t.Errorf("resolveWSBroker(%q, %q): got %q, want %q", tt.ws, tt.broker, got, tt.want)
		}
	}
}

// --- runLoop tests ---

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

type instantClock struct {
	t time.Time
}

func (c *instantClock) now() time.Time        { return c.t }
func (c *instantClock) sleep(d time.Duration) { c.t = c.t.Add(d) }

// fakeSampler replays a scripted sequence of windows; the last one repeats.
type fakeSampler struct {
	windows []pilot.Window
	errAt   map[int]error // call index -> error instead of a window
	call    int
}

func (s *fakeSampler) Sample() (pilot.Window, error) {
	i := s.call
	s.call++
	if err, ok := s.errAt[i]; ok {
		return pilot.Window{}, err
	}
	idx := i
	if idx >= len(s.windows) {
		idx = len(s.windows) - 1
	}
	return s.windows[idx], nil
}

type fakeMeter struct {
	m meter.Measurement
}

func (f *fakeMeter) Measure() (meter.Measurement, error) { return f.m, nil }

func win(high float64) pilot.Window {
	return pilot.Window{HighVolts: high, LowVolts: -12}
}

func repeat(w pilot.Window, n int) []pilot.Window {
	out := make([]pilot.Window, n)
	for i := range out {
		out[i] = w
	}
	return out
}

// newLoopMachine builds a machine over fake hardware. The GFI status script
// passes a self-test; the interlock cleanup stops the watchdog goroutine.
func newLoopMachine(t *testing.T) (*evse.Machine, *pilot.FakePWM) {
	t.Helper()

	pwm := pilot.NewFakePWM()
	driver, err := pilot.NewDriver(pwm)
	if err != nil {
		t.Fatalf("init pilot driver: %v", err)
	}

	clock := &instantClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	sup := gfi.New(gpio.NewFakeInput(false, true, false), gpio.NewFakeOutput(), gpio.NewFakeOutput()).
		WithClock(clock.now, clock.sleep)

	relayTest := gpio.NewFakeInput(false)
	interlock := power.New(gpio.NewFakeOutput(), gpio.NewFakeOutput(), relayTest, power.DefaultWatchdogHz)
	t.Cleanup(func() { interlock.Off() })

	m := evse.NewMachine(driver, sup, interlock, evse.Config{
		OfferAmps:   32,
		GraceWindow: 5 * time.Second,
		GfiHoldoff:  10 * time.Second,
	})
	return m, pwm
}

// runRunLoop drives runLoop with the given samples and signal.
func runRunLoop(t *testing.T, machine *evse.Machine, sampler *fakeSampler, pub *mqtt.FakePublisher, heartbeat time.Duration, clock func() time.Time, nTicks int, signal os.Signal) error {
	t.Helper()
	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)
	tracker := status.NewTracker(time.Now(), status.Config{})

	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(machine, sampler, &fakeMeter{}, pub, pub, tracker, heartbeat, clock, tick, sig)
	}()

	for i := 0; i < nTicks; i++ {
		select {
		case tick <- time.Time{}:
		case err := <-errCh:
			return err
		}
	}
	sig <- signal

	return <-errCh
}

func TestRunLoopBaselineAndPlugIn(t *testing.T) {
	machine, _ := newLoopMachine(t)
	sampler := &fakeSampler{windows: append(repeat(win(12), 2), repeat(win(9), 2)...)}
	pub := mqtt.NewFakePublisher()
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 100*time.Millisecond)

	err := runRunLoop(t, machine, sampler, pub, 0, clock, 4, syscall.SIGTERM)
	if err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	// Baseline on A, then the A->B plug-in.
	if len(pub.Events) != 2 {
		t.Fatalf("expected 2 events, got %d: %+v", len(pub.Events), pub.Events)
	}
	if pub.Events[0].Type != evse.EventStateChange || pub.Events[0].To != pilot.StateA {
		t.Errorf("event 0: got %s to %s", pub.Events[0].Type, pub.Events[0].To)
	}
	if pub.Events[1].From != pilot.StateA || pub.Events[1].To != pilot.StateB {
		t.Errorf("event 1: got %s->%s, want A->B", pub.Events[1].From, pub.Events[1].To)
	}

	// Exactly one system event: SHUTDOWN.
	if len(pub.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(pub.SystemEvents))
	}
	if pub.SystemEvents[0].Event != "SHUTDOWN" {
		t.Errorf("expected SHUTDOWN, got %q", pub.SystemEvents[0].Event)
	}
}

func TestRunLoopSampleErrorTolerated(t *testing.T) {
	// Errors within the grace window are logged and skipped; the loop
	// keeps running and still publishes SHUTDOWN.
	machine, _ := newLoopMachine(t)
	sampler := &fakeSampler{
		windows: repeat(win(12), 6),
		errAt: map[int]error{
			2: errors.New("spi transfer failed"),
			3: errors.New("spi transfer failed"),
		},
	}
	pub := mqtt.NewFakePublisher()
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 100*time.Millisecond)

	err := runRunLoop(t, machine, sampler, pub, 0, clock, 6, syscall.SIGTERM)
	if err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if machine.Fault() != nil {
		t.Errorf("unexpected fault: %v", machine.Fault())
	}

	found := false
	for _, se := range pub.SystemEvents {
		if se.Event == "SHUTDOWN" {
			found = true
		}
	}
	if !found {
		t.Error("expected SHUTDOWN system event after sample errors")
	}
}

func TestRunLoopFatalPilotFailure(t *testing.T) {
	// A pilot that cannot be programmed kills the loop with a FATAL event.
	machine, pwm := newLoopMachine(t)
	sampler := &fakeSampler{windows: append(repeat(win(12), 2), repeat(win(9), 2)...)}
	pub := mqtt.NewFakePublisher()
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 100*time.Millisecond)

	pwm.Err = errors.New("sysfs write failed")

	err := runRunLoop(t, machine, sampler, pub, 0, clock, 4, syscall.SIGTERM)
	if err == nil {
		t.Fatal("expected fatal error")
	}

	var fatals int
	for _, se := range pub.SystemEvents {
		if se.Event == "FATAL" {
			fatals++
			if se.Reason == "" {
				t.Error("FATAL event missing reason")
			}
		}
	}
	if fatals != 1 {
		t.Errorf("expected 1 FATAL system event, got %d", fatals)
	}
}

func TestRunLoopPublishError(t *testing.T) {
	// A transition occurs but Publish returns an error — loop should continue.
	machine, _ := newLoopMachine(t)
	sampler := &fakeSampler{windows: append(repeat(win(12), 2), repeat(win(9), 2)...)}
	pub := mqtt.NewFakePublisher()
	pub.PublishError = fmt.Errorf("broker unavailable")
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 100*time.Millisecond)

	err := runRunLoop(t, machine, sampler, pub, 0, clock, 4, syscall.SIGTERM)
	if err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(pub.Events) != 0 {
		t.Errorf("expected 0 recorded events (publish failed), got %d", len(pub.Events))
	}

	found := false
	for _, se := range pub.SystemEvents {
		if se.Event == "SHUTDOWN" {
			found = true
		}
	}
	if !found {
		t.Error("expected SHUTDOWN system event despite publish errors")
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	// 5-minute clock steps with a 15-minute heartbeat: the interval elapses
	// during the run and exactly one heartbeat fires.
	machine, _ := newLoopMachine(t)
	sampler := &fakeSampler{windows: repeat(win(12), 4)}
	pub := mqtt.NewFakePublisher()
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 5*time.Minute)

	err := runRunLoop(t, machine, sampler, pub, 15*time.Minute, clock, 4, syscall.SIGTERM)
	if err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	var heartbeats, shutdowns int
	for _, se := range pub.SystemEvents {
		switch se.Event {
		case "HEARTBEAT":
			heartbeats++
			if se.RawPayload == nil {
				t.Error("HEARTBEAT event missing status payload")
			}
		case "SHUTDOWN":
			shutdowns++
		}
	}
	if heartbeats != 1 {
		t.Errorf("expected 1 HEARTBEAT event, got %d", heartbeats)
	}
	if shutdowns != 1 {
		t.Errorf("expected 1 SHUTDOWN event, got %d", shutdowns)
	}
}

func TestRunLoopShutdownReasons(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
	}

	for _, tt := range tests {
		machine, _ := newLoopMachine(t)
		sampler := &fakeSampler{windows: repeat(win(12), 2)}
		pub := mqtt.NewFakePublisher()
		clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 100*time.Millisecond)

		err := runRunLoop(t, machine, sampler, pub, 0, clock, 2, tt.sig)
		if err != nil {
			t.Fatalf("runLoop returned error: %v", err)
		}

		if len(pub.SystemEvents) != 1 {
			t.Fatalf("expected 1 system event, got %d", len(pub.SystemEvents))
		}
		se := pub.SystemEvents[0]
		if se.Event != "SHUTDOWN" {
			t.Errorf("expected SHUTDOWN, got %q", se.Event)
		}
		if se.Reason != tt.want {
			t.Errorf("reason: got %q, want %q", se.Reason, tt.want)
		}
		if !se.Retained {
			t.Error("expected Retained=true for SHUTDOWN")
		}
	}
}

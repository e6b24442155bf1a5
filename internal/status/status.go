// Package status provides a thread-safe status tracker for the juiced daemon.
// It is designed to be read by HTTP handlers and the MQTT heartbeat.
package status

import (
	"sync"
	"time"

	"github.com/dkronst/juiced/internal/evse"
	"github.com/dkronst/juiced/internal/meter"
	"github.com/dkronst/juiced/internal/pilot"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	PollMs      int64
	HeartbeatMs int64
	OfferAmps   float64
	WatchdogHz  int
	Broker      string
	HTTPPort    string
	WSBroker    string // Websocket broker URL for browser MQTT (empty = disabled)
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type — safe to use after the lock is released.
type Snapshot struct {
	Pilot         pilot.State
	Power         evse.PowerState
	Baselined     bool
	Fault         *evse.Fault
	Meter         meter.Measurement
	MeterAt       time.Time
	Counts        evse.EventCounts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Power:     evse.PowerOff,
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update sets machine state, power, fault latch, and event counts.
// Called from the service loop on every tick. The fault is copied so the
// snapshot never aliases machine state.
func (t *Tracker) Update(p pilot.State, power evse.PowerState, baselined bool, fault *evse.Fault, counts evse.EventCounts) {
	t.mu.Lock()
	t.snap.Pilot = p
	t.snap.Power = power
	t.snap.Baselined = baselined
	if fault != nil {
		f := *fault
		t.snap.Fault = &f
	} else {
		t.snap.Fault = nil
	}
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetMeter records the latest meter reading.
func (t *Tracker) SetMeter(m meter.Measurement, at time.Time) {
	t.mu.Lock()
	t.snap.Meter = m
	t.snap.MeterAt = at
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}

package evse

import (
	"errors"
	"fmt"
	"time"

	"github.com/dkronst/juiced/internal/gfi"
	"github.com/dkronst/juiced/internal/pilot"
	"github.com/dkronst/juiced/internal/power"
)

// PilotDriver programs the pilot duty command.
type PilotDriver interface {
	SetDuty(pilot.DutyCommand) error
	Current() pilot.DutyCommand
}

// GfiSupervisor runs the pre-power self-test and reads the live status line.
type GfiSupervisor interface {
	SelfTest() error
	Status() (bool, error)
}

// PowerInterlock drives the relay and verifies contactor feedback.
type PowerInterlock interface {
	On() error
	Off() error
	Verify(want bool) error
	IsOn() bool
}

// Config holds the machine's tunables.
type Config struct {
	// OfferAmps is the advertised charge current while oscillating.
	OfferAmps float64

	// GraceWindow is how long the vehicle has to respond after a pilot
	// change before an unreadable pilot becomes a fault.
	GraceWindow time.Duration

	// GfiHoldoff is how long the GFI must stay clear after a live trip
	// before a new self-test may run.
	GfiHoldoff time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		OfferAmps:   32,
		GraceWindow: 5 * time.Second,
		GfiHoldoff:  10 * time.Second,
	}
}

// Machine is the pilot/vehicle state machine. It is the only component that
// commands the pilot duty and requests power transitions; everything else
// feeds it or obeys it.
//
// Not safe for concurrent use: Step runs on the service-loop goroutine only.
type Machine struct {
	driver    PilotDriver
	gfi       GfiSupervisor
	interlock PowerInterlock
	cfg       Config

	state      pilot.State
	baselined  bool
	graceUntil time.Time
	fault      *Fault

	// lastTrip and clearSince implement the post-trip hold-off.
	lastTrip   time.Time
	clearSince time.Time

	counts EventCounts
}

// NewMachine creates a Machine. The pilot is assumed to start forced high
// (the driver's initial state).
func NewMachine(driver PilotDriver, sup GfiSupervisor, interlock PowerInterlock, cfg Config) *Machine {
	return &Machine{
		driver:    driver,
		gfi:       sup,
		interlock: interlock,
		cfg:       cfg,
		state:     pilot.StateUnknown,
	}
}

// State returns the current stable vehicle state.
func (m *Machine) State() pilot.State { return m.state }

// PowerState returns the commanded relay state.
func (m *Machine) PowerState() PowerState {
	if m.interlock.IsOn() {
		return PowerOn
	}
	return PowerOff
}

// Fault returns the standing fault, or nil.
func (m *Machine) Fault() *Fault { return m.fault }

// Baselined reports whether an initial vehicle state has been established.
func (m *Machine) Baselined() bool { return m.baselined }

// Counts returns a copy of the event counters.
func (m *Machine) Counts() EventCounts { return m.counts }

// Step consumes one sample window and performs any required power and pilot
// actions synchronously. sampleOK is false when the window could not be
// read; the reading is then treated as Unknown.
//
// The returned error is fatal to the controller (pilot or relay hardware
// that cannot be programmed); everything else is expressed as events.
func (m *Machine) Step(w pilot.Window, sampleOK bool, now time.Time) ([]Event, error) {
	var events []Event

	// Live GFI watch. A set status while power is on is an immediate
	// fault; an unreadable status line is treated as set while powered.
	set, statusErr := m.gfi.Status()
	if statusErr != nil {
		set = m.interlock.IsOn()
	}
	if set {
		m.clearSince = time.Time{}
		if m.interlock.IsOn() {
			m.lastTrip = now
			evs, err := m.raiseFault(Fault{Kind: FaultGfiFaultDetected, Time: now}, now)
			events = append(events, evs...)
			if err != nil {
				return events, err
			}
		}
	} else if m.clearSince.IsZero() {
		m.clearSince = now
	}

	newState := pilot.StateUnknown
	if sampleOK {
		newState = w.State()

		// Diode check: valid regardless of vehicle state while the
		// pilot oscillates.
		if m.fault == nil && m.driver.Current().IsOscillating() && !w.DiodeOK() {
			evs, err := m.raiseFault(Fault{Kind: FaultMissingDiode, Time: now}, now)
			events = append(events, evs...)
			return events, err
		}
	}

	// A standing fault holds power off until the vehicle withdraws:
	// state A clears the latch, anything else keeps it.
	if m.fault != nil {
		if newState == pilot.StateA && m.fault.Time.Before(now) {
			from := m.state
			m.fault = nil
			m.adopt(pilot.StateA, now)
			events = append(events, Event{
				Timestamp: now, Type: EventFaultClear,
				From: from, To: pilot.StateA, Power: m.PowerState(),
			})
		}
		return events, nil
	}

	if newState == pilot.StateUnknown {
		if m.baselined && now.After(m.graceUntil) {
			evs, err := m.raiseFault(Fault{
				Kind: FaultIllegalTransition, Time: now,
				From: m.state, To: pilot.StateUnknown,
			}, now)
			events = append(events, evs...)
			return events, err
		}
		// Within the grace window an unreadable pilot is tolerated.
		return events, nil
	}

	if !m.baselined {
		evs, err := m.establishBaseline(newState, now)
		return append(events, evs...), err
	}

	if newState == m.state {
		return events, nil
	}

	evs, err := m.transition(m.state, newState, now)
	return append(events, evs...), err
}

// establishBaseline adopts the first readable vehicle state. Only A and B
// are sane startup states; a vehicle already requesting power (or showing
// E/F) before the pilot ever oscillated is a wiring or vehicle fault.
func (m *Machine) establishBaseline(s pilot.State, now time.Time) ([]Event, error) {
	switch s {
	case pilot.StateA:
		if err := m.setDuty(pilot.ForcedHigh(), now); err != nil {
			return nil, err
		}
	case pilot.StateB:
		if err := m.setDuty(pilot.Oscillating(pilot.DutyForAmps(m.cfg.OfferAmps)), now); err != nil {
			return nil, err
		}
	default:
		return m.raiseFault(Fault{
			Kind: FaultIllegalTransition, Time: now,
			From: pilot.StateUnknown, To: s,
		}, now)
	}

	m.baselined = true
	from := m.state
	m.adopt(s, now)
	m.counts.StateChanges++
	return []Event{{
		Timestamp: now, Type: EventStateChange,
		From: from, To: s, Power: m.PowerState(),
	}}, nil
}

// transition applies the legality table to a state change.
func (m *Machine) transition(from, to pilot.State, now time.Time) ([]Event, error) {
	switch {
	case from == pilot.StateA && to == pilot.StateB:
		// Vehicle plugged in: commence oscillation to advertise current.
		if err := m.setDuty(pilot.Oscillating(pilot.DutyForAmps(m.cfg.OfferAmps)), now); err != nil {
			return nil, err
		}
		return m.adoptWithEvent(from, to, now), nil

	case from == pilot.StateB && to == pilot.StateA:
		// Vehicle withdrawn: pin the pilot back to steady +12 V.
		if err := m.setDuty(pilot.ForcedHigh(), now); err != nil {
			return nil, err
		}
		return m.adoptWithEvent(from, to, now), nil

	case from == pilot.StateB && (to == pilot.StateC || to == pilot.StateD):
		return m.powerOn(from, to, now)

	case (from == pilot.StateC || from == pilot.StateD) && to == pilot.StateB:
		return m.powerOff(from, to, now)

	default:
		return m.raiseFault(Fault{
			Kind: FaultIllegalTransition, Time: now,
			From: from, To: to,
		}, now)
	}
}

// powerOn handles a legal B->{C,D}: full self-test, relay on, verification.
func (m *Machine) powerOn(from, to pilot.State, now time.Time) ([]Event, error) {
	// After a live trip the GFI must have been clear for the hold-off
	// interval before another self-test may run. Stay in B until then.
	if !m.gfiReady(now) {
		return nil, nil
	}

	if err := m.gfi.SelfTest(); err != nil {
		stage := gfi.StageIdle
		var fe *gfi.FailError
		if errors.As(err, &fe) {
			stage = fe.Stage
		}
		return m.raiseFault(Fault{Kind: FaultGfiTestFailure, Stage: stage, Time: now}, now)
	}

	if err := m.interlock.On(); err != nil {
		evs, _ := m.raiseFault(Fault{
			Kind: FaultRelayTestTimeout, Time: now,
			Expected: true, Actual: false,
		}, now)
		return evs, fmt.Errorf("power on: %w", err)
	}

	if err := m.interlock.Verify(true); err != nil {
		return m.raiseFault(verifyFault(err, now), now)
	}

	events := m.adoptWithEvent(from, to, now)
	m.counts.PowerOns++
	return append(events, Event{
		Timestamp: now, Type: EventPowerOn,
		From: from, To: to, Power: PowerOn,
	}), nil
}

// powerOff handles a legal {C,D}->B: relay off, verification.
func (m *Machine) powerOff(from, to pilot.State, now time.Time) ([]Event, error) {
	if err := m.interlock.Off(); err != nil {
		evs, _ := m.raiseFault(Fault{
			Kind: FaultRelayTestTimeout, Time: now,
			Expected: false, Actual: true,
		}, now)
		return evs, fmt.Errorf("power off: %w", err)
	}

	events := m.adoptWithEvent(from, to, now)
	m.counts.PowerOffs++
	events = append(events, Event{
		Timestamp: now, Type: EventPowerOff,
		From: from, To: to, Power: PowerOff,
	})

	if err := m.interlock.Verify(false); err != nil {
		evs, ferr := m.raiseFault(verifyFault(err, now), now)
		return append(events, evs...), ferr
	}
	return events, nil
}

// raiseFault is the single fault response path: power forced off, pilot
// forced non-oscillating, fault latched and surfaced. The returned error is
// only non-nil when the safe state itself cannot be programmed.
func (m *Machine) raiseFault(f Fault, now time.Time) ([]Event, error) {
	m.fault = &f
	m.counts.Faults++

	var events []Event
	wasOn := m.interlock.IsOn()
	if err := m.interlock.Off(); err != nil {
		events = append(events, Event{Timestamp: now, Type: EventFault, From: m.state, To: m.state, Power: m.PowerState(), Fault: &f})
		return events, fmt.Errorf("force power off on fault: %w", err)
	}
	if wasOn {
		m.counts.PowerOffs++
		events = append(events, Event{Timestamp: now, Type: EventPowerOff, From: m.state, To: m.state, Power: PowerOff})
	}

	if err := m.setDuty(pilot.ForcedHigh(), now); err != nil {
		events = append(events, Event{Timestamp: now, Type: EventFault, From: m.state, To: m.state, Power: PowerOff, Fault: &f})
		return events, err
	}

	events = append(events, Event{
		Timestamp: now, Type: EventFault,
		From: m.state, To: m.state, Power: PowerOff, Fault: &f,
	})

	// The forced Off is a transition like any other: the contactor must
	// follow within the grace period. A welded contactor is surfaced as
	// its own fault record; the original fault stays latched.
	if wasOn {
		if err := m.interlock.Verify(false); err != nil {
			vf := verifyFault(err, now)
			m.counts.Faults++
			events = append(events, Event{
				Timestamp: now, Type: EventFault,
				From: m.state, To: m.state, Power: PowerOff, Fault: &vf,
			})
		}
	}
	return events, nil
}

// verifyFault maps a Verify error to the corresponding fault record.
func verifyFault(err error, now time.Time) Fault {
	f := Fault{Kind: FaultRelayTestTimeout, Time: now}
	var ve *power.VerifyError
	if errors.As(err, &ve) {
		f.Expected = ve.Expected
		f.Actual = ve.Actual
	}
	return f
}

// gfiReady reports whether a self-test may run: either no live trip has
// ever occurred, or the GFI has been clear for the hold-off interval.
func (m *Machine) gfiReady(now time.Time) bool {
	if m.lastTrip.IsZero() {
		return true
	}
	return !m.clearSince.IsZero() && now.Sub(m.clearSince) >= m.cfg.GfiHoldoff
}

// adopt records the new stable state and restarts the response grace window.
func (m *Machine) adopt(s pilot.State, now time.Time) {
	m.state = s
	m.graceUntil = now.Add(m.cfg.GraceWindow)
}

// adoptWithEvent adopts the state and returns the state-change event.
func (m *Machine) adoptWithEvent(from, to pilot.State, now time.Time) []Event {
	m.adopt(to, now)
	m.counts.StateChanges++
	return []Event{{
		Timestamp: now, Type: EventStateChange,
		From: from, To: to, Power: m.PowerState(),
	}}
}

// setDuty programs the pilot and restarts the grace window on a change. A
// programming failure is fatal to the controller.
func (m *Machine) setDuty(cmd pilot.DutyCommand, now time.Time) error {
	if m.driver.Current() != cmd {
		m.graceUntil = now.Add(m.cfg.GraceWindow)
	}
	if err := m.driver.SetDuty(cmd); err != nil {
		return fmt.Errorf("program pilot: %w", err)
	}
	return nil
}

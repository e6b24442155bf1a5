// Package evse contains the pilot/vehicle state machine: the single
// authority mapping pilot-feedback transitions to legal power actions.
package evse

import (
	"fmt"
	"time"

	"github.com/dkronst/juiced/internal/gfi"
	"github.com/dkronst/juiced/internal/pilot"
)

// PowerState is the commanded relay state.
type PowerState string

const (
	PowerOff PowerState = "OFF"
	PowerOn  PowerState = "ON"
)

// FaultKind tags the fault taxonomy. Every fault is terminal for the current
// power cycle: power is forced off and the pilot forced non-oscillating in
// the cycle that detects it.
type FaultKind string

const (
	// FaultMissingDiode: the pilot low extreme did not show the vehicle
	// diode's -12 V swing while oscillating.
	FaultMissingDiode FaultKind = "MISSING_DIODE"

	// FaultIllegalTransition: the vehicle attempted a forbidden state jump.
	FaultIllegalTransition FaultKind = "ILLEGAL_TRANSITION"

	// FaultGfiTestFailure: the pre-power self-test failed at Stage.
	FaultGfiTestFailure FaultKind = "GFI_TEST_FAILURE"

	// FaultGfiFaultDetected: the live GFI tripped while power was on.
	FaultGfiFaultDetected FaultKind = "GFI_FAULT_DETECTED"

	// FaultRelayTestTimeout: contactor feedback disagreed with the
	// commanded state past the grace period.
	FaultRelayTestTimeout FaultKind = "RELAY_TEST_TIMEOUT"
)

// Fault is a structured fault record for the operator boundary.
type Fault struct {
	Kind FaultKind
	Time time.Time

	// From/To are set for IllegalTransition.
	From pilot.State
	To   pilot.State

	// Stage is set for GfiTestFailure.
	Stage gfi.Stage

	// Expected/Actual are set for RelayTestTimeout.
	Expected bool
	Actual   bool
}

func (f Fault) String() string {
	switch f.Kind {
	case FaultIllegalTransition:
		return fmt.Sprintf("%s %s->%s", f.Kind, f.From, f.To)
	case FaultGfiTestFailure:
		return fmt.Sprintf("%s at %s", f.Kind, f.Stage)
	case FaultRelayTestTimeout:
		return fmt.Sprintf("%s expected=%v actual=%v", f.Kind, f.Expected, f.Actual)
	default:
		return string(f.Kind)
	}
}

// EventType classifies machine events published to the operator boundary.
type EventType string

const (
	EventStateChange EventType = "STATE_CHANGE"
	EventPowerOn     EventType = "POWER_ON"
	EventPowerOff    EventType = "POWER_OFF"
	EventFault       EventType = "FAULT"
	EventFaultClear  EventType = "FAULT_CLEAR"
)

// Event is one observable machine action.
type Event struct {
	Timestamp time.Time
	Type      EventType
	From      pilot.State
	To        pilot.State
	Power     PowerState
	Fault     *Fault // set when Type is EventFault
}

// EventCounts tracks events since startup, for heartbeats and status.
type EventCounts struct {
	StateChanges int
	PowerOns     int
	PowerOffs    int
	Faults       int
}

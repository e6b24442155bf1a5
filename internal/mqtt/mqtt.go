// Package mqtt publishes controller events to the operator boundary with
// abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/dkronst/juiced/internal/evse"
	"github.com/dkronst/juiced/internal/meter"
)

// TopicEvents is the MQTT topic for state-machine events.
const TopicEvents = "evse/juiced/events"

// TopicTelemetry is the MQTT topic for periodic meter readings.
const TopicTelemetry = "evse/juiced/telemetry"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "evse/juiced/system"

// Publisher publishes controller output to MQTT.
type Publisher interface {
	// Publish sends a state-machine event to the broker.
	// Returns error if publishing fails (must not crash the process).
	Publish(event evse.Event) error

	// PublishTelemetry sends a meter reading to the broker.
	PublishTelemetry(m meter.Measurement, at time.Time) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the event message payload structure.
type Payload struct {
	Evse EvsePayload `json:"evse"`
}

// EvsePayload contains the state-machine event details.
type EvsePayload struct {
	Timestamp string        `json:"timestamp"`
	Event     string        `json:"event"`
	From      string        `json:"from"`
	To        string        `json:"to"`
	Power     string        `json:"power"`
	Fault     *FaultPayload `json:"fault,omitempty"`
}

// FaultPayload carries the structured fault record.
type FaultPayload struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// FormatEventPayload creates the JSON payload for a state-machine event.
func FormatEventPayload(event evse.Event) ([]byte, error) {
	payload := Payload{
		Evse: EvsePayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     string(event.Type),
			From:      string(event.From),
			To:        string(event.To),
			Power:     string(event.Power),
		},
	}
	if event.Fault != nil {
		payload.Evse.Fault = &FaultPayload{
			Kind:   string(event.Fault.Kind),
			Detail: event.Fault.String(),
		}
	}
	return json.Marshal(payload)
}

// TelemetryPayload represents a periodic meter reading.
type TelemetryPayload struct {
	Meter MeterPayload `json:"meter"`
}

// MeterPayload contains the reading details. Valid is false when the reading
// is a held-over last-good value.
type MeterPayload struct {
	Timestamp   string  `json:"timestamp"`
	CurrentAmps float64 `json:"current_amps"`
	PeakVolts   float64 `json:"peak_volts"`
	Valid       bool    `json:"valid"`
}

// FormatTelemetryPayload creates the JSON payload for a meter reading.
func FormatTelemetryPayload(m meter.Measurement, at time.Time) ([]byte, error) {
	payload := TelemetryPayload{
		Meter: MeterPayload{
			Timestamp:   at.UTC().Format(time.RFC3339),
			CurrentAmps: m.RMSCurrentAmps,
			PeakVolts:   m.PeakVoltageVolts,
			Valid:       m.Valid,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

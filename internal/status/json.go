package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Pilot         string       `json:"pilot"`
	Power         string       `json:"power"`
	Ready         bool         `json:"ready"`
	Fault         *FaultJSON   `json:"fault,omitempty"`
	Meter         MeterJSON    `json:"meter"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"event_counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// FaultJSON is the JSON representation of the standing fault.
type FaultJSON struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
	Since  string `json:"since"`
}

// MeterJSON is the JSON representation of the latest meter reading.
type MeterJSON struct {
	CurrentAmps float64 `json:"current_amps"`
	PeakVolts   float64 `json:"peak_volts"`
	Valid       bool    `json:"valid"`
	Timestamp   string  `json:"timestamp,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	StateChanges int `json:"state_changes"`
	PowerOns     int `json:"power_ons"`
	PowerOffs    int `json:"power_offs"`
	Faults       int `json:"faults"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs      int64   `json:"poll_ms"`
	HeartbeatMs int64   `json:"heartbeat_ms"`
	OfferAmps   float64 `json:"offer_amps"`
	WatchdogHz  int     `json:"watchdog_hz"`
	Broker      string  `json:"broker"`
	HTTPPort    string  `json:"http_port"`
	WSBroker    string  `json:"ws_broker,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	p := string(snap.Pilot)
	if p == "" {
		p = "UNKNOWN"
	}
	power := string(snap.Power)
	if power == "" {
		power = "OFF"
	}

	inner := StatusInner{
		Pilot:         p,
		Power:         power,
		Ready:         snap.Baselined,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Meter: MeterJSON{
			CurrentAmps: snap.Meter.RMSCurrentAmps,
			PeakVolts:   snap.Meter.PeakVoltageVolts,
			Valid:       snap.Meter.Valid,
		},
		Counts: CountsJSON{
			StateChanges: snap.Counts.StateChanges,
			PowerOns:     snap.Counts.PowerOns,
			PowerOffs:    snap.Counts.PowerOffs,
			Faults:       snap.Counts.Faults,
		},
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			OfferAmps:   snap.Config.OfferAmps,
			WatchdogHz:  snap.Config.WatchdogHz,
			Broker:      snap.Config.Broker,
			HTTPPort:    snap.Config.HTTPPort,
			WSBroker:    snap.Config.WSBroker,
		},
	}

	if !snap.MeterAt.IsZero() {
		inner.Meter.Timestamp = snap.MeterAt.UTC().Format(time.RFC3339)
	}
	if snap.Fault != nil {
		inner.Fault = &FaultJSON{
			Kind:   string(snap.Fault.Kind),
			Detail: snap.Fault.String(),
			Since:  snap.Fault.Time.UTC().Format(time.RFC3339),
		}
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dkronst/juiced/internal/evse"
	"github.com/dkronst/juiced/internal/gfi"
	"github.com/dkronst/juiced/internal/meter"
	"github.com/dkronst/juiced/internal/pilot"
)

func TestFormatEventPayload(t *testing.T) {
	event := evse.Event{
		Timestamp: time.Date(2026, 3, 4, 7, 30, 45, 0, time.UTC),
		Type:      evse.EventPowerOn,
		From:      pilot.StateB,
		To:        pilot.StateC,
		Power:     evse.PowerOn,
	}

	payload, err := FormatEventPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed Payload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Evse.Timestamp != "2026-03-04T07:30:45Z" {
		t.Errorf("unexpected timestamp: %s", parsed.Evse.Timestamp)
	}
	if parsed.Evse.Event != "POWER_ON" {
		t.Errorf("unexpected event: %s", parsed.Evse.Event)
	}
	if parsed.Evse.From != "B" || parsed.Evse.To != "C" {
		t.Errorf("unexpected transition: %s->%s", parsed.Evse.From, parsed.Evse.To)
	}
	if parsed.Evse.Power != "ON" {
		t.Errorf("unexpected power: %s", parsed.Evse.Power)
	}
	if parsed.Evse.Fault != nil {
		t.Errorf("unexpected fault: %+v", parsed.Evse.Fault)
	}
}

func TestFormatEventPayloadFault(t *testing.T) {
	fault := &evse.Fault{
		Kind:  evse.FaultGfiTestFailure,
		Time:  time.Now(),
		Stage: gfi.StageAwaitSet,
	}
	event := evse.Event{
		Timestamp: time.Now(),
		Type:      evse.EventFault,
		From:      pilot.StateB,
		To:        pilot.StateB,
		Power:     evse.PowerOff,
		Fault:     fault,
	}

	payload, err := FormatEventPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed Payload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Evse.Fault == nil {
		t.Fatal("expected fault payload")
	}
	if parsed.Evse.Fault.Kind != "GFI_TEST_FAILURE" {
		t.Errorf("unexpected fault kind: %s", parsed.Evse.Fault.Kind)
	}
	if parsed.Evse.Fault.Detail != "GFI_TEST_FAILURE at AWAIT_SET" {
		t.Errorf("unexpected fault detail: %s", parsed.Evse.Fault.Detail)
	}
}

func TestFormatTelemetryPayload(t *testing.T) {
	m := meter.Measurement{
		RMSCurrentAmps:   29.7,
		PeakVoltageVolts: 168.5,
		Valid:            true,
	}
	at := time.Date(2026, 3, 4, 7, 31, 0, 0, time.UTC)

	payload, err := FormatTelemetryPayload(m, at)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed TelemetryPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Meter.Timestamp != "2026-03-04T07:31:00Z" {
		t.Errorf("unexpected timestamp: %s", parsed.Meter.Timestamp)
	}
	if parsed.Meter.CurrentAmps != 29.7 {
		t.Errorf("unexpected current: %v", parsed.Meter.CurrentAmps)
	}
	if !parsed.Meter.Valid {
		t.Error("expected valid reading")
	}
}

func TestFormatSystemPayload(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "SIGTERM",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed SystemPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.System.Event != "SHUTDOWN" {
		t.Errorf("unexpected event: %s", parsed.System.Event)
	}
	if parsed.System.Reason != "SIGTERM" {
		t.Errorf("unexpected reason: %s", parsed.System.Reason)
	}
}

func TestFormatSystemPayloadRaw(t *testing.T) {
	raw := []byte(`{"custom":true}`)
	payload, err := FormatSystemPayload(SystemEvent{RawPayload: raw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != string(raw) {
		t.Errorf("expected raw payload passthrough, got %s", payload)
	}
}

func TestFakePublisher(t *testing.T) {
	f := NewFakePublisher()

	event := evse.Event{
		Timestamp: time.Now(),
		Type:      evse.EventStateChange,
		From:      pilot.StateA,
		To:        pilot.StateB,
		Power:     evse.PowerOff,
	}

	if err := f.Publish(event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(f.Events))
	}
	if f.Events[0].Type != evse.EventStateChange {
		t.Errorf("unexpected event type: %s", f.Events[0].Type)
	}
	if len(f.Payloads) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(f.Payloads))
	}
}

func TestFakePublisherError(t *testing.T) {
	f := NewFakePublisher()
	f.PublishError = errors.New("broker down")

	if err := f.Publish(evse.Event{}); err == nil {
		t.Fatal("expected error")
	}
	if len(f.Events) != 0 {
		t.Errorf("expected no recorded events, got %d", len(f.Events))
	}
}

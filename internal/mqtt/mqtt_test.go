package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestFormatPayload(t *testing.T) {
	event := TimerEvent{
		Timestamp: time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC),
		Job:       "status-led",
		Kind:      "OSCILLATE",
		Slot:      2,
		Count:     7,
		Remaining: -1,
		Level:     "HIGH",
	}

	payload, err := FormatPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"timer":{"timestamp":"2026-02-02T22:18:12Z","job":"status-led","kind":"OSCILLATE","slot":2,"count":7,"remaining":-1,"level":"HIGH"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatPayloadCallbackEventOmitsLevel(t *testing.T) {
	event := TimerEvent{
		Timestamp: time.Date(2026, 2, 2, 22, 18, 12, 500_000_000, time.UTC),
		Job:       "tick",
		Kind:      "EVERY",
		Count:     3,
		Remaining: 0,
		Retired:   true,
	}

	payload, err := FormatPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed map[string]map[string]interface{}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	inner := parsed["timer"]
	if _, exists := inner["level"]; exists {
		t.Error("EVERY events should not carry a level")
	}
	if inner["retired"] != true {
		t.Errorf("retired: got %v, want true", inner["retired"])
	}
	if inner["timestamp"] != "2026-02-02T22:18:12.5Z" {
		t.Errorf("timestamp should keep sub-second precision, got %v", inner["timestamp"])
	}
}

func TestFormatPayloadTimezoneConversion(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	event := TimerEvent{
		Timestamp: time.Date(2026, 2, 3, 0, 0, 0, 0, loc),
		Job:       "tick",
		Kind:      "EVERY",
	}

	payload, err := FormatPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed Payload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Timer.Timestamp != "2026-02-02T22:00:00Z" {
		t.Errorf("expected UTC timestamp, got %s", parsed.Timer.Timestamp)
	}
}

func TestTopics(t *testing.T) {
	if Topic != "devices/pin-timer/events" {
		t.Errorf("unexpected topic: %s", Topic)
	}
	if TopicSystem != "devices/pin-timer/system" {
		t.Errorf("unexpected system topic: %s", TopicSystem)
	}
}

func TestFormatSystemPayload(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-02-10T08:30:00Z","event":"SHUTDOWN","reason":"MQTT_DISCONNECT"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatSystemPayloadReconnectedOmitsReason(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 10, 14, 30, 0, 0, time.UTC),
		Event:     "RECONNECTED",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-02-10T14:30:00Z","event":"RECONNECTED"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatSystemPayloadRawPassthrough(t *testing.T) {
	raw := []byte(`{"status":{"event":"STARTUP"}}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: "STARTUP", RawPayload: raw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != string(raw) {
		t.Errorf("raw payload not passed through: %s", payload)
	}
}

func TestFakePublisher(t *testing.T) {
	f := NewFakePublisher()

	events := []TimerEvent{
		{Job: "a", Kind: "EVERY", Count: 1},
		{Job: "b", Kind: "OSCILLATE", Count: 1, Level: "HIGH"},
		{Job: "a", Kind: "EVERY", Count: 2},
	}
	for _, e := range events {
		if err := f.Publish(e); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if len(f.Events) != 3 || len(f.Payloads) != 3 {
		t.Fatalf("expected 3 events and payloads, got %d/%d", len(f.Events), len(f.Payloads))
	}
	got := f.EventsFor("a")
	if len(got) != 2 || got[1].Count != 2 {
		t.Errorf("EventsFor(a): got %+v", got)
	}
}

func TestFakePublisherError(t *testing.T) {
	f := NewFakePublisher()
	f.PublishError = errors.New("network error")

	if err := f.Publish(TimerEvent{Job: "a"}); err == nil {
		t.Error("expected error")
	}
	if len(f.Events) != 0 {
		t.Error("failed publish should not be recorded")
	}

	f.PublishSystemError = errors.New("network error")
	if err := f.PublishSystem(SystemEvent{Event: "HEARTBEAT"}); err == nil {
		t.Error("expected system error")
	}
}

func TestFakePublisherRecordsRetainedFlag(t *testing.T) {
	f := NewFakePublisher()

	f.PublishSystem(SystemEvent{Event: "STARTUP", Retained: true})
	f.PublishSystem(SystemEvent{Event: "HEARTBEAT"})

	if !f.SystemEvents[0].Retained {
		t.Error("STARTUP should be retained")
	}
	if f.SystemEvents[1].Retained {
		t.Error("HEARTBEAT should not be retained")
	}
}

func TestFakePublisherReset(t *testing.T) {
	f := NewFakePublisher()
	f.Publish(TimerEvent{Job: "a"})
	f.PublishSystem(SystemEvent{Event: "STARTUP"})
	f.Connected = true
	f.Close()

	f.Reset()

	if len(f.Events) != 0 || len(f.Payloads) != 0 || len(f.SystemEvents) != 0 || len(f.SystemPayloads) != 0 {
		t.Error("expected all recordings cleared")
	}
	if f.Closed || f.Connected {
		t.Error("expected flags cleared")
	}

	if err := f.Publish(TimerEvent{Job: "b"}); err != nil {
		t.Fatalf("publisher should be reusable after reset: %v", err)
	}
}

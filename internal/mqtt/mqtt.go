// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"
)

// Topic is the MQTT topic for timer events.
const Topic = "devices/pin-timer/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "devices/pin-timer/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a timer event to the broker.
	// Returns error if publishing fails (should not crash the process).
	// Implementations must not block the caller for long: it runs inside
	// the scheduler's update pass.
	Publish(event TimerEvent) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// TimerEvent describes one timer firing or retirement.
type TimerEvent struct {
	Timestamp time.Time
	Job       string // configured job name, or "heartbeat"
	Kind      string // EVERY or OSCILLATE
	Slot      int
	Count     uint32
	Remaining int    // firings left; -1 for unbounded
	Level     string // pin level after the firing (OSCILLATE only)
	Retired   bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Timer TimerPayload `json:"timer"`
}

// TimerPayload contains the timer event details.
type TimerPayload struct {
	Timestamp string `json:"timestamp"`
	Job       string `json:"job"`
	Kind      string `json:"kind"`
	Slot      int    `json:"slot"`
	Count     uint32 `json:"count"`
	Remaining int    `json:"remaining"`
	Level     string `json:"level,omitempty"`
	Retired   bool   `json:"retired,omitempty"`
}

// FormatPayload creates the JSON payload for a timer event.
func FormatPayload(event TimerEvent) ([]byte, error) {
	payload := Payload{
		Timer: TimerPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
			Job:       event.Job,
			Kind:      event.Kind,
			Slot:      event.Slot,
			Count:     event.Count,
			Remaining: event.Remaining,
			Level:     event.Level,
			Retired:   event.Retired,
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

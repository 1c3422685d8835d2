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
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	Slots         SlotsJSON    `json:"slots"`
	Recent        []EventJSON  `json:"recent"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// SlotsJSON reports slot table occupancy.
type SlotsJSON struct {
	Active   int        `json:"active"`
	Capacity int        `json:"capacity"`
	Timers   []SlotJSON `json:"timers"`
}

// SlotJSON is the JSON representation of one occupied slot.
type SlotJSON struct {
	ID        int    `json:"id"`
	Job       string `json:"job,omitempty"`
	Kind      string `json:"kind"`
	PeriodMs  uint32 `json:"period_ms"`
	Remaining int    `json:"remaining"`
	Count     uint32 `json:"count"`
	Pin       *int   `json:"pin,omitempty"`
	Level     string `json:"level,omitempty"`
}

// EventJSON is the JSON representation of a recent timer event.
type EventJSON struct {
	Timestamp string `json:"timestamp"`
	Job       string `json:"job,omitempty"`
	Kind      string `json:"kind"`
	Slot      int    `json:"slot"`
	Count     uint32 `json:"count"`
	Level     string `json:"level,omitempty"`
	Retired   bool   `json:"retired,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of activity counts.
type CountsJSON struct {
	Fired                uint64 `json:"fired"`
	Retired              uint64 `json:"retired"`
	RegistrationFailures int    `json:"registration_failures"`
	PublishDropped       uint64 `json:"publish_dropped"`
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
	Capacity    int     `json:"capacity"`
	HeartbeatMs int64   `json:"heartbeat_ms"`
	Broker      string  `json:"broker"`
	HTTPAddr    string  `json:"http_addr"`
	PublishRate float64 `json:"publish_rate"`
}

func buildInner(snap Snapshot) StatusInner {
	timers := make([]SlotJSON, 0, len(snap.Slots))
	for _, s := range snap.Slots {
		sj := SlotJSON{
			ID:        s.ID,
			Job:       s.Job,
			Kind:      s.Kind,
			PeriodMs:  s.PeriodMs,
			Remaining: s.Remaining,
			Count:     s.Count,
			Level:     s.Level,
		}
		if s.Pin >= 0 {
			pin := s.Pin
			sj.Pin = &pin
		}
		timers = append(timers, sj)
	}

	recent := make([]EventJSON, 0, len(snap.Recent))
	for _, e := range snap.Recent {
		recent = append(recent, EventJSON{
			Timestamp: e.Time.UTC().Format(time.RFC3339Nano),
			Job:       e.Job,
			Kind:      e.Kind,
			Slot:      e.Slot,
			Count:     e.Count,
			Level:     e.Level,
			Retired:   e.Retired,
		})
	}

	return StatusInner{
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Slots: SlotsJSON{
			Active:   len(snap.Slots),
			Capacity: snap.Config.Capacity,
			Timers:   timers,
		},
		Recent: recent,
		MQTT: MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Fired:                snap.Counts.Fired,
			Retired:              snap.Counts.Retired,
			RegistrationFailures: snap.Counts.RegistrationFailures,
			PublishDropped:       snap.Counts.PublishDropped,
		},
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			Capacity:    snap.Config.Capacity,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
			PublishRate: snap.Config.PublishRate,
		},
	}
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

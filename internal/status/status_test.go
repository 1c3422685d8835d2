package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/pin-timer/internal/clock"
	"github.com/sweeney/pin-timer/internal/timer"
)

func fixedTracker(start, now time.Time, cfg Config) *Tracker {
	tr := NewTracker(start, cfg)
	tr.now = func() time.Time { return now }
	return tr
}

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{PollMs: 5, Capacity: 10, Broker: "tcp://localhost:1883", HTTPAddr: ":80"}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.PollMs != 5 {
		t.Errorf("Config.PollMs: got %d, want 5", snap.Config.PollMs)
	}
	if snap.Config.HTTPAddr != ":80" {
		t.Errorf("Config.HTTPAddr: got %q, want %q", snap.Config.HTTPAddr, ":80")
	}
	if len(snap.Slots) != 0 {
		t.Error("expected no slots initially")
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
}

func TestUpdateAndSnapshot(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.Update([]Slot{{ID: 0, Job: "led", Kind: "OSCILLATE", Pin: 17, Level: "HIGH"}}, Counts{Fired: 3, Retired: 1})

	snap := tr.Snapshot()
	if len(snap.Slots) != 1 || snap.Slots[0].Job != "led" {
		t.Errorf("Slots: got %+v", snap.Slots)
	}
	if snap.Counts.Fired != 3 {
		t.Errorf("Counts.Fired: got %d, want 3", snap.Counts.Fired)
	}
	if snap.Counts.Retired != 1 {
		t.Errorf("Counts.Retired: got %d, want 1", snap.Counts.Retired)
	}
}

func TestUpdateCopiesSlots(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	slots := []Slot{{ID: 0, Job: "a"}}
	tr.Update(slots, Counts{})

	slots[0].Job = "mutated"

	if got := tr.Snapshot().Slots[0].Job; got != "a" {
		t.Errorf("tracker shares caller's slice: got %q", got)
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}
}

func TestSetNetwork(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.SetNetwork(&NetworkInfo{Type: "wifi", IP: "192.168.1.50"})

	snap := tr.Snapshot()
	if snap.Network == nil || snap.Network.IP != "192.168.1.50" {
		t.Errorf("Network: got %+v", snap.Network)
	}
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := fixedTracker(start, start.Add(90*time.Second), Config{})

	if got := tr.Snapshot().Uptime(); got != 90*time.Second {
		t.Errorf("Uptime: got %v, want 90s", got)
	}
}

func TestSlotsFrom(t *testing.T) {
	clk := clock.NewFake(0)
	s := timer.New(clk, nil)
	every := s.EveryN(1000, nil, 3, nil)
	osc := s.Oscillate(17, 250, timer.High)

	names := map[timer.ID]string{every: "tick", osc: "led"}
	slots := SlotsFrom(s.Slots(), func(id timer.ID) string { return names[id] })

	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	want := []Slot{
		{ID: 0, Job: "tick", Kind: "EVERY", PeriodMs: 1000, Remaining: 3, Pin: -1},
		{ID: 1, Job: "led", Kind: "OSCILLATE", PeriodMs: 250, Remaining: timer.Forever, Pin: 17, Level: "HIGH"},
	}
	for i := range want {
		if slots[i] != want[i] {
			t.Errorf("slot %d: got %+v, want %+v", i, slots[i], want[i])
		}
	}

	if got := SlotsFrom(s.Slots(), nil); got[0].Job != "" {
		t.Errorf("nil namer should leave Job empty, got %q", got[0].Job)
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := fixedTracker(start, start.Add(3661*time.Second), Config{
		PollMs:      5,
		Capacity:    10,
		HeartbeatMs: 900000,
		Broker:      "tcp://192.168.1.200:1883",
		HTTPAddr:    ":80",
		PublishRate: 20,
	})
	tr.Update([]Slot{
		{ID: 0, Job: "heartbeat", Kind: "EVERY", PeriodMs: 900000, Remaining: -1, Pin: -1},
		{ID: 1, Job: "led", Kind: "OSCILLATE", PeriodMs: 500, Remaining: -1, Count: 4, Pin: 17, Level: "LOW"},
	}, Counts{Fired: 42, Retired: 2, RegistrationFailures: 1})
	tr.SetMQTTConnected(true)

	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(tr.Snapshot()), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	s := parsed.Status
	if s.Event != "" || s.Reason != "" {
		t.Error("web JSON should not carry event/reason")
	}
	if s.UptimeSeconds != 3661 {
		t.Errorf("UptimeSeconds: got %d, want 3661", s.UptimeSeconds)
	}
	if s.StartTime != "2026-01-01T00:00:00Z" {
		t.Errorf("StartTime: got %q", s.StartTime)
	}
	if s.Slots.Active != 2 || s.Slots.Capacity != 10 {
		t.Errorf("Slots: got active=%d capacity=%d", s.Slots.Active, s.Slots.Capacity)
	}
	if s.Slots.Timers[0].Pin != nil {
		t.Error("callback slot should omit pin")
	}
	if s.Slots.Timers[1].Pin == nil || *s.Slots.Timers[1].Pin != 17 {
		t.Errorf("oscillate slot pin: got %v", s.Slots.Timers[1].Pin)
	}
	if s.Slots.Timers[1].Level != "LOW" {
		t.Errorf("oscillate slot level: got %q", s.Slots.Timers[1].Level)
	}
	if s.Counts.Fired != 42 || s.Counts.RegistrationFailures != 1 {
		t.Errorf("Counts: got %+v", s.Counts)
	}
	if !s.MQTT.Connected || s.MQTT.Broker != "tcp://192.168.1.200:1883" {
		t.Errorf("MQTT: got %+v", s.MQTT)
	}
	if s.Config.PublishRate != 20 {
		t.Errorf("Config.PublishRate: got %v", s.Config.PublishRate)
	}
	if s.Network != nil {
		t.Error("network should be omitted when unset")
	}
}

func TestFormatJSONEmptyTimersIsArray(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	var raw map[string]map[string]map[string]interface{}
	if err := json.Unmarshal(FormatJSON(tr.Snapshot()), &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	timers, ok := raw["status"]["slots"]["timers"].([]interface{})
	if !ok {
		t.Fatalf("timers should be an array, got %T", raw["status"]["slots"]["timers"])
	}
	if len(timers) != 0 {
		t.Errorf("expected empty timers, got %d", len(timers))
	}
}

func TestFormatStatusEvent(t *testing.T) {
	tr := NewTracker(time.Now(), Config{Broker: "tcp://b:1883"})
	tr.SetNetwork(&NetworkInfo{Type: "ethernet", IP: "10.0.0.2", Status: "connected"})

	var parsed StatusJSON
	if err := json.Unmarshal(FormatStatusEvent(tr.Snapshot(), "SHUTDOWN", "SIGTERM"), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Event != "SHUTDOWN" {
		t.Errorf("Event: got %q", parsed.Status.Event)
	}
	if parsed.Status.Reason != "SIGTERM" {
		t.Errorf("Reason: got %q", parsed.Status.Reason)
	}
	if parsed.Status.Network == nil || parsed.Status.Network.IP != "10.0.0.2" {
		t.Errorf("Network: got %+v", parsed.Status.Network)
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	var raw map[string]map[string]interface{}
	if err := json.Unmarshal(FormatStatusEvent(tr.Snapshot(), "STARTUP", ""), &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, exists := raw["status"]["reason"]; exists {
		t.Error("STARTUP should not carry a reason")
	}
	if raw["status"]["event"] != "STARTUP" {
		t.Errorf("event: got %v", raw["status"]["event"])
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	// Writer
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.Update([]Slot{{ID: 0, Count: uint32(i)}}, Counts{Fired: uint64(i)})
			tr.SetMQTTConnected(i%2 == 0)
			tr.SetNetwork(&NetworkInfo{IP: "1.2.3.4"})
			tr.Record(Event{Job: "led", Count: uint32(i)})
		}
	}()

	// Reader
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = snap.Uptime()
			_ = FormatJSON(snap)
		}
	}()

	wg.Wait()
}

func TestRecordKeepsNewestEvents(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	for i := 0; i < RecentEvents+5; i++ {
		tr.Record(Event{Job: "tick", Count: uint32(i)})
	}

	recent := tr.Snapshot().Recent
	if len(recent) != RecentEvents {
		t.Fatalf("recent: got %d events, want %d", len(recent), RecentEvents)
	}
	if recent[0].Count != 5 {
		t.Errorf("oldest kept: got count %d, want 5", recent[0].Count)
	}
	if last := recent[len(recent)-1]; last.Count != RecentEvents+4 {
		t.Errorf("newest: got count %d, want %d", last.Count, RecentEvents+4)
	}
}

func TestFormatJSONRecent(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC)
	tr := fixedTracker(now.Add(-time.Second), now, Config{})
	tr.Record(Event{Time: now, Job: "led", Kind: "OSCILLATE", Slot: 2, Count: 4, Level: "LOW", Retired: true})

	var raw struct {
		Status struct {
			Recent []map[string]any `json:"recent"`
		} `json:"status"`
	}
	if err := json.Unmarshal(FormatJSON(tr.Snapshot()), &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(raw.Status.Recent) != 1 {
		t.Fatalf("recent: got %d entries", len(raw.Status.Recent))
	}
	ev := raw.Status.Recent[0]
	if ev["job"] != "led" || ev["level"] != "LOW" || ev["retired"] != true {
		t.Errorf("recent event: %v", ev)
	}
	if ev["timestamp"] != "2026-01-01T00:00:01Z" {
		t.Errorf("timestamp: got %v", ev["timestamp"])
	}
}

func TestFormatJSONEmptyRecentIsArray(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var raw map[string]map[string]json.RawMessage
	if err := json.Unmarshal(FormatJSON(tr.Snapshot()), &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := string(raw["status"]["recent"]); got != "[]" {
		t.Errorf("recent: got %s, want []", got)
	}
}

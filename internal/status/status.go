// Package status provides a thread-safe status tracker for the pin-timer daemon.
// It is written by the main loop and read by HTTP handlers and MQTT system events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/pin-timer/internal/ring"
	"github.com/sweeney/pin-timer/internal/timer"
)

// RecentEvents is how many timer events the tracker keeps for display.
const RecentEvents = 20

// NetworkInfo contains network state as written by pi-helper.
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
	Capacity    int
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
	PublishRate float64
}

// Slot is the display form of one occupied scheduler slot.
type Slot struct {
	ID        int
	Job       string
	Kind      string
	PeriodMs  uint32
	Remaining int // firings left; -1 for unbounded
	Count     uint32
	Pin       int    // -1 for callback timers
	Level     string // current pin level, empty for callback timers
}

// Event is one timer firing or retirement, as shown on the status page.
type Event struct {
	Time    time.Time
	Job     string
	Kind    string
	Slot    int
	Count   uint32
	Level   string
	Retired bool
}

// Counts tracks scheduler activity since startup.
type Counts struct {
	Fired                uint64
	Retired              uint64
	RegistrationFailures int
	PublishDropped       uint64
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Slots         []Slot
	Recent        []Event // oldest first
	Counts        Counts
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
	mu     sync.RWMutex
	snap   Snapshot
	recent *ring.Buffer[Event]
	now    func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		recent: ring.New[Event](RecentEvents),
		now:    time.Now,
	}
}

// Update replaces the slot table view and activity counts.
// Called from the main loop after every update pass.
func (t *Tracker) Update(slots []Slot, counts Counts) {
	cp := make([]Slot, len(slots))
	copy(cp, slots)

	t.mu.Lock()
	t.snap.Slots = cp
	t.snap.Counts = counts
	t.mu.Unlock()
}

// Record appends a timer event to the recent-event list, evicting the oldest
// once RecentEvents are held.
func (t *Tracker) Record(ev Event) {
	t.mu.Lock()
	t.recent.Push(ev)
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
	s.Recent = t.recent.Items()
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}

// SlotsFrom converts scheduler snapshots to display form. name returns the
// job registered in a slot; it may be nil.
func SlotsFrom(infos []timer.Info, name func(timer.ID) string) []Slot {
	out := make([]Slot, 0, len(infos))
	for _, in := range infos {
		s := Slot{
			ID:        int(in.ID),
			Kind:      in.Kind.String(),
			PeriodMs:  uint32(in.Period),
			Remaining: in.RepeatCount,
			Count:     in.Count,
			Pin:       -1,
		}
		if in.Kind == timer.KindOscillate {
			s.Pin = int(in.Pin)
			s.Level = in.PinState.String()
		}
		if name != nil {
			s.Job = name(in.ID)
		}
		out = append(out, s)
	}
	return out
}

package timer

import (
	"fmt"

	"github.com/sweeney/pin-timer/internal/clock"
)

// Scheduler owns a fixed table of timer slots and dispatches them from Update.
//
// It is not safe for concurrent use: registration, Stop and Update must all
// run on the same goroutine (typically the host's main loop). Callbacks run
// inline inside Update and may themselves register or stop timers.
type Scheduler struct {
	clock Clock
	pins  PinWriter

	// slots aliases either static (default capacity) or a single heap
	// block allocated by NewSized. It is never resized.
	slots  []slot
	static [DefaultCapacity]slot
	sized  bool

	onFire   func(id ID, info Info)
	onRetire func(id ID, info Info)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithFireHook registers fn to be called after every firing, with the slot's
// state after bookkeeping. A firing that exhausts the repeat count is reported
// here before the retire hook.
func WithFireHook(fn func(id ID, info Info)) Option {
	return func(s *Scheduler) { s.onFire = fn }
}

// WithRetireHook registers fn to be called when a slot retires itself because
// its repeat count ran out. Stop does not trigger it.
func WithRetireHook(fn func(id ID, info Info)) Option {
	return func(s *Scheduler) { s.onRetire = fn }
}

// New creates a scheduler with DefaultCapacity slots held inside the
// Scheduler value itself. pins may be nil if no waveform timers are used.
func New(clk Clock, pins PinWriter, opts ...Option) *Scheduler {
	s := &Scheduler{clock: clk, pins: pins}
	s.slots = s.static[:]
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSized creates a scheduler with capacity slots. The table is allocated
// once here and released by Close; a capacity equal to DefaultCapacity uses
// the built-in table instead.
func NewSized(capacity int, clk Clock, pins PinWriter, opts ...Option) (*Scheduler, error) {
	if capacity < 1 || capacity > MaxCapacity {
		return nil, fmt.Errorf("%w: %d (want 1..%d)", ErrInvalidCapacity, capacity, MaxCapacity)
	}
	if capacity == DefaultCapacity {
		return New(clk, pins, opts...), nil
	}
	s := New(clk, pins, opts...)
	s.slots = make([]slot, capacity)
	s.sized = true
	return s, nil
}

// Close releases the slot table. Afterwards the scheduler has no capacity:
// registrations return NoTimerAvailable and Update does nothing.
// Calling Close more than once is harmless.
func (s *Scheduler) Close() {
	if s.slots == nil {
		return
	}
	if !s.sized {
		s.static = [DefaultCapacity]slot{}
	}
	s.slots = nil
	s.sized = false
}

// Capacity returns the number of slots.
func (s *Scheduler) Capacity() int {
	return len(s.slots)
}

// Active returns the number of occupied slots.
func (s *Scheduler) Active() int {
	n := 0
	for i := range s.slots {
		if s.slots[i].kind != KindNone {
			n++
		}
	}
	return n
}

// Lookup returns a snapshot of the slot at id. ok is false for sentinel,
// out-of-range or free slots.
func (s *Scheduler) Lookup(id ID) (info Info, ok bool) {
	if !s.inRange(id) || s.slots[id].kind == KindNone {
		return Info{}, false
	}
	return s.slots[id].info(id), true
}

// Slots returns snapshots of all occupied slots in index order.
func (s *Scheduler) Slots() []Info {
	var out []Info
	for i := range s.slots {
		if s.slots[i].kind != KindNone {
			out = append(out, s.slots[i].info(ID(i)))
		}
	}
	return out
}

// EveryN calls cb(ctx) each time period elapses, repeatCount times
// (Forever for no limit).
func (s *Scheduler) EveryN(period clock.Millis, cb Callback, repeatCount int, ctx any) ID {
	id, sl := s.claim()
	if sl == nil {
		return NoTimerAvailable
	}
	sl.kind = KindEvery
	sl.period = period
	sl.repeatCount = repeatCount
	sl.callback = cb
	sl.context = ctx
	sl.lastEventTime = s.clock.Now()
	sl.count = 0
	return id
}

// Every calls cb(ctx) each time period elapses until stopped.
func (s *Scheduler) Every(period clock.Millis, cb Callback, ctx any) ID {
	return s.EveryN(period, cb, Forever, ctx)
}

// After calls cb(ctx) once, period from now.
func (s *Scheduler) After(period clock.Millis, cb Callback, ctx any) ID {
	return s.EveryN(period, cb, 1, ctx)
}

// OscillateN sets pin to start immediately and toggles it every period.
// repeatCount counts full cycles (start -> !start -> start), so the slot
// retires after 2*repeatCount toggles. Forever oscillates until stopped.
func (s *Scheduler) OscillateN(pin Pin, period clock.Millis, start Level, repeatCount int) ID {
	id, sl := s.claim()
	if sl == nil {
		return NoTimerAvailable
	}
	sl.kind = KindOscillate
	sl.pin = pin
	sl.period = period
	sl.pinState = start
	s.writePin(pin, start)
	if repeatCount < 0 {
		sl.repeatCount = Forever
	} else {
		sl.repeatCount = repeatCount * 2
	}
	sl.lastEventTime = s.clock.Now()
	sl.count = 0
	return id
}

// Oscillate toggles pin every period until stopped.
func (s *Scheduler) Oscillate(pin Pin, period clock.Millis, start Level) ID {
	return s.OscillateN(pin, period, start, Forever)
}

// Pulse generates a pulse of !start that begins period from now and lasts
// for period. The pin is left at start.
func (s *Scheduler) Pulse(pin Pin, period clock.Millis, start Level) ID {
	return s.OscillateN(pin, period, start, 1)
}

// PulseImmediate drives pin to pulseValue now and flips it to !pulseValue
// after period, where it is left.
func (s *Scheduler) PulseImmediate(pin Pin, period clock.Millis, pulseValue Level) ID {
	id := s.OscillateN(pin, period, pulseValue, 1)
	if s.inRange(id) {
		s.slots[id].repeatCount = 1
	}
	return id
}

// Stop frees the slot at id and returns NotAnEvent, so callers can write
// id = s.Stop(id). Sentinel or out-of-range ids are returned unchanged.
func (s *Scheduler) Stop(id ID) ID {
	if !s.inRange(id) {
		return id
	}
	s.slots[id].release()
	return NotAnEvent
}

// Update fires every due slot once, in index order.
func (s *Scheduler) Update() {
	for i := 0; i < len(s.slots); i++ {
		sl := &s.slots[i]
		if sl.kind == KindNone {
			continue
		}
		s.dispatch(ID(i), sl)
	}
}

func (s *Scheduler) dispatch(id ID, sl *slot) {
	if sl.repeatCount == 0 {
		s.retire(id, sl)
		return
	}

	now := s.clock.Now()
	if clock.Since(now, sl.lastEventTime) < sl.period {
		return
	}
	sl.lastEventTime = now

	gen := sl.gen
	switch sl.kind {
	case KindEvery:
		if sl.callback != nil {
			sl.callback(sl.context)
			// The callback stopped this slot, possibly claiming it again.
			if !s.owns(id, sl, gen) {
				return
			}
		}
	case KindOscillate:
		sl.pinState = !sl.pinState
		s.writePin(sl.pin, sl.pinState)
	}
	sl.count++

	retiring := false
	if sl.repeatCount > 0 {
		sl.repeatCount--
		retiring = sl.repeatCount == 0
	}

	if s.onFire != nil {
		s.onFire(id, sl.info(id))
		if !s.owns(id, sl, gen) {
			return
		}
	}
	if retiring {
		s.retire(id, sl)
	}
}

func (s *Scheduler) retire(id ID, sl *slot) {
	info := sl.info(id)
	sl.release()
	if s.onRetire != nil {
		s.onRetire(id, info)
	}
}

// claim returns the first free slot, or nil when the table is full.
func (s *Scheduler) claim() (ID, *slot) {
	for i := range s.slots {
		sl := &s.slots[i]
		if sl.kind == KindNone {
			gen := sl.gen + 1
			*sl = slot{gen: gen}
			return ID(i), sl
		}
	}
	return NoTimerAvailable, nil
}

// owns reports whether sl is still the live slot claimed as generation gen.
func (s *Scheduler) owns(id ID, sl *slot, gen uint32) bool {
	return s.inRange(id) && &s.slots[id] == sl && sl.gen == gen && sl.kind != KindNone
}

func (s *Scheduler) inRange(id ID) bool {
	return id >= 0 && int(id) < len(s.slots)
}

func (s *Scheduler) writePin(pin Pin, level Level) {
	if s.pins != nil {
		s.pins.SetPin(pin, level)
	}
}

// release frees the slot and drops references held by its payload.
func (sl *slot) release() {
	sl.kind = KindNone
	sl.callback = nil
	sl.context = nil
}

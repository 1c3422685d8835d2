// Package timer contains the cooperative software-timer scheduler.
// This package has NO external dependencies (no GPIO, MQTT, OS, or sleeping).
// Time and pin output are injected through the Clock and PinWriter interfaces.
package timer

import (
	"errors"
	"strconv"

	"github.com/sweeney/pin-timer/internal/clock"
)

// ID is a slot handle: the index of the slot in the scheduler's table.
type ID int8

const (
	// NoTimerAvailable is returned by registrations when every slot is in use.
	NoTimerAvailable ID = -1
	// NotAnEvent is returned by Stop to mark a handle as no longer active.
	NotAnEvent ID = -2
)

// Valid reports whether id is a non-sentinel handle.
func (id ID) Valid() bool {
	return id >= 0
}

// Forever is the repeat count for timers that never self-retire.
const Forever = -1

const (
	// DefaultCapacity is the slot count of a scheduler built with New.
	DefaultCapacity = 10
	// MaxCapacity is the largest table an ID can address.
	MaxCapacity = 127
)

// ErrInvalidCapacity is returned by NewSized for capacities outside [1, MaxCapacity].
var ErrInvalidCapacity = errors.New("timer: invalid capacity")

// Kind discriminates what a slot does when it fires.
type Kind uint8

const (
	KindNone      Kind = iota // free slot
	KindEvery                 // invoke a callback
	KindOscillate             // toggle a pin
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "NONE"
	case KindEvery:
		return "EVERY"
	case KindOscillate:
		return "OSCILLATE"
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Level is a digital output level.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "HIGH"
	}
	return "LOW"
}

// Pin identifies a digital output.
type Pin int

// Callback is invoked with the context supplied at registration.
type Callback func(ctx any)

// Clock returns the current wrapping millisecond counter.
type Clock interface {
	Now() clock.Millis
}

// PinWriter drives a digital output. Errors are the writer's concern;
// the scheduler never sees them.
type PinWriter interface {
	SetPin(pin Pin, level Level)
}

// PinWriterFunc adapts a function to PinWriter.
type PinWriterFunc func(pin Pin, level Level)

// SetPin calls f(pin, level).
func (f PinWriterFunc) SetPin(pin Pin, level Level) {
	f(pin, level)
}

// slot is one entry of the table. kind selects which payload is live:
// callback/context for KindEvery, pin/pinState for KindOscillate.
type slot struct {
	kind          Kind
	period        clock.Millis
	lastEventTime clock.Millis
	repeatCount   int
	count         uint32

	callback Callback
	context  any

	pin      Pin
	pinState Level

	// gen changes on every claim so dispatch can tell whether a callback
	// stopped or replaced the slot it was fired from.
	gen uint32
}

// Info is a read-only view of a slot.
type Info struct {
	ID            ID
	Kind          Kind
	Period        clock.Millis
	LastEventTime clock.Millis
	RepeatCount   int // remaining firings; Forever for unbounded
	Count         uint32
	Pin           Pin   // KindOscillate only
	PinState      Level // KindOscillate only
	HasCallback   bool  // KindEvery only
}

func (s *slot) info(id ID) Info {
	in := Info{
		ID:            id,
		Kind:          s.kind,
		Period:        s.period,
		LastEventTime: s.lastEventTime,
		RepeatCount:   s.repeatCount,
		Count:         s.count,
	}
	switch s.kind {
	case KindEvery:
		in.HasCallback = s.callback != nil
	case KindOscillate:
		in.Pin = s.pin
		in.PinState = s.pinState
	}
	return in
}

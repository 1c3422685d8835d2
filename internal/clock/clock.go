// Package clock provides the wrapping millisecond counter that drives the
// timer scheduler. The real implementation mirrors a microcontroller millis()
// counter; the fake implementation allows testing without sleeping.
package clock

import (
	"time"
)

// Millis is a millisecond timestamp or duration. It wraps after ~49.7 days.
type Millis uint32

// Since returns the time elapsed from then to now. Unsigned subtraction makes
// the result correct across a single counter wraparound.
func Since(now, then Millis) Millis {
	return now - then
}

// FromDuration converts d to whole milliseconds, truncating.
// Negative durations become 0.
func FromDuration(d time.Duration) Millis {
	if d <= 0 {
		return 0
	}
	return Millis(d.Milliseconds())
}

// Duration converts m to a time.Duration.
func (m Millis) Duration() time.Duration {
	return time.Duration(m) * time.Millisecond
}

// System reads milliseconds from the host's monotonic clock.
type System struct {
	start  time.Time
	offset Millis
}

// NewSystem returns a clock that reads 0 at construction.
func NewSystem() *System {
	return &System{start: time.Now()}
}

// NewSystemAt returns a clock that reads offset at construction.
// Starting near the top of the range exercises wraparound on a live device.
func NewSystemAt(offset Millis) *System {
	return &System{start: time.Now(), offset: offset}
}

// Now returns the current counter value, truncated to 32 bits.
func (s *System) Now() Millis {
	return s.offset + Millis(uint64(time.Since(s.start).Milliseconds()))
}

package mqtt

import (
	"errors"
	"math"

	"golang.org/x/time/rate"
)

// ErrDropped is returned by Throttled.Publish when the rate limit is exceeded.
var ErrDropped = errors.New("mqtt: event dropped by rate limit")

// Throttled limits how many timer events per second reach the wrapped
// Publisher. Fast timers would otherwise flood the broker. System events
// pass through unthrottled.
type Throttled struct {
	Publisher
	limiter *rate.Limiter
}

// NewThrottled wraps p so that at most perSecond timer events are published
// per second, with bursts up to perSecond. perSecond <= 0 returns p unchanged.
func NewThrottled(p Publisher, perSecond float64) Publisher {
	if perSecond <= 0 {
		return p
	}
	burst := int(math.Ceil(perSecond))
	return &Throttled{
		Publisher: p,
		limiter:   rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Publish forwards event if the limiter allows it and returns ErrDropped otherwise.
func (t *Throttled) Publish(event TimerEvent) error {
	if !t.limiter.Allow() {
		return ErrDropped
	}
	return t.Publisher.Publish(event)
}

// IsConnected forwards to the wrapped publisher when it reports connection state.
func (t *Throttled) IsConnected() bool {
	if cs, ok := t.Publisher.(ConnectionStatus); ok {
		return cs.IsConnected()
	}
	return false
}

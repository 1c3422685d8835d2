package clock

// Fake is a test clock that only moves when told to.
// Not safe for concurrent use.
type Fake struct {
	now Millis
}

// NewFake creates a Fake reading start.
func NewFake(start Millis) *Fake {
	return &Fake{now: start}
}

// Now returns the current fake time.
func (f *Fake) Now() Millis {
	return f.now
}

// Set moves the clock to m. Moving backwards simulates wraparound.
func (f *Fake) Set(m Millis) {
	f.now = m
}

// Advance moves the clock forward by d, wrapping at the top of the range.
func (f *Fake) Advance(d Millis) {
	f.now += d
}

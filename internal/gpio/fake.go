package gpio

// FakeWriter is a test double that records GPIO writes.
type FakeWriter struct {
	// Writes contains every successful Set call in order.
	Writes []Write

	// levels tracks the last level written per pin
	levels map[int]bool

	// Closed tracks if Close was called
	Closed bool

	// WriteError, if set, will be returned by Set() and nothing is recorded.
	WriteError error
}

// Write is a single recorded Set call.
type Write struct {
	Pin  int
	High bool
}

// NewFakeWriter creates an empty FakeWriter.
func NewFakeWriter() *FakeWriter {
	return &FakeWriter{levels: make(map[int]bool)}
}

// Set records the write.
func (f *FakeWriter) Set(pin int, high bool) error {
	if f.WriteError != nil {
		return f.WriteError
	}
	if f.levels == nil {
		f.levels = make(map[int]bool)
	}
	f.Writes = append(f.Writes, Write{Pin: pin, High: high})
	f.levels[pin] = high
	return nil
}

// Level returns the last level written to pin and whether pin was ever written.
func (f *FakeWriter) Level(pin int) (high bool, ok bool) {
	high, ok = f.levels[pin]
	return high, ok
}

// WritesTo returns the levels written to pin, in order.
func (f *FakeWriter) WritesTo(pin int) []bool {
	var out []bool
	for _, w := range f.Writes {
		if w.Pin == pin {
			out = append(out, w.High)
		}
	}
	return out
}

// Close marks the writer as closed.
func (f *FakeWriter) Close() error {
	f.Closed = true
	return nil
}

// Reset clears recorded writes.
func (f *FakeWriter) Reset() {
	f.Writes = nil
	f.levels = make(map[int]bool)
	f.Closed = false
	f.WriteError = nil
}

//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealWriter drives GPIO outputs on actual hardware using Linux GPIO character device.
// Not safe for concurrent use; the daemon only writes from its main loop.
type RealWriter struct {
	chip  *gpiocdev.Chip
	lines map[int]*gpiocdev.Line
}

// NewRealWriter opens the named GPIO chip (e.g. "gpiochip0").
func NewRealWriter(chipName string) (*RealWriter, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	return &RealWriter{
		chip:  chip,
		lines: make(map[int]*gpiocdev.Line),
	}, nil
}

// Set drives pin high or low, requesting it as an output the first time.
func (w *RealWriter) Set(pin int, high bool) error {
	v := 0
	if high {
		v = 1
	}

	line, ok := w.lines[pin]
	if !ok {
		req, err := w.chip.RequestLine(pin, gpiocdev.AsOutput(v))
		if err != nil {
			return fmt.Errorf("request pin %d: %w", pin, err)
		}
		w.lines[pin] = req
		return nil
	}

	if err := line.SetValue(v); err != nil {
		return fmt.Errorf("set pin %d: %w", pin, err)
	}
	return nil
}

// Close releases GPIO resources.
// Reconfigures every requested pin to input with pull-down (matching Pi boot
// defaults) before closing so nothing is left driven across a reboot.
func (w *RealWriter) Close() error {
	var errs []error

	for pin, line := range w.lines {
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", pin, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
		delete(w.lines, pin)
	}
	if w.chip != nil {
		if err := w.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		w.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// Package gpio provides GPIO output driving with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Writer drives GPIO outputs.
type Writer interface {
	// Set drives pin (BCM numbering) high or low. The line is requested as
	// an output on first use.
	Set(pin int, high bool) error

	// Close releases GPIO resources.
	Close() error
}

// DefaultChip is the Raspberry Pi's main GPIO controller.
const DefaultChip = "gpiochip0"

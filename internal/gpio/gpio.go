// Package gpio provides button input and relay output lines with hardware
// abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Reader reads button input lines.
type Reader interface {
	// Read returns the raw level (0 or 1) of every input line, in the order
	// the lines were requested.
	Read() ([]int, error)

	// Close releases GPIO resources.
	Close() error
}

// Writer drives relay output lines.
type Writer interface {
	// Write sets the raw level of every output line, in the order the lines
	// were requested. len(levels) must match the number of lines.
	Write(levels []int) error

	// Close releases GPIO resources.
	Close() error
}

// DefaultChip is the GPIO character device used on a Raspberry Pi.
const DefaultChip = "gpiochip0"

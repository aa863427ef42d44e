//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealReader reads button lines from actual hardware using Linux GPIO character device.
type RealReader struct {
	chip   *gpiocdev.Chip
	lines  *gpiocdev.Lines
	values []int
}

// NewRealReader requests the given BCM pins as inputs with pull-up.
// Buttons short the line to ground, so an idle button reads 1.
func NewRealReader(chipName string, pins []int) (*RealReader, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	lines, err := chip.RequestLines(pins, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request button pins %v: %w", pins, err)
	}

	return &RealReader{
		chip:   chip,
		lines:  lines,
		values: make([]int, len(pins)),
	}, nil
}

// Read returns the raw level of every button line.
func (r *RealReader) Read() ([]int, error) {
	if err := r.lines.Values(r.values); err != nil {
		return nil, fmt.Errorf("read button pins: %w", err)
	}
	out := make([]int, len(r.values))
	copy(out, r.values)
	return out, nil
}

// Close releases GPIO resources.
// Reconfigures pins to input with pull-down (matching Pi boot defaults) before
// closing to ensure clean state for system shutdown/reboot.
func (r *RealReader) Close() error {
	var errs []error

	if r.lines != nil {
		if err := r.lines.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure button pins: %w", err))
		}
		if err := r.lines.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close button pins: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// RealWriter drives relay coil lines.
type RealWriter struct {
	chip       *gpiocdev.Chip
	lines      *gpiocdev.Lines
	safeLevels []int
}

// NewRealWriter requests the given BCM pins as outputs, initially driven to
// safeLevels (the open/de-energized level of every relay). The same levels
// are driven again on Close.
func NewRealWriter(chipName string, pins []int, safeLevels []int) (*RealWriter, error) {
	if len(pins) != len(safeLevels) {
		return nil, fmt.Errorf("gpio: %d relay pins but %d initial levels", len(pins), len(safeLevels))
	}

	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	lines, err := chip.RequestLines(pins, gpiocdev.AsOutput(safeLevels...))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request relay pins %v: %w", pins, err)
	}

	safe := make([]int, len(safeLevels))
	copy(safe, safeLevels)

	return &RealWriter{
		chip:       chip,
		lines:      lines,
		safeLevels: safe,
	}, nil
}

// Write sets every relay line in one call.
func (w *RealWriter) Write(levels []int) error {
	if err := w.lines.SetValues(levels); err != nil {
		return fmt.Errorf("write relay pins: %w", err)
	}
	return nil
}

// Close opens every relay and releases GPIO resources.
func (w *RealWriter) Close() error {
	var errs []error

	if w.lines != nil {
		if err := w.lines.SetValues(w.safeLevels); err != nil {
			errs = append(errs, fmt.Errorf("open relays: %w", err))
		}
		if err := w.lines.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close relay pins: %w", err))
		}
	}
	if w.chip != nil {
		if err := w.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

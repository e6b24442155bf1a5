//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// Chip wraps a GPIO character device and hands out requested lines.
type Chip struct {
	chip *gpiocdev.Chip
}

// OpenChip opens the named GPIO chip (e.g. "gpiochip0").
func OpenChip(name string) (*Chip, error) {
	c, err := gpiocdev.NewChip(name)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", name, err)
	}
	return &Chip{chip: c}, nil
}

// Close releases the chip. Lines requested from it must be closed first.
func (c *Chip) Close() error {
	return c.chip.Close()
}

// RequestInput requests the line at offset as an input.
func (c *Chip) RequestInput(offset int) (Input, error) {
	line, err := c.chip.RequestLine(offset, gpiocdev.AsInput)
	if err != nil {
		return nil, fmt.Errorf("request input line %d: %w", offset, err)
	}
	return &realInput{line: line}, nil
}

// RequestOutput requests the line at offset as an output, driven low.
// Safety outputs (relay, GFI test, GFI reset, watchdog) must all start low.
func (c *Chip) RequestOutput(offset int) (Output, error) {
	line, err := c.chip.RequestLine(offset, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("request output line %d: %w", offset, err)
	}
	return &realOutput{line: line}, nil
}

type realInput struct {
	line *gpiocdev.Line
}

func (r *realInput) Value() (bool, error) {
	v, err := r.line.Value()
	if err != nil {
		return false, fmt.Errorf("read line: %w", err)
	}
	return v != 0, nil
}

func (r *realInput) Close() error {
	return r.line.Close()
}

type realOutput struct {
	line *gpiocdev.Line
}

func (r *realOutput) Set(level bool) error {
	v := 0
	if level {
		v = 1
	}
	if err := r.line.SetValue(v); err != nil {
		return fmt.Errorf("set line: %w", err)
	}
	return nil
}

// Close drives the line low before releasing it so the hardware is left in
// the safe state across restarts.
func (r *realOutput) Close() error {
	if err := r.line.SetValue(0); err != nil {
		r.line.Close()
		return fmt.Errorf("drive line low on close: %w", err)
	}
	return r.line.Close()
}

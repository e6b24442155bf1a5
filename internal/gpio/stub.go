//go:build !linux

package gpio

import "errors"

// Chip is not available on non-Linux platforms.
type Chip struct{}

// OpenChip returns an error on non-Linux platforms.
func OpenChip(name string) (*Chip, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Close is not implemented on non-Linux platforms.
func (c *Chip) Close() error { return nil }

// RequestInput is not implemented on non-Linux platforms.
func (c *Chip) RequestInput(offset int) (Input, error) {
	return nil, errors.New("gpio: not supported")
}

// RequestOutput is not implemented on non-Linux platforms.
func (c *Chip) RequestOutput(offset int) (Output, error) {
	return nil, errors.New("gpio: not supported")
}

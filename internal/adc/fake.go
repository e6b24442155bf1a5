package adc

import (
	"fmt"
	"sync"
)

// Fake is a test double returning scripted codes per channel.
type Fake struct {
	mu sync.Mutex

	// Samples maps channel -> scripted codes. Each Read on a channel
	// consumes the next code; once exhausted the last code repeats.
	Samples map[int][]uint16

	// index tracks current position per channel
	index map[int]int

	// ReadError, if set, will be returned by Read()
	ReadError error

	// Reads counts total Read calls across channels.
	Reads int

	// Closed tracks if Close was called
	Closed bool
}

// NewFake creates a Fake with the given per-channel scripts.
func NewFake(samples map[int][]uint16) *Fake {
	return &Fake{
		Samples: samples,
		index:   make(map[int]int),
	}
}

// Read returns the next scripted code for the channel.
// If the channel's codes are exhausted, the last one repeats.
func (f *Fake) Read(channel int) (uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Reads++
	if f.ReadError != nil {
		return 0, f.ReadError
	}

	codes := f.Samples[channel]
	if len(codes) == 0 {
		return 0, fmt.Errorf("no samples configured for channel %d", channel)
	}

	i := f.index[channel]
	code := codes[i]
	if i < len(codes)-1 {
		if f.index == nil {
			f.index = make(map[int]int)
		}
		f.index[channel] = i + 1
	}
	return code, nil
}

// SetChannel replaces the script for a channel and rewinds it.
func (f *Fake) SetChannel(channel int, codes ...uint16) {
	f.mu.Lock()
	if f.Samples == nil {
		f.Samples = make(map[int][]uint16)
	}
	if f.index == nil {
		f.index = make(map[int]int)
	}
	f.Samples[channel] = codes
	f.index[channel] = 0
	f.mu.Unlock()
}

// Close marks the converter as closed.
func (f *Fake) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

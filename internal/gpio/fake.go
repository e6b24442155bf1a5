package gpio

import (
	"errors"
	"sync"
)

// FakeInput is a test double that returns scripted line levels.
// Safe for concurrent use: components poll inputs from their own goroutines.
type FakeInput struct {
	mu sync.Mutex

	// Levels contains scripted levels to return. Each call to Value()
	// consumes the next one; once exhausted the last level repeats.
	Levels []bool

	// index tracks current position in Levels
	index int

	// ReadError, if set, will be returned by Value()
	ReadError error

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeInput creates a FakeInput with the given scripted levels.
func NewFakeInput(levels ...bool) *FakeInput {
	return &FakeInput{Levels: levels}
}

// Value returns the next scripted level.
// If levels are exhausted, returns the last level repeatedly.
func (f *FakeInput) Value() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ReadError != nil {
		return false, f.ReadError
	}
	if len(f.Levels) == 0 {
		return false, errors.New("no levels configured")
	}

	level := f.Levels[f.index]
	if f.index < len(f.Levels)-1 {
		f.index++
	}
	return level, nil
}

// SetLevel replaces the script with a single steady level.
func (f *FakeInput) SetLevel(level bool) {
	f.Script(level)
}

// Script replaces the scripted levels and rewinds to the first.
func (f *FakeInput) Script(levels ...bool) {
	f.mu.Lock()
	f.Levels = levels
	f.index = 0
	f.mu.Unlock()
}

// Close marks the input as closed.
func (f *FakeInput) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// FakeOutput records levels written to an output line.
type FakeOutput struct {
	mu sync.Mutex

	// History contains every level written, in order.
	History []bool

	// SetError, if set, will be returned by Set()
	SetError error

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeOutput creates a FakeOutput.
func NewFakeOutput() *FakeOutput {
	return &FakeOutput{}
}

// Set records the written level.
func (f *FakeOutput) Set(level bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SetError != nil {
		return f.SetError
	}
	f.History = append(f.History, level)
	return nil
}

// Level returns the most recently written level (false if never written).
func (f *FakeOutput) Level() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.History) == 0 {
		return false
	}
	return f.History[len(f.History)-1]
}

// Writes returns the number of levels written so far.
func (f *FakeOutput) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.History)
}

// Toggles counts level changes in the write history.
func (f *FakeOutput) Toggles() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for i := 1; i < len(f.History); i++ {
		if f.History[i] != f.History[i-1] {
			n++
		}
	}
	return n
}

// Close marks the output as closed.
func (f *FakeOutput) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

package pilot

import "sync"

// FakePWM records PWM programming for test assertions.
type FakePWM struct {
	mu sync.Mutex

	// PeriodNs is the last programmed period.
	PeriodNs int

	// HighNs contains every programmed high time, in order.
	HighNs []int

	// Enabled is the last enable state.
	Enabled bool

	// Err, if set, will be returned by every method.
	Err error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakePWM creates a FakePWM.
func NewFakePWM() *FakePWM {
	return &FakePWM{}
}

// SetPeriod records the period.
func (f *FakePWM) SetPeriod(periodNs int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.PeriodNs = periodNs
	return nil
}

// SetHighNanos records the high time.
func (f *FakePWM) SetHighNanos(highNs int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.HighNs = append(f.HighNs, highNs)
	return nil
}

// LastHigh returns the most recently programmed high time (-1 if none).
func (f *FakePWM) LastHigh() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.HighNs) == 0 {
		return -1
	}
	return f.HighNs[len(f.HighNs)-1]
}

// Enable records the enable state.
func (f *FakePWM) Enable(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Enabled = on
	return nil
}

// Close marks the PWM as closed.
func (f *FakePWM) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

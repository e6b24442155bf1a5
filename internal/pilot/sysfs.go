package pilot

import (
	"fmt"
	"os"
	"path/filepath"
)

// SysfsPWM drives a hardware PWM channel through the Linux sysfs interface
// (/sys/class/pwm/pwmchipN/pwmM). The channel must already be exported by
// the board bring-up (device-tree overlay plus an export write).
type SysfsPWM struct {
	period    *os.File
	dutyCycle *os.File
	enable    *os.File
}

// DefaultPWMPath is the exported pilot channel on the controller board.
const DefaultPWMPath = "/sys/class/pwm/pwmchip0/pwm0"

// NewSysfsPWM opens the period, duty_cycle and enable files under dir.
func NewSysfsPWM(dir string) (*SysfsPWM, error) {
	period, err := os.OpenFile(filepath.Join(dir, "period"), os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open pwm period: %w", err)
	}
	duty, err := os.OpenFile(filepath.Join(dir, "duty_cycle"), os.O_WRONLY, 0)
	if err != nil {
		period.Close()
		return nil, fmt.Errorf("open pwm duty_cycle: %w", err)
	}
	enable, err := os.OpenFile(filepath.Join(dir, "enable"), os.O_WRONLY, 0)
	if err != nil {
		period.Close()
		duty.Close()
		return nil, fmt.Errorf("open pwm enable: %w", err)
	}

	return &SysfsPWM{period: period, dutyCycle: duty, enable: enable}, nil
}

func writeInt(f *os.File, v int) error {
	// sysfs attributes want a full value per write, not appends
	if _, err := f.WriteAt([]byte(fmt.Sprintf("%d\n", v)), 0); err != nil {
		return fmt.Errorf("write %s: %w", f.Name(), err)
	}
	return nil
}

// SetPeriod programs the PWM period in nanoseconds.
func (p *SysfsPWM) SetPeriod(periodNs int) error {
	return writeInt(p.period, periodNs)
}

// SetHighNanos programs the per-period high time in nanoseconds.
func (p *SysfsPWM) SetHighNanos(highNs int) error {
	return writeInt(p.dutyCycle, highNs)
}

// Enable turns the PWM output on or off.
func (p *SysfsPWM) Enable(on bool) error {
	v := 0
	if on {
		v = 1
	}
	return writeInt(p.enable, v)
}

// Close closes the sysfs files. The PWM keeps its last programmed output.
func (p *SysfsPWM) Close() error {
	var firstErr error
	for _, f := range []*os.File{p.period, p.dutyCycle, p.enable} {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

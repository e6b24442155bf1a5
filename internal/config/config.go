// Package config handles loading and validation of the optional juiced.yaml
// configuration file. Values not present in the file keep their defaults;
// command-line flags override the file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dkronst/juiced/internal/gpio"
	"github.com/dkronst/juiced/internal/pilot"
	"github.com/dkronst/juiced/internal/power"
)

// Duration wraps time.Duration so YAML accepts "250ms" / "15m" strings.
type Duration time.Duration

// UnmarshalYAML decodes a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Pins holds the BCM pin assignment.
type Pins struct {
	Watchdog  int `yaml:"watchdog"`
	Relay     int `yaml:"relay"`
	GfiStatus int `yaml:"gfi_status"`
	GfiTest   int `yaml:"gfi_test"`
	GfiReset  int `yaml:"gfi_reset"`
	RelayTest int `yaml:"relay_test"`
}

// Config is the daemon configuration.
type Config struct {
	Poll        Duration `yaml:"poll"`
	Heartbeat   Duration `yaml:"heartbeat"`
	OfferAmps   float64  `yaml:"offer_amps"`
	GraceWindow Duration `yaml:"grace_window"`
	GfiHoldoff  Duration `yaml:"gfi_holdoff"`
	WatchdogHz  int      `yaml:"watchdog_hz"`

	Broker   string `yaml:"broker"`
	HTTPAddr string `yaml:"http"`
	WSBroker string `yaml:"ws_broker"`

	Pins    Pins   `yaml:"pins"`
	PWMPath string `yaml:"pwm_path"`
	SPIPort string `yaml:"spi_port"`
}

// Offerable current bounds: below 6 A the duty encoding leaves the linear
// range, above 51 A it switches to the high-current formula this hardware
// does not implement.
const (
	MinOfferAmps = 6
	MaxOfferAmps = 51
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Poll:        Duration(250 * time.Millisecond),
		Heartbeat:   Duration(15 * time.Minute),
		OfferAmps:   32,
		GraceWindow: Duration(5 * time.Second),
		GfiHoldoff:  Duration(10 * time.Second),
		WatchdogHz:  power.DefaultWatchdogHz,
		Broker:      "tcp://localhost:1883",
		HTTPAddr:    ":8080",
		Pins: Pins{
			Watchdog:  gpio.DefaultPinWatchdog,
			Relay:     gpio.DefaultPinPower,
			GfiStatus: gpio.DefaultPinGfiStatus,
			GfiTest:   gpio.DefaultPinGfiTest,
			GfiReset:  gpio.DefaultPinGfiReset,
			RelayTest: gpio.DefaultPinRelayTest,
		},
		PWMPath: pilot.DefaultPWMPath,
		SPIPort: "",
	}
}

// Load reads the YAML file at path over the defaults and validates the
// result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the hardware cannot honor.
func (c Config) Validate() error {
	if c.Poll <= 0 {
		return fmt.Errorf("poll must be positive")
	}
	if c.OfferAmps < MinOfferAmps || c.OfferAmps > MaxOfferAmps {
		return fmt.Errorf("offer_amps %.1f outside %d-%d A", c.OfferAmps, MinOfferAmps, MaxOfferAmps)
	}
	if c.WatchdogHz <= 0 {
		return fmt.Errorf("watchdog_hz must be positive")
	}
	if c.GraceWindow.Std() <= 0 {
		return fmt.Errorf("grace_window must be positive")
	}
	if c.GfiHoldoff.Std() < 0 {
		return fmt.Errorf("gfi_holdoff must not be negative")
	}
	for name, pin := range map[string]int{
		"watchdog":   c.Pins.Watchdog,
		"relay":      c.Pins.Relay,
		"gfi_status": c.Pins.GfiStatus,
		"gfi_test":   c.Pins.GfiTest,
		"gfi_reset":  c.Pins.GfiReset,
		"relay_test": c.Pins.RelayTest,
	} {
		if pin < 0 || pin > 27 {
			return fmt.Errorf("pins.%s: %d is not a BCM pin", name, pin)
		}
	}
	return nil
}

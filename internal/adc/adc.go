// Package adc provides access to the 3-channel SPI ADC with hardware
// abstraction. The real implementation drives an MCP3008 through periph.io;
// the fake implementation allows testing without hardware.
package adc

// ADC channel assignments on the controller board.
const (
	ChannelPilot   = 0 // pilot feedback voltage
	ChannelCurrent = 1 // current sense, zero code ~512
	ChannelVoltage = 2 // AC voltage sense, peak detect
)

// Codes is the ADC resolution: readings are 10-bit, 0..1023.
const Codes = 1024

// Converter reads raw codes from the ADC.
type Converter interface {
	// Read performs a single-ended conversion on the given channel and
	// returns the 10-bit code.
	Read(channel int) (uint16, error)

	// Close releases the SPI port.
	Close() error
}

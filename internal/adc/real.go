package adc

import (
	"fmt"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// MCP3008 reads an MCP3008 over SPI.
//
// Bus speed is kept at 1 MHz: the chip converts fine faster, but linearity
// of the sample-and-hold degrades above that on a 3.3 V supply.
type MCP3008 struct {
	port spi.PortCloser
	conn spi.Conn
}

// NewMCP3008 opens the named SPI port ("" selects the first available one,
// "SPI0.0" the usual chip-select on a Pi) and configures it for the MCP3008.
func NewMCP3008(portName string) (*MCP3008, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph host: %w", err)
	}

	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("open spi port %q: %w", portName, err)
	}

	conn, err := port.Connect(physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("connect spi: %w", err)
	}

	return &MCP3008{port: port, conn: conn}, nil
}

// Read performs a single-ended conversion on the given channel (0-7).
func (m *MCP3008) Read(channel int) (uint16, error) {
	if channel < 0 || channel > 7 {
		return 0, fmt.Errorf("channel %d out of range", channel)
	}

	// Frame per the MCP3008 datasheet: start bit, then single-ended mode
	// plus channel in the top nibble of the second byte. The 10-bit result
	// arrives in the low bits of the last two bytes.
	tx := []byte{0x01, byte(0x80 | channel<<4), 0x00}
	rx := make([]byte, 3)
	if err := m.conn.Tx(tx, rx); err != nil {
		return 0, fmt.Errorf("spi transfer: %w", err)
	}

	return uint16(rx[1]&0x03)<<8 | uint16(rx[2]), nil
}

// Close releases the SPI port.
func (m *MCP3008) Close() error {
	return m.port.Close()
}

// Package spi implements the concentrator register transport over a native
// SPI port, the usual attachment for SX130x reference boards on embedded
// hosts.
package spi

import (
	"fmt"
	"time"

	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"
)

// Bus parameters of the SX130x host interface
const (
	busSpeed = 8 * physic.MegaHertz

	// MSB of the first frame byte selects write access
	writeFlag = 0x80
)

// Transport drives one concentrator over a SPI port. Register access is a
// fixed 3-byte frame: address high bits with the access flag, address low
// byte, then the data byte.
type Transport struct {
	port spi.PortCloser
	conn spi.Conn
}

// Open claims a SPI port by registry name or device path ("" picks the first
// available port).
func Open(name string) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize host: %w", err)
	}

	port, err := spireg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %q: %w", name, err)
	}

	conn, err := port.Connect(busSpeed, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to connect SPI port %q: %w", name, err)
	}

	return &Transport{port: port, conn: conn}, nil
}

// WriteRegister writes a single register.
func (t *Transport) WriteRegister(addr uint16, value uint8) error {
	w := []byte{byte(addr>>8) | writeFlag, byte(addr), value}
	if err := t.conn.Tx(w, nil); err != nil {
		return fmt.Errorf("write 0x%04X: %w", addr, err)
	}
	return nil
}

// ReadRegister reads a single register.
func (t *Transport) ReadRegister(addr uint16) (uint8, error) {
	w := []byte{byte(addr>>8) &^ writeFlag, byte(addr), 0x00}
	r := make([]byte, len(w))
	if err := t.conn.Tx(w, r); err != nil {
		return 0, fmt.Errorf("read 0x%04X: %w", addr, err)
	}
	return r[2], nil
}

// Sleep blocks the calling context for settle and poll delays.
func (t *Transport) Sleep(d time.Duration) {
	time.Sleep(d)
}

// Close releases the SPI port.
func (t *Transport) Close() error {
	return t.port.Close()
}

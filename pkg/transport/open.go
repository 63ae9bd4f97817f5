// Package transport selects a concentrator bus implementation from a CLI
// device spec.
package transport

import (
	"strings"
	"time"

	"github.com/helium/packet-forwarder-test/pkg/transport/sim"
	"github.com/helium/packet-forwarder-test/pkg/transport/spi"
	"github.com/helium/packet-forwarder-test/pkg/transport/usb"
)

// Handle is a concentrator bus that must be released after use.
type Handle interface {
	WriteRegister(addr uint16, value uint8) error
	ReadRegister(addr uint16) (uint8, error)
	Sleep(d time.Duration)
	Close() error
}

// Open resolves a device spec:
//
//	sim                in-memory device model, no hardware
//	usb[:serial]       USB MCU bridge, optionally pinned to a serial number
//	anything else      SPI port name or device path ("" for the first port)
func Open(spec string) (Handle, error) {
	switch {
	case spec == "sim":
		return sim.New(), nil
	case spec == "usb":
		return usb.Open("")
	case strings.HasPrefix(spec, "usb:"):
		return usb.Open(strings.TrimPrefix(spec, "usb:"))
	case strings.HasPrefix(spec, "spi:"):
		return spi.Open(strings.TrimPrefix(spec, "spi:"))
	default:
		return spi.Open(spec)
	}
}

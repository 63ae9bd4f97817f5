// Package usb implements the concentrator register transport over the USB
// MCU bridge found on picocell gateways. The bridge exposes a framed
// command protocol on a bulk endpoint pair and relays register accesses to
// the chip's SPI bus.
package usb

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/gousb"
)

// USB identity of the bridge MCU (STM32 CDC)
const (
	VendorID  = 0x0483
	ProductID = 0x5740
)

// Framed command protocol: app(1) + cmd(1) + length(2 LE) + payload out,
// '@'(1) + app(1) + cmd(1) + length(2 LE) + payload back.
const (
	responseMarker = '@'

	appRegister = 0x52

	cmdReadReg  = 0x01
	cmdWriteReg = 0x02

	defaultTimeout = 500 * time.Millisecond
	recvBufferSize = 512
)

// Transport drives one concentrator through the USB bridge.
type Transport struct {
	usbContext   *gousb.Context
	usbDevice    *gousb.Device
	usbConfig    *gousb.Config
	usbInterface *gousb.Interface
	epIn         *gousb.InEndpoint
	epOut        *gousb.OutEndpoint

	Serial  string
	Product string

	recvBuf []byte
	recvMu  sync.Mutex
}

// Open opens a bridge device. An empty serial accepts the first device
// found; otherwise the device's serial number must match.
func Open(serial string) (*Transport, error) {
	usbCtx := gousb.NewContext()

	usbDev, err := usbCtx.OpenDeviceWithVIDPID(gousb.ID(VendorID), gousb.ID(ProductID))
	if err != nil {
		usbCtx.Close()
		return nil, fmt.Errorf("failed to open device: %w", err)
	}
	if usbDev == nil {
		usbCtx.Close()
		return nil, fmt.Errorf("no concentrator bridge found (%04x:%04x)", VendorID, ProductID)
	}

	t, err := wrapDevice(usbCtx, usbDev)
	if err != nil {
		usbDev.Close()
		usbCtx.Close()
		return nil, err
	}

	if serial != "" && t.Serial != serial {
		t.Close()
		return nil, fmt.Errorf("device serial mismatch: wanted %s, got %s", serial, t.Serial)
	}
	return t, nil
}

func wrapDevice(usbCtx *gousb.Context, usbDev *gousb.Device) (*Transport, error) {
	product, _ := usbDev.Product()
	serial, _ := usbDev.SerialNumber()

	usbDev.SetAutoDetach(true)

	config, err := usbDev.Config(1)
	if err != nil {
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}

	// Bulk data interface of the CDC function
	iface, err := config.Interface(1, 0)
	if err != nil {
		config.Close()
		return nil, fmt.Errorf("failed to claim interface: %w", err)
	}

	epIn, err := iface.InEndpoint(1)
	if err != nil {
		iface.Close()
		config.Close()
		return nil, fmt.Errorf("failed to get IN endpoint: %w", err)
	}

	epOut, err := iface.OutEndpoint(1)
	if err != nil {
		iface.Close()
		config.Close()
		return nil, fmt.Errorf("failed to get OUT endpoint: %w", err)
	}

	t := &Transport{
		usbContext:   usbCtx,
		usbDevice:    usbDev,
		usbConfig:    config,
		usbInterface: iface,
		epIn:         epIn,
		epOut:        epOut,
		Serial:       serial,
		Product:      product,
		recvBuf:      make([]byte, 0, recvBufferSize),
	}

	// Drain any stale data left from a previous session
	t.drainReceiveBuffer()

	return t, nil
}

// WriteRegister relays one register write through the bridge.
func (t *Transport) WriteRegister(addr uint16, value uint8) error {
	payload := make([]byte, 3)
	binary.LittleEndian.PutUint16(payload[0:2], addr)
	payload[2] = value

	if _, err := t.send(appRegister, cmdWriteReg, payload, defaultTimeout); err != nil {
		return fmt.Errorf("write 0x%04X: %w", addr, err)
	}
	return nil
}

// ReadRegister relays one register read through the bridge.
func (t *Transport) ReadRegister(addr uint16) (uint8, error) {
	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, addr)

	response, err := t.send(appRegister, cmdReadReg, payload, defaultTimeout)
	if err != nil {
		return 0, fmt.Errorf("read 0x%04X: %w", addr, err)
	}
	if len(response) < 1 {
		return 0, fmt.Errorf("read 0x%04X: empty response", addr)
	}
	return response[0], nil
}

// Sleep blocks the calling context for settle and poll delays.
func (t *Transport) Sleep(d time.Duration) {
	time.Sleep(d)
}

// Close releases the interface, device and USB context.
func (t *Transport) Close() error {
	if t.usbInterface != nil {
		t.usbInterface.Close()
	}
	if t.usbConfig != nil {
		t.usbConfig.Close()
	}
	var err error
	if t.usbDevice != nil {
		err = t.usbDevice.Close()
	}
	if t.usbContext != nil {
		if cerr := t.usbContext.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (t *Transport) String() string {
	return fmt.Sprintf("%s (Serial: %s)", t.Product, t.Serial)
}

// drainReceiveBuffer reads and discards pending endpoint data on open.
func (t *Transport) drainReceiveBuffer() {
	buf := make([]byte, recvBufferSize)
	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		n, err := t.epIn.ReadContext(ctx, buf)
		cancel()
		if err != nil || n == 0 {
			break
		}
	}
	t.recvBuf = t.recvBuf[:0]
}

// send writes one command frame and waits for the matching response.
func (t *Transport) send(app, cmd uint8, payload []byte, timeout time.Duration) ([]byte, error) {
	packet := make([]byte, 4+len(payload))
	packet[0] = app
	packet[1] = cmd
	binary.LittleEndian.PutUint16(packet[2:4], uint16(len(payload)))
	copy(packet[4:], payload)

	writeCtx, writeCancel := context.WithTimeout(context.Background(), timeout)
	n, err := t.epOut.WriteContext(writeCtx, packet)
	writeCancel()
	if err != nil {
		return nil, fmt.Errorf("failed to write command: %w", err)
	}
	if n != len(packet) {
		return nil, fmt.Errorf("short write: wrote %d of %d bytes", n, len(packet))
	}

	return t.recv(app, cmd, timeout)
}

// recv reads endpoint data until a complete response for app/cmd is
// buffered, or the deadline passes.
func (t *Transport) recv(expectedApp, expectedCmd uint8, timeout time.Duration) ([]byte, error) {
	t.recvMu.Lock()
	defer t.recvMu.Unlock()

	deadline := time.Now().Add(timeout)
	buf := make([]byte, recvBufferSize)

	for {
		response, remaining, err := t.parseResponse(expectedApp, expectedCmd)
		if err == nil {
			t.recvBuf = remaining
			return response, nil
		}

		remainingTime := time.Until(deadline)
		if remainingTime <= 0 {
			return nil, fmt.Errorf("timeout waiting for response")
		}
		readTimeout := 100 * time.Millisecond
		if remainingTime < readTimeout {
			readTimeout = remainingTime
		}

		ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
		n, err := t.epIn.ReadContext(ctx, buf)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			errStr := strings.ToLower(err.Error())
			if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "canceled") {
				continue
			}
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		if n > 0 {
			t.recvBuf = append(t.recvBuf, buf[:n]...)
		}
	}
}

// parseResponse extracts one complete response from the receive buffer.
func (t *Transport) parseResponse(expectedApp, expectedCmd uint8) ([]byte, []byte, error) {
	markerIdx := -1
	for i, b := range t.recvBuf {
		if b == responseMarker {
			markerIdx = i
			break
		}
	}
	if markerIdx == -1 {
		return nil, t.recvBuf, fmt.Errorf("no response marker found")
	}

	data := t.recvBuf[markerIdx:]
	if len(data) < 5 {
		return nil, t.recvBuf, fmt.Errorf("incomplete header")
	}

	app := data[1]
	cmd := data[2]
	length := binary.LittleEndian.Uint16(data[3:5])

	totalLen := 5 + int(length)
	if len(data) < totalLen {
		return nil, t.recvBuf, fmt.Errorf("incomplete payload: have %d, need %d", len(data), totalLen)
	}

	if app != expectedApp || cmd != expectedCmd {
		// Stale frame from an earlier exchange, skip past the marker
		return nil, t.recvBuf[markerIdx+1:], fmt.Errorf("response mismatch: got app=0x%02X cmd=0x%02X", app, cmd)
	}

	payload := make([]byte, length)
	copy(payload, data[5:totalLen])
	return payload, data[totalLen:], nil
}

// Package sim provides an in-memory simulated concentrator implementing the
// core register transport. It models the chip behaviors the control stack
// depends on (calibration latency, TX completion, receive outcomes) with
// scriptable timing, so the configuration path and the RF test state machine
// can be exercised deterministically without hardware or real time passing.
package sim

import (
	"sync"
	"time"

	"github.com/helium/packet-forwarder-test/pkg/concentrator"
)

// RxOutcome scripts one simulated loopback trial result.
type RxOutcome struct {
	Timeout bool    // frame never arrives; receive-wait expires
	Polls   int     // RX status reads before the done bit appears
	RSSIdBm float64 // reported RSSI when received
	SNRdB   float64 // reported SNR when received
	CRCOK   bool    // CRC-valid flag when received
}

// Write records one register write for inspection by tests.
type Write struct {
	Addr  uint16
	Value uint8
}

// Transport is a simulated concentrator chip. The zero value is not usable;
// call New. Configure the exported fields before use; they are not safe to
// change while operations are in flight.
type Transport struct {
	// Version is the value the version register reads back.
	Version uint8

	// CalPolls is the number of calibration status reads before the
	// requested front ends report complete.
	CalPolls int

	// CalFail marks front ends whose calibration reports the failure
	// status bit instead of completing.
	CalFail uint8

	// ImageRej and OscStatus are the per-front-end calibration result codes.
	ImageRej  [concentrator.NumRadios]uint8
	OscStatus [concentrator.NumRadios]uint8

	// ReadErr and WriteErr, when set, can inject bus faults per address.
	ReadErr  func(addr uint16) error
	WriteErr func(addr uint16) error

	mu       sync.Mutex
	regs     map[uint16]uint8
	writes   []Write
	slept    time.Duration
	calMask  uint8
	calReads int
	rxQueue  []RxOutcome
	trial    *RxOutcome
	rxReads  int
}

// New creates a simulated SX1301-class chip with successful default behavior:
// calibration completes on the first poll and every loopback frame echoes
// back immediately with a valid CRC.
func New() *Transport {
	return &Transport{
		Version:   103,
		ImageRej:  [concentrator.NumRadios]uint8{60, 60},
		OscStatus: [concentrator.NumRadios]uint8{1, 1},
		regs:      make(map[uint16]uint8),
	}
}

// QueueRx scripts the outcomes of upcoming loopback trials, consumed in
// order. An empty queue yields immediate successful echoes.
func (t *Transport) QueueRx(outcomes ...RxOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rxQueue = append(t.rxQueue, outcomes...)
}

// WriteRegister implements the register transport.
func (t *Transport) WriteRegister(addr uint16, value uint8) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.WriteErr != nil {
		if err := t.WriteErr(addr); err != nil {
			return err
		}
	}

	t.writes = append(t.writes, Write{Addr: addr, Value: value})
	t.regs[addr] = value

	switch addr {
	case concentrator.RegSoftReset:
		if value&concentrator.SoftResetBit != 0 {
			t.regs = make(map[uint16]uint8)
			t.calMask = 0
			t.trial = nil
		}
	case concentrator.RegCalTrigger:
		t.calMask = value & (concentrator.CalDoneA | concentrator.CalDoneB)
		t.calReads = 0
	case concentrator.RegTxCtrl:
		if value&concentrator.TxStartBit != 0 {
			t.startTrial()
		}
	}
	return nil
}

func (t *Transport) startTrial() {
	outcome := RxOutcome{RSSIdBm: -60, SNRdB: 7.25, CRCOK: true}
	if len(t.rxQueue) > 0 {
		outcome = t.rxQueue[0]
		t.rxQueue = t.rxQueue[1:]
	}
	t.trial = &outcome
	t.rxReads = 0

	// transmission completes instantly in simulation
	t.regs[concentrator.RegTxStatus] |= concentrator.TxDoneBit
	t.regs[concentrator.RegRxStatus] = 0
}

// ReadRegister implements the register transport.
func (t *Transport) ReadRegister(addr uint16) (uint8, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ReadErr != nil {
		if err := t.ReadErr(addr); err != nil {
			return 0, err
		}
	}

	switch addr {
	case concentrator.RegVersion:
		return t.Version, nil
	case concentrator.RegCalStatus:
		return t.calStatus(), nil
	case concentrator.RegRxStatus:
		return t.rxStatus(), nil
	case concentrator.RegRxRSSI:
		if t.trial != nil {
			return concentrator.EncodeRSSI(t.trial.RSSIdBm), nil
		}
	case concentrator.RegRxSNR:
		if t.trial != nil {
			return concentrator.EncodeSNR(t.trial.SNRdB), nil
		}
	case concentrator.RegCalImageA, concentrator.RegCalImageB:
		return t.ImageRej[addr-concentrator.RegCalImageA], nil
	case concentrator.RegCalOscA, concentrator.RegCalOscB:
		return t.OscStatus[addr-concentrator.RegCalOscA], nil
	}
	return t.regs[addr], nil
}

func (t *Transport) calStatus() uint8 {
	if t.calMask == 0 {
		return 0
	}
	if fail := t.CalFail & t.calMask; fail != 0 {
		return concentrator.CalFailMask(fail)
	}
	t.calReads++
	if t.calReads >= t.CalPolls {
		return concentrator.CalDoneMask(t.calMask)
	}
	return 0
}

func (t *Transport) rxStatus() uint8 {
	if t.trial == nil || t.trial.Timeout {
		return 0
	}
	t.rxReads++
	if t.rxReads <= t.trial.Polls {
		return 0
	}
	status := uint8(concentrator.RxDoneBit)
	if t.trial.CRCOK {
		status |= concentrator.RxCRCOKBit
	}
	return status
}

// Sleep implements the register transport delay source. The simulator only
// accounts the time, so polling loops run without real time passing.
func (t *Transport) Sleep(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slept += d
}

// Slept returns the total simulated sleep time.
func (t *Transport) Slept() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slept
}

// Writes returns the register write log in execution order.
func (t *Transport) Writes() []Write {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Write(nil), t.writes...)
}

// Register returns the current value of one simulated register.
func (t *Transport) Register(addr uint16) uint8 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.regs[addr]
}

// SetRegister pokes a simulated register directly.
func (t *Transport) SetRegister(addr uint16, value uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.regs[addr] = value
}

// Close implements the transport handle contract; the simulator holds no
// resources.
func (t *Transport) Close() error { return nil }

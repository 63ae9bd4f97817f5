package concentrator

import (
	"context"
	"fmt"
	"time"
)

// Transport is the raw register access path to one concentrator chip. It is
// the only hardware dependency of this package. Implementations do not retry;
// transient-glitch policy lives in the executor on this side of the contract.
//
// A Transport must never be used concurrently from more than one logical
// operation: register access is stateful and ordering-sensitive. The
// controller serializes all access through one instance per physical chip.
type Transport interface {
	WriteRegister(addr uint16, value uint8) error
	ReadRegister(addr uint16) (uint8, error)
	Sleep(d time.Duration)
}

// Bus retry policy: transient glitches are common on these links, so a failed
// register operation is retried a small bounded number of times with a short
// fixed delay before escalating to a fatal BusError.
const (
	BusRetryAttempts = 3
	BusRetryDelay    = 5 * time.Millisecond
)

// WaitPollInterval is the fixed polling cadence of WaitBitSet operations.
const WaitPollInterval = time.Millisecond

// delayChunk bounds how long a plan delay sleeps between cancellation checks.
const delayChunk = 50 * time.Millisecond

func writeReg(t Transport, addr uint16, value uint8) error {
	var err error
	for attempt := 0; attempt < BusRetryAttempts; attempt++ {
		if attempt > 0 {
			t.Sleep(BusRetryDelay)
		}
		if err = t.WriteRegister(addr, value); err == nil {
			return nil
		}
	}
	return &BusError{Op: "write", Addr: addr, Err: err}
}

func readReg(t Transport, addr uint16) (uint8, error) {
	var err error
	for attempt := 0; attempt < BusRetryAttempts; attempt++ {
		if attempt > 0 {
			t.Sleep(BusRetryDelay)
		}
		var v uint8
		if v, err = t.ReadRegister(addr); err == nil {
			return v, nil
		}
	}
	return 0, &BusError{Op: "read", Addr: addr, Err: err}
}

func writeMasked(t Transport, addr uint16, value, mask uint8) error {
	if mask == 0xFF {
		return writeReg(t, addr, value)
	}
	cur, err := readReg(t, addr)
	if err != nil {
		return err
	}
	return writeReg(t, addr, (cur&^mask)|(value&mask))
}

// ExecutePlan runs a register operation sequence against the transport.
// Cancellation is cooperative: the context is checked before every operation
// and at every delay and poll step, so a cancelled plan stops between bus
// operations, never mid-register.
func ExecutePlan(ctx context.Context, t Transport, ops []RegisterOperation) error {
	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := executeOp(ctx, t, op); err != nil {
			return fmt.Errorf("plan op %d (%s): %w", i, op, err)
		}
	}
	return nil
}

func executeOp(ctx context.Context, t Transport, op RegisterOperation) error {
	switch op.Kind {
	case OpWrite:
		return writeMasked(t, op.Addr, op.Value, op.Mask)
	case OpRead:
		_, err := readReg(t, op.Addr)
		return err
	case OpDelay:
		return sleepCtx(ctx, t, op.Delay)
	case OpWaitBitSet:
		return waitBitSet(ctx, t, op.Addr, op.Mask, op.Timeout)
	default:
		return fmt.Errorf("unknown op kind %d", op.Kind)
	}
}

func sleepCtx(ctx context.Context, t Transport, d time.Duration) error {
	for remaining := d; remaining > 0; remaining -= delayChunk {
		if err := ctx.Err(); err != nil {
			return err
		}
		step := delayChunk
		if remaining < step {
			step = remaining
		}
		t.Sleep(step)
	}
	return ctx.Err()
}

func waitBitSet(ctx context.Context, t Transport, addr uint16, mask uint8, timeout time.Duration) error {
	polls := int(timeout / WaitPollInterval)
	if polls < 1 {
		polls = 1
	}
	for i := 0; i < polls; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		v, err := readReg(t, addr)
		if err != nil {
			return err
		}
		if v&mask == mask {
			return nil
		}
		t.Sleep(WaitPollInterval)
	}
	return fmt.Errorf("register 0x%04X mask 0x%02X after %s: %w", addr, mask, timeout, ErrWaitTimeout)
}

package concentrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// State is the concentrator controller lifecycle state.
type State int

// Controller states, in configuration order
const (
	StateUninitialized State = iota
	StateReset
	StateConfigured
	StateCalibrated
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateReset:
		return "Reset"
	case StateConfigured:
		return "Configured"
	case StateCalibrated:
		return "Calibrated"
	case StateRunning:
		return "Running"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger attaches a logger to the controller.
func WithLogger(logger log.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithCalibrationOptions overrides the calibration polling parameters.
func WithCalibrationOptions(opts CalibrationOptions) Option {
	return func(c *Controller) { c.calOpts = opts }
}

// Controller owns one physical concentrator chip and drives it through
// Uninitialized → Reset → Configured → Calibrated → Running. Each transition
// is valid from exactly one source state (Reset from any); anything else
// fails with InvalidStateTransition and leaves the state unchanged. Nothing
// is retried at this layer beyond the executor's per-operation bus retries:
// failures propagate and the caller decides whether to re-run from Reset.
//
// All bus access is serialized through the controller's mutex; create one
// controller per physical chip and never share a transport between two.
type Controller struct {
	mu        sync.Mutex
	transport Transport
	logger    log.Logger
	calOpts   CalibrationOptions
	state     State
	cfg       *ValidatedConfig
}

// New creates a controller bound to one chip's transport.
func New(t Transport, opts ...Option) *Controller {
	c := &Controller{
		transport: t,
		logger:    log.NewNopLogger(),
		state:     StateUninitialized,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Config returns the applied configuration, nil before Apply.
func (c *Controller) Config() *ValidatedConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// requireState guards a transition. Callers hold c.mu.
func (c *Controller) requireState(op string, required State) error {
	if c.state != required {
		return &InvalidStateTransitionError{Op: op, State: c.state, Required: required}
	}
	return nil
}

// Reset asserts and releases the chip's soft reset. Valid from any state; on
// success the controller is in Reset and any applied configuration is
// forgotten.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ops := []RegisterOperation{
		WriteOp(RegSoftReset, SoftResetBit, SoftResetBit),
		DelayOp(ResetSettleDelay),
		WriteOp(RegSoftReset, 0x00, 0xFF),
		DelayOp(ResetSettleDelay),
	}
	if err := ExecutePlan(ctx, c.transport, ops); err != nil {
		return fmt.Errorf("reset: %w", err)
	}

	version, err := readReg(c.transport, RegVersion)
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	level.Debug(c.logger).Log("msg", "chip out of reset", "version", version)

	c.state = StateReset
	c.cfg = nil
	return nil
}

// Apply programs a validated configuration into the chip by executing the
// built register plan. Valid only from Reset; on success the controller is
// Configured. A failure mid-plan leaves the controller in Reset so the caller
// can retry the whole phase.
func (c *Controller) Apply(ctx context.Context, cfg *ValidatedConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireState("apply", StateReset); err != nil {
		return err
	}

	version, err := readReg(c.transport, RegVersion)
	if err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	if version != cfg.Variant().Version {
		return fmt.Errorf("apply: register 0x%02X reads %d, %s expects %d: %w",
			RegVersion, version, cfg.Chip(), cfg.Variant().Version, ErrVersionMismatch)
	}

	plan := BuildPlan(cfg)
	level.Debug(c.logger).Log("msg", "executing register plan", "chip", cfg.Chip(), "ops", len(plan))
	if err := ExecutePlan(ctx, c.transport, plan); err != nil {
		return fmt.Errorf("apply: %w", err)
	}

	c.state = StateConfigured
	c.cfg = cfg
	return nil
}

// Calibrate runs the chip's self-calibration for all enabled front ends.
// Valid only from Configured; on success the controller is Calibrated. On
// timeout, chip-reported failure or cancellation the controller stays
// Configured and a subsequent Calibrate may be attempted.
func (c *Controller) Calibrate(ctx context.Context) ([]CalibrationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireState("calibrate", StateConfigured); err != nil {
		return nil, err
	}

	results, err := runCalibration(ctx, c.transport, c.cfg.EnabledRadioMask(), c.calOpts)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		level.Info(c.logger).Log("msg", "front end calibrated",
			"radio", r.Radio, "image_rejection", r.ImageRejection, "osc_status", r.OscStatus)
	}

	c.state = StateCalibrated
	return results, nil
}

// Start writes the final concentrator enable register. Valid only from
// Calibrated; on success the controller is Running.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireState("start", StateCalibrated); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writeMasked(c.transport, RegConcentratorEn, ConcentratorEnBit, ConcentratorEnBit); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	c.state = StateRunning
	level.Info(c.logger).Log("msg", "concentrator running")
	return nil
}

// Execute runs a register operation sequence against the chip. Valid only
// while Running; it exists for the RF test layer, which shares the single
// bus access path through this controller.
func (c *Controller) Execute(ctx context.Context, ops []RegisterOperation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireState("execute", StateRunning); err != nil {
		return err
	}
	return ExecutePlan(ctx, c.transport, ops)
}

// ReadRegister reads one register. Valid only while Running.
func (c *Controller) ReadRegister(addr uint16) (uint8, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireState("read", StateRunning); err != nil {
		return 0, err
	}
	return readReg(c.transport, addr)
}

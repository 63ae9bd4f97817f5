package concentrator_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/helium/packet-forwarder-test/pkg/concentrator"
	"github.com/helium/packet-forwarder-test/pkg/transport/sim"
)

var calOpts = concentrator.CalibrationOptions{
	PollInterval: concentrator.DefaultCalPollInterval,
	Timeout:      concentrator.DefaultCalTimeout,
}

func validated(t *testing.T) *concentrator.ValidatedConfig {
	t.Helper()
	cfg, err := eu868Config().Validate()
	require.NoError(t, err)
	return cfg
}

func TestControllerLifecycle(t *testing.T) {
	chip := sim.New()
	ctrl := concentrator.New(chip)
	ctx := context.Background()

	require.Equal(t, concentrator.StateUninitialized, ctrl.State())
	require.Nil(t, ctrl.Config())

	require.NoError(t, ctrl.Reset(ctx))
	require.Equal(t, concentrator.StateReset, ctrl.State())

	cfg := validated(t)
	require.NoError(t, ctrl.Apply(ctx, cfg))
	require.Equal(t, concentrator.StateConfigured, ctrl.State())
	require.Equal(t, cfg, ctrl.Config())

	results, err := ctrl.Calibrate(ctx)
	require.NoError(t, err)
	require.Equal(t, concentrator.StateCalibrated, ctrl.State())
	require.Len(t, results, 2)
	for i, r := range results {
		require.Equal(t, i, r.Radio)
		require.True(t, r.OK)
		require.Equal(t, uint8(60), r.ImageRejection)
	}

	require.NoError(t, ctrl.Start(ctx))
	require.Equal(t, concentrator.StateRunning, ctrl.State())
	require.NotZero(t, chip.Register(concentrator.RegConcentratorEn)&concentrator.ConcentratorEnBit)
}

func TestControllerRejectsWrongState(t *testing.T) {
	chip := sim.New()
	ctrl := concentrator.New(chip)
	ctx := context.Background()
	cfg := validated(t)

	err := ctrl.Apply(ctx, cfg)
	require.ErrorIs(t, err, concentrator.ErrInvalidStateTransition)
	require.Equal(t, concentrator.StateUninitialized, ctrl.State(), "failed transition leaves state unchanged")

	var ist *concentrator.InvalidStateTransitionError
	require.ErrorAs(t, err, &ist)
	require.Equal(t, concentrator.StateReset, ist.Required)

	_, err = ctrl.Calibrate(ctx)
	require.ErrorIs(t, err, concentrator.ErrInvalidStateTransition)
	require.ErrorIs(t, ctrl.Start(ctx), concentrator.ErrInvalidStateTransition)
	require.ErrorIs(t, ctrl.Execute(ctx, nil), concentrator.ErrInvalidStateTransition)

	require.NoError(t, ctrl.Reset(ctx))
	require.NoError(t, ctrl.Apply(ctx, cfg))
	err = ctrl.Apply(ctx, cfg)
	require.ErrorIs(t, err, concentrator.ErrInvalidStateTransition, "apply is not valid from Configured")
}

func TestControllerResetForgetsConfig(t *testing.T) {
	chip := sim.New()
	ctrl := concentrator.New(chip)
	ctx := context.Background()

	require.NoError(t, ctrl.Reset(ctx))
	require.NoError(t, ctrl.Apply(ctx, validated(t)))
	require.NotNil(t, ctrl.Config())

	require.NoError(t, ctrl.Reset(ctx))
	require.Equal(t, concentrator.StateReset, ctrl.State())
	require.Nil(t, ctrl.Config())
}

func TestControllerVersionMismatch(t *testing.T) {
	chip := sim.New()
	chip.Version = 42
	ctrl := concentrator.New(chip)
	ctx := context.Background()

	require.NoError(t, ctrl.Reset(ctx))
	err := ctrl.Apply(ctx, validated(t))
	require.ErrorIs(t, err, concentrator.ErrVersionMismatch)
	require.Equal(t, concentrator.StateReset, ctrl.State())
}

func TestCalibrationPollsUntilDone(t *testing.T) {
	chip := sim.New()
	chip.CalPolls = 5
	ctrl := concentrator.New(chip, concentrator.WithCalibrationOptions(calOpts))
	ctx := context.Background()

	require.NoError(t, ctrl.Reset(ctx))
	require.NoError(t, ctrl.Apply(ctx, validated(t)))

	before := chip.Slept()
	results, err := ctrl.Calibrate(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// four polls come back idle before the fifth reports done
	require.Equal(t, 4*calOpts.PollInterval, chip.Slept()-before)
}

func TestCalibrationTimeout(t *testing.T) {
	chip := sim.New()
	chip.CalPolls = 1000 // never completes within the budget
	ctrl := concentrator.New(chip, concentrator.WithCalibrationOptions(calOpts))
	ctx := context.Background()

	require.NoError(t, ctrl.Reset(ctx))
	require.NoError(t, ctrl.Apply(ctx, validated(t)))

	_, err := ctrl.Calibrate(ctx)
	require.ErrorIs(t, err, concentrator.ErrCalibrationTimeout)
	require.Equal(t, concentrator.StateConfigured, ctrl.State(), "timeout leaves the controller Configured")

	// a retry with a healthy chip succeeds from where we are
	chip.CalPolls = 1
	_, err = ctrl.Calibrate(ctx)
	require.NoError(t, err)
	require.Equal(t, concentrator.StateCalibrated, ctrl.State())
}

func TestCalibrationChipFailure(t *testing.T) {
	chip := sim.New()
	chip.CalFail = 0x02 // front end B fails
	ctrl := concentrator.New(chip, concentrator.WithCalibrationOptions(calOpts))
	ctx := context.Background()

	require.NoError(t, ctrl.Reset(ctx))
	require.NoError(t, ctrl.Apply(ctx, validated(t)))

	_, err := ctrl.Calibrate(ctx)
	require.ErrorIs(t, err, concentrator.ErrCalibrationFailed)
	require.Equal(t, concentrator.StateConfigured, ctrl.State())

	var cerr *concentrator.CalibrationError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, 1, cerr.Radio)
}

func TestCalibrationCancelled(t *testing.T) {
	chip := sim.New()
	chip.CalPolls = 1000
	ctrl := concentrator.New(chip, concentrator.WithCalibrationOptions(calOpts))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, ctrl.Reset(ctx))
	require.NoError(t, ctrl.Apply(ctx, validated(t)))

	// cancel as soon as the status register is first polled
	chip.ReadErr = func(addr uint16) error {
		if addr == concentrator.RegCalStatus {
			cancel()
		}
		return nil
	}

	_, err := ctrl.Calibrate(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, concentrator.StateConfigured, ctrl.State(), "cancellation leaves the controller Configured")

	// and a fresh context completes the calibration
	chip.ReadErr = nil
	chip.CalPolls = 1
	_, err = ctrl.Calibrate(context.Background())
	require.NoError(t, err)
	require.Equal(t, concentrator.StateCalibrated, ctrl.State())
}

func TestBusRetryExhaustion(t *testing.T) {
	chip := sim.New()
	busDown := errors.New("bus glitch")
	chip.ReadErr = func(addr uint16) error {
		if addr == concentrator.RegVersion {
			return busDown
		}
		return nil
	}
	ctrl := concentrator.New(chip)

	err := ctrl.Reset(context.Background())
	require.Error(t, err)

	var berr *concentrator.BusError
	require.ErrorAs(t, err, &berr)
	require.Equal(t, uint16(concentrator.RegVersion), berr.Addr)
	require.ErrorIs(t, err, busDown)
}

func TestBusRetryRecoversFromTransientGlitch(t *testing.T) {
	chip := sim.New()
	glitch := errors.New("bus glitch")
	var attempts int
	chip.ReadErr = func(addr uint16) error {
		if addr == concentrator.RegVersion {
			attempts++
			if attempts < concentrator.BusRetryAttempts {
				return glitch
			}
		}
		return nil
	}
	ctrl := concentrator.New(chip)

	before := chip.Slept()
	require.NoError(t, ctrl.Reset(context.Background()),
		"a glitch shorter than the retry budget is absorbed")
	require.Equal(t, concentrator.BusRetryAttempts, attempts)

	// two reset settle delays plus one retry backoff per failed attempt
	want := 2*concentrator.ResetSettleDelay + 2*concentrator.BusRetryDelay
	require.Equal(t, want, chip.Slept()-before)
	require.Equal(t, concentrator.StateReset, ctrl.State())
}

func TestExecuteGatedOnRunning(t *testing.T) {
	chip := sim.New()
	ctrl := concentrator.New(chip)
	ctx := context.Background()

	require.NoError(t, ctrl.Reset(ctx))
	require.NoError(t, ctrl.Apply(ctx, validated(t)))
	_, err := ctrl.Calibrate(ctx)
	require.NoError(t, err)
	require.NoError(t, ctrl.Start(ctx))

	ops := []concentrator.RegisterOperation{
		concentrator.WriteOp(concentrator.RegTxChain, 3, 0xFF),
	}
	require.NoError(t, ctrl.Execute(ctx, ops))
	require.Equal(t, uint8(3), chip.Register(concentrator.RegTxChain))

	v, err := ctrl.ReadRegister(concentrator.RegTxChain)
	require.NoError(t, err)
	require.Equal(t, uint8(3), v)
}

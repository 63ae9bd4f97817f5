// Package rftest drives a running concentrator through RF self-test
// sequences: transmit/receive loopback, continuous-wave emission for external
// spectral measurement, and packet-error-rate sweeps across the configured
// channels.
package rftest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/helium/packet-forwarder-test/pkg/concentrator"
)

// Mode selects the test sequence of a session.
type Mode string

// Test modes
const (
	ModeLoopback Mode = "loopback"
	ModeCW       Mode = "cw"
	ModePER      Mode = "per"
)

// ParseMode converts a CLI mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeLoopback, ModeCW, ModePER:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown test mode %q (want loopback, cw or per)", s)
	}
}

// Default session parameters
const (
	DefaultTrials      = 10
	DefaultEchoTimeout = 100 * time.Millisecond
	DefaultCWDuration  = time.Second
	DefaultFrameLen    = 52 // fixed-length test frame

	txDoneTimeout = 10 * time.Millisecond
)

// Options configure one test session.
type Options struct {
	Mode Mode

	// Chain is the IF chain under test. In PER mode a negative value
	// sweeps all enabled chains round-robin.
	Chain int

	Trials      int
	EchoTimeout time.Duration
	CWDuration  time.Duration
	FrameLen    int
}

func (o Options) withDefaults() Options {
	if o.Trials <= 0 {
		o.Trials = DefaultTrials
	}
	if o.EchoTimeout <= 0 {
		o.EchoTimeout = DefaultEchoTimeout
	}
	if o.CWDuration <= 0 {
		o.CWDuration = DefaultCWDuration
	}
	if o.FrameLen <= 0 || o.FrameLen > 255 {
		o.FrameLen = DefaultFrameLen
	}
	return o
}

// Session runs RF test trials against one running concentrator controller.
// Each invocation owns its session; outcomes accumulate over the trial count
// and are summarized at session end.
type Session struct {
	ctrl   *concentrator.Controller
	opts   Options
	logger log.Logger
	chains []int
}

// NewSession validates the options against the controller's applied
// configuration. The controller must already be Running.
func NewSession(ctrl *concentrator.Controller, opts Options, logger log.Logger) (*Session, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	opts = opts.withDefaults()

	if ctrl.State() != concentrator.StateRunning {
		return nil, fmt.Errorf("test session needs a running concentrator, controller is %s: %w",
			ctrl.State(), concentrator.ErrInvalidStateTransition)
	}
	cfg := ctrl.Config()

	var chains []int
	if opts.Mode == ModePER && opts.Chain < 0 {
		chains = cfg.EnabledChains()
		if len(chains) == 0 {
			return nil, fmt.Errorf("no enabled IF chains to sweep")
		}
	} else {
		if _, ok := cfg.ChannelFrequencyHz(opts.Chain); !ok {
			return nil, fmt.Errorf("IF chain %d is not enabled", opts.Chain)
		}
		chains = []int{opts.Chain}
	}

	return &Session{ctrl: ctrl, opts: opts, logger: logger, chains: chains}, nil
}

// Run executes the session. Trial timeouts are recorded as failed trials and
// never abort the session; a bus error does, returning the partial report
// alongside the error. A CW session emits for the configured duration and
// returns a report with no trials.
func (s *Session) Run(ctx context.Context) (*Report, error) {
	if s.opts.Mode == ModeCW {
		return s.runCW(ctx)
	}
	return s.runLoopback(ctx)
}

func (s *Session) runLoopback(ctx context.Context) (*Report, error) {
	outcomes := make([]Outcome, 0, s.opts.Trials)

	for trial := 0; trial < s.opts.Trials; trial++ {
		chain := s.chains[trial%len(s.chains)]
		outcome, err := s.runTrial(ctx, trial, chain)
		if err != nil {
			// fatal: report what we have
			return buildReport(s.opts.Mode, outcomes, true), err
		}
		outcomes = append(outcomes, outcome)
		level.Debug(s.logger).Log("msg", "trial complete", "trial", trial,
			"chain", chain, "timed_out", outcome.TimedOut, "crc_ok", outcome.CRCOK,
			"rssi", outcome.RSSIdBm, "snr", outcome.SNRdB)
	}

	report := buildReport(s.opts.Mode, outcomes, false)
	level.Info(s.logger).Log("msg", "session complete", "trials", report.Trials,
		"received", report.Received, "failed", report.Failed, "per", fmt.Sprintf("%.3f", report.PER))
	return report, nil
}

// runTrial drives one Idle → Transmitting → WaitingForEcho → Idle cycle.
func (s *Session) runTrial(ctx context.Context, trial, chain int) (Outcome, error) {
	freq, _ := s.ctrl.Config().ChannelFrequencyHz(chain)
	outcome := Outcome{Trial: trial, Chain: chain, FreqHz: freq, SentAt: time.Now()}

	txOps := []concentrator.RegisterOperation{
		concentrator.WriteOp(concentrator.RegTxChain, uint8(chain), 0xFF),
		concentrator.WriteOp(concentrator.RegTxFrameLen, uint8(s.opts.FrameLen), 0xFF),
		concentrator.WriteOp(concentrator.RegRxStatus, 0x00, 0xFF),
		concentrator.WriteOp(concentrator.RegTxCtrl, concentrator.TxStartBit, concentrator.TxStartBit),
		concentrator.WaitBitSetOp(concentrator.RegTxStatus, concentrator.TxDoneBit, txDoneTimeout),
	}
	if err := s.ctrl.Execute(ctx, txOps); err != nil {
		if errors.Is(err, concentrator.ErrWaitTimeout) {
			outcome.TimedOut = true
			return outcome, s.clearTrial()
		}
		return outcome, err
	}

	echo := []concentrator.RegisterOperation{
		concentrator.WaitBitSetOp(concentrator.RegRxStatus, concentrator.RxDoneBit, s.opts.EchoTimeout),
	}
	if err := s.ctrl.Execute(ctx, echo); err != nil {
		if errors.Is(err, concentrator.ErrWaitTimeout) {
			outcome.TimedOut = true
			return outcome, s.clearTrial()
		}
		return outcome, err
	}
	outcome.ReceivedAt = time.Now()

	status, err := s.ctrl.ReadRegister(concentrator.RegRxStatus)
	if err != nil {
		return outcome, err
	}
	outcome.CRCOK = status&concentrator.RxCRCOKBit != 0

	rssi, err := s.ctrl.ReadRegister(concentrator.RegRxRSSI)
	if err != nil {
		return outcome, err
	}
	snr, err := s.ctrl.ReadRegister(concentrator.RegRxSNR)
	if err != nil {
		return outcome, err
	}
	outcome.RSSIdBm = concentrator.DecodeRSSI(rssi)
	outcome.SNRdB = concentrator.DecodeSNR(snr)

	return outcome, s.clearTrial()
}

// clearTrial returns the chip to Idle between trials.
func (s *Session) clearTrial() error {
	return s.ctrl.Execute(context.Background(), []concentrator.RegisterOperation{
		concentrator.WriteOp(concentrator.RegTxCtrl, 0x00, 0xFF),
		concentrator.WriteOp(concentrator.RegTxStatus, 0x00, 0xFF),
	})
}

// runCW holds an unmodulated carrier on the selected chain's frequency for
// the configured duration, then releases it. There is no receive expectation;
// measurement happens on external instruments.
func (s *Session) runCW(ctx context.Context) (*Report, error) {
	chain := s.chains[0]
	freq, _ := s.ctrl.Config().ChannelFrequencyHz(chain)
	level.Info(s.logger).Log("msg", "emitting CW", "chain", chain,
		"freq_mhz", fmt.Sprintf("%.3f", float64(freq)/1e6), "duration", s.opts.CWDuration)

	ops := []concentrator.RegisterOperation{
		concentrator.WriteOp(concentrator.RegTxChain, uint8(chain), 0xFF),
		concentrator.WriteOp(concentrator.RegTxCtrl, concentrator.TxCWBit, concentrator.TxCWBit),
		concentrator.DelayOp(s.opts.CWDuration),
		concentrator.WriteOp(concentrator.RegTxCtrl, 0x00, concentrator.TxCWBit),
	}
	if err := s.ctrl.Execute(ctx, ops); err != nil {
		// never leave the carrier up
		stopErr := s.ctrl.Execute(context.Background(), []concentrator.RegisterOperation{
			concentrator.WriteOp(concentrator.RegTxCtrl, 0x00, concentrator.TxCWBit),
		})
		if stopErr != nil {
			level.Error(s.logger).Log("msg", "failed to stop CW emission", "error", stopErr)
		}
		return buildReport(s.opts.Mode, nil, true), err
	}
	return buildReport(s.opts.Mode, nil, false), nil
}

package concentrator

import (
	"context"
	"fmt"
	"time"
)

// CalibrationResult reports the outcome of the chip's self-calibration for
// one front end. Read-only once produced.
type CalibrationResult struct {
	Radio          int       `json:"radio"`
	OK             bool      `json:"ok"`
	ImageRejection uint8     `json:"image_rejection"` // chip status code, dB of rejection
	OscStatus      uint8     `json:"osc_status"`      // oscillator trim status code
	Timestamp      time.Time `json:"timestamp"`
}

// CalibrationOptions bound the one polling loop in the configuration path.
// This is the only place a caller-visible timeout applies while configuring.
type CalibrationOptions struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

// Default calibration polling parameters
const (
	DefaultCalPollInterval = 10 * time.Millisecond
	DefaultCalTimeout      = 500 * time.Millisecond
)

func (o CalibrationOptions) withDefaults() CalibrationOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultCalPollInterval
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultCalTimeout
	}
	return o
}

// runCalibration triggers the chip's self-calibration for the front ends in
// the bitmask and polls the status register at a fixed interval until all
// requested front ends report complete, a front end reports failure, the
// timeout budget is spent, or the context is cancelled. The transport's own
// sleep is the delay source, so tests drive the loop without real time.
func runCalibration(ctx context.Context, t Transport, radios uint8, opts CalibrationOptions) ([]CalibrationResult, error) {
	opts = opts.withDefaults()

	radios &= CalDoneA | CalDoneB
	if radios == 0 {
		return nil, fmt.Errorf("calibration: no front ends requested")
	}

	if err := writeReg(t, RegCalTrigger, radios); err != nil {
		return nil, err
	}

	done := CalDoneMask(radios)
	maxPolls := int(opts.Timeout / opts.PollInterval)
	if maxPolls < 1 {
		maxPolls = 1
	}

	for poll := 0; poll < maxPolls; poll++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		status, err := readReg(t, RegCalStatus)
		if err != nil {
			return nil, err
		}

		for i := 0; i < NumRadios; i++ {
			if radios&(1<<i) != 0 && status&(CalFailA<<i) != 0 {
				return nil, &CalibrationError{Radio: i, Err: ErrCalibrationFailed}
			}
		}

		if status&done == done {
			return readCalibrationResults(t, radios)
		}

		t.Sleep(opts.PollInterval)
	}

	return nil, &CalibrationError{Radio: -1, Elapsed: opts.Timeout, Err: ErrCalibrationTimeout}
}

func readCalibrationResults(t Transport, radios uint8) ([]CalibrationResult, error) {
	now := time.Now()
	var results []CalibrationResult
	for i := 0; i < NumRadios; i++ {
		if radios&(1<<i) == 0 {
			continue
		}
		image, err := readReg(t, RegCalImageA+uint16(i))
		if err != nil {
			return nil, err
		}
		osc, err := readReg(t, RegCalOscA+uint16(i))
		if err != nil {
			return nil, err
		}
		results = append(results, CalibrationResult{
			Radio:          i,
			OK:             true,
			ImageRejection: image,
			OscStatus:      osc,
			Timestamp:      now,
		})
	}
	return results, nil
}

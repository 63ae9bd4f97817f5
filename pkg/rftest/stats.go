package rftest

import (
	"fmt"
	"time"
)

// Outcome records one loopback trial: when the frame went out, whether and
// when the echo arrived, and the receive quality when it did.
type Outcome struct {
	Trial      int       `json:"trial"`
	Chain      int       `json:"chain"`
	FreqHz     uint32    `json:"freq"`
	SentAt     time.Time `json:"sent_at"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
	TimedOut   bool      `json:"timed_out"`
	RSSIdBm    float64   `json:"rssi,omitempty"`
	SNRdB      float64   `json:"snr,omitempty"`
	CRCOK      bool      `json:"crc_ok"`
}

// Failed reports whether the trial counts against the packet-error rate:
// either the echo never arrived or it arrived corrupted.
func (o Outcome) Failed() bool {
	return o.TimedOut || !o.CRCOK
}

// Summary is a min/mean/max distribution over received trials.
type Summary struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
}

func (s Summary) String() string {
	return fmt.Sprintf("min %.1f / mean %.1f / max %.1f", s.Min, s.Mean, s.Max)
}

func summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}
	s := Summary{Min: values[0], Max: values[0]}
	var sum float64
	for _, v := range values {
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
		sum += v
	}
	s.Mean = sum / float64(len(values))
	return s
}

// Report aggregates a test session. Partial is set when a fatal bus error
// ended the session before the configured trial count completed.
type Report struct {
	Mode     Mode      `json:"mode"`
	Trials   int       `json:"trials"`
	Received int       `json:"received"`
	Failed   int       `json:"failed"`
	PER      float64   `json:"per"`
	RSSI     Summary   `json:"rssi"`
	SNR      Summary   `json:"snr"`
	Partial  bool      `json:"partial,omitempty"`
	Outcomes []Outcome `json:"outcomes,omitempty"`
}

// WithinThreshold reports whether the session's packet error rate is
// acceptable: strictly below the given maximum. A rate equal to the maximum
// fails.
func (r *Report) WithinThreshold(max float64) bool {
	return r.PER < max
}

func buildReport(mode Mode, outcomes []Outcome, partial bool) *Report {
	r := &Report{
		Mode:     mode,
		Trials:   len(outcomes),
		Partial:  partial,
		Outcomes: outcomes,
	}

	var rssi, snr []float64
	for _, o := range outcomes {
		if o.Failed() {
			r.Failed++
			continue
		}
		r.Received++
		rssi = append(rssi, o.RSSIdBm)
		snr = append(snr, o.SNRdB)
	}
	if r.Trials > 0 {
		r.PER = float64(r.Failed) / float64(r.Trials)
	}
	r.RSSI = summarize(rssi)
	r.SNR = summarize(snr)
	return r
}

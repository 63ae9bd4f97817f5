// Package regions holds the regional uplink channel plans used to check a
// concentrator configuration against the frequencies a deployment is expected
// to listen on.
package regions

import (
	"fmt"
	"strings"

	"github.com/helium/packet-forwarder-test/pkg/concentrator"
)

// Region identifies a regional channel plan.
type Region string

// Supported regions
const (
	EU868   Region = "EU868"
	US915   Region = "US915"
	CN470   Region = "CN470"
	AS923x1 Region = "AS923_1"
	AS923x2 Region = "AS923_2"
	AS923x3 Region = "AS923_3"
)

var uplinkFrequencies = map[Region][]uint32{
	EU868: {
		868_100_000,
		868_300_000,
		868_500_000,
		867_100_000,
		867_300_000,
		867_500_000,
		867_700_000,
		867_900_000,
		868_300_000, // LoRa standard channel
	},
	US915: {
		903_900_000,
		904_100_000,
		904_300_000,
		904_500_000,
		904_700_000,
		904_900_000,
		905_100_000,
		905_300_000,
	},
	CN470: {
		486_300_000,
		486_500_000,
		486_700_000,
		486_900_000,
		487_100_000,
		487_300_000,
		487_500_000,
		487_700_000,
	},
	AS923x1: {
		923_200_000,
		923_400_000,
		923_600_000,
		923_800_000,
		924_000_000,
		924_200_000,
		924_400_000,
		924_600_000,
		924_800_000,
	},
	AS923x2: {
		921_400_000,
		921_600_000,
		921_800_000,
		922_000_000,
		922_200_000,
		922_400_000,
		922_600_000,
		922_800_000,
		923_000_000,
	},
	AS923x3: {
		916_600_000,
		916_800_000,
		917_000_000,
		917_200_000,
		917_400_000,
		917_600_000,
		917_800_000,
		918_000_000,
		918_200_000,
	},
}

// Parse converts a CLI region string (case-insensitive).
func Parse(s string) (Region, error) {
	r := Region(strings.ToUpper(s))
	if _, ok := uplinkFrequencies[r]; !ok {
		return "", fmt.Errorf("unknown region %q", s)
	}
	return r, nil
}

// All returns the supported regions for help text.
func All() []Region {
	return []Region{EU868, US915, CN470, AS923x1, AS923x2, AS923x3}
}

// UplinkFrequencies returns the plan's uplink channel center frequencies in
// Hz, indexed like the concentrator's IF chains.
func (r Region) UplinkFrequencies() []uint32 {
	return append([]uint32(nil), uplinkFrequencies[r]...)
}

// Mismatch reports one channel whose configured frequency differs from the
// regional plan, or that the plan expects but the configuration leaves
// unconfigured.
type Mismatch struct {
	Channel    int
	WantHz     uint32
	GotHz      uint32
	Configured bool
}

func (m Mismatch) String() string {
	if !m.Configured {
		return fmt.Sprintf("channel %d mismatch: expected %d Hz, but channel not configured", m.Channel, m.WantHz)
	}
	return fmt.Sprintf("channel %d mismatch: expected %d Hz, but got %d Hz", m.Channel, m.WantHz, m.GotHz)
}

// VerifyChannelPlan compares the configuration's resolved channel frequencies
// against a regional plan, channel by channel.
func VerifyChannelPlan(cfg *concentrator.ValidatedConfig, r Region) []Mismatch {
	var mismatches []Mismatch
	for i, want := range uplinkFrequencies[r] {
		got, ok := cfg.ChannelFrequencyHz(i)
		if !ok {
			mismatches = append(mismatches, Mismatch{Channel: i, WantHz: want})
			continue
		}
		if got != want {
			mismatches = append(mismatches, Mismatch{Channel: i, WantHz: want, GotHz: got, Configured: true})
		}
	}
	return mismatches
}

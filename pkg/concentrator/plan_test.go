package concentrator_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/helium/packet-forwarder-test/pkg/concentrator"
)

func TestBuildPlanDeterministic(t *testing.T) {
	cfg, err := eu868Config().Validate()
	require.NoError(t, err)

	first := concentrator.BuildPlan(cfg)
	second := concentrator.BuildPlan(cfg)
	require.Equal(t, first, second, "equal configurations must emit identical plans")
}

func TestBuildPlanPhaseOrder(t *testing.T) {
	cfg, err := eu868Config().Validate()
	require.NoError(t, err)

	plan := concentrator.BuildPlan(cfg)
	require.Greater(t, len(plan), 4)

	// Reset sequence comes first: assert, settle, release, settle.
	require.Equal(t, concentrator.OpWrite, plan[0].Kind)
	require.Equal(t, uint16(concentrator.RegSoftReset), plan[0].Addr)
	require.Equal(t, uint8(concentrator.SoftResetBit), plan[0].Value)
	require.Equal(t, concentrator.OpDelay, plan[1].Kind)
	require.Equal(t, concentrator.OpWrite, plan[2].Kind)
	require.Equal(t, uint8(0x00), plan[2].Value)
	require.Equal(t, concentrator.OpDelay, plan[3].Kind)

	// After the reset sequence every op is a write, grouped board, front
	// ends, IF chains, with ascending addresses inside each group.
	phase := func(addr uint16) int {
		switch {
		case addr < concentrator.RadioAddr(0, 0):
			return 0 // board block
		case addr < concentrator.ChainAddr(0, 0):
			return 1 // front end blocks
		default:
			return 2 // IF chain blocks
		}
	}

	prevPhase, prevAddr := -1, uint16(0)
	for _, op := range plan[4:] {
		require.Equal(t, concentrator.OpWrite, op.Kind)
		p := phase(op.Addr)
		require.GreaterOrEqual(t, p, prevPhase, "op %s out of phase", op)
		if p == prevPhase {
			require.Greater(t, op.Addr, prevAddr, "op %s not in ascending address order", op)
		}
		prevPhase, prevAddr = p, op.Addr
	}
	require.Equal(t, 2, prevPhase, "plan must reach the IF chain phase")
}

func TestBuildPlanDisabledRadio(t *testing.T) {
	raw := eu868Config()
	raw.Board.ClockSource = 1
	raw.Radios[0].Enable = false
	// keep only the chains on the surviving front end
	raw.IFChains = raw.IFChains[:3]
	raw.IFChains = append(raw.IFChains,
		concentrator.IFChainConfig{Enable: false},
	)

	cfg, err := raw.Validate()
	require.NoError(t, err)

	plan := concentrator.BuildPlan(cfg)

	var wroteRadio0Freq, wroteRadio0Ctrl bool
	var radio0CtrlValue uint8
	for _, op := range plan {
		if op.Kind != concentrator.OpWrite {
			continue
		}
		switch op.Addr {
		case concentrator.RadioAddr(0, 0):
			wroteRadio0Ctrl = true
			radio0CtrlValue = op.Value
		case concentrator.RadioAddr(0, 2), concentrator.RadioAddr(0, 3), concentrator.RadioAddr(0, 4):
			wroteRadio0Freq = true
		}
	}

	require.True(t, wroteRadio0Ctrl, "disabled front end still gets its enable bit cleared")
	require.Zero(t, radio0CtrlValue&0x01)
	require.False(t, wroteRadio0Freq, "no tuning writes for a disabled front end")
}

func TestBuildPlanDisabledChainOnlyEnableWrite(t *testing.T) {
	raw := eu868Config()
	raw.IFChains[5].Enable = false

	cfg, err := raw.Validate()
	require.NoError(t, err)

	var ifWrites int
	for _, op := range concentrator.BuildPlan(cfg) {
		if op.Kind == concentrator.OpWrite && op.Addr == concentrator.ChainAddr(5, 1) {
			ifWrites++
		}
	}
	require.Zero(t, ifWrites, "disabled chain must not program its IF offset")
}

func TestOperationString(t *testing.T) {
	op := concentrator.WriteOp(0x0041, 0xF3, 0xFF)
	require.Contains(t, op.String(), "0x0041")

	wait := concentrator.WaitBitSetOp(concentrator.RegCalStatus, concentrator.CalDoneA, 0)
	require.Contains(t, wait.String(), "wait")
}

package jesd204

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStageOrder(t *testing.T) {
	stages := Stages()
	require.Len(t, stages, NumStages)
	require.Equal(t, 17, NumStages)
	require.Equal(t, StageDeviceInit, stages[0])
	require.Equal(t, StageOptPostRunning, stages[NumStages-1])
	require.True(t, StageClkSyncStage3 < StageLinkSetup)
	require.True(t, StageLinkSetup < StageLinkEnable)
	require.True(t, StageLinkEnable < StageLinkRunning)
	require.False(t, Stage(NumStages).IsValid())
	require.False(t, Stage(-1).IsValid())
}

func TestParseStage(t *testing.T) {
	testCases := []struct {
		name   string
		input  string
		expect Stage
		ok     bool
	}{
		{"lower", "link_setup", StageLinkSetup, true},
		{"upper", "CLK_SYNC_STAGE2", StageClkSyncStage2, true},
		{"prefixed", "JESD204_OP_LINK_RUNNING", StageLinkRunning, true},
		{"mixed", "Opt_Post_Running_Stage", StageOptPostRunning, true},
		{"unknown", "link_teardown", 0, false},
		{"empty", "", 0, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := ParseStage(tc.input)
			if !tc.ok {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expect, s)
		})
	}

	for _, s := range Stages() {
		parsed, err := ParseStage(s.String())
		require.NoError(t, err)
		require.Equal(t, s, parsed)
	}
}

func TestEnumStrings(t *testing.T) {
	require.Equal(t, "device_init", StageDeviceInit.String())
	require.Equal(t, "stage(42)", Stage(42).String())
	require.Equal(t, "uninit", ReasonUninit.String())
	require.Equal(t, "defer", ResultDefer.String())
	require.Equal(t, "per-device", ModePerDevice.String())
	require.Equal(t, "per-link", Mode(0).String())
	require.Equal(t, "continuous", SysrefContinuous.String())
	require.Equal(t, "64b80b", Encoder64B80B.String())
}

package jesd204

import (
	"fmt"
	"strings"
)

// Stage identifies one stage-operation of the bring-up sequence.
// The order of the constants is the order in which stages run.
type Stage int

// Stages in bring-up order.
const (
	StageDeviceInit Stage = iota
	StageLinkInit
	StageLinkSupported
	StageLinkPreSetup
	StageClkSyncStage1
	StageClkSyncStage2
	StageClkSyncStage3
	StageLinkSetup
	StageOptSetupStage1
	StageOptSetupStage2
	StageOptSetupStage3
	StageOptSetupStage4
	StageOptSetupStage5
	StageClocksEnable
	StageLinkEnable
	StageLinkRunning
	StageOptPostRunning
)

// NumStages is the size of a stage-operation table.
const NumStages = int(StageOptPostRunning) + 1

var stageNames = [NumStages]string{
	"device_init",
	"link_init",
	"link_supported",
	"link_pre_setup",
	"clk_sync_stage1",
	"clk_sync_stage2",
	"clk_sync_stage3",
	"link_setup",
	"opt_setup_stage1",
	"opt_setup_stage2",
	"opt_setup_stage3",
	"opt_setup_stage4",
	"opt_setup_stage5",
	"clocks_enable",
	"link_enable",
	"link_running",
	"opt_post_running_stage",
}

// Stages returns all stages in bring-up order.
func Stages() []Stage {
	stages := make([]Stage, NumStages)
	for n := range stages {
		stages[n] = Stage(n)
	}
	return stages
}

// IsValid indicates s is a defined stage.
func (s Stage) IsValid() bool {
	return s >= 0 && int(s) < NumStages
}

func (s Stage) String() string {
	if !s.IsValid() {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// ParseStage parses a stage name, case-insensitive. Both
// "link_setup" and "LINK_SETUP" forms are accepted, with an optional
// "JESD204_OP_" prefix.
func ParseStage(name string) (Stage, error) {
	key := strings.ToLower(strings.TrimPrefix(strings.ToUpper(name), "JESD204_OP_"))
	for n, s := range stageNames {
		if s == key {
			return Stage(n), nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", name)
}

// Reason tells a callback whether it is bringing the link up or tearing it down.
type Reason int

// Reasons.
const (
	ReasonInit Reason = iota
	ReasonUninit
)

func (r Reason) String() string {
	switch r {
	case ReasonInit:
		return "init"
	case ReasonUninit:
		return "uninit"
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// Result is the outcome of one stage callback.
type Result int

// Results.
const (
	// ResultDone lets the unit proceed.
	ResultDone Result = iota
	// ResultDefer asks the driver to call the unit again on a later pass.
	ResultDefer
	// ResultError aborts the bring-up pass.
	ResultError
)

func (r Result) String() string {
	switch r {
	case ResultDone:
		return "done"
	case ResultDefer:
		return "defer"
	case ResultError:
		return "error"
	}
	return fmt.Sprintf("result(%d)", int(r))
}

// Mode is the execution granularity of a stage-operation.
type Mode int

// Modes. PerLink is the zero value.
const (
	ModePerLink Mode = iota
	ModePerDevice
)

func (m Mode) String() string {
	if m == ModePerDevice {
		return "per-device"
	}
	return "per-link"
}

package sim

import (
	"context"
	"fmt"

	"github.com/golang/glog"

	"github.com/robotalks/jesd204.go/pkg/jesd204"
)

// DefaultMCSAttempts bounds the forced SYSREF pulses of a multichip sync.
const DefaultMCSAttempts = 255

// ConverterConfig describes a transceiver or data converter.
type ConverterConfig struct {
	Name string `json:"name"`
	// Profile holds the parameters the converter applies at LINK_INIT.
	Profile []jesd204.Link `json:"profile"`
	// DeviceClock is the expected device clock in Hz; lane rates must be
	// multiples of it.
	DeviceClock uint64 `json:"device_clock,omitempty"`
	// PLLLockPolls is the number of LINK_SETUP polls before the PLL locks.
	PLLLockPolls int `json:"pll_lock_polls,omitempty"`
	// MCSPulses is the number of forced SYSREF pulses the multichip sync needs.
	MCSPulses int `json:"mcs_pulses,omitempty"`
	// MCSAttempts bounds the forced pulses, DefaultMCSAttempts if 0.
	MCSAttempts int `json:"mcs_attempts,omitempty"`
	MaxLinks    int `json:"max_links,omitempty"`
}

// ConverterState is a snapshot of a Converter.
type ConverterState struct {
	Initialized bool
	PLLLocked   bool
	MCSPulses   int
	OptStages   int
	Enabled     map[uint]bool
	Running     bool
}

// Converter is a top device owning the link parameters.
type Converter struct {
	Config ConverterConfig
	// Faults makes a stage fail with the error on INIT.
	Faults map[jesd204.Stage]error

	profile     map[uint]*jesd204.Link
	initialized bool
	lockPolls   int
	pllLocked   bool
	mcsPulses   int
	optStages   int
	enabled     map[uint]bool
	running     bool
}

// NewConverter creates a Converter.
func NewConverter(conf ConverterConfig) *Converter {
	if conf.MCSAttempts == 0 {
		conf.MCSAttempts = DefaultMCSAttempts
	}
	c := &Converter{
		Config:  conf,
		Faults:  make(map[jesd204.Stage]error),
		profile: make(map[uint]*jesd204.Link),
		enabled: make(map[uint]bool),
	}
	for n := range conf.Profile {
		c.profile[conf.Profile[n].ID] = &conf.Profile[n]
	}
	return c
}

// State returns a snapshot.
func (c *Converter) State() ConverterState {
	st := ConverterState{
		Initialized: c.initialized,
		PLLLocked:   c.pllLocked,
		MCSPulses:   c.mcsPulses,
		OptStages:   c.optStages,
		Enabled:     make(map[uint]bool),
		Running:     c.running,
	}
	for id, en := range c.enabled {
		st.Enabled[id] = en
	}
	return st
}

// Register registers the converter as a top device. Only the fixed
// identity of each profile link is published; the rest is applied at
// LINK_INIT.
func (c *Converter) Register(reg *jesd204.Registry) (*jesd204.Device, error) {
	var data jesd204.DeviceData
	data.MaxLinks = c.Config.MaxLinks
	for _, p := range c.Config.Profile {
		data.Links = append(data.Links, linkIdentity(&p))
	}
	ops := &data.StateOps
	ops[jesd204.StageLinkInit] = jesd204.StateOp{Func: c.linkInit}
	ops[jesd204.StageLinkPreSetup] = jesd204.StateOp{Func: c.linkPreSetup, Mode: jesd204.ModePerDevice}
	ops[jesd204.StageLinkSetup] = jesd204.StateOp{Func: c.linkSetup, Mode: jesd204.ModePerDevice, PostSysref: true}
	for _, s := range []jesd204.Stage{jesd204.StageOptSetupStage1, jesd204.StageOptSetupStage2, jesd204.StageOptSetupStage3} {
		ops[s] = jesd204.StateOp{Func: c.optSetup, Mode: jesd204.ModePerDevice, PostSysref: true}
	}
	for _, s := range []jesd204.Stage{jesd204.StageOptSetupStage4, jesd204.StageOptSetupStage5} {
		ops[s] = jesd204.StateOp{Func: c.optSetup, Mode: jesd204.ModePerDevice}
	}
	ops[jesd204.StageClocksEnable] = jesd204.StateOp{Func: c.clocksEnable}
	ops[jesd204.StageLinkEnable] = jesd204.StateOp{Func: c.linkEnable, PostSysref: true}
	ops[jesd204.StageLinkRunning] = jesd204.StateOp{Func: c.linkRunning}
	ops[jesd204.StageOptPostRunning] = jesd204.StateOp{Func: c.postRunning, Mode: jesd204.ModePerDevice}
	return reg.Register(c.Config.Name, c, data, true)
}

func linkIdentity(p *jesd204.Link) jesd204.Link {
	return jesd204.Link{
		ID:         p.ID,
		IsTransmit: p.IsTransmit,
		Subclass:   p.Subclass,
		Version:    p.Version,
		Encoder:    p.Encoder,
	}
}

func (c *Converter) fault(s jesd204.Stage, reason jesd204.Reason) error {
	if reason != jesd204.ReasonInit {
		return nil
	}
	return c.Faults[s]
}

func (c *Converter) linkInit(ctx context.Context, dev *jesd204.Device, reason jesd204.Reason, lnk *jesd204.Link) (jesd204.Result, error) {
	p := c.profile[lnk.ID]
	if p == nil {
		return jesd204.ResultError, fmt.Errorf("%s: no profile for link %d", dev, lnk.ID)
	}
	if reason != jesd204.ReasonInit {
		ident := linkIdentity(p)
		if err := jesd204.CopyLinkParams(lnk, &ident); err != nil {
			return jesd204.ResultError, err
		}
		return jesd204.ResultDone, nil
	}
	if err := c.fault(jesd204.StageLinkInit, reason); err != nil {
		return jesd204.ResultError, err
	}
	if err := jesd204.CopyLinkParams(lnk, p); err != nil {
		return jesd204.ResultError, err
	}
	return jesd204.ResultDone, nil
}

func (c *Converter) linkPreSetup(ctx context.Context, dev *jesd204.Device, reason jesd204.Reason, _ *jesd204.Link) (jesd204.Result, error) {
	if reason != jesd204.ReasonInit {
		c.initialized = false
		return jesd204.ResultDone, nil
	}
	if err := c.fault(jesd204.StageLinkPreSetup, reason); err != nil {
		return jesd204.ResultError, err
	}
	if clk := c.Config.DeviceClock; clk != 0 {
		for _, lnk := range dev.Topology().DeviceLinks(dev) {
			rate, err := lnk.Rate()
			if err != nil {
				return jesd204.ResultError, err
			}
			if rate%clk != 0 {
				return jesd204.ResultError, fmt.Errorf("%s: link %d lane rate %d is not a multiple of device clock %d",
					dev, lnk.ID, rate, clk)
			}
		}
	}
	c.initialized = true
	return jesd204.ResultDone, nil
}

func (c *Converter) linkSetup(ctx context.Context, dev *jesd204.Device, reason jesd204.Reason, _ *jesd204.Link) (jesd204.Result, error) {
	if reason != jesd204.ReasonInit {
		c.pllLocked, c.lockPolls, c.mcsPulses = false, 0, 0
		return jesd204.ResultDone, nil
	}
	if err := c.fault(jesd204.StageLinkSetup, reason); err != nil {
		return jesd204.ResultError, err
	}
	if !c.pllLocked {
		if c.lockPolls < c.Config.PLLLockPolls {
			c.lockPolls++
			glog.V(2).Infof("%s: waiting for PLL lock (%d/%d)", dev, c.lockPolls, c.Config.PLLLockPolls)
			return jesd204.ResultDefer, nil
		}
		c.pllLocked = true
	}
	for c.mcsPulses < c.Config.MCSPulses {
		if c.mcsPulses >= c.Config.MCSAttempts {
			return jesd204.ResultError, fmt.Errorf("%s: multichip sync incomplete after %d pulses", dev, c.mcsPulses)
		}
		if err := dev.SysrefAsyncForce(ctx, nil); err != nil {
			return jesd204.ResultError, err
		}
		c.mcsPulses++
	}
	return jesd204.ResultDone, nil
}

func (c *Converter) optSetup(ctx context.Context, dev *jesd204.Device, reason jesd204.Reason, _ *jesd204.Link) (jesd204.Result, error) {
	if reason != jesd204.ReasonInit {
		if c.optStages > 0 {
			c.optStages--
		}
		return jesd204.ResultDone, nil
	}
	c.optStages++
	return jesd204.ResultDone, nil
}

func (c *Converter) clocksEnable(ctx context.Context, dev *jesd204.Device, reason jesd204.Reason, lnk *jesd204.Link) (jesd204.Result, error) {
	if err := c.fault(jesd204.StageClocksEnable, reason); err != nil {
		return jesd204.ResultError, err
	}
	return jesd204.ResultDone, nil
}

func (c *Converter) linkEnable(ctx context.Context, dev *jesd204.Device, reason jesd204.Reason, lnk *jesd204.Link) (jesd204.Result, error) {
	if reason != jesd204.ReasonInit {
		delete(c.enabled, lnk.ID)
		return jesd204.ResultDone, nil
	}
	if err := c.fault(jesd204.StageLinkEnable, reason); err != nil {
		return jesd204.ResultError, err
	}
	c.enabled[lnk.ID] = true
	return jesd204.ResultDone, nil
}

func (c *Converter) linkRunning(ctx context.Context, dev *jesd204.Device, reason jesd204.Reason, lnk *jesd204.Link) (jesd204.Result, error) {
	if reason != jesd204.ReasonInit {
		return jesd204.ResultDone, nil
	}
	if err := c.fault(jesd204.StageLinkRunning, reason); err != nil {
		return jesd204.ResultError, err
	}
	if !c.enabled[lnk.ID] {
		return jesd204.ResultError, fmt.Errorf("%s: link %d not enabled", dev, lnk.ID)
	}
	return jesd204.ResultDone, nil
}

func (c *Converter) postRunning(ctx context.Context, dev *jesd204.Device, reason jesd204.Reason, _ *jesd204.Link) (jesd204.Result, error) {
	if reason != jesd204.ReasonInit {
		c.running = false
		return jesd204.ResultDone, nil
	}
	if err := c.fault(jesd204.StageOptPostRunning, reason); err != nil {
		return jesd204.ResultError, err
	}
	c.running = true
	return jesd204.ResultDone, nil
}

package sim

import (
	"context"
	"fmt"

	"github.com/golang/glog"
	"periph.io/x/periph/conn"

	"github.com/robotalks/jesd204.go/pkg/hal"
	"github.com/robotalks/jesd204.go/pkg/jesd204"
)

// Clock chip registers.
const (
	RegPulseGen       uint16 = 0x005a
	RegSysrefTimerLSB uint16 = 0x005c
	RegSysrefTimerMSB uint16 = 0x005d

	PulseGenContinuous uint8 = 7
)

// OutDivMax is the largest output divider of the clock chip.
const OutDivMax = 4094

// DefaultMaxSysrefFreq caps the SYSREF frequency when not configured.
const DefaultMaxSysrefFreq = 4000000

// maxSysrefTimerFreq limits the internal SYSREF timer.
const maxSysrefTimerFreq = 4000000

// ClockChipConfig describes a clock distributor.
type ClockChipConfig struct {
	Name string `json:"name"`
	// PLL2Freq is the VCO frequency in Hz.
	PLL2Freq uint64 `json:"pll2_freq"`
	// MaxSysrefFreq bounds the SYSREF frequency in Hz.
	MaxSysrefFreq uint64 `json:"max_sysref_freq,omitempty"`
	// DesiredSysrefFreq is used when it divides the common LMFC/LEMC rate.
	DesiredSysrefFreq uint64 `json:"desired_sysref_freq,omitempty"`
	// TwoLevelSync enables the CLK_SYNC stages.
	TwoLevelSync bool `json:"two_level_sync,omitempty"`
}

// ClockChip is a SYSREF provider which finds a SYSREF frequency dividing
// the LMFC/LEMC rates of all links.
type ClockChip struct {
	Config ClockChipConfig
	Bus    conn.Conn
	// Pin asserts the SYSREF request pin for links using
	// SysrefMethodPin, e.g. hal.PinSysref. Other links keep the SPI
	// pulse generator request.
	Pin jesd204.SysrefFunc

	lmfcRate    uint64
	gcd         uint64
	sysrefTimer uint64
	synced      bool
}

// NewClockChip creates a ClockChip controlled over bus.
func NewClockChip(conf ClockChipConfig, bus conn.Conn) *ClockChip {
	if conf.MaxSysrefFreq == 0 {
		conf.MaxSysrefFreq = DefaultMaxSysrefFreq
	}
	return &ClockChip{Config: conf, Bus: bus}
}

// LMFCRate returns the lowest LMFC/LEMC rate seen.
func (c *ClockChip) LMFCRate() uint64 { return c.lmfcRate }

// SysrefFreq returns the selected SYSREF frequency, 0 before LINK_SUPPORTED.
func (c *ClockChip) SysrefFreq() uint64 { return c.gcd }

// SysrefTimer returns the programmed SYSREF timer divider.
func (c *ClockChip) SysrefTimer() uint64 { return c.sysrefTimer }

// Synced indicates the output dividers were resynchronized.
func (c *ClockChip) Synced() bool { return c.synced }

// Register registers the chip as a SYSREF provider.
func (c *ClockChip) Register(reg *jesd204.Registry) (*jesd204.Device, error) {
	var data jesd204.DeviceData
	data.Sysref = c.sysref
	data.SysrefPin = c.pinSysref
	data.StateOps[jesd204.StageLinkSupported] = jesd204.StateOp{Func: c.linkSupported}
	data.StateOps[jesd204.StageClkSyncStage1] = jesd204.StateOp{Func: c.clkSync1, Mode: jesd204.ModePerDevice}
	data.StateOps[jesd204.StageClkSyncStage2] = jesd204.StateOp{Func: c.clkSync2, Mode: jesd204.ModePerDevice}
	data.StateOps[jesd204.StageClkSyncStage3] = jesd204.StateOp{Func: c.clkSync3, Mode: jesd204.ModePerDevice}
	data.StateOps[jesd204.StageLinkPreSetup] = jesd204.StateOp{Func: c.linkPreSetup}
	return reg.Register(c.Config.Name, c, data, false)
}

func (c *ClockChip) sysref(ctx context.Context, dev *jesd204.Device, lnk *jesd204.Link) error {
	return hal.SPIToggle(c.Bus, hal.RegReqMode0, hal.ReqPulseGen)(ctx, dev, lnk)
}

func (c *ClockChip) pinSysref(ctx context.Context, dev *jesd204.Device, lnk *jesd204.Link) error {
	if c.Pin == nil {
		return fmt.Errorf("%s: no SYSREF pin wired: %w", dev, jesd204.ErrSysrefMethod)
	}
	return c.Pin(ctx, dev, lnk)
}

func (c *ClockChip) write(reg uint16, val uint8) error {
	return c.Bus.Tx(hal.WriteFrame(reg, val), nil)
}

func (c *ClockChip) toggle(ctx context.Context, dev *jesd204.Device, mask uint8) error {
	return hal.SPIToggle(c.Bus, hal.RegReqMode0, mask)(ctx, dev, nil)
}

func gcd(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func (c *ClockChip) validate(dividend, divisor uint64) error {
	if divisor < 2 {
		return fmt.Errorf("%s: LMFC/LEMC rate %d too low", c.Config.Name, divisor)
	}
	g := gcd(dividend, divisor)
	min := (c.Config.PLL2Freq + OutDivMax/2) / OutDivMax
	if g >= min {
		c.gcd = g
		return nil
	}
	rem := dividend % divisor
	if dividend%(divisor-1) > rem && dividend%(divisor+1) > rem {
		if c.gcd == 0 || divisor < c.gcd {
			c.gcd = divisor
		}
		return nil
	}
	return fmt.Errorf("%s: no SYSREF frequency for LMFC/LEMC rate %d (gcd %d < %d)",
		c.Config.Name, divisor, g, min)
}

func (c *ClockChip) linkSupported(ctx context.Context, dev *jesd204.Device, reason jesd204.Reason, lnk *jesd204.Link) (jesd204.Result, error) {
	if reason != jesd204.ReasonInit {
		c.lmfcRate, c.gcd = 0, 0
		return jesd204.ResultDone, nil
	}
	rate, err := lnk.LMFCLEMCRate()
	if err != nil {
		return jesd204.ResultError, err
	}
	if c.lmfcRate != 0 {
		if rate < c.lmfcRate {
			c.lmfcRate = rate
		}
		err = c.validate(c.gcd, rate)
	} else {
		c.lmfcRate = rate
		err = c.validate(c.Config.PLL2Freq, rate)
	}
	if err != nil {
		return jesd204.ResultError, err
	}
	glog.V(2).Infof("%s: link %d LMFC/LEMC %d/%d gcd %d", dev, lnk.ID, c.lmfcRate, rate, c.gcd)
	return jesd204.ResultDone, nil
}

func (c *ClockChip) clkSync1(ctx context.Context, dev *jesd204.Device, reason jesd204.Reason, _ *jesd204.Link) (jesd204.Result, error) {
	if !c.Config.TwoLevelSync {
		return jesd204.ResultDone, nil
	}
	if reason != jesd204.ReasonInit {
		c.synced = false
		return jesd204.ResultDone, nil
	}
	if err := c.toggle(ctx, dev, hal.ReqRestartDivFSM); err != nil {
		return jesd204.ResultError, err
	}
	if err := c.toggle(ctx, dev, hal.ReqReseed); err != nil {
		return jesd204.ResultError, err
	}
	return jesd204.ResultDone, nil
}

func (c *ClockChip) clkSync2(ctx context.Context, dev *jesd204.Device, reason jesd204.Reason, _ *jesd204.Link) (jesd204.Result, error) {
	if !c.Config.TwoLevelSync || reason != jesd204.ReasonInit {
		return jesd204.ResultDone, nil
	}
	if err := c.sysref(ctx, dev, nil); err != nil {
		return jesd204.ResultError, err
	}
	return jesd204.ResultDone, nil
}

func (c *ClockChip) clkSync3(ctx context.Context, dev *jesd204.Device, reason jesd204.Reason, _ *jesd204.Link) (jesd204.Result, error) {
	if c.Config.TwoLevelSync && reason == jesd204.ReasonInit {
		c.synced = true
	}
	return jesd204.ResultDone, nil
}

func (c *ClockChip) linkPreSetup(ctx context.Context, dev *jesd204.Device, reason jesd204.Reason, lnk *jesd204.Link) (jesd204.Result, error) {
	if reason != jesd204.ReasonInit {
		c.sysrefTimer = 0
		return jesd204.ResultDone, nil
	}
	if c.gcd == 0 {
		return jesd204.ResultError, fmt.Errorf("%s: link %d: no SYSREF frequency selected", dev, lnk.ID)
	}
	if want := c.Config.DesiredSysrefFreq; want != 0 && c.gcd%want == 0 {
		c.gcd = want
	} else {
		for c.gcd > c.Config.MaxSysrefFreq && c.gcd%(c.gcd>>1) == 0 {
			c.gcd >>= 1
		}
	}

	timer := c.gcd / 2
	for timer >= maxSysrefTimerFreq {
		timer >>= 1
	}
	if timer == 0 {
		return jesd204.ResultError, fmt.Errorf("%s: SYSREF frequency %d too low", dev, c.gcd)
	}
	c.sysrefTimer = c.Config.PLL2Freq / timer
	if err := c.write(RegSysrefTimerLSB, uint8(c.sysrefTimer&0xff)); err != nil {
		return jesd204.ResultError, err
	}
	if err := c.write(RegSysrefTimerMSB, uint8((c.sysrefTimer&0xf00)>>8)); err != nil {
		return jesd204.ResultError, err
	}
	if lnk.Sysref.Mode == jesd204.SysrefContinuous {
		glog.V(1).Infof("%s: link %d forcing continuous SYSREF", dev, lnk.ID)
		if err := c.write(RegPulseGen, PulseGenContinuous); err != nil {
			return jesd204.ResultError, err
		}
	}
	glog.V(2).Infof("%s: link %d SYSREF %d Hz timer %d", dev, lnk.ID, c.gcd, c.sysrefTimer)
	return jesd204.ResultDone, nil
}

package sim

import (
	"context"
	"fmt"

	"github.com/golang/glog"

	"github.com/robotalks/jesd204.go/pkg/jesd204"
)

// DefaultMaxLaneRateKHz is the transceiver limit when not configured.
const DefaultMaxLaneRateKHz = 12500000

// LinkCoreConfig describes a JESD204 link layer core with its transceivers.
type LinkCoreConfig struct {
	Name   string `json:"name"`
	LinkID uint   `json:"link_id"`
	// MaxLaneRateKHz bounds the lane rate accepted at CLOCKS_ENABLE.
	MaxLaneRateKHz uint64 `json:"max_lane_rate_khz,omitempty"`
	// SyncPolls is the number of LINK_RUNNING polls before the link reports DATA.
	SyncPolls int `json:"sync_polls,omitempty"`
}

// LinkState is the link layer state reported by a LinkCore.
type LinkState string

// Link states.
const (
	LinkStateReset    LinkState = "RESET"
	LinkStateWaitSync LinkState = "WAIT_FOR_SYNC"
	LinkStateCGS      LinkState = "CGS"
	LinkStateData     LinkState = "DATA"
)

// LinkCoreStatus is a snapshot of a LinkCore.
type LinkCoreStatus struct {
	LaneRateKHz uint64    `json:"lane_rate_khz"`
	LinkClock   uint64    `json:"link_clock"`
	Enabled     bool      `json:"enabled"`
	State       LinkState `json:"state"`
}

// LinkCore carries a single link of a topology.
type LinkCore struct {
	Config LinkCoreConfig

	status LinkCoreStatus
	polls  int
}

// NewLinkCore creates a LinkCore.
func NewLinkCore(conf LinkCoreConfig) *LinkCore {
	if conf.MaxLaneRateKHz == 0 {
		conf.MaxLaneRateKHz = DefaultMaxLaneRateKHz
	}
	return &LinkCore{Config: conf, status: LinkCoreStatus{State: LinkStateReset}}
}

// Status returns a snapshot.
func (c *LinkCore) Status() LinkCoreStatus { return c.status }

// Register registers the core.
func (c *LinkCore) Register(reg *jesd204.Registry) (*jesd204.Device, error) {
	var data jesd204.DeviceData
	data.MaxLinks = 1
	data.StateOps[jesd204.StageClocksEnable] = jesd204.StateOp{Func: c.clocksEnable}
	data.StateOps[jesd204.StageLinkEnable] = jesd204.StateOp{Func: c.linkEnable}
	data.StateOps[jesd204.StageLinkRunning] = jesd204.StateOp{Func: c.linkRunning}
	return reg.Register(c.Config.Name, c, data, false)
}

func (c *LinkCore) clocksEnable(ctx context.Context, dev *jesd204.Device, reason jesd204.Reason, lnk *jesd204.Link) (jesd204.Result, error) {
	if reason != jesd204.ReasonInit {
		c.status.LaneRateKHz, c.status.LinkClock = 0, 0
		return jesd204.ResultDone, nil
	}
	rate, err := lnk.RateKHz()
	if err != nil {
		return jesd204.ResultError, err
	}
	if rate > c.Config.MaxLaneRateKHz {
		return jesd204.ResultError, fmt.Errorf("%s: lane rate %d kHz exceeds %d kHz", dev, rate, c.Config.MaxLaneRateKHz)
	}
	clk, err := lnk.DeviceClock()
	if err != nil {
		return jesd204.ResultError, err
	}
	c.status.LaneRateKHz, c.status.LinkClock = rate, clk
	glog.V(2).Infof("%s: link %d lane rate %d kHz, link clock %d Hz", dev, lnk.ID, rate, clk)
	return jesd204.ResultDone, nil
}

func (c *LinkCore) linkEnable(ctx context.Context, dev *jesd204.Device, reason jesd204.Reason, lnk *jesd204.Link) (jesd204.Result, error) {
	if reason != jesd204.ReasonInit {
		c.status.Enabled, c.status.State, c.polls = false, LinkStateReset, 0
		return jesd204.ResultDone, nil
	}
	c.status.Enabled = true
	c.status.State = LinkStateWaitSync
	if lnk.Encoding() == jesd204.Encoder8B10B {
		c.status.State = LinkStateCGS
	}
	return jesd204.ResultDone, nil
}

func (c *LinkCore) linkRunning(ctx context.Context, dev *jesd204.Device, reason jesd204.Reason, lnk *jesd204.Link) (jesd204.Result, error) {
	if reason != jesd204.ReasonInit {
		return jesd204.ResultDone, nil
	}
	if !c.status.Enabled {
		return jesd204.ResultError, fmt.Errorf("%s: link %d not enabled", dev, lnk.ID)
	}
	if c.polls < c.Config.SyncPolls {
		c.polls++
		glog.V(2).Infof("%s: link %d in %s (%d/%d)", dev, lnk.ID, c.status.State, c.polls, c.Config.SyncPolls)
		return jesd204.ResultDefer, nil
	}
	c.status.State = LinkStateData
	return jesd204.ResultDone, nil
}

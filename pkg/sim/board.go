package sim

import (
	"fmt"
	"sort"

	"periph.io/x/periph/conn"

	fx "github.com/robotalks/jesd204.go/pkg/framework"
	"github.com/robotalks/jesd204.go/pkg/jesd204"
)

// TopologySpec describes one topology of a board.
type TopologySpec struct {
	Name      string           `json:"name"`
	Converter ConverterConfig  `json:"converter"`
	Cores     []LinkCoreConfig `json:"cores"`
	// UseClock adds the board clock chip as SYSREF provider.
	UseClock bool `json:"use_clock,omitempty"`
}

// BoardSpec describes a board.
type BoardSpec struct {
	Name       string           `json:"name"`
	Clock      *ClockChipConfig `json:"clock,omitempty"`
	Topologies []TopologySpec   `json:"topologies"`
}

// BoardTopology is a topology built from a TopologySpec.
type BoardTopology struct {
	Name      string
	Topology  *jesd204.Topology
	Converter *Converter
	Cores     []*LinkCore
}

// Board is a set of devices and topologies registered in one registry.
type Board struct {
	Name       string
	Registry   *jesd204.Registry
	Clock      *ClockChip
	Topologies []*BoardTopology

	devices []*jesd204.Device
}

// NewBoard registers the devices of spec into reg and builds the
// topologies. The clock chip is controlled over bus; a RegisterFile is
// used when bus is nil.
func NewBoard(reg *jesd204.Registry, spec BoardSpec, bus conn.Conn) (*Board, error) {
	b := &Board{Name: spec.Name, Registry: reg}
	if err := b.build(spec, bus); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Board) build(spec BoardSpec, bus conn.Conn) error {
	var clkDev *jesd204.Device
	if spec.Clock != nil {
		if bus == nil {
			bus = NewRegisterFile(spec.Clock.Name)
		}
		b.Clock = NewClockChip(*spec.Clock, bus)
		dev, err := b.Clock.Register(b.Registry)
		if err != nil {
			return err
		}
		b.devices = append(b.devices, dev)
		clkDev = dev
	}

	names := make(map[string]bool)
	for _, ts := range spec.Topologies {
		if names[ts.Name] {
			return fmt.Errorf("board %s: topology %q defined twice", spec.Name, ts.Name)
		}
		names[ts.Name] = true

		bt := &BoardTopology{Name: ts.Name, Converter: NewConverter(ts.Converter)}
		top, err := bt.Converter.Register(b.Registry)
		if err != nil {
			return err
		}
		b.devices = append(b.devices, top)

		var linkIDs []uint
		for _, p := range ts.Converter.Profile {
			linkIDs = append(linkIDs, p.ID)
		}
		sort.Slice(linkIDs, func(i, j int) bool { return linkIDs[i] < linkIDs[j] })

		var devs []jesd204.TopologyDevice
		if ts.UseClock {
			if clkDev == nil {
				return fmt.Errorf("board %s: topology %s uses a clock chip but none is defined", spec.Name, ts.Name)
			}
			devs = append(devs, jesd204.TopologyDevice{Device: clkDev, LinkIDs: linkIDs})
		}
		devs = append(devs, jesd204.TopologyDevice{Device: top, LinkIDs: linkIDs})
		for _, cc := range ts.Cores {
			core := NewLinkCore(cc)
			dev, err := core.Register(b.Registry)
			if err != nil {
				return err
			}
			b.devices = append(b.devices, dev)
			bt.Cores = append(bt.Cores, core)
			devs = append(devs, jesd204.TopologyDevice{Device: dev, LinkIDs: []uint{cc.LinkID}})
		}
		if bt.Topology, err = jesd204.NewTopology(b.Registry, devs); err != nil {
			return fmt.Errorf("board %s: topology %s: %w", spec.Name, ts.Name, err)
		}
		b.Topologies = append(b.Topologies, bt)
	}
	return nil
}

// Topology finds a topology by name.
func (b *Board) Topology(name string) (*BoardTopology, bool) {
	for _, bt := range b.Topologies {
		if bt.Name == name {
			return bt, true
		}
	}
	return nil, false
}

// Close removes the topologies and unregisters the devices. Topologies
// must have been stopped.
func (b *Board) Close() error {
	var errs fx.AggregatedError
	for _, bt := range b.Topologies {
		if err := bt.Topology.Remove(); err != nil && err != jesd204.ErrTopologyRemoved {
			errs.Add(fmt.Errorf("topology %s: %w", bt.Name, err))
		}
	}
	for n := len(b.devices) - 1; n >= 0; n-- {
		if err := b.Registry.Unregister(b.devices[n]); err != nil && err != jesd204.ErrNotRegistered {
			errs.Add(err)
		}
	}
	if err := errs.Aggregate(); err != nil {
		return err
	}
	b.Topologies, b.devices = nil, nil
	return nil
}

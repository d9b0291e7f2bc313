package jesd204

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type topoFixture struct {
	reg  *Registry
	clk  *Device
	conv *Device
	core *Device
	xcvr *Device
}

func newTopoFixture(t *testing.T) *topoFixture {
	f := &topoFixture{reg: NewRegistry()}
	var err error
	f.clk, err = f.reg.Register("hmc7044", nil, DeviceData{
		Sysref: func(context.Context, *Device, *Link) error { return nil },
	}, false)
	require.NoError(t, err)
	f.conv, err = f.reg.Register("ad9680", nil, DeviceData{
		Links: []Link{
			{ID: 0, Subclass: Subclass1, NumLanes: 4, LaneIDs: []uint8{0, 1, 2, 3}},
		},
	}, true)
	require.NoError(t, err)
	f.core, err = f.reg.Register("axi-jesd204-rx", nil, DeviceData{MaxLinks: 1}, false)
	require.NoError(t, err)
	f.xcvr, err = f.reg.Register("axi-adxcvr", nil, DeviceData{}, false)
	require.NoError(t, err)
	return f
}

func TestNewTopology(t *testing.T) {
	f := newTopoFixture(t)
	topo, err := NewTopology(f.reg, []TopologyDevice{
		{Device: f.clk, LinkIDs: []uint{0, 1}},
		{Device: f.conv, LinkIDs: []uint{0, 1}},
		{Device: f.core, LinkIDs: []uint{1}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, topo.ID())
	require.Equal(t, f.conv, topo.Top())
	require.Equal(t, []*Device{f.clk, f.conv, f.core}, topo.Devices())
	require.Equal(t, f.clk, topo.SysrefProvider())
	require.NotNil(t, topo.Sysref())
	require.False(t, topo.Active())

	links := topo.Links()
	require.Len(t, links, 2)
	require.Equal(t, uint(0), links[0].ID)
	require.Equal(t, Subclass1, links[0].Subclass)
	require.Equal(t, []uint8{0, 1, 2, 3}, links[0].LaneIDs)
	require.Equal(t, Link{ID: 1}, *links[1])

	lnk, ok := topo.Link(1)
	require.True(t, ok)
	require.True(t, lnk == topo.DeviceLinks(f.core)[0], "links are shared between devices")
	require.True(t, lnk == topo.DeviceLinks(f.clk)[1])
	_, ok = topo.Link(2)
	require.False(t, ok)
	require.Nil(t, topo.DeviceLinks(f.xcvr))

	for _, dev := range []*Device{f.clk, f.conv, f.core} {
		require.Equal(t, topo, dev.Topology())
	}
	require.Nil(t, f.xcvr.Topology())

	// initial parameters are copied, not referenced
	f.conv.data.Links[0].NumLanes = 8
	require.Equal(t, uint8(4), links[0].NumLanes)

	require.NoError(t, topo.Remove())
	require.Equal(t, ErrTopologyRemoved, topo.Remove())
	for _, dev := range []*Device{f.clk, f.conv, f.core} {
		require.Nil(t, dev.Topology())
	}
}

func TestNewTopologyInvalid(t *testing.T) {
	testCases := []struct {
		name     string
		devs     func(f *topoFixture) []TopologyDevice
		opts     []TopologyOption
		device   string
		linkID   int
		sentinel error
	}{
		{
			name:   "no devices",
			devs:   func(f *topoFixture) []TopologyDevice { return nil },
			linkID: NoLink,
		},
		{
			name: "link id out of range",
			devs: func(f *topoFixture) []TopologyDevice {
				return []TopologyDevice{{Device: f.conv, LinkIDs: []uint{0, 16}}}
			},
			device: "ad9680",
			linkID: 16,
		},
		{
			name: "link id out of custom range",
			devs: func(f *topoFixture) []TopologyDevice {
				return []TopologyDevice{{Device: f.conv, LinkIDs: []uint{0, 2}}}
			},
			opts:   []TopologyOption{WithMaxLinks(2)},
			device: "ad9680",
			linkID: 2,
		},
		{
			name: "invalid max links",
			devs: func(f *topoFixture) []TopologyDevice {
				return []TopologyDevice{{Device: f.conv, LinkIDs: []uint{0}}}
			},
			opts:   []TopologyOption{WithMaxLinks(0)},
			linkID: NoLink,
		},
		{
			name: "no top",
			devs: func(f *topoFixture) []TopologyDevice {
				return []TopologyDevice{{Device: f.clk, LinkIDs: []uint{0}}}
			},
			linkID: NoLink,
		},
		{
			name: "orphan link",
			devs: func(f *topoFixture) []TopologyDevice {
				return []TopologyDevice{
					{Device: f.conv, LinkIDs: []uint{0}},
					{Device: f.clk, LinkIDs: []uint{0, 3}},
				}
			},
			device: "hmc7044",
			linkID: 3,
		},
		{
			name: "nil device",
			devs: func(f *topoFixture) []TopologyDevice {
				return []TopologyDevice{{Device: f.conv, LinkIDs: []uint{0}}, {}}
			},
			linkID: NoLink,
		},
		{
			name: "listed twice",
			devs: func(f *topoFixture) []TopologyDevice {
				return []TopologyDevice{
					{Device: f.conv, LinkIDs: []uint{0}},
					{Device: f.conv, LinkIDs: []uint{0}},
				}
			},
			device: "ad9680",
			linkID: NoLink,
		},
		{
			name: "link listed twice",
			devs: func(f *topoFixture) []TopologyDevice {
				return []TopologyDevice{{Device: f.conv, LinkIDs: []uint{0, 0}}}
			},
			device: "ad9680",
			linkID: 0,
		},
		{
			name: "no links",
			devs: func(f *topoFixture) []TopologyDevice {
				return []TopologyDevice{
					{Device: f.conv, LinkIDs: []uint{0}},
					{Device: f.xcvr},
				}
			},
			device: "axi-adxcvr",
			linkID: NoLink,
		},
		{
			name: "device max links",
			devs: func(f *topoFixture) []TopologyDevice {
				return []TopologyDevice{
					{Device: f.conv, LinkIDs: []uint{0, 1}},
					{Device: f.core, LinkIDs: []uint{0, 1}},
				}
			},
			device: "axi-jesd204-rx",
			linkID: NoLink,
		},
		{
			name: "parameters for a foreign link",
			devs: func(f *topoFixture) []TopologyDevice {
				return []TopologyDevice{{Device: f.conv, LinkIDs: []uint{1}}}
			},
			device: "ad9680",
			linkID: 0,
		},
		{
			name: "not registered",
			devs: func(f *topoFixture) []TopologyDevice {
				dev, err := NewRegistry().Register("ad9680", nil, DeviceData{}, true)
				require.NoError(t, err)
				return []TopologyDevice{{Device: dev, LinkIDs: []uint{0}}}
			},
			device:   "ad9680",
			linkID:   NoLink,
			sentinel: ErrNotRegistered,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newTopoFixture(t)
			_, err := NewTopology(f.reg, tc.devs(f), tc.opts...)
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			require.Equal(t, tc.device, cfgErr.Device)
			require.Equal(t, tc.linkID, cfgErr.LinkID)
			if tc.sentinel != nil {
				require.True(t, errors.Is(err, tc.sentinel))
			}
			for _, dev := range f.reg.Devices() {
				require.Nil(t, dev.Topology(), "%s attached by failed construction", dev.Name())
			}
		})
	}
}

func TestNewTopologySecondTop(t *testing.T) {
	f := newTopoFixture(t)
	dac, err := f.reg.Register("ad9144", nil, DeviceData{}, true)
	require.NoError(t, err)
	_, err = NewTopology(f.reg, []TopologyDevice{
		{Device: f.conv, LinkIDs: []uint{0}},
		{Device: dac, LinkIDs: []uint{0}},
	})
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	require.Equal(t, "ad9144", cfgErr.Device)
	require.Nil(t, f.conv.Topology())
}

func TestNewTopologyShared(t *testing.T) {
	f := newTopoFixture(t)
	dac, err := f.reg.Register("ad9144", nil, DeviceData{}, true)
	require.NoError(t, err)
	_, err = NewTopology(f.reg, []TopologyDevice{
		{Device: f.conv, LinkIDs: []uint{0}},
		{Device: f.clk, LinkIDs: []uint{0}},
	})
	require.NoError(t, err)

	_, err = NewTopology(f.reg, []TopologyDevice{
		{Device: dac, LinkIDs: []uint{0}},
		{Device: f.clk, LinkIDs: []uint{0}},
	})
	require.True(t, errors.Is(err, ErrDeviceShared))
	require.Nil(t, dac.Topology())
}

func TestTopologyRemoveActive(t *testing.T) {
	f := newTopoFixture(t)
	var data DeviceData
	data.StateOps[StageLinkInit] = StateOp{
		Mode: ModePerDevice,
		Func: func(context.Context, *Device, Reason, *Link) (Result, error) {
			return ResultDefer, nil
		},
	}
	top, err := f.reg.Register("ad9144", nil, data, true)
	require.NoError(t, err)
	topo, err := NewTopology(f.reg, []TopologyDevice{{Device: top, LinkIDs: []uint{0}}})
	require.NoError(t, err)

	fsm := NewFSM(topo)
	res, err := fsm.Start(context.Background())
	require.NoError(t, err)
	require.Equal(t, ResultDefer, res)
	require.True(t, topo.Active())
	require.True(t, errors.Is(topo.Remove(), ErrTopologyActive))
	require.Equal(t, topo, top.Topology())

	require.NoError(t, fsm.Stop(context.Background()))
	require.False(t, topo.Active())
	require.NoError(t, topo.Remove())

	_, err = fsm.Start(context.Background())
	require.Equal(t, ErrTopologyRemoved, err)
}

package jesd204

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	reg := NewRegistry()
	priv := &struct{ pll int }{pll: 3}
	dev, err := reg.Register("hmc7044", priv, DeviceData{}, false)
	require.NoError(t, err)
	require.Equal(t, "hmc7044", dev.Name())
	require.Equal(t, priv, dev.Priv())
	require.False(t, dev.IsTop())
	require.False(t, dev.IsSysrefProvider())
	require.Nil(t, dev.Topology())

	_, err = reg.Register("hmc7044", nil, DeviceData{}, true)
	require.True(t, errors.Is(err, ErrDuplicateDevice))

	top, err := reg.Register("ad9680", nil, DeviceData{}, true)
	require.NoError(t, err)
	require.True(t, top.IsTop())

	found, ok := reg.Lookup("ad9680")
	require.True(t, ok)
	require.Equal(t, top, found)
	require.Equal(t, []*Device{dev, top}, reg.Devices())
}

func TestRegisterInvalid(t *testing.T) {
	var badMode DeviceData
	badMode.StateOps[StageLinkSetup].Mode = Mode(7)

	testCases := []struct {
		name string
		dev  string
		data DeviceData
	}{
		{"empty name", "", DeviceData{}},
		{"negative max links", "dev", DeviceData{MaxLinks: -1}},
		{"bad mode", "dev", badMode},
		{"duplicated link", "dev", DeviceData{Links: []Link{{ID: 1}, {ID: 1}}}},
		{"invalid link", "dev", DeviceData{Links: []Link{{ID: 1, Version: VersionC, Encoder: Encoder8B10B}}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			reg := NewRegistry()
			_, err := reg.Register(tc.dev, nil, tc.data, true)
			require.Error(t, err)
			require.Empty(t, reg.Devices())
		})
	}
}

func TestRegisterCopiesLinks(t *testing.T) {
	links := []Link{{ID: 0, NumLanes: 2}}
	reg := NewRegistry()
	_, err := reg.Register("ad9680", nil, DeviceData{Links: links}, true)
	require.NoError(t, err)
	links[0].NumLanes = 4
	dev, _ := reg.Lookup("ad9680")
	require.Equal(t, uint8(2), dev.data.Links[0].NumLanes)
}

func TestUnregister(t *testing.T) {
	reg := NewRegistry()
	top, err := reg.Register("ad9680", nil, DeviceData{}, true)
	require.NoError(t, err)
	topo, err := NewTopology(reg, []TopologyDevice{{Device: top, LinkIDs: []uint{0}}})
	require.NoError(t, err)
	require.Equal(t, topo, top.Topology())

	require.True(t, errors.Is(reg.Unregister(top), ErrDeviceInUse))
	require.NoError(t, topo.Remove())
	require.NoError(t, reg.Unregister(top))
	require.Equal(t, ErrNotRegistered, reg.Unregister(top))
	_, ok := reg.Lookup("ad9680")
	require.False(t, ok)
	require.Nil(t, top.Topology())

	other := NewRegistry()
	dev, err := other.Register("ad9680", nil, DeviceData{}, true)
	require.NoError(t, err)
	require.Equal(t, ErrNotRegistered, reg.Unregister(dev))
	require.Equal(t, ErrNotRegistered, reg.Unregister(nil))
}

func TestDeviceSysrefWithoutTopology(t *testing.T) {
	reg := NewRegistry()
	dev, err := reg.Register("ad9680", nil, DeviceData{}, true)
	require.NoError(t, err)
	err = dev.SysrefAsyncForce(context.Background(), nil)
	require.True(t, errors.Is(err, ErrNoSysrefProvider))
	err = dev.SysrefAsync(context.Background(), &Link{})
	require.True(t, errors.Is(err, ErrNoSysrefProvider))
}

func TestDeviceStateOp(t *testing.T) {
	var data DeviceData
	data.StateOps[StageLinkSetup] = StateOp{Mode: ModePerDevice, PostSysref: true}
	reg := NewRegistry()
	dev, err := reg.Register("ad9680", nil, data, true)
	require.NoError(t, err)
	require.Equal(t, ModePerDevice, dev.StateOp(StageLinkSetup).Mode)
	require.True(t, dev.StateOp(StageLinkSetup).PostSysref)
	require.Equal(t, StateOp{}, dev.StateOp(Stage(99)))
}

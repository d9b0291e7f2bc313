package jesd204

import (
	"fmt"

	"github.com/golang/glog"
	uuid "github.com/satori/go.uuid"
)

// DefaultMaxLinks bounds link ids of a topology.
const DefaultMaxLinks = 16

// TopologyDevice describes the participation of one device in a topology.
type TopologyDevice struct {
	Device  *Device
	LinkIDs []uint
}

// TopologyOption customizes NewTopology.
type TopologyOption func(*topologyOptions)

type topologyOptions struct {
	maxLinks int
}

// WithMaxLinks sets the size of the link id space.
func WithMaxLinks(n int) TopologyOption {
	return func(o *topologyOptions) {
		o.maxLinks = n
	}
}

// Topology is a validated set of devices and the links they carry.
// It holds references only; devices remain owned by their registry.
type Topology struct {
	id       uuid.UUID
	registry *Registry
	top      *member
	members  []*member
	links    []*Link
	linkMap  map[uint]*Link
	sysref   *Sysref

	// guarded by registry.lock
	active  bool
	removed bool
}

type member struct {
	dev   *Device
	links []*Link
}

// NewTopology validates devs and builds a topology. On failure a *ConfigError
// is returned and no device is attached.
func NewTopology(reg *Registry, devs []TopologyDevice, opts ...TopologyOption) (*Topology, error) {
	options := topologyOptions{maxLinks: DefaultMaxLinks}
	for _, opt := range opts {
		opt(&options)
	}
	if options.maxLinks <= 0 {
		return nil, configErr("", NoLink, "invalid max links %d", options.maxLinks)
	}
	if len(devs) == 0 {
		return nil, configErr("", NoLink, "no devices")
	}

	reg.lock.Lock()
	defer reg.lock.Unlock()

	var top *TopologyDevice
	seen := make(map[*Device]bool)
	for n := range devs {
		td := &devs[n]
		dev := td.Device
		if dev == nil {
			return nil, configErr("", NoLink, "device entry %d is nil", n)
		}
		if dev.registry != reg || reg.devices[dev.name] != dev {
			return nil, &ConfigError{Device: dev.name, LinkID: NoLink, Reason: "not in registry", Err: ErrNotRegistered}
		}
		if seen[dev] {
			return nil, configErr(dev.name, NoLink, "listed twice")
		}
		seen[dev] = true
		if dev.topo != nil {
			return nil, &ConfigError{Device: dev.name, LinkID: NoLink, Reason: "shared", Err: ErrDeviceShared}
		}
		if dev.top {
			if top != nil {
				return nil, configErr(dev.name, NoLink, "second top device, %s is already top", top.Device.name)
			}
			top = td
		}
		if len(td.LinkIDs) == 0 {
			return nil, configErr(dev.name, NoLink, "carries no links")
		}
		if max := dev.data.MaxLinks; max > 0 && len(td.LinkIDs) > max {
			return nil, configErr(dev.name, NoLink, "%d links exceed device maximum %d", len(td.LinkIDs), max)
		}
		ids := make(map[uint]bool)
		for _, id := range td.LinkIDs {
			if id >= uint(options.maxLinks) {
				return nil, configErr(dev.name, int(id), "link id out of range [0, %d)", options.maxLinks)
			}
			if ids[id] {
				return nil, configErr(dev.name, int(id), "link listed twice")
			}
			ids[id] = true
		}
	}
	if top == nil {
		return nil, configErr("", NoLink, "no top device")
	}

	topLinks := make(map[uint]bool)
	for _, id := range top.LinkIDs {
		topLinks[id] = true
	}
	for _, td := range devs {
		if td.Device == top.Device {
			continue
		}
		for _, id := range td.LinkIDs {
			if !topLinks[id] {
				return nil, configErr(td.Device.name, int(id), "orphan link, not carried by top device %s", top.Device.name)
			}
		}
	}

	params := make(map[uint]*Link)
	for n := range top.Device.data.Links {
		lnk := &top.Device.data.Links[n]
		params[lnk.ID] = lnk
	}
	for id := range params {
		if !topLinks[id] {
			return nil, configErr(top.Device.name, int(id), "initial parameters for a link the top device does not carry")
		}
	}

	// Validation complete, allocate.
	t := &Topology{
		id:       uuid.NewV4(),
		registry: reg,
		linkMap:  make(map[uint]*Link),
	}
	for _, id := range top.LinkIDs {
		lnk := &Link{ID: id}
		if p := params[id]; p != nil {
			*lnk = *p
			lnk.LaneIDs = append([]uint8(nil), p.LaneIDs...)
		}
		t.links = append(t.links, lnk)
		t.linkMap[id] = lnk
	}
	var provider *Device
	for _, td := range devs {
		m := &member{dev: td.Device}
		for _, id := range td.LinkIDs {
			m.links = append(m.links, t.linkMap[id])
		}
		t.members = append(t.members, m)
		if td.Device == top.Device {
			t.top = m
		}
		if provider == nil && td.Device.IsSysrefProvider() {
			provider = td.Device
		}
		td.Device.topo = t
	}
	t.sysref = NewSysref(provider)
	glog.V(1).Infof("topology %s: top %s, %d devices, %d links", t.id, top.Device.name, len(t.members), len(t.links))
	return t, nil
}

// ID returns the unique topology id.
func (t *Topology) ID() string { return t.id.String() }

// Top returns the top device.
func (t *Topology) Top() *Device { return t.top.dev }

// Devices returns the participating devices in topology order.
func (t *Topology) Devices() []*Device {
	devs := make([]*Device, len(t.members))
	for n, m := range t.members {
		devs[n] = m.dev
	}
	return devs
}

// Links returns the links in the order of the top device's link ids.
func (t *Topology) Links() []*Link {
	return append([]*Link(nil), t.links...)
}

// Link returns the link with id.
func (t *Topology) Link(id uint) (*Link, bool) {
	lnk, ok := t.linkMap[id]
	return lnk, ok
}

// DeviceLinks returns the links carried by dev.
func (t *Topology) DeviceLinks(dev *Device) []*Link {
	for _, m := range t.members {
		if m.dev == dev {
			return append([]*Link(nil), m.links...)
		}
	}
	return nil
}

// SysrefProvider returns the SYSREF provider device, nil if none.
func (t *Topology) SysrefProvider() *Device { return t.sysref.provider }

// Sysref returns the SYSREF coordinator of the topology.
func (t *Topology) Sysref() *Sysref { return t.sysref }

// Remove detaches all devices. It fails while a bring-up is active.
func (t *Topology) Remove() error {
	t.registry.lock.Lock()
	defer t.registry.lock.Unlock()
	if t.removed {
		return ErrTopologyRemoved
	}
	if t.active {
		return fmt.Errorf("remove topology %s: %w", t.id, ErrTopologyActive)
	}
	for _, m := range t.members {
		if m.dev.topo == t {
			m.dev.topo = nil
		}
	}
	t.removed = true
	glog.V(1).Infof("topology %s removed", t.id)
	return nil
}

func (t *Topology) setActive(active bool) error {
	t.registry.lock.Lock()
	defer t.registry.lock.Unlock()
	if t.removed {
		return ErrTopologyRemoved
	}
	t.active = active
	return nil
}

// Active indicates a bring-up is in progress or completed and not yet stopped.
func (t *Topology) Active() bool {
	t.registry.lock.RLock()
	defer t.registry.lock.RUnlock()
	return t.active
}

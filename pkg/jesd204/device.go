package jesd204

import (
	"context"
	"fmt"
	"sync"
)

// StateOpFunc is a stage callback. lnk is nil when the stage-operation
// runs per device.
type StateOpFunc func(ctx context.Context, dev *Device, reason Reason, lnk *Link) (Result, error)

// StateOp is one slot of a device's stage-operation table.
// A slot without Func is skipped.
type StateOp struct {
	Func       StateOpFunc
	Mode       Mode
	PostSysref bool
}

// SysrefFunc issues one SYSREF request on the hardware. lnk is nil for a
// request not made on behalf of a link.
type SysrefFunc func(ctx context.Context, dev *Device, lnk *Link) error

// DeviceData is what a device hands over at registration.
type DeviceData struct {
	StateOps [NumStages]StateOp
	// Sysref requests SYSREF with an SPI command. Either Sysref or
	// SysrefPin makes the device a SYSREF provider.
	Sysref SysrefFunc
	// SysrefPin asserts the dedicated request pin, for links using
	// SysrefMethodPin.
	SysrefPin SysrefFunc
	// MaxLinks limits the number of links the device may carry; 0 means no limit.
	MaxLinks int
	// Links provides initial link parameters. Only used on the top device.
	Links []Link
}

// Device is a registered participant of a bring-up.
type Device struct {
	name     string
	priv     interface{}
	data     DeviceData
	top      bool
	registry *Registry

	// guarded by registry.lock
	topo *Topology
}

// Name returns the registration name.
func (d *Device) Name() string { return d.name }

// String implements fmt.Stringer.
func (d *Device) String() string { return d.name }

// Priv returns the private data supplied at registration.
func (d *Device) Priv() interface{} { return d.priv }

// IsTop indicates the device is a topology root.
func (d *Device) IsTop() bool { return d.top }

// IsSysrefProvider indicates the device can issue SYSREF.
func (d *Device) IsSysrefProvider() bool {
	return d.data.Sysref != nil || d.data.SysrefPin != nil
}

// StateOp returns the table slot for a stage.
func (d *Device) StateOp(s Stage) StateOp {
	if !s.IsValid() {
		return StateOp{}
	}
	return d.data.StateOps[s]
}

// Topology returns the topology the device is attached to, nil if none.
func (d *Device) Topology() *Topology {
	if d.registry == nil {
		return nil
	}
	d.registry.lock.RLock()
	defer d.registry.lock.RUnlock()
	return d.topo
}

// SysrefAsync requests SYSREF on a link of the device's topology.
func (d *Device) SysrefAsync(ctx context.Context, lnk *Link) error {
	topo := d.Topology()
	if topo == nil {
		return fmt.Errorf("%s: %w", d.name, ErrNoSysrefProvider)
	}
	return topo.Sysref().Async(ctx, lnk)
}

// SysrefAsyncForce requests SYSREF regardless of mode, typically after a
// PLL relock lost the alignment. A nil lnk pulses without link accounting.
func (d *Device) SysrefAsyncForce(ctx context.Context, lnk *Link) error {
	topo := d.Topology()
	if topo == nil {
		return fmt.Errorf("%s: %w", d.name, ErrNoSysrefProvider)
	}
	return topo.Sysref().AsyncForce(ctx, lnk)
}

// Registry holds registered devices. Topologies are built from devices of
// one registry.
type Registry struct {
	lock    sync.RWMutex
	devices map[string]*Device
	order   []*Device
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]*Device)}
}

// Register records a device and its stage-operation table. No callback
// is invoked.
func (r *Registry) Register(name string, priv interface{}, data DeviceData, isTop bool) (*Device, error) {
	if name == "" {
		return nil, fmt.Errorf("register: empty device name")
	}
	if data.MaxLinks < 0 {
		return nil, fmt.Errorf("register %s: negative max links", name)
	}
	for n, op := range data.StateOps {
		if op.Mode != ModePerLink && op.Mode != ModePerDevice {
			return nil, fmt.Errorf("register %s: %s: invalid mode %d", name, Stage(n), op.Mode)
		}
	}
	ids := make(map[uint]bool)
	for n := range data.Links {
		lnk := &data.Links[n]
		if ids[lnk.ID] {
			return nil, fmt.Errorf("register %s: duplicated link %d", name, lnk.ID)
		}
		ids[lnk.ID] = true
		if err := lnk.Validate(); err != nil {
			return nil, fmt.Errorf("register %s: link %d: %w", name, lnk.ID, err)
		}
	}
	data.Links = append([]Link(nil), data.Links...)

	r.lock.Lock()
	defer r.lock.Unlock()
	if _, exists := r.devices[name]; exists {
		return nil, fmt.Errorf("register %s: %w", name, ErrDuplicateDevice)
	}
	dev := &Device{
		name:     name,
		priv:     priv,
		data:     data,
		top:      isTop,
		registry: r,
	}
	r.devices[name] = dev
	r.order = append(r.order, dev)
	return dev, nil
}

// Unregister removes a device. It fails while the device is attached to a topology.
func (r *Registry) Unregister(dev *Device) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if dev == nil || dev.registry != r || r.devices[dev.name] != dev {
		return ErrNotRegistered
	}
	if dev.topo != nil {
		return fmt.Errorf("unregister %s: %w", dev.name, ErrDeviceInUse)
	}
	delete(r.devices, dev.name)
	for n, d := range r.order {
		if d == dev {
			r.order = append(r.order[:n], r.order[n+1:]...)
			break
		}
	}
	dev.registry = nil
	return nil
}

// Lookup finds a device by name.
func (r *Registry) Lookup(name string) (*Device, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	dev, ok := r.devices[name]
	return dev, ok
}

// Devices lists registered devices in registration order.
func (r *Registry) Devices() []*Device {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return append([]*Device(nil), r.order...)
}

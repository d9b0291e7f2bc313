package jesd204

import (
	"context"
	"fmt"

	"github.com/golang/glog"

	fx "github.com/robotalks/jesd204.go/pkg/framework"
)

// Event reports one callback invocation.
type Event struct {
	Stage  Stage
	Reason Reason
	Device string
	LinkID int
	Result Result
	Err    error
}

// Observer receives an Event for every callback invocation.
type Observer func(Event)

// FSMOption customizes NewFSM.
type FSMOption func(*FSM)

// WithObserver installs an Observer.
func WithObserver(o Observer) FSMOption {
	return func(f *FSM) {
		f.observer = o
	}
}

// WithLinks limits the bring-up to the given links of the topology.
// Per-link callbacks, post-stage SYSREF and freezing skip every other link;
// per-device callbacks still run. No ids means all links.
func WithLinks(ids ...uint) FSMOption {
	return func(f *FSM) {
		f.only = nil
		if len(ids) == 0 {
			return
		}
		f.only = make(map[uint]bool, len(ids))
		for _, id := range ids {
			f.only[id] = true
		}
	}
}

// unit is one callback target at one stage: a device, or a (device, link) pair.
type unit struct {
	m       *member
	lnk     *Link
	invoked bool
}

func (u *unit) linkID() int {
	if u.lnk == nil {
		return NoLink
	}
	return int(u.lnk.ID)
}

type ledgerEntry struct {
	stage Stage
	u     *unit
}

// UnitRef names a unit waiting at the current stage.
type UnitRef struct {
	Device string
	LinkID int
}

// Status is a snapshot of the driver.
type Status struct {
	Stage   Stage
	Done    bool
	Active  bool
	Passes  int
	Pending []UnitRef
	LastErr error
}

// FSM walks a topology through the bring-up stages. It is not safe for
// concurrent use; one goroutine drives it by calling Start repeatedly
// until it reports ResultDone.
type FSM struct {
	topo     *Topology
	observer Observer
	only     map[uint]bool

	stage         Stage
	pending       []*unit
	expanded      bool
	sysrefPending bool
	done          bool
	passes        int
	lastErr       error
	ledger        []ledgerEntry
	inCallback    bool
}

// NewFSM creates the driver for a topology.
func NewFSM(topo *Topology, opts ...FSMOption) *FSM {
	f := &FSM{topo: topo}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Topology returns the driven topology.
func (f *FSM) Topology() *Topology { return f.topo }

// Stage returns the current stage.
func (f *FSM) Stage() Stage { return f.stage }

// Done indicates every stage completed.
func (f *FSM) Done() bool { return f.done }

// Status returns a snapshot.
func (f *FSM) Status() Status {
	st := Status{
		Stage:   f.stage,
		Done:    f.done,
		Active:  f.topo.Active(),
		Passes:  f.passes,
		LastErr: f.lastErr,
	}
	for _, u := range f.pending {
		st.Pending = append(st.Pending, UnitRef{Device: u.m.dev.name, LinkID: u.linkID()})
	}
	return st
}

// Start runs one driver pass. The pass advances through stages until all
// complete (ResultDone), a unit defers (ResultDefer, the stage is retried
// on the next pass with only the deferring units), or a unit fails
// (ResultError with a *StageError). Nothing is rolled back on failure;
// call Stop for that.
func (f *FSM) Start(ctx context.Context) (Result, error) {
	if f.inCallback {
		return ResultError, ErrReentrant
	}
	if f.done {
		return ResultDone, nil
	}
	for id := range f.only {
		if _, ok := f.topo.Link(id); !ok {
			return ResultError, configErr(f.topo.top.dev.name, int(id), "selected link not carried by the topology")
		}
	}
	if err := f.topo.setActive(true); err != nil {
		return ResultError, err
	}
	f.passes++
	f.lastErr = nil
	glog.V(2).Infof("fsm %s: pass %d at %s", f.topo.id, f.passes, f.stage)

	for f.stage.IsValid() {
		if !f.expanded {
			f.pending = f.units(f.stage)
			f.expanded = true
			f.sysrefPending = f.postSysref(f.stage)
		}

		var deferred []*unit
		for n, u := range f.pending {
			if err := ctx.Err(); err != nil {
				f.pending = append(deferred, f.pending[n:]...)
				f.lastErr = err
				return ResultError, err
			}
			if !u.invoked {
				u.invoked = true
				f.ledger = append(f.ledger, ledgerEntry{stage: f.stage, u: u})
			}
			res, err := f.invoke(ctx, f.stage, u, ReasonInit)
			if err != nil {
				f.pending = append(deferred, f.pending[n:]...)
				f.lastErr = err
				glog.Errorf("fsm %s: %v", f.topo.id, err)
				return ResultError, err
			}
			if res == ResultDefer {
				deferred = append(deferred, u)
			}
		}
		if len(deferred) > 0 {
			f.pending = deferred
			glog.V(1).Infof("fsm %s: %s deferred by %d units", f.topo.id, f.stage, len(deferred))
			return ResultDefer, nil
		}
		f.pending = nil

		if f.sysrefPending {
			if err := f.issuePostSysref(ctx); err != nil {
				f.lastErr = err
				glog.Errorf("fsm %s: %v", f.topo.id, err)
				return ResultError, err
			}
			f.sysrefPending = false
		}
		if f.stage == StageLinkRunning {
			for _, lnk := range f.links() {
				lnk.frozen = true
			}
		}
		glog.V(1).Infof("fsm %s: %s complete", f.topo.id, f.stage)
		f.stage++
		f.expanded = false
	}

	f.done = true
	glog.Infof("fsm %s: %d links running after %d passes", f.topo.id, len(f.links()), f.passes)
	return ResultDone, nil
}

// Stop tears down in exactly the reverse order of the INIT callbacks issued
// so far, invoking each with ReasonUninit. Links are unfrozen first so
// callbacks may restore their parameters. Failures are logged and
// aggregated but never interrupt the teardown.
func (f *FSM) Stop(ctx context.Context) error {
	if f.inCallback {
		return ErrReentrant
	}
	var errs fx.AggregatedError
	for _, lnk := range f.topo.links {
		lnk.frozen = false
	}
	for n := len(f.ledger) - 1; n >= 0; n-- {
		entry := f.ledger[n]
		res, err := f.invoke(ctx, entry.stage, entry.u, ReasonUninit)
		if err != nil {
			glog.Warningf("fsm %s: teardown: %v", f.topo.id, err)
			errs.Add(err)
		} else if res == ResultDefer {
			glog.Warningf("fsm %s: teardown: %s %s deferred, ignored", f.topo.id, entry.stage, entry.u.m.dev.name)
		}
	}
	f.topo.sysref.Reset()
	f.ledger = nil
	f.pending = nil
	f.expanded = false
	f.sysrefPending = false
	f.stage = StageDeviceInit
	f.done = false
	f.lastErr = nil
	if err := f.topo.setActive(false); err != nil && err != ErrTopologyRemoved {
		errs.Add(err)
	}
	glog.V(1).Infof("fsm %s: stopped", f.topo.id)
	return errs.Aggregate()
}

func (f *FSM) units(s Stage) []*unit {
	var units []*unit
	for _, m := range f.topo.members {
		op := m.dev.data.StateOps[s]
		if op.Func == nil {
			continue
		}
		if op.Mode == ModePerDevice {
			units = append(units, &unit{m: m})
			continue
		}
		for _, lnk := range m.links {
			if f.selected(lnk) {
				units = append(units, &unit{m: m, lnk: lnk})
			}
		}
	}
	return units
}

func (f *FSM) selected(lnk *Link) bool {
	return f.only == nil || f.only[lnk.ID]
}

// links returns the driven links in topology order.
func (f *FSM) links() []*Link {
	if f.only == nil {
		return f.topo.top.links
	}
	var links []*Link
	for _, lnk := range f.topo.top.links {
		if f.only[lnk.ID] {
			links = append(links, lnk)
		}
	}
	return links
}

func (f *FSM) postSysref(s Stage) bool {
	for _, m := range f.topo.members {
		if op := m.dev.data.StateOps[s]; op.Func != nil && op.PostSysref {
			return true
		}
	}
	return false
}

func (f *FSM) issuePostSysref(ctx context.Context) error {
	for _, lnk := range f.links() {
		if err := f.topo.sysref.Async(ctx, lnk); err != nil {
			dev := ""
			if p := f.topo.sysref.provider; p != nil {
				dev = p.name
			}
			return &StageError{Stage: f.stage, Reason: ReasonInit, Device: dev, LinkID: int(lnk.ID), Err: err}
		}
	}
	return nil
}

func (f *FSM) invoke(ctx context.Context, s Stage, u *unit, reason Reason) (res Result, err error) {
	op := u.m.dev.data.StateOps[s]
	f.inCallback = true
	func() {
		defer func() {
			f.inCallback = false
			if r := recover(); r != nil {
				res, err = ResultError, fmt.Errorf("panic: %v", r)
			}
		}()
		res, err = op.Func(ctx, u.m.dev, reason, u.lnk)
	}()
	if err == nil && res != ResultDone && res != ResultDefer {
		err = fmt.Errorf("callback returned %s", res)
	}
	if err != nil {
		res = ResultError
		err = &StageError{Stage: s, Reason: reason, Device: u.m.dev.name, LinkID: u.linkID(), Err: err}
	}
	glog.V(3).Infof("fsm %s: %s[%s] %s link %d: %s", f.topo.id, s, reason, u.m.dev.name, u.linkID(), res)
	if f.observer != nil {
		f.observer(Event{Stage: s, Reason: reason, Device: u.m.dev.name, LinkID: u.linkID(), Result: res, Err: err})
	}
	return res, err
}

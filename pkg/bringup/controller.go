// Package bringup drives JESD204 topologies from the control loop.
//
// Each topology gets a session owning its FSM. A session performs one
// driver pass per loop iteration and waits with exponential backoff
// between passes while a stage defers.
package bringup

import (
	"context"
	"fmt"

	"github.com/golang/glog"
	"github.com/jpillora/backoff"
	uuid "github.com/satori/go.uuid"

	"github.com/robotalks/jesd204.go/pkg/agent"
	"github.com/robotalks/jesd204.go/pkg/agent/msgs"
	fx "github.com/robotalks/jesd204.go/pkg/framework"
	"github.com/robotalks/jesd204.go/pkg/jesd204"
	"github.com/robotalks/jesd204.go/pkg/status"
)

// Controller runs bring-up sessions for the topologies of a board.
type Controller struct {
	Board     string
	Config    *Config
	Registrar agent.Registrar
	Sink      status.Sink

	sessions []*session
	byName   map[string]*session
}

type session struct {
	name    string
	fsm     *jesd204.FSM
	backoff *backoff.Backoff
	id      string
	state   string
	passes  int
	err     error
	key     string
	changed bool
}

// NewController creates a Controller.
func NewController(board string) *Controller {
	return &Controller{
		Board:  board,
		Config: NewConfig(),
		byName: make(map[string]*session),
	}
}

// Add registers a topology under name. With AutoStart the bring-up
// begins on the first iteration.
func (c *Controller) Add(name string, topo *jesd204.Topology, opts ...jesd204.FSMOption) error {
	if _, exist := c.byName[name]; exist {
		return fmt.Errorf("topology %q already added", name)
	}
	s := &session{
		name:    name,
		fsm:     jesd204.NewFSM(topo, opts...),
		backoff: c.Config.NewBackoff(),
		state:   msgs.StateIdle,
		key:     "bringup/" + c.Board + "/" + name,
		changed: true,
	}
	c.sessions = append(c.sessions, s)
	c.byName[name] = s
	if c.Config.AutoStart {
		c.startSession(s)
	}
	return nil
}

// Topologies lists the names of added topologies.
func (c *Controller) Topologies() []string {
	names := make([]string, len(c.sessions))
	for n, s := range c.sessions {
		names[n] = s.name
	}
	return names
}

// Name implements Named.
func (c *Controller) Name() string {
	return "bringup:" + c.Board
}

// AddToLoop implements LoopAdder.
func (c *Controller) AddToLoop(loop *fx.Loop) {
	loop.AddController(fx.PrLvBringUp, c)
	loop.AddController(fx.PrLvPostProc, fx.ControlFunc(c.notifyStatusChange))
}

// Control implements Controller.
func (c *Controller) Control(cc fx.ControlContext) error {
	var errs fx.AggregatedError
	cc.Messages().ProcessMessages(fx.ProcessMessageFunc(func(mctx fx.MessageProcessingContext) {
		msg, ok := mctx.CurrentMessage().(*agent.CommandMsg)
		if !ok {
			return
		}
		switch m := msg.Command.Msg().(type) {
		case *msgs.BringUpStart:
			mctx.MessageTaken()
			errs.Add(msg.Command.Done(c.start(cc, m.Topology)))
		case *msgs.BringUpStop:
			mctx.MessageTaken()
			errs.Add(msg.Command.Done(c.stop(cc, m.Topology)))
		case *msgs.BringUpStatusQuery:
			mctx.MessageTaken()
			errs.Add(msg.Command.Done(c.query(m.Topology)))
		}
	}))

	for _, s := range c.sessions {
		if s.active() && cc.Due(s.key) {
			c.pass(cc, s)
		}
	}
	return errs.Aggregate()
}

// Shutdown tears down every session which has started. It must not be
// called while the loop is running.
func (c *Controller) Shutdown(ctx context.Context) error {
	var errs fx.AggregatedError
	for _, s := range c.sessions {
		errs.Add(c.stopSession(ctx, s))
	}
	return errs.Aggregate()
}

// Status builds the status of a topology.
func (c *Controller) Status(name string) (*msgs.BringUpStatus, bool) {
	s, ok := c.byName[name]
	if !ok {
		return nil, false
	}
	return c.status(s), true
}

func (c *Controller) lookup(name string) ([]*session, error) {
	if name == "" {
		return c.sessions, nil
	}
	s, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown topology %q", name)
	}
	return []*session{s}, nil
}

func (c *Controller) start(cc fx.ControlContext, name string) fx.Message {
	sessions, err := c.lookup(name)
	if err != nil {
		return msgs.NewCommandErr(err)
	}
	for _, s := range sessions {
		cc.Unschedule(s.key)
		c.startSession(s)
	}
	cc.TriggerNext()
	return msgs.NewCommandOK()
}

func (c *Controller) startSession(s *session) {
	switch s.state {
	case msgs.StateRunning, msgs.StateDeferred, msgs.StateDone:
		return
	case msgs.StateFailed:
		glog.Infof("%s: resume %s at %s", c.Board, s.name, s.fsm.Stage())
	default:
		s.id = uuid.NewV4().String()
		glog.Infof("%s: start %s session %s", c.Board, s.name, s.id)
	}
	s.state = msgs.StateRunning
	s.passes = 0
	s.err = nil
	s.backoff.Reset()
	s.changed = true
}

func (c *Controller) stop(cc fx.ControlContext, name string) fx.Message {
	sessions, err := c.lookup(name)
	if err != nil {
		return msgs.NewCommandErr(err)
	}
	var errs fx.AggregatedError
	for _, s := range sessions {
		cc.Unschedule(s.key)
		errs.Add(c.stopSession(cc.Context(), s))
	}
	if err := errs.Aggregate(); err != nil {
		return msgs.NewCommandErr(err)
	}
	return msgs.NewCommandOK()
}

func (c *Controller) stopSession(ctx context.Context, s *session) error {
	if s.state == msgs.StateIdle || s.state == msgs.StateStopped {
		return nil
	}
	err := s.fsm.Stop(ctx)
	if err != nil {
		glog.Warningf("%s: stop %s: %v", c.Board, s.name, err)
	} else {
		glog.Infof("%s: %s stopped", c.Board, s.name)
	}
	s.state, s.err, s.changed = msgs.StateStopped, err, true
	return err
}

func (c *Controller) query(name string) fx.Message {
	sessions, err := c.lookup(name)
	if err != nil {
		return msgs.NewCommandErr(err)
	}
	reply := &msgs.BringUpStatusReply{}
	for _, s := range sessions {
		reply.Statuses = append(reply.Statuses, c.status(s))
	}
	return reply
}

func (c *Controller) pass(cc fx.ControlContext, s *session) {
	state, stage := s.state, s.fsm.Stage()
	res, err := s.fsm.Start(cc.Context())
	s.passes++
	switch {
	case err != nil:
		s.state, s.err = msgs.StateFailed, err
		glog.Errorf("%s: %s failed: %v", c.Board, s.name, err)
	case res == jesd204.ResultDone:
		s.state = msgs.StateDone
		glog.Infof("%s: %s running after %d passes", c.Board, s.name, s.passes)
	case c.Config.MaxPasses > 0 && s.passes >= c.Config.MaxPasses:
		s.state = msgs.StateFailed
		s.err = &jesd204.RetryExhaustedError{Stage: s.fsm.Stage(), Passes: s.passes}
		glog.Errorf("%s: %s: %v", c.Board, s.name, s.err)
	default:
		s.state = msgs.StateDeferred
		delay := s.backoff.Duration()
		cc.ScheduleAt(s.key, cc.Time().Add(delay))
		glog.V(1).Infof("%s: %s deferred at %s, retry in %s", c.Board, s.name, s.fsm.Stage(), delay)
	}
	if s.state != state || s.fsm.Stage() != stage {
		s.changed = true
	}
}

func (c *Controller) status(s *session) *msgs.BringUpStatus {
	fsmStatus := s.fsm.Status()
	topo := s.fsm.Topology()
	st := &msgs.BringUpStatus{
		Board:    c.Board,
		Topology: s.name,
		Session:  s.id,
		State:    s.state,
		Stage:    fsmStatus.Stage.String(),
		Passes:   uint32(s.passes),
		Sysrefs:  uint32(topo.Sysref().Total()),
	}
	if fsmStatus.Done {
		st.Stage = ""
	}
	if s.err != nil {
		st.Error = s.err.Error()
	}
	for _, u := range fsmStatus.Pending {
		st.Pending = append(st.Pending, &msgs.PendingUnit{Device: u.Device, LinkId: int32(u.LinkID)})
	}
	for _, lnk := range topo.Links() {
		ls := &msgs.LinkStatus{
			Id:           uint32(lnk.ID),
			Transmit:     lnk.IsTransmit,
			Subclass:     uint32(lnk.Subclass),
			Lanes:        uint32(lnk.NumLanes),
			Frozen:       lnk.Frozen(),
			SysrefIssued: uint32(topo.Sysref().Issued(lnk.ID)),
		}
		if rate, err := lnk.RateKHz(); err == nil {
			ls.LaneRateKhz = rate
		}
		st.Links = append(st.Links, ls)
	}
	return st
}

func (c *Controller) notifyStatusChange(cc fx.ControlContext) error {
	var errs fx.AggregatedError
	for _, s := range c.sessions {
		if !s.changed {
			continue
		}
		s.changed = false
		st := c.status(s)
		if c.Registrar != nil {
			errs.Add(c.Registrar.SendEvent(cc.Context(), st))
		}
		if c.Sink != nil {
			errs.Add(c.Sink.Publish(cc.Context(), st))
		}
	}
	return errs.Aggregate()
}

func (s *session) active() bool {
	return s.state == msgs.StateRunning || s.state == msgs.StateDeferred
}

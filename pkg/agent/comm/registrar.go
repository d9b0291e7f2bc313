package comm

import (
	"context"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/jesd204.go/pkg/agent"
	"github.com/robotalks/jesd204.go/pkg/agent/msgs"
	fx "github.com/robotalks/jesd204.go/pkg/framework"
)

// Registrar implements agent.Registrar with Pipe and integrated with Loop.
type Registrar struct {
	pipe Pipe
}

// Init initializes the Registrar with defaults.
func (r *Registrar) Init(rw PacketReadWriter) {
	r.pipe.ReadWriter = rw
	r.pipe.Handler = msgs.HandleTypedMsgFunc(func(ctx context.Context, msg fx.Message, typed *msgs.Typed) error {
		loopCtl := fx.LoopCtlFrom(ctx)
		switch {
		case typed.IsReply():
			glog.V(2).Infof("ignore reply %x", typed.TypeId)
		case typed.IsCommand():
			loopCtl.PostMessage(&agent.CommandMsg{Command: &command{seq: typed.Sequence, msg: msg, pipe: &r.pipe}})
			loopCtl.TriggerNext()
		case typed.IsEvent():
			loopCtl.PostMessage(msg)
			loopCtl.TriggerNext()
		}
		return nil
	})
}

// SendEvent implements Registrar.
func (r *Registrar) SendEvent(ctx context.Context, msg fx.Message) error {
	return r.pipe.SendEventMsg(msg)
}

// Run receives commands until ctx is done or the connection fails.
// ctx must come from a Loop.
func (r *Registrar) Run(ctx context.Context) error {
	return r.pipe.Run(ctx)
}

// AddToLoop implements LoopAdder.
func (r *Registrar) AddToLoop(loop *fx.Loop) {
	loop.Add(&r.pipe)
}

type command struct {
	seq  uint32
	msg  fx.Message
	pipe *Pipe
}

func (c *command) Msg() fx.Message {
	return c.msg
}

func (c *command) Done(msg fx.Message) error {
	return c.pipe.SendCommandMsg(msg, c.seq)
}

// Hub is a Registrar serving any number of point-to-point connections.
// Events are broadcast to every connection.
type Hub struct {
	lock  sync.Mutex
	conns map[*Registrar]struct{}
}

// Serve registers over rw until it fails or ctx is done. ctx must come
// from a Loop.
func (h *Hub) Serve(ctx context.Context, rw PacketReadWriter) error {
	r := &Registrar{}
	r.Init(rw)
	h.lock.Lock()
	if h.conns == nil {
		h.conns = make(map[*Registrar]struct{})
	}
	h.conns[r] = struct{}{}
	h.lock.Unlock()
	defer func() {
		h.lock.Lock()
		delete(h.conns, r)
		h.lock.Unlock()
	}()
	return r.Run(ctx)
}

// Len returns the number of connections.
func (h *Hub) Len() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.conns)
}

// SendEvent implements Registrar.
func (h *Hub) SendEvent(ctx context.Context, msg fx.Message) error {
	h.lock.Lock()
	conns := make([]*Registrar, 0, len(h.conns))
	for r := range h.conns {
		conns = append(conns, r)
	}
	h.lock.Unlock()
	var errs fx.AggregatedError
	for _, r := range conns {
		errs.Add(r.SendEvent(ctx, msg))
	}
	return errs.Aggregate()
}

// RegistrarMux registers an agent with multiple Registrars.
type RegistrarMux struct {
	Registrars []agent.Registrar
}

// SendEvent implements Registrar.
func (r *RegistrarMux) SendEvent(ctx context.Context, msg fx.Message) error {
	var errs fx.AggregatedError
	for _, reg := range r.Registrars {
		errs.Add(reg.SendEvent(ctx, msg))
	}
	return errs.Aggregate()
}

// AddToLoop implements LoopAdder.
func (r *RegistrarMux) AddToLoop(l *fx.Loop) {
	for _, reg := range r.Registrars {
		if adder, ok := reg.(fx.LoopAdder); ok {
			l.Add(adder)
		}
	}
}

// Add adds more registrars.
func (r *RegistrarMux) Add(regs ...agent.Registrar) {
	r.Registrars = append(r.Registrars, regs...)
}

// UnsupportedCommands replies left-over commands as unsupported.
type UnsupportedCommands struct {
}

// Control implements Controller.
func (c *UnsupportedCommands) Control(cc fx.ControlContext) error {
	var errs fx.AggregatedError
	cc.Messages().ProcessMessages(fx.ProcessMessageFunc(func(mctx fx.MessageProcessingContext) {
		if cmdMsg, ok := mctx.CurrentMessage().(*agent.CommandMsg); ok {
			mctx.MessageTaken()
			errs.Add(cmdMsg.Command.Done(msgs.NewCommandErr(msgs.ErrUnsupportedCommand)))
		}
	}))
	return errs.Aggregate()
}

// AddToLoop implements LoopAdder.
func (c *UnsupportedCommands) AddToLoop(loop *fx.Loop) {
	loop.AddController(fx.PrLvIdle, c)
}

// InfoResponder answers AgentInfoQuery.
type InfoResponder struct {
	Info agent.AgentInfo
}

// Control implements Controller.
func (c *InfoResponder) Control(cc fx.ControlContext) error {
	var errs fx.AggregatedError
	cc.Messages().ProcessMessages(fx.ProcessMessageFunc(func(mctx fx.MessageProcessingContext) {
		cmdMsg, ok := mctx.CurrentMessage().(*agent.CommandMsg)
		if !ok {
			return
		}
		if _, ok := cmdMsg.Command.Msg().(*msgs.AgentInfoQuery); ok {
			mctx.MessageTaken()
			errs.Add(cmdMsg.Command.Done(&msgs.AgentInfoReply{
				Board:       c.Info.Ref.Board,
				Id:          c.Info.Ref.ID,
				Description: c.Info.Meta.Description,
				Topologies:  c.Info.Meta.Topologies,
			}))
		}
	}))
	return errs.Aggregate()
}

// AddToLoop implements LoopAdder.
func (c *InfoResponder) AddToLoop(loop *fx.Loop) {
	loop.AddController(fx.PrLvCommand, c)
}

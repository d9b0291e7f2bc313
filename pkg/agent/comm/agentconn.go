package comm

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/jesd204.go/pkg/agent"
	"github.com/robotalks/jesd204.go/pkg/agent/msgs"
	fx "github.com/robotalks/jesd204.go/pkg/framework"
)

// AgentConn provides base implementation for agent.AgentConn using Pipe.
type AgentConn struct {
	Expiration time.Duration

	pipe     Pipe
	seq      uint32
	commands list.List
	seqMap   map[uint32]*commandFuture
	lock     sync.Mutex
}

// DefaultCommandExpiration is the default expiration expecting a result.
const DefaultCommandExpiration = 5 * time.Second

// NewAgentConn creates an AgentConn over rw.
func NewAgentConn(rw PacketReadWriter) *AgentConn {
	c := &AgentConn{}
	c.Init(rw)
	return c
}

// Init initializes AgentConn with defaults.
func (c *AgentConn) Init(rw PacketReadWriter) {
	c.Expiration = DefaultCommandExpiration
	c.pipe.ReadWriter = rw
	c.pipe.Handler = msgs.HandleTypedMsgFunc(c.handleTypedMsg)
	c.seqMap = make(map[uint32]*commandFuture)
}

// DoCommand implements AgentConn.
func (c *AgentConn) DoCommand(msg fx.Message) agent.CommandFuture {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.seq++
	if c.seq == 0 {
		c.seq++
	}
	f := &commandFuture{
		seq:      c.seq,
		expireAt: time.Now().Add(c.Expiration),
		result:   make(chan agent.Result, 1),
	}
	if err := c.pipe.SendCommandMsg(msg, f.seq); err != nil {
		f.result <- agent.Result{Err: err}
		close(f.result)
		return f
	}
	f.elem = c.commands.PushBack(f)
	c.seqMap[f.seq] = f
	return f
}

// Pending returns the number of commands waiting for a reply.
func (c *AgentConn) Pending() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.commands.Len()
}

// Close closes the underlying connection.
func (c *AgentConn) Close() error {
	return c.pipe.Close()
}

// AddToLoop implements LoopAdder.
func (c *AgentConn) AddToLoop(l *fx.Loop) {
	l.Add(&c.pipe)
	l.AddController(fx.PrLvIdle, fx.ControlFunc(c.purgeExpired))
}

func (c *AgentConn) handleTypedMsg(ctx context.Context, msg fx.Message, typed *msgs.Typed) error {
	if typed.IsEvent() {
		loopCtl := fx.LoopCtlFrom(ctx)
		loopCtl.PostMessage(msg)
		loopCtl.TriggerNext()
		return nil
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	f := c.seqMap[typed.Sequence]
	if f == nil {
		glog.V(2).Infof("drop reply %x with unknown sequence %d", typed.TypeId, typed.Sequence)
		return nil
	}
	c.commands.Remove(f.elem)
	delete(c.seqMap, typed.Sequence)
	result := agent.Result{Msg: msg}
	if cmdErr, ok := msg.(*msgs.CommandErr); ok {
		result.Err = cmdErr
	}
	f.result <- result
	close(f.result)
	return nil
}

func (c *AgentConn) purgeExpired(cc fx.ControlContext) error {
	now := cc.Time()
	c.lock.Lock()
	defer c.lock.Unlock()
	for c.commands.Len() > 0 {
		elem := c.commands.Front()
		f := elem.Value.(*commandFuture)
		if f.expireAt.After(now) {
			break
		}
		c.commands.Remove(elem)
		delete(c.seqMap, f.seq)
		f.result <- agent.Result{Err: context.DeadlineExceeded}
		close(f.result)
	}
	return nil
}

type commandFuture struct {
	seq      uint32
	expireAt time.Time
	elem     *list.Element
	result   chan agent.Result
}

func (c *commandFuture) ResultChan() <-chan agent.Result {
	return c.result
}

// DirectConnector reaches a single agent over a point-to-point transport.
type DirectConnector struct {
	Dial    DialFunc
	Timeout time.Duration
}

// DefaultQueryTimeout bounds the AgentInfoQuery issued by Discover.
const DefaultQueryTimeout = time.Second

// Discover implements Connector by querying the agent at the other end.
func (c *DirectConnector) Discover(ctx context.Context) ([]agent.AgentInfo, error) {
	rw, err := c.Dial(ctx)
	if err != nil {
		return nil, err
	}
	conn := NewAgentConn(rw)
	if c.Timeout > 0 {
		conn.Expiration = c.Timeout
	} else {
		conn.Expiration = DefaultQueryTimeout
	}
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	loop := fx.NewLoop().Add(conn)
	go loop.Run(loopCtx)

	var res agent.Result
	select {
	case res = <-conn.DoCommand(&msgs.AgentInfoQuery{}).ResultChan():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}
	reply, ok := res.Msg.(*msgs.AgentInfoReply)
	if !ok {
		return nil, fmt.Errorf("unexpected reply %T", res.Msg)
	}
	return []agent.AgentInfo{{
		Ref: agent.AgentRef{Board: reply.Board, ID: reply.Id},
		Meta: agent.AgentMeta{
			Description: reply.Description,
			Topologies:  reply.Topologies,
		},
	}}, nil
}

// Connect implements Connector. The returned AgentConn must be added to
// a Loop.
func (c *DirectConnector) Connect(ctx context.Context, ref agent.AgentRef) (agent.AgentConn, error) {
	rw, err := c.Dial(ctx)
	if err != nil {
		return nil, err
	}
	return NewAgentConn(rw), nil
}

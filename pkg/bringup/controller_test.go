package bringup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/jesd204.go/pkg/agent"
	"github.com/robotalks/jesd204.go/pkg/agent/msgs"
	fx "github.com/robotalks/jesd204.go/pkg/framework"
	"github.com/robotalks/jesd204.go/pkg/jesd204"
	"github.com/robotalks/jesd204.go/pkg/sim"
	"github.com/robotalks/jesd204.go/pkg/status"
)

type testCommand struct {
	msg   fx.Message
	reply chan fx.Message
}

func (c *testCommand) Msg() fx.Message { return c.msg }

func (c *testCommand) Done(msg fx.Message) error {
	c.reply <- msg
	return nil
}

type eventRecorder chan *msgs.BringUpStatus

func (r eventRecorder) SendEvent(ctx context.Context, msg fx.Message) error {
	r <- msg.(*msgs.BringUpStatus)
	return nil
}

type harness struct {
	t      *testing.T
	board  *sim.Board
	ctl    *Controller
	loop   *fx.Loop
	events eventRecorder
	sunk   chan *msgs.BringUpStatus
	cancel func()
	done   chan error
}

func newHarness(t *testing.T, preset string, conf *Config, setup func(*sim.Board)) *harness {
	spec, err := sim.Preset(preset)
	require.NoError(t, err)
	board, err := sim.NewBoard(jesd204.NewRegistry(), spec, sim.NewRegisterFile("spi0.0"))
	require.NoError(t, err)
	if setup != nil {
		setup(board)
	}
	h := &harness{
		t:      t,
		board:  board,
		events: make(eventRecorder, 256),
		sunk:   make(chan *msgs.BringUpStatus, 256),
		done:   make(chan error, 1),
	}
	h.ctl = conf.NewController(board.Name)
	h.ctl.Registrar = h.events
	h.ctl.Sink = status.SinkFunc(func(ctx context.Context, st *msgs.BringUpStatus) error {
		h.sunk <- st
		return nil
	})
	for _, bt := range board.Topologies {
		require.NoError(t, h.ctl.Add(bt.Name, bt.Topology))
	}
	h.loop = fx.NewLoop()
	h.loop.Interval = 5 * time.Millisecond
	h.loop.Add(h.ctl)
	var ctx context.Context
	ctx, h.cancel = context.WithCancel(context.Background())
	go func() { h.done <- h.loop.Run(ctx) }()
	return h
}

func (h *harness) close() {
	h.cancel()
	<-h.done
	require.NoError(h.t, h.ctl.Shutdown(context.Background()))
	require.NoError(h.t, h.board.Close())
}

func (h *harness) do(msg fx.Message) fx.Message {
	cmd := &testCommand{msg: msg, reply: make(chan fx.Message, 1)}
	h.loop.PostMessage(&agent.CommandMsg{Command: cmd})
	h.loop.TriggerNext()
	select {
	case reply := <-cmd.reply:
		return reply
	case <-time.After(5 * time.Second):
		h.t.Fatalf("no reply for %T", msg)
	}
	return nil
}

// waitState consumes events until topology reaches state.
func (h *harness) waitState(topology, state string) *msgs.BringUpStatus {
	timeout := time.After(5 * time.Second)
	for {
		select {
		case st := <-h.events:
			if st.Topology == topology && st.State == state {
				return st
			}
		case <-timeout:
			h.t.Fatalf("%s never reached %s", topology, state)
		}
	}
}

func testConfig() *Config {
	return &Config{RetryMin: time.Millisecond, RetryMax: 2 * time.Millisecond, MaxPasses: 20}
}

func TestBringUpCommands(t *testing.T) {
	h := newHarness(t, "fmcdaq2", testConfig(), nil)
	defer h.close()
	require.Equal(t, []string{"rx", "tx"}, h.ctl.Topologies())

	idle := h.waitState("rx", msgs.StateIdle)
	require.Empty(t, idle.Session)
	require.Equal(t, "device_init", idle.Stage)

	require.IsType(t, &msgs.CommandOK{}, h.do(&msgs.BringUpStart{Topology: "rx"}))
	st := h.waitState("rx", msgs.StateDone)
	require.NotEmpty(t, st.Session)
	require.Equal(t, "fmcdaq2", st.Board)
	require.Equal(t, uint32(2), st.Passes)
	require.Empty(t, st.Stage)
	require.Empty(t, st.Pending)
	require.Equal(t, uint32(1), st.Sysrefs)
	require.Equal(t, []*msgs.LinkStatus{{
		Id:           1,
		Subclass:     1,
		Lanes:        4,
		LaneRateKhz:  10000000,
		Frozen:       true,
		SysrefIssued: 1,
	}}, st.Links)

	// Starting a running topology keeps the session.
	require.IsType(t, &msgs.CommandOK{}, h.do(&msgs.BringUpStart{Topology: "rx"}))
	reply := h.do(&msgs.BringUpStatusQuery{})
	require.IsType(t, &msgs.BringUpStatusReply{}, reply)
	statuses := reply.(*msgs.BringUpStatusReply).Statuses
	require.Len(t, statuses, 2)
	require.Equal(t, st.Session, statuses[0].Session)
	require.Equal(t, msgs.StateDone, statuses[0].State)
	require.Equal(t, msgs.StateIdle, statuses[1].State)
	// Lane parameters are applied at link_init.
	require.Equal(t, []*msgs.LinkStatus{{Id: 2, Transmit: true}}, statuses[1].Links)

	require.IsType(t, &msgs.CommandOK{}, h.do(&msgs.BringUpStop{Topology: "rx"}))
	st = h.waitState("rx", msgs.StateStopped)
	require.Equal(t, "device_init", st.Stage)
	require.False(t, st.Links[0].Frozen)
	require.Zero(t, st.Sysrefs)
	rx, _ := h.board.Topology("rx")
	require.False(t, rx.Converter.State().Running)

	for _, msg := range []fx.Message{
		&msgs.BringUpStart{Topology: "orx"},
		&msgs.BringUpStop{Topology: "orx"},
		&msgs.BringUpStatusQuery{Topology: "orx"},
	} {
		reply := h.do(msg)
		require.IsType(t, &msgs.CommandErr{}, reply)
		require.Equal(t, `unknown topology "orx"`, reply.(*msgs.CommandErr).Message)
	}

	// Every event also reaches the sink.
	require.True(t, len(h.sunk) > 0)
}

func TestAutoStart(t *testing.T) {
	conf := testConfig()
	conf.AutoStart = true
	h := newHarness(t, "fmcdaq2", conf, nil)
	defer h.close()
	done := make(map[string]*msgs.BringUpStatus)
	timeout := time.After(5 * time.Second)
	for len(done) < 2 {
		select {
		case st := <-h.events:
			require.NotEqual(t, msgs.StateIdle, st.State)
			if st.State == msgs.StateDone {
				done[st.Topology] = st
			}
		case <-timeout:
			t.Fatalf("topologies not done: %v", done)
		}
	}
	require.NotEmpty(t, done["rx"].Session)
	require.NotEqual(t, done["rx"].Session, done["tx"].Session)
	require.Equal(t, uint32(1), done["rx"].Sysrefs)
	require.Zero(t, done["tx"].Sysrefs)
	_, ok := h.ctl.Status("orx")
	require.False(t, ok)
}

func TestRetryExhausted(t *testing.T) {
	conf := testConfig()
	conf.MaxPasses = 1
	h := newHarness(t, "adrv9009", conf, nil)
	defer h.close()

	require.IsType(t, &msgs.CommandOK{}, h.do(&msgs.BringUpStart{}))
	st := h.waitState("trx", msgs.StateFailed)
	require.Equal(t, "link_setup", st.Stage)
	require.Equal(t, "link_setup still deferred after 1 passes", st.Error)
	require.Equal(t, uint32(1), st.Passes)
	require.NotEmpty(t, st.Pending)

	// Resuming from a failure keeps the session and gets a new budget.
	h.ctl.Config.MaxPasses = 0
	require.IsType(t, &msgs.CommandOK{}, h.do(&msgs.BringUpStart{Topology: "trx"}))
	done := h.waitState("trx", msgs.StateDone)
	require.Equal(t, st.Session, done.Session)
	require.Empty(t, done.Error)
	require.Equal(t, uint32(4), done.Passes)
}

func TestDeferredPassDeadline(t *testing.T) {
	conf := testConfig()
	conf.RetryMin, conf.RetryMax = time.Hour, 2*time.Hour
	h := newHarness(t, "adrv9009", conf, nil)
	defer h.close()
	require.Equal(t, "bringup:adrv9009", h.ctl.Name())

	require.IsType(t, &msgs.CommandOK{}, h.do(&msgs.BringUpStart{Topology: "trx"}))
	st := h.waitState("trx", msgs.StateDeferred)
	require.Equal(t, uint32(1), st.Passes)
	at, ok := h.loop.Deadline("bringup/adrv9009/trx")
	require.True(t, ok)
	require.True(t, at.After(time.Now().Add(30*time.Minute)))

	// Ticks before the deadline run no pass.
	time.Sleep(20 * time.Millisecond)
	reply := h.do(&msgs.BringUpStatusQuery{Topology: "trx"})
	require.Equal(t, uint32(1), reply.(*msgs.BringUpStatusReply).Statuses[0].Passes)

	require.IsType(t, &msgs.CommandOK{}, h.do(&msgs.BringUpStop{Topology: "trx"}))
	_, ok = h.loop.Deadline("bringup/adrv9009/trx")
	require.False(t, ok)
}

func TestStageFailure(t *testing.T) {
	fault := errors.New("serdes PLL unlocked")
	h := newHarness(t, "adrv9009", testConfig(), func(b *sim.Board) {
		bt, _ := b.Topology("trx")
		bt.Converter.Faults[jesd204.StageLinkEnable] = fault
	})
	defer h.close()

	require.IsType(t, &msgs.CommandOK{}, h.do(&msgs.BringUpStart{Topology: "trx"}))
	st := h.waitState("trx", msgs.StateFailed)
	require.Equal(t, "link_enable", st.Stage)
	require.Contains(t, st.Error, fault.Error())
	require.Contains(t, st.Pending, &msgs.PendingUnit{Device: "adrv9009-phy", LinkId: int32(sim.LinkTx)})

	require.IsType(t, &msgs.CommandOK{}, h.do(&msgs.BringUpStop{}))
	h.waitState("trx", msgs.StateStopped)
}

func TestAddDuplicate(t *testing.T) {
	spec, err := sim.Preset("fmcdaq2")
	require.NoError(t, err)
	board, err := sim.NewBoard(jesd204.NewRegistry(), spec, sim.NewRegisterFile("spi0.0"))
	require.NoError(t, err)
	defer board.Close()
	ctl := testConfig().NewController(board.Name)
	rx, _ := board.Topology("rx")
	require.NoError(t, ctl.Add("rx", rx.Topology))
	require.Error(t, ctl.Add("rx", rx.Topology))
}

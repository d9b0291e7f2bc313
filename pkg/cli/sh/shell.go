// Package sh provides the interactive shell for bring-up agents.
package sh

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/golang/glog"

	"github.com/robotalks/jesd204.go/pkg/agent"
	env "github.com/robotalks/jesd204.go/pkg/agent/env/connector"
	"github.com/robotalks/jesd204.go/pkg/agent/msgs"
	fx "github.com/robotalks/jesd204.go/pkg/framework"
	"github.com/robotalks/jesd204.go/pkg/status"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoConnect bool
	Timeout     time.Duration

	Shell  *ishell.Shell
	Config *env.Config
	Loop   *ConnLoop

	watch int32
}

// ConnLoop is a running loop with an agent connection.
type ConnLoop struct {
	Ctx    context.Context
	Cancel func()
	Ref    agent.AgentRef
	Loop   *fx.Loop
	Conn   agent.AgentConn
}

// DefaultCommandTimeout is the time to wait for a command reply.
const DefaultCommandTimeout = 2 * time.Second

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
)

var (
	// flags

	evalOnly   bool
	outputJSON bool
	timeout    = DefaultCommandTimeout

	// commands
	commands = []*ishell.Cmd{
		&DiscoverCmd,
		&ConnectCmd,
		&DisconnectCmd,
		&WatchCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
	flag.DurationVar(&timeout, "timeout", timeout, "Command reply timeout.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(conf *env.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,
		Timeout:     timeout,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeConnected wraps command func requires a connection.
func MustBeConnected(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Loop == nil {
			c.Err(fmt.Errorf("not connected"))
			return
		}
		fn(c)
	}
}

// FormatInfo prints AgentInfo into friendly string for display.
func FormatInfo(info agent.AgentInfo) string {
	var w bytes.Buffer
	fmt.Fprintf(&w, "%s", info.Ref.Name())
	if info.Meta.Description != "" {
		fmt.Fprintf(&w, ": %s", info.Meta.Description)
	}
	if len(info.Meta.Topologies) > 0 {
		fmt.Fprintf(&w, " %v", info.Meta.Topologies)
	}
	return w.String()
}

// FormatReply renders a command reply for display.
func FormatReply(msg fx.Message) string {
	switch m := msg.(type) {
	case *msgs.CommandOK:
		return "OK"
	case *msgs.BringUpStatusReply:
		var w bytes.Buffer
		for n, st := range m.Statuses {
			if n > 0 {
				w.WriteString("\n")
			}
			w.WriteString(status.Format(st))
		}
		return w.String()
	case *msgs.BringUpStatus:
		return status.Format(m)
	}
	return fmt.Sprintf("%s %s",
		reflect.Indirect(reflect.ValueOf(msg)).Type().Name(),
		msg.(msgs.SerializableMessage).Serializable().String())
}

// DoCommand runs a command and waits for result.
func DoCommand(c *ishell.Context, msg fx.Message) (err error) {
	s := ShellFrom(c)
	if s.Loop == nil {
		err = fmt.Errorf("not connected")
		c.Err(err)
		return
	}
	wait := s.Timeout
	if wait <= 0 {
		wait = DefaultCommandTimeout
	}
	f := s.Loop.Conn.DoCommand(msg)
	select {
	case res := <-f.ResultChan():
		if res.Err != nil {
			c.Err(res.Err)
			return res.Err
		}
		if s.OutputJSON {
			out, err := json.Marshal(res.Msg.(msgs.SerializableMessage).Serializable())
			if err != nil {
				c.Err(err)
				return err
			}
			c.Println(string(out))
			return nil
		}
		c.Println(FormatReply(res.Msg))
	case <-time.After(wait):
		c.Err(fmt.Errorf("command timeout"))
		return context.DeadlineExceeded
	}
	return nil
}

// WithAutoConnect sets AutoConnect.
func (s *Shell) WithAutoConnect(en bool) *Shell {
	s.AutoConnect = en
	return s
}

// SetWatch enables printing status events of the connected agent.
func (s *Shell) SetWatch(en bool) {
	var val int32
	if en {
		val = 1
	}
	atomic.StoreInt32(&s.watch, val)
}

// Watching indicates status events are printed.
func (s *Shell) Watching() bool {
	return atomic.LoadInt32(&s.watch) != 0
}

// DiscoverAgents discovers agents.
func (s *Shell) DiscoverAgents(filter func(agent.AgentInfo) bool) (agent.Connector, []agent.AgentInfo, error) {
	connector, err := s.Config.NewConnector()
	if err != nil {
		return nil, nil, err
	}
	infoList, err := connector.Discover(context.TODO())
	if err != nil {
		return connector, nil, err
	}
	if filter != nil {
		items := make([]agent.AgentInfo, 0, len(infoList))
		for _, info := range infoList {
			if filter(info) {
				items = append(items, info)
			}
		}
		infoList = items
	}
	return connector, infoList, nil
}

// SelectAgent discovers agents and asks for a choice.
func (s *Shell) SelectAgent(filter func(agent.AgentInfo) bool) (agent.Connector, *agent.AgentInfo, error) {
	connector, infoList, err := s.DiscoverAgents(filter)
	if err != nil {
		return nil, nil, err
	}
	if len(infoList) == 0 {
		return connector, nil, nil
	}
	var index int
	if len(infoList) > 1 {
		if !s.Interactive {
			return nil, nil, fmt.Errorf("more than 1 agents discovered in non-interactive mode")
		}
		items := make([]string, len(infoList))
		for n, info := range infoList {
			items[n] = FormatInfo(info)
		}
		index = s.Shell.MultiChoice(items, "Which one to connect?")
	}

	return connector, &infoList[index], nil
}

// Connect connects agent with ref.
func (s *Shell) Connect(ref agent.AgentRef) error {
	connector, err := s.Config.NewConnector()
	if err != nil {
		return err
	}
	connLoop := &ConnLoop{Ref: ref}
	connLoop.Ctx, connLoop.Cancel = context.WithCancel(context.Background())
	if connLoop.Conn, err = connector.Connect(connLoop.Ctx, ref); err != nil {
		connLoop.Cancel()
		return err
	}
	connLoop.Loop = fx.NewLoop()
	if adder, ok := connLoop.Conn.(fx.LoopAdder); ok {
		connLoop.Loop.Add(adder)
	}
	connLoop.Loop.AddController(fx.PrLvReport, fx.ControlFunc(s.printEvents))
	if s.Loop != nil {
		s.Loop.Cancel()
	}
	s.Loop = connLoop
	go connLoop.Loop.Run(connLoop.Ctx)
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", ref.Name()))
	return nil
}

// Disconnect disconnects current agent.
func (s *Shell) Disconnect() {
	if s.Loop != nil {
		s.Loop.Cancel()
		s.Loop = nil
		s.Shell.SetPrompt(unconnectedPrompt)
	}
}

func (s *Shell) printEvents(cc fx.ControlContext) error {
	cc.Messages().ProcessMessages(fx.ProcessMessageFunc(func(mctx fx.MessageProcessingContext) {
		st, ok := mctx.CurrentMessage().(*msgs.BringUpStatus)
		if !ok {
			return
		}
		mctx.MessageTaken()
		if s.Watching() {
			s.Shell.Println(status.Format(st))
		}
	}))
	return nil
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.AutoConnect && s.Config.Ref.IsValid() {
		if s.Interactive {
			s.Shell.Printf("Connecting %s ...\n", s.Config.Ref.Name())
		}
		if err := s.Connect(s.Config.Ref); err != nil {
			glog.Exitf("connect %q failed: %v", s.Config.Ref.Name(), err)
		}
	}

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			glog.Exit(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	glog.Exit("command expected")
}

var (
	// DiscoverCmd discovers agents.
	DiscoverCmd = ishell.Cmd{
		Name:    "discover",
		Aliases: []string{"list", "l"},
		Help:    "[BOARD]",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			var filter func(agent.AgentInfo) bool
			if len(c.Args) > 0 {
				filter = func(info agent.AgentInfo) bool {
					return info.Ref.Board == c.Args[0]
				}
			}
			_, infoList, err := s.DiscoverAgents(filter)
			if err != nil {
				c.Err(err)
				return
			}
			if s.OutputJSON {
				if len(infoList) == 0 {
					// in case infoList is nil, make it empty slice.
					infoList = []agent.AgentInfo{}
				}
				out, err := json.Marshal(infoList)
				if err != nil {
					c.Err(err)
					return
				}
				c.Println(string(out))
				return
			}
			if len(infoList) == 0 {
				c.Println("No agents found")
				return
			}
			for _, info := range infoList {
				c.Println(FormatInfo(info))
			}
		},
	}

	// ConnectCmd connects an agent.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "BOARD ID | BOARD/ID | [BOARD]",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			var ref agent.AgentRef
			switch {
			case len(c.Args) >= 2:
				ref.Board, ref.ID = c.Args[0], c.Args[1]
			case len(c.Args) == 1 && isAgentName(c.Args[0]):
				ref, _ = agent.ParseAgentRef(c.Args[0])
			default:
				var filter func(agent.AgentInfo) bool
				if len(c.Args) == 1 {
					filter = func(info agent.AgentInfo) bool {
						return info.Ref.Board == c.Args[0]
					}
				}
				_, info, err := s.SelectAgent(filter)
				if err != nil {
					c.Err(err)
					return
				}
				if info == nil {
					c.Err(fmt.Errorf("no agent discovered"))
					return
				}
				ref = info.Ref
			}
			if err := s.Connect(ref); err != nil {
				c.Err(err)
				return
			}
		},
	}

	// DisconnectCmd disconnects current agent.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Disconnect()
		},
	}

	// WatchCmd toggles printing of status events.
	WatchCmd = ishell.Cmd{
		Name:    "watch",
		Aliases: []string{"w"},
		Help:    "[on|off]",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			en := !s.Watching()
			if len(c.Args) > 0 {
				en = c.Args[0] == "on"
			}
			s.SetWatch(en)
			if en {
				c.Println("watching status events")
			}
		},
	}
)

func isAgentName(name string) bool {
	_, ok := agent.ParseAgentRef(name)
	return ok
}

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	New(env.NewConfig()).WithAutoConnect(true).Run(flag.Args()...)
}

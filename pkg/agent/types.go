package agent

import (
	"context"
	"strings"

	fx "github.com/robotalks/jesd204.go/pkg/framework"
)

// Registrar publishes a bring-up agent to a registry.
// It integrates with framework so controllers on the loop
// receive commands as CommandMsg.
type Registrar interface {
	// SendEvent broadcasts an event to connected clients.
	SendEvent(context.Context, fx.Message) error
}

// Command represents a received command to be processed.
type Command interface {
	Msg() fx.Message
	Done(fx.Message) error
}

// CommandMsg wraps a Command as a Message.
type CommandMsg struct {
	Command Command
}

// NewMessage implements Message.
func (m *CommandMsg) NewMessage() fx.Message { return &CommandMsg{} }

// AgentRef is a reference to a bring-up agent.
type AgentRef struct {
	// Board is the board type the agent drives, e.g. adrv9009.
	Board string `json:"board"`
	// ID is unique ID of the agent host.
	ID string `json:"id"`
}

// Name retrieves the name from ref.
func (r AgentRef) Name() string {
	return r.Board + "/" + r.ID
}

// IsValid indicates AgentRef is valid.
func (r AgentRef) IsValid() bool {
	return r.Board != "" && r.ID != ""
}

// ParseAgentRef parses BOARD/ID.
func ParseAgentRef(name string) (AgentRef, bool) {
	items := strings.SplitN(name, "/", 2)
	if len(items) != 2 {
		return AgentRef{}, false
	}
	ref := AgentRef{Board: items[0], ID: items[1]}
	return ref, ref.IsValid()
}

// AgentMeta provides metadata of an agent.
type AgentMeta struct {
	Description string            `json:"description,omitempty"`
	Topologies  []string          `json:"topologies,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// AgentInfo provides information of an agent.
type AgentInfo struct {
	Ref  AgentRef  `json:"ref"`
	Meta AgentMeta `json:"meta"`
}

// Connector is used by clients to reach an agent.
type Connector interface {
	// Discover enumerates registered agents.
	Discover(context.Context) ([]AgentInfo, error)
	// Connect connects to the specified agent.
	Connect(context.Context, AgentRef) (AgentConn, error)
}

// AgentConn is the connection to an agent.
type AgentConn interface {
	// DoCommand executes a command.
	DoCommand(fx.Message) CommandFuture
}

// Result represents result of a command.
type Result struct {
	Msg fx.Message
	Err error
}

// CommandFuture is the future of sent command.
type CommandFuture interface {
	ResultChan() <-chan Result
}

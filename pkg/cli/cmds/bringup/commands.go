package bringup

import (
	"github.com/abiosoft/ishell"

	"github.com/robotalks/jesd204.go/pkg/agent/msgs"
	"github.com/robotalks/jesd204.go/pkg/cli/sh"
)

func topologyArg(c *ishell.Context) string {
	if len(c.Args) > 0 {
		return c.Args[0]
	}
	return ""
}

var (
	// StartCmd exposes BringUpStart command.
	StartCmd = ishell.Cmd{
		Name:    "bringup.start",
		Aliases: []string{"start"},
		Help:    "[TOPOLOGY]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			sh.DoCommand(c, &msgs.BringUpStart{Topology: topologyArg(c)})
		}),
	}

	// StopCmd exposes BringUpStop command.
	StopCmd = ishell.Cmd{
		Name:    "bringup.stop",
		Aliases: []string{"stop"},
		Help:    "[TOPOLOGY]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			sh.DoCommand(c, &msgs.BringUpStop{Topology: topologyArg(c)})
		}),
	}

	// StatusCmd exposes BringUpStatusQuery command.
	StatusCmd = ishell.Cmd{
		Name:    "bringup.status",
		Aliases: []string{"status", "st"},
		Help:    "[TOPOLOGY]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			sh.DoCommand(c, &msgs.BringUpStatusQuery{Topology: topologyArg(c)})
		}),
	}

	// InfoCmd exposes AgentInfoQuery command.
	InfoCmd = ishell.Cmd{
		Name:    "agent.info",
		Aliases: []string{"info"},
		Help:    "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			sh.DoCommand(c, &msgs.AgentInfoQuery{})
		}),
	}
)

func init() {
	sh.AddCmds(
		&StartCmd,
		&StopCmd,
		&StatusCmd,
		&InfoCmd,
	)
}

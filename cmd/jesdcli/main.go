package main

import (
	env "github.com/robotalks/jesd204.go/pkg/agent/env/connector"
	"github.com/robotalks/jesd204.go/pkg/cli/sh"

	_ "github.com/robotalks/jesd204.go/pkg/cli/cmds/bringup"
)

//go-build: CGO_ENABLED=0

func init() {
	env.SetupFlags()
}

func main() {
	sh.Main()
}

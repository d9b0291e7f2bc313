package daemon

import (
	"flag"
	"fmt"
	"os"

	"github.com/golang/glog"

	"github.com/robotalks/jesd204.go/pkg/agent"
	"github.com/robotalks/jesd204.go/pkg/agent/comm"
	"github.com/robotalks/jesd204.go/pkg/agent/comm/mqtt"
	"github.com/robotalks/jesd204.go/pkg/agent/comm/stream"
	"github.com/robotalks/jesd204.go/pkg/agent/comm/websocket"
	"github.com/robotalks/jesd204.go/pkg/agent/env"
	fx "github.com/robotalks/jesd204.go/pkg/framework"
)

// Config provides common options to setup an env for bring-up agents.
type Config struct {
	Info agent.AgentInfo

	// MQTTBrokerURL specifies the MQTT broker to register with.
	// e.g. mqtt://host:port/topic-prefix
	MQTTBrokerURL string
	// ListenAddr accepts direct TCP clients when not empty, e.g. :7204.
	ListenAddr string
	// WebsocketAddr serves websocket clients when not empty, e.g. :7205.
	WebsocketAddr string
}

var defaultConfig = Config{
	MQTTBrokerURL: "mqtt://localhost:1883/jesd204/",
}

func init() {
	if val := os.Getenv("JESD_MQTT_URL"); val != "" {
		defaultConfig.MQTTBrokerURL = val
	}
	if val := os.Getenv("JESD_LISTEN"); val != "" {
		defaultConfig.ListenAddr = val
	}
	if val := os.Getenv("JESD_WS_LISTEN"); val != "" {
		defaultConfig.WebsocketAddr = val
	}
	if val := os.Getenv("JESD_AGENT_ID"); val != "" {
		defaultConfig.Info.Ref.ID = val
	} else {
		defaultConfig.Info.Ref.ID = env.MachineID()
	}
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.Info.Ref.Board, "board", defaultConfig.Info.Ref.Board, "Board name")
	flag.StringVar(&defaultConfig.Info.Ref.ID, "id", defaultConfig.Info.Ref.ID, "Agent ID")
	flag.StringVar(&defaultConfig.MQTTBrokerURL, "mqtt", defaultConfig.MQTTBrokerURL, "MQTT broker URL, empty to disable")
	flag.StringVar(&defaultConfig.ListenAddr, "listen", defaultConfig.ListenAddr, "TCP address for direct clients")
	flag.StringVar(&defaultConfig.WebsocketAddr, "ws-listen", defaultConfig.WebsocketAddr, "Websocket address for direct clients")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// SetBoard should be called before NewEnv with basic info about the board.
func (c *Config) SetBoard(board string, meta agent.AgentMeta) {
	c.Info.Ref.Board = board
	c.Info.Meta = meta
}

// Env is the env for bring-up agents.
type Env struct {
	Config       *Config
	RegistryURLs []string
	Registrar    *comm.RegistrarMux
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// NewEnv creates Env from config.
func (c *Config) NewEnv() (*Env, error) {
	if !c.Info.Ref.IsValid() {
		return nil, fmt.Errorf("board and agent id must be specified")
	}
	env := &Env{
		Config:    c,
		Registrar: &comm.RegistrarMux{},
	}
	if c.MQTTBrokerURL != "" {
		reg, err := mqtt.NewRegistrar(c.MQTTBrokerURL, c.Info)
		if err != nil {
			return nil, fmt.Errorf("create MQTT registrar error: %v", err)
		}
		env.Registrar.Add(reg)
		env.RegistryURLs = append(env.RegistryURLs, c.MQTTBrokerURL)
	}
	if c.ListenAddr != "" {
		env.Registrar.Add(stream.NewListener(c.ListenAddr))
		env.RegistryURLs = append(env.RegistryURLs, "tcp://"+c.ListenAddr)
	}
	if c.WebsocketAddr != "" {
		env.Registrar.Add(websocket.NewServer(c.WebsocketAddr))
		env.RegistryURLs = append(env.RegistryURLs, "ws://"+c.WebsocketAddr+websocket.DefaultPath)
	}
	if len(env.Registrar.Registrars) == 0 {
		return nil, fmt.Errorf("at least one registrar is required")
	}
	return env, nil
}

// MustNewEnv creates Env and fails on error.
func (c *Config) MustNewEnv() *Env {
	env, err := c.NewEnv()
	if err != nil {
		glog.Exit(err)
	}
	return env
}

// AddToLoop adds controllers/runners to loop.
func (e *Env) AddToLoop(loop *fx.Loop) {
	loop.Add(e.Registrar)
	loop.Add(&comm.InfoResponder{Info: e.Config.Info})
	loop.Add(&comm.UnsupportedCommands{})
}

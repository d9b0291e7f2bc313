package connector

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"

	"github.com/golang/glog"

	"github.com/robotalks/jesd204.go/pkg/agent"
	"github.com/robotalks/jesd204.go/pkg/agent/comm/mqtt"
	"github.com/robotalks/jesd204.go/pkg/agent/comm/stream"
	"github.com/robotalks/jesd204.go/pkg/agent/comm/websocket"
)

// Config provides common options to setup Connectors.
type Config struct {
	Ref agent.AgentRef

	// RegistryURL specifies the URL of agent registry, e.g.
	//   mqtt://host:port/topic-prefix
	//   tcp://host:7204
	//   ws://host:7205/ws
	RegistryURL string
}

var defaultConfig = Config{
	RegistryURL: "mqtt://localhost:1883/jesd204/",
}

func init() {
	if val := os.Getenv("JESD_BOARD"); val != "" {
		defaultConfig.Ref.Board = val
	}
	if val := os.Getenv("JESD_AGENT_ID"); val != "" {
		defaultConfig.Ref.ID = val
	}
	if val := os.Getenv("JESD_REGISTRY_URL"); val != "" {
		defaultConfig.RegistryURL = val
	}
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.Ref.Board, "board", defaultConfig.Ref.Board, "Board of the agent to connect.")
	flag.StringVar(&defaultConfig.Ref.ID, "agent-id", defaultConfig.Ref.ID, "ID of the agent to connect.")
	flag.StringVar(&defaultConfig.RegistryURL, "registry", defaultConfig.RegistryURL, "Agent registry URL.")
}

// Default gets the default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// NewConnector creates a Connector using current config.
func (c *Config) NewConnector() (agent.Connector, error) {
	parsedURL, err := url.Parse(c.RegistryURL)
	if err != nil {
		return nil, fmt.Errorf("invalid registry URL: %v", err)
	}
	switch parsedURL.Scheme {
	case "mqtt", "mqtts":
		connector, err := mqtt.NewConnector(c.RegistryURL)
		if err != nil {
			return nil, err
		}
		return connector, nil
	case "tcp":
		connector, err := stream.NewConnector(c.RegistryURL)
		if err != nil {
			return nil, err
		}
		return connector, nil
	case "ws", "wss":
		return websocket.NewConnector(c.RegistryURL), nil
	default:
		return nil, fmt.Errorf("unknown registry URL scheme: %q", parsedURL.Scheme)
	}
}

// MustNewConnector creates a Connector and fails on error.
func (c *Config) MustNewConnector() agent.Connector {
	conn, err := c.NewConnector()
	if err != nil {
		glog.Exit(err)
	}
	return conn
}

// Connect directly connects to the agent.
func (c *Config) Connect(ctx context.Context) (agent.AgentConn, error) {
	if !c.Ref.IsValid() {
		return nil, fmt.Errorf("board and agent id must be specified")
	}
	connector, err := c.NewConnector()
	if err != nil {
		return nil, err
	}
	return connector.Connect(ctx, c.Ref)
}

// MustConnect connects to the agent or fails.
func (c *Config) MustConnect(ctx context.Context) agent.AgentConn {
	conn, err := c.Connect(ctx)
	if err != nil {
		glog.Exit(err)
	}
	return conn
}

package daemon

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/jesd204.go/pkg/agent"
	"github.com/robotalks/jesd204.go/pkg/agent/comm/mqtt"
	"github.com/robotalks/jesd204.go/pkg/agent/comm/stream"
	"github.com/robotalks/jesd204.go/pkg/agent/comm/websocket"
)

func TestNewEnv(t *testing.T) {
	testCases := []struct {
		name  string
		setup func(*Config)
		urls  []string
		types []interface{}
		fail  bool
	}{
		{
			name:  "mqtt",
			setup: func(c *Config) {},
			urls:  []string{"mqtt://localhost:1883/jesd204/"},
			types: []interface{}{&mqtt.Registrar{}},
		},
		{
			name: "direct only",
			setup: func(c *Config) {
				c.MQTTBrokerURL = ""
				c.ListenAddr = ":7204"
				c.WebsocketAddr = ":7205"
			},
			urls:  []string{"tcp://:7204", "ws://:7205/ws"},
			types: []interface{}{&stream.Listener{}, &websocket.Server{}},
		},
		{
			name:  "no registrar",
			setup: func(c *Config) { c.MQTTBrokerURL = "" },
			fail:  true,
		},
		{
			name:  "no board",
			setup: func(c *Config) { c.Info.Ref.Board = "" },
			fail:  true,
		},
		{
			name:  "bad broker",
			setup: func(c *Config) { c.MQTTBrokerURL = "mqtt://broker/%zz" },
			fail:  true,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			conf := &Config{MQTTBrokerURL: "mqtt://localhost:1883/jesd204/"}
			conf.Info.Ref.ID = "a1"
			conf.SetBoard("adrv9009", agent.AgentMeta{Topologies: []string{"trx"}})
			tc.setup(conf)
			env, err := conf.NewEnv()
			if tc.fail {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.urls, env.RegistryURLs)
			require.Len(t, env.Registrar.Registrars, len(tc.types))
			for i, typ := range tc.types {
				require.IsType(t, typ, env.Registrar.Registrars[i])
			}
		})
	}
}

package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/jesd204.go/pkg/agent"
	"github.com/robotalks/jesd204.go/pkg/agent/comm"
	fx "github.com/robotalks/jesd204.go/pkg/framework"
)

// Connector implements agent.Connector using MQTT.
type Connector struct {
	DiscoverTimeout time.Duration

	brokerURL string
}

// DefaultDiscoverTimeout defines the default timeout value of discovery.
const DefaultDiscoverTimeout = 500 * time.Millisecond

// NewConnector creates a Connector.
func NewConnector(brokerURL string) (*Connector, error) {
	if _, _, _, err := ClientOptionsFromURL(brokerURL); err != nil {
		return nil, err
	}
	return &Connector{
		DiscoverTimeout: DefaultDiscoverTimeout,
		brokerURL:       brokerURL,
	}, nil
}

// ParseMeta decodes the retained meta message of an agent. ok is false
// when topic is not a meta topic or the agent has unregistered.
func ParseMeta(topic string, payload []byte) (info agent.AgentInfo, ok bool) {
	items := strings.Split(topic, "/")
	if len(items) != 3 || items[2] != TopicMeta || len(payload) == 0 {
		return
	}
	info.Ref = agent.AgentRef{Board: items[0], ID: items[1]}
	if err := json.Unmarshal(payload, &info.Meta); err != nil {
		glog.Warningf("%s: invalid meta: %v", topic, err)
	}
	return info, true
}

// Discover implements Connector.
func (c *Connector) Discover(ctx context.Context) (res []agent.AgentInfo, err error) {
	q, err := NewQueueFromURL(c.brokerURL)
	if err != nil {
		return nil, err
	}
	resCh := make(chan agent.AgentInfo, 1)
	done := make(chan struct{})
	defer close(done)
	q.Sub("+/+/"+TopicMeta, Handler(func(topic string, payload []byte) {
		if info, ok := ParseMeta(topic, payload); ok {
			select {
			case resCh <- info:
			case <-done:
			}
		}
	}))
	token := q.Connect()
	token.Wait()
	if err = token.Error(); err != nil {
		return nil, err
	}
	defer q.Close()

	dur := c.DiscoverTimeout
	if dur == 0 {
		dur = DefaultDiscoverTimeout
	}
	timeout := time.After(dur)
	for {
		select {
		case info := <-resCh:
			res = append(res, info)
		case <-timeout:
			return
		case <-ctx.Done():
			err = ctx.Err()
			return
		}
	}
}

// Connect implements Connector.
func (c *Connector) Connect(ctx context.Context, ref agent.AgentRef) (agent.AgentConn, error) {
	q, err := NewQueueFromURL(c.brokerURL)
	if err != nil {
		return nil, err
	}
	conn := &AgentConn{Queue: q}
	conn.Init(NewPacketReadWriter(conn.Queue).ForConnector(ref))
	token := conn.Queue.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}
	return conn, nil
}

// AgentConn implements AgentConn using MQTT.
type AgentConn struct {
	comm.AgentConn
	Queue *Queue
}

// AddToLoop implements LoopAdder.
func (c *AgentConn) AddToLoop(l *fx.Loop) {
	c.AgentConn.AddToLoop(l)
	l.AddRunnable(fx.NamedRun("mqtt-close", c))
}

// Run disconnects from the broker when ctx is done.
func (c *AgentConn) Run(ctx context.Context) error {
	<-ctx.Done()
	return c.Queue.Close()
}

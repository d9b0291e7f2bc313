package mqtt

import (
	"context"
	"encoding/json"

	"github.com/golang/glog"

	"github.com/robotalks/jesd204.go/pkg/agent"
	"github.com/robotalks/jesd204.go/pkg/agent/comm"
	fx "github.com/robotalks/jesd204.go/pkg/framework"
)

// Registrar implements agent.Registrar using MQTT.
type Registrar struct {
	Queue *Queue
	Info  agent.AgentInfo

	meta      []byte
	registrar comm.Registrar
}

// NewRegistrar creates a Registrar. The agent meta is retained on the
// broker while the agent is connected and cleared by the will message.
func NewRegistrar(brokerURL string, info agent.AgentInfo) (*Registrar, error) {
	meta, err := json.Marshal(&info.Meta)
	if err != nil {
		return nil, err
	}
	opts, topicPrefix, qos, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	metaTopic := AgentTopic(info.Ref.Name(), TopicMeta)
	opts.SetBinaryWill(topicPrefix+metaTopic, nil, 1, true)
	if opts.ClientID == "" {
		opts.SetClientID("jesd204:" + info.Ref.Name())
	}
	r := &Registrar{
		Queue: NewQueue(opts, topicPrefix),
		Info:  info,
		meta:  meta,
	}
	r.Queue.QoS = qos
	r.Queue.OnConnect = func(*Queue) { r.onConnected() }
	r.registrar.Init(NewPacketReadWriter(r.Queue).ForAgent(info.Ref))
	return r, nil
}

// SendEvent implements Registrar.
func (r *Registrar) SendEvent(ctx context.Context, msg fx.Message) error {
	return r.registrar.SendEvent(ctx, msg)
}

// AddToLoop implements LoopAdder.
func (r *Registrar) AddToLoop(loop *fx.Loop) {
	loop.Add(&r.registrar)
	loop.AddRunnable(r)
}

// Run implements Runnable.
func (r *Registrar) Run(ctx context.Context) error {
	r.Queue.Connect()
	<-ctx.Done()
	token := r.Queue.PubWith(AgentTopic(r.Info.Ref.Name(), TopicMeta), nil, 1, true)
	token.Wait()
	r.Queue.Close()
	return ctx.Err()
}

func (r *Registrar) onConnected() {
	glog.Infof("registered %s", r.Info.Ref.Name())
	r.Queue.PubWith(AgentTopic(r.Info.Ref.Name(), TopicMeta), r.meta, 1, true)
}

package mqtt

import (
	"context"
	"io"
	"sync"

	"github.com/robotalks/jesd204.go/pkg/agent"
)

// ReadWriter implements PacketReadWriter.
type ReadWriter struct {
	Queue    *Queue
	SubTopic string
	PubTopic string

	packetCh  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewPacketReadWriter creates the ReadWriter.
func NewPacketReadWriter(q *Queue) *ReadWriter {
	return &ReadWriter{
		Queue:    q,
		packetCh: make(chan []byte, 16),
		done:     make(chan struct{}),
	}
}

// WithTopics specifies the topics.
func (p *ReadWriter) WithTopics(sub, pub string) *ReadWriter {
	p.SubTopic, p.PubTopic = sub, pub
	return p
}

// ForConnector sets topics using default convention for clients:
// SubTopic = board/id/msg
// PubTopic = board/id/cmd
func (p *ReadWriter) ForConnector(ref agent.AgentRef) *ReadWriter {
	prefix := ref.Name()
	return p.WithTopics(AgentTopic(prefix, TopicMsg), AgentTopic(prefix, TopicCmd))
}

// ForAgent sets topics using default convention for agents:
// SubTopic = board/id/cmd
// PubTopic = board/id/msg
func (p *ReadWriter) ForAgent(ref agent.AgentRef) *ReadWriter {
	prefix := ref.Name()
	return p.WithTopics(AgentTopic(prefix, TopicCmd), AgentTopic(prefix, TopicMsg))
}

// ReadPacket implements PacketReader.
func (p *ReadWriter) ReadPacket() ([]byte, error) {
	select {
	case pkt := <-p.packetCh:
		return pkt, nil
	case <-p.done:
		return nil, io.EOF
	}
}

// WritePacket implements PacketWriter.
func (p *ReadWriter) WritePacket(pkt []byte) error {
	token := p.Queue.Pub(p.PubTopic, pkt)
	token.Wait()
	return token.Error()
}

// Run implements Runnable.
func (p *ReadWriter) Run(ctx context.Context) error {
	sub := p.Queue.Sub(p.SubTopic, Handler(p.handleMsg))
	<-ctx.Done()
	sub.Close()
	p.Close()
	return ctx.Err()
}

// Close implements io.Closer. Pending ReadPacket returns io.EOF.
func (p *ReadWriter) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}

func (p *ReadWriter) handleMsg(_ string, payload []byte) {
	select {
	case p.packetCh <- payload:
	case <-p.done:
	}
}

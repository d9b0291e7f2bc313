package stream

import (
	"context"
	"net"
	"net/url"
	"strings"

	"github.com/golang/glog"

	"github.com/robotalks/jesd204.go/pkg/agent/comm"
	fx "github.com/robotalks/jesd204.go/pkg/framework"
)

// Listener implements agent.Registrar by accepting TCP connections.
type Listener struct {
	Address string

	hub comm.Hub
}

// NewListener creates a Listener on address, e.g. :7204.
func NewListener(address string) *Listener {
	return &Listener{Address: address}
}

// SendEvent implements Registrar.
func (l *Listener) SendEvent(ctx context.Context, msg fx.Message) error {
	return l.hub.SendEvent(ctx, msg)
}

// Connections returns the number of connected clients.
func (l *Listener) Connections() int {
	return l.hub.Len()
}

// AddToLoop implements LoopAdder.
func (l *Listener) AddToLoop(loop *fx.Loop) {
	loop.AddRunnable(l)
}

// Run implements Runnable.
func (l *Listener) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.Address)
	if err != nil {
		return err
	}
	glog.Infof("listening on tcp %s", ln.Addr())
	return l.Serve(ctx, ln)
}

// Serve accepts connections from ln until ctx is done. ctx must come
// from a Loop.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	return fx.RunWithContextCloser(ctx, ln, func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return err
			}
			glog.V(1).Infof("client %s connected", conn.RemoteAddr())
			go func() {
				err := l.hub.Serve(ctx, New(conn))
				glog.V(1).Infof("client %s disconnected: %v", conn.RemoteAddr(), err)
			}()
		}
	})
}

// Dialer dials the agent listening at Address.
func Dialer(address string) comm.DialFunc {
	return func(ctx context.Context) (comm.PacketConn, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, err
		}
		return New(conn), nil
	}
}

// NewConnector creates a Connector from tcp://host:port.
func NewConnector(agentURL string) (*comm.DirectConnector, error) {
	u, err := url.Parse(agentURL)
	if err != nil {
		return nil, err
	}
	address := u.Host
	if address == "" {
		address = strings.TrimPrefix(agentURL, u.Scheme+"://")
	}
	return &comm.DirectConnector{Dial: Dialer(address)}, nil
}

package websocket

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"

	"github.com/robotalks/jesd204.go/pkg/agent/comm"
	fx "github.com/robotalks/jesd204.go/pkg/framework"
)

// DefaultPath is where the agent serves websocket clients.
const DefaultPath = "/ws"

// Server implements agent.Registrar by serving websocket clients.
type Server struct {
	Address string
	Path    string

	hub comm.Hub
	ctx context.Context
}

// NewServer creates a Server listening on address.
func NewServer(address string) *Server {
	return &Server{Address: address, Path: DefaultPath}
}

// SendEvent implements Registrar.
func (s *Server) SendEvent(ctx context.Context, msg fx.Message) error {
	return s.hub.SendEvent(ctx, msg)
}

// Connections returns the number of connected clients.
func (s *Server) Connections() int {
	return s.hub.Len()
}

// AddToLoop implements LoopAdder.
func (s *Server) AddToLoop(loop *fx.Loop) {
	loop.AddRunnable(s)
}

// Run implements Runnable.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Address)
	if err != nil {
		return err
	}
	glog.Infof("serving websocket on %s%s", ln.Addr(), s.Path)
	return s.Serve(ctx, ln)
}

// Serve serves HTTP on ln until ctx is done. ctx must come from a Loop.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.ctx = ctx
	mux := http.NewServeMux()
	mux.Handle(s.Path, websocket.Handler(s.handleConn))
	srv := &http.Server{Handler: mux}
	return fx.RunWithContextCloser(ctx, srv, func() error {
		return srv.Serve(ln)
	})
}

func (s *Server) handleConn(conn *websocket.Conn) {
	glog.V(1).Infof("websocket client %s connected", conn.Request().RemoteAddr)
	err := s.hub.Serve(s.ctx, New(conn))
	glog.V(1).Infof("websocket client %s disconnected: %v", conn.Request().RemoteAddr, err)
}

// Dialer dials the agent at ws://host:port/ws.
func Dialer(agentURL string) comm.DialFunc {
	return func(ctx context.Context) (comm.PacketConn, error) {
		origin := "http://localhost/"
		if strings.HasPrefix(agentURL, "wss://") {
			origin = "https://localhost/"
		}
		conf, err := websocket.NewConfig(agentURL, origin)
		if err != nil {
			return nil, err
		}
		if deadline, ok := ctx.Deadline(); ok {
			conf.Dialer = &net.Dialer{Deadline: deadline}
		}
		conn, err := websocket.DialConfig(conf)
		if err != nil {
			return nil, err
		}
		return New(conn), nil
	}
}

// NewConnector creates a Connector from ws://host:port/path.
func NewConnector(agentURL string) *comm.DirectConnector {
	return &comm.DirectConnector{Dial: Dialer(agentURL)}
}

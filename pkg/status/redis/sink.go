// Package redis mirrors bring-up status into Redis.
//
// The latest status of each topology is kept in the hash
// <prefix>:<board>:<topology> and every update is published as JSON
// on the events channel.
package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/garyburd/redigo/redis"
	"github.com/golang/glog"

	"github.com/robotalks/jesd204.go/pkg/agent/msgs"
	fx "github.com/robotalks/jesd204.go/pkg/framework"
)

// Defaults.
const (
	DefaultKeyPrefix = "jesd204"
	DefaultChannel   = "jesd204:events"
)

// Pool provides connections.
type Pool interface {
	Get() redis.Conn
}

// Sink implements status.Sink.
type Sink struct {
	Pool      Pool
	KeyPrefix string
	Channel   string
}

// NewPool creates a connection pool for a redis:// URL.
func NewPool(redisURL string) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     2,
		IdleTimeout: time.Minute,
		Dial: func() (redis.Conn, error) {
			return redis.DialURL(redisURL)
		},
	}
}

// NewSink creates a Sink with defaults.
func NewSink(pool Pool) *Sink {
	return &Sink{Pool: pool, KeyPrefix: DefaultKeyPrefix, Channel: DefaultChannel}
}

// Key returns the hash key for a topology.
func (s *Sink) Key(board, topology string) string {
	return s.KeyPrefix + ":" + board + ":" + topology
}

// Publish implements Sink.
func (s *Sink) Publish(ctx context.Context, st *msgs.BringUpStatus) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	conn := s.Pool.Get()
	defer conn.Close()
	args := redis.Args{}.Add(s.Key(st.Board, st.Topology)).
		Add("session", st.Session).
		Add("state", st.State).
		Add("stage", st.Stage).
		Add("passes", st.Passes).
		Add("error", st.Error).
		Add("status", data)
	if _, err = conn.Do("HMSET", args...); err != nil {
		return err
	}
	if _, err = conn.Do("PUBLISH", s.Channel, data); err != nil {
		return err
	}
	glog.V(2).Infof("redis: %s/%s %s", st.Board, st.Topology, st.State)
	return nil
}

// Latest reads the last status stored for a topology.
func (s *Sink) Latest(board, topology string) (*msgs.BringUpStatus, error) {
	conn := s.Pool.Get()
	defer conn.Close()
	data, err := redis.Bytes(conn.Do("HGET", s.Key(board, topology), "status"))
	if err != nil {
		return nil, err
	}
	var st msgs.BringUpStatus
	if err = json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Subscribe receives status updates published on channel until ctx is
// done or the connection fails. conn is closed on return.
func Subscribe(ctx context.Context, conn redis.Conn, channel string, handler func(*msgs.BringUpStatus)) error {
	psc := redis.PubSubConn{Conn: conn}
	if err := psc.Subscribe(channel); err != nil {
		conn.Close()
		return err
	}
	return fx.RunWithContextCloser(ctx, psc, func() error {
		for {
			switch v := psc.Receive().(type) {
			case redis.Message:
				var st msgs.BringUpStatus
				if err := json.Unmarshal(v.Data, &st); err != nil {
					glog.Warningf("redis: %s: invalid status: %v", v.Channel, err)
					continue
				}
				handler(&st)
			case redis.Subscription:
				glog.V(1).Infof("redis: %s %s", v.Kind, v.Channel)
			case error:
				return v
			}
		}
	})
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	redigo "github.com/garyburd/redigo/redis"
	"github.com/golang/glog"

	"github.com/robotalks/jesd204.go/pkg/agent/comm/mqtt"
	"github.com/robotalks/jesd204.go/pkg/agent/msgs"
	fx "github.com/robotalks/jesd204.go/pkg/framework"
	"github.com/robotalks/jesd204.go/pkg/status"
	"github.com/robotalks/jesd204.go/pkg/status/redis"
)

var (
	mqttURL  = "mqtt://localhost:1883/jesd204/"
	redisURL string
	channel  = redis.DefaultChannel
)

func init() {
	if val := os.Getenv("JESD_MQTT_URL"); val != "" {
		mqttURL = val
	}
	if val := os.Getenv("JESD_REDIS_URL"); val != "" {
		redisURL = val
	}
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL, empty to disable.")
	flag.StringVar(&redisURL, "redis", redisURL, "Redis URL to follow status updates.")
	flag.StringVar(&channel, "channel", channel, "Redis channel of status updates.")
}

func printf(format string, args ...interface{}) {
	fmt.Printf(time.Now().Format("15:04:05.000000 ")+format+"\n", args...)
}

func handleMQTT(topic string, payload []byte) {
	if strings.HasSuffix(topic, "/"+mqtt.TopicMeta) {
		printf("%s: %s", topic, string(payload))
		return
	}
	typed, err := msgs.DecodeTyped(payload)
	if err != nil {
		printf("%s: bad message: %v", topic, err)
		return
	}
	msg, err := typed.Decode()
	if err != nil {
		printf("%s: decode error: (type_id=%x) %v", topic, typed.TypeId, err)
		return
	}
	if st, ok := msg.(*msgs.BringUpStatus); ok {
		printf("%s: %s", topic, status.Format(st))
		return
	}
	printf("%s: [%s] %s", topic,
		reflect.Indirect(reflect.ValueOf(msg)).Type().Name(),
		msg.(msgs.SerializableMessage).Serializable().String())
}

type mqttMonitor struct {
	queue *mqtt.Queue
}

func (m *mqttMonitor) Run(ctx context.Context) error {
	m.queue.Sub("#", mqtt.Handler(handleMQTT))
	token := m.queue.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return err
	}
	<-ctx.Done()
	return m.queue.Close()
}

type redisMonitor struct {
	url string
}

func (m *redisMonitor) Run(ctx context.Context) error {
	conn, err := redigo.DialURL(m.url)
	if err != nil {
		return err
	}
	return redis.Subscribe(ctx, conn, channel, func(st *msgs.BringUpStatus) {
		printf("redis: %s", status.Format(st))
	})
}

func main() {
	flag.Parse()
	defer glog.Flush()

	runner := fx.NewRunner().HandleSignals()
	if mqttURL != "" {
		q, err := mqtt.NewQueueFromURL(mqttURL)
		if err != nil {
			glog.Exit(err)
		}
		runner.Go(fx.NamedRun("mqtt", &mqttMonitor{queue: q}))
	}
	if redisURL != "" {
		runner.Go(fx.NamedRun("redis", &redisMonitor{url: redisURL}))
	}
	if len(runner.Runners) == 0 {
		glog.Exit("nothing to monitor, specify -mqtt or -redis")
	}
	if err := runner.Wait(); err != nil {
		glog.Exit(err)
	}
}

// Package status fans bring-up status out to external observers.
package status

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang/glog"

	"github.com/robotalks/jesd204.go/pkg/agent/msgs"
	fx "github.com/robotalks/jesd204.go/pkg/framework"
)

// Sink receives bring-up status updates.
type Sink interface {
	Publish(context.Context, *msgs.BringUpStatus) error
}

// SinkFunc is func form of Sink.
type SinkFunc func(context.Context, *msgs.BringUpStatus) error

// Publish implements Sink.
func (f SinkFunc) Publish(ctx context.Context, st *msgs.BringUpStatus) error {
	return f(ctx, st)
}

// LogSink writes status updates to the log.
type LogSink struct{}

// Publish implements Sink.
func (LogSink) Publish(ctx context.Context, st *msgs.BringUpStatus) error {
	glog.Info(Format(st))
	return nil
}

// Multi publishes to every sink and aggregates the errors.
type Multi []Sink

// Publish implements Sink.
func (m Multi) Publish(ctx context.Context, st *msgs.BringUpStatus) error {
	var errs fx.AggregatedError
	for _, s := range m {
		errs.Add(s.Publish(ctx, st))
	}
	return errs.Aggregate()
}

// Format renders a one-line summary.
func Format(st *msgs.BringUpStatus) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s/%s: %s", st.Board, st.Topology, st.State)
	if st.Stage != "" {
		fmt.Fprintf(&sb, " at %s", st.Stage)
	}
	if st.Passes > 0 {
		fmt.Fprintf(&sb, " pass %d", st.Passes)
	}
	if len(st.Pending) > 0 {
		sb.WriteString(" waiting")
		for _, u := range st.Pending {
			if u.LinkId >= 0 {
				fmt.Fprintf(&sb, " %s:%d", u.Device, u.LinkId)
			} else {
				fmt.Fprintf(&sb, " %s", u.Device)
			}
		}
	}
	if st.Error != "" {
		fmt.Fprintf(&sb, " error: %s", st.Error)
	}
	return sb.String()
}

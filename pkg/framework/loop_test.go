package framework

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testMsg struct {
	val int
}

func (m *testMsg) NewMessage() Message { return &testMsg{} }

func TestLoopMessages(t *testing.T) {
	loop := NewLoop()
	loop.Interval = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan int, 4)
	loop.AddController(PrLvBringUp, ControlFunc(func(cc ControlContext) error {
		cc.Messages().ProcessMessages(ProcessMessageFunc(func(mctx MessageProcessingContext) {
			if msg, ok := mctx.CurrentMessage().(*testMsg); ok {
				mctx.MessageTaken()
				got <- msg.val
			}
		}))
		return nil
	}))
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	loop.PostMessage(&testMsg{val: 1})
	loop.PostMessage(&testMsg{val: 2})
	loop.TriggerNext()
	require.Equal(t, 1, <-got)
	require.Equal(t, 2, <-got)

	cancel()
	require.Equal(t, context.Canceled, <-done)
}

func TestLoopScheduleAt(t *testing.T) {
	loop := NewLoop()
	loop.Interval = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type tick struct {
		at         time.Time
		pass, late bool
	}
	ticks := make(chan tick, 4)
	loop.AddController(PrLvBringUp, ControlFunc(func(cc ControlContext) error {
		ticks <- tick{at: cc.Time(), pass: cc.Due("pass"), late: cc.Due("later")}
		return nil
	}))
	go loop.Run(ctx)

	loop.ScheduleAt("later", time.Now().Add(time.Hour))
	loop.TriggerNext()
	tk := <-ticks
	require.False(t, tk.late)
	require.True(t, tk.pass)

	at := time.Now().Add(20 * time.Millisecond)
	loop.ScheduleAt("pass", at)
	_, ok := loop.Deadline("pass")
	require.True(t, ok)
	select {
	case tk = <-ticks:
		require.False(t, tk.at.Before(at))
		require.True(t, tk.pass)
		require.False(t, tk.late)
	case <-time.After(5 * time.Second):
		t.Fatal("deadline never woke the loop")
	}
	_, ok = loop.Deadline("pass")
	require.False(t, ok)

	loop.Unschedule("later")
	_, ok = loop.Deadline("later")
	require.False(t, ok)
}

func TestLoopScheduleReplaces(t *testing.T) {
	loop := NewLoop()
	due := make(map[string]bool)
	loop.AddController(PrLvBringUp, ControlFunc(func(cc ControlContext) error {
		due["a"], due["b"] = cc.Due("a"), cc.Due("b")
		return nil
	}))

	loop.ScheduleAt("a", time.Now().Add(time.Hour))
	loop.ScheduleAt("b", time.Now().Add(time.Hour))
	loop.ScheduleAt("a", time.Now().Add(-time.Millisecond))
	loop.runIteration(context.Background())
	require.True(t, due["a"])
	require.False(t, due["b"])

	at, ok := loop.Deadline("b")
	require.True(t, ok)
	require.True(t, at.After(time.Now()))
	loop.dropDeadlines()
	_, ok = loop.Deadline("b")
	require.False(t, ok)
}

func TestLoopPriorityOrder(t *testing.T) {
	loop := NewLoop()
	var order []int
	for _, lv := range []int{PrLvReport, PrLvCommand, PrLvBringUp} {
		lv := lv
		loop.AddController(lv, ControlFunc(func(cc ControlContext) error {
			require.Equal(t, lv, cc.PriorityLevel())
			order = append(order, lv)
			return nil
		}))
	}
	loop.runIteration(context.Background())
	require.Equal(t, []int{PrLvCommand, PrLvBringUp, PrLvReport}, order)
}

func TestAggregatedError(t *testing.T) {
	var errs AggregatedError
	require.NoError(t, errs.Add(nil, nil).Aggregate())
	e1, e2 := errors.New("e1"), errors.New("e2")
	err := errs.Add(e1, nil, e2).Aggregate()
	require.Error(t, err)
	require.Equal(t, []error{e1, e2}, err.(*AggregatedError).Errors)
	require.Equal(t, "2 errors: e1; e2", err.Error())
	require.True(t, errors.Is(err, e2))
	require.False(t, errors.Is(err, context.Canceled))

	var single AggregatedError
	require.Equal(t, "e1", single.Add(e1).Aggregate().Error())
}

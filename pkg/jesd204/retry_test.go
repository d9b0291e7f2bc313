package jesd204

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jpillora/backoff"
	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	delays []time.Duration
	err    error
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return r.err
}

func testPolicy(maxPasses int, r *sleepRecorder) *RetryPolicy {
	return &RetryPolicy{
		MaxPasses: maxPasses,
		Backoff:   &backoff.Backoff{Min: time.Millisecond, Max: 4 * time.Millisecond, Factor: 2},
		Sleep:     r.sleep,
	}
}

func deferTimes(stage Stage, device string, times int) hookFunc {
	count := 0
	return func(c call) (Result, error) {
		if c.Stage == stage && c.Device == device {
			count++
			if count <= times {
				return ResultDefer, nil
			}
		}
		return ResultDone, nil
	}
}

func TestRetryPolicyRun(t *testing.T) {
	b := newTestBoard(t, SysrefDisabled, nil)
	b.hook = deferTimes(StageClkSyncStage1, "clk", 4)
	var r sleepRecorder
	require.NoError(t, testPolicy(10, &r).Run(context.Background(), b.fsm))
	require.True(t, b.fsm.Done())
	require.Equal(t, 5, b.fsm.Status().Passes)
	require.Equal(t, []time.Duration{
		time.Millisecond,
		2 * time.Millisecond,
		4 * time.Millisecond,
		4 * time.Millisecond,
	}, r.delays)
}

func TestRetryPolicyExhausted(t *testing.T) {
	b := newTestBoard(t, SysrefDisabled, nil)
	b.hook = deferTimes(StageLinkEnable, "core", 100)
	var r sleepRecorder
	err := testPolicy(3, &r).Run(context.Background(), b.fsm)
	var exhausted *RetryExhaustedError
	require.True(t, errors.As(err, &exhausted))
	require.Equal(t, StageLinkEnable, exhausted.Stage)
	require.Equal(t, 3, exhausted.Passes)
	require.Len(t, r.delays, 2)
	require.False(t, b.fsm.Done())
}

func TestRetryPolicyStageError(t *testing.T) {
	b := newTestBoard(t, SysrefDisabled, nil)
	b.hook = func(c call) (Result, error) {
		if c.Stage == StageLinkRunning {
			return ResultError, nil
		}
		return ResultDone, nil
	}
	var r sleepRecorder
	err := testPolicy(0, &r).Run(context.Background(), b.fsm)
	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	require.Equal(t, StageLinkRunning, stageErr.Stage)
	require.Empty(t, r.delays)
}

func TestRetryPolicySleepInterrupted(t *testing.T) {
	b := newTestBoard(t, SysrefDisabled, nil)
	b.hook = deferTimes(StageDeviceInit, "conv", 100)
	r := sleepRecorder{err: context.DeadlineExceeded}
	err := testPolicy(0, &r).Run(context.Background(), b.fsm)
	require.Equal(t, context.DeadlineExceeded, err)
	require.Len(t, r.delays, 1)
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Equal(t, context.Canceled, SleepContext(ctx, time.Hour))
	require.NoError(t, SleepContext(context.Background(), time.Microsecond))
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	require.Equal(t, DefaultMaxPasses, p.MaxPasses)
	require.Equal(t, DefaultBackoffMin, p.Backoff.Min)
	require.Equal(t, DefaultBackoffMax, p.Backoff.Max)
}

package jesd204

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestSysref(t *testing.T, fail error) (*Sysref, *int) {
	pulses := new(int)
	dev, err := NewRegistry().Register("hmc7044", nil, DeviceData{
		Sysref: func(ctx context.Context, dev *Device, _ *Link) error {
			if fail != nil {
				return fail
			}
			*pulses++
			return nil
		},
	}, false)
	require.NoError(t, err)
	return NewSysref(dev), pulses
}

func TestSysrefAsync(t *testing.T) {
	testCases := []struct {
		name     string
		link     Link
		calls    int
		expected int
	}{
		{"subclass 0", Link{Subclass: Subclass0, Sysref: SysrefParams{Mode: SysrefOneshot}}, 3, 0},
		{"disabled", Link{Subclass: Subclass1, Sysref: SysrefParams{Mode: SysrefDisabled}}, 3, 0},
		{"continuous arms once", Link{Subclass: Subclass1, Sysref: SysrefParams{Mode: SysrefContinuous}}, 3, 1},
		{"oneshot every call", Link{Subclass: Subclass1, Sysref: SysrefParams{Mode: SysrefOneshot}}, 3, 3},
		{"subclass 2 oneshot", Link{Subclass: Subclass2, Sysref: SysrefParams{Mode: SysrefOneshot}}, 2, 2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, pulses := newTestSysref(t, nil)
			for n := 0; n < tc.calls; n++ {
				require.NoError(t, s.Async(context.Background(), &tc.link))
			}
			require.Equal(t, tc.expected, *pulses)
			require.Equal(t, tc.expected, s.Issued(tc.link.ID))
			require.Equal(t, tc.expected, s.Total())
		})
	}
}

func TestSysrefAsyncForce(t *testing.T) {
	s, pulses := newTestSysref(t, nil)
	lnk := &Link{ID: 2, Subclass: Subclass1, Sysref: SysrefParams{Mode: SysrefContinuous}}
	ctx := context.Background()

	require.NoError(t, s.Async(ctx, lnk))
	require.NoError(t, s.Async(ctx, lnk))
	require.Equal(t, 1, *pulses)

	require.NoError(t, s.AsyncForce(ctx, lnk))
	require.Equal(t, 2, *pulses)
	require.Equal(t, 2, s.Issued(2))

	disabled := &Link{ID: 3, Sysref: SysrefParams{Mode: SysrefDisabled}}
	require.NoError(t, s.AsyncForce(ctx, disabled))
	require.NoError(t, s.AsyncForce(ctx, nil))
	require.Equal(t, 4, *pulses)
	require.Equal(t, 4, s.Total())
	require.Equal(t, 1, s.Issued(3))

	s.Reset()
	require.Equal(t, 0, s.Total())
	require.NoError(t, s.Async(ctx, lnk))
	require.Equal(t, 5, *pulses, "reset re-arms continuous links")
}

func TestSysrefMethods(t *testing.T) {
	var calls []string
	record := func(method string) SysrefFunc {
		return func(ctx context.Context, dev *Device, lnk *Link) error {
			if lnk == nil {
				calls = append(calls, method+":-")
			} else {
				calls = append(calls, fmt.Sprintf("%s:%d", method, lnk.ID))
			}
			return nil
		}
	}
	dev, err := NewRegistry().Register("hmc7044", nil, DeviceData{
		Sysref:    record("spi"),
		SysrefPin: record("pin"),
	}, false)
	require.NoError(t, err)
	s := NewSysref(dev)
	ctx := context.Background()

	spiLink := &Link{ID: 0, Subclass: Subclass1, Sysref: SysrefParams{Mode: SysrefOneshot, Method: SysrefMethodSPI}}
	pinLink := &Link{ID: 1, Subclass: Subclass1, Sysref: SysrefParams{Mode: SysrefOneshot, Method: SysrefMethodPin}}
	require.NoError(t, s.Async(ctx, spiLink))
	require.NoError(t, s.Async(ctx, pinLink))
	require.NoError(t, s.AsyncForce(ctx, pinLink))
	require.NoError(t, s.AsyncForce(ctx, nil))
	require.Equal(t, []string{"spi:0", "pin:1", "pin:1", "spi:-"}, calls)
	require.Equal(t, 1, s.Issued(0))
	require.Equal(t, 2, s.Issued(1))

	pinOnly, err := NewRegistry().Register("ad9528", nil, DeviceData{SysrefPin: record("pin")}, false)
	require.NoError(t, err)
	require.True(t, pinOnly.IsSysrefProvider())
	calls = nil
	s = NewSysref(pinOnly)
	err = s.Async(ctx, spiLink)
	require.True(t, errors.Is(err, ErrSysrefMethod))
	require.Contains(t, err.Error(), "spi")
	require.Equal(t, 0, s.Total())
	require.NoError(t, s.AsyncForce(ctx, nil))
	require.Equal(t, []string{"pin:-"}, calls)
}

func TestSysrefErrors(t *testing.T) {
	ctx := context.Background()
	lnk := &Link{Subclass: Subclass1, Sysref: SysrefParams{Mode: SysrefOneshot}}

	require.Equal(t, ErrNoSysrefProvider, NewSysref(nil).Async(ctx, lnk))
	require.Equal(t, ErrNoSysrefProvider, NewSysref(nil).AsyncForce(ctx, nil))
	require.NoError(t, NewSysref(nil).Async(ctx, &Link{}), "disabled needs no provider")

	s, _ := newTestSysref(t, nil)
	require.Error(t, s.Async(ctx, nil))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.Equal(t, context.Canceled, s.Async(cancelled, lnk))
	require.Equal(t, 0, s.Total())

	fail := errors.New("spi write failed")
	s, _ = newTestSysref(t, fail)
	err := s.Async(ctx, lnk)
	require.True(t, errors.Is(err, fail))
	require.Equal(t, 0, s.Issued(0))
}

package hal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"periph.io/x/periph/conn"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"

	"github.com/robotalks/jesd204.go/pkg/jesd204"
)

type recordConn struct {
	writes [][]byte
	failAt int
}

func (c *recordConn) String() string { return "spi0.0" }

func (c *recordConn) Duplex() conn.Duplex { return conn.Full }

func (c *recordConn) Tx(w, r []byte) error {
	if c.failAt > 0 && len(c.writes)+1 == c.failAt {
		return errors.New("bus error")
	}
	c.writes = append(c.writes, append([]byte(nil), w...))
	return nil
}

type recordPin struct {
	levels []gpio.Level
	err    error
}

func (p *recordPin) String() string   { return "GPIO17" }
func (p *recordPin) Halt() error      { return nil }
func (p *recordPin) Name() string     { return "GPIO17" }
func (p *recordPin) Number() int      { return 17 }
func (p *recordPin) Function() string { return "Out" }

func (p *recordPin) Out(l gpio.Level) error {
	if p.err != nil {
		return p.err
	}
	p.levels = append(p.levels, l)
	return nil
}

func (p *recordPin) PWM(gpio.Duty, physic.Frequency) error { return errors.New("not supported") }

type recordPort struct {
	freq physic.Frequency
	mode spi.Mode
	bits int
}

func (p *recordPort) String() string { return "spi0" }

func (p *recordPort) Connect(f physic.Frequency, m spi.Mode, bits int) (spi.Conn, error) {
	p.freq, p.mode, p.bits = f, m, bits
	return nil, errors.New("no device")
}

func (p *recordPort) LimitSpeed(physic.Frequency) error { return nil }

func testDevice(t *testing.T) *jesd204.Device {
	dev, err := jesd204.NewRegistry().Register("hmc7044", nil, jesd204.DeviceData{}, false)
	require.NoError(t, err)
	return dev
}

func TestWriteFrame(t *testing.T) {
	testCases := []struct {
		name     string
		reg      uint16
		val      uint8
		expected []byte
	}{
		{"request register", RegReqMode0, ReqPulseGen, []byte{0x00, 0x01, 0x04}},
		{"high address", 0x0145, 0xa5, []byte{0x01, 0x45, 0xa5}},
		{"address masked to 13 bits", 0xffff, 0, []byte{0x1f, 0xff, 0x00}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, WriteFrame(tc.reg, tc.val))
		})
	}
}

func TestSPIToggle(t *testing.T) {
	c := &recordConn{}
	fn := SPIToggle(c, RegReqMode0, ReqPulseGen)
	require.NoError(t, fn(context.Background(), testDevice(t), &jesd204.Link{ID: 1}))
	require.Equal(t, [][]byte{{0x00, 0x01, 0x04}, {0x00, 0x01, 0x00}}, c.writes)
}

func TestSPIToggleErrors(t *testing.T) {
	testCases := []struct {
		name   string
		failAt int
		writes int
	}{
		{"set fails", 1, 0},
		{"clear fails", 2, 1},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := &recordConn{failAt: tc.failAt}
			err := SPIToggle(c, RegReqMode0, ReqPulseGen)(context.Background(), testDevice(t), nil)
			require.Error(t, err)
			require.Contains(t, err.Error(), "spi0.0")
			require.Len(t, c.writes, tc.writes)
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := &recordConn{}
	require.Equal(t, context.Canceled, SPIToggle(c, RegReqMode0, ReqPulseGen)(ctx, testDevice(t), nil))
	require.Empty(t, c.writes)
}

func TestPinSysref(t *testing.T) {
	var waited []time.Duration
	sleep := func(ctx context.Context, d time.Duration) error {
		waited = append(waited, d)
		return nil
	}
	pin := &recordPin{}
	require.NoError(t, PinSysref(pin, 0, sleep)(context.Background(), testDevice(t), nil))
	require.Equal(t, []gpio.Level{gpio.High, gpio.Low}, pin.levels)
	require.Equal(t, []time.Duration{DefaultPulseWidth}, waited)
}

func TestPinSysrefDefaultSleep(t *testing.T) {
	pin := &recordPin{}
	fn := PinSysref(pin, time.Microsecond, nil)
	lnk := &jesd204.Link{ID: 2, Sysref: jesd204.SysrefParams{Method: jesd204.SysrefMethodPin}}
	require.NoError(t, fn(context.Background(), testDevice(t), lnk))
	require.Equal(t, []gpio.Level{gpio.High, gpio.Low}, pin.levels)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pin = &recordPin{}
	require.Equal(t, context.Canceled, PinSysref(pin, time.Hour, nil)(ctx, testDevice(t), lnk))
	require.Equal(t, []gpio.Level{gpio.High, gpio.Low}, pin.levels)
}

func TestPinSysrefErrors(t *testing.T) {
	pin := &recordPin{err: errors.New("busy")}
	noSleep := func(context.Context, time.Duration) error { return nil }
	err := PinSysref(pin, time.Millisecond, noSleep)(context.Background(), testDevice(t), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "GPIO17")

	pin = &recordPin{}
	interrupted := func(context.Context, time.Duration) error { return context.Canceled }
	err = PinSysref(pin, time.Millisecond, interrupted)(context.Background(), testDevice(t), nil)
	require.Equal(t, context.Canceled, err)
	require.Equal(t, []gpio.Level{gpio.High, gpio.Low}, pin.levels, "pin released on interruption")
}

func TestOpenSPI(t *testing.T) {
	port := &recordPort{}
	_, err := OpenSPI(port, 10*physic.MegaHertz)
	require.Error(t, err)
	require.Equal(t, 10*physic.MegaHertz, port.freq)
	require.Equal(t, spi.Mode0, port.mode)
	require.Equal(t, 8, port.bits)

	_, err = OpenSPI(port, 0)
	require.Error(t, err)
}

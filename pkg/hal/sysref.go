package hal

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"
	"periph.io/x/periph/conn"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"

	"github.com/robotalks/jesd204.go/pkg/jesd204"
)

// Register request bits of HMC7044-class clock chips.
const (
	RegReqMode0 uint16 = 0x0001

	ReqReseed        uint8 = 1 << 7
	ReqPulseGen      uint8 = 1 << 2
	ReqRestartDivFSM uint8 = 1 << 1
)

// DefaultPulseWidth is the SYSREF pin pulse width.
const DefaultPulseWidth = time.Microsecond

// WriteFrame encodes a single register write: a 16-bit command with the
// read bit clear, 13-bit address, followed by the value.
func WriteFrame(reg uint16, val uint8) []byte {
	return []byte{byte(reg>>8) & 0x1f, byte(reg), val}
}

// SPIToggle sets then clears mask in a request register. Writing the
// request bit triggers the function and the chip does not clear it.
func SPIToggle(c conn.Conn, reg uint16, mask uint8) jesd204.SysrefFunc {
	return func(ctx context.Context, dev *jesd204.Device, lnk *jesd204.Link) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.Tx(WriteFrame(reg, mask), nil); err != nil {
			return fmt.Errorf("%s: set %#04x: %w", c, reg, err)
		}
		if err := c.Tx(WriteFrame(reg, 0), nil); err != nil {
			return fmt.Errorf("%s: clear %#04x: %w", c, reg, err)
		}
		glog.V(3).Infof("%s: sysref requested on %s%s", dev, c, forLink(lnk))
		return nil
	}
}

// PinSysref drives a pulse on a SYSREF request pin. A zero width uses
// DefaultPulseWidth and a nil sleep uses jesd204.SleepContext.
func PinSysref(pin gpio.PinOut, width time.Duration, sleep jesd204.SleepFunc) jesd204.SysrefFunc {
	if width <= 0 {
		width = DefaultPulseWidth
	}
	if sleep == nil {
		sleep = jesd204.SleepContext
	}
	return func(ctx context.Context, dev *jesd204.Device, lnk *jesd204.Link) error {
		if err := pin.Out(gpio.High); err != nil {
			return fmt.Errorf("%s: %w", pin, err)
		}
		werr := sleep(ctx, width)
		if err := pin.Out(gpio.Low); err != nil {
			return fmt.Errorf("%s: %w", pin, err)
		}
		if werr != nil {
			return werr
		}
		glog.V(3).Infof("%s: sysref pulsed on %s%s", dev, pin, forLink(lnk))
		return nil
	}
}

func forLink(lnk *jesd204.Link) string {
	if lnk == nil {
		return ""
	}
	return fmt.Sprintf(" for link %d", lnk.ID)
}

// OpenSPI connects an SPI port in mode 0 with 8-bit words.
func OpenSPI(port spi.Port, freq physic.Frequency) (spi.Conn, error) {
	if freq <= 0 {
		return nil, fmt.Errorf("%s: invalid frequency %s", port, freq)
	}
	c, err := port.Connect(freq, spi.Mode0, 8)
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", port, err)
	}
	return c, nil
}

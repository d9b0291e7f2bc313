package hal

import (
	"fmt"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"
)

// InitHost loads the host drivers.
func InitHost() error {
	_, err := host.Init()
	return err
}

// LookupPin finds a GPIO by name and drives it low.
func LookupPin(name string) (gpio.PinOut, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio %q not found", name)
	}
	if err := p.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("gpio %q: %w", name, err)
	}
	return p, nil
}

// OpenSPIPort opens an SPI port by name; an empty name selects the first one.
func OpenSPIPort(name string) (spi.PortCloser, error) {
	return spireg.Open(name)
}

package bus

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// PeriphI2C is a bus backed by the periph.io i2c registry, for boards where
// the adapter is known by name rather than by device node.
type PeriphI2C struct {
	bus i2c.BusCloser
	dev *i2c.Dev
}

// OpenPeriphI2C opens the named bus ("" picks the first one).
func OpenPeriphI2C(name string, addr uint16) (*PeriphI2C, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	b, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", name, err)
	}
	return &PeriphI2C{
		bus: b,
		dev: &i2c.Dev{Bus: b, Addr: addr},
	}, nil
}

func (p *PeriphI2C) Send(b []byte) (int, error) {
	if err := p.dev.Tx(b, nil); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (p *PeriphI2C) Recv(b []byte) (int, error) {
	if err := p.dev.Tx(nil, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (p *PeriphI2C) String() string {
	return p.dev.String()
}

func (p *PeriphI2C) Close() error {
	return p.bus.Close()
}

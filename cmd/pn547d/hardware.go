package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	hal "github.com/librescoot/pn547"
	"github.com/librescoot/pn547/bus"
	"github.com/librescoot/pn547/config"
	"github.com/librescoot/pn547/gpioline"
)

// uartReadTimeout keeps a UART Recv from blocking forever when the irq
// fired but the frame never arrived.
const uartReadTimeout = 100 * time.Millisecond

type closers []io.Closer

func (c closers) Close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		errs = append(errs, c[i].Close())
	}
	return errors.Join(errs...)
}

func openLines(cfg config.GPIOConfig) (hal.Lines, io.Closer, error) {
	switch cfg.Backend {
	case "cdev":
		c, err := gpioline.OpenCdev(cfg.Chip, gpioline.Offsets{
			Ven:      cfg.Ven,
			Firm:     cfg.Firm,
			EsePower: cfg.EsePower,
			IRQ:      cfg.IRQ,
		})
		if err != nil {
			return hal.Lines{}, nil, err
		}
		return c.Lines(), c, nil
	case "periph":
		p, err := gpioline.OpenPeriph(gpioline.Names{
			Ven:      cfg.VenPin,
			Firm:     cfg.FirmPin,
			EsePower: cfg.EsePowerPin,
			IRQ:      cfg.IRQPin,
		})
		if err != nil {
			return hal.Lines{}, nil, err
		}
		return p.Lines(), p, nil
	}
	return hal.Lines{}, nil, fmt.Errorf("unknown gpio backend %q", cfg.Backend)
}

type busCloser interface {
	hal.Bus
	io.Closer
	fmt.Stringer
}

func openBus(cfg config.BusConfig) (busCloser, error) {
	switch cfg.Backend {
	case "i2c-dev":
		return bus.OpenI2CDev(cfg.Device, cfg.Address)
	case "periph":
		return bus.OpenPeriphI2C(cfg.Device, cfg.Address)
	case "uart":
		return bus.OpenUART(cfg.Device, cfg.Baud, uartReadTimeout)
	}
	return nil, fmt.Errorf("unknown bus backend %q", cfg.Backend)
}

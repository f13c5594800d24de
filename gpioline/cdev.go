// Package gpioline acquires the ven, firm, ese_pwr_req and irq lines and
// adapts them to the hal line interfaces.
package gpioline

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/warthog618/go-gpiocdev"

	hal "github.com/librescoot/pn547"
)

const consumer = "pn547"

// Offsets names the line offsets on a gpiochip.
type Offsets struct {
	Ven      int
	Firm     int
	EsePower int
	IRQ      int
}

// CdevOutput is an output line on the GPIO character device.
type CdevOutput struct {
	l *gpiocdev.Line
}

// SetValue implements hal.OutputLine
func (o *CdevOutput) SetValue(high bool) error {
	v := 0
	if high {
		v = 1
	}
	return o.l.SetValue(v)
}

func (o *CdevOutput) Close() error {
	return o.l.Close()
}

// CdevIRQ is the rising edge input of the controller.
type CdevIRQ struct {
	l       *gpiocdev.Line
	handler atomic.Pointer[func()]
}

// Value implements hal.InterruptLine
func (i *CdevIRQ) Value() (bool, error) {
	v, err := i.l.Value()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// Watch implements hal.InterruptLine
func (i *CdevIRQ) Watch(fn func()) error {
	if fn == nil {
		return errors.New("nil edge handler")
	}
	i.handler.Store(&fn)
	return nil
}

func (i *CdevIRQ) onEvent(evt gpiocdev.LineEvent) {
	if evt.Type != gpiocdev.LineEventRisingEdge {
		return
	}
	if fn := i.handler.Load(); fn != nil {
		(*fn)()
	}
}

func (i *CdevIRQ) Close() error {
	return i.l.Close()
}

// Cdev holds the lines requested from one gpiochip.
type Cdev struct {
	Ven      *CdevOutput
	Firm     *CdevOutput
	EsePower *CdevOutput
	IRQ      *CdevIRQ
}

// OpenCdev requests the outputs low and the irq line as a pulled down
// input with rising edge detection.
func OpenCdev(chip string, off Offsets) (*Cdev, error) {
	c := &Cdev{}
	outputs := []struct {
		name   string
		offset int
		dst    **CdevOutput
	}{
		{"ven", off.Ven, &c.Ven},
		{"firm", off.Firm, &c.Firm},
		{"ese_pwr_req", off.EsePower, &c.EsePower},
	}
	for _, o := range outputs {
		l, err := gpiocdev.RequestLine(chip, o.offset,
			gpiocdev.AsOutput(0),
			gpiocdev.WithConsumer(consumer))
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("request %s line %s:%d: %w", o.name, chip, o.offset, err)
		}
		*o.dst = &CdevOutput{l: l}
	}

	irq := &CdevIRQ{}
	l, err := gpiocdev.RequestLine(chip, off.IRQ,
		gpiocdev.AsInput,
		gpiocdev.WithPullDown,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithConsumer(consumer),
		gpiocdev.WithEventHandler(irq.onEvent))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("request irq line %s:%d: %w", chip, off.IRQ, err)
	}
	irq.l = l
	c.IRQ = irq
	return c, nil
}

// Lines returns the set in the shape the core expects.
func (c *Cdev) Lines() hal.Lines {
	return hal.Lines{Ven: c.Ven, Firm: c.Firm, EsePower: c.EsePower, IRQ: c.IRQ}
}

// Close releases every requested line.
func (c *Cdev) Close() error {
	var errs []error
	for _, o := range []*CdevOutput{c.Ven, c.Firm, c.EsePower} {
		if o != nil {
			errs = append(errs, o.Close())
		}
	}
	if c.IRQ != nil && c.IRQ.l != nil {
		errs = append(errs, c.IRQ.Close())
	}
	return errors.Join(errs...)
}

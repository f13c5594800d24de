package gpioline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	hal "github.com/librescoot/pn547"
)

// edgePoll bounds how long the edge goroutine sleeps before checking for
// Close.
const edgePoll = 100 * time.Millisecond

// Names are periph.io pin names, e.g. "GPIO17".
type Names struct {
	Ven      string
	Firm     string
	EsePower string
	IRQ      string
}

// PeriphOutput is an output pin from the periph.io registry.
type PeriphOutput struct {
	pin gpio.PinIO
}

// SetValue implements hal.OutputLine
func (o *PeriphOutput) SetValue(high bool) error {
	return o.pin.Out(gpio.Level(high))
}

// PeriphIRQ is the irq input, polled for edges on its own goroutine.
type PeriphIRQ struct {
	pin  gpio.PinIO
	once sync.Once
	stop chan struct{}
	done chan struct{}
}

// Value implements hal.InterruptLine
func (i *PeriphIRQ) Value() (bool, error) {
	return i.pin.Read() == gpio.High, nil
}

// Watch implements hal.InterruptLine. Only one handler may be installed.
func (i *PeriphIRQ) Watch(fn func()) error {
	if fn == nil {
		return errors.New("nil edge handler")
	}
	started := false
	i.once.Do(func() {
		started = true
		go i.loop(fn)
	})
	if !started {
		return errors.New("irq already watched")
	}
	return nil
}

func (i *PeriphIRQ) loop(fn func()) {
	defer close(i.done)
	for {
		select {
		case <-i.stop:
			return
		default:
		}
		if i.pin.WaitForEdge(edgePoll) {
			fn()
		}
	}
}

func (i *PeriphIRQ) Close() error {
	close(i.stop)
	started := true
	i.once.Do(func() { started = false })
	if started {
		<-i.done
	}
	return i.pin.Halt()
}

// Periph holds the pins taken from the periph.io registry.
type Periph struct {
	Ven      *PeriphOutput
	Firm     *PeriphOutput
	EsePower *PeriphOutput
	IRQ      *PeriphIRQ
}

// OpenPeriph looks the pins up by name, drives the outputs low and arms
// rising edge detection on irq.
func OpenPeriph(n Names) (*Periph, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	lookup := func(name string) (gpio.PinIO, error) {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("no gpio named %q", name)
		}
		return p, nil
	}

	p := &Periph{}
	outputs := []struct {
		name string
		dst  **PeriphOutput
	}{
		{n.Ven, &p.Ven},
		{n.Firm, &p.Firm},
		{n.EsePower, &p.EsePower},
	}
	for _, o := range outputs {
		pin, err := lookup(o.name)
		if err != nil {
			return nil, err
		}
		if err := pin.Out(gpio.Low); err != nil {
			return nil, fmt.Errorf("set %s low: %w", o.name, err)
		}
		*o.dst = &PeriphOutput{pin: pin}
	}

	pin, err := lookup(n.IRQ)
	if err != nil {
		return nil, err
	}
	if err := pin.In(gpio.PullDown, gpio.RisingEdge); err != nil {
		return nil, fmt.Errorf("setup irq %s: %w", n.IRQ, err)
	}
	p.IRQ = &PeriphIRQ{pin: pin, stop: make(chan struct{}), done: make(chan struct{})}
	return p, nil
}

// Lines returns the set in the shape the core expects.
func (p *Periph) Lines() hal.Lines {
	return hal.Lines{Ven: p.Ven, Firm: p.Firm, EsePower: p.EsePower, IRQ: p.IRQ}
}

func (p *Periph) Close() error {
	return p.IRQ.Close()
}

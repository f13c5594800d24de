package hal

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// Device is one attached pn547 controller with its secure element. It owns
// the arbitrator, the transport and the interrupt bridge.
type Device struct {
	*Arbitrator

	transport *Transport
	irq       *IRQ
	rs        *readSync
	sleep     func(time.Duration)
	log       logger

	opened atomic.Bool
	closed atomic.Bool
}

// New attaches the core to already acquired hardware. All outputs are
// driven low and the access state starts Idle.
func New(cfg Config, hw Hardware) (*Device, error) {
	switch {
	case hw.Lines.Ven == nil, hw.Lines.Firm == nil, hw.Lines.EsePower == nil:
		return nil, errors.New("ven, firm and ese_pwr_req lines are required")
	case hw.Lines.IRQ == nil:
		return nil, errors.New("irq line is required")
	case hw.Bus == nil:
		return nil, errors.New("bus is required")
	}

	def := DefaultConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.WakeLockTimeout <= 0 {
		cfg.WakeLockTimeout = def.WakeLockTimeout
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = def.ServiceName
	}
	if hw.Sleep == nil {
		hw.Sleep = time.Sleep
	}

	log := logger{cb: cfg.LogCallback, debug: cfg.Debug}
	rs := newReadSync()
	irq := newIRQ(hw.Lines.IRQ, rs, hw.WakeLock, cfg.WakeLockTimeout, log)
	transport := newTransport(hw.Bus, irq, rs, hw.Sleep, log)

	arb := &Arbitrator{
		variant:   cfg.Variant,
		seq:       newSequencer(hw.Lines, hw.Sleep, log),
		sync:      newCrossSync(cfg, hw, log),
		irq:       irq,
		transport: transport,
		token:     NewTransactionToken(),
		log:       log,
	}
	arb.setState(Idle)
	if err := arb.seq.reset(); err != nil {
		return nil, err
	}

	d := &Device{
		Arbitrator: arb,
		transport:  transport,
		irq:        irq,
		rs:         rs,
		sleep:      hw.Sleep,
		log:        log,
	}
	if err := hw.Lines.IRQ.Watch(irq.HandleEdge); err != nil {
		return nil, fmt.Errorf("watch irq line: %w", err)
	}
	log.logf(LogLevelInfo, "pn547 attached, variant %s", cfg.Variant)
	return d, nil
}

// Transport returns the byte stream side of the device
func (d *Device) Transport() *Transport {
	return d.transport
}

// IRQ returns the interrupt bridge
func (d *Device) IRQ() *IRQ {
	return d.irq
}

// Close detaches the core: interrupts off, blocked readers cancelled,
// outputs low and the access state back to Idle.
func (d *Device) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.irq.Disable()
	d.transport.CancelRead()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.setState(Idle)
	d.token.Release()
	d.log.logf(LogLevelInfo, "pn547 detached")
	return d.seq.reset()
}

// Session is the single user of the data channel, the equivalent of the
// open character device.
type Session struct {
	d      *Device
	closed atomic.Bool
}

// Open claims the data channel. Only one session may be open at a time.
func (d *Device) Open() (*Session, error) {
	if d.closed.Load() {
		return nil, NewIOFaultError("device detached", nil)
	}
	if !d.opened.CompareAndSwap(false, true) {
		return nil, NewBusyError("device already opened")
	}
	d.log.logf(LogLevelInfo, "session opened")
	return &Session{d: d}, nil
}

func (s *Session) Read(ctx context.Context, maxLen int, blocking bool) ([]byte, error) {
	return s.d.transport.Read(ctx, maxLen, blocking)
}

func (s *Session) Write(p []byte) (int, error) {
	return s.d.transport.Write(p)
}

func (s *Session) Control(cmd Command, arg uint64) (int64, error) {
	return s.d.Control(cmd, arg)
}

// Close gives up the data channel. A transaction token left behind by the
// wired path is released unless an SPI session still runs.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	d := s.d
	if d.token.Held() && !d.PowerStatus().Has(GrantSPI|GrantSPIPriority) {
		d.token.Release()
		d.log.logf(LogLevelInfo, "ese token released on close")
	}
	d.opened.Store(false)
	d.log.logf(LogLevelInfo, "session closed")
	return nil
}

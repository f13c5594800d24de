package hal

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// PowerArg selects a SetPower operation
type PowerArg uint32

const (
	PowerOff        PowerArg = 0
	PowerOn         PowerArg = 1
	PowerOnDownload PowerArg = 2
	PowerCancelRead PowerArg = 3
)

func (a PowerArg) String() string {
	switch a {
	case PowerOff:
		return "off"
	case PowerOn:
		return "on"
	case PowerOnDownload:
		return "on_with_download"
	case PowerCancelRead:
		return "cancel_read"
	default:
		return fmt.Sprintf("PowerArg(%d)", uint32(a))
	}
}

// SPIPowerArg selects a SetSPIPower operation
type SPIPowerArg uint32

const (
	SPIOff           SPIPowerArg = 0
	SPIOn            SPIPowerArg = 1
	SPIReset         SPIPowerArg = 2
	SPIPriorityStart SPIPowerArg = 3
	SPIPriorityEnd   SPIPowerArg = 4
	SPIRelease       SPIPowerArg = 5
)

func (a SPIPowerArg) String() string {
	switch a {
	case SPIOff:
		return "off"
	case SPIOn:
		return "on"
	case SPIReset:
		return "reset"
	case SPIPriorityStart:
		return "priority_start"
	case SPIPriorityEnd:
		return "priority_end"
	case SPIRelease:
		return "release"
	default:
		return fmt.Sprintf("SPIPowerArg(%d)", uint32(a))
	}
}

// WiredArg selects a SetWiredAccess operation
type WiredArg uint32

const (
	WiredOff          WiredArg = 0
	WiredOn           WiredArg = 1
	WiredPowerReqLow  WiredArg = 2
	WiredPowerReqHigh WiredArg = 3
	WiredRelease      WiredArg = 4
)

func (a WiredArg) String() string {
	switch a {
	case WiredOff:
		return "off"
	case WiredOn:
		return "on"
	case WiredPowerReqLow:
		return "power_req_low"
	case WiredPowerReqHigh:
		return "power_req_high"
	case WiredRelease:
		return "release"
	default:
		return fmt.Sprintf("WiredArg(%d)", uint32(a))
	}
}

// DownloadArg selects a SetDownloadStatus operation
type DownloadArg uint32

const (
	DownloadInit        DownloadArg = 0x8010
	DownloadStart       DownloadArg = 0x8020
	DownloadSPIComplete DownloadArg = 0x8040
	DownloadDWPComplete DownloadArg = 0x8080
)

func (a DownloadArg) String() string {
	switch a {
	case DownloadInit:
		return "init"
	case DownloadStart:
		return "start"
	case DownloadSPIComplete:
		return "spi_complete"
	case DownloadDWPComplete:
		return "dwp_complete"
	default:
		return fmt.Sprintf("DownloadArg(0x%04x)", uint32(a))
	}
}

// Arbitrator owns the access state. Every state changing request runs to
// completion, handshakes and line sequencing included, under mu.
type Arbitrator struct {
	mu     sync.Mutex
	state  AccessState
	status atomic.Uint32

	variant   Variant
	seq       *sequencer
	sync      *crossSync
	irq       *IRQ
	transport *Transport
	token     *TransactionToken
	log       logger
}

var _ Controller = (*Arbitrator)(nil)

func (a *Arbitrator) setState(s AccessState) {
	a.state = s
	a.status.Store(s.Bits())
	a.log.logf(LogLevelDebug, "access state %s (0x%04x)", s, s.Bits())
}

// PowerStatus returns a snapshot of the access state without waiting for
// an in-flight request.
func (a *Arbitrator) PowerStatus() AccessState {
	s, err := StateFromBits(a.status.Load())
	if err != nil {
		return Idle
	}
	return s
}

// LineState returns the mirrored output lines.
func (a *Arbitrator) LineState() LineState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.seq.snapshot()
}

// SetPower implements Controller.SetPower
func (a *Arbitrator) SetPower(arg PowerArg) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.log.logf(LogLevelInfo, "set power %s, state %s", arg, a.state)
	switch arg {
	case PowerOff:
		if a.irq.Disable() {
			a.log.logf(LogLevelDebug, "irq disabled")
		}
		a.setState(a.state.Without(GrantDownload))
		return a.seq.nfcOff()

	case PowerOn:
		a.setState(a.state.Without(GrantDownload))
		err := a.seq.nfcOn()
		if a.irq.Enable() {
			a.log.logf(LogLevelDebug, "irq enabled")
		}
		a.sync.svddWaiting.Store(false)
		return err

	case PowerOnDownload:
		if a.state.Has(GrantSPI | GrantSPIPriority) {
			return NewBusyError(fmt.Sprintf("firmware download not allowed in state %s", a.state))
		}
		if a.seq.state.SPIVen {
			// ven is owned by the SPI path, a reset would cut it
			a.seq.state.NFCVen = true
			a.log.logf(LogLevelWarning, "download reset skipped: ven held by spi")
			return nil
		}
		a.setState(a.state.With(GrantDownload))
		err := a.seq.downloadReset()
		a.irq.Enable()
		return err

	case PowerCancelRead:
		a.transport.CancelRead()
		return nil
	}
	return NewBadRequestError(fmt.Sprintf("bad power argument %d", uint32(arg)))
}

// SetSPIPower implements Controller.SetSPIPower
func (a *Arbitrator) SetSPIPower(arg SPIPowerArg) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.log.logf(LogLevelInfo, "set spi power %s, state %s", arg, a.state)
	switch arg {
	case SPIOff:
		return a.spiOff()
	case SPIOn:
		return a.spiOn(GrantSPI, EventSPI)
	case SPIReset:
		return a.spiReset()
	case SPIPriorityStart:
		return a.spiOn(GrantSPIPriority, EventSPIPriority)
	case SPIPriorityEnd:
		if !a.state.Has(GrantSPIPriority) {
			return NewBadRequestError(fmt.Sprintf("no priority session in state %s", a.state))
		}
		a.setState(a.state.Without(GrantSPIPriority).With(GrantSPI))
		a.sync.notify(EventSPIPriorityEnd)
		return nil
	case SPIRelease:
		a.token.Release()
		a.log.logf(LogLevelDebug, "ese token released by spi")
		return nil
	}
	return NewBadRequestError(fmt.Sprintf("bad spi power argument %d", uint32(arg)))
}

func (a *Arbitrator) spiOn(g Grant, evt Event) error {
	cur := a.state
	if cur.Has(GrantSPI | GrantSPIPriority | GrantDownload) {
		return NewBusyError(fmt.Sprintf("spi %s not allowed in state %s", evt, cur))
	}
	a.setState(cur.With(g))
	if g == GrantSPIPriority || !cur.Has(GrantJCOPDownload) {
		a.sync.dwpHandshake(evt)
	}
	a.seq.setSPIVen(true)
	return a.seq.esePowerOn()
}

func (a *Arbitrator) spiOff() error {
	cur := a.state
	var evt Event
	switch {
	case cur.Has(GrantSPIPriority):
		a.setState(cur.Without(GrantSPIPriority))
		evt = EventSPIPriorityEnd
	case cur.Has(GrantSPI):
		a.setState(cur.Without(GrantSPI))
		evt = EventSPIEnd
	default:
		return NewNotPermittedError(fmt.Sprintf("spi power off in state %s", cur))
	}

	// on pn80t the wired path never holds the rail, so spi off drops it
	wired := cur.Has(GrantWired) && a.wiredDrivesRail()
	jcop := cur.Has(GrantJCOPDownload)
	var err error
	switch {
	case !wired && !jcop:
		err = a.drainRail(EventSvddSyncStart|evt, EventSvddSyncEnd)
	case !jcop:
		// the wired path still needs the rail
		a.sync.notify(evt)
	case !wired:
		start := EventSvddSyncStart
		if evt == EventSPIPriorityEnd {
			start |= evt
		}
		err = a.drainRail(start, EventSvddSyncEnd)
	case evt == EventSPIPriorityEnd:
		a.sync.notify(evt)
	}

	a.seq.setSPIVen(false)
	if ferr := a.seq.flush(); err == nil {
		err = ferr
	}
	return err
}

func (a *Arbitrator) spiReset() error {
	cur := a.state
	if !cur.IsIdle() && !cur.Has(GrantSPI|GrantSPIPriority) {
		return NewBusyError(fmt.Sprintf("spi reset not allowed in state %s", cur))
	}
	if !a.seq.state.SPIVen {
		a.seq.setSPIVen(true)
	}
	err := a.drainRail(EventSvddSyncStart, EventSvddSyncEnd)
	if perr := a.seq.esePowerOn(); err == nil {
		err = perr
	}
	return err
}

// drainRail powers the eSE rail down between two SVDD handshakes.
func (a *Arbitrator) drainRail(start, end Event) error {
	return a.seq.drainRail(
		func() { a.sync.svddHandshake(start) },
		func() { a.sync.svddHandshake(end) },
	)
}

func (a *Arbitrator) wiredDrivesRail() bool {
	return a.variant == VariantPN66T
}

// SetWiredAccess implements Controller.SetWiredAccess
func (a *Arbitrator) SetWiredAccess(arg WiredArg) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cur := a.state
	a.log.logf(LogLevelInfo, "set wired access %s, state %s", arg, cur)
	switch arg {
	case WiredOff:
		if !cur.Has(GrantWired) {
			return NewNotPermittedError(fmt.Sprintf("wired access off in state %s", cur))
		}
		a.setState(cur.Without(GrantWired))
		if a.wiredDrivesRail() && !cur.Has(GrantSPI|GrantSPIPriority) {
			return a.drainRail(EventDwpSvddSyncStart, EventDwpSvddSyncEnd)
		}
		return nil

	case WiredOn:
		a.setState(cur.With(GrantWired))
		if cur.Has(GrantSPIPriority) {
			a.sync.notify(EventSPIPriority)
		}
		if a.wiredDrivesRail() && !cur.Has(GrantSPI|GrantSPIPriority) {
			return a.seq.esePowerOn()
		}
		return nil

	case WiredPowerReqLow:
		if !a.wiredDrivesRail() {
			a.log.logf(LogLevelDebug, "ese power request ignored on %s", a.variant)
			return nil
		}
		return a.drainRail(EventDwpSvddSyncStart, EventDwpSvddSyncEnd)

	case WiredPowerReqHigh:
		if !a.wiredDrivesRail() {
			a.log.logf(LogLevelDebug, "ese power request ignored on %s", a.variant)
			return nil
		}
		return a.seq.esePowerOn()

	case WiredRelease:
		a.token.Release()
		a.log.logf(LogLevelDebug, "ese token released by wired")
		return nil
	}
	return NewBadRequestError(fmt.Sprintf("bad wired access argument %d", uint32(arg)))
}

// SetDownloadStatus implements Controller.SetDownloadStatus
func (a *Arbitrator) SetDownloadStatus(arg DownloadArg) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cur := a.state
	a.log.logf(LogLevelInfo, "set jcop download %s, state %s", arg, cur)
	switch arg {
	case DownloadInit:
		if cur.Has(GrantJCOPDownload) {
			return NewInvalidStateError("jcop download window already open")
		}
		if a.sync.clientPID() != 0 {
			// the service opens the window with DownloadStart
			a.sync.notify(EventJCOPDownloadInit)
			return nil
		}
		a.setState(cur.With(GrantJCOPDownload))
		return nil

	case DownloadStart:
		if cur.Has(GrantJCOPDownload) {
			return NewInvalidStateError("jcop download window already open")
		}
		a.setState(cur.With(GrantJCOPDownload))
		return nil

	case DownloadSPIComplete:
		if a.sync.clientPID() != 0 {
			a.sync.notify(EventJCOPDownloadComplete)
		}
		a.setState(cur.Without(GrantJCOPDownload))
		return nil

	case DownloadDWPComplete:
		a.setState(cur.Without(GrantJCOPDownload))
		return nil
	}
	return NewBadRequestError(fmt.Sprintf("bad jcop download argument 0x%x", uint32(arg)))
}

// The entry points below never take mu: they exist to unblock a request
// that holds it while waiting on a handshake.

// RegisterClient implements Controller.RegisterClient
func (a *Arbitrator) RegisterClient(pid int) {
	a.sync.register(pid)
}

// ClientPID returns the registered NFC service pid, 0 if none.
func (a *Arbitrator) ClientPID() int {
	return a.sync.clientPID()
}

// TokenHeld reports whether the transaction token is taken.
func (a *Arbitrator) TokenHeld() bool {
	return a.token.Held()
}

// AcquireESE implements Controller.AcquireESE
func (a *Arbitrator) AcquireESE(timeout time.Duration) error {
	a.log.logf(LogLevelDebug, "acquire ese token, timeout %v", timeout)
	if err := a.token.Acquire(timeout); err != nil {
		a.log.logf(LogLevelWarning, "acquire ese token: %v", err)
		return err
	}
	return nil
}

// ReleaseSVDDWait implements Controller.ReleaseSVDDWait
func (a *Arbitrator) ReleaseSVDDWait() {
	a.sync.releaseSVDD()
}

// ReleaseDWPWait implements Controller.ReleaseDWPWait
func (a *Arbitrator) ReleaseDWPWait() {
	a.sync.releaseDWP()
}

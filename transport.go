package hal

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

const (
	// MaxTransfer is the largest chunk moved by one Read or Write
	MaxTransfer = 512

	writeAttempts      = 3
	writeBackoffMin    = 6 * time.Millisecond
	writeBackoffJitter = 4 * time.Millisecond
)

// Transport moves raw bytes to and from the controller. Writes retry while
// the chip wakes from standby; reads block until the interrupt bridge
// reports data or the read is cancelled.
type Transport struct {
	bus   Bus
	irq   *IRQ
	rs    *readSync
	sleep func(time.Duration)
	log   logger

	readMu sync.Mutex
}

func newTransport(bus Bus, irq *IRQ, rs *readSync, sleep func(time.Duration), log logger) *Transport {
	return &Transport{
		bus:   bus,
		irq:   irq,
		rs:    rs,
		sleep: sleep,
		log:   log,
	}
}

func writeBackoff() time.Duration {
	return writeBackoffMin + time.Duration(rand.Int63n(int64(writeBackoffJitter)))
}

// Write sends up to MaxTransfer bytes of p.
func (t *Transport) Write(p []byte) (int, error) {
	if len(p) > MaxTransfer {
		p = p[:MaxTransfer]
	}
	t.log.logFrame("TX", p)

	var (
		n   int
		err error
	)
	for attempt := 1; attempt <= writeAttempts; attempt++ {
		n, err = t.bus.Send(p)
		if err == nil && n == len(p) {
			return n, nil
		}
		t.log.logf(LogLevelDebug, "write attempt %d/%d: sent %d/%d, err=%v", attempt, writeAttempts, n, len(p), err)
		if attempt < writeAttempts {
			t.sleep(writeBackoff())
		}
	}
	if err == nil {
		err = fmt.Errorf("short write %d/%d", n, len(p))
	}
	t.log.logf(LogLevelError, "write failed after %d attempts: %v", writeAttempts, err)
	return 0, NewIOFaultError("bus write failed", err)
}

// Read receives at most maxLen bytes. Without blocking it fails with a
// WouldBlock error when no data is pending.
func (t *Transport) Read(ctx context.Context, maxLen int, blocking bool) ([]byte, error) {
	if maxLen > MaxTransfer {
		maxLen = MaxTransfer
	}
	if maxLen <= 0 {
		return nil, nil
	}

	t.readMu.Lock()
	defer t.readMu.Unlock()

	if !t.irq.Asserted() {
		t.rs.clearReady()
		if !blocking {
			return nil, NewWouldBlockError("no data pending")
		}
		if !t.irq.Asserted() {
			if err := t.rs.wait(ctx); err != nil {
				return nil, err
			}
		}
		if t.rs.takeCancel() {
			t.log.logf(LogLevelInfo, "read cancelled")
			return nil, NewCancelledError("read cancelled")
		}
	}
	return t.recv(maxLen)
}

func (t *Transport) recv(maxLen int) ([]byte, error) {
	buf := make([]byte, maxLen)
	n, err := t.bus.Recv(buf)
	if err != nil {
		t.log.logf(LogLevelError, "bus recv: %v", err)
		return nil, err
	}
	if n < 0 || n > maxLen {
		return nil, NewIOFaultError(fmt.Sprintf("received %d bytes, buffer holds %d", n, maxLen), nil)
	}
	t.log.logFrame("RX", buf[:n])
	return buf[:n], nil
}

// CancelRead wakes a blocked Read with a Cancelled error.
func (t *Transport) CancelRead() {
	t.log.logf(LogLevelInfo, "read cancel requested")
	t.rs.requestCancel()
}

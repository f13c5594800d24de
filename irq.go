package hal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// readSync holds the ready and cancel flags shared between the interrupt
// bridge and the read path, plus a broadcast wait queue.
type readSync struct {
	mu     sync.Mutex
	ready  bool
	cancel bool
	wake   chan struct{}
}

func newReadSync() *readSync {
	return &readSync{wake: make(chan struct{})}
}

// broadcast must be called with mu held.
func (r *readSync) broadcast() {
	close(r.wake)
	r.wake = make(chan struct{})
}

// signal sets the ready flag and wakes every waiter.
func (r *readSync) signal() {
	r.mu.Lock()
	r.ready = true
	r.broadcast()
	r.mu.Unlock()
}

// requestCancel forces waiters awake with the cancel flag set.
func (r *readSync) requestCancel() {
	r.mu.Lock()
	r.cancel = true
	r.ready = true
	r.broadcast()
	r.mu.Unlock()
}

func (r *readSync) clearReady() {
	r.mu.Lock()
	r.ready = false
	r.mu.Unlock()
}

// takeCancel clears the cancel flag and reports whether it was set.
func (r *readSync) takeCancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.cancel
	r.cancel = false
	return c
}

// reset clears both flags without waking anybody.
func (r *readSync) reset() {
	r.mu.Lock()
	r.ready = false
	r.cancel = false
	r.mu.Unlock()
}

// wait blocks until the ready flag is set or ctx is done.
func (r *readSync) wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		if r.ready {
			r.mu.Unlock()
			return nil
		}
		ch := r.wake
		r.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// IRQ turns rising edges of the data ready line into reader wake ups.
type IRQ struct {
	line        InterruptLine
	rs          *readSync
	wakeLock    WakeLock
	wakeTimeout time.Duration
	log         logger

	enabled  atomic.Bool
	edges    atomic.Uint64
	spurious atomic.Uint64
}

func newIRQ(line InterruptLine, rs *readSync, wl WakeLock, wakeTimeout time.Duration, log logger) *IRQ {
	return &IRQ{
		line:        line,
		rs:          rs,
		wakeLock:    wl,
		wakeTimeout: wakeTimeout,
		log:         log,
	}
}

// HandleEdge is the rising edge handler. It never blocks.
func (q *IRQ) HandleEdge() {
	if !q.enabled.Load() {
		return
	}
	if !q.Asserted() {
		q.spurious.Add(1)
		q.log.logf(LogLevelDebug, "irq: line low on edge, ignored")
		return
	}
	q.edges.Add(1)
	q.rs.signal()
	if q.wakeLock != nil {
		q.wakeLock.Acquire(q.wakeTimeout)
	}
}

// Asserted reads the data ready line. A read error counts as low.
func (q *IRQ) Asserted() bool {
	v, err := q.line.Value()
	if err != nil {
		q.log.logf(LogLevelError, "irq: read line: %v", err)
		return false
	}
	return v
}

// Enable turns edge handling on. It reports false if it already was.
func (q *IRQ) Enable() bool {
	return q.enabled.CompareAndSwap(false, true)
}

// Disable turns edge handling off. It reports false if it already was.
func (q *IRQ) Disable() bool {
	return q.enabled.CompareAndSwap(true, false)
}

func (q *IRQ) Enabled() bool {
	return q.enabled.Load()
}

// IRQStats counts handled and discarded edges.
type IRQStats struct {
	Edges    uint64
	Spurious uint64
}

func (q *IRQ) Stats() IRQStats {
	return IRQStats{Edges: q.edges.Load(), Spurious: q.spurious.Load()}
}

package hal

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// lineLog records output transitions across all fake lines in order.
type lineLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *lineLog) add(op string) {
	l.mu.Lock()
	l.ops = append(l.ops, op)
	l.mu.Unlock()
}

func (l *lineLog) take() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ops := l.ops
	l.ops = nil
	return ops
}

type fakeOutput struct {
	name string
	log  *lineLog

	mu   sync.Mutex
	high bool
	fail error
}

func (o *fakeOutput) SetValue(high bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail != nil {
		return o.fail
	}
	o.high = high
	v := 0
	if high {
		v = 1
	}
	o.log.add(fmt.Sprintf("%s=%d", o.name, v))
	return nil
}

func (o *fakeOutput) get() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.high
}

type fakeIRQ struct {
	mu   sync.Mutex
	high bool
	fn   func()
}

func (i *fakeIRQ) Value() (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.high, nil
}

func (i *fakeIRQ) Watch(fn func()) error {
	i.mu.Lock()
	i.fn = fn
	i.mu.Unlock()
	return nil
}

func (i *fakeIRQ) set(high bool) {
	i.mu.Lock()
	i.high = high
	i.mu.Unlock()
}

// raise drives the line high and delivers a rising edge.
func (i *fakeIRQ) raise() {
	i.mu.Lock()
	i.high = true
	fn := i.fn
	i.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// edge delivers an edge without changing the level.
func (i *fakeIRQ) edge() {
	i.mu.Lock()
	fn := i.fn
	i.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type fakeBus struct {
	mu       sync.Mutex
	sent     [][]byte
	sendErrs []error
	short    int
	rx       [][]byte
	recvErr  error
	recvN    int
	onSend   func(p []byte)
}

func (b *fakeBus) Send(p []byte) (int, error) {
	b.mu.Lock()
	var err error
	if len(b.sendErrs) > 0 {
		err, b.sendErrs = b.sendErrs[0], b.sendErrs[1:]
	}
	if err != nil {
		b.mu.Unlock()
		return 0, err
	}
	if b.short > 0 {
		b.short--
		b.mu.Unlock()
		return len(p) / 2, nil
	}
	b.sent = append(b.sent, append([]byte(nil), p...))
	onSend := b.onSend
	b.mu.Unlock()
	if onSend != nil {
		onSend(p)
	}
	return len(p), nil
}

func (b *fakeBus) Recv(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.recvErr != nil {
		return 0, b.recvErr
	}
	if b.recvN != 0 {
		return b.recvN, nil
	}
	if len(b.rx) == 0 {
		return 0, errors.New("nothing to receive")
	}
	frame := b.rx[0]
	b.rx = b.rx[1:]
	return copy(p, frame), nil
}

func (b *fakeBus) queue(frame []byte) {
	b.mu.Lock()
	b.rx = append(b.rx, frame)
	b.mu.Unlock()
}

func (b *fakeBus) sentFrames() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.sent...)
}

type notification struct {
	pid   int
	event Event
}

// fakeNotifier records events. With autoRelease set it answers
// handshakes synchronously, the way a prompt NFC service would.
type fakeNotifier struct {
	mu     sync.Mutex
	events []notification
	err    error

	autoRelease bool
	ctrl        Controller
}

func (n *fakeNotifier) Notify(pid int, event Event) error {
	n.mu.Lock()
	n.events = append(n.events, notification{pid, event})
	err, auto, ctrl := n.err, n.autoRelease, n.ctrl
	n.mu.Unlock()
	if err != nil {
		return err
	}
	if auto && ctrl != nil {
		switch {
		case event&(EventSvddSyncStart|EventSvddSyncEnd|EventDwpSvddSyncStart|EventDwpSvddSyncEnd) != 0:
			ctrl.ReleaseSVDDWait()
		case event == EventSPI || event == EventSPIPriority:
			ctrl.ReleaseDWPWait()
		}
	}
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

func (n *fakeNotifier) take() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var evts []Event
	for _, e := range n.events {
		evts = append(evts, e.event)
	}
	n.events = nil
	return evts
}

type fakeResolver map[int]string

func (r fakeResolver) ProcessName(pid int) (string, error) {
	name, ok := r[pid]
	if !ok {
		return "", fmt.Errorf("no process %d", pid)
	}
	return name, nil
}

type fakeWakeLock struct {
	mu    sync.Mutex
	count int
	last  time.Duration
}

func (w *fakeWakeLock) Acquire(timeout time.Duration) {
	w.mu.Lock()
	w.count++
	w.last = timeout
	w.mu.Unlock()
}

// fakeClock records requested sleeps without sleeping.
type fakeClock struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
}

func (c *fakeClock) total() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var t time.Duration
	for _, d := range c.sleeps {
		t += d
	}
	return t
}

const testPID = 4242

type testRig struct {
	dev      *Device
	lines    *lineLog
	ven      *fakeOutput
	firm     *fakeOutput
	ese      *fakeOutput
	irq      *fakeIRQ
	bus      *fakeBus
	notifier *fakeNotifier
	wake     *fakeWakeLock
	clock    *fakeClock
	logs     *logRecorder
}

type logRecorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *logRecorder) log(level LogLevel, msg string) {
	r.mu.Lock()
	r.msgs = append(r.msgs, level.String()+" "+msg)
	r.mu.Unlock()
}

func (r *logRecorder) contains(sub string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.msgs {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

type rigOption func(*Config, *testRig)

func withVariant(v Variant) rigOption {
	return func(c *Config, _ *testRig) { c.Variant = v }
}

func withHandshakeTimeout(d time.Duration) rigOption {
	return func(c *Config, _ *testRig) { c.HandshakeTimeout = d }
}

// withClient registers testPID as NFC service and answers handshakes.
func withClient() rigOption {
	return func(_ *Config, r *testRig) { r.notifier.autoRelease = true }
}

func newRig(t *testing.T, opts ...rigOption) *testRig {
	t.Helper()
	lines := &lineLog{}
	r := &testRig{
		lines:    lines,
		ven:      &fakeOutput{name: "ven", log: lines},
		firm:     &fakeOutput{name: "firm", log: lines},
		ese:      &fakeOutput{name: "ese", log: lines},
		irq:      &fakeIRQ{},
		bus:      &fakeBus{},
		notifier: &fakeNotifier{},
		wake:     &fakeWakeLock{},
		clock:    &fakeClock{},
		logs:     &logRecorder{},
	}
	cfg := DefaultConfig()
	cfg.HandshakeTimeout = 20 * time.Millisecond
	cfg.LogCallback = r.logs.log
	cfg.Debug = true
	for _, o := range opts {
		o(&cfg, r)
	}
	dev, err := New(cfg, Hardware{
		Lines:    Lines{Ven: r.ven, Firm: r.firm, EsePower: r.ese, IRQ: r.irq},
		Bus:      r.bus,
		Notifier: r.notifier,
		Resolver: fakeResolver{testPID: "com.android.nfc"},
		WakeLock: r.wake,
		Sleep:    r.clock.Sleep,
	})
	require.NoError(t, err)
	r.dev = dev
	r.notifier.ctrl = dev
	if r.notifier.autoRelease {
		dev.RegisterClient(testPID)
		require.Equal(t, testPID, dev.ClientPID())
	}
	r.lines.take()
	t.Cleanup(func() { dev.Close() })
	return r
}

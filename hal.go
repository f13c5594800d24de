package hal

import (
	"time"
)

// Controller is the control surface of the pn547 core
type Controller interface {
	// SetPower governs the NFC controller power path
	SetPower(arg PowerArg) error

	// SetSPIPower governs the SPI (card emulation) grant
	SetSPIPower(arg SPIPowerArg) error

	// SetWiredAccess governs the wired (NFC service) grant
	SetWiredAccess(arg WiredArg) error

	// SetDownloadStatus manages the JCOP download window
	SetDownloadStatus(arg DownloadArg) error

	// PowerStatus returns the current access state
	PowerStatus() AccessState

	// RegisterClient records the pid of the NFC service, 0 clears it
	RegisterClient(pid int)

	// AcquireESE takes the transaction token, waiting up to timeout
	AcquireESE(timeout time.Duration) error

	// ReleaseSVDDWait completes a pending SVDD handshake
	ReleaseSVDDWait()

	// ReleaseDWPWait completes a pending DWP handshake
	ReleaseDWPWait()
}

// OutputLine is an already acquired digital output line.
type OutputLine interface {
	SetValue(high bool) error
}

// InterruptLine is the data ready input of the controller.
type InterruptLine interface {
	// Value returns the current logical level
	Value() (bool, error)

	// Watch registers fn to be called on every rising edge. fn runs on the
	// backend's event goroutine and must not block.
	Watch(fn func()) error
}

// Bus is the raw byte stream to the controller.
type Bus interface {
	Send(p []byte) (int, error)
	Recv(p []byte) (int, error)
}

// Notifier delivers an event to the process registered as NFC service.
type Notifier interface {
	Notify(pid int, event Event) error
}

// NotifierFunc adapts a function to the Notifier interface
type NotifierFunc func(pid int, event Event) error

func (f NotifierFunc) Notify(pid int, event Event) error {
	return f(pid, event)
}

// ProcessResolver returns the name of a running process.
type ProcessResolver interface {
	ProcessName(pid int) (string, error)
}

// WakeLock keeps the host from suspending for a bounded time.
type WakeLock interface {
	Acquire(timeout time.Duration)
}

// Lines groups the GPIO lines handed to the core.
type Lines struct {
	Ven      OutputLine
	Firm     OutputLine
	EsePower OutputLine
	IRQ      InterruptLine
}

// Hardware is everything the core needs from its environment. WakeLock,
// Resolver and Sleep are optional.
type Hardware struct {
	Lines    Lines
	Bus      Bus
	Notifier Notifier
	Resolver ProcessResolver
	WakeLock WakeLock
	Sleep    func(time.Duration)
}

// Variant selects how the wired path treats the eSE rail.
type Variant int

const (
	// VariantPN66T: the wired path raises and drains ese_power_request
	VariantPN66T Variant = iota
	// VariantPN80T: only the SPI path touches ese_power_request
	VariantPN80T
)

func (v Variant) String() string {
	switch v {
	case VariantPN66T:
		return "pn66t"
	case VariantPN80T:
		return "pn80t"
	default:
		return "unknown"
	}
}

// Config holds tunables of the core
type Config struct {
	Variant          Variant
	HandshakeTimeout time.Duration
	WakeLockTimeout  time.Duration
	// ServiceName is compared against the first 15 characters of the
	// registering process name.
	ServiceName      string
	LogCallback      LogCallback
	Debug            bool
}

// DefaultConfig returns the stock pn547 timings
func DefaultConfig() Config {
	return Config{
		Variant:          VariantPN66T,
		HandshakeTimeout: 100 * time.Millisecond,
		WakeLockTimeout:  2 * time.Second,
		ServiceName:      "com.android.nfc",
	}
}

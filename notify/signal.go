// Package notify delivers core events to the NFC service process and
// provides the process and power helpers the core depends on.
package notify

import (
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	hal "github.com/librescoot/pn547"
)

const (
	// SigNFC is the real time signal carrying events
	SigNFC = unix.Signal(44)

	siginfoSize = 128
	siQueue     = -1
)

// The siginfo union follows three ints and is pointer aligned: offset 16
// on 64-bit hosts, 12 on 32-bit ones.
var siginfoUnion = 12 + int(unsafe.Sizeof(uintptr(0))) - 4

// Signal queues SigNFC to the target with the event as si_int, the way the
// service's signal handler expects it.
type Signal struct {
	Sig unix.Signal
}

// NewSignal returns a notifier using SigNFC.
func NewSignal() *Signal {
	return &Signal{Sig: SigNFC}
}

var _ hal.Notifier = (*Signal)(nil)

func buildSiginfo(sig unix.Signal, event hal.Event) [siginfoSize]byte {
	var info [siginfoSize]byte
	ne := binary.NativeEndian
	ne.PutUint32(info[0:], uint32(sig))
	code := int32(siQueue)
	ne.PutUint32(info[8:], uint32(code))
	ne.PutUint32(info[siginfoUnion:], uint32(os.Getpid()))
	ne.PutUint32(info[siginfoUnion+4:], uint32(os.Getuid()))
	ne.PutUint32(info[siginfoUnion+8:], uint32(event))
	return info
}

// Notify implements hal.Notifier
func (s *Signal) Notify(pid int, event hal.Event) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	info := buildSiginfo(s.Sig, event)
	_, _, errno := unix.Syscall(
		unix.SYS_RT_SIGQUEUEINFO,
		uintptr(pid),
		uintptr(s.Sig),
		uintptr(unsafe.Pointer(&info[0])),
	)
	if errno != 0 {
		return fmt.Errorf("queue signal %d to %d: %w", s.Sig, pid, errno)
	}
	return nil
}

package notify

import (
	"encoding/binary"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hal "github.com/librescoot/pn547"
)

func TestSiginfoLayout(t *testing.T) {
	if unsafe.Sizeof(uintptr(0)) != 8 {
		t.Skip("layout below is the 64-bit one")
	}
	info := buildSiginfo(SigNFC, hal.EventSPIPriorityEnd)
	ne := binary.NativeEndian
	assert.Equal(t, uint32(44), ne.Uint32(info[0:]))
	assert.Equal(t, int32(-1), int32(ne.Uint32(info[8:])))
	assert.Equal(t, uint32(os.Getpid()), ne.Uint32(info[16:]))
	assert.Equal(t, uint32(hal.EventSPIPriorityEnd), ne.Uint32(info[24:]))
}

func TestSignalToSelf(t *testing.T) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, SigNFC)
	defer signal.Stop(ch)

	require.NoError(t, NewSignal().Notify(os.Getpid(), hal.EventSPI))
	select {
	case sig := <-ch:
		assert.Equal(t, SigNFC, sig)
	case <-time.After(time.Second):
		t.Fatal("signal not delivered")
	}
}

func TestSignalRejectsBadPID(t *testing.T) {
	assert.Error(t, NewSignal().Notify(0, hal.EventSPI))
}

func TestProcResolver(t *testing.T) {
	name, err := ProcResolver{}.ProcessName(os.Getpid())
	require.NoError(t, err)
	assert.NotEmpty(t, name)

	_, err = ProcResolver{}.ProcessName(1<<22 + 100)
	assert.Error(t, err)
}

func TestSysfsWakeLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wake_lock")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	wl := NewSysfsWakeLock(path, "nfc_wake_lock", nil)
	wl.Acquire(2 * time.Second)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "nfc_wake_lock 2000000000", string(got))
}

func TestSysfsWakeLockWarnsOnce(t *testing.T) {
	var (
		mu    sync.Mutex
		warns int
	)
	log := func(level hal.LogLevel, msg string) {
		mu.Lock()
		warns++
		mu.Unlock()
	}
	wl := NewSysfsWakeLock(filepath.Join(t.TempDir(), "missing", "wake_lock"), "nfc", log)
	wl.Acquire(time.Second)
	wl.Acquire(time.Second)
	assert.Equal(t, 1, warns)
}

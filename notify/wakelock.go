package notify

import (
	"fmt"
	"os"
	"sync"
	"time"

	hal "github.com/librescoot/pn547"
)

// DefaultWakeLockPath is the Android user space wake lock interface
const DefaultWakeLockPath = "/sys/power/wake_lock"

// SysfsWakeLock takes a timed wake lock by writing "name timeout_ns".
type SysfsWakeLock struct {
	Path string
	Name string
	Log  hal.LogCallback

	mu     sync.Mutex
	warned bool
}

func NewSysfsWakeLock(path, name string, log hal.LogCallback) *SysfsWakeLock {
	if path == "" {
		path = DefaultWakeLockPath
	}
	return &SysfsWakeLock{Path: path, Name: name, Log: log}
}

var _ hal.WakeLock = (*SysfsWakeLock)(nil)

// Acquire implements hal.WakeLock. Failures are logged once and otherwise
// ignored, a missing wake lock interface only means the host may suspend.
func (w *SysfsWakeLock) Acquire(timeout time.Duration) {
	err := os.WriteFile(w.Path, []byte(fmt.Sprintf("%s %d", w.Name, timeout.Nanoseconds())), 0)
	if err == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.warned && w.Log != nil {
		w.Log(hal.LogLevelWarning, fmt.Sprintf("wake lock %s: %v", w.Path, err))
	}
	w.warned = true
}

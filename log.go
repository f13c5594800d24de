package hal

import (
	"encoding/hex"
	"fmt"
)

type logger struct {
	cb    LogCallback
	debug bool
}

func (l logger) logf(level LogLevel, format string, args ...any) {
	if l.cb == nil {
		return
	}
	if level == LogLevelDebug && !l.debug {
		return
	}
	l.cb(level, fmt.Sprintf(format, args...))
}

func (l logger) logFrame(direction string, buf []byte) {
	if !l.debug || l.cb == nil {
		return
	}
	l.cb(LogLevelDebug, fmt.Sprintf("NCI %s: %s", direction, hex.EncodeToString(buf)))
}

package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"

	hal "github.com/librescoot/pn547"
	"github.com/librescoot/pn547/config"
)

// logSink formats core log callbacks for a terminal or a rotated file.
type logSink struct {
	mu    sync.Mutex
	out   io.Writer
	level hal.LogLevel
	color bool
	file  *lumberjack.Logger
}

var levelColors = map[hal.LogLevel]*color.Color{
	hal.LogLevelError:   color.New(color.FgRed, color.Bold),
	hal.LogLevelWarning: color.New(color.FgYellow),
	hal.LogLevelInfo:    color.New(color.FgGreen),
	hal.LogLevelDebug:   color.New(color.FgCyan),
}

func newLogSink(cfg config.LogConfig) (*logSink, error) {
	level, err := hal.ParseLogLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	s := &logSink{level: level}
	if cfg.File != "" {
		s.file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		s.out = s.file
		return s, nil
	}
	usecolor := (isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())) && os.Getenv("TERM") != "dumb"
	s.color = usecolor && !cfg.NoColor
	if s.color {
		s.out = colorable.NewColorableStderr()
	} else {
		s.out = os.Stderr
	}
	return s, nil
}

// Log is a hal.LogCallback
func (s *logSink) Log(level hal.LogLevel, message string) {
	if level > s.level || level == hal.LogLevelNone {
		return
	}
	tag := fmt.Sprintf("%-5.5s", level)
	if c, ok := levelColors[level]; ok && s.color {
		tag = c.Sprint(tag)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "%s [%s] %s\n", time.Now().Format("01-02|15:04:05.000"), tag, message)
}

func (s *logSink) Logf(level hal.LogLevel, format string, args ...any) {
	s.Log(level, fmt.Sprintf(format, args...))
}

func (s *logSink) Close() error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

package hal

import (
	"fmt"
	"sync/atomic"
	"time"
)

const (
	// comm names are truncated to this many characters by the kernel
	processNameLen = 15

	svddReleaseTries = 9
	svddReleasePoll  = 10 * time.Millisecond
)

// crossSync talks to the user space NFC service: event dispatch plus the
// SVDD and DWP handshakes. None of its entry points touch the arbitrator
// mutex.
type crossSync struct {
	notifier    Notifier
	resolver    ProcessResolver
	serviceName string
	timeout     time.Duration
	sleep       func(time.Duration)
	log         logger

	pid atomic.Int64

	svdd        *Completion
	svddWaiting atomic.Bool
	dwp         *Completion
}

func newCrossSync(cfg Config, hw Hardware, log logger) *crossSync {
	return &crossSync{
		notifier:    hw.Notifier,
		resolver:    hw.Resolver,
		serviceName: cfg.ServiceName,
		timeout:     cfg.HandshakeTimeout,
		sleep:       hw.Sleep,
		log:         log,
		svdd:        NewCompletion(),
		dwp:         NewCompletion(),
	}
}

func (s *crossSync) clientPID() int {
	return int(s.pid.Load())
}

// register validates pid against the expected service name. A pid that
// cannot be resolved or carries another name clears the registration.
func (s *crossSync) register(pid int) {
	if pid == 0 {
		s.pid.Store(0)
		s.log.logf(LogLevelInfo, "NFC service unregistered")
		return
	}
	if s.resolver != nil {
		name, err := s.resolver.ProcessName(pid)
		switch {
		case err != nil:
			s.log.logf(LogLevelWarning, "cannot resolve pid %d: %v", pid, err)
			pid = 0
		case !matchServiceName(name, s.serviceName):
			s.log.logf(LogLevelInfo, "pid %d is not the nfc service: %s", pid, name)
			pid = 0
		}
	}
	s.pid.Store(int64(pid))
	s.log.logf(LogLevelInfo, "NFC service pid is %d", pid)
}

func matchServiceName(name, expected string) bool {
	if len(expected) > processNameLen {
		expected = expected[:processNameLen]
	}
	if len(name) > processNameLen {
		name = name[:processNameLen]
	}
	return name == expected
}

// dispatch delivers evt to the registered client.
func (s *crossSync) dispatch(evt Event) error {
	pid := s.clientPID()
	if pid == 0 {
		return NewPermissionDeniedError("no nfc service registered", nil)
	}
	if s.notifier == nil {
		return NewPermissionDeniedError("no notifier configured", nil)
	}
	s.log.logf(LogLevelDebug, "notify pid %d: %s", pid, evt)
	if err := s.notifier.Notify(pid, evt); err != nil {
		return NewPermissionDeniedError(fmt.Sprintf("notify pid %d", pid), err)
	}
	return nil
}

// notify is dispatch for callers that do not wait for an answer.
func (s *crossSync) notify(evt Event) {
	if err := s.dispatch(evt); err != nil {
		s.log.logf(LogLevelWarning, "signal %s: %v", evt, err)
	}
}

// svddHandshake asks the client to quiesce (or resume) its use of the eSE
// rail and waits for ReleaseSVDDWait. A timeout is logged and ignored.
func (s *crossSync) svddHandshake(evt Event) {
	s.svdd.Reinit()
	s.svddWaiting.Store(true)
	defer s.svddWaiting.Store(false)

	if err := s.dispatch(evt); err != nil {
		s.log.logf(LogLevelInfo, "svdd handshake %s skipped: %v", evt, err)
		return
	}
	if !s.svdd.Wait(s.timeout) {
		s.log.logf(LogLevelWarning, "svdd handshake %s: %v", evt,
			NewTimeoutError(fmt.Sprintf("no answer within %v", s.timeout)))
		return
	}
	s.log.logf(LogLevelDebug, "svdd handshake %s released", evt)
}

// dwpHandshake announces an SPI session to the client and waits for
// ReleaseDWPWait.
func (s *crossSync) dwpHandshake(evt Event) {
	s.dwp.Reinit()
	if err := s.dispatch(evt); err != nil {
		s.log.logf(LogLevelInfo, "dwp handshake %s skipped: %v", evt, err)
		return
	}
	if !s.dwp.Wait(s.timeout) {
		s.log.logf(LogLevelWarning, "dwp handshake %s: %v", evt,
			NewTimeoutError(fmt.Sprintf("no answer within %v", s.timeout)))
		return
	}
	s.log.logf(LogLevelDebug, "dwp handshake %s released", evt)
}

// releaseSVDD completes a pending SVDD handshake. The waiter may not have
// armed yet, so poll for it briefly.
func (s *crossSync) releaseSVDD() {
	for i := 0; i < svddReleaseTries; i++ {
		if s.svddWaiting.CompareAndSwap(true, false) {
			s.svdd.Complete()
			return
		}
		s.sleep(svddReleasePoll)
	}
	s.log.logf(LogLevelDebug, "release svdd wait: nobody waiting")
}

func (s *crossSync) releaseDWP() {
	s.dwp.Complete()
}

package ctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/sys/unix"

	hal "github.com/librescoot/pn547"
)

const eventWriteTimeout = time.Second

// Server serves one device to any number of connections. At most one of
// them holds the data session at a time.
type Server struct {
	dev *hal.Device
	log hal.LogCallback

	mu      sync.Mutex
	conns   map[*serverConn]struct{}
	service *serverConn
}

// NewServer returns a server for dev. It also implements hal.Notifier and
// can be installed as the device's notifier through a hal.NotifierFunc.
func NewServer(dev *hal.Device, log hal.LogCallback) *Server {
	return &Server{
		dev:   dev,
		log:   log,
		conns: make(map[*serverConn]struct{}),
	}
}

var _ hal.Notifier = (*Server)(nil)

func (s *Server) logf(level hal.LogLevel, format string, args ...any) {
	if s.log != nil {
		s.log(level, fmt.Sprintf(format, args...))
	}
}

// Listen creates the socket at path, replacing a stale one.
func Listen(path string) (*net.UnixListener, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o660); err != nil {
		ln.Close()
		return nil, err
	}
	return ln, nil
}

// Serve accepts connections until ctx is done or the listener fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handle(ctx, c)
		}()
	}
}

type serverConn struct {
	conn net.Conn
	pid  int

	encMu sync.Mutex
	enc   *cbor.Encoder

	sessMu  sync.Mutex
	session *hal.Session
}

func (c *serverConn) send(resp Response) error {
	c.encMu.Lock()
	defer c.encMu.Unlock()
	return c.enc.Encode(resp)
}

func (c *serverConn) sendEvent(evt hal.Event) error {
	c.encMu.Lock()
	defer c.encMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
	defer c.conn.SetWriteDeadline(time.Time{})
	return c.enc.Encode(Response{Event: uint32(evt)})
}

func (c *serverConn) currentSession() *hal.Session {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	return c.session
}

func (c *serverConn) closeSession() error {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}

func peerPID(c net.Conn) (int, error) {
	uc, ok := c.(*net.UnixConn)
	if !ok {
		return 0, errors.New("not a unix socket")
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var (
		cred *unix.Ucred
		cerr error
	)
	if err := raw.Control(func(fd uintptr) {
		cred, cerr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return 0, err
	}
	if cerr != nil {
		return 0, cerr
	}
	return int(cred.Pid), nil
}

func (s *Server) handle(ctx context.Context, c net.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	pid, err := peerPID(c)
	if err != nil {
		s.logf(hal.LogLevelWarning, "peer credentials: %v", err)
	}
	sc := &serverConn{conn: c, pid: pid, enc: encMode.NewEncoder(c)}

	s.mu.Lock()
	s.conns[sc] = struct{}{}
	s.mu.Unlock()
	s.logf(hal.LogLevelDebug, "client connected, pid %d", pid)

	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		if err := sc.closeSession(); err != nil {
			s.logf(hal.LogLevelWarning, "close session of pid %d: %v", pid, err)
		}
		s.mu.Lock()
		delete(s.conns, sc)
		if s.service == sc {
			s.service = nil
		}
		s.mu.Unlock()
		c.Close()
		s.logf(hal.LogLevelDebug, "client disconnected, pid %d", pid)
	}()

	dec := decMode.NewDecoder(c)
	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.logf(hal.LogLevelWarning, "decode request from pid %d: %v", pid, err)
			}
			return
		}
		if req.ID == 0 {
			s.logf(hal.LogLevelWarning, "request without id from pid %d", pid)
			continue
		}
		// requests run concurrently so a blocked read never holds up the
		// cancel or handshake release that would unblock it
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := s.dispatch(ctx, sc, req)
			resp.ID = req.ID
			if err := sc.send(resp); err != nil && ctx.Err() == nil {
				s.logf(hal.LogLevelWarning, "send response to pid %d: %v", pid, err)
			}
		}()
	}
}

func errResponse(err error) Response {
	return Response{Errno: int32(hal.Errno(err)), Error: err.Error()}
}

func (s *Server) dispatch(ctx context.Context, sc *serverConn, req Request) Response {
	s.logf(hal.LogLevelDebug, "pid %d: %s", sc.pid, req.Op)
	switch req.Op {
	case OpOpen:
		sc.sessMu.Lock()
		defer sc.sessMu.Unlock()
		if sc.session != nil {
			return Response{}
		}
		sess, err := s.dev.Open()
		if err != nil {
			return errResponse(err)
		}
		sc.session = sess
		return Response{}

	case OpClose:
		if err := sc.closeSession(); err != nil {
			return errResponse(err)
		}
		return Response{}

	case OpRead:
		sess := sc.currentSession()
		if sess == nil {
			return errResponse(hal.NewNotPermittedError("no open session"))
		}
		data, err := sess.Read(ctx, req.MaxLen, !req.NonBlocking)
		if err != nil {
			return errResponse(err)
		}
		return Response{Data: data, Value: int64(len(data))}

	case OpWrite:
		sess := sc.currentSession()
		if sess == nil {
			return errResponse(hal.NewNotPermittedError("no open session"))
		}
		n, err := sess.Write(req.Data)
		if err != nil {
			return errResponse(err)
		}
		return Response{Value: int64(n)}

	case OpControl:
		v, err := s.dev.Control(hal.Command(req.Cmd), req.Arg)
		if err != nil {
			return errResponse(err)
		}
		if hal.Command(req.Cmd) == hal.CmdSetServicePID {
			s.trackService(sc)
		}
		return Response{Value: v}

	case OpStatus:
		return Response{Status: s.status()}

	case OpSelfTest:
		res, err := s.dev.SelfTest(ctx)
		if err != nil {
			return errResponse(err)
		}
		return Response{Data: res.Raw, Value: int64(res.NCIVersion)}
	}
	return errResponse(hal.NewBadRequestError(fmt.Sprintf("unknown op %s", req.Op)))
}

func (s *Server) status() *Status {
	lines := s.dev.LineState()
	irq := s.dev.IRQ()
	stats := irq.Stats()
	return &Status{
		State:     s.dev.PowerStatus().Bits(),
		ClientPID: s.dev.ClientPID(),
		Ven:       lines.Ven,
		Firm:      lines.Firm,
		EsePower:  lines.EsePower,
		NFCVen:    lines.NFCVen,
		SPIVen:    lines.SPIVen,
		IRQOn:     irq.Enabled(),
		IRQEdges:  stats.Edges,
		Spurious:  stats.Spurious,
		TokenHeld: s.dev.TokenHeld(),
	}
}

// trackService makes sc the event connection if its registration was
// accepted, and forgets it if it registered someone else or nobody.
func (s *Server) trackService(sc *serverConn) {
	pid := s.dev.ClientPID()
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case pid != 0 && pid == sc.pid:
		s.service = sc
	case s.service == sc:
		s.service = nil
	}
}

// Notify implements hal.Notifier by pushing the event to the connection
// that registered pid as NFC service.
func (s *Server) Notify(pid int, event hal.Event) error {
	s.mu.Lock()
	target := s.service
	s.mu.Unlock()
	if target == nil || target.pid != pid {
		return fmt.Errorf("no service connection for pid %d", pid)
	}
	return target.sendEvent(event)
}

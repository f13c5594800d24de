package ctl

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/sys/unix"

	hal "github.com/librescoot/pn547"
)

// ErrClosed is returned for calls on a closed or broken connection.
var ErrClosed = errors.New("ctl: connection closed")

// Client is a connection to the control socket. It is safe for concurrent
// use; pushed events are delivered on Events.
type Client struct {
	conn net.Conn

	encMu sync.Mutex
	enc   *cbor.Encoder

	nextID atomic.Uint32

	mu      sync.Mutex
	pending map[uint32]chan Response
	err     error

	events chan hal.Event
	done   chan struct{}
}

// Dial connects to the socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, err
	}
	return newClient(conn), nil
}

func newClient(conn net.Conn) *Client {
	c := &Client{
		conn:    conn,
		enc:     encMode.NewEncoder(conn),
		pending: make(map[uint32]chan Response),
		events:  make(chan hal.Event, 16),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)
	dec := decMode.NewDecoder(c.conn)
	for {
		var resp Response
		if err := dec.Decode(&resp); err != nil {
			c.fail(err)
			return
		}
		if resp.ID == 0 {
			select {
			case c.events <- hal.Event(resp.Event):
			default:
				// nobody listening, drop
			}
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = fmt.Errorf("%w: %v", ErrClosed, err)
	}
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Client) call(ctx context.Context, req Request) (Response, error) {
	req.ID = c.nextID.Add(1)
	if req.ID == 0 {
		req.ID = c.nextID.Add(1)
	}
	ch := make(chan Response, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return Response{}, err
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	c.encMu.Lock()
	err := c.enc.Encode(req)
	c.encMu.Unlock()
	if err != nil {
		c.forget(req.ID)
		return Response{}, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			c.mu.Lock()
			err := c.err
			c.mu.Unlock()
			return Response{}, err
		}
		if resp.Errno != 0 {
			return resp, hal.ErrnoError(unix.Errno(resp.Errno), resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		c.forget(req.ID)
		return Response{}, ctx.Err()
	}
}

func (c *Client) forget(id uint32) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Events returns pushed events. The channel is closed with the connection.
func (c *Client) Events() <-chan hal.Event {
	return c.events
}

// Open claims the data session.
func (c *Client) Open(ctx context.Context) error {
	_, err := c.call(ctx, Request{Op: OpOpen})
	return err
}

// CloseSession gives the data session back.
func (c *Client) CloseSession(ctx context.Context) error {
	_, err := c.call(ctx, Request{Op: OpClose})
	return err
}

func (c *Client) Read(ctx context.Context, maxLen int, blocking bool) ([]byte, error) {
	resp, err := c.call(ctx, Request{Op: OpRead, MaxLen: maxLen, NonBlocking: !blocking})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) Write(ctx context.Context, p []byte) (int, error) {
	resp, err := c.call(ctx, Request{Op: OpWrite, Data: p})
	if err != nil {
		return 0, err
	}
	return int(resp.Value), nil
}

// Control issues a raw control request.
func (c *Client) Control(ctx context.Context, cmd hal.Command, arg uint64) (int64, error) {
	resp, err := c.call(ctx, Request{Op: OpControl, Cmd: uint32(cmd), Arg: arg})
	if err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// PowerStatus reads the access state.
func (c *Client) PowerStatus(ctx context.Context) (hal.AccessState, error) {
	v, err := c.Control(ctx, hal.CmdGetPowerStatus, 0)
	if err != nil {
		return hal.Idle, err
	}
	return hal.StateFromBits(uint32(v))
}

// Register announces this process as the NFC service.
func (c *Client) Register(ctx context.Context) error {
	_, err := c.Control(ctx, hal.CmdSetServicePID, uint64(os.Getpid()))
	return err
}

func (c *Client) Status(ctx context.Context) (*Status, error) {
	resp, err := c.call(ctx, Request{Op: OpStatus})
	if err != nil {
		return nil, err
	}
	if resp.Status == nil {
		return nil, errors.New("ctl: empty status")
	}
	return resp.Status, nil
}

// SelfTest runs the CORE_RESET round trip and returns the raw response.
func (c *Client) SelfTest(ctx context.Context) ([]byte, error) {
	resp, err := c.call(ctx, Request{Op: OpSelfTest})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Close drops the connection. The server closes the session with it.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}

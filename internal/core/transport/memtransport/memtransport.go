// Package memtransport provides an in-memory Transport for tests. Frames are
// pushed by the test and control frames written by the client are recorded.
package memtransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/colonyops/shopwire/internal/core/transport"
	"github.com/colonyops/shopwire/internal/core/wire"
)

// ErrDialRefused is returned by Dial while failures are configured.
var ErrDialRefused = errors.New("memtransport: connection refused")

// Transport is an in-memory transport.
type Transport struct {
	mu       sync.Mutex
	conns    []*Conn
	dials    int
	failures int // remaining dial failures, -1 means always fail
}

var _ transport.Transport = (*Transport)(nil)

// New creates an in-memory transport that accepts every dial.
func New() *Transport {
	return &Transport{}
}

// Name implements transport.Transport.
func (t *Transport) Name() string { return "memory" }

// FailDials makes the next n dials fail. A negative n fails forever.
func (t *Transport) FailDials(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = n
}

// Dial implements transport.Transport.
func (t *Transport) Dial(ctx context.Context) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.dials++
	if t.failures != 0 {
		if t.failures > 0 {
			t.failures--
		}
		return nil, ErrDialRefused
	}

	c := &Conn{
		id:     fmt.Sprintf("mem-%d", t.dials),
		in:     make(chan []byte, 256),
		closed: make(chan struct{}),
	}
	t.conns = append(t.conns, c)
	return c, nil
}

// Dials returns the number of dial attempts so far.
func (t *Transport) Dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

// Current returns the most recently opened connection, or nil.
func (t *Transport) Current() *Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

// Conns returns every connection opened so far.
func (t *Transport) Conns() []*Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Conn, len(t.conns))
	copy(out, t.conns)
	return out
}

// WaitForConn blocks until at least n connections were opened.
func (t *Transport) WaitForConn(n int, timeout time.Duration) *Conn {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		t.mu.Lock()
		if len(t.conns) >= n {
			c := t.conns[n-1]
			t.mu.Unlock()
			return c
		}
		t.mu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	return nil
}

// Conn is an in-memory connection.
type Conn struct {
	id     string
	in     chan []byte
	closed chan struct{}

	mu       sync.Mutex
	written  []wire.Control
	dropErr  error
	isClosed bool
}

var _ transport.Conn = (*Conn)(nil)

// SessionID implements transport.Conn.
func (c *Conn) SessionID() string { return c.id }

// Read implements transport.Conn.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	select {
	case raw := <-c.in:
		return raw, nil
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.dropErr != nil {
			return nil, c.dropErr
		}
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write implements transport.Conn. Frames are decoded and recorded.
func (c *Conn) Write(_ context.Context, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed {
		return transport.ErrClosed
	}
	var ctl wire.Control
	if err := json.Unmarshal(frame, &ctl); err != nil {
		return err
	}
	c.written = append(c.written, ctl)
	return nil
}

// Close implements transport.Conn.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isClosed {
		c.isClosed = true
		close(c.closed)
	}
	return nil
}

// Push delivers a raw frame to the client.
func (c *Conn) Push(raw string) {
	c.in <- []byte(raw)
}

// PushJSON marshals v and delivers it to the client.
func (c *Conn) PushJSON(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.in <- raw
	return nil
}

// Drop simulates the server closing the connection unexpectedly.
func (c *Conn) Drop() {
	c.mu.Lock()
	c.dropErr = errors.New("memtransport: connection reset by peer")
	c.mu.Unlock()
	_ = c.Close()
}

// Closed reports whether the connection was closed by either side.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isClosed
}

// Written returns the control frames written by the client.
func (c *Conn) Written() []wire.Control {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wire.Control, len(c.written))
	copy(out, c.written)
	return out
}

// WrittenAction returns the channels written with the given action, in order.
func (c *Conn) WrittenAction(action wire.Action) []string {
	var out []string
	for _, ctl := range c.Written() {
		if ctl.Action == action {
			out = append(out, ctl.Channel)
		}
	}
	return out
}

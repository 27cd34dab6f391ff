// Package wstransport is the push transport: one websocket per session.
package wstransport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/colonyops/shopwire/internal/core/transport"
)

// SessionHeader is the handshake response header carrying the server session ID.
const SessionHeader = "X-Session-Id"

// Options configures the websocket transport.
type Options struct {
	URL              string
	Header           http.Header
	Token            transport.TokenSource
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// Transport dials websocket sessions.
type Transport struct {
	opts   Options
	dialer *websocket.Dialer
}

var _ transport.Transport = (*Transport)(nil)

// New creates a websocket transport.
func New(opts Options) *Transport {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &Transport{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
	}
}

// Name implements transport.Transport.
func (t *Transport) Name() string { return "websocket" }

// Dial implements transport.Transport.
func (t *Transport) Dial(ctx context.Context) (transport.Conn, error) {
	header := t.opts.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	auth, err := transport.BearerToken(ctx, t.opts.Token)
	if err != nil {
		return nil, fmt.Errorf("resolve token: %w", err)
	}
	if auth != "" {
		header.Set("Authorization", auth)
	}

	conn, resp, err := t.dialer.DialContext(ctx, t.opts.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", t.opts.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", t.opts.URL, err)
	}

	sessionID := ""
	if resp != nil {
		sessionID = resp.Header.Get(SessionHeader)
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	return &wsConn{
		conn:         conn,
		sessionID:    sessionID,
		writeTimeout: t.opts.WriteTimeout,
	}, nil
}

type wsConn struct {
	conn         *websocket.Conn
	sessionID    string
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    bool
}

func (c *wsConn) SessionID() string { return c.sessionID }

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	// gorilla reads are not context aware; an expired deadline unblocks them.
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil, errors.Join(transport.ErrClosed, err)
			}
			return nil, err
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) Write(ctx context.Context, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.closed = true
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

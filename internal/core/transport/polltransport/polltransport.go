// Package polltransport is the fallback transport for networks that block
// websockets. A session is opened over HTTP, inbound frames are fetched by
// polling, and control frames are posted.
//
// Server contract:
//
//	POST   {base}/session                       -> {"session_id": "..."}
//	GET    {base}/events?session_id=&cursor=    -> {"cursor": "...", "frames": [...]}
//	POST   {base}/control?session_id=           <- control frame
//	DELETE {base}/session?session_id=
//
// A 410 response to a poll means the server dropped the session.
package polltransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/colonyops/shopwire/internal/core/transport"
	"github.com/colonyops/shopwire/internal/core/wire"
)

// ErrSessionExpired is returned by Read when the server no longer knows the session.
var ErrSessionExpired = errors.New("polltransport: session expired")

// Options configures the poll transport.
type Options struct {
	BaseURL        string
	Interval       time.Duration
	RequestTimeout time.Duration
	Token          transport.TokenSource
	Client         *fasthttp.Client
}

// Transport opens polling sessions.
type Transport struct {
	opts Options
}

var _ transport.Transport = (*Transport)(nil)

// New creates a poll transport.
func New(opts Options) *Transport {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.Client == nil {
		opts.Client = &fasthttp.Client{
			Name:                "shopwire",
			MaxIdleConnDuration: time.Minute,
		}
	}
	return &Transport{opts: opts}
}

// Name implements transport.Transport.
func (t *Transport) Name() string { return "poll" }

type sessionResponse struct {
	SessionID string `json:"session_id"`
}

type pollResponse struct {
	Cursor string            `json:"cursor"`
	Frames []json.RawMessage `json:"frames"`
}

// Dial implements transport.Transport.
func (t *Transport) Dial(ctx context.Context) (transport.Conn, error) {
	c := &pollConn{
		opts:   t.opts,
		closed: make(chan struct{}),
	}

	status, body, err := c.do(ctx, fasthttp.MethodPost, "/session", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	if status != fasthttp.StatusOK && status != fasthttp.StatusCreated {
		return nil, fmt.Errorf("open session: unexpected status %d", status)
	}

	var sr sessionResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if sr.SessionID == "" {
		return nil, errors.New("open session: server returned no session_id")
	}
	c.sessionID = sr.SessionID
	return c, nil
}

type pollConn struct {
	opts      Options
	sessionID string

	mu      sync.Mutex
	pending [][]byte
	cursor  string
	polled  bool

	closeOnce sync.Once
	closed    chan struct{}
}

func (c *pollConn) SessionID() string { return c.sessionID }

func (c *pollConn) Read(ctx context.Context) ([]byte, error) {
	for {
		select {
		case <-c.closed:
			return nil, transport.ErrClosed
		default:
		}

		if frame, ok := c.pop(); ok {
			return frame, nil
		}

		c.mu.Lock()
		first := !c.polled
		c.polled = true
		c.mu.Unlock()

		if !first {
			timer := time.NewTimer(c.opts.Interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-c.closed:
				timer.Stop()
				return nil, transport.ErrClosed
			case <-timer.C:
			}
		}

		if err := c.poll(ctx); err != nil {
			return nil, err
		}
	}
}

func (c *pollConn) poll(ctx context.Context) error {
	c.mu.Lock()
	query := url.Values{"session_id": {c.sessionID}, "cursor": {c.cursor}}
	c.mu.Unlock()

	status, body, err := c.do(ctx, fasthttp.MethodGet, "/events", query, nil)
	if err != nil {
		return err
	}
	switch {
	case status == fasthttp.StatusGone:
		return ErrSessionExpired
	case status == fasthttp.StatusNoContent:
		return nil
	case status != fasthttp.StatusOK:
		return fmt.Errorf("poll events: unexpected status %d", status)
	}

	var pr pollResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return fmt.Errorf("decode events: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if pr.Cursor != "" {
		c.cursor = pr.Cursor
	}
	for _, f := range pr.Frames {
		c.pending = append(c.pending, f)
	}
	return nil
}

func (c *pollConn) pop() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return nil, false
	}
	frame := c.pending[0]
	c.pending = c.pending[1:]
	return frame, true
}

func (c *pollConn) push(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, frame)
}

// Write posts a control frame. A successful ping round trip is answered
// locally with a pong so liveness tracking works the same as over websocket.
func (c *pollConn) Write(ctx context.Context, frame []byte) error {
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}

	query := url.Values{"session_id": {c.sessionID}}
	status, _, err := c.do(ctx, fasthttp.MethodPost, "/control", query, frame)
	if err != nil {
		return err
	}
	if status == fasthttp.StatusGone {
		return ErrSessionExpired
	}
	if status < 200 || status > 299 {
		return fmt.Errorf("post control: unexpected status %d", status)
	}

	var ctl wire.Control
	if json.Unmarshal(frame, &ctl) == nil && ctl.Action == wire.ActionPing {
		c.push([]byte(`{"type":"pong"}`))
	}
	return nil
}

func (c *pollConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, _, _ = c.do(ctx, fasthttp.MethodDelete, "/session", url.Values{"session_id": {c.sessionID}}, nil)
	})
	return nil
}

// do performs one request and returns a copy of the response body.
func (c *pollConn) do(ctx context.Context, method, path string, query url.Values, body []byte) (int, []byte, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	uri := c.opts.BaseURL + path
	if len(query) > 0 {
		uri += "?" + query.Encode()
	}
	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	auth, err := transport.BearerToken(ctx, c.opts.Token)
	if err != nil {
		return 0, nil, fmt.Errorf("resolve token: %w", err)
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	deadline := time.Now().Add(c.opts.RequestTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.opts.Client.DoDeadline(req, resp, deadline); err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	out := make([]byte, len(resp.Body()))
	copy(out, resp.Body())
	return resp.StatusCode(), out, nil
}

// Package redistransport bridges a redis pub/sub deployment to the client.
// Back-office consoles that sit next to the broker use it instead of the
// public websocket gateway. Topics map one to one onto redis channels; glob
// topics use PSUBSCRIBE.
package redistransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/colonyops/shopwire/internal/core/transport"
	"github.com/colonyops/shopwire/internal/core/wire"
)

const receivePoll = 500 * time.Millisecond

// Options configures the redis transport.
type Options struct {
	Addr     string
	Username string
	Password string
	DB       int
	// Prefix is prepended to every topic to form the redis channel name.
	Prefix string
}

// Transport opens redis pub/sub sessions.
type Transport struct {
	opts   Options
	client *redis.Client
}

var _ transport.Transport = (*Transport)(nil)

// New creates a redis transport. The underlying client is shared by every
// connection and released by Close.
func New(opts Options) *Transport {
	return &Transport{
		opts: opts,
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Username: opts.Username,
			Password: opts.Password,
			DB:       opts.DB,
		}),
	}
}

// Name implements transport.Transport.
func (t *Transport) Name() string { return "redis" }

// Close releases the shared client.
func (t *Transport) Close() error { return t.client.Close() }

// Dial implements transport.Transport.
func (t *Transport) Dial(ctx context.Context) (transport.Conn, error) {
	if err := t.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &conn{
		id:     uuid.NewString(),
		prefix: t.opts.Prefix,
		ps:     t.client.Subscribe(ctx),
	}, nil
}

type conn struct {
	id     string
	prefix string
	ps     *redis.PubSub

	mu     sync.Mutex
	closed bool
}

func (c *conn) SessionID() string { return c.id }

func (c *conn) Read(ctx context.Context) ([]byte, error) {
	for {
		if c.isClosed() {
			return nil, transport.ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msg, err := c.ps.ReceiveTimeout(ctx, receivePoll)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if c.isClosed() {
				return nil, transport.ErrClosed
			}
			return nil, err
		}

		switch m := msg.(type) {
		case *redis.Message:
			return c.frame(m)
		case *redis.Pong:
			return []byte(`{"type":"pong"}`), nil
		case *redis.Subscription:
			// subscribe/unsubscribe confirmations
			continue
		}
	}
}

// frame returns the message payload, adding the topic from the channel name
// when the publisher omitted it.
func (c *conn) frame(m *redis.Message) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(m.Payload), &fields); err != nil {
		// let the dispatcher count it as malformed
		return []byte(m.Payload), nil
	}
	if _, ok := fields["topic"]; ok {
		return []byte(m.Payload), nil
	}

	topic, _ := json.Marshal(c.topic(m.Channel))
	fields["topic"] = topic
	return json.Marshal(fields)
}

func (c *conn) topic(channel string) string {
	if len(channel) >= len(c.prefix) && channel[:len(c.prefix)] == c.prefix {
		return channel[len(c.prefix):]
	}
	return channel
}

func (c *conn) Write(ctx context.Context, frame []byte) error {
	if c.isClosed() {
		return transport.ErrClosed
	}

	var ctl wire.Control
	if err := json.Unmarshal(frame, &ctl); err != nil {
		return fmt.Errorf("decode control: %w", err)
	}

	channel := c.prefix + ctl.Channel
	pattern := wire.IsPattern(ctl.Channel)

	switch ctl.Action {
	case wire.ActionSubscribe:
		if pattern {
			return c.ps.PSubscribe(ctx, channel)
		}
		return c.ps.Subscribe(ctx, channel)
	case wire.ActionUnsubscribe:
		if pattern {
			return c.ps.PUnsubscribe(ctx, channel)
		}
		return c.ps.Unsubscribe(ctx, channel)
	case wire.ActionPing:
		return c.ps.Ping(ctx)
	default:
		return fmt.Errorf("unsupported control action %q", ctl.Action)
	}
}

func (c *conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.ps.Close()
}

// Package connection owns the single duplex session with the realtime
// server: opening it, keeping it alive, and reopening it with bounded
// backoff when it dies.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/colonyops/shopwire/internal/core/logging"
	"github.com/colonyops/shopwire/internal/core/transport"
	"github.com/colonyops/shopwire/internal/core/wire"
	"github.com/colonyops/shopwire/internal/metrics"
)

var (
	// ErrNotConnected is returned by Send when there is no live session.
	ErrNotConnected = errors.New("connection: not connected")
	// ErrReconnectExhausted marks the terminal error after the reconnect
	// ceiling was reached.
	ErrReconnectExhausted = errors.New("connection: reconnect attempts exhausted")
	// ErrHeartbeatTimeout is the failure reported when the server went silent.
	ErrHeartbeatTimeout = errors.New("connection: heartbeat timeout")
)

// Options configures a Manager.
type Options struct {
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	MaxReconnectDelay    time.Duration
	Backoff              BackoffKind
	// HeartbeatInterval is how often a ping is sent. Zero disables pings and
	// liveness checks.
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	// StableAfter delays the attempts reset until a session has stayed up this
	// long, so a server that accepts and drops at once still exhausts
	// MaxReconnectAttempts. Zero resets on every successful open.
	StableAfter time.Duration

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		MaxReconnectAttempts: 5,
		ReconnectDelay:       time.Second,
		MaxReconnectDelay:    30 * time.Second,
		Backoff:              BackoffExponential,
		HeartbeatInterval:    30 * time.Second,
		HeartbeatTimeout:     75 * time.Second,
		StableAfter:          10 * time.Second,
		Logger:               zerolog.Nop(),
	}
}

// Manager drives one transport through its lifecycle. All methods are safe
// for concurrent use and none of them block on network I/O.
type Manager struct {
	transport transport.Transport
	opts      Options
	log       zerolog.Logger
	metrics   *metrics.Metrics
	signals   *signals

	mu            sync.Mutex
	status        Status
	attempts      int
	sessionID     string
	lastHeartbeat time.Time
	lastErr       error
	conn          transport.Conn
	gen           uint64
	cancel        context.CancelFunc
	done          chan struct{}
	backoff       backoff.BackOff
	onFrame       func(raw []byte)
}

// New creates a disconnected manager for tr.
func New(tr transport.Transport, opts Options) *Manager {
	return &Manager{
		transport: tr,
		opts:      opts,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		signals:   newSignals(),
		backoff:   newBackOff(opts),
	}
}

// SetFrameHandler installs the receiver for non-heartbeat frames. Frames are
// delivered one at a time, in wire order.
func (m *Manager) SetFrameHandler(fn func(raw []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFrame = fn
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Status:          m.status,
		Attempts:        m.attempts,
		SessionID:       m.sessionID,
		LastHeartbeatAt: m.lastHeartbeat,
		LastError:       m.lastErr,
	}
}

// Status returns the current status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Connect starts the session in the background. It is a no-op unless the
// manager is disconnected.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.status != StatusDisconnected {
		m.mu.Unlock()
		return
	}

	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.attempts = 0
	m.lastErr = nil
	m.backoff.Reset()
	from := m.setStatusLocked(StatusConnecting)
	m.mu.Unlock()

	m.log.Debug().Str("transport", m.transport.Name()).Msg("connecting")
	m.emitStatus(from, StatusConnecting)

	go func() {
		defer close(done)
		m.run(ctx, gen)
	}()
}

// Disconnect closes the session deliberately. No reconnect follows.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.status == StatusDisconnected {
		m.mu.Unlock()
		return
	}

	wasConnected := m.status == StatusConnected
	m.gen++
	if m.cancel != nil {
		m.cancel()
	}
	conn := m.conn
	m.conn = nil
	m.sessionID = ""
	from := m.setStatusLocked(StatusDisconnected)
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	m.log.Info().Msg("disconnected")
	m.emitStatus(from, StatusDisconnected)
	if wasConnected {
		m.emitDisconnected(nil)
	}
}

// Wait blocks until the background goroutine of the last Connect exits or
// ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send writes a control frame on the live session.
func (m *Manager) Send(ctx context.Context, ctl wire.Control) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.status == StatusConnected
	m.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}
	return m.write(ctx, conn, ctl)
}

func (m *Manager) write(ctx context.Context, conn transport.Conn, ctl wire.Control) error {
	raw, err := ctl.Encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", ctl.Action, err)
	}
	if err := conn.Write(ctx, raw); err != nil {
		return fmt.Errorf("write %s: %w", ctl.Action, err)
	}
	return nil
}

func (m *Manager) setStatusLocked(to Status) Status {
	from := m.status
	m.status = to
	m.metrics.SetConnectionStatus(int(to))
	return from
}

// run owns one Connect..Disconnect lifetime. gen guards every state change so
// a goroutine outlived by Disconnect cannot touch the next lifetime.
func (m *Manager) run(ctx context.Context, gen uint64) {
	for {
		conn, err := m.transport.Dial(ctx)
		if ctx.Err() != nil {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}

		if err != nil {
			delay, ok := m.fail(gen, fmt.Errorf("open %s: %w", m.transport.Name(), err), false)
			if !ok || !sleep(ctx, delay) {
				return
			}
			continue
		}

		openedAt, ok := m.open(gen, conn)
		if !ok {
			_ = conn.Close()
			return
		}

		err = m.serve(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}

		m.settle(gen, openedAt)
		delay, ok := m.fail(gen, err, true)
		if !ok || !sleep(ctx, delay) {
			return
		}
	}
}

func (m *Manager) open(gen uint64, conn transport.Conn) (time.Time, bool) {
	sessionID := conn.SessionID()
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return time.Time{}, false
	}
	now := time.Now()
	m.conn = conn
	m.sessionID = sessionID
	m.lastHeartbeat = now
	m.lastErr = nil
	if m.opts.StableAfter <= 0 {
		m.attempts = 0
		m.backoff.Reset()
	}
	from := m.setStatusLocked(StatusConnected)
	m.mu.Unlock()

	m.log.Info().Str("session_id", sessionID).Str("transport", m.transport.Name()).Msg("connected")
	m.emitStatus(from, StatusConnected)
	m.emitConnected(sessionID)
	return now, true
}

// settle resets the attempt counter when a session stayed up long enough.
func (m *Manager) settle(gen uint64, openedAt time.Time) {
	if m.opts.StableAfter <= 0 || time.Since(openedAt) < m.opts.StableAfter {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen == gen {
		m.attempts = 0
		m.backoff.Reset()
	}
}

// fail records a failed open or a lost session and returns the delay before
// the next attempt. ok is false when no attempt follows.
func (m *Manager) fail(gen uint64, cause error, wasConnected bool) (delay time.Duration, ok bool) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return 0, false
	}

	m.conn = nil
	m.sessionID = ""
	m.lastErr = cause

	delay = m.backoff.NextBackOff()
	if delay == backoff.Stop {
		attempts := m.attempts
		from := m.setStatusLocked(StatusDisconnected)
		terminal := fmt.Errorf("%w after %d attempts: %w", ErrReconnectExhausted, attempts, cause)
		m.lastErr = terminal
		m.mu.Unlock()

		m.log.Error().Err(cause).Int("attempts", attempts).Msg("giving up on reconnect")
		m.emitStatus(from, StatusDisconnected)
		if wasConnected {
			m.emitDisconnected(cause)
		}
		m.emitError(terminal)
		return 0, false
	}

	m.attempts++
	attempts := m.attempts
	from := m.setStatusLocked(StatusReconnecting)
	m.mu.Unlock()

	m.metrics.ReconnectAttempt()
	m.log.Warn().Err(cause).Int("attempt", attempts).Dur("delay", delay).Msg("connection lost, reconnecting")
	m.emitStatus(from, StatusReconnecting)
	if wasConnected {
		m.emitDisconnected(cause)
	}
	m.emitError(cause)
	return delay, true
}

// serve pumps frames until the session fails. The reader and the heartbeat
// loop share a context so either one ending tears down the other.
func (m *Manager) serve(ctx context.Context, conn transport.Conn) error {
	ctx = logging.WithSession(ctx, m.transport.Name(), conn.SessionID())
	g, gctx := errgroup.WithContext(ctx)

	var lastSeen atomic.Int64
	lastSeen.Store(time.Now().UnixNano())

	g.Go(func() error {
		for {
			raw, err := conn.Read(gctx)
			if err != nil {
				return fmt.Errorf("read: %w", err)
			}

			now := time.Now()
			lastSeen.Store(now.UnixNano())

			typ, _ := wire.PeekType(raw)
			if wire.IsHeartbeat(typ) {
				m.touch(now)
				m.emitHeartbeat(now)
				continue
			}
			m.touch(now)
			m.deliver(raw)
		}
	})

	if m.opts.HeartbeatInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(m.opts.HeartbeatInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-ticker.C:
					silent := time.Since(time.Unix(0, lastSeen.Load()))
					if m.opts.HeartbeatTimeout > 0 && silent > m.opts.HeartbeatTimeout {
						m.log.Warn().Ctx(gctx).Dur("silent", silent).Msg("heartbeat timeout")
						return fmt.Errorf("%w: silent for %s", ErrHeartbeatTimeout, silent.Round(time.Millisecond))
					}
					if err := m.write(gctx, conn, wire.Ping()); err != nil {
						return err
					}
				}
			}
		})
	}

	return g.Wait()
}

func (m *Manager) touch(at time.Time) {
	m.mu.Lock()
	m.lastHeartbeat = at
	m.mu.Unlock()
}

func (m *Manager) deliver(raw []byte) {
	m.mu.Lock()
	fn := m.onFrame
	m.mu.Unlock()
	if fn == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Msg("frame handler panicked")
		}
	}()
	fn(raw)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

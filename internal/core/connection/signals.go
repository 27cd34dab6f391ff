package connection

import (
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// signals holds the listener lists for lifecycle signals. Listeners are
// called synchronously from the manager goroutine that caused the change.
type signals struct {
	mu           sync.RWMutex
	nextID       int
	connected    map[int]func(sessionID string)
	disconnected map[int]func(err error)
	errored      map[int]func(err error)
	heartbeat    map[int]func(at time.Time)
	status       map[int]func(from, to Status)
	order        []int
}

func newSignals() *signals {
	return &signals{
		connected:    map[int]func(string){},
		disconnected: map[int]func(error){},
		errored:      map[int]func(error){},
		heartbeat:    map[int]func(time.Time){},
		status:       map[int]func(Status, Status){},
	}
}

func add[F any](s *signals, m map[int]F, fn F) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	m[id] = fn
	s.order = append(s.order, id)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(m, id)
			s.order = slices.DeleteFunc(s.order, func(x int) bool { return x == id })
			s.mu.Unlock()
		})
	}
}

// snapshot returns the listeners of m in registration order.
func snapshot[F any](s *signals, m map[int]F) []F {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]F, 0, len(m))
	for _, id := range s.order {
		if fn, ok := m[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func emit[F any](log zerolog.Logger, signal string, fns []F, call func(F)) {
	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Str("signal", signal).Interface("panic", r).Msg("signal listener panicked")
				}
			}()
			call(fn)
		}()
	}
}

// OnConnected registers fn to run after every successful open.
func (m *Manager) OnConnected(fn func(sessionID string)) (cancel func()) {
	return add(m.signals, m.signals.connected, fn)
}

// OnDisconnected registers fn to run when a live session ends. err is nil
// for a deliberate Disconnect.
func (m *Manager) OnDisconnected(fn func(err error)) (cancel func()) {
	return add(m.signals, m.signals.disconnected, fn)
}

// OnError registers fn for transport errors. An error wrapping
// ErrReconnectExhausted is terminal.
func (m *Manager) OnError(fn func(err error)) (cancel func()) {
	return add(m.signals, m.signals.errored, fn)
}

// OnHeartbeat registers fn for every heartbeat or pong frame.
func (m *Manager) OnHeartbeat(fn func(at time.Time)) (cancel func()) {
	return add(m.signals, m.signals.heartbeat, fn)
}

// OnStatus registers fn for every status transition.
func (m *Manager) OnStatus(fn func(from, to Status)) (cancel func()) {
	return add(m.signals, m.signals.status, fn)
}

func (m *Manager) emitConnected(sessionID string) {
	emit(m.log, "connected", snapshot(m.signals, m.signals.connected), func(fn func(string)) { fn(sessionID) })
}

func (m *Manager) emitDisconnected(err error) {
	emit(m.log, "disconnected", snapshot(m.signals, m.signals.disconnected), func(fn func(error)) { fn(err) })
}

func (m *Manager) emitError(err error) {
	emit(m.log, "error", snapshot(m.signals, m.signals.errored), func(fn func(error)) { fn(err) })
}

func (m *Manager) emitHeartbeat(at time.Time) {
	emit(m.log, "heartbeat", snapshot(m.signals, m.signals.heartbeat), func(fn func(time.Time)) { fn(at) })
}

func (m *Manager) emitStatus(from, to Status) {
	if from == to {
		return
	}
	emit(m.log, "status", snapshot(m.signals, m.signals.status), func(fn func(Status, Status)) { fn(from, to) })
}

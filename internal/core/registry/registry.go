// Package registry multiplexes topic subscriptions over the single
// connection. A topic is subscribed on the wire while at least one listener
// holds it, and every active topic is replayed when a new session opens.
package registry

import (
	"context"
	"errors"
	"maps"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"

	"github.com/colonyops/shopwire/internal/core/connection"
	"github.com/colonyops/shopwire/internal/core/events"
	"github.com/colonyops/shopwire/internal/core/logging"
	"github.com/colonyops/shopwire/internal/core/wire"
	"github.com/colonyops/shopwire/internal/metrics"
)

var (
	ErrNilListener    = errors.New("registry: nil listener")
	ErrNotComparable  = errors.New("registry: listener is not comparable")
	ErrInvalidPattern = errors.New("registry: invalid topic pattern")
	ErrEmptyTopic     = errors.New("registry: empty topic")
)

const sendTimeout = 5 * time.Second

// Listener receives events for the topics it is subscribed to. Listeners are
// compared by identity, so the dynamic type must be comparable (usually a
// pointer).
type Listener interface {
	HandleEvent(events.Event)
}

type funcListener struct {
	fn func(events.Event)
}

func (f *funcListener) HandleEvent(e events.Event) { f.fn(e) }

// Func wraps fn in a Listener with its own identity. Keep the returned value
// to unsubscribe later.
func Func(fn func(events.Event)) Listener {
	return &funcListener{fn: fn}
}

// Link is the part of the connection manager the registry needs.
type Link interface {
	Send(ctx context.Context, ctl wire.Control) error
	Snapshot() connection.Snapshot
	OnConnected(fn func(sessionID string)) (cancel func())
}

type registration struct {
	listener Listener
	seq      uint64
}

// Registry tracks listeners per topic.
type Registry struct {
	link    Link
	log     zerolog.Logger
	metrics *metrics.Metrics
	cancel  func()

	// mu is held across wire sends so that the 0->1 and 1->0 decisions
	// reach the server in the order they were made.
	mu      sync.Mutex
	topics  map[string][]registration
	seq     uint64
	session string
	wired   map[string]bool
}

// New creates a registry bound to link.
func New(link Link, log zerolog.Logger, m *metrics.Metrics) *Registry {
	r := &Registry{
		link:    link,
		log:     log,
		metrics: m,
		topics:  map[string][]registration{},
		wired:   map[string]bool{},
	}
	r.cancel = link.OnConnected(r.replay)
	return r
}

// Close detaches the registry from the connection.
func (r *Registry) Close() {
	if r.cancel != nil {
		r.cancel()
	}
}

// Subscribe registers l for topic. Subscribing the same listener twice is a
// no-op.
func (r *Registry) Subscribe(topic string, l Listener) error {
	if err := validate(topic, l); err != nil {
		r.log.Warn().Err(err).Str("topic", topic).Msg("subscribe rejected")
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.topics[topic]
	if slices.ContainsFunc(regs, func(reg registration) bool { return reg.listener == l }) {
		return nil
	}

	r.seq++
	r.topics[topic] = append(regs, registration{listener: l, seq: r.seq})
	r.metrics.SetActiveTopics(len(r.topics))

	if len(regs) == 0 {
		r.log.Debug().Str("topic", topic).Msg("topic active")
		r.sendSubscribeLocked(topic)
	}
	return nil
}

// Unsubscribe removes l from topic. Unknown pairs are ignored.
func (r *Registry) Unsubscribe(topic string, l Listener) {
	if l == nil || !isComparable(l) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.topics[topic]
	idx := slices.IndexFunc(regs, func(reg registration) bool { return reg.listener == l })
	if idx < 0 {
		return
	}

	regs = slices.Delete(regs, idx, idx+1)
	if len(regs) > 0 {
		r.topics[topic] = regs
		return
	}

	delete(r.topics, topic)
	r.metrics.SetActiveTopics(len(r.topics))
	r.log.Debug().Str("topic", topic).Msg("topic idle")

	snap := r.link.Snapshot()
	if snap.Status != connection.StatusConnected || snap.SessionID != r.session || !r.wired[topic] {
		// the server holds no state for a dead session
		delete(r.wired, topic)
		return
	}
	delete(r.wired, topic)
	r.send(wire.Unsubscribe(topic))
}

// RefCount returns the number of listeners holding topic.
func (r *Registry) RefCount(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.topics[topic])
}

// Topics returns the active topics, sorted.
func (r *Registry) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.topics))
}

// Match returns the listeners for any of topics, including pattern topics
// that match them. Listeners are returned once each, in registration order.
func (r *Registry) Match(topics ...string) []Listener {
	r.mu.Lock()
	var matched []registration
	for key, regs := range r.topics {
		if matchesAny(key, topics) {
			matched = append(matched, regs...)
		}
	}
	r.mu.Unlock()

	slices.SortFunc(matched, func(a, b registration) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		default:
			return 0
		}
	})

	out := make([]Listener, 0, len(matched))
	for _, reg := range matched {
		if !slices.Contains(out, reg.listener) {
			out = append(out, reg.listener)
		}
	}
	return out
}

func matchesAny(key string, topics []string) bool {
	pattern := wire.IsPattern(key)
	for _, t := range topics {
		if t == "" {
			continue
		}
		if key == t {
			return true
		}
		if pattern {
			if ok, _ := doublestar.Match(key, t); ok {
				return true
			}
		}
	}
	return false
}

// replay runs on every new session and sends subscribe for every active
// topic the session has not seen yet.
func (r *Registry) replay(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	topics := slices.Sorted(maps.Keys(r.topics))
	if len(topics) > 0 {
		r.log.Info().Str("session_id", sessionID).Strs("topics", topics).Msg("replaying subscriptions")
	}
	for _, topic := range topics {
		r.sendSubscribeLocked(topic)
	}
}

// sendSubscribeLocked sends subscribe for topic once per session. While
// disconnected it does nothing and the next replay picks the topic up.
func (r *Registry) sendSubscribeLocked(topic string) {
	snap := r.link.Snapshot()
	if snap.Status != connection.StatusConnected {
		return
	}
	if snap.SessionID != r.session {
		r.session = snap.SessionID
		clear(r.wired)
	}
	if r.wired[topic] {
		return
	}
	if r.send(wire.Subscribe(topic)) {
		r.wired[topic] = true
	}
}

func (r *Registry) send(ctl wire.Control) bool {
	ctx, cancel := context.WithTimeout(logging.WithTopic(context.Background(), ctl.Channel), sendTimeout)
	defer cancel()
	if err := r.link.Send(ctx, ctl); err != nil {
		r.log.Warn().Ctx(ctx).Err(err).Str("action", string(ctl.Action)).Msg("control frame not sent")
		return false
	}
	r.log.Debug().Ctx(ctx).Str("action", string(ctl.Action)).Msg("control frame sent")
	return true
}

func validate(topic string, l Listener) error {
	switch {
	case topic == "":
		return ErrEmptyTopic
	case l == nil:
		return ErrNilListener
	case !isComparable(l):
		return ErrNotComparable
	case wire.IsPattern(topic) && !doublestar.ValidatePattern(topic):
		return ErrInvalidPattern
	}
	return nil
}

func isComparable(l Listener) bool {
	return reflect.TypeOf(l).Comparable()
}

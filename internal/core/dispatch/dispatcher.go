// Package dispatch turns raw frames into typed events and delivers them to
// every listener registered for the event type or for one of its topics.
package dispatch

import (
	"errors"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/shopwire/internal/core/events"
	"github.com/colonyops/shopwire/internal/core/registry"
	"github.com/colonyops/shopwire/internal/core/wire"
	"github.com/colonyops/shopwire/internal/metrics"
)

// Matcher resolves topic listeners.
type Matcher interface {
	Match(topics ...string) []registry.Listener
}

// Dispatcher routes events. HandleMessage is called from the connection
// reader, so events from one session are dispatched in wire order.
type Dispatcher struct {
	topics  Matcher
	log     zerolog.Logger
	metrics *metrics.Metrics
	hooks   hooks

	mu     sync.RWMutex
	byType map[events.Type][]registry.Listener
}

// New creates a dispatcher that resolves topic listeners through topics.
func New(topics Matcher, log zerolog.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		topics:  topics,
		log:     log,
		metrics: m,
		byType:  map[events.Type][]registry.Listener{},
	}
}

// On registers l for every event of type t, independent of topics. The
// returned func removes the registration.
func (d *Dispatcher) On(t events.Type, l registry.Listener) (cancel func()) {
	if l == nil || !reflect.TypeOf(l).Comparable() {
		d.log.Warn().Str("type", string(t)).Msg("ignoring listener that cannot be compared")
		return func() {}
	}

	d.mu.Lock()
	if !slices.Contains(d.byType[t], l) {
		d.byType[t] = append(d.byType[t], l)
	}
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.byType[t] = slices.DeleteFunc(d.byType[t], func(x registry.Listener) bool { return x == l })
		if len(d.byType[t]) == 0 {
			delete(d.byType, t)
		}
	}
}

// HandleMessage decodes raw and dispatches it. Bad frames are logged,
// counted and dropped.
func (d *Dispatcher) HandleMessage(raw []byte) {
	f, err := wire.Decode(raw)
	if err != nil {
		d.drop(raw, err)
		return
	}
	if wire.IsHeartbeat(f.Type) {
		return
	}

	e := events.FromFrame(f)
	d.metrics.FrameReceived(string(e.Type))

	if !events.Known(e.Type) {
		d.log.Debug().Str("type", string(e.Type)).Msg("unrecognized event type")
		d.runOnUnrecognized(e)
	} else if u, ok := e.Payload.(events.Unknown); ok && u.Err != nil {
		d.log.Warn().Err(u.Err).Str("type", string(e.Type)).Msg("event payload did not decode")
	}

	d.Dispatch(e)
}

// Dispatch delivers e to type listeners first, then topic listeners, each
// listener at most once. A panicking listener does not stop the others.
func (d *Dispatcher) Dispatch(e events.Event) {
	start := time.Now()

	d.mu.RLock()
	listeners := slices.Clone(d.byType[e.Type])
	d.mu.RUnlock()

	if d.topics != nil {
		for _, l := range d.topics.Match(e.Topics()...) {
			if !slices.Contains(listeners, l) {
				listeners = append(listeners, l)
			}
		}
	}

	for _, l := range listeners {
		d.invoke(e, l)
	}

	d.metrics.ObserveDispatch(time.Since(start))
	d.runOnDispatch(e, len(listeners))
}

func (d *Dispatcher) invoke(e events.Event, l registry.Listener) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().
				Str("type", string(e.Type)).
				Interface("panic", r).
				Msg("listener panicked")
			d.metrics.ListenerPanic(string(e.Type))
			d.runOnPanic(e, l, r)
		}
	}()
	l.HandleEvent(e)
}

func (d *Dispatcher) drop(raw []byte, err error) {
	reason := "malformed"
	switch {
	case errors.Is(err, wire.ErrMissingType):
		reason = "missing_type"
	case errors.Is(err, wire.ErrFrameTooLarge):
		reason = "too_large"
	}

	d.log.Warn().Err(err).Str("reason", reason).Int("size", len(raw)).Msg("dropping frame")
	d.metrics.FrameDropped(reason)
	d.runOnDrop(raw, err)
}

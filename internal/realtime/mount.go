package realtime

import (
	"sync"

	"github.com/colonyops/shopwire/internal/core/events"
	"github.com/colonyops/shopwire/internal/core/registry"
	"github.com/colonyops/shopwire/internal/core/stores"
)

// Store is the surface a Mount exposes over one aggregation store.
type Store[S any] interface {
	registry.Listener
	Stats() S
	Latest() (events.Event, bool)
	Events() []events.Event
	Alerts() []stores.Alert
	Observe(fn stores.Observer) (cancel func())
	Clear()
	ResetDaily()
}

// Mount is one consumer's private view of a domain. It owns a store that is
// subscribed to the domain topic for as long as the mount is open.
type Mount[S any] struct {
	store  Store[S]
	topic  string
	reg    *registry.Registry
	remove func()
	once   sync.Once
}

func mount[S any](c *Client, domain events.Domain, store Store[S]) *Mount[S] {
	m := &Mount[S]{
		store:  store,
		topic:  string(domain),
		reg:    c.Registry,
		remove: c.reset.Add(store),
	}
	// topic and listener are always valid here
	if err := c.Registry.Subscribe(m.topic, store); err != nil {
		c.log.Error().Err(err).Str("topic", m.topic).Msg("mount subscribe failed")
	}
	return m
}

// Stats returns the derived statistics.
func (m *Mount[S]) Stats() S { return m.store.Stats() }

// Latest returns the most recent event.
func (m *Mount[S]) Latest() (events.Event, bool) { return m.store.Latest() }

// Events returns the bounded event history, oldest first.
func (m *Mount[S]) Events() []events.Event { return m.store.Events() }

// Alerts returns the alerts raised by the store, newest first.
func (m *Mount[S]) Alerts() []stores.Alert { return m.store.Alerts() }

// Observe calls fn for every event applied to the store.
func (m *Mount[S]) Observe(fn stores.Observer) (cancel func()) { return m.store.Observe(fn) }

// Clear empties the history and alert lists.
func (m *Mount[S]) Clear() { m.store.Clear() }

// Store returns the underlying store.
func (m *Mount[S]) Store() Store[S] { return m.store }

// Close unsubscribes the mount. Calling Close more than once is a no-op.
func (m *Mount[S]) Close() {
	m.once.Do(func() {
		m.reg.Unsubscribe(m.topic, m.store)
		m.remove()
	})
}

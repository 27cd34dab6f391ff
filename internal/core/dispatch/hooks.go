package dispatch

import (
	"sync"

	"github.com/colonyops/shopwire/internal/core/events"
	"github.com/colonyops/shopwire/internal/core/registry"
)

// hooks holds the lifecycle hook state for the Dispatcher.
type hooks struct {
	mu             sync.RWMutex
	onDispatch     []func(events.Event, int)
	onDrop         []func([]byte, error)
	onPanic        []func(events.Event, registry.Listener, any)
	onUnrecognized []func(events.Event)
}

// OnDispatch registers a hook that fires after an event was delivered to n listeners.
func (d *Dispatcher) OnDispatch(fn func(e events.Event, n int)) {
	d.hooks.mu.Lock()
	d.hooks.onDispatch = append(d.hooks.onDispatch, fn)
	d.hooks.mu.Unlock()
}

// OnDrop registers a hook that fires when a frame is rejected before dispatch.
func (d *Dispatcher) OnDrop(fn func(raw []byte, err error)) {
	d.hooks.mu.Lock()
	d.hooks.onDrop = append(d.hooks.onDrop, fn)
	d.hooks.mu.Unlock()
}

// OnPanic registers a hook that fires when a listener panics.
func (d *Dispatcher) OnPanic(fn func(e events.Event, l registry.Listener, recovered any)) {
	d.hooks.mu.Lock()
	d.hooks.onPanic = append(d.hooks.onPanic, fn)
	d.hooks.mu.Unlock()
}

// OnUnrecognized registers a hook that fires for event types without a
// payload mapping, before they are dispatched.
func (d *Dispatcher) OnUnrecognized(fn func(e events.Event)) {
	d.hooks.mu.Lock()
	d.hooks.onUnrecognized = append(d.hooks.onUnrecognized, fn)
	d.hooks.mu.Unlock()
}

func (d *Dispatcher) runOnDispatch(e events.Event, n int) {
	d.hooks.mu.RLock()
	hooks := make([]func(events.Event, int), len(d.hooks.onDispatch))
	copy(hooks, d.hooks.onDispatch)
	d.hooks.mu.RUnlock()
	for _, fn := range hooks {
		fn(e, n)
	}
}

func (d *Dispatcher) runOnDrop(raw []byte, err error) {
	d.hooks.mu.RLock()
	hooks := make([]func([]byte, error), len(d.hooks.onDrop))
	copy(hooks, d.hooks.onDrop)
	d.hooks.mu.RUnlock()
	for _, fn := range hooks {
		fn(raw, err)
	}
}

func (d *Dispatcher) runOnUnrecognized(e events.Event) {
	d.hooks.mu.RLock()
	hooks := make([]func(events.Event), len(d.hooks.onUnrecognized))
	copy(hooks, d.hooks.onUnrecognized)
	d.hooks.mu.RUnlock()
	for _, fn := range hooks {
		fn(e)
	}
}

func (d *Dispatcher) runOnPanic(e events.Event, l registry.Listener, recovered any) {
	d.hooks.mu.RLock()
	hooks := make([]func(events.Event, registry.Listener, any), len(d.hooks.onPanic))
	copy(hooks, d.hooks.onPanic)
	d.hooks.mu.RUnlock()
	for _, fn := range hooks {
		func() {
			defer func() { recover() }() //nolint:errcheck
			fn(e, l, recovered)
		}()
	}
}

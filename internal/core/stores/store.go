// Package stores accumulates per-domain statistics, bounded history and
// alert lists from the dispatched event stream. Every delivered event counts
// as a new occurrence; the stores never deduplicate.
package stores

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/shopwire/internal/core/events"
	"github.com/colonyops/shopwire/pkg/ring"
)

// State of a store.
type State int

const (
	StateIdle State = iota
	StateAccumulating
)

func (s State) String() string {
	if s == StateAccumulating {
		return "accumulating"
	}
	return "idle"
}

// Options sizes the bounded buffers.
type Options struct {
	HistorySize int // events kept per store
	RecentSize  int // summaries kept for UI lists
	AlertSize   int // alerts kept per store
	Logger      zerolog.Logger
}

// DefaultOptions returns the default buffer sizes.
func DefaultOptions() Options {
	return Options{
		HistorySize: 100,
		RecentSize:  20,
		AlertSize:   50,
		Logger:      zerolog.Nop(),
	}
}

// Alert is an entry in a store's alert list.
type Alert struct {
	Severity events.Severity `json:"severity"`
	Title    string          `json:"title"`
	Message  string          `json:"message"`
	At       time.Time       `json:"at"`
	Event    events.Event    `json:"-"`
}

// Update describes one applied event. Alert is set when the event raised one.
type Update struct {
	Domain       events.Domain
	Event        events.Event
	Alert        *Alert
	Unrecognized bool
}

// Observer receives store updates synchronously.
type Observer func(Update)

// base carries what every store shares: state, history, alerts and
// observers. Domain stats live in the embedding store and are guarded by mu.
type base struct {
	domain events.Domain
	log    zerolog.Logger

	mu      sync.RWMutex
	state   State
	history *ring.Buffer[events.Event]
	alerts  *ring.Buffer[Alert]

	obsMu     sync.RWMutex
	observers []*observer
}

type observer struct {
	fn Observer
}

func newBase(domain events.Domain, opts Options) *base {
	return &base{
		domain:  domain,
		log:     opts.Logger.With().Str("store", string(domain)).Logger(),
		history: ring.New[events.Event](opts.HistorySize),
		alerts:  ring.New[Alert](opts.AlertSize),
	}
}

// Domain returns the domain the store aggregates.
func (b *base) Domain() events.Domain { return b.domain }

// State returns Idle until the first relevant event.
func (b *base) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Events returns the bounded history, oldest first.
func (b *base) Events() []events.Event {
	return b.history.Items()
}

// Latest returns the most recent event.
func (b *base) Latest() (events.Event, bool) {
	return b.history.Last()
}

// Alerts returns the alert list, newest first.
func (b *base) Alerts() []Alert {
	return b.alerts.Newest(-1)
}

// Observe registers fn for every applied event.
func (b *base) Observe(fn Observer) (cancel func()) {
	o := &observer{fn: fn}
	b.obsMu.Lock()
	b.observers = append(b.observers, o)
	b.obsMu.Unlock()

	return func() {
		b.obsMu.Lock()
		defer b.obsMu.Unlock()
		for i, x := range b.observers {
			if x == o {
				b.observers = append(b.observers[:i:i], b.observers[i+1:]...)
				return
			}
		}
	}
}

// accepts reports whether e belongs to this store.
func (b *base) accepts(e events.Event) bool {
	return e.Domain() == b.domain
}

// apply runs mutate under the store lock, records e, and notifies observers.
func (b *base) apply(e events.Event, mutate func() *Alert) {
	b.mu.Lock()
	alert := mutate()
	if alert != nil {
		alert.At = e.Timestamp
		alert.Event = e
		b.alerts.Push(*alert)
	}
	b.history.Push(e)
	b.state = StateAccumulating
	b.mu.Unlock()

	b.emit(Update{
		Domain:       b.domain,
		Event:        e,
		Alert:        alert,
		Unrecognized: !events.Known(e.Type),
	})
}

// clearLists empties history and alerts. Callers reset their own lists
// while holding mu.
func (b *base) clearLists() {
	b.history.Clear()
	b.alerts.Clear()
	b.state = StateIdle
}

func (b *base) emit(u Update) {
	b.obsMu.RLock()
	observers := make([]*observer, len(b.observers))
	copy(observers, b.observers)
	b.obsMu.RUnlock()

	for _, o := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.log.Error().Interface("panic", r).Msg("store observer panicked")
				}
			}()
			o.fn(u)
		}()
	}
}

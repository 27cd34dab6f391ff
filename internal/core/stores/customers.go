package stores

import (
	"github.com/colonyops/shopwire/internal/core/events"
	"github.com/colonyops/shopwire/pkg/ring"
)

// CustomerStats are the derived customer counters.
type CustomerStats struct {
	NewToday         int `json:"new_today"`
	UpdatedToday     int `json:"updated_today"`
	LoyaltyPointsNet int `json:"loyalty_points_net"`
}

// Customers aggregates customer_* and loyalty events.
type Customers struct {
	*base
	stats  CustomerStats
	recent *ring.Buffer[events.Customer]
}

// NewCustomers creates an idle customer store.
func NewCustomers(opts Options) *Customers {
	return &Customers{
		base:   newBase(events.DomainCustomers, opts),
		recent: ring.New[events.Customer](opts.RecentSize),
	}
}

// HandleEvent implements registry.Listener.
func (s *Customers) HandleEvent(e events.Event) {
	if !s.accepts(e) {
		return
	}

	s.apply(e, func() *Alert {
		switch p := e.Payload.(type) {
		case events.Customer:
			switch e.Type {
			case events.CustomerCreated:
				s.stats.NewToday++
				s.recent.Push(p)
			case events.CustomerUpdated:
				s.stats.UpdatedToday++
			}
		case events.LoyaltyPoints:
			s.stats.LoyaltyPointsNet += p.Delta
		}
		return nil
	})
}

// Stats returns a snapshot of the counters.
func (s *Customers) Stats() CustomerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Recent returns recently created customers, newest first.
func (s *Customers) Recent() []events.Customer {
	return s.recent.Newest(-1)
}

// Clear empties history and the recent list. Daily counters are kept.
func (s *Customers) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLists()
	s.recent.Clear()
}

// ResetDaily zeroes the per-day counters.
func (s *Customers) ResetDaily() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = CustomerStats{}
}

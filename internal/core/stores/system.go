package stores

import (
	"maps"

	"github.com/colonyops/shopwire/internal/core/events"
)

// SystemStats are the derived system counters.
type SystemStats struct {
	Alerts       map[events.Severity]int `json:"alerts"`
	Maintenance  int                     `json:"maintenance"`
	Unrecognized int                     `json:"unrecognized"`
}

// System aggregates system_* events and everything the client does not
// recognize.
type System struct {
	*base
	stats SystemStats
}

// NewSystem creates an idle system store.
func NewSystem(opts Options) *System {
	return &System{
		base:  newBase(events.DomainSystem, opts),
		stats: SystemStats{Alerts: map[events.Severity]int{}},
	}
}

// HandleEvent implements registry.Listener.
func (s *System) HandleEvent(e events.Event) {
	if !s.accepts(e) {
		return
	}

	s.apply(e, func() *Alert {
		if !events.Known(e.Type) {
			s.stats.Unrecognized++
			return nil
		}

		alert, ok := e.Payload.(events.Alert)
		if !ok {
			return nil
		}
		if e.Type == events.SystemMaintenance {
			s.stats.Maintenance++
		}

		severity := alert.Severity()
		s.stats.Alerts[severity]++
		return &Alert{
			Severity: severity,
			Title:    alert.Title,
			Message:  alert.Message,
		}
	})
}

// Stats returns a snapshot of the counters.
func (s *System) Stats() SystemStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.stats
	out.Alerts = maps.Clone(s.stats.Alerts)
	return out
}

// Clear empties history and alerts and resets the counters.
func (s *System) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLists()
	s.stats = SystemStats{Alerts: map[events.Severity]int{}}
}

// ResetDaily is a no-op; system counters are not per day.
func (s *System) ResetDaily() {}

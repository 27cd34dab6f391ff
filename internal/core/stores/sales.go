package stores

import (
	"time"

	"github.com/colonyops/shopwire/internal/core/events"
	"github.com/colonyops/shopwire/pkg/ring"
)

// SalesStats are the derived sales counters.
type SalesStats struct {
	TodayCount     int       `json:"today_count"`
	TodayTotal     float64   `json:"today_total"`
	CancelledToday int       `json:"cancelled_today"`
	LastSaleAt     time.Time `json:"last_sale_at,omitzero"`
}

// SaleSummary is a compact sale row for activity lists.
type SaleSummary struct {
	ID           string    `json:"id"`
	SaleNumber   string    `json:"sale_number,omitempty"`
	CustomerName string    `json:"customer_name,omitempty"`
	Total        float64   `json:"total"`
	Status       string    `json:"status,omitempty"`
	At           time.Time `json:"at"`
}

// Sales aggregates sale_* events.
type Sales struct {
	*base
	stats  SalesStats
	recent *ring.Buffer[SaleSummary]
}

// NewSales creates an idle sales store.
func NewSales(opts Options) *Sales {
	return &Sales{
		base:   newBase(events.DomainSales, opts),
		recent: ring.New[SaleSummary](opts.RecentSize),
	}
}

// HandleEvent implements registry.Listener.
func (s *Sales) HandleEvent(e events.Event) {
	if !s.accepts(e) {
		return
	}

	s.apply(e, func() *Alert {
		sale, ok := e.Payload.(events.Sale)
		if !ok {
			return nil
		}

		switch e.Type {
		case events.SaleCreated:
			s.stats.TodayCount++
			s.stats.TodayTotal += sale.TotalAmount
			s.stats.LastSaleAt = e.Timestamp
			s.recent.Push(summarize(sale, e.Timestamp))
		case events.SaleCancelled:
			s.stats.CancelledToday++
			return &Alert{
				Severity: events.SeverityWarning,
				Title:    "Sale cancelled",
				Message:  saleLabel(sale),
			}
		}
		return nil
	})
}

// Stats returns a snapshot of the counters.
func (s *Sales) Stats() SalesStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Recent returns the latest sale summaries, newest first.
func (s *Sales) Recent() []SaleSummary {
	return s.recent.Newest(-1)
}

// Clear empties history, alerts and the recent list. Daily counters are kept.
func (s *Sales) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLists()
	s.recent.Clear()
}

// ResetDaily zeroes the per-day counters.
func (s *Sales) ResetDaily() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = SalesStats{}
}

func summarize(sale events.Sale, at time.Time) SaleSummary {
	return SaleSummary{
		ID:           string(sale.ID),
		SaleNumber:   sale.SaleNumber,
		CustomerName: sale.CustomerName,
		Total:        sale.TotalAmount,
		Status:       sale.Status,
		At:           at,
	}
}

func saleLabel(sale events.Sale) string {
	if sale.SaleNumber != "" {
		return sale.SaleNumber
	}
	return "#" + string(sale.ID)
}

package stores

import (
	"fmt"

	"github.com/colonyops/shopwire/internal/core/events"
)

// InventoryStats are the derived inventory counters.
type InventoryStats struct {
	LowStockCount   int `json:"low_stock_count"`
	OutOfStockCount int `json:"out_of_stock_count"`
	StockUpdates    int `json:"stock_updates"`
}

// Inventory aggregates stock_* and product_updated events.
type Inventory struct {
	*base
	stats InventoryStats
}

// NewInventory creates an idle inventory store.
func NewInventory(opts Options) *Inventory {
	return &Inventory{base: newBase(events.DomainInventory, opts)}
}

// HandleEvent implements registry.Listener.
func (s *Inventory) HandleEvent(e events.Event) {
	if !s.accepts(e) {
		return
	}

	s.apply(e, func() *Alert {
		stock, ok := e.Payload.(events.Stock)
		if !ok {
			return nil
		}

		switch e.Type {
		case events.StockUpdated:
			s.stats.StockUpdates++
			if !stock.IsLow() {
				return nil
			}
			s.stats.LowStockCount++
			return lowStock(stock)
		case events.StockLow:
			s.stats.LowStockCount++
			return lowStock(stock)
		case events.StockOut:
			s.stats.OutOfStockCount++
			return &Alert{
				Severity: events.SeverityCritical,
				Title:    "Out of stock",
				Message:  fmt.Sprintf("%s is out of stock", productLabel(stock)),
			}
		}
		return nil
	})
}

// Stats returns a snapshot of the counters.
func (s *Inventory) Stats() InventoryStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// LowStock returns the low-stock and out-of-stock alerts, newest first.
func (s *Inventory) LowStock() []Alert {
	return s.Alerts()
}

// Clear empties history and alerts and resets the alert counters.
func (s *Inventory) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLists()
	s.stats.LowStockCount = 0
	s.stats.OutOfStockCount = 0
}

// ResetDaily zeroes the update counter.
func (s *Inventory) ResetDaily() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.StockUpdates = 0
}

func lowStock(stock events.Stock) *Alert {
	return &Alert{
		Severity: events.SeverityWarning,
		Title:    "Low stock",
		Message:  fmt.Sprintf("%s has %d left (minimum %d)", productLabel(stock), stock.CurrentStock, stock.Threshold()),
	}
}

func productLabel(stock events.Stock) string {
	switch {
	case stock.ProductName != "":
		return stock.ProductName
	case stock.SKU != "":
		return stock.SKU
	default:
		return "product " + string(stock.ProductID)
	}
}

package notify

import (
	"fmt"

	"github.com/colonyops/shopwire/internal/core/events"
	"github.com/colonyops/shopwire/internal/core/stores"
)

// Classify maps a store update to a notification. ok is false for updates
// that are not worth surfacing, such as routine stock counts.
func Classify(u stores.Update) (n Notification, ok bool) {
	e := u.Event
	n = Notification{
		Category:  CategoryOf(e.Domain()),
		Level:     LevelInfo,
		Timestamp: e.Timestamp,
		EventType: e.Type,
	}

	if u.Unrecognized || !events.Known(e.Type) {
		n.Category = CategorySystem
		n.Title = "Unrecognized event"
		n.Message = string(e.Type)
		return n, true
	}

	switch p := e.Payload.(type) {
	case events.Sale:
		return classifySale(n, e.Type, p)
	case events.Stock:
		return classifyStock(n, e.Type, p, u.Alert)
	case events.Customer:
		return classifyCustomer(n, e.Type, p)
	case events.LoyaltyPoints:
		n.Title = "Loyalty points"
		n.Message = fmt.Sprintf("%s %+d points", nameOr(p.CustomerName, "customer "+string(p.CustomerID)), p.Delta)
		return n, true
	case events.Alert:
		n.Level = levelOf(p.Severity())
		n.Title = nameOr(p.Title, "System alert")
		if e.Type == events.SystemMaintenance {
			n.Title = nameOr(p.Title, "Scheduled maintenance")
		}
		n.Message = p.Message
		return n, true
	default:
		n.Title = string(e.Type)
		n.Message = "event data could not be read"
		return n, true
	}
}

func classifySale(n Notification, t events.Type, s events.Sale) (Notification, bool) {
	label := nameOr(s.SaleNumber, "#"+string(s.ID))
	switch t {
	case events.SaleCreated:
		n.Level = LevelSuccess
		n.Title = "New sale"
		n.Message = fmt.Sprintf("%s for %.2f", label, s.TotalAmount)
		if s.CustomerName != "" {
			n.Message += " (" + s.CustomerName + ")"
		}
	case events.SaleCancelled:
		n.Level = LevelWarning
		n.Title = "Sale cancelled"
		n.Message = label
	default:
		n.Title = "Sale updated"
		n.Message = label
		if s.Status != "" {
			n.Message += " is " + s.Status
		}
	}
	return n, true
}

func classifyStock(n Notification, t events.Type, s events.Stock, alert *stores.Alert) (Notification, bool) {
	switch t {
	case events.StockOut:
		n.Level = LevelError
		n.Title = "Out of stock"
		n.Message = nameOr(s.ProductName, nameOr(s.SKU, "product "+string(s.ProductID)))
	case events.StockLow, events.StockUpdated:
		if alert == nil {
			return n, false
		}
		n.Level = LevelWarning
	case events.ProductUpdated:
		n.Title = "Product updated"
		n.Message = nameOr(s.ProductName, s.SKU)
		return n, true
	}

	if alert != nil {
		n.Title = alert.Title
		n.Message = alert.Message
	}
	return n, true
}

func classifyCustomer(n Notification, t events.Type, c events.Customer) (Notification, bool) {
	name := nameOr(c.Name, "customer "+string(c.ID))
	if t == events.CustomerCreated {
		n.Level = LevelSuccess
		n.Title = "New customer"
	} else {
		n.Title = "Customer updated"
	}
	n.Message = name
	return n, true
}

func levelOf(s events.Severity) Level {
	switch s {
	case events.SeverityWarning:
		return LevelWarning
	case events.SeverityError, events.SeverityCritical:
		return LevelError
	default:
		return LevelInfo
	}
}

func nameOr(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

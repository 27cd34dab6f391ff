// Package events defines the typed domain events carried over the realtime
// wire. Each event type maps to exactly one payload struct; unknown types are
// preserved as Unknown so they can still be surfaced.
package events

import (
	"time"

	"github.com/colonyops/shopwire/internal/core/wire"
)

// Type is the wire discriminant of a domain event.
type Type string

// Keep list grouped by domain.
const (
	SaleCreated   Type = "sale_created"
	SaleUpdated   Type = "sale_updated"
	SaleCancelled Type = "sale_cancelled"

	StockUpdated   Type = "stock_updated"
	StockLow       Type = "stock_low"
	StockOut       Type = "stock_out"
	ProductUpdated Type = "product_updated"

	CustomerCreated      Type = "customer_created"
	CustomerUpdated      Type = "customer_updated"
	LoyaltyPointsChanged Type = "loyalty_points_changed"

	SystemAlert       Type = "system_alert"
	SystemMaintenance Type = "system_maintenance"
)

// Domain groups event types by business area.
type Domain string

const (
	DomainSales     Domain = "sales"
	DomainInventory Domain = "inventory"
	DomainCustomers Domain = "customers"
	DomainSystem    Domain = "system"
)

// Domains lists every domain in display order.
var Domains = []Domain{DomainSales, DomainInventory, DomainCustomers, DomainSystem}

var domains = map[Type]Domain{
	SaleCreated:          DomainSales,
	SaleUpdated:          DomainSales,
	SaleCancelled:        DomainSales,
	StockUpdated:         DomainInventory,
	StockLow:             DomainInventory,
	StockOut:             DomainInventory,
	ProductUpdated:       DomainInventory,
	CustomerCreated:      DomainCustomers,
	CustomerUpdated:      DomainCustomers,
	LoyaltyPointsChanged: DomainCustomers,
	SystemAlert:          DomainSystem,
	SystemMaintenance:    DomainSystem,
}

// DomainOf returns the domain of t. Unrecognized types belong to the system
// domain so they are never silently lost.
func DomainOf(t Type) Domain {
	if d, ok := domains[t]; ok {
		return d
	}
	return DomainSystem
}

// Known reports whether t has a registered payload decoder.
func Known(t Type) bool {
	_, ok := decoders[t]
	return ok
}

// Event is a decoded domain event.
type Event struct {
	Type      Type
	Topic     string // topic from the frame, may be empty
	Timestamp time.Time
	Payload   Payload
	Raw       []byte // original data object
}

// Domain returns the domain of the event type.
func (e Event) Domain() Domain {
	return DomainOf(e.Type)
}

// Topics returns the topics the event is routed to: the frame topic, if any,
// followed by the domain topic. Duplicates are removed.
func (e Event) Topics() []string {
	domain := string(e.Domain())
	if e.Topic == "" || e.Topic == domain {
		return []string{domain}
	}
	return []string{e.Topic, domain}
}

// FromFrame builds a typed event from a decoded frame. Payloads that do not
// fit their declared type degrade to Unknown rather than being dropped.
func FromFrame(f wire.Frame) Event {
	t := Type(f.Type)
	return Event{
		Type:      t,
		Topic:     f.Topic,
		Timestamp: f.Time(),
		Payload:   decodePayload(t, f.Data),
		Raw:       f.Data,
	}
}

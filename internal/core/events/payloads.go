package events

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Payload is the sealed set of event payloads.
type Payload interface {
	isPayload()
}

// ID accepts both JSON strings and numbers; backends disagree on which to send.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// Sale is the payload of sale_* events.
type Sale struct {
	ID            ID      `json:"id"`
	SaleNumber    string  `json:"sale_number"`
	CustomerName  string  `json:"customer_name"`
	CashierName   string  `json:"cashier_name"`
	TotalAmount   float64 `json:"total_amount"`
	PaymentMethod string  `json:"payment_method"`
	ItemsCount    int     `json:"items_count"`
	Status        string  `json:"status"`
}

// Stock is the payload of stock_* and product_updated events.
type Stock struct {
	ProductID     ID     `json:"product_id"`
	ProductName   string `json:"product_name"`
	SKU           string `json:"sku"`
	CurrentStock  int    `json:"current_stock"`
	MinStock      int    `json:"min_stock"`
	MinStockLevel int    `json:"min_stock_level"`
	Warehouse     string `json:"warehouse"`
}

// Threshold returns the low-stock threshold. Older backends only send
// min_stock_level.
func (s Stock) Threshold() int {
	if s.MinStock > 0 {
		return s.MinStock
	}
	return s.MinStockLevel
}

// IsLow reports whether stock is at or below its threshold. Products
// without a threshold are never low.
func (s Stock) IsLow() bool {
	threshold := s.Threshold()
	return threshold > 0 && s.CurrentStock <= threshold
}

// Customer is the payload of customer_* events.
type Customer struct {
	ID            ID     `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	LoyaltyPoints int    `json:"loyalty_points"`
}

// LoyaltyPoints is the payload of loyalty_points_changed.
type LoyaltyPoints struct {
	CustomerID   ID     `json:"customer_id"`
	CustomerName string `json:"customer_name"`
	Delta        int    `json:"delta"`
	Balance      int    `json:"balance"`
	Reason       string `json:"reason"`
}

// Severity of a system alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Alert is the payload of system_* events.
type Alert struct {
	Level   Severity `json:"level"`
	Title   string   `json:"title"`
	Message string   `json:"message"`
	Source  string   `json:"source"`
}

// Severity normalizes the alert level, defaulting to info.
func (a Alert) Severity() Severity {
	switch Severity(strings.ToLower(string(a.Level))) {
	case SeverityWarning:
		return SeverityWarning
	case SeverityError:
		return SeverityError
	case SeverityCritical:
		return SeverityCritical
	default:
		return SeverityInfo
	}
}

// Unknown holds the data of an unrecognized or undecodable event.
type Unknown struct {
	Data json.RawMessage
	Err  error // decode error for known types, nil for unknown types
}

func (Sale) isPayload()          {}
func (Stock) isPayload()         {}
func (Customer) isPayload()      {}
func (LoyaltyPoints) isPayload() {}
func (Alert) isPayload()         {}
func (Unknown) isPayload()       {}

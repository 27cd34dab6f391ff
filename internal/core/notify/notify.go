// Package notify merges store updates into a single capped, ordered and
// filterable notification feed with read state.
package notify

import (
	"slices"
	"strings"
	"time"

	"github.com/colonyops/shopwire/internal/core/events"
)

// Level represents the severity of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Audible reports whether the level rings the bell.
func (l Level) Audible() bool {
	return l == LevelWarning || l == LevelError
}

// Category is the business area a notification belongs to.
type Category string

const (
	CategorySales     Category = "sales"
	CategoryInventory Category = "inventory"
	CategoryCustomers Category = "customers"
	CategorySystem    Category = "system"
)

// Categories lists every category in display order.
var Categories = []Category{CategorySales, CategoryInventory, CategoryCustomers, CategorySystem}

// ParseCategory maps s to a category. Anything unknown is system.
func ParseCategory(s string) Category {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case CategorySales, CategoryInventory, CategoryCustomers:
		return c
	default:
		return CategorySystem
	}
}

// CategoryOf returns the category for an event domain.
func CategoryOf(d events.Domain) Category {
	return ParseCategory(string(d))
}

// Action is a labelled callback attached to a notification.
type Action struct {
	Label string
	Run   func()
}

// Notification represents a single item in the feed.
type Notification struct {
	ID        string      `json:"id"`
	Category  Category    `json:"category"`
	Level     Level       `json:"level"`
	Title     string      `json:"title"`
	Message   string      `json:"message"`
	Read      bool        `json:"read"`
	Timestamp time.Time   `json:"timestamp"`
	EventType events.Type `json:"event_type,omitempty"`
	Actions   []Action    `json:"-"`
}

// Filter selects notifications in List. Zero values match everything.
type Filter struct {
	Categories []Category
	Read       *bool
	Search     string // case-insensitive substring of title or message
}

// Unread is a Filter.Read helper.
func Unread() *bool {
	b := false
	return &b
}

func (f Filter) match(n Notification) bool {
	if len(f.Categories) > 0 && !slices.Contains(f.Categories, n.Category) {
		return false
	}
	if f.Read != nil && n.Read != *f.Read {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(n.Title), q) && !strings.Contains(strings.ToLower(n.Message), q) {
			return false
		}
	}
	return true
}

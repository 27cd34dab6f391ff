package notify

import (
	"crypto/sha256"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/colonyops/shopwire/internal/core/events"
	"github.com/colonyops/shopwire/internal/core/stores"
	"github.com/colonyops/shopwire/internal/metrics"
)

// Bell plays the audible alert.
type Bell interface {
	Ring(level Level)
}

// Source is anything that emits store updates.
type Source interface {
	Observe(fn stores.Observer) (cancel func())
}

// Subscriber is a callback invoked for every notification added to the feed.
type Subscriber func(Notification)

// Options configures a Center.
type Options struct {
	MaxItems     int
	AutoMarkRead bool
	// Sound rings Bell for warning and error items, at most once per
	// BellInterval.
	Sound              bool
	Bell               Bell
	BellInterval       time.Duration
	DisabledCategories []Category
	// Dedupe drops events redelivered after a reconnect, remembering the
	// last DedupeSize events.
	Dedupe     bool
	DedupeSize int
	// ActionsFor attaches extra actions to every notification built from an
	// event.
	ActionsFor func(Notification, events.Event) []Action

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// DefaultOptions returns the default center settings.
func DefaultOptions() Options {
	return Options{
		MaxItems:     50,
		BellInterval: 2 * time.Second,
		Dedupe:       true,
		DedupeSize:   512,
		Logger:       zerolog.Nop(),
	}
}

// Center is the merged notification feed. Items are kept ordered by
// timestamp, newest first; items with equal timestamps keep the newest
// arrival first.
type Center struct {
	opts    Options
	log     zerolog.Logger
	metrics *metrics.Metrics
	seen    *lru.Cache[string, struct{}]
	bell    *rate.Limiter

	mu       sync.Mutex
	items    []Notification
	disabled map[Category]bool
	subs     []*subscription
	cancels  []func()
}

type subscription struct {
	fn Subscriber
}

// NewCenter creates an empty center.
func NewCenter(opts Options) *Center {
	if opts.MaxItems <= 0 {
		opts.MaxItems = 50
	}
	if opts.BellInterval <= 0 {
		opts.BellInterval = 2 * time.Second
	}

	c := &Center{
		opts:     opts,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		bell:     rate.NewLimiter(rate.Every(opts.BellInterval), 1),
		disabled: map[Category]bool{},
	}
	if opts.Dedupe {
		size := opts.DedupeSize
		if size <= 0 {
			size = 512
		}
		// only fails for a non-positive size
		c.seen, _ = lru.New[string, struct{}](size)
	}
	for _, cat := range opts.DisabledCategories {
		c.disabled[cat] = true
	}
	return c
}

// Watch feeds every update of src into the center until Close.
func (c *Center) Watch(src Source) {
	cancel := src.Observe(c.HandleUpdate)
	c.mu.Lock()
	c.cancels = append(c.cancels, cancel)
	c.mu.Unlock()
}

// Close detaches the center from its sources.
func (c *Center) Close() {
	c.mu.Lock()
	cancels := c.cancels
	c.cancels = nil
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// SetCategoryEnabled turns notifications for a category on or off. Stores
// keep aggregating disabled categories.
func (c *Center) SetCategoryEnabled(cat Category, enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enabled {
		delete(c.disabled, cat)
	} else {
		c.disabled[cat] = true
	}
}

// HandleUpdate classifies a store update and adds it to the feed.
func (c *Center) HandleUpdate(u stores.Update) {
	n, ok := Classify(u)
	if !ok {
		return
	}
	if c.isDisabled(n.Category) {
		return
	}
	if c.duplicate(u.Event) {
		c.log.Debug().Str("type", string(u.Event.Type)).Msg("duplicate event suppressed")
		return
	}
	if c.opts.ActionsFor != nil {
		n.Actions = append(n.Actions, c.opts.ActionsFor(n, u.Event)...)
	}
	c.Publish(n)
}

// Publish adds n to the feed. ID and Timestamp are filled in when empty.
// It reports false when n was older than every kept item and fell off the
// end immediately.
func (c *Center) Publish(n Notification) (Notification, bool) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	if n.Category == "" {
		n.Category = CategorySystem
	}
	if n.Level == "" {
		n.Level = LevelInfo
	}
	if c.opts.AutoMarkRead {
		n.Read = true
	}
	n.Actions = append(c.defaultActions(n.ID), n.Actions...)

	c.mu.Lock()
	if c.disabled[n.Category] {
		c.mu.Unlock()
		return n, false
	}
	idx, _ := slices.BinarySearchFunc(c.items, n.Timestamp, func(item Notification, ts time.Time) int {
		if item.Timestamp.After(ts) {
			return -1
		}
		return 1
	})
	c.items = slices.Insert(c.items, idx, n)
	kept := true
	if len(c.items) > c.opts.MaxItems {
		kept = idx < c.opts.MaxItems
		clear(c.items[c.opts.MaxItems:])
		c.items = c.items[:c.opts.MaxItems]
	}
	subs := slices.Clone(c.subs)
	c.mu.Unlock()

	if !kept {
		return n, false
	}

	c.metrics.Notification(string(n.Category), string(n.Level))
	c.ring(n.Level)
	for _, s := range subs {
		c.call(s.fn, n)
	}
	return n, true
}

// Errorf publishes an error-level system notification.
func (c *Center) Errorf(format string, args ...any) {
	c.publishf(LevelError, format, args...)
}

// Warnf publishes a warning-level system notification.
func (c *Center) Warnf(format string, args ...any) {
	c.publishf(LevelWarning, format, args...)
}

// Infof publishes an info-level system notification.
func (c *Center) Infof(format string, args ...any) {
	c.publishf(LevelInfo, format, args...)
}

func (c *Center) publishf(level Level, format string, args ...any) {
	c.Publish(Notification{
		Category: CategorySystem,
		Level:    level,
		Title:    "Realtime",
		Message:  fmt.Sprintf(format, args...),
	})
}

// Subscribe registers fn for every added notification.
func (c *Center) Subscribe(fn Subscriber) (cancel func()) {
	s := &subscription{fn: fn}
	c.mu.Lock()
	c.subs = append(c.subs, s)
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.subs = slices.DeleteFunc(c.subs, func(x *subscription) bool { return x == s })
	}
}

// List returns the notifications matching f, newest first.
func (c *Center) List(f Filter) []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Notification, 0, len(c.items))
	for _, n := range c.items {
		if f.match(n) {
			out = append(out, n)
		}
	}
	return out
}

// Get returns the notification with id.
func (c *Center) Get(id string) (Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.index(id); i >= 0 {
		return c.items[i], true
	}
	return Notification{}, false
}

// Len returns the number of notifications in the feed.
func (c *Center) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// UnreadCount returns the number of unread notifications.
func (c *Center) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, item := range c.items {
		if !item.Read {
			n++
		}
	}
	return n
}

// Counts returns the number of notifications per category.
func (c *Center) Counts() map[Category]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[Category]int, len(Categories))
	for _, item := range c.items {
		out[item.Category]++
	}
	return out
}

// MarkRead marks one notification read. Unknown ids are ignored.
func (c *Center) MarkRead(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.index(id); i >= 0 {
		c.items[i].Read = true
	}
}

// MarkAllRead marks every notification read.
func (c *Center) MarkAllRead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		c.items[i].Read = true
	}
}

// Remove dismisses one notification. Unknown ids are ignored.
func (c *Center) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.index(id); i >= 0 {
		c.items = slices.Delete(c.items, i, i+1)
	}
}

// ClearAll empties the feed. The dedupe memory is kept so a replay after
// clearing does not bring old events back.
func (c *Center) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.items)
	c.items = c.items[:0]
}

func (c *Center) index(id string) int {
	return slices.IndexFunc(c.items, func(n Notification) bool { return n.ID == id })
}

func (c *Center) isDisabled(cat Category) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disabled[cat]
}

// duplicate reports whether e was seen before and remembers it otherwise.
func (c *Center) duplicate(e events.Event) bool {
	if c.seen == nil {
		return false
	}
	found, _ := c.seen.ContainsOrAdd(dedupeKey(e), struct{}{})
	return found
}

// dedupeKey identifies an occurrence by type, producer timestamp and the id
// carried in the payload. Payloads without an id are keyed by a digest of
// their data, so distinct events batched under one timestamp stay distinct.
func dedupeKey(e events.Event) string {
	key := string(e.Type) + "|" + strconv.FormatInt(e.Timestamp.UnixMilli(), 10) + "|"
	if id := payloadID(e.Payload); id != "" {
		return key + id
	}
	sum := sha256.Sum256(e.Raw)
	return key + fmt.Sprintf("%x", sum[:])
}

func payloadID(p events.Payload) string {
	switch p := p.(type) {
	case events.Sale:
		return string(p.ID)
	case events.Stock:
		return string(p.ProductID)
	case events.Customer:
		return string(p.ID)
	case events.LoyaltyPoints:
		return string(p.CustomerID)
	default:
		return ""
	}
}

func (c *Center) defaultActions(id string) []Action {
	return []Action{
		{Label: "Mark read", Run: func() { c.MarkRead(id) }},
		{Label: "Dismiss", Run: func() { c.Remove(id) }},
	}
}

func (c *Center) ring(level Level) {
	if !c.opts.Sound || c.opts.Bell == nil || !level.Audible() {
		return
	}
	if !c.bell.Allow() {
		return
	}
	c.opts.Bell.Ring(level)
}

func (c *Center) call(fn Subscriber, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("notification subscriber panicked")
		}
	}()
	fn(n)
}

package notify

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/shopwire/internal/core/events"
	"github.com/colonyops/shopwire/internal/core/stores"
	"github.com/colonyops/shopwire/internal/core/wire"
)

func event(t *testing.T, raw string) events.Event {
	t.Helper()
	f, err := wire.Decode([]byte(raw))
	require.NoError(t, err)
	return events.FromFrame(f)
}

type fakeBell struct {
	mu     sync.Mutex
	levels []Level
}

func (b *fakeBell) Ring(l Level) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.levels = append(b.levels, l)
}

func (b *fakeBell) rings() []Level {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Level(nil), b.levels...)
}

func newStores() (*stores.Sales, *stores.Inventory, *stores.Customers, *stores.System) {
	opts := stores.DefaultOptions()
	return stores.NewSales(opts), stores.NewInventory(opts), stores.NewCustomers(opts), stores.NewSystem(opts)
}

func TestCenter_MarkAllReadThenNewAlert(t *testing.T) {
	sales, inventory, _, system := newStores()
	c := NewCenter(DefaultOptions())
	c.Watch(sales)
	c.Watch(inventory)
	c.Watch(system)
	defer c.Close()

	sales.HandleEvent(event(t, `{"type":"sale_created","data":{"id":1,"total_amount":20},"timestamp":1000}`))
	inventory.HandleEvent(event(t, `{"type":"stock_low","data":{"product_name":"Milk","current_stock":1,"min_stock":4},"timestamp":2000}`))
	require.Equal(t, 2, c.UnreadCount())

	c.MarkAllRead()
	assert.Zero(t, c.UnreadCount())

	system.HandleEvent(event(t, `{"type":"system_alert","data":{"level":"error","title":"Printer","message":"offline"},"timestamp":3000}`))

	assert.Equal(t, 1, c.UnreadCount())
	items := c.List(Filter{Read: Unread()})
	require.Len(t, items, 1)
	assert.Equal(t, LevelError, items[0].Level)
	assert.Equal(t, CategorySystem, items[0].Category)
}

func TestCenter_OrderingAndCap(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxItems = 10
	opts.Dedupe = false
	c := NewCenter(opts)

	rng := rand.New(rand.NewPCG(7, 11))
	var stamps []int64
	for range 40 {
		ms := rng.Int64N(1_000)
		stamps = append(stamps, ms)
		c.Publish(Notification{Title: "n", Timestamp: time.UnixMilli(ms)})

		items := c.List(Filter{})
		require.LessOrEqual(t, len(items), 10)
		for i := 1; i < len(items); i++ {
			require.False(t, items[i].Timestamp.After(items[i-1].Timestamp), "list must be newest first")
		}
	}

	sort.Slice(stamps, func(i, j int) bool { return stamps[i] > stamps[j] })
	items := c.List(Filter{})
	require.Len(t, items, 10)
	for i, n := range items {
		assert.Equal(t, stamps[i], n.Timestamp.UnixMilli())
	}
}

func TestCenter_TiesKeepNewestArrivalFirst(t *testing.T) {
	c := NewCenter(DefaultOptions())
	ts := time.UnixMilli(5000)
	first, _ := c.Publish(Notification{Title: "first", Timestamp: ts})
	second, _ := c.Publish(Notification{Title: "second", Timestamp: ts})

	items := c.List(Filter{})
	require.Len(t, items, 2)
	assert.Equal(t, second.ID, items[0].ID)
	assert.Equal(t, first.ID, items[1].ID)
}

func TestCenter_EvictsOldestRegardlessOfReadState(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxItems = 2
	c := NewCenter(opts)

	old, _ := c.Publish(Notification{Title: "old", Timestamp: time.UnixMilli(1)})
	c.MarkRead(old.ID)
	c.Publish(Notification{Title: "mid", Timestamp: time.UnixMilli(2)})
	c.Publish(Notification{Title: "new", Timestamp: time.UnixMilli(3)})

	_, ok := c.Get(old.ID)
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())

	_, kept := c.Publish(Notification{Title: "ancient", Timestamp: time.UnixMilli(0)})
	assert.False(t, kept)
	assert.Equal(t, 2, c.Len())
}

func TestCenter_Filter(t *testing.T) {
	c := NewCenter(DefaultOptions())
	a, _ := c.Publish(Notification{Category: CategorySales, Title: "New sale", Message: "S-1 for 20.00"})
	c.Publish(Notification{Category: CategoryInventory, Title: "Low stock", Message: "Milk has 1 left"})
	c.Publish(Notification{Category: CategorySystem, Title: "Printer", Message: "MILK carton jam"})
	c.MarkRead(a.ID)

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{name: "all", filter: Filter{}, want: []string{"Printer", "Low stock", "New sale"}},
		{name: "category", filter: Filter{Categories: []Category{CategorySales, CategorySystem}}, want: []string{"Printer", "New sale"}},
		{name: "unread", filter: Filter{Read: Unread()}, want: []string{"Printer", "Low stock"}},
		{name: "search is case-insensitive", filter: Filter{Search: "milk"}, want: []string{"Printer", "Low stock"}},
		{name: "search title", filter: Filter{Search: "SALE"}, want: []string{"New sale"}},
		{name: "combined", filter: Filter{Search: "milk", Categories: []Category{CategoryInventory}}, want: []string{"Low stock"}},
		{name: "no match", filter: Filter{Search: "refund"}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := []string{}
			for _, n := range c.List(tt.filter) {
				got = append(got, n.Title)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCenter_OperationsAreIdempotent(t *testing.T) {
	c := NewCenter(DefaultOptions())
	n, _ := c.Publish(Notification{Title: "x"})

	assert.NotPanics(t, func() {
		c.MarkRead("missing")
		c.Remove("missing")
		c.MarkRead(n.ID)
		c.MarkRead(n.ID)
		c.MarkAllRead()
		c.MarkAllRead()
	})
	assert.Zero(t, c.UnreadCount())

	c.Remove(n.ID)
	c.Remove(n.ID)
	assert.Zero(t, c.Len())

	c.ClearAll()
	c.ClearAll()
	assert.Empty(t, c.List(Filter{}))
}

func TestCenter_AutoMarkRead(t *testing.T) {
	opts := DefaultOptions()
	opts.AutoMarkRead = true
	c := NewCenter(opts)
	c.Infof("connected to %s", "ws")

	assert.Zero(t, c.UnreadCount())
	assert.Equal(t, 1, c.Len())
}

func TestCenter_DisabledCategoriesStillUpdateStores(t *testing.T) {
	sales, _, _, _ := newStores()
	opts := DefaultOptions()
	opts.DisabledCategories = []Category{CategorySales}
	c := NewCenter(opts)
	c.Watch(sales)

	sales.HandleEvent(event(t, `{"type":"sale_created","data":{"id":1,"total_amount":5}}`))
	assert.Zero(t, c.Len())
	assert.Equal(t, 1, sales.Stats().TodayCount)

	c.SetCategoryEnabled(CategorySales, true)
	sales.HandleEvent(event(t, `{"type":"sale_created","data":{"id":2,"total_amount":5}}`))
	assert.Equal(t, 1, c.Len())
}

func TestCenter_DedupeRedeliveredEvents(t *testing.T) {
	sales, _, _, _ := newStores()
	c := NewCenter(DefaultOptions())
	c.Watch(sales)

	raw := `{"type":"sale_created","data":{"id":42,"total_amount":150000},"timestamp":1718000000000}`
	sales.HandleEvent(event(t, raw))
	sales.HandleEvent(event(t, raw))
	sales.HandleEvent(event(t, `{"type":"sale_created","data":{"id":43,"total_amount":1},"timestamp":1718000000000}`))

	assert.Equal(t, 2, c.Len(), "redelivery collapses into one notification")
	assert.Equal(t, 3, sales.Stats().TodayCount, "stores count every delivery")
}

func TestCenter_DedupeKeepsBatchedEvents(t *testing.T) {
	sales, _, _, system := newStores()
	c := NewCenter(DefaultOptions())
	c.Watch(sales)
	c.Watch(system)

	system.HandleEvent(event(t, `{"type":"system_alert","data":{"level":"error","title":"Printer offline","source":"printer-1"},"timestamp":1718000000000}`))
	system.HandleEvent(event(t, `{"type":"system_alert","data":{"level":"error","title":"Printer offline","source":"printer-2"},"timestamp":1718000000000}`))
	assert.Equal(t, 2, c.Len(), "alerts sharing a title and timestamp are distinct")

	sales.HandleEvent(event(t, `{"type":"sale_created","data":{"total_amount":100},"timestamp":1718000000000}`))
	sales.HandleEvent(event(t, `{"type":"sale_created","data":{"total_amount":250},"timestamp":1718000000000}`))
	assert.Equal(t, 4, c.Len(), "id-less sales in one batch are distinct")
	assert.Equal(t, 2, sales.Stats().TodayCount)

	sales.HandleEvent(event(t, `{"type":"sale_created","data":{"total_amount":250},"timestamp":1718000000000}`))
	assert.Equal(t, 4, c.Len(), "an identical redelivery is still suppressed")
}

func TestCenter_DedupeDisabled(t *testing.T) {
	sales, _, _, _ := newStores()
	opts := DefaultOptions()
	opts.Dedupe = false
	c := NewCenter(opts)
	c.Watch(sales)

	raw := `{"type":"sale_created","data":{"id":42},"timestamp":1718000000000}`
	sales.HandleEvent(event(t, raw))
	sales.HandleEvent(event(t, raw))
	assert.Equal(t, 2, c.Len())
}

func TestCenter_BellIsRateLimited(t *testing.T) {
	bell := &fakeBell{}
	opts := DefaultOptions()
	opts.Sound = true
	opts.Bell = bell
	opts.BellInterval = time.Hour
	c := NewCenter(opts)

	c.Infof("quiet")
	c.Warnf("first")
	c.Errorf("second")

	assert.Equal(t, []Level{LevelWarning}, bell.rings())
}

func TestCenter_SoundOff(t *testing.T) {
	bell := &fakeBell{}
	opts := DefaultOptions()
	opts.Bell = bell
	c := NewCenter(opts)
	c.Errorf("boom")
	assert.Empty(t, bell.rings())
}

func TestCenter_SubscribeAndActions(t *testing.T) {
	c := NewCenter(DefaultOptions())

	var got []Notification
	cancel := c.Subscribe(func(n Notification) { got = append(got, n) })
	c.Subscribe(func(Notification) { panic("bad subscriber") })

	n, ok := c.Publish(Notification{Title: "hello"})
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, n.ID, got[0].ID)

	require.Len(t, n.Actions, 2)
	assert.Equal(t, "Mark read", n.Actions[0].Label)
	n.Actions[0].Run()
	assert.Zero(t, c.UnreadCount())
	n.Actions[1].Run()
	assert.Zero(t, c.Len())

	cancel()
	c.Publish(Notification{Title: "again"})
	assert.Len(t, got, 1)
}

func TestCenter_ActionsFor(t *testing.T) {
	inventory := stores.NewInventory(stores.DefaultOptions())
	opts := DefaultOptions()
	var reordered string
	opts.ActionsFor = func(n Notification, e events.Event) []Action {
		if e.Type != events.StockOut {
			return nil
		}
		return []Action{{Label: "Reorder", Run: func() { reordered = n.Message }}}
	}
	c := NewCenter(opts)
	c.Watch(inventory)

	inventory.HandleEvent(event(t, `{"type":"stock_out","data":{"product_name":"Bread"}}`))

	items := c.List(Filter{})
	require.Len(t, items, 1)
	require.Len(t, items[0].Actions, 3)
	items[0].Actions[2].Run()
	assert.Equal(t, "Bread is out of stock", reordered)
}

func TestCenter_Counts(t *testing.T) {
	c := NewCenter(DefaultOptions())
	for i := range 3 {
		c.Publish(Notification{Category: CategorySales, Title: fmt.Sprint(i)})
	}
	c.Publish(Notification{Category: CategoryCustomers})

	assert.Equal(t, map[Category]int{CategorySales: 3, CategoryCustomers: 1}, c.Counts())
}

func TestCenter_CloseStopsWatching(t *testing.T) {
	sales, _, _, _ := newStores()
	c := NewCenter(DefaultOptions())
	c.Watch(sales)
	c.Close()

	sales.HandleEvent(event(t, `{"type":"sale_created","data":{"id":1}}`))
	assert.Zero(t, c.Len())
}

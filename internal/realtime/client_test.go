package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/shopwire/internal/core/config"
	"github.com/colonyops/shopwire/internal/core/connection"
	"github.com/colonyops/shopwire/internal/core/events"
	"github.com/colonyops/shopwire/internal/core/notify"
	"github.com/colonyops/shopwire/internal/core/registry"
	"github.com/colonyops/shopwire/internal/core/transport/memtransport"
	"github.com/colonyops/shopwire/internal/core/transport/polltransport"
	"github.com/colonyops/shopwire/internal/core/transport/redistransport"
	"github.com/colonyops/shopwire/internal/core/transport/wstransport"
	"github.com/colonyops/shopwire/internal/core/wire"
)

const waitFor = 2 * time.Second

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Connection.ReconnectDelay = 5 * time.Millisecond
	cfg.Connection.MaxReconnectDelay = 20 * time.Millisecond
	cfg.Connection.HeartbeatInterval = 0
	cfg.Connection.HeartbeatTimeout = 0
	return &cfg
}

func newClient(t *testing.T, cfg *config.Config) (*Client, *memtransport.Transport) {
	t.Helper()
	tr := memtransport.New()
	c, err := New(cfg, Deps{Transport: tr, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = c.Stop(ctx)
	})
	return c, tr
}

func start(t *testing.T, c *Client, tr *memtransport.Transport) *memtransport.Conn {
	t.Helper()
	require.NoError(t, c.Start(context.Background()))
	conn := tr.WaitForConn(1, waitFor)
	require.NotNil(t, conn)
	require.Eventually(t, func() bool { return c.Status() == connection.StatusConnected }, waitFor, 5*time.Millisecond)
	return conn
}

func subscribedTo(conn *memtransport.Conn, topic string) int {
	n := 0
	for _, ch := range conn.WrittenAction(wire.ActionSubscribe) {
		if ch == topic {
			n++
		}
	}
	return n
}

type recorder struct {
	mu   sync.Mutex
	seen []events.Type
}

func (r *recorder) HandleEvent(e events.Event) {
	r.mu.Lock()
	r.seen = append(r.seen, e.Type)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func TestClient_DefaultStoresSubscribeOnConnect(t *testing.T) {
	c, tr := newClient(t, testConfig())
	conn := start(t, c, tr)

	require.Eventually(t, func() bool {
		return len(conn.WrittenAction(wire.ActionSubscribe)) == 4
	}, waitFor, 5*time.Millisecond)
	assert.ElementsMatch(t,
		[]string{"sales", "inventory", "customers", "system"},
		conn.WrittenAction(wire.ActionSubscribe))
}

func TestClient_SalesAccumulate(t *testing.T) {
	c, tr := newClient(t, testConfig())
	conn := start(t, c, tr)

	conn.Push(`{"type":"sale_created","topic":"sales","data":{"id":1,"total_amount":150000},"timestamp":1000}`)
	conn.Push(`{"type":"sale_created","topic":"sales","data":{"id":2,"total_amount":150000},"timestamp":2000}`)

	require.Eventually(t, func() bool { return c.Sales.Stats().TodayCount == 2 }, waitFor, 5*time.Millisecond)
	assert.InDelta(t, 300000, c.Sales.Stats().TodayTotal, 0.001)
	require.Eventually(t, func() bool { return c.Notifications.Len() == 2 }, waitFor, 5*time.Millisecond)
}

func TestClient_RemainingListenerStillReceives(t *testing.T) {
	c, tr := newClient(t, testConfig())
	conn := start(t, c, tr)

	first, second := &recorder{}, &recorder{}
	require.NoError(t, c.Subscribe("inventory", first))
	require.NoError(t, c.Subscribe("inventory", second))
	c.Unsubscribe("inventory", first)

	conn.Push(`{"type":"stock_updated","topic":"inventory","data":{"product_id":7,"current_stock":40,"min_stock":5}}`)

	require.Eventually(t, func() bool { return second.count() == 1 }, waitFor, 5*time.Millisecond)
	assert.Zero(t, first.count())
}

func TestClient_MountsShareOneWireSubscription(t *testing.T) {
	c, tr := newClient(t, testConfig())
	conn := start(t, c, tr)

	a := c.UseInventory()
	b := c.UseInventory()
	assert.Equal(t, 3, c.Registry.RefCount("inventory"))

	conn.Push(`{"type":"stock_out","data":{"product_id":3,"product_name":"Flour","current_stock":0}}`)
	require.Eventually(t, func() bool { return b.Stats().OutOfStockCount == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, 1, a.Stats().OutOfStockCount)

	a.Close()
	a.Close()
	assert.Equal(t, 2, c.Registry.RefCount("inventory"))

	conn.Push(`{"type":"stock_out","data":{"product_id":4,"product_name":"Salt","current_stock":0}}`)
	require.Eventually(t, func() bool { return b.Stats().OutOfStockCount == 2 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, 1, a.Stats().OutOfStockCount)

	b.Close()
	assert.Equal(t, 1, subscribedTo(conn, "inventory"))
	assert.Empty(t, conn.WrittenAction(wire.ActionUnsubscribe), "default store keeps the topic open")
}

func TestClient_MountClear(t *testing.T) {
	c, tr := newClient(t, testConfig())
	conn := start(t, c, tr)

	m := c.UseSales()
	defer m.Close()

	conn.Push(`{"type":"sale_created","data":{"id":9,"total_amount":12.5}}`)
	require.Eventually(t, func() bool { return len(m.Events()) == 1 }, waitFor, 5*time.Millisecond)

	latest, ok := m.Latest()
	require.True(t, ok)
	assert.Equal(t, events.SaleCreated, latest.Type)

	m.Clear()
	assert.Empty(t, m.Events())
	assert.Equal(t, 1, m.Stats().TodayCount)
	assert.Len(t, c.Sales.Events(), 1, "clearing a mount leaves the shared store alone")
}

func TestClient_ExtraTopics(t *testing.T) {
	cfg := testConfig()
	cfg.Topics = []string{"product:*"}
	c, tr := newClient(t, cfg)
	conn := start(t, c, tr)

	require.Eventually(t, func() bool { return subscribedTo(conn, "product:*") == 1 }, waitFor, 5*time.Millisecond)

	conn.Push(`{"type":"product_updated","topic":"product:42","data":{"product_id":42,"current_stock":10}}`)
	require.Eventually(t, func() bool { return len(c.Inventory.Events()) == 1 }, waitFor, 5*time.Millisecond)
}

func TestClient_ExhaustedReconnectIsNotified(t *testing.T) {
	cfg := testConfig()
	cfg.Connection.MaxReconnectAttempts = 2
	c, tr := newClient(t, cfg)
	tr.FailDials(-1)

	require.NoError(t, c.Start(context.Background()))

	require.Eventually(t, func() bool {
		return len(c.Notifications.List(notify.Filter{Search: "connection lost"})) == 1
	}, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool { return c.Status() == connection.StatusDisconnected }, waitFor, 5*time.Millisecond)

	items := c.Notifications.List(notify.Filter{Search: "connection lost"})
	assert.Equal(t, notify.LevelError, items[0].Level)
	assert.Equal(t, notify.CategorySystem, items[0].Category)
}

func TestClient_AcceptThenDropExhaustsReconnects(t *testing.T) {
	c, tr := newClient(t, testConfig())
	require.NoError(t, c.Start(context.Background()))

	for i := 1; i <= 6; i++ {
		conn := tr.WaitForConn(i, waitFor)
		require.NotNil(t, conn, "open %d", i)
		require.Eventually(t, func() bool { return c.Status() == connection.StatusConnected }, waitFor, time.Millisecond)
		conn.Drop()
	}

	require.Eventually(t, func() bool { return c.Status() == connection.StatusDisconnected }, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(c.Notifications.List(notify.Filter{Search: "connection lost"})) == 1
	}, waitFor, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 6, tr.Dials(), "no attempt after the ceiling")
}

func TestClient_UnknownTypeReachesFeed(t *testing.T) {
	c, tr := newClient(t, testConfig())
	conn := start(t, c, tr)

	conn.Push(`{"type":"pallet_moved","data":{"id":4},"timestamp":1718000000000}`)

	require.Eventually(t, func() bool {
		return len(c.Notifications.List(notify.Filter{Search: "pallet_moved"})) == 1
	}, waitFor, 5*time.Millisecond)

	n := c.Notifications.List(notify.Filter{Search: "pallet_moved"})[0]
	assert.Equal(t, notify.CategorySystem, n.Category)
	assert.Equal(t, notify.LevelInfo, n.Level)
	assert.Equal(t, "pallet_moved", n.Message)
	assert.Equal(t, 1, c.System.Stats().Unrecognized)
}

func TestClient_ListenerPanicIsNotified(t *testing.T) {
	c, tr := newClient(t, testConfig())
	c.On(events.SaleCreated, registry.Func(func(events.Event) { panic("boom") }))
	conn := start(t, c, tr)

	conn.Push(`{"type":"sale_created","data":{"id":1,"total_amount":10},"timestamp":1718000000000}`)

	require.Eventually(t, func() bool {
		return len(c.Notifications.List(notify.Filter{Search: "listener failed"})) == 1
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, 1, c.Sales.Stats().TodayCount, "other listeners still run")
}

func TestClient_RestoredConnectionIsNotified(t *testing.T) {
	c, tr := newClient(t, testConfig())
	conn := start(t, c, tr)

	conn.Drop()
	require.NotNil(t, tr.WaitForConn(2, waitFor))

	require.Eventually(t, func() bool {
		return len(c.Notifications.List(notify.Filter{Search: "restored"})) == 1
	}, waitFor, 5*time.Millisecond)
}

func TestClient_OnType(t *testing.T) {
	c, tr := newClient(t, testConfig())
	conn := start(t, c, tr)

	rec := &recorder{}
	cancel := c.On(events.LoyaltyPointsChanged, rec)
	defer cancel()

	conn.Push(`{"type":"loyalty_points_changed","data":{"customer_id":5,"delta":20}}`)
	require.Eventually(t, func() bool { return rec.count() == 1 }, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool { return c.Customers.Stats().LoyaltyPointsNet == 20 }, waitFor, 5*time.Millisecond)
}

func TestClient_Stop(t *testing.T) {
	c, tr := newClient(t, testConfig())
	conn := start(t, c, tr)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, c.Stop(ctx))

	assert.True(t, conn.Closed())
	assert.Equal(t, connection.StatusDisconnected, c.Status())
	assert.Empty(t, c.Snapshot().SessionID)
}

func TestClient_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	tr := memtransport.New()
	c, err := New(testConfig(), Deps{Transport: tr, Registerer: reg, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer func() { _ = c.Stop(context.Background()) }()

	conn := start(t, c, tr)
	conn.Push(`not json`)
	conn.Push(`{"type":"customer_created","data":{"id":1,"name":"Ada"}}`)

	require.Eventually(t, func() bool { return c.Customers.Stats().NewToday == 1 }, waitFor, 5*time.Millisecond)
	n, err := testutil.GatherAndCount(reg, "shopwire_dispatch_frames_dropped_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestClient_SubscribeValidates(t *testing.T) {
	c, _ := newClient(t, testConfig())

	assert.NoError(t, c.Subscribe("sales", registry.Func(func(events.Event) {})))
	assert.ErrorIs(t, c.Subscribe("sales", nil), registry.ErrNilListener)
	assert.ErrorIs(t, c.Subscribe("", &recorder{}), registry.ErrEmptyTopic)
}

func TestNewTransport(t *testing.T) {
	cfg := config.DefaultConfig().Transport

	tr, err := NewTransport(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &wstransport.Transport{}, tr)

	cfg.Kind = config.TransportPoll
	cfg.URL = "http://localhost:8080"
	tr, err = NewTransport(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &polltransport.Transport{}, tr)

	cfg.Kind = config.TransportRedis
	tr, err = NewTransport(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &redistransport.Transport{}, tr)
	assert.NoError(t, tr.(*redistransport.Transport).Close())

	cfg.Kind = "smoke"
	_, err = NewTransport(cfg, nil)
	assert.ErrorIs(t, err, ErrUnknownTransport)
}

func TestEnvToken(t *testing.T) {
	assert.Nil(t, EnvToken(""))

	t.Setenv("SHOPWIRE_TEST_TOKEN", "abc")
	token, err := EnvToken("SHOPWIRE_TEST_TOKEN")(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", token)
}

// Package realtime assembles the realtime engine: one connection shared by
// every consumer, the subscription registry, the dispatcher, the default
// aggregation stores and the notification center.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/colonyops/shopwire/internal/core/config"
	"github.com/colonyops/shopwire/internal/core/connection"
	"github.com/colonyops/shopwire/internal/core/dispatch"
	"github.com/colonyops/shopwire/internal/core/events"
	"github.com/colonyops/shopwire/internal/core/logging"
	"github.com/colonyops/shopwire/internal/core/notify"
	"github.com/colonyops/shopwire/internal/core/registry"
	"github.com/colonyops/shopwire/internal/core/stores"
	"github.com/colonyops/shopwire/internal/core/transport"
	"github.com/colonyops/shopwire/internal/metrics"
)

// Deps are the collaborators a Client does not build itself.
type Deps struct {
	// Transport overrides the strategy selected by the config.
	Transport transport.Transport
	// Token overrides the token read from Transport.TokenEnv.
	Token transport.TokenSource
	// Registerer receives the engine metrics. Nil disables metrics.
	Registerer prometheus.Registerer
	Bell       notify.Bell
	Logger     zerolog.Logger
}

// Client is the realtime engine. Consumers share its single connection.
type Client struct {
	Manager       *connection.Manager
	Registry      *registry.Registry
	Dispatcher    *dispatch.Dispatcher
	Notifications *notify.Center
	Metrics       *metrics.Metrics

	Sales     *stores.Sales
	Inventory *stores.Inventory
	Customers *stores.Customers
	System    *stores.System

	cfg       *config.Config
	transport transport.Transport
	storeOpts stores.Options
	reset     *stores.DailyReset
	log       zerolog.Logger

	mu      sync.Mutex
	started bool
	cancels []func()
}

// New wires a Client from cfg. Nothing touches the network until Start.
func New(cfg *config.Config, deps Deps) (*Client, error) {
	log := deps.Logger.Hook(logging.ContextHook{})

	var m *metrics.Metrics
	if deps.Registerer != nil {
		var err error
		if m, err = metrics.New(deps.Registerer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	tr := deps.Transport
	if tr == nil {
		token := deps.Token
		if token == nil {
			token = EnvToken(cfg.Transport.TokenEnv)
		}
		var err error
		if tr, err = NewTransport(cfg.Transport, token); err != nil {
			return nil, err
		}
	}

	loc, err := cfg.Stores.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	c := &Client{
		Metrics:   m,
		cfg:       cfg,
		transport: tr,
		log:       logging.Sub(log, "realtime"),
		storeOpts: stores.Options{
			HistorySize: cfg.Stores.HistorySize,
			RecentSize:  cfg.Stores.RecentSize,
			AlertSize:   cfg.Stores.AlertSize,
			Logger:      logging.Sub(log, "stores"),
		},
	}

	c.Manager = connection.New(tr, connection.Options{
		MaxReconnectAttempts: cfg.Connection.MaxReconnectAttempts,
		ReconnectDelay:       cfg.Connection.ReconnectDelay,
		MaxReconnectDelay:    cfg.Connection.MaxReconnectDelay,
		Backoff:              connection.BackoffKind(cfg.Connection.Backoff),
		HeartbeatInterval:    cfg.Connection.HeartbeatInterval,
		HeartbeatTimeout:     cfg.Connection.HeartbeatTimeout,
		StableAfter:          cfg.Connection.StableAfter,
		Logger:               logging.Sub(log, "connection").With().Str("transport", tr.Name()).Logger(),
		Metrics:              m,
	})
	c.Registry = registry.New(c.Manager, logging.Sub(log, "registry"), m)
	c.Dispatcher = dispatch.New(c.Registry, logging.Sub(log, "dispatch"), m)
	c.Manager.SetFrameHandler(c.Dispatcher.HandleMessage)

	c.Sales = stores.NewSales(c.storeOpts)
	c.Inventory = stores.NewInventory(c.storeOpts)
	c.Customers = stores.NewCustomers(c.storeOpts)
	c.System = stores.NewSystem(c.storeOpts)

	c.reset, err = stores.NewDailyReset(cfg.Stores.DailyReset, loc, logging.Sub(log, "reset"),
		c.Sales, c.Inventory, c.Customers, c.System)
	if err != nil {
		return nil, err
	}

	disabled := make([]notify.Category, 0, len(cfg.Notifications.DisabledCategories))
	for _, name := range cfg.Notifications.DisabledCategories {
		disabled = append(disabled, notify.ParseCategory(name))
	}
	c.Notifications = notify.NewCenter(notify.Options{
		MaxItems:           cfg.Notifications.MaxItems,
		AutoMarkRead:       cfg.Notifications.AutoMarkRead,
		Sound:              cfg.Notifications.Sound,
		Bell:               deps.Bell,
		BellInterval:       cfg.Notifications.BellInterval,
		DisabledCategories: disabled,
		Dedupe:             cfg.Notifications.DedupeEnabled(),
		DedupeSize:         cfg.Notifications.DedupeSize,
		Logger:             logging.Sub(log, "notify"),
		Metrics:            m,
	})

	if err := c.wire(); err != nil {
		c.Registry.Close()
		c.Notifications.Close()
		return nil, err
	}
	return c, nil
}

// wire subscribes the default stores and the configured extra topics, and
// routes connection failures into the notification feed.
func (c *Client) wire() error {
	defaults := []struct {
		domain events.Domain
		store  registry.Listener
		source notify.Source
	}{
		{events.DomainSales, c.Sales, c.Sales},
		{events.DomainInventory, c.Inventory, c.Inventory},
		{events.DomainCustomers, c.Customers, c.Customers},
		{events.DomainSystem, c.System, c.System},
	}
	for _, d := range defaults {
		if err := c.Registry.Subscribe(string(d.domain), d.store); err != nil {
			return fmt.Errorf("subscribe %s store: %w", d.domain, err)
		}
		c.Notifications.Watch(d.source)
	}

	if len(c.cfg.Topics) > 0 {
		trace := registry.Func(func(e events.Event) {
			c.log.Debug().Str("type", string(e.Type)).Str("topic", e.Topic).Msg("event on extra topic")
		})
		for _, topic := range c.cfg.Topics {
			if err := c.Registry.Subscribe(topic, trace); err != nil {
				return fmt.Errorf("subscribe %q: %w", topic, err)
			}
		}
	}

	c.Dispatcher.OnUnrecognized(func(e events.Event) {
		c.log.Info().Str("type", string(e.Type)).Str("topic", e.Topic).Msg("event type not mapped, routed to system")
	})
	c.Dispatcher.OnPanic(func(e events.Event, _ registry.Listener, _ any) {
		c.Notifications.Errorf("A listener failed while handling %s", e.Type)
	})

	var lost bool
	var lostMu sync.Mutex
	c.cancels = append(c.cancels,
		c.Manager.OnError(func(err error) {
			if errors.Is(err, connection.ErrReconnectExhausted) {
				c.Notifications.Errorf("Connection lost: %v", err)
			}
		}),
		c.Manager.OnDisconnected(func(err error) {
			if err != nil {
				lostMu.Lock()
				lost = true
				lostMu.Unlock()
			}
		}),
		c.Manager.OnConnected(func(string) {
			lostMu.Lock()
			restored := lost
			lost = false
			lostMu.Unlock()
			if restored {
				c.Notifications.Infof("Connection restored")
			}
		}),
	)
	return nil
}

// Start opens the connection and starts the daily reset schedule. Progress
// is reported through the manager signals.
func (c *Client) Start(context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.started = true
		c.reset.Start()
		c.log.Info().
			Str("transport", c.transport.Name()).
			Time("next_reset", c.reset.Next()).
			Msg("realtime client started")
	}
	c.mu.Unlock()

	c.Manager.Connect()
	return nil
}

// Stop closes the connection and releases every resource. The client cannot
// be restarted afterwards.
func (c *Client) Stop(ctx context.Context) error {
	c.Manager.Disconnect()
	waitErr := c.Manager.Wait(ctx)

	c.mu.Lock()
	started := c.started
	c.started = false
	cancels := c.cancels
	c.cancels = nil
	c.mu.Unlock()

	if started {
		c.reset.Stop()
	}
	for _, cancel := range cancels {
		cancel()
	}
	c.Notifications.Close()
	c.Registry.Close()

	var closeErr error
	if closer, ok := c.transport.(io.Closer); ok {
		closeErr = closer.Close()
	}
	return errors.Join(waitErr, closeErr)
}

// Status returns the connection status.
func (c *Client) Status() connection.Status {
	return c.Manager.Status()
}

// Snapshot returns the full connection state.
func (c *Client) Snapshot() connection.Snapshot {
	return c.Manager.Snapshot()
}

// Subscribe registers l for topic. See registry.Registry.Subscribe.
func (c *Client) Subscribe(topic string, l registry.Listener) error {
	return c.Registry.Subscribe(topic, l)
}

// Unsubscribe removes l from topic.
func (c *Client) Unsubscribe(topic string, l registry.Listener) {
	c.Registry.Unsubscribe(topic, l)
}

// On registers l for one event type regardless of topic.
func (c *Client) On(t events.Type, l registry.Listener) (cancel func()) {
	return c.Dispatcher.On(t, l)
}

// UseSales mounts a private sales store.
func (c *Client) UseSales() *Mount[stores.SalesStats] {
	return mount[stores.SalesStats](c, events.DomainSales, stores.NewSales(c.storeOpts))
}

// UseInventory mounts a private inventory store.
func (c *Client) UseInventory() *Mount[stores.InventoryStats] {
	return mount[stores.InventoryStats](c, events.DomainInventory, stores.NewInventory(c.storeOpts))
}

// UseCustomers mounts a private customers store.
func (c *Client) UseCustomers() *Mount[stores.CustomerStats] {
	return mount[stores.CustomerStats](c, events.DomainCustomers, stores.NewCustomers(c.storeOpts))
}

// UseSystem mounts a private system store.
func (c *Client) UseSystem() *Mount[stores.SystemStats] {
	return mount[stores.SystemStats](c, events.DomainSystem, stores.NewSystem(c.storeOpts))
}

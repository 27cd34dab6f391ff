package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/shopwire/internal/core/events"
	"github.com/colonyops/shopwire/internal/core/notify"
	"github.com/colonyops/shopwire/internal/core/stores"
	"github.com/colonyops/shopwire/internal/printer"
	"github.com/colonyops/shopwire/internal/realtime"
	"github.com/colonyops/shopwire/pkg/iojson"
)

type ReplayCmd struct {
	flags *Flags
	input iojson.FileReader[json.RawMessage]

	// flags
	jsonOutput    bool
	notifications bool
}

// NewReplayCmd creates a new replay command
func NewReplayCmd(flags *Flags) *ReplayCmd {
	return &ReplayCmd{flags: flags}
}

// Register adds the replay command to the application
func (cmd *ReplayCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "replay",
		Usage:     "Feed recorded frames through the engine offline",
		UsageText: "shopwire replay [-f frames.json] [--json] [--notifications]",
		Description: `Reads recorded wire frames (a JSON array or one frame per line) and
dispatches them through the stores and the notification center without
opening a connection. Prints the resulting statistics.`,
		Flags: []cli.Flag{
			cmd.input.Flag(),
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "output the summary as JSON",
				Destination: &cmd.jsonOutput,
			},
			&cli.BoolFlag{
				Name:        "notifications",
				Usage:       "include the notification feed",
				Destination: &cmd.notifications,
			},
		},
		Action: cmd.run,
	})

	return app
}

// ReplaySummary is the outcome of a replay.
type ReplaySummary struct {
	Frames        int                     `json:"frames"`
	Dropped       int                     `json:"dropped"`
	Delivered     int                     `json:"delivered"`
	UnknownTypes  []string                `json:"unknown_types,omitempty"`
	Sales         stores.SalesStats       `json:"sales"`
	Inventory     stores.InventoryStats   `json:"inventory"`
	Customers     stores.CustomerStats    `json:"customers"`
	System        stores.SystemStats      `json:"system"`
	Unread        int                     `json:"unread"`
	Notifications []notify.Notification   `json:"notifications,omitempty"`
	ByCategory    map[notify.Category]int `json:"by_category"`
}

func (cmd *ReplayCmd) run(ctx context.Context, c *cli.Command) error {
	frames, err := cmd.input.ReadAll()
	if err != nil {
		return fmt.Errorf("read frames: %w", err)
	}

	cfg := *cmd.flags.Config
	cfg.Notifications.Sound = false

	client, err := realtime.New(&cfg, realtime.Deps{Logger: log.Logger})
	if err != nil {
		return fmt.Errorf("create realtime client: %w", err)
	}
	defer func() { _ = client.Stop(ctx) }()

	var (
		dropped   int
		delivered int
		unknown   []string
	)
	client.Dispatcher.OnDrop(func([]byte, error) { dropped++ })
	client.Dispatcher.OnDispatch(func(events.Event, int) { delivered++ })
	client.Dispatcher.OnUnrecognized(func(e events.Event) {
		if !slices.Contains(unknown, string(e.Type)) {
			unknown = append(unknown, string(e.Type))
		}
	})

	for _, raw := range frames {
		client.Dispatcher.HandleMessage(raw)
	}

	summary := ReplaySummary{
		Frames:       len(frames),
		Dropped:      dropped,
		Delivered:    delivered,
		UnknownTypes: unknown,
		Sales:        client.Sales.Stats(),
		Inventory:    client.Inventory.Stats(),
		Customers:    client.Customers.Stats(),
		System:       client.System.Stats(),
		Unread:       client.Notifications.UnreadCount(),
		ByCategory:   client.Notifications.Counts(),
	}
	if cmd.notifications {
		summary.Notifications = client.Notifications.List(notify.Filter{})
	}

	if cmd.jsonOutput {
		return iojson.WriteWith(c.Root().Writer, errWriter(c), summary)
	}

	p := printer.New(c.Root().Writer)
	p.Successf("replayed %d frame(s), %d delivered, %d dropped", summary.Frames, summary.Delivered, summary.Dropped)
	p.Printf("  sales      %d today, total %.2f, %d cancelled",
		summary.Sales.TodayCount, summary.Sales.TodayTotal, summary.Sales.CancelledToday)
	p.Printf("  inventory  %d low stock, %d out of stock, %d updates",
		summary.Inventory.LowStockCount, summary.Inventory.OutOfStockCount, summary.Inventory.StockUpdates)
	p.Printf("  customers  %d new, %d updated, %+d loyalty points",
		summary.Customers.NewToday, summary.Customers.UpdatedToday, summary.Customers.LoyaltyPointsNet)
	p.Printf("  system     %d unrecognized", summary.System.Unrecognized)
	for _, typ := range summary.UnknownTypes {
		p.Printf("             %s", p.Muted(typ))
	}
	p.Printf("")
	p.Infof("%d notification(s), %d unread", client.Notifications.Len(), summary.Unread)

	for _, n := range summary.Notifications {
		p.Printf("  %s %s %s", p.Label(string(n.Level), string(n.Level)), n.Title, p.Muted(n.Message))
	}
	return nil
}

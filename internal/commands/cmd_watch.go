package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/colonyops/shopwire/internal/core/connection"
	"github.com/colonyops/shopwire/internal/core/logging"
	"github.com/colonyops/shopwire/internal/core/notify"
	"github.com/colonyops/shopwire/internal/core/transport"
	"github.com/colonyops/shopwire/internal/printer"
	"github.com/colonyops/shopwire/internal/realtime"
	"github.com/colonyops/shopwire/pkg/iojson"
)

type WatchCmd struct {
	flags *Flags

	// transport overrides the configured strategy; tests inject memtransport
	transport transport.Transport

	// flags
	metricsAddr string
	jsonOutput  bool
	sound       bool
	categories  []string
	duration    time.Duration
}

// NewWatchCmd creates a new watch command
func NewWatchCmd(flags *Flags) *WatchCmd {
	return &WatchCmd{flags: flags}
}

// Register adds the watch command to the application
func (cmd *WatchCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "watch",
		Usage:     "Connect to the realtime server and stream notifications",
		UsageText: "shopwire watch [--json] [--sound] [--category sales] [--metrics-addr :9464]",
		Description: `Opens the realtime connection and prints every notification as it arrives,
along with connection status changes.

Use --json for one JSON object per notification. Use --for to exit after a
fixed duration; otherwise the command runs until interrupted.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "output notifications as JSON",
				Destination: &cmd.jsonOutput,
			},
			&cli.BoolFlag{
				Name:        "sound",
				Usage:       "ring the terminal bell on warnings and errors",
				Destination: &cmd.sound,
			},
			&cli.StringSliceFlag{
				Name:        "category",
				Usage:       "only show these categories (sales, inventory, customers, system)",
				Destination: &cmd.categories,
			},
			&cli.StringFlag{
				Name:        "metrics-addr",
				Usage:       "serve prometheus metrics on this address",
				Sources:     cli.EnvVars("SHOPWIRE_METRICS_ADDR"),
				Destination: &cmd.metricsAddr,
			},
			&cli.DurationFlag{
				Name:        "for",
				Usage:       "stop after this long (0 runs until interrupted)",
				Destination: &cmd.duration,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *WatchCmd) run(ctx context.Context, c *cli.Command) error {
	cfg := *cmd.flags.Config
	if cmd.metricsAddr != "" {
		cfg.Metrics.Addr = cmd.metricsAddr
	}
	if cmd.sound {
		cfg.Notifications.Sound = true
	}

	w := c.Root().Writer
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	client, err := realtime.New(&cfg, realtime.Deps{
		Transport:  cmd.transport,
		Registerer: reg,
		Bell:       newTermBell(w),
		Logger:     log.Logger,
	})
	if err != nil {
		return fmt.Errorf("create realtime client: %w", err)
	}

	filter := notify.Filter{}
	for _, name := range cmd.categories {
		filter.Categories = append(filter.Categories, notify.ParseCategory(name))
	}

	out := &watchOutput{w: w, ew: errWriter(c), p: printer.New(w), json: cmd.jsonOutput, filter: filter}
	defer client.Notifications.Subscribe(out.notification)()
	defer client.Manager.OnStatus(out.status)()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cmd.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.duration)
		defer cancel()
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           metricsMux(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger := logging.Component("metrics")
			logger.Info().Str("addr", srv.Addr).Msg("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		if err := client.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return client.Stop(stopCtx)
	})

	return g.Wait()
}

func metricsMux(reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// watchOutput serializes lines written from the dispatch and connection
// goroutines.
type watchOutput struct {
	mu     sync.Mutex
	w      io.Writer
	ew     io.Writer
	p      *printer.Printer
	json   bool
	filter notify.Filter
}

func (o *watchOutput) notification(n notify.Notification) {
	if len(o.filter.Categories) > 0 && !slices.Contains(o.filter.Categories, n.Category) {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.json {
		_ = iojson.WriteWith(o.w, o.ew, n)
		return
	}
	o.p.Printf("%s %s %s %s",
		o.p.Muted(n.Timestamp.Format(time.TimeOnly)),
		o.p.Label(string(n.Level), fmt.Sprintf("%-9s", n.Category)),
		n.Title,
		o.p.Muted(n.Message))
}

func (o *watchOutput) status(_, to connection.Status) {
	if o.json {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	switch to {
	case connection.StatusConnected:
		o.p.Successf("connected")
	case connection.StatusReconnecting:
		o.p.Warnf("connection lost, reconnecting")
	case connection.StatusDisconnected:
		o.p.Infof("disconnected")
	}
}

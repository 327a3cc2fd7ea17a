// Package app wires the configured components together and runs them until
// the context is cancelled.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kabili207/mesh-telegraph/pkg/broker"
	"github.com/kabili207/mesh-telegraph/pkg/config"
	"github.com/kabili207/mesh-telegraph/pkg/meshtastic/radio"
	"github.com/kabili207/mesh-telegraph/pkg/models"
	"github.com/kabili207/mesh-telegraph/pkg/mqttclient"
	"github.com/kabili207/mesh-telegraph/pkg/pipeline"
	"github.com/kabili207/mesh-telegraph/pkg/printer"
	"github.com/kabili207/mesh-telegraph/pkg/registry"
	"github.com/kabili207/mesh-telegraph/pkg/routes"
	"github.com/kabili207/mesh-telegraph/pkg/store"
)

type App struct {
	cfg *config.Configuration
	log *slog.Logger

	// Renderer overrides the printer built from the configuration.
	Renderer printer.Renderer
}

func New(cfg *config.Configuration, log *slog.Logger) *App {
	if log == nil {
		log = slog.Default()
	}
	return &App{cfg: cfg, log: log}
}

// Run blocks until ctx is cancelled or a component fails. Components are
// stopped in reverse order of the data flow: ingress, workers, printer,
// http and finally storage.
func (a *App) Run(ctx context.Context) error {
	cfg := a.cfg

	nodes, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := registry.New(nodes,
		registry.WithTimeout(cfg.Database.Timeout),
		registry.WithLogger(a.log.With("component", "registry")),
	)

	dedup := pipeline.NewDeduplicator(cfg.Dedup.Window, cfg.Dedup.Capacity)
	dedup.Start()
	defer dedup.Stop()

	renderer := a.Renderer
	if renderer == nil {
		renderer, err = NewRenderer(cfg.Printer, a.log)
		if err != nil {
			return err
		}
	}
	spooler := printer.NewSpooler(renderer, cfg.Printer.QueueSize, cfg.Printer.Timeout, a.log.With("component", "printer"))

	feed := routes.NewTelegramFeed(routes.DefaultRecentTelegrams)

	pl, err := pipeline.New(pipeline.Options{
		Registry:  reg,
		Dedup:     dedup,
		Keys:      ParseChannelKeys(cfg.MeshSettings.Channels, a.log),
		Cooldown:  cfg.RateLimit.Cooldown,
		Printer:   spooler,
		Telegrams: feed,
		Logger:    a.log.With("component", "pipeline"),
	})
	if err != nil {
		spooler.Close()
		return err
	}

	workers := pipeline.NewWorkerPool(ctx, cfg.Workers, pl, a.log)

	stopIngress, gateways, err := a.startIngress(ctx, workers)
	if err != nil {
		workers.Close()
		spooler.Close()
		return err
	}

	httpCtx, stopHTTP := context.WithCancel(context.WithoutCancel(ctx))
	defer stopHTTP()
	g, gctx := errgroup.WithContext(ctx)
	if cfg.HTTP.ListenAddr != "" {
		web := &routes.WebRouter{Registry: reg, Stats: pl, Feed: feed, Gateways: gateways}
		g.Go(func() error {
			if err := web.ListenAndServe(httpCtx, cfg.HTTP.ListenAddr); err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}

	<-gctx.Done()
	a.log.Info("shutting down")

	stopIngress()
	workers.Close()
	spooler.Close()
	stopHTTP()

	err = g.Wait()
	stats := pl.Stats()
	a.log.Info("stopped", "received", stats.Received, "printed", stats.Printed, "suppressed", stats.Suppressed)
	return err
}

func (a *App) openStore(ctx context.Context) (store.NodeStore, func(), error) {
	db := a.cfg.Database
	switch db.Driver {
	case store.DriverMemory:
		a.log.Warn("using in-memory node store, node data will not survive a restart")
		return store.NewMemoryNodeStore(), func() {}, nil
	case store.DriverSQLite, store.DriverPostgres:
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", db.Driver)
	}

	dsn := db.DSN
	if dsn == "" {
		dsn = db.Path
	}

	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	conn, err := store.Open(openCtx, db.Driver, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open node store: %w", err)
	}
	a.log.Info("node store ready", "driver", db.Driver)

	return store.NewNodeStore(conn), func() {
		if err := conn.Close(); err != nil {
			a.log.Warn("error closing database", "error", err)
		}
	}, nil
}

// startIngress connects the configured MQTT transport to sink. The gateway
// lister is nil unless the embedded broker is running.
func (a *App) startIngress(ctx context.Context, sink pipeline.Submitter) (func(), models.GatewayLister, error) {
	mqttCfg := a.cfg.MQTT
	switch mqttCfg.Mode {
	case config.ModeBroker:
		b, err := broker.New(mqttCfg, sink, a.log)
		if err != nil {
			return nil, nil, err
		}
		if err := b.Start(); err != nil {
			return nil, nil, err
		}
		return func() {
			if err := b.Close(); err != nil {
				a.log.Warn("error closing mqtt broker", "error", err)
			}
		}, b, nil

	case config.ModeClient:
		c, err := mqttclient.New(mqttCfg, sink, a.log)
		if err != nil {
			return nil, nil, err
		}
		if err := c.Connect(ctx); err != nil {
			return nil, nil, err
		}
		return c.Close, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown mqtt mode %q", mqttCfg.Mode)
}

// NewRenderer builds the printer backend selected by the configuration.
func NewRenderer(cfg config.PrinterSettings, log *slog.Logger) (printer.Renderer, error) {
	loc := time.Local
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("printer timezone: %w", err)
		}
		loc = l
	}

	switch cfg.Type {
	case config.PrinterNetwork:
		return printer.NewNetworkRenderer(cfg.Address, cfg.Timeout, loc), nil
	case config.PrinterDevice:
		if cfg.UsesUSBID() {
			vendor, product, err := cfg.USBIDs()
			if err != nil {
				return nil, err
			}
			return printer.NewUSBRenderer(printer.DefaultSysfsRoot, printer.DefaultUSBDevDir, vendor, product, loc), nil
		}
		return printer.NewDeviceRenderer(cfg.Device, loc), nil
	case config.PrinterLog, "":
		return printer.NewLogRenderer(log.With("component", "printer"), loc), nil
	}
	return nil, fmt.Errorf("unknown printer type %q", cfg.Type)
}

// ParseChannelKeys decodes the configured channel keys. Invalid keys are
// logged and skipped so one bad entry does not stop the others working.
func ParseChannelKeys(channels []config.MeshChannelDef, log *slog.Logger) []pipeline.ChannelKey {
	keys := make([]pipeline.ChannelKey, 0, len(channels))
	for _, ch := range channels {
		key, err := radio.ParseKey(ch.Key)
		switch {
		case err != nil:
			log.Warn("skipping channel with invalid key", "channel", ch.Name, "error", err)
		case key == nil:
			log.Info("channel is unencrypted, no key needed", "channel", ch.Name)
		default:
			keys = append(keys, pipeline.ChannelKey{Name: ch.Name, Key: key})
		}
	}
	if len(keys) == 0 {
		log.Warn("no usable channel keys, only unencrypted packets will be read")
	}
	return keys
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MatusOllah/slogcolor"

	"github.com/kabili207/mesh-telegraph/internal/app"
	"github.com/kabili207/mesh-telegraph/pkg/config"
)

func main() {
	configPath := flag.String("config", "", "Path to the configuration file (defaults to config.yaml when present)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level %q, using info\n", cfg.LogLevel)
		level = slog.LevelInfo
	}

	opts := *slogcolor.DefaultOptions
	opts.Level = level
	opts.TimeFormat = time.DateTime
	logger := slog.New(slogcolor.NewHandler(os.Stderr, &opts))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting mesh telegraph", "mode", cfg.MQTT.Mode, "printer", cfg.Printer.Type, "topics", cfg.MQTT.Topics)
	if err := app.New(cfg, logger).Run(ctx); err != nil {
		slog.Error("telegraph stopped with error", "error", err)
		os.Exit(1)
	}
}

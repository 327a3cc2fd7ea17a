// Command testprint sends one sample telegram through the configured printer,
// so a deployment can be checked without waiting for mesh traffic.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/MatusOllah/slogcolor"

	"github.com/kabili207/mesh-telegraph/internal/app"
	"github.com/kabili207/mesh-telegraph/pkg/config"
	"github.com/kabili207/mesh-telegraph/pkg/models"
	"github.com/kabili207/mesh-telegraph/pkg/printer"
)

const sampleText = `Receipt printer test
Accents: café ÆØÅ ñ ü
Box: ░▒▓│┤╣║╗╝
Unmapped: ☃ ✓`

var selfTest = models.NodeView{ShortName: "TEST", LongName: "Telegraph self test"}

func main() {
	configPath := flag.String("config", "", "Path to the configuration file (defaults to config.yaml when present)")
	text := flag.String("text", sampleText, "Body of the test telegram")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	opts := *slogcolor.DefaultOptions
	opts.TimeFormat = time.DateTime
	logger := slog.New(slogcolor.NewHandler(os.Stderr, &opts))

	if err := run(context.Background(), cfg.Printer, *text, logger); err != nil {
		logger.Error("test print failed", "error", err)
		os.Exit(1)
	}
	logger.Info("test telegram sent")
}

func run(ctx context.Context, cfg config.PrinterSettings, text string, log *slog.Logger) error {
	r, err := app.NewRenderer(cfg, log)
	if err != nil {
		return err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Info("sending test telegram", "printer", r.Name(), "type", cfg.Type)
	return r.Render(ctx, printer.Job{
		ToID:       0xffffffff,
		From:       selfTest,
		To:         models.BroadcastNodeView,
		Text:       text,
		ReceivedAt: time.Now(),
	})
}

// Package broker runs the embedded MQTT broker gateways publish to when the
// service is configured in broker mode.
package broker

import (
	"errors"
	"fmt"
	"log/slog"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/kabili207/mesh-telegraph/pkg/config"
	"github.com/kabili207/mesh-telegraph/pkg/hooks"
	"github.com/kabili207/mesh-telegraph/pkg/models"
	"github.com/kabili207/mesh-telegraph/pkg/pipeline"
)

type Broker struct {
	server *mqtt.Server
	hook   *hooks.IngestHook
	addr   string
	log    *slog.Logger
}

// New builds a broker listening on cfg.Broker.ListenAddr. Publishes to
// cfg.Topics are handed to sink.
func New(cfg config.MQTTSettings, sink pipeline.Submitter, log *slog.Logger) (*Broker, error) {
	if sink == nil {
		return nil, errors.New("broker: nil sink")
	}
	if log == nil {
		log = slog.Default()
	}

	server := mqtt.New(&mqtt.Options{
		InlineClient: true,
		Logger:       log.With("component", "broker"),
	})

	hook := new(hooks.IngestHook)
	err := server.AddHook(hook, &hooks.IngestHookOptions{
		Users:          cfg.Broker.Users,
		AllowAnonymous: cfg.Broker.AllowAnonymous,
		Topics:         cfg.Topics,
		Sink:           sink,
	})
	if err != nil {
		return nil, fmt.Errorf("add ingest hook: %w", err)
	}

	tcp := listeners.NewTCP(listeners.Config{ID: "tcp", Address: cfg.Broker.ListenAddr})
	if err := server.AddListener(tcp); err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Broker.ListenAddr, err)
	}

	return &Broker{server: server, hook: hook, addr: cfg.Broker.ListenAddr, log: log}, nil
}

// Start begins accepting connections. It does not block.
func (b *Broker) Start() error {
	if err := b.server.Serve(); err != nil {
		return fmt.Errorf("serve mqtt: %w", err)
	}
	b.log.Info("mqtt broker listening", "addr", b.addr)
	return nil
}

// Close disconnects every client and stops the listeners.
func (b *Broker) Close() error {
	return b.server.Close()
}

// GetClients lists the gateways currently connected.
func (b *Broker) GetClients() []*models.ClientDetails {
	return b.hook.GetClients()
}

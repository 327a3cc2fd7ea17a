// Package mqttclient subscribes to an external MQTT server and feeds mesh
// publishes into the pipeline.
package mqttclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kabili207/mesh-telegraph/pkg/config"
	"github.com/kabili207/mesh-telegraph/pkg/pipeline"
)

const subscribeQoS = 1

type Client struct {
	client mqtt.Client
	topics []string
	sink   pipeline.Submitter
	log    *slog.Logger
}

// New configures a client for cfg.Server. It does not connect.
func New(cfg config.MQTTSettings, sink pipeline.Submitter, log *slog.Logger) (*Client, error) {
	if sink == nil {
		return nil, errors.New("mqttclient: nil sink")
	}
	if len(cfg.Topics) == 0 {
		return nil, errors.New("mqttclient: no topics")
	}
	if log == nil {
		log = slog.Default()
	}

	c := &Client{
		topics: slices.Clone(cfg.Topics),
		sink:   sink,
		log:    log.With("component", "mqtt", "server", cfg.Server),
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("mesh-telegraph-%d", time.Now().UnixNano()%100000)
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Server).
		SetClientID(clientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.log.Warn("connection lost", "error", err)
		})
	c.client = mqtt.NewClient(opts)
	return c, nil
}

// Connect dials the server and waits for the first connection to succeed.
// Subscriptions are made, and remade after every reconnect, by onConnect.
func (c *Client) Connect(ctx context.Context) error {
	token := c.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

func (c *Client) onConnect(client mqtt.Client) {
	filters := make(map[string]byte, len(c.topics))
	for _, t := range c.topics {
		filters[t] = subscribeQoS
	}

	token := client.SubscribeMultiple(filters, c.onMessage)
	if !token.WaitTimeout(10 * time.Second) {
		c.log.Error("subscribe timed out", "topics", c.topics)
		return
	}
	if err := token.Error(); err != nil {
		c.log.Error("subscribe failed", "topics", c.topics, "error", err)
		return
	}
	c.log.Info("connected and subscribed", "topics", c.topics)
}

func (c *Client) onMessage(_ mqtt.Client, m mqtt.Message) {
	msg := pipeline.Message{
		Topic:      m.Topic(),
		Payload:    slices.Clone(m.Payload()),
		ReceivedAt: time.Now(),
	}
	if err := c.sink.Submit(msg); err != nil {
		c.log.Warn("unable to queue message", "topic", m.Topic(), "error", err)
	}
}

// Close disconnects, giving in-flight work a short grace period.
func (c *Client) Close() {
	c.client.Disconnect(250)
}

package models

import (
	"fmt"
	"time"
)

// GatewayLister reports the gateways connected to the embedded broker.
type GatewayLister interface {
	GetClients() []*ClientDetails
}

// ClientDetails describes one gateway connection to the embedded broker.
type ClientDetails struct {
	ClientID    string     `json:"client_id"`
	UserID      string     `json:"username,omitempty"`
	Address     string     `json:"address"`
	ConnectedAt time.Time  `json:"connected_at"`
	LastPublish *time.Time `json:"last_publish,omitempty"`
	Publishes   uint64     `json:"publishes"`
}

func (c *ClientDetails) IsAnonymous() bool {
	return c.UserID == ""
}

func (c *ClientDetails) GetDisplayName() string {
	if c.IsAnonymous() {
		return fmt.Sprintf("%s (anonymous)", c.ClientID)
	}
	return fmt.Sprintf("%s (%s)", c.ClientID, c.UserID)
}

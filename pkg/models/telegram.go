package models

import "time"

// Telegram records what happened to one received text message.
type Telegram struct {
	PacketID   uint32    `json:"packet_id"`
	From       string    `json:"from"`
	FromView   NodeView  `json:"from_view"`
	To         string    `json:"to"`
	ToView     NodeView  `json:"to_view"`
	Text       string    `json:"text"`
	Decision   string    `json:"decision"`
	ReceivedAt time.Time `json:"received_at"`
}

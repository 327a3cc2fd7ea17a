package models

import "time"

// Node is a radio observed on the mesh, keyed by its 32-bit node number.
type Node struct {
	// NodeID is the Meshtastic node number of the radio
	NodeID uint64 `db:"node_id" json:"node_id"`
	// ShortName is the up-to-four character name shown on device screens
	ShortName *string `db:"short_name" json:"short_name,omitempty"`
	// LongName is the user-chosen display name
	LongName *string `db:"long_name" json:"long_name,omitempty"`
	// HwModelName is the protocol name of the hardware model, e.g. TBEAM
	HwModelName *string `db:"hw_model_name" json:"hw_model_name,omitempty"`
	// HwModelID is the raw hardware model enum value
	HwModelID *int32 `db:"hw_model_id" json:"hw_model_id,omitempty"`
	// FirstSeen is set when the row is created and never changes afterwards
	FirstSeen time.Time `db:"first_seen" json:"first_seen"`
	// LastSeen is refreshed on every observation of the node
	LastSeen time.Time `db:"last_seen" json:"last_seen"`
	// LastPrint is the last time a telegram from this node was approved for printing
	LastPrint *time.Time `db:"last_print" json:"last_print,omitempty"`
}

// HasIdentity reports whether the node has announced at least one of its names.
func (n *Node) HasIdentity() bool {
	return n.ShortName != nil || n.LongName != nil
}

// NodeView is the display identity of a node used when rendering a telegram.
type NodeView struct {
	ShortName string `json:"short_name"`
	LongName  string `json:"long_name"`
}

// Sentinel views for nodes that have no stored identity and for broadcasts.
var (
	UnknownNodeView   = NodeView{ShortName: "UNK", LongName: "UNKNOWN"}
	BroadcastNodeView = NodeView{ShortName: "ALL", LongName: "BROADCAST"}
)

// View returns the display identity of the node. Missing names fall back to
// the matching half of UnknownNodeView.
func (n *Node) View() NodeView {
	if n == nil {
		return UnknownNodeView
	}
	v := UnknownNodeView
	if n.ShortName != nil && *n.ShortName != "" {
		v.ShortName = *n.ShortName
	}
	if n.LongName != nil && *n.LongName != "" {
		v.LongName = *n.LongName
	}
	return v
}

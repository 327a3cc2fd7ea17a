package components

import (
	"time"

	"github.com/kabili207/mesh-telegraph/pkg/models"
	"github.com/kabili207/mesh-telegraph/pkg/pipeline"
)

// NodeData represents a node for display
type NodeData struct {
	NodeID    string
	ShortName string
	LongName  string
	HwModel   string
	LastSeen  time.Time
	LastPrint *time.Time
}

// DashboardPageData holds all data for the status page
type DashboardPageData struct {
	PageTitle   string
	Nodes       []NodeData
	Telegrams   []models.Telegram
	Stats       pipeline.Stats
	SSEEndpoint string
}

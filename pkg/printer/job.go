// Package printer turns approved text messages into printed telegrams.
package printer

import (
	"context"
	"time"

	"github.com/kabili207/mesh-telegraph/pkg/models"
)

// Job is one telegram waiting to be printed.
type Job struct {
	PacketID   uint32
	FromID     uint32
	ToID       uint32
	From       models.NodeView
	To         models.NodeView
	Text       string
	ReceivedAt time.Time
}

// Renderer produces a printout for a job.
type Renderer interface {
	Name() string
	Render(ctx context.Context, job Job) error
}

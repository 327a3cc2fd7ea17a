package pipeline

import (
	"context"
	"time"

	"github.com/kabili207/mesh-telegraph/pkg/registry"
)

// Decision is the outcome of asking the print gate about a text message.
type Decision int

const (
	DecisionNone Decision = iota
	DecisionApproved
	DecisionSuppressed
	DecisionFailed
)

func (d Decision) String() string {
	switch d {
	case DecisionApproved:
		return "approved"
	case DecisionSuppressed:
		return "suppressed"
	case DecisionFailed:
		return "failed"
	default:
		return "none"
	}
}

// PrintGate rate limits telegrams per sending node.
type PrintGate struct {
	registry *registry.Registry
	cooldown time.Duration
}

func NewPrintGate(reg *registry.Registry, cooldown time.Duration) *PrintGate {
	return &PrintGate{registry: reg, cooldown: cooldown}
}

func (g *PrintGate) Cooldown() time.Duration {
	return g.cooldown
}

// Decide checks the cooldown for nodeID and, when allowed, records the print
// before reporting approval. Both steps run under the node lock so two
// messages from the same sender cannot both be approved. If the timestamp
// cannot be written the print is refused.
func (g *PrintGate) Decide(ctx context.Context, nodeID uint32) (Decision, error) {
	unlock := g.registry.LockNode(nodeID)
	defer unlock()

	if !g.registry.CanPrint(ctx, nodeID, g.cooldown) {
		return DecisionSuppressed, nil
	}
	if err := g.registry.MarkPrinted(ctx, nodeID); err != nil {
		return DecisionFailed, err
	}
	return DecisionApproved, nil
}

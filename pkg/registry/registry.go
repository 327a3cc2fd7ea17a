// Package registry keeps track of every node heard on the mesh and of when
// each one last had a telegram printed.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kabili207/mesh-telegraph/pkg/meshtastic"
	"github.com/kabili207/mesh-telegraph/pkg/models"
	"github.com/kabili207/mesh-telegraph/pkg/store"
)

const (
	lockStripes    = 256
	defaultTimeout = 2 * time.Second
)

// UpsertResult describes what an Upsert did to the stored node.
type UpsertResult int

const (
	// Touched means only last_seen changed.
	Touched UpsertResult = iota
	// Created means the node was seen for the first time.
	Created
	// Updated means at least one identity field changed.
	Updated
)

func (r UpsertResult) String() string {
	switch r {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "touched"
	}
}

// NodeUpdate carries the identity facts learned from a packet. Nil or empty
// fields are treated as absent and never overwrite stored values.
type NodeUpdate struct {
	NodeID      uint32
	ShortName   *string
	LongName    *string
	HwModelName *string
	HwModelID   *int32
}

type Option func(*Registry)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithTimeout bounds every storage call.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// Registry is the node registry. Read-modify-write sequences on a node are
// serialized by a striped lock keyed on the node id; different nodes proceed
// in parallel.
type Registry struct {
	store   store.NodeStore
	locks   [lockStripes]sync.Mutex
	now     func() time.Time
	timeout time.Duration
	log     *slog.Logger
}

func New(s store.NodeStore, opts ...Option) *Registry {
	r := &Registry{
		store:   s,
		now:     time.Now,
		timeout: defaultTimeout,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LockNode acquires the lock guarding nodeID and returns its release func.
// The lock is not reentrant: do not call Upsert while holding it.
func (r *Registry) LockNode(nodeID uint32) (unlock func()) {
	m := &r.locks[nodeID%lockStripes]
	m.Lock()
	return m.Unlock
}

func (r *Registry) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// Upsert records an observation of a node, creating it if needed. last_seen
// is always refreshed; identity fields only change when a present value
// differs from the stored one.
func (r *Registry) Upsert(ctx context.Context, u NodeUpdate) (UpsertResult, error) {
	unlock := r.LockNode(u.NodeID)
	defer unlock()

	ctx, cancel := r.storeContext(ctx)
	defer cancel()

	now := r.now().UTC()
	node, err := r.store.GetNode(ctx, u.NodeID)
	if err != nil {
		return Touched, err
	}

	if node == nil {
		node = &models.Node{
			NodeID:    uint64(u.NodeID),
			FirstSeen: now,
			LastSeen:  now,
		}
		applyString(&node.ShortName, u.ShortName)
		applyString(&node.LongName, u.LongName)
		applyString(&node.HwModelName, u.HwModelName)
		applyInt(&node.HwModelID, u.HwModelID)
		if err := r.store.InsertNode(ctx, node); err != nil {
			return Touched, err
		}
		return Created, nil
	}

	changed := applyString(&node.ShortName, u.ShortName)
	changed = applyString(&node.LongName, u.LongName) || changed
	changed = applyString(&node.HwModelName, u.HwModelName) || changed
	changed = applyInt(&node.HwModelID, u.HwModelID) || changed

	node.LastSeen = now
	if node.LastSeen.Before(node.FirstSeen) {
		node.LastSeen = node.FirstSeen
	}
	if err := r.store.UpdateNode(ctx, node); err != nil {
		return Touched, err
	}
	if changed {
		return Updated, nil
	}
	return Touched, nil
}

// Lookup returns the display identity of a node. The broadcast address never
// touches storage; unknown nodes and storage failures yield UnknownNodeView.
func (r *Registry) Lookup(ctx context.Context, nodeID uint32) models.NodeView {
	if meshtastic.NodeID(nodeID).IsBroadcast() {
		return models.BroadcastNodeView
	}

	ctx, cancel := r.storeContext(ctx)
	defer cancel()

	node, err := r.store.GetNode(ctx, nodeID)
	if err != nil {
		r.log.Debug("node lookup failed", "node", meshtastic.NodeID(nodeID), "error", err)
		return models.UnknownNodeView
	}
	return node.View()
}

// Get returns the stored node, or nil if it has never been seen.
func (r *Registry) Get(ctx context.Context, nodeID uint32) (*models.Node, error) {
	ctx, cancel := r.storeContext(ctx)
	defer cancel()
	return r.store.GetNode(ctx, nodeID)
}

func (r *Registry) List(ctx context.Context) ([]*models.Node, error) {
	ctx, cancel := r.storeContext(ctx)
	defer cancel()
	return r.store.ListNodes(ctx)
}

// MarkPrinted sets last_print to now, creating the node if needed. Callers
// that pair it with CanPrint hold LockNode across both.
func (r *Registry) MarkPrinted(ctx context.Context, nodeID uint32) error {
	ctx, cancel := r.storeContext(ctx)
	defer cancel()

	if err := r.store.SetLastPrint(ctx, nodeID, r.now()); err != nil {
		return fmt.Errorf("mark printed: %w", err)
	}
	return nil
}

// CanPrint reports whether cooldown has elapsed since the node's last print.
// A node with no row or no print history may print. A storage failure also
// allows printing; the failure is logged.
func (r *Registry) CanPrint(ctx context.Context, nodeID uint32, cooldown time.Duration) bool {
	ctx, cancel := r.storeContext(ctx)
	defer cancel()

	node, err := r.store.GetNode(ctx, nodeID)
	if err != nil {
		r.log.Warn("rate limit check failed, allowing print", "node", meshtastic.NodeID(nodeID), "error", err)
		return true
	}
	if node == nil || node.LastPrint == nil {
		return true
	}
	return r.now().Sub(*node.LastPrint) >= cooldown
}

func applyString(dst **string, v *string) bool {
	if v == nil || *v == "" {
		return false
	}
	if *dst != nil && **dst == *v {
		return false
	}
	s := *v
	*dst = &s
	return true
}

func applyInt(dst **int32, v *int32) bool {
	if v == nil {
		return false
	}
	if *dst != nil && **dst == *v {
		return false
	}
	i := *v
	*dst = &i
	return true
}

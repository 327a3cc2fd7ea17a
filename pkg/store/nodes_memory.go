package store

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/kabili207/mesh-telegraph/pkg/models"
)

var ErrNodeExists = errors.New("node already exists")

type memoryNodeStore struct {
	mu    sync.RWMutex
	nodes map[uint32]*models.Node
}

// NewMemoryNodeStore creates a node store that lives only as long as the process.
func NewMemoryNodeStore() NodeStore {
	return &memoryNodeStore{
		nodes: make(map[uint32]*models.Node),
	}
}

func (s *memoryNodeStore) GetNode(_ context.Context, nodeID uint32) (*models.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[nodeID]
	if !ok {
		return nil, nil
	}
	return cloneNode(node), nil
}

func (s *memoryNodeStore) InsertNode(_ context.Context, node *models.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uint32(node.NodeID)
	if _, ok := s.nodes[id]; ok {
		return fmt.Errorf("insert node %d: %w", id, ErrNodeExists)
	}
	s.nodes[id] = cloneNode(node)
	return nil
}

func (s *memoryNodeStore) UpdateNode(_ context.Context, node *models.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.nodes[uint32(node.NodeID)]
	if !ok {
		return nil
	}
	updated := cloneNode(node)
	updated.FirstSeen = existing.FirstSeen
	updated.LastPrint = existing.LastPrint
	s.nodes[uint32(node.NodeID)] = updated
	return nil
}

func (s *memoryNodeStore) SetLastPrint(_ context.Context, nodeID uint32, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	at = at.UTC()
	node, ok := s.nodes[nodeID]
	if !ok {
		node = &models.Node{NodeID: uint64(nodeID), FirstSeen: at}
		s.nodes[nodeID] = node
	}
	node.LastSeen = at
	node.LastPrint = &at
	return nil
}

func (s *memoryNodeStore) ListNodes(_ context.Context) ([]*models.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make([]*models.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, cloneNode(n))
	}
	slices.SortFunc(nodes, func(a, b *models.Node) int {
		return cmp.Or(b.LastSeen.Compare(a.LastSeen), cmp.Compare(a.NodeID, b.NodeID))
	})
	return nodes, nil
}

func cloneNode(node *models.Node) *models.Node {
	n := *node
	if n.LastPrint != nil {
		lp := *n.LastPrint
		n.LastPrint = &lp
	}
	// name and model pointers are never mutated in place, sharing them is safe
	return &n
}

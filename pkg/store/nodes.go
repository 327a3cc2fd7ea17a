package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/kabili207/mesh-telegraph/pkg/models"
)

var selectNodes = `SELECT node_id, short_name, long_name, hw_model_name, hw_model_id, first_seen, last_seen, last_print FROM nodes`

// NodeStore provides database operations for observed mesh nodes.
type NodeStore interface {
	// GetNode retrieves a node by its node number. A missing node is nil, nil.
	GetNode(ctx context.Context, nodeID uint32) (*models.Node, error)
	// InsertNode creates a new node row.
	InsertNode(ctx context.Context, node *models.Node) error
	// UpdateNode writes identity fields and last_seen of an existing node.
	UpdateNode(ctx context.Context, node *models.Node) error
	// SetLastPrint records a print approval, creating the node if needed.
	SetLastPrint(ctx context.Context, nodeID uint32, at time.Time) error
	// ListNodes returns every node, most recently seen first.
	ListNodes(ctx context.Context) ([]*models.Node, error)
}

type sqlNodeStore struct {
	db *sqlx.DB
}

// NewNodeStore creates a node store backed by SQLite or PostgreSQL.
func NewNodeStore(dbconn *sqlx.DB) NodeStore {
	return &sqlNodeStore{db: dbconn}
}

func (s *sqlNodeStore) GetNode(ctx context.Context, nodeID uint32) (*models.Node, error) {
	query := s.db.Rebind(selectNodes + " WHERE node_id = ?;")
	var node models.Node
	err := s.db.GetContext(ctx, &node, query, nodeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get node %d: %w", nodeID, err)
	}
	return &node, nil
}

func (s *sqlNodeStore) InsertNode(ctx context.Context, node *models.Node) error {
	stmt := `
	INSERT INTO nodes (node_id, short_name, long_name, hw_model_name, hw_model_id, first_seen, last_seen, last_print)
	VALUES (:node_id, :short_name, :long_name, :hw_model_name, :hw_model_id, :first_seen, :last_seen, :last_print)
	;`

	if _, err := s.db.NamedExecContext(ctx, stmt, utcNode(node)); err != nil {
		return fmt.Errorf("insert node %d: %w", node.NodeID, err)
	}
	return nil
}

func (s *sqlNodeStore) UpdateNode(ctx context.Context, node *models.Node) error {
	stmt := `
	UPDATE nodes SET
		short_name = :short_name,
		long_name = :long_name,
		hw_model_name = :hw_model_name,
		hw_model_id = :hw_model_id,
		last_seen = :last_seen
	WHERE node_id = :node_id
	;`

	if _, err := s.db.NamedExecContext(ctx, stmt, utcNode(node)); err != nil {
		return fmt.Errorf("update node %d: %w", node.NodeID, err)
	}
	return nil
}

func (s *sqlNodeStore) SetLastPrint(ctx context.Context, nodeID uint32, at time.Time) error {
	stmt := s.db.Rebind(`
	INSERT INTO nodes (node_id, first_seen, last_seen, last_print)
	VALUES (?, ?, ?, ?)
	ON CONFLICT (node_id)
	DO UPDATE SET
		last_seen = excluded.last_seen,
		last_print = excluded.last_print
	;`)

	at = at.UTC()
	if _, err := s.db.ExecContext(ctx, stmt, nodeID, at, at, at); err != nil {
		return fmt.Errorf("set last print for node %d: %w", nodeID, err)
	}
	return nil
}

func (s *sqlNodeStore) ListNodes(ctx context.Context) ([]*models.Node, error) {
	query := selectNodes + " ORDER BY last_seen DESC;"
	nodes := []*models.Node{}
	if err := s.db.SelectContext(ctx, &nodes, query); err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	return nodes, nil
}

// utcNode returns a copy of node with every timestamp normalized to UTC.
func utcNode(node *models.Node) *models.Node {
	n := *node
	n.FirstSeen = n.FirstSeen.UTC()
	n.LastSeen = n.LastSeen.UTC()
	if n.LastPrint != nil {
		lp := n.LastPrint.UTC()
		n.LastPrint = &lp
	}
	return &n
}

package coordination

import (
	"context"
	"errors"
	"time"
)

// ErrNoLeader is returned by Election.Leader when nobody holds leadership.
var ErrNoLeader = errors.New("election has no leader")

// NodeInfo is what an agent advertises while it is alive.
type NodeInfo struct {
	ID             string    `json:"id"`
	Hostname       string    `json:"hostname"`
	CPUs           int       `json:"cpus"`
	TotalMemMB     uint64    `json:"total_mem_mb"`
	AvailableMemMB uint64    `json:"available_mem_mb"`
	Version        string    `json:"version,omitempty"`
	LastSeen       time.Time `json:"last_seen"`
}

// Coordinator handles distributed coordination tasks.
type Coordinator interface {
	// NewElection creates a new election instance for a given campaign name.
	NewElection(name string) Election

	// RegisterNode advertises node for ttl seconds. Agents call it
	// periodically; a node that stops calling disappears.
	RegisterNode(ctx context.Context, node NodeInfo, ttl int) error

	// GetActiveNodes lists nodes whose registration has not expired.
	GetActiveNodes(ctx context.Context) ([]NodeInfo, error)

	// Close terminates the coordinator connection.
	Close() error
}

// Election represents a single leader election campaign.
type Election interface {
	// Campaign starts the process of trying to become leader.
	// It blocks until leadership is acquired or an error occurs.
	Campaign(ctx context.Context, value string) error

	// Resign releases leadership.
	Resign(ctx context.Context) error

	// Leader returns the current leader's value (if any).
	Leader(ctx context.Context) (string, error)
}

// IsLeader reports whether value currently holds leadership of e.
func IsLeader(ctx context.Context, e Election, value string) (bool, error) {
	leader, err := e.Leader(ctx)
	if errors.Is(err, ErrNoLeader) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return leader == value, nil
}

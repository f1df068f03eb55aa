package coordination

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Local coordinates a single process: elections are won immediately and
// node registrations live in memory. It serves development setups without
// etcd.
type Local struct {
	mu        sync.Mutex
	nodes     map[string]localNode
	elections map[string]*localElection
	now       func() time.Time
}

type localNode struct {
	info    NodeInfo
	expires time.Time
}

func NewLocal() *Local {
	return &Local{
		nodes:     make(map[string]localNode),
		elections: make(map[string]*localElection),
		now:       time.Now,
	}
}

var _ Coordinator = (*Local)(nil)

func (l *Local) NewElection(name string) Election {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.elections[name]; ok {
		return e
	}
	e := &localElection{}
	l.elections[name] = e
	return e
}

func (l *Local) RegisterNode(ctx context.Context, node NodeInfo, ttl int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	node.LastSeen = now
	l.nodes[node.ID] = localNode{info: node, expires: now.Add(time.Duration(ttl) * time.Second)}
	return nil
}

func (l *Local) GetActiveNodes(ctx context.Context) ([]NodeInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	nodes := make([]NodeInfo, 0, len(l.nodes))
	for id, n := range l.nodes {
		if !now.Before(n.expires) {
			delete(l.nodes, id)
			continue
		}
		nodes = append(nodes, n.info)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

func (l *Local) Close() error { return nil }

// localElection hands leadership to the first campaigner; later
// campaigners block until it resigns.
type localElection struct {
	mu      sync.Mutex
	leader  string
	held    bool
	waiters []chan struct{}
}

func (e *localElection) Campaign(ctx context.Context, value string) error {
	for {
		e.mu.Lock()
		if !e.held || e.leader == value {
			e.leader, e.held = value, true
			e.mu.Unlock()
			return nil
		}
		wait := make(chan struct{})
		e.waiters = append(e.waiters, wait)
		e.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

func (e *localElection) Resign(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.leader, e.held = "", false
	for _, w := range e.waiters {
		close(w)
	}
	e.waiters = nil
	return nil
}

func (e *localElection) Leader(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.held {
		return "", ErrNoLeader
	}
	return e.leader, nil
}

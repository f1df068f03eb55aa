package etcd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"profiler/pkg/coordination"
)

const (
	nodesPrefix     = "/profiler/agents/"
	electionsPrefix = "/profiler/elections/"
)

type EtcdCoordinator struct {
	client  *clientv3.Client
	session *concurrency.Session
}

var _ coordination.Coordinator = (*EtcdCoordinator)(nil)

func NewEtcdCoordinator(endpoints []string, ttl int) (*EtcdCoordinator, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	// The client dials lazily; probe so an unreachable cluster fails here
	// instead of hanging the session grant.
	probeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Status(probeCtx, endpoints[0]); err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to reach etcd: %w", err)
	}

	// The session keeps its lease alive in the background; elections use it.
	sess, err := concurrency.NewSession(cli, concurrency.WithTTL(ttl))
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to create concurrency session: %w", err)
	}

	return &EtcdCoordinator{
		client:  cli,
		session: sess,
	}, nil
}

func (c *EtcdCoordinator) Close() error {
	if c.session != nil {
		c.session.Close()
	}
	return c.client.Close()
}

func (c *EtcdCoordinator) NewElection(name string) coordination.Election {
	e := concurrency.NewElection(c.session, electionsPrefix+name)
	return &EtcdElection{election: e}
}

// EtcdElection wraps the etcd concurrency.Election struct
type EtcdElection struct {
	election *concurrency.Election
}

func (e *EtcdElection) Campaign(ctx context.Context, value string) error {
	return e.election.Campaign(ctx, value)
}

func (e *EtcdElection) Resign(ctx context.Context) error {
	return e.election.Resign(ctx)
}

func (e *EtcdElection) Leader(ctx context.Context) (string, error) {
	resp, err := e.election.Leader(ctx)
	if err != nil {
		if errors.Is(err, concurrency.ErrElectionNoLeader) {
			return "", coordination.ErrNoLeader
		}
		return "", err
	}
	if len(resp.Kvs) == 0 {
		return "", coordination.ErrNoLeader
	}
	return string(resp.Kvs[0].Value), nil
}

// RegisterNode puts the node under a fresh lease of ttl seconds. Agents
// call it on every heartbeat, so a dead agent's key expires on its own.
func (c *EtcdCoordinator) RegisterNode(ctx context.Context, node coordination.NodeInfo, ttl int) error {
	resp, err := c.client.Grant(ctx, int64(ttl))
	if err != nil {
		return fmt.Errorf("failed to grant lease: %w", err)
	}

	node.LastSeen = time.Now().UTC()
	value, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("failed to marshal node: %w", err)
	}

	if _, err := c.client.Put(ctx, nodesPrefix+node.ID, string(value), clientv3.WithLease(resp.ID)); err != nil {
		return fmt.Errorf("failed to put node key: %w", err)
	}
	return nil
}

func (c *EtcdCoordinator) GetActiveNodes(ctx context.Context) ([]coordination.NodeInfo, error) {
	resp, err := c.client.Get(ctx, nodesPrefix, clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	nodes := make([]coordination.NodeInfo, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var node coordination.NodeInfo
		if err := json.Unmarshal(kv.Value, &node); err != nil {
			// Key format: /profiler/agents/{node_id}
			node = coordination.NodeInfo{ID: strings.TrimPrefix(string(kv.Key), nodesPrefix)}
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

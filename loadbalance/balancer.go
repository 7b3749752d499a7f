// Package loadbalance picks peers among the node ids of the cluster.
//
// Two strategies are implemented:
//   - RoundRobin:     spread work evenly, e.g. choosing the next gossip partner
//   - ConsistentHash: stable key ownership, e.g. which node owns a log key
package loadbalance

import "errors"

// ErrNoNodes is returned when there is nothing to pick from.
var ErrNoNodes = errors.New("loadbalance: no nodes available")

// Balancer picks one node id from a list. Implementations are goroutine-safe.
type Balancer interface {
	Pick(nodes []string) (string, error)

	// Name returns the strategy name (for logging).
	Name() string
}

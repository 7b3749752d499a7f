package loadbalance

import "sync/atomic"

// RoundRobinBalancer cycles through the given nodes in order.
type RoundRobinBalancer struct {
	counter atomic.Uint64 // Incremented on each Pick
}

// Pick selects the next node in round-robin order.
func (b *RoundRobinBalancer) Pick(nodes []string) (string, error) {
	if len(nodes) == 0 {
		return "", ErrNoNodes
	}
	index := (b.counter.Add(1) - 1) % uint64(len(nodes))
	return nodes[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}

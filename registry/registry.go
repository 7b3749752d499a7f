package registry

import (
	"context"
	"time"
)

// NodeInstance is what a running node announces about itself.
type NodeInstance struct {
	ID    string   `json:"id"`
	Peers []string `json:"peers"`
}

// Registry records which nodes are running. Entries expire on their own when the node
// dies without deregistering.
type Registry interface {
	Register(ctx context.Context, instance NodeInstance, ttl time.Duration) error
	Deregister(ctx context.Context, id string) error
	Discover(ctx context.Context) ([]NodeInstance, error)
	Watch(ctx context.Context) <-chan []NodeInstance
	Close() error
}

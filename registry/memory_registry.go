package registry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRegistry is an in-process Registry. Entries never expire; it serves single-process
// setups and tests.
type MemoryRegistry struct {
	mu       sync.Mutex
	nodes    map[string]NodeInstance
	watchers []chan []NodeInstance
}

// NewMemoryRegistry returns an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{nodes: make(map[string]NodeInstance)}
}

func (r *MemoryRegistry) Register(ctx context.Context, instance NodeInstance, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[instance.ID] = instance
	r.notify()
	return nil
}

func (r *MemoryRegistry) Deregister(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, id)
	r.notify()
	return nil
}

func (r *MemoryRegistry) Discover(ctx context.Context) ([]NodeInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list(), nil
}

// Watch emits the node list after every change. Only the latest list is kept for a slow
// reader. The channel is closed once ctx is done.
func (r *MemoryRegistry) Watch(ctx context.Context) <-chan []NodeInstance {
	ch := make(chan []NodeInstance, 1)
	r.mu.Lock()
	r.watchers = append(r.watchers, ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, w := range r.watchers {
			if w == ch {
				r.watchers = append(r.watchers[:i], r.watchers[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

func (r *MemoryRegistry) Close() error {
	return nil
}

func (r *MemoryRegistry) list() []NodeInstance {
	instances := make([]NodeInstance, 0, len(r.nodes))
	for _, n := range r.nodes {
		instances = append(instances, n)
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].ID < instances[j].ID })
	return instances
}

func (r *MemoryRegistry) notify() {
	list := r.list()
	for _, ch := range r.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- list
	}
}

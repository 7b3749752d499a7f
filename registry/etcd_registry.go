// Package registry announces running nodes in etcd.
//
//	Key:   {prefix}/{node_id}
//	Value: JSON-encoded NodeInstance
//
// Registration uses TTL-based leases: if the node process dies, the lease expires and the
// entry is removed with it.
package registry

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdRegistry implements Registry using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // Safe for concurrent use
	prefix string
	logger *logrus.Entry

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // node id -> lease backing its entry
}

// NewEtcdRegistry connects to the given etcd endpoints. Keys live under prefix.
func NewEtcdRegistry(endpoints []string, prefix string, dialTimeout time.Duration, logger *logrus.Entry) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{
		client: c,
		prefix: strings.TrimSuffix(prefix, "/") + "/",
		logger: logger.WithField("component", "registry"),
		leases: make(map[string]clientv3.LeaseID),
	}, nil
}

func (r *EtcdRegistry) key(id string) string {
	return r.prefix + id
}

// Register stores instance under a lease of the given TTL and keeps the lease alive in the
// background until Deregister or Close.
func (r *EtcdRegistry) Register(ctx context.Context, instance NodeInstance, ttl time.Duration) error {
	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	lease, err := r.client.Grant(ctx, seconds)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	if _, err = r.client.Put(ctx, r.key(instance.ID), string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	// KeepAlive must outlive ctx, it is stopped by revoking the lease
	ch, err := r.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return err
	}
	go func() {
		for range ch {
		}
	}()

	r.mu.Lock()
	r.leases[instance.ID] = lease.ID
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"node_id": instance.ID,
		"ttl":     seconds,
	}).Debug("Registered")
	return nil
}

// Deregister removes the entry of node id and revokes its lease.
func (r *EtcdRegistry) Deregister(ctx context.Context, id string) error {
	if _, err := r.client.Delete(ctx, r.key(id)); err != nil {
		return err
	}

	r.mu.Lock()
	lease, ok := r.leases[id]
	delete(r.leases, id)
	r.mu.Unlock()

	if ok {
		if _, err := r.client.Revoke(ctx, lease); err != nil {
			return err
		}
	}
	return nil
}

// Discover returns every registered node.
func (r *EtcdRegistry) Discover(ctx context.Context) ([]NodeInstance, error) {
	resp, err := r.client.Get(ctx, r.prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]NodeInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance NodeInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.logger.WithField("key", string(kv.Key)).WithError(err).Warn("Skipping malformed entry")
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Watch emits the full node list whenever an entry changes, until ctx is done.
func (r *EtcdRegistry) Watch(ctx context.Context) <-chan []NodeInstance {
	ch := make(chan []NodeInstance, 1)

	go func() {
		defer close(ch)
		for range r.client.Watch(ctx, r.prefix, clientv3.WithPrefix()) {
			// Re-fetch the full list rather than applying individual events
			instances, err := r.Discover(ctx)
			if err != nil {
				r.logger.WithError(err).Warn("Discover after watch event")
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Close releases the etcd client. Leases still held expire after their TTL.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}

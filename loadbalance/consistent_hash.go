package loadbalance

import (
	"hash/crc32"
	"sort"
	"strconv"
	"sync"
)

// DefaultReplicas is the number of virtual nodes per node id.
const DefaultReplicas = 100

// ConsistentHashBalancer maps keys to node ids on a hash ring. The same key maps to the
// same node for as long as the ring is unchanged, and every node that builds the ring from
// the same ids agrees on the owner.
//
// Each node is placed on the ring as many virtual nodes so that a handful of ids still
// split the key space evenly.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	        n2 ●               ● n1
//	           │    key ◆──►   │   (clockwise to nearest virtual node → n1)
//	        n3 ●               ● n1#7
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	replicas int

	mu    sync.RWMutex
	ring  []uint32          // Sorted virtual node hashes
	nodes map[uint32]string // Virtual node hash -> node id
}

// NewConsistentHashBalancer returns an empty ring with DefaultReplicas virtual nodes per
// node id.
func NewConsistentHashBalancer(ids ...string) *ConsistentHashBalancer {
	b := &ConsistentHashBalancer{
		replicas: DefaultReplicas,
		nodes:    make(map[uint32]string),
	}
	for _, id := range ids {
		b.Add(id)
	}
	return b
}

// Add places a node id onto the ring.
func (b *ConsistentHashBalancer) Add(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < b.replicas; i++ {
		hash := crc32.ChecksumIEEE([]byte(id + "#" + strconv.Itoa(i)))
		if _, ok := b.nodes[hash]; ok {
			continue
		}
		b.ring = append(b.ring, hash)
		b.nodes[hash] = id
	}
	sort.Slice(b.ring, func(i, j int) bool { return b.ring[i] < b.ring[j] })
}

// Remove takes a node id off the ring. Its keys move to the next node clockwise.
func (b *ConsistentHashBalancer) Remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ring := b.ring[:0]
	for _, hash := range b.ring {
		if b.nodes[hash] == id {
			delete(b.nodes, hash)
			continue
		}
		ring = append(ring, hash)
	}
	b.ring = ring
}

// Owner returns the node id responsible for key: the first virtual node clockwise from the
// key's hash.
func (b *ConsistentHashBalancer) Owner(key string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.ring) == 0 {
		return "", ErrNoNodes
	}
	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	return b.nodes[b.ring[idx]], nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}

package loadbalance

import (
	"errors"
	"fmt"
	"testing"
)

var testNodes = []string{"n1", "n2", "n3"}

func TestRoundRobin(t *testing.T) {
	var b Balancer = &RoundRobinBalancer{}

	// Pick 3 times, should cycle through all nodes in order
	for i := 0; i < 3; i++ {
		id, err := b.Pick(testNodes)
		if err != nil {
			t.Fatal(err)
		}
		if id != testNodes[i] {
			t.Fatalf("pick %d: expect %s, got %s", i, testNodes[i], id)
		}
	}

	// Pick again, should wrap around to first
	id, _ := b.Pick(testNodes)
	if id != testNodes[0] {
		t.Fatalf("expect wrap around to %s, got %s", testNodes[0], id)
	}
}

func TestRoundRobinEmpty(t *testing.T) {
	b := &RoundRobinBalancer{}
	_, err := b.Pick(nil)
	if !errors.Is(err, ErrNoNodes) {
		t.Fatalf("expect ErrNoNodes, got %v", err)
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer(testNodes...)

	// Same key should always map to the same node
	id1, _ := b.Owner("user-123")
	id2, _ := b.Owner("user-123")
	if id1 != id2 {
		t.Fatalf("same key mapped to different nodes: %s vs %s", id1, id2)
	}

	// A ring built in a different order agrees
	other := NewConsistentHashBalancer("n3", "n1", "n2")
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key-%d", i)
		a, _ := b.Owner(key)
		c, _ := other.Owner(key)
		if a != c {
			t.Fatalf("rings disagree on %s: %s vs %s", key, a, c)
		}
	}

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id, _ := b.Owner(fmt.Sprintf("key-%d", i))
		seen[id] = true
	}

	// With 100 different keys and 3 nodes, we should hit at least 2
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different nodes, got %d", len(seen))
	}
}

func TestConsistentHashRemove(t *testing.T) {
	b := NewConsistentHashBalancer(testNodes...)
	b.Remove("n2")

	for i := 0; i < 100; i++ {
		id, err := b.Owner(fmt.Sprintf("key-%d", i))
		if err != nil {
			t.Fatal(err)
		}
		if id == "n2" {
			t.Fatal("removed node still owns keys")
		}
	}

	empty := NewConsistentHashBalancer()
	if _, err := empty.Owner("k"); !errors.Is(err, ErrNoNodes) {
		t.Fatalf("expect ErrNoNodes, got %v", err)
	}
}

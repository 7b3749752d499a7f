package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"mini-maelstrom/config"
)

// Requires a running etcd, e.g. MAELSTROM_ETCD_ENDPOINTS=localhost:2379
func newTestEtcdRegistry(t *testing.T) *EtcdRegistry {
	endpoints := os.Getenv("MAELSTROM_ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("MAELSTROM_ETCD_ENDPOINTS not set")
	}
	logger := config.NewTestConfig(t, logrus.DebugLevel).Logger()
	prefix := "/maelstrom-test/" + strings.ReplaceAll(t.Name(), "/", "_")

	reg, err := NewEtcdRegistry(strings.Split(endpoints, ","), prefix, config.DefaultDialTimeout, logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestRegisterAndDiscover(t *testing.T) {
	reg := newTestEtcdRegistry(t)
	ctx := context.Background()

	n1 := NodeInstance{ID: "n1", Peers: []string{"n2"}}
	n2 := NodeInstance{ID: "n2", Peers: []string{"n1"}}

	if err := reg.Register(ctx, n1, 10*time.Second); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ctx, n2, 10*time.Second); err != nil {
		t.Fatal(err)
	}

	instances, err := reg.Discover(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 {
		t.Fatalf("expect 2 instances, got %d", len(instances))
	}

	if err := reg.Deregister(ctx, n1.ID); err != nil {
		t.Fatal(err)
	}

	instances, err = reg.Discover(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 {
		t.Fatalf("expect 1 instance after deregister, got %d", len(instances))
	}
	if instances[0].ID != n2.ID {
		t.Fatalf("expect %s, got %s", n2.ID, instances[0].ID)
	}

	reg.Deregister(ctx, n2.ID)
}

func TestWatch(t *testing.T) {
	reg := newTestEtcdRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := reg.Watch(ctx)
	time.Sleep(100 * time.Millisecond)

	if err := reg.Register(ctx, NodeInstance{ID: "n3"}, 10*time.Second); err != nil {
		t.Fatal(err)
	}
	defer reg.Deregister(context.Background(), "n3")

	select {
	case instances := <-updates:
		if len(instances) != 1 || instances[0].ID != "n3" {
			t.Fatalf("unexpected update %+v", instances)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no watch update")
	}
}

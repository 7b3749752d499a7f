package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRegistry(t *testing.T) {
	var reg Registry = NewMemoryRegistry()
	ctx := context.Background()
	updates := reg.Watch(ctx)

	require.NoError(t, reg.Register(ctx, NodeInstance{ID: "n2", Peers: []string{"n1"}}, time.Second))
	require.NoError(t, reg.Register(ctx, NodeInstance{ID: "n1", Peers: []string{"n2"}}, time.Second))

	instances, err := reg.Discover(ctx)
	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.Equal(t, "n1", instances[0].ID)
	assert.Equal(t, []string{"n2"}, instances[0].Peers)

	// only the latest list is buffered
	latest := <-updates
	assert.Len(t, latest, 2)

	require.NoError(t, reg.Deregister(ctx, "n1"))
	latest = <-updates
	require.Len(t, latest, 1)
	assert.Equal(t, "n2", latest[0].ID)

	assert.NoError(t, reg.Close())
}

func TestMemoryRegistryWatchEndsWithContext(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	updates := reg.Watch(ctx)
	cancel()

	select {
	case _, ok := <-updates:
		assert.False(t, ok, "no change happened, the channel can only be closed")
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed after cancel")
	}

	// later changes must not reach the closed channel
	require.NoError(t, reg.Register(context.Background(), NodeInstance{ID: "n1"}, time.Second))
	reg.mu.Lock()
	assert.Empty(t, reg.watchers)
	reg.mu.Unlock()
}

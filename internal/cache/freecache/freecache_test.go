package freecache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swarmgrid/swarm-core/internal/cache"
	"github.com/swarmgrid/swarm-core/model"
)

func newTestCache(t *testing.T) cache.Cache {
	t.Helper()
	os.Setenv("FREECACHE_TTL", "5")
	os.Setenv("FREECACHE_SIZE", "1048576")
	c, err := NewFreeCache()
	require.NoError(t, err)
	require.NotNil(t, c)
	return c
}

func TestFreeCache_Put(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	tests := []struct {
		name      string
		key       string
		value     interface{}
		expectErr bool
	}{
		{"Empty key should fail", "", "value", true},
		{"Nil value should fail", "nil_value", nil, true},
		{"String value should succeed", "username", "alice", false},
		{"Struct value should succeed", cache.WorkerStatusKey(1), model.WorkerStatus{WorkerID: 1, State: model.WorkerIdle}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Put(ctx, tt.key, tt.value, c.GetDefaultTTL())
			if tt.expectErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestFreeCache_Get(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	status := model.WorkerStatus{WorkerID: 7, State: model.WorkerBusy, LoadAvg: 0.5}
	require.NoError(t, c.Put(ctx, cache.WorkerStatusKey(7), status, c.GetDefaultTTL()))

	var out model.WorkerStatus
	require.NoError(t, c.Get(ctx, cache.WorkerStatusKey(7), &out))
	require.Equal(t, status, out)

	var missing model.WorkerStatus
	require.Error(t, c.Get(ctx, cache.WorkerStatusKey(8), &missing))
	require.Error(t, c.Get(ctx, "", &missing))
}

func TestFreeCache_Delete(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.Put(ctx, "k", "v", c.GetDefaultTTL()))
	c.Delete(ctx, "k")

	var out string
	require.Error(t, c.Get(ctx, "k", &out))
}

func TestFreeCache_TTL(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	tests := []struct {
		name        string
		key         string
		value       string
		ttlSeconds  int
		sleepBefore time.Duration
		expectErr   bool
	}{
		{"Short TTL should expire", "short", "temp", 1, 2 * time.Second, true},
		{"Long TTL should survive", "long", "persistent", 5, 2 * time.Second, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, c.Put(ctx, tt.key, tt.value, tt.ttlSeconds))

			time.Sleep(tt.sleepBefore)

			var out string
			err := c.Get(ctx, tt.key, &out)
			if tt.expectErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				require.Equal(t, tt.value, out)
			}
		})
	}
}

func TestFreeCache_Shutdown(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.Put(ctx, "key1", "value1", c.GetDefaultTTL()))
	require.NoError(t, c.Put(ctx, "key2", "value2", c.GetDefaultTTL()))

	c.ShutDown(ctx)

	for _, key := range []string{"key1", "key2"} {
		var out string
		require.Error(t, c.Get(ctx, key, &out))
	}
}

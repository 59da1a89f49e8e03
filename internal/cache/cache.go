package cache

import (
	"context"
	"strconv"
)

// Cache is the hot-view cache fronting the store for read-heavy status
// lookups. Implementations are process-local; the store stays the source
// of truth.
type Cache interface {
	Put(ctx context.Context, key string, value interface{}, ttlSeconds int) error
	Get(ctx context.Context, key string, out interface{}) error
	Delete(ctx context.Context, key string)
	GetDefaultTTL() int
	ShutDown(ctx context.Context)
}

// WorkerStatusKey is the canonical cache key for a worker's hot status.
func WorkerStatusKey(workerID int64) string {
	return "worker_status:" + strconv.FormatInt(workerID, 10)
}

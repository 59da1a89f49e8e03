package storage

import "context"

// Storage holds job artifacts. The hot bucket backs pull retrieval of
// live results; the cold bucket is the archive partition.
type Storage interface {
	Upload(ctx context.Context, objectPath string, data []byte) error
	Download(ctx context.Context, objectPath string) ([]byte, error)
	// MoveToCold relocates an artifact from the hot to the cold bucket.
	MoveToCold(ctx context.Context, objectPath string) error
	ShutDown(ctx context.Context)
}

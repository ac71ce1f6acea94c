// Package storage provides the working-directory pool for encoded outputs and
// optional publishing of finished bundles to S3.
// It defines the Storage interface (port) for hexagonal architecture and
// implementations for local disk and S3 storage.
package storage

import (
	"context"
)

// Storage defines the interface for output directories and bundle publishing.
type Storage interface {
	// AllocateDir creates a fresh, uniquely named directory inside the pool
	// and returns its absolute path. The prefix is used as a name hint.
	AllocateDir(ctx context.Context, prefix string) (string, error)

	// Cleanup removes the specified files or directories recursively.
	// It continues cleanup even if some paths fail to delete.
	Cleanup(ctx context.Context, paths []string) error

	// Publish uploads every file below localDir under keyPrefix and returns
	// the resulting object URLs in walk order.
	// Returns ErrS3NotConfigured if S3 is not configured.
	Publish(ctx context.Context, localDir, keyPrefix string) (urls []string, err error)
}

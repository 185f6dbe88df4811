// Package backend stores pipeline status and execution blobs and tracks
// the set of registered pipeline ids.
package backend

import (
	"context"

	"github.com/pkg/errors"

	"github.com/mpataki/pipestatus/internal/config"
)

var ErrNotFound = errors.New("status not found")

const (
	statusKeyPrefix    = "PipelineStatus:"
	executionKeyPrefix = "PipelineExecution:"
)

func StatusKey(pipelineID string) string {
	return statusKeyPrefix + pipelineID
}

func ExecutionKey(executionID string) string {
	return executionKeyPrefix + executionID
}

// Backend is a durable key -> blob store plus a pipeline id registry.
// Values are opaque JSON documents.
type Backend interface {
	// GetStatus returns ErrNotFound when no blob is stored under key.
	GetStatus(ctx context.Context, key string) ([]byte, error)
	SetStatus(ctx context.Context, key string, value []byte) error
	// DelStatus does not fail for absent keys.
	DelStatus(ctx context.Context, key string) error

	RegisterPipelineID(ctx context.Context, id string) error
	DeregisterPipelineID(ctx context.Context, id string) error
	// AllPipelineIDs returns the registered ids in sorted order.
	AllPipelineIDs(ctx context.Context) ([]string, error)

	Close() error
}

// Open creates the backend selected by cfg.Kind.
func Open(ctx context.Context, cfg config.Backend) (Backend, error) {
	switch cfg.Kind {
	case "sqlite":
		return NewSQLite(cfg.SQLite.Path)
	case "redis":
		return NewRedis(ctx, cfg.Redis)
	case "badger":
		return NewBadger(cfg.Badger)
	default:
		return nil, errors.Errorf("unknown backend kind %q", cfg.Kind)
	}
}

// Package lease serializes read-modify-write cycles on a pipeline status.
package lease

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

var ErrNotAcquired = errors.New("lease not acquired")

type Locker interface {
	// Acquire blocks until the lease on key is held or ctx ends.
	Acquire(ctx context.Context, key string) (Lease, error)
}

type Lease interface {
	Release(ctx context.Context) error
}

// PipelineKey is the lease key guarding a pipeline status.
func PipelineKey(pipelineID string) string {
	return "lease:pipeline:" + pipelineID
}

// Local holds leases in process memory.
type Local struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

var _ Locker = (*Local)(nil)

func NewLocal() *Local {
	return &Local{slots: map[string]chan struct{}{}}
}

func (l *Local) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[key] = s
	}
	return s
}

func (l *Local) Acquire(ctx context.Context, key string) (Lease, error) {
	s := l.slot(key)
	select {
	case s <- struct{}{}:
		return &localLease{slot: s}, nil
	case <-ctx.Done():
		return nil, errors.Wrapf(ErrNotAcquired, "%s: %v", key, ctx.Err())
	}
}

type localLease struct {
	once sync.Once
	slot chan struct{}
}

func (l *localLease) Release(context.Context) error {
	l.once.Do(func() { <-l.slot })
	return nil
}

package execution

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/mpataki/pipestatus/internal/backend"
	"github.com/mpataki/pipestatus/internal/models"
	"github.com/mpataki/pipestatus/internal/status"
)

// Store creates and resolves execution records on a backend.
type Store struct {
	backend backend.Backend
	now     func() time.Time
}

var _ status.ExecutionFactory = (*Store)(nil)

type StoreOption func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

func NewStore(b backend.Backend, opts ...StoreOption) *Store {
	s := &Store{backend: b, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get loads a stored execution. Missing records yield backend.ErrNotFound.
func (s *Store) Get(ctx context.Context, executionID string) (*Execution, error) {
	data, err := s.backend.GetStatus(ctx, backend.ExecutionKey(executionID))
	if err != nil {
		return nil, errors.Wrapf(err, "execution %s", executionID)
	}

	e := &Execution{store: s}
	if err := json.Unmarshal(data, &e.rec); err != nil {
		return nil, errors.Wrapf(err, "failed to decode execution %s", executionID)
	}
	return e, nil
}

func (s *Store) FromExecutionID(ctx context.Context, executionID string) (status.Execution, error) {
	e, err := s.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// NewExecution builds an unsaved record; Queue persists it.
func (s *Store) NewExecution(pipelineID string, details models.Details, cacheHash string, trigger models.Trigger, executionID string) status.Execution {
	return &Execution{
		store: s,
		rec: record{
			ExecutionID:     executionID,
			PipelineID:      pipelineID,
			PipelineDetails: details,
			CacheHash:       cacheHash,
			Trigger:         trigger,
		},
	}
}

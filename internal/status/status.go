// Package status tracks the lifecycle of a repeatedly triggered pipeline:
// its validation result, a bounded newest-first history of executions, and
// the lifecycle state derived from them.
//
// A PipelineStatus is loaded, mutated and saved by a single owner at a
// time. The in-flight guard in QueueExecution is advisory; callers that need
// strict single-flight must serialize access per pipeline id (see the lease
// package).
package status

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/mpataki/pipestatus/internal/backend"
	"github.com/mpataki/pipestatus/internal/log"
	"github.com/mpataki/pipestatus/internal/models"
)

// DefaultMaxExecutions bounds the execution history kept per pipeline.
const DefaultMaxExecutions = 10

// ErrQueueFailed is returned when a freshly created execution refuses to
// persist its queued state.
var ErrQueueFailed = errors.New("new execution could not be queued")

// Backend is the subset of backend.Backend used by a status.
type Backend interface {
	GetStatus(ctx context.Context, key string) ([]byte, error)
	SetStatus(ctx context.Context, key string, value []byte) error
	RegisterPipelineID(ctx context.Context, id string) error
	DeregisterPipelineID(ctx context.Context, id string) error
}

// Execution is one attempt to run a pipeline. It persists itself.
type Execution interface {
	ID() string
	CacheHash() string
	// Success is nil until the execution finishes.
	Success() *bool
	StartTime() *time.Time
	FinishTime() *time.Time
	ErrorLog() []string

	Queue(ctx context.Context, trigger models.Trigger) (bool, error)
	Start(ctx context.Context) (bool, error)
	Update(ctx context.Context, log []string) (bool, error)
	Finish(ctx context.Context, success bool, stats map[string]any, errorLog []string) (bool, error)
	Delete(ctx context.Context) error
}

// ExecutionFactory resolves stored executions and creates new, unsaved ones.
type ExecutionFactory interface {
	FromExecutionID(ctx context.Context, executionID string) (Execution, error)
	NewExecution(pipelineID string, details models.Details, cacheHash string, trigger models.Trigger, executionID string) Execution
}

// HookSender delivers a payload to a hook target. Delivery failures are the
// sender's concern.
type HookSender interface {
	Send(ctx context.Context, hook models.Hook, payload models.Payload, blocking bool)
}

type PipelineStatus struct {
	backend  Backend
	factory  ExecutionFactory
	hooks    HookSender
	logger   *slog.Logger
	maxExecs int

	pipelineID       string
	details          models.Details
	sourceSpec       models.SourceSpec
	validationErrors []models.ValidationError
	cacheHash        string
	// newest first
	executions []Execution
}

type Option func(*PipelineStatus)

func WithLogger(l *slog.Logger) Option {
	return func(s *PipelineStatus) {
		s.logger = l
	}
}

// WithMaxExecutions overrides DefaultMaxExecutions. Values below 1 are ignored.
func WithMaxExecutions(n int) Option {
	return func(s *PipelineStatus) {
		if n > 0 {
			s.maxExecs = n
		}
	}
}

// persisted blob shape; field names are stable
type document struct {
	PipelineDetails  models.Details           `json:"pipeline_details"`
	SourceSpec       models.SourceSpec        `json:"source_spec"`
	ValidationErrors []models.ValidationError `json:"validation_errors"`
	CacheHash        string                   `json:"cache_hash"`
	Executions       []string                 `json:"executions"`
}

// Load reads the status of pipelineID. A pipeline never saved before loads
// with empty defaults.
func Load(ctx context.Context, b Backend, f ExecutionFactory, h HookSender, pipelineID string, opts ...Option) (*PipelineStatus, error) {
	s := &PipelineStatus{
		backend:    b,
		factory:    f,
		hooks:      h,
		logger:     log.FromContext(ctx),
		maxExecs:   DefaultMaxExecutions,
		pipelineID: pipelineID,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PipelineStatus) load(ctx context.Context) error {
	var doc document

	data, err := s.backend.GetStatus(ctx, backend.StatusKey(s.pipelineID))
	switch {
	case errors.Is(err, backend.ErrNotFound):
	case err != nil:
		return errors.Wrapf(err, "failed to load status of %s", s.pipelineID)
	default:
		if err := json.Unmarshal(data, &doc); err != nil {
			return errors.Wrapf(err, "failed to decode status of %s", s.pipelineID)
		}
	}

	s.details = doc.PipelineDetails
	if s.details == nil {
		s.details = models.Details{}
	}
	s.sourceSpec = doc.SourceSpec
	if s.sourceSpec == nil {
		s.sourceSpec = models.SourceSpec{}
	}
	s.validationErrors = doc.ValidationErrors
	if s.validationErrors == nil {
		s.validationErrors = []models.ValidationError{}
	}
	s.cacheHash = doc.CacheHash

	s.executions = make([]Execution, 0, len(doc.Executions))
	for _, id := range doc.Executions {
		ex, err := s.factory.FromExecutionID(ctx, id)
		if err != nil {
			return errors.Wrapf(err, "failed to load execution %s of %s", id, s.pipelineID)
		}
		s.executions = append(s.executions, ex)
	}
	return nil
}

func (s *PipelineStatus) save(ctx context.Context) error {
	ids := make([]string, 0, len(s.executions))
	for _, ex := range s.executions {
		ids = append(ids, ex.ID())
	}

	data, err := json.Marshal(document{
		PipelineDetails:  s.details,
		SourceSpec:       s.sourceSpec,
		ValidationErrors: s.validationErrors,
		CacheHash:        s.cacheHash,
		Executions:       ids,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to encode status of %s", s.pipelineID)
	}

	s.logger.Debug("saving status", "pipeline", s.pipelineID, "executions", len(ids))
	return s.backend.SetStatus(ctx, backend.StatusKey(s.pipelineID), data)
}

// Init (re)initializes the pipeline metadata, registers the pipeline id and
// saves. The execution history is left as loaded.
func (s *PipelineStatus) Init(ctx context.Context, details models.Details, sourceSpec models.SourceSpec, validationErrors []models.ValidationError, cacheHash string) error {
	if details == nil {
		details = models.Details{}
	}
	if sourceSpec == nil {
		sourceSpec = models.SourceSpec{}
	}
	if validationErrors == nil {
		validationErrors = []models.ValidationError{}
	}

	s.details = details
	s.sourceSpec = sourceSpec
	s.validationErrors = validationErrors
	s.cacheHash = cacheHash

	if err := s.backend.RegisterPipelineID(ctx, s.pipelineID); err != nil {
		return err
	}
	return s.save(ctx)
}

// Deregister removes the pipeline from the registry. Its status and
// executions stay in storage.
func (s *PipelineStatus) Deregister(ctx context.Context) error {
	return s.backend.DeregisterPipelineID(ctx, s.pipelineID)
}

func (s *PipelineStatus) PipelineID() string {
	return s.pipelineID
}

func (s *PipelineStatus) Details() models.Details {
	return s.details
}

func (s *PipelineStatus) SourceSpec() models.SourceSpec {
	return s.sourceSpec
}

func (s *PipelineStatus) ValidationErrors() []models.ValidationError {
	return s.validationErrors
}

func (s *PipelineStatus) CacheHash() string {
	return s.cacheHash
}

// Executions returns the execution history, newest first.
func (s *PipelineStatus) Executions() []Execution {
	out := make([]Execution, len(s.executions))
	copy(out, s.executions)
	return out
}

func (s *PipelineStatus) Runnable() bool {
	return len(s.validationErrors) == 0
}

// Dirty reports whether the pipeline has never been queued or its definition
// changed since the most recent execution was queued.
func (s *PipelineStatus) Dirty() bool {
	last := s.LastExecution()
	return last == nil || last.CacheHash() != s.cacheHash
}

// Errors returns the rendered validation errors of a non-runnable pipeline,
// otherwise the error log of the most recent execution.
func (s *PipelineStatus) Errors() []string {
	if !s.Runnable() {
		out := make([]string, 0, len(s.validationErrors))
		for _, v := range s.validationErrors {
			out = append(out, v.String())
		}
		return out
	}
	if last := s.LastExecution(); last != nil && last.ErrorLog() != nil {
		return last.ErrorLog()
	}
	return []string{}
}

func (s *PipelineStatus) LastExecution() Execution {
	if len(s.executions) == 0 {
		return nil
	}
	return s.executions[0]
}

func (s *PipelineStatus) LastSuccessfulExecution() Execution {
	for _, ex := range s.executions {
		if success := ex.Success(); success != nil && *success {
			return ex
		}
	}
	return nil
}

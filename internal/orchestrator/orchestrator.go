// Package orchestrator drives pipeline statuses on behalf of the CLI and
// TUI. Every mutation runs under a per-pipeline lease.
package orchestrator

import (
	"context"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mpataki/pipestatus/internal/backend"
	"github.com/mpataki/pipestatus/internal/execution"
	"github.com/mpataki/pipestatus/internal/lease"
	"github.com/mpataki/pipestatus/internal/log"
	"github.com/mpataki/pipestatus/internal/models"
	"github.com/mpataki/pipestatus/internal/status"
)

// InvalidatedError is the error log of an invalidated execution.
const InvalidatedError = "Invalidated"

var ErrUnknownPipeline = errors.New("unknown pipeline")

type Orchestrator struct {
	backend  backend.Backend
	store    *execution.Store
	hooks    status.HookSender
	locker   lease.Locker
	maxExecs int
	logger   *slog.Logger
}

type Option func(*Orchestrator)

func WithMaxExecutions(n int) Option {
	return func(o *Orchestrator) {
		o.maxExecs = n
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithExecutionStore replaces the default store on the orchestrator's
// backend.
func WithExecutionStore(s *execution.Store) Option {
	return func(o *Orchestrator) {
		o.store = s
	}
}

func New(b backend.Backend, hooks status.HookSender, locker lease.Locker, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend:  b,
		store:    execution.NewStore(b),
		hooks:    hooks,
		locker:   locker,
		maxExecs: status.DefaultMaxExecutions,
		logger:   log.New("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Summary is one row of the pipeline overview.
type Summary struct {
	PipelineID    string
	Title         string
	State         models.State
	Dirty         bool
	LastExecution *execution.Execution
	Errors        []string
}

// SyncResult lists what a Sync changed in the registry.
type SyncResult struct {
	Synced       []string
	Deregistered []string
}

func (o *Orchestrator) load(ctx context.Context, pipelineID string) (*status.PipelineStatus, error) {
	return status.Load(ctx, o.backend, o.store, o.hooks, pipelineID,
		status.WithLogger(o.logger),
		status.WithMaxExecutions(o.maxExecs),
	)
}

// withStatus runs fn on a freshly loaded status while holding the pipeline
// lease.
func (o *Orchestrator) withStatus(ctx context.Context, pipelineID string, fn func(*status.PipelineStatus) error) error {
	l, err := o.locker.Acquire(ctx, lease.PipelineKey(pipelineID))
	if err != nil {
		return err
	}
	defer func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			o.logger.Warn("failed to release lease", "pipeline", pipelineID, "err", err)
		}
	}()

	s, err := o.load(ctx, pipelineID)
	if err != nil {
		return err
	}
	return fn(s)
}

func (o *Orchestrator) registered(ctx context.Context, pipelineID string) error {
	ids, err := o.backend.AllPipelineIDs(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(ids, pipelineID) {
		return errors.Wrap(ErrUnknownPipeline, pipelineID)
	}
	return nil
}

// Sync initializes the status of every pipeline and deregisters registered
// pipelines that are no longer defined.
func (o *Orchestrator) Sync(ctx context.Context, pipelines []*models.Pipeline) (*SyncResult, error) {
	res := &SyncResult{}
	defined := map[string]bool{}

	for _, p := range pipelines {
		defined[p.ID] = true
		err := o.withStatus(ctx, p.ID, func(s *status.PipelineStatus) error {
			return s.Init(ctx, p.Details, p.Source, p.ValidationErrors, p.CacheHash)
		})
		if err != nil {
			return res, errors.Wrapf(err, "failed to sync %s", p.ID)
		}
		o.logger.Debug("synced pipeline", "pipeline", p.ID, "errors", len(p.ValidationErrors))
		res.Synced = append(res.Synced, p.ID)
	}

	ids, err := o.backend.AllPipelineIDs(ctx)
	if err != nil {
		return res, err
	}
	for _, id := range ids {
		if defined[id] {
			continue
		}
		if err := o.Deregister(ctx, id); err != nil {
			return res, err
		}
		res.Deregistered = append(res.Deregistered, id)
	}
	return res, nil
}

// Status loads a registered pipeline without taking its lease.
func (o *Orchestrator) Status(ctx context.Context, pipelineID string) (*status.PipelineStatus, error) {
	if err := o.registered(ctx, pipelineID); err != nil {
		return nil, err
	}
	return o.load(ctx, pipelineID)
}

// Queue creates a new execution for pipelineID. queued is false when an
// execution is already in flight.
func (o *Orchestrator) Queue(ctx context.Context, pipelineID string, trigger models.Trigger) (executionID string, queued bool, err error) {
	if err := o.registered(ctx, pipelineID); err != nil {
		return "", false, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", false, err
	}
	executionID = id.String()

	err = o.withStatus(ctx, pipelineID, func(s *status.PipelineStatus) error {
		if !s.Runnable() {
			o.logger.Info("not runnable, skipping", "pipeline", pipelineID)
			return nil
		}
		queued, err = s.QueueExecution(ctx, executionID, trigger)
		return err
	})
	return executionID, queued, err
}

// QueueDirty queues every runnable pipeline whose definition changed since
// its last execution, or that never ran.
func (o *Orchestrator) QueueDirty(ctx context.Context, trigger models.Trigger) ([]string, error) {
	ids, err := o.backend.AllPipelineIDs(ctx)
	if err != nil {
		return nil, err
	}

	var queued []string
	for _, pipelineID := range ids {
		s, err := o.load(ctx, pipelineID)
		if err != nil {
			return queued, err
		}
		if !s.Runnable() || !s.Dirty() {
			continue
		}
		_, ok, err := o.Queue(ctx, pipelineID, trigger)
		if err != nil {
			return queued, err
		}
		if ok {
			queued = append(queued, pipelineID)
		}
	}
	return queued, nil
}

func (o *Orchestrator) Start(ctx context.Context, pipelineID, executionID string) (ok bool, err error) {
	err = o.withStatus(ctx, pipelineID, func(s *status.PipelineStatus) error {
		ok, err = s.StartExecution(ctx, executionID)
		return err
	})
	return ok, err
}

func (o *Orchestrator) Update(ctx context.Context, pipelineID, executionID string, logLines []string, hooks bool) (ok bool, err error) {
	err = o.withStatus(ctx, pipelineID, func(s *status.PipelineStatus) error {
		ok, err = s.UpdateExecution(ctx, executionID, logLines, hooks)
		return err
	})
	return ok, err
}

func (o *Orchestrator) Finish(ctx context.Context, pipelineID, executionID string, success bool, stats map[string]any, errorLog []string) (ok bool, err error) {
	err = o.withStatus(ctx, pipelineID, func(s *status.PipelineStatus) error {
		ok, err = s.FinishExecution(ctx, executionID, success, stats, errorLog)
		return err
	})
	return ok, err
}

// Invalidate fails the in-flight execution of pipelineID, for runners that
// died without finishing. It returns false when nothing is in flight.
func (o *Orchestrator) Invalidate(ctx context.Context, pipelineID string) (ok bool, err error) {
	err = o.withStatus(ctx, pipelineID, func(s *status.PipelineStatus) error {
		if !s.State().Active() {
			return nil
		}
		last := s.LastExecution()
		o.logger.Info("invalidating execution", "pipeline", pipelineID, "execution", last.ID())
		ok, err = s.FinishExecution(ctx, last.ID(), false, nil, []string{InvalidatedError})
		return err
	})
	return ok, err
}

func (o *Orchestrator) Deregister(ctx context.Context, pipelineID string) error {
	return o.withStatus(ctx, pipelineID, func(s *status.PipelineStatus) error {
		o.logger.Info("deregistering pipeline", "pipeline", pipelineID)
		return s.Deregister(ctx)
	})
}

// List summarizes every registered pipeline, sorted by id.
func (o *Orchestrator) List(ctx context.Context) ([]Summary, error) {
	ids, err := o.backend.AllPipelineIDs(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		s, err := o.load(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, Summarize(s))
	}
	return out, nil
}

func Summarize(s *status.PipelineStatus) Summary {
	sum := Summary{
		PipelineID: s.PipelineID(),
		State:      s.State(),
		Dirty:      s.Dirty(),
		Errors:     s.Errors(),
	}
	if title, ok := s.Details()["title"].(string); ok {
		sum.Title = title
	}
	if last, ok := s.LastExecution().(*execution.Execution); ok {
		sum.LastExecution = last
	}
	return sum
}

package status

import (
	"context"

	"github.com/pkg/errors"

	"github.com/mpataki/pipestatus/internal/models"
)

// QueueExecution records a new execution as the most recent one. It returns
// false without side effects while the current most recent execution has not
// finished.
func (s *PipelineStatus) QueueExecution(ctx context.Context, executionID string, trigger models.Trigger) (bool, error) {
	if last := s.LastExecution(); last != nil && last.FinishTime() == nil {
		s.logger.Info("already running, bailing", "execution", short(executionID), "pipeline", s.pipelineID)
		return false, nil
	}

	ex := s.factory.NewExecution(s.pipelineID, s.details, s.cacheHash, trigger, executionID)
	ok, err := ex.Queue(ctx, trigger)
	if err != nil {
		return false, errors.Wrapf(err, "failed to queue execution %s", executionID)
	}
	if !ok {
		return false, errors.Wrapf(ErrQueueFailed, "execution %s of %s", executionID, s.pipelineID)
	}

	prev := s.executions
	s.executions = append([]Execution{ex}, prev...)
	var evicted []Execution
	if len(s.executions) > s.maxExecs {
		evicted = s.executions[s.maxExecs:]
		s.executions = s.executions[:s.maxExecs]
	}

	// the saved blob must never name a deleted record, so evict after saving
	if err := s.save(ctx); err != nil {
		s.executions = prev
		return false, err
	}
	for _, old := range evicted {
		if err := old.Delete(ctx); err != nil {
			s.logger.Warn("failed to delete evicted execution", "execution", old.ID(), "pipeline", s.pipelineID, "err", err)
		}
	}

	s.UpdateHooks(ctx, models.HookEventQueue, HookOptions{Blocking: true})
	return true, nil
}

// ValidateExecutionID reports whether executionID is the most recent execution.
func (s *PipelineStatus) ValidateExecutionID(executionID string) bool {
	last := s.LastExecution()
	if last == nil {
		s.logger.Info("no existing executions", "execution", short(executionID), "pipeline", s.pipelineID)
		return false
	}
	if last.ID() != executionID {
		s.logger.Info("execution id mismatch", "execution", short(executionID), "pipeline", s.pipelineID, "first", last.ID())
		return false
	}
	return true
}

// StartExecution marks the most recent execution as started. A stale
// executionID yields false.
func (s *PipelineStatus) StartExecution(ctx context.Context, executionID string) (bool, error) {
	if !s.ValidateExecutionID(executionID) {
		return false, nil
	}
	s.UpdateHooks(ctx, models.HookEventStart, HookOptions{})
	return s.executions[0].Start(ctx)
}

// UpdateExecution stores progress log lines on the most recent execution,
// optionally notifying hooks with the tail of the log.
func (s *PipelineStatus) UpdateExecution(ctx context.Context, executionID string, log []string, hooks bool) (bool, error) {
	if !s.ValidateExecutionID(executionID) {
		return false, nil
	}
	if hooks {
		if log == nil {
			log = []string{}
		}
		s.UpdateHooks(ctx, models.HookEventProgress, HookOptions{Log: log})
	}
	return s.executions[0].Update(ctx, log)
}

// FinishExecution records the outcome of the most recent execution.
func (s *PipelineStatus) FinishExecution(ctx context.Context, executionID string, success bool, stats map[string]any, errorLog []string) (bool, error) {
	if !s.ValidateExecutionID(executionID) {
		return false, nil
	}
	s.UpdateHooks(ctx, models.HookEventFinish, HookOptions{
		Success: &success,
		Errors:  nonNil(errorLog),
		Stats:   nonNilMap(stats),
	})
	return s.executions[0].Finish(ctx, success, stats, errorLog)
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

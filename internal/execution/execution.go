// Package execution persists individual pipeline execution records under
// PipelineExecution:<id>.
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

type record struct {
	ExecutionID     string         `json:"execution_id"`
	PipelineID      string         `json:"pipeline_id"`
	PipelineDetails models.Details `json:"pipeline_details"`
	CacheHash       string         `json:"cache_hash"`
	Trigger         models.Trigger `json:"trigger"`
	QueueTime       *time.Time     `json:"queue_time"`
	StartTime       *time.Time     `json:"start_time"`
	FinishTime      *time.Time     `json:"finish_time"`
	Success         *bool          `json:"success"`
	Stats           map[string]any `json:"stats"`
	ErrorLog        []string       `json:"error_log"`
	Log             []string       `json:"log"`
}

// Execution is a single attempt to run a pipeline. Every mutation is saved
// immediately.
type Execution struct {
	store *Store
	rec   record
}

var _ status.Execution = (*Execution)(nil)

func (e *Execution) ID() string              { return e.rec.ExecutionID }
func (e *Execution) PipelineID() string      { return e.rec.PipelineID }
func (e *Execution) Details() models.Details { return e.rec.PipelineDetails }
func (e *Execution) CacheHash() string       { return e.rec.CacheHash }
func (e *Execution) Trigger() models.Trigger { return e.rec.Trigger }
func (e *Execution) QueueTime() *time.Time   { return e.rec.QueueTime }
func (e *Execution) StartTime() *time.Time   { return e.rec.StartTime }
func (e *Execution) FinishTime() *time.Time  { return e.rec.FinishTime }
func (e *Execution) Success() *bool          { return e.rec.Success }
func (e *Execution) Stats() map[string]any   { return e.rec.Stats }
func (e *Execution) ErrorLog() []string      { return e.rec.ErrorLog }
func (e *Execution) Log() []string           { return e.rec.Log }

// Duration is the wall time between start and finish, or until now for a
// running execution. Zero when not started.
func (e *Execution) Duration() time.Duration {
	if e.rec.StartTime == nil {
		return 0
	}
	end := e.store.now()
	if e.rec.FinishTime != nil {
		end = *e.rec.FinishTime
	}
	return end.Sub(*e.rec.StartTime)
}

// Queue stamps the queue time and saves the record for the first time.
func (e *Execution) Queue(ctx context.Context, trigger models.Trigger) (bool, error) {
	if e.rec.QueueTime != nil {
		return false, nil
	}
	now := e.store.now()
	e.rec.QueueTime = &now
	e.rec.Trigger = trigger
	return true, e.save(ctx)
}

func (e *Execution) Start(ctx context.Context) (bool, error) {
	if e.rec.StartTime != nil || e.rec.FinishTime != nil {
		return false, nil
	}
	now := e.store.now()
	e.rec.StartTime = &now
	return true, e.save(ctx)
}

// Update replaces the stored progress log.
func (e *Execution) Update(ctx context.Context, log []string) (bool, error) {
	if e.rec.FinishTime != nil {
		return false, nil
	}
	e.rec.Log = log
	return true, e.save(ctx)
}

func (e *Execution) Finish(ctx context.Context, success bool, stats map[string]any, errorLog []string) (bool, error) {
	if e.rec.FinishTime != nil {
		return false, nil
	}
	now := e.store.now()
	if e.rec.StartTime == nil {
		e.rec.StartTime = &now
	}
	e.rec.FinishTime = &now
	e.rec.Success = &success
	e.rec.Stats = stats
	e.rec.ErrorLog = errorLog
	return true, e.save(ctx)
}

func (e *Execution) Delete(ctx context.Context) error {
	if err := e.store.backend.DelStatus(ctx, backend.ExecutionKey(e.rec.ExecutionID)); err != nil {
		return errors.Wrapf(err, "failed to delete execution %s", e.rec.ExecutionID)
	}
	return nil
}

func (e *Execution) save(ctx context.Context) error {
	data, err := json.Marshal(e.rec)
	if err != nil {
		return errors.Wrapf(err, "failed to encode execution %s", e.rec.ExecutionID)
	}
	if err := e.store.backend.SetStatus(ctx, backend.ExecutionKey(e.rec.ExecutionID), data); err != nil {
		return errors.Wrapf(err, "failed to save execution %s", e.rec.ExecutionID)
	}
	return nil
}

package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/pipestatus/internal/backend"
	"github.com/mpataki/pipestatus/internal/lease"
	"github.com/mpataki/pipestatus/internal/log"
	"github.com/mpataki/pipestatus/internal/models"
)

type recordingSender struct {
	mu     sync.Mutex
	events []models.Payload
}

func (r *recordingSender) Send(_ context.Context, _ models.Hook, payload models.Payload, _ bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, payload)
}

func (r *recordingSender) last() models.Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func newOrchestrator(t *testing.T) (*Orchestrator, *recordingSender) {
	t.Helper()
	b, err := backend.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	sender := &recordingSender{}
	return New(b, sender, lease.NewLocal(), WithLogger(log.Discard())), sender
}

func pipeline(id, hash string, errs ...models.ValidationError) *models.Pipeline {
	return &models.Pipeline{
		ID: id,
		Details: models.Details{
			"title":    "Pipeline " + id,
			"hooks":    []any{"http://hooks.local"},
			"pipeline": []any{map[string]any{"run": "x"}},
		},
		Source:           models.SourceSpec{"path": "pipeline-spec.yaml", "name": id},
		ValidationErrors: errs,
		CacheHash:        hash,
	}
}

func syncPipelines(t *testing.T, o *Orchestrator, pipelines ...*models.Pipeline) *SyncResult {
	t.Helper()
	res, err := o.Sync(context.Background(), pipelines)
	require.NoError(t, err)
	return res
}

func TestSync(t *testing.T) {
	ctx := context.Background()
	o, _ := newOrchestrator(t)

	res := syncPipelines(t, o, pipeline("./a", "h"), pipeline("./b", "h"))
	assert.Equal(t, []string{"./a", "./b"}, res.Synced)
	assert.Empty(t, res.Deregistered)

	res = syncPipelines(t, o, pipeline("./b", "h2"))
	assert.Equal(t, []string{"./a"}, res.Deregistered)

	ids, err := o.backend.AllPipelineIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"./b"}, ids)

	s, err := o.Status(ctx, "./b")
	require.NoError(t, err)
	assert.Equal(t, "h2", s.CacheHash())
	assert.Equal(t, models.StateInit, s.State())

	_, err = o.Status(ctx, "./a")
	assert.ErrorIs(t, err, ErrUnknownPipeline)
}

func TestQueueLifecycle(t *testing.T) {
	ctx := context.Background()
	o, sender := newOrchestrator(t)
	syncPipelines(t, o, pipeline("./a", "h"))

	execID, queued, err := o.Queue(ctx, "./a", models.TriggerManual)
	require.NoError(t, err)
	require.True(t, queued)
	id, err := uuid.Parse(execID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())

	_, queued, err = o.Queue(ctx, "./a", models.TriggerManual)
	require.NoError(t, err)
	assert.False(t, queued, "already in flight")

	ok, err := o.Start(ctx, "./a", execID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = o.Update(ctx, "./a", execID, []string{"1", "2"}, true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"1", "2"}, sender.last()["log"])

	ok, err = o.Finish(ctx, "./a", "stale-id", true, nil, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = o.Finish(ctx, "./a", execID, true, map[string]any{"rows": 1}, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.HookEventFinish, sender.last()["event"])

	summaries, err := o.List(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	sum := summaries[0]
	assert.Equal(t, "./a", sum.PipelineID)
	assert.Equal(t, "Pipeline ./a", sum.Title)
	assert.Equal(t, models.StateSucceeded, sum.State)
	assert.False(t, sum.Dirty)
	assert.Equal(t, []string{}, sum.Errors)
	require.NotNil(t, sum.LastExecution)
	assert.Equal(t, execID, sum.LastExecution.ID())
	assert.Equal(t, map[string]any{"rows": float64(1)}, sum.LastExecution.Stats())
}

func TestQueueUnknownPipeline(t *testing.T) {
	o, _ := newOrchestrator(t)
	_, _, err := o.Queue(context.Background(), "./nope", models.TriggerManual)
	assert.ErrorIs(t, err, ErrUnknownPipeline)
}

func TestQueueInvalidPipeline(t *testing.T) {
	ctx := context.Background()
	o, _ := newOrchestrator(t)
	syncPipelines(t, o, pipeline("./a", "h", models.ValidationError{Code: "Invalid Pipeline", Message: "no steps"}))

	_, queued, err := o.Queue(ctx, "./a", models.TriggerManual)
	require.NoError(t, err)
	assert.False(t, queued)

	summaries, err := o.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StateInvalid, summaries[0].State)
	assert.Equal(t, []string{"Invalid Pipeline: no steps"}, summaries[0].Errors)
	assert.Nil(t, summaries[0].LastExecution)
}

func TestQueueConcurrent(t *testing.T) {
	ctx := context.Background()
	o, _ := newOrchestrator(t)
	syncPipelines(t, o, pipeline("./a", "h"))

	var (
		wg     sync.WaitGroup
		queued atomic.Int32
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := o.Queue(ctx, "./a", models.TriggerWebhook)
			if assert.NoError(t, err) && ok {
				queued.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), queued.Load())
	s, err := o.Status(ctx, "./a")
	require.NoError(t, err)
	assert.Len(t, s.Executions(), 1)
}

func TestQueueDirty(t *testing.T) {
	ctx := context.Background()
	o, _ := newOrchestrator(t)
	syncPipelines(t, o, pipeline("./a", "h"), pipeline("./b", "h"),
		pipeline("./bad", "h", models.ValidationError{Code: "Invalid Step", Message: "step 1 has no run"}))

	queued, err := o.QueueDirty(ctx, models.TriggerDirty)
	require.NoError(t, err)
	assert.Equal(t, []string{"./a", "./b"}, queued)

	for _, id := range queued {
		s, err := o.Status(ctx, id)
		require.NoError(t, err)
		ok, err := o.Finish(ctx, id, s.LastExecution().ID(), true, nil, nil)
		require.NoError(t, err)
		require.True(t, ok)
	}

	queued, err = o.QueueDirty(ctx, models.TriggerDirty)
	require.NoError(t, err)
	assert.Empty(t, queued, "nothing changed")

	syncPipelines(t, o, pipeline("./a", "h"), pipeline("./b", "h-changed"))
	queued, err = o.QueueDirty(ctx, models.TriggerDirty)
	require.NoError(t, err)
	assert.Equal(t, []string{"./b"}, queued)
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	o, sender := newOrchestrator(t)
	syncPipelines(t, o, pipeline("./a", "h"))

	ok, err := o.Invalidate(ctx, "./a")
	require.NoError(t, err)
	assert.False(t, ok, "nothing in flight")

	execID, _, err := o.Queue(ctx, "./a", models.TriggerManual)
	require.NoError(t, err)
	_, err = o.Start(ctx, "./a", execID)
	require.NoError(t, err)

	ok, err = o.Invalidate(ctx, "./a")
	require.NoError(t, err)
	assert.True(t, ok)

	s, err := o.Status(ctx, "./a")
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, s.State())
	assert.Equal(t, []string{InvalidatedError}, s.Errors())
	assert.Equal(t, false, sender.last()["success"])

	_, queued, err := o.Queue(ctx, "./a", models.TriggerManual)
	require.NoError(t, err)
	assert.True(t, queued, "invalidation unblocks the pipeline")
}

func TestMaxExecutions(t *testing.T) {
	ctx := context.Background()
	b, err := backend.NewSQLite(":memory:")
	require.NoError(t, err)
	defer b.Close()
	o := New(b, &recordingSender{}, lease.NewLocal(), WithLogger(log.Discard()), WithMaxExecutions(3))
	syncPipelines(t, o, pipeline("./a", "h"))

	var first string
	for i := range 5 {
		execID, queued, err := o.Queue(ctx, "./a", models.TriggerManual)
		require.NoError(t, err)
		require.True(t, queued)
		if i == 0 {
			first = execID
		}
		_, err = o.Finish(ctx, "./a", execID, true, nil, nil)
		require.NoError(t, err)
	}

	s, err := o.Status(ctx, "./a")
	require.NoError(t, err)
	assert.Len(t, s.Executions(), 3)
	_, err = b.GetStatus(ctx, backend.ExecutionKey(first))
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

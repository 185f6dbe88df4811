package execution

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/pipestatus/internal/backend"
	"github.com/mpataki/pipestatus/internal/log"
	"github.com/mpataki/pipestatus/internal/models"
	"github.com/mpataki/pipestatus/internal/status"
)

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newStore(t *testing.T) (*Store, backend.Backend) {
	t.Helper()
	b, err := backend.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	return NewStore(b, WithClock(c.now)), b
}

func TestQueuePersists(t *testing.T) {
	ctx := context.Background()
	store, b := newStore(t)

	ex := store.NewExecution("./p", models.Details{"title": "P"}, "h1", models.TriggerManual, "e1")
	_, err := b.GetStatus(ctx, backend.ExecutionKey("e1"))
	assert.ErrorIs(t, err, backend.ErrNotFound, "not saved before Queue")

	ok, err := ex.Queue(ctx, models.TriggerDirty)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ex.Queue(ctx, models.TriggerDirty)
	require.NoError(t, err)
	assert.False(t, ok, "second queue is refused")

	loaded, err := store.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "e1", loaded.ID())
	assert.Equal(t, "./p", loaded.PipelineID())
	assert.Equal(t, "h1", loaded.CacheHash())
	assert.Equal(t, models.TriggerDirty, loaded.Trigger())
	assert.Equal(t, models.Details{"title": "P"}, loaded.Details())
	assert.NotNil(t, loaded.QueueTime())
	assert.Nil(t, loaded.StartTime())
	assert.Nil(t, loaded.FinishTime())
	assert.Nil(t, loaded.Success())
}

func TestRecordShape(t *testing.T) {
	ctx := context.Background()
	store, b := newStore(t)

	ex := store.NewExecution("./p", nil, "h1", models.TriggerManual, "e1")
	_, err := ex.Queue(ctx, models.TriggerManual)
	require.NoError(t, err)

	data, err := b.GetStatus(ctx, backend.ExecutionKey("e1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"execution_id": "e1",
		"pipeline_id": "./p",
		"pipeline_details": null,
		"cache_hash": "h1",
		"trigger": "manual",
		"queue_time": "2024-05-01T12:00:01Z",
		"start_time": null,
		"finish_time": null,
		"success": null,
		"stats": null,
		"error_log": null,
		"log": null
	}`, string(data))
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)

	ex := store.NewExecution("./p", nil, "h", models.TriggerManual, "e1")
	_, err := ex.Queue(ctx, models.TriggerManual)
	require.NoError(t, err)

	ok, err := ex.Start(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = ex.Start(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = ex.Update(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ex.Finish(ctx, true, map[string]any{"rows": 10}, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ex.Finish(ctx, false, nil, []string{"late"})
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = ex.Update(ctx, []string{"late"})
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = ex.Start(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	loaded, err := store.Get(ctx, "e1")
	require.NoError(t, err)
	require.NotNil(t, loaded.Success())
	assert.True(t, *loaded.Success())
	assert.Equal(t, []string{"a", "b"}, loaded.Log())
	assert.Equal(t, map[string]any{"rows": float64(10)}, loaded.Stats())
	assert.Equal(t, time.Second, loaded.Duration())
}

func TestFinishWithoutStart(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)

	ex := store.NewExecution("./p", nil, "h", models.TriggerManual, "e1")
	_, err := ex.Queue(ctx, models.TriggerManual)
	require.NoError(t, err)

	ok, err := ex.Finish(ctx, false, nil, []string{"setup failed"})
	require.NoError(t, err)
	require.True(t, ok)

	assert.NotNil(t, ex.StartTime())
	assert.Equal(t, ex.StartTime(), ex.FinishTime())
	assert.Equal(t, []string{"setup failed"}, ex.ErrorLog())
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)

	ex := store.NewExecution("./p", nil, "h", models.TriggerManual, "e1")
	_, err := ex.Queue(ctx, models.TriggerManual)
	require.NoError(t, err)
	require.NoError(t, ex.Delete(ctx))

	_, err = store.FromExecutionID(ctx, "e1")
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

type nopSender struct{}

func (nopSender) Send(context.Context, models.Hook, models.Payload, bool) {}

func TestWithStatus(t *testing.T) {
	ctx := context.Background()
	store, b := newStore(t)

	load := func() *status.PipelineStatus {
		s, err := status.Load(ctx, b, store, nopSender{}, "./p", status.WithLogger(log.Discard()))
		require.NoError(t, err)
		return s
	}

	s := load()
	require.NoError(t, s.Init(ctx, models.Details{}, nil, nil, "h"))

	for i := 1; i <= 11; i++ {
		id := fmt.Sprintf("e%02d", i)
		ok, err := s.QueueExecution(ctx, id, models.TriggerManual)
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = s.StartExecution(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = s.FinishExecution(ctx, id, i%2 == 0, nil, nil)
		require.NoError(t, err)
		require.True(t, ok)
	}

	_, err := b.GetStatus(ctx, backend.ExecutionKey("e01"))
	assert.ErrorIs(t, err, backend.ErrNotFound, "evicted record is deleted")

	s = load()
	assert.Len(t, s.Executions(), 10)
	assert.Equal(t, "e11", s.LastExecution().ID())
	assert.Equal(t, "e10", s.LastSuccessfulExecution().ID())
	assert.Equal(t, models.StateFailed, s.State())
}

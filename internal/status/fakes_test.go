package status

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mpataki/pipestatus/internal/backend"
	"github.com/mpataki/pipestatus/internal/models"
)

type memBackend struct {
	blobs    map[string][]byte
	registry map[string]bool
	setErr   error
}

func newMemBackend() *memBackend {
	return &memBackend{blobs: map[string][]byte{}, registry: map[string]bool{}}
}

func (m *memBackend) GetStatus(_ context.Context, key string) ([]byte, error) {
	v, ok := m.blobs[key]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return v, nil
}

func (m *memBackend) SetStatus(_ context.Context, key string, value []byte) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.blobs[key] = value
	return nil
}

func (m *memBackend) RegisterPipelineID(_ context.Context, id string) error {
	m.registry[id] = true
	return nil
}

func (m *memBackend) DeregisterPipelineID(_ context.Context, id string) error {
	delete(m.registry, id)
	return nil
}

type fakeExecution struct {
	factory   *fakeFactory
	id        string
	cacheHash string
	trigger   models.Trigger
	queued    bool
	success   *bool
	start     *time.Time
	finish    *time.Time
	errorLog  []string
	log       []string
	stats     map[string]any
}

func (e *fakeExecution) ID() string             { return e.id }
func (e *fakeExecution) CacheHash() string      { return e.cacheHash }
func (e *fakeExecution) Success() *bool         { return e.success }
func (e *fakeExecution) StartTime() *time.Time  { return e.start }
func (e *fakeExecution) FinishTime() *time.Time { return e.finish }
func (e *fakeExecution) ErrorLog() []string     { return e.errorLog }

func (e *fakeExecution) Queue(_ context.Context, trigger models.Trigger) (bool, error) {
	if e.factory.refuseQueue || e.queued {
		return false, nil
	}
	e.queued = true
	e.trigger = trigger
	e.factory.records[e.id] = e
	return true, nil
}

func (e *fakeExecution) Start(_ context.Context) (bool, error) {
	if e.start != nil {
		return false, nil
	}
	now := time.Now()
	e.start = &now
	return true, nil
}

func (e *fakeExecution) Update(_ context.Context, log []string) (bool, error) {
	if e.finish != nil {
		return false, nil
	}
	e.log = log
	return true, nil
}

func (e *fakeExecution) Finish(_ context.Context, success bool, stats map[string]any, errorLog []string) (bool, error) {
	if e.finish != nil {
		return false, nil
	}
	now := time.Now()
	e.finish = &now
	e.success = &success
	e.stats = stats
	e.errorLog = errorLog
	return true, nil
}

func (e *fakeExecution) Delete(_ context.Context) error {
	delete(e.factory.records, e.id)
	e.factory.deleted = append(e.factory.deleted, e.id)
	return nil
}

type fakeFactory struct {
	records     map[string]*fakeExecution
	deleted     []string
	refuseQueue bool
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{records: map[string]*fakeExecution{}}
}

func (f *fakeFactory) FromExecutionID(_ context.Context, id string) (Execution, error) {
	ex, ok := f.records[id]
	if !ok {
		return nil, errors.Wrap(backend.ErrNotFound, id)
	}
	return ex, nil
}

func (f *fakeFactory) NewExecution(_ string, _ models.Details, cacheHash string, trigger models.Trigger, id string) Execution {
	return &fakeExecution{factory: f, id: id, cacheHash: cacheHash, trigger: trigger}
}

type sent struct {
	hook     models.Hook
	payload  models.Payload
	blocking bool
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sent
}

func (r *recordingSender) Send(_ context.Context, hook models.Hook, payload models.Payload, blocking bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{hook: hook, payload: payload, blocking: blocking})
}

func (r *recordingSender) events() []models.HookEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.HookEvent
	for _, s := range r.sent {
		out = append(out, s.payload["event"].(models.HookEvent))
	}
	return out
}

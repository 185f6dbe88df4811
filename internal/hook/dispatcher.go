// Package hook delivers pipeline lifecycle events to http and Lua hooks.
package hook

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/mpataki/pipestatus/internal/config"
	"github.com/mpataki/pipestatus/internal/log"
	"github.com/mpataki/pipestatus/internal/models"
	"github.com/mpataki/pipestatus/internal/status"
)

// Dispatcher sends hook payloads inline or through a worker queue.
// Delivery failures are logged and never returned.
type Dispatcher struct {
	cfg    config.Hooks
	client *http.Client
	queue  *Queue
	logger *slog.Logger
}

var _ status.HookSender = (*Dispatcher)(nil)

const defaultTimeout = 10 * time.Second

type Option func(*Dispatcher)

func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) {
		d.client = c
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

func NewDispatcher(cfg config.Hooks, opts ...Option) *Dispatcher {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	d := &Dispatcher{
		cfg:    cfg,
		client: http.DefaultClient,
		queue:  NewQueue(cfg.QueueSize),
		logger: log.New("hooks"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the workers that deliver non-blocking sends.
func (d *Dispatcher) Start() {
	workers := d.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	d.queue.StartRunners(workers)
}

// Stop waits for queued deliveries to finish.
func (d *Dispatcher) Stop() {
	d.queue.Stop()
}

func (d *Dispatcher) Send(ctx context.Context, hook models.Hook, payload models.Payload, blocking bool) {
	l := d.logger.With("hook", string(hook), "event", payload["event"])

	if blocking {
		if err := d.Deliver(ctx, hook, payload); err != nil {
			l.Error("hook delivery failed", "err", err)
		}
		return
	}

	// the caller's context usually ends before the queue drains
	detached := context.WithoutCancel(ctx)
	ok := d.queue.Enqueue(Job{
		Run: func() error {
			return d.Deliver(detached, hook, payload)
		},
		OnFail: func(err error) {
			l.Error("hook delivery failed", "err", err)
		},
	})
	if !ok {
		l.Warn("hook queue full, dropping event")
	}
}

// Deliver sends payload to hook and reports the outcome.
func (d *Dispatcher) Deliver(ctx context.Context, hook models.Hook, payload models.Payload) error {
	switch {
	case hook.IsHTTP():
		return d.post(ctx, string(hook), payload)
	case hook.IsLua():
		luaCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
		return runLua(luaCtx, d.logger, hook.ScriptPath(), payload)
	default:
		return errors.Errorf("unsupported hook target %q", string(hook))
	}
}

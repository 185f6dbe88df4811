package status

import (
	"context"

	"github.com/mpataki/pipestatus/internal/models"
)

// MaxHookLogLines bounds the log lines carried by a hook payload.
const MaxHookLogLines = 100

// HookOptions carries the optional parts of a hook payload. Nil fields are
// left out of the payload.
type HookOptions struct {
	Success  *bool
	Errors   []string
	Stats    map[string]any
	Log      []string
	Blocking bool
}

// UpdateHooks sends event to every hook configured in the pipeline details.
// It is a no-op when the details carry no hooks.
func (s *PipelineStatus) UpdateHooks(ctx context.Context, event models.HookEvent, opts HookOptions) {
	hooks, ok := s.details.Hooks()
	if !ok {
		return
	}

	payload := models.Payload{
		"pipeline_id": s.pipelineID,
		"event":       event,
	}
	if opts.Success != nil {
		payload["success"] = *opts.Success
	}
	if opts.Errors != nil {
		payload["errors"] = opts.Errors
	}
	if opts.Stats != nil {
		payload["stats"] = opts.Stats
	}
	if opts.Log != nil {
		payload["log"] = logTail(opts.Log, MaxHookLogLines)
	}

	for _, hook := range hooks {
		s.hooks.Send(ctx, hook, payload, opts.Blocking)
	}
}

func logTail(log []string, n int) []string {
	if len(log) <= n {
		return log
	}
	tail := make([]string, n)
	copy(tail, log[len(log)-n:])
	return tail
}

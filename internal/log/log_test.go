package log

import (
	"context"
	"log/slog"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
)

func TestContextRoundTrip(t *testing.T) {
	l := New("test")
	ctx := IntoContext(context.Background(), l)
	assert.Same(t, l, FromContext(ctx))
}

func TestFromContextDefault(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))
	//nolint:staticcheck
	assert.Same(t, slog.Default(), FromContext(nil))
}

func TestSubLoggerPrefix(t *testing.T) {
	sub := SubLogger(New("pipestatus"), "hooks")
	cl, ok := sub.Handler().(*log.Logger)
	assert.True(t, ok)
	assert.Equal(t, "pipestatus/hooks", cl.GetPrefix())
}

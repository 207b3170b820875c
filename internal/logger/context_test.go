package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestFromContext falls back to the global logger and returns stored loggers.
func TestFromContext(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	require.Same(t, Logger(), FromContext(ctx))

	named := Logger().Named("scoped")
	ctx = ToContext(ctx, named)
	require.Same(t, named, FromContext(ctx))
}

// TestWithName stores a named logger distinct from the global one.
func TestWithName(t *testing.T) {
	t.Parallel()

	ctx := WithName(context.Background(), "component")
	require.NotSame(t, Logger(), FromContext(ctx))
}

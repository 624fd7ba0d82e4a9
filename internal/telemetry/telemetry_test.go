package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), "", "screenhub", "test", true)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))

	_, span := Tracer("test").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
}

func TestInit_WithEndpoint(t *testing.T) {
	ctx := context.Background()
	shutdown, err := Init(ctx, "127.0.0.1:4318", "screenhub", "test", true)
	require.NoError(t, err)

	_, span := Tracer("test").Start(ctx, "op")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	// No collector is listening, so only check that shutdown returns.
	ctx, cancel := context.WithCancel(ctx)
	cancel()
	_ = shutdown(ctx)
}

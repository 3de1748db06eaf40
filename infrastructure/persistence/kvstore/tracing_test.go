package kvstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTraceStore_RecordsSpans(t *testing.T) {
	// Arrange
	ctx := context.Background()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	mem := NewMemoryStore()
	mem.CreateTable("assignments", "assignmentId")
	store := TraceStore(mem, tp.Tracer("test"))

	// Act
	require.NoError(t, store.PutIfNotExists(ctx, "assignments", Item{"assignmentId": "a1"}, "assignmentId"))
	dupErr := store.PutIfNotExists(ctx, "assignments", Item{"assignmentId": "a1"}, "assignmentId")
	_, missErr := store.Get(ctx, "assignments", Key{"assignmentId": "nope"})

	// Assert
	require.Error(t, dupErr)
	require.ErrorIs(t, missErr, ErrItemNotFound)

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "kvstore.PutIfNotExists", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, KindOf(dupErr).String(), spans[1].Status().Description)
	assert.Equal(t, "kvstore.Get", spans[2].Name())
	assert.Equal(t, codes.Unset, spans[2].Status().Code, "a miss is not an error")
}

package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2)
}

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithRunID(ctx, "run-1")
	ctx = WithSessionID(ctx, "sess-1")

	tc := FromContext(ctx)
	assert.Equal(t, "trace-1", tc.TraceID)
	assert.Equal(t, "run-1", tc.RunID)
	assert.Equal(t, "sess-1", tc.SessionID)
}

func TestGettersOnEmptyContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetRunID(ctx))
	assert.Empty(t, GetSessionID(ctx))
}

func TestNewRequestContextKeepsExistingTrace(t *testing.T) {
	ctx := WithTraceID(context.Background(), "existing")
	assert.Equal(t, "existing", GetTraceID(NewRequestContext(ctx)))

	fresh := NewRequestContext(context.Background())
	assert.NotEmpty(t, GetTraceID(fresh))
}

func TestNewRunContext(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-x")

	run1 := NewRunContext(ctx, "sess")
	run2 := NewRunContext(ctx, "sess")

	assert.Equal(t, "trace-x", GetTraceID(run1))
	assert.Equal(t, "sess", GetSessionID(run1))
	assert.NotEmpty(t, GetRunID(run1))
	assert.NotEqual(t, GetRunID(run1), GetRunID(run2))
}

func TestStartSpanWithoutProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test.span")
	defer span.End()

	assert.NotNil(t, ctx)
	FailSpan(span, nil)
}

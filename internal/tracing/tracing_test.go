package tracing

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGenerateRequestID(t *testing.T) {
	id := GenerateRequestID()

	assert.True(t, strings.HasPrefix(id, "req_"))
	assert.Len(t, id, 20)
	assert.NotEqual(t, id, GenerateRequestID())
}

func TestGenerateTraceID(t *testing.T) {
	id := GenerateTraceID()

	assert.Len(t, id, 32)
	assert.Regexp(t, "^[0-9a-f]{32}$", id)
	assert.NotEqual(t, id, GenerateTraceID())
}

func TestContextValues(t *testing.T) {
	start := time.Now()
	ctx := context.Background()
	ctx = WithRequestID(ctx, "req_1")
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithSpanID(ctx, "span-1")
	ctx = WithStartTime(ctx, start)

	info := GetRequestInfo(ctx)
	assert.Equal(t, "req_1", info.RequestID)
	assert.Equal(t, "trace-1", info.TraceID)
	assert.Equal(t, "span-1", info.SpanID)
	assert.Equal(t, start, info.StartTime)
}

func TestContextValues_Missing(t *testing.T) {
	ctx := context.Background()

	assert.Empty(t, GetRequestID(ctx))
	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetSpanID(ctx))
	assert.True(t, GetStartTime(ctx).IsZero())
	assert.Zero(t, Duration(ctx))
}

func TestDuration(t *testing.T) {
	ctx := WithStartTime(context.Background(), time.Now().Add(-50*time.Millisecond))
	assert.GreaterOrEqual(t, Duration(ctx), 50*time.Millisecond)
}

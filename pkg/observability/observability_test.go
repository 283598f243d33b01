package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "attest-orchestrator", config.ServiceName)
	require.Equal(t, "development", config.Environment)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.False(t, config.Enabled)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)
	require.NotNil(t, p.Tracer())
}

func TestTrackOperationDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, finish := p.TrackOperation(context.Background(), "pipeline.step",
		AttrStep.String("prd_parsing"))
	require.NotNil(t, ctx)
	finish(nil)

	_, finish = p.TrackOperation(context.Background(), "pipeline.step")
	finish(errors.New("step failed"))
}

func TestRecordMetricsDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()
	p.RecordError(ctx, errors.New("boom"), attribute.String("test", "value"))
	p.RecordDuration(ctx, 100*time.Millisecond)
}

func TestShutdownDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
}

func TestStepOperationAttrs(t *testing.T) {
	attrs := StepOperation("run-1", "s1", "test_execution")
	require.Len(t, attrs, 3)
	require.Equal(t, "attest.run.id", string(attrs[0].Key))
	require.Equal(t, "run-1", attrs[0].Value.AsString())
	require.Equal(t, "test_execution", attrs[2].Value.AsString())
}

func TestGateOperationAttrs(t *testing.T) {
	attrs := GateOperation("run-1", "approval", true)
	require.Len(t, attrs, 3)
	require.Equal(t, "attest.gate.kind", string(attrs[1].Key))
	require.Equal(t, true, attrs[2].Value.AsBool())
}

func TestSpanHelpers(t *testing.T) {
	ctx := context.Background()
	require.NotNil(t, SpanFromContext(ctx))
	AddSpanEvent(ctx, "test.event", attribute.String("key", "value"))
	SetSpanStatus(ctx, errors.New("test error"))
	SetSpanStatus(ctx, nil)
}

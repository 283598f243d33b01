// Attest-specific instrumentation helpers.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attest semantic convention attributes.
var (
	AttrRunID   = attribute.Key("attest.run.id")
	AttrShardID = attribute.Key("attest.run.shard_id")
	AttrStep    = attribute.Key("attest.step.name")

	AttrState = attribute.Key("attest.run.state")
	AttrEvent = attribute.Key("attest.transition.event")

	AttrEngine   = attribute.Key("attest.engine.name")
	AttrGateKind = attribute.Key("attest.gate.kind")
	AttrAccepted = attribute.Key("attest.gate.accepted")
)

// StepOperation creates attributes for one pipeline step execution.
func StepOperation(runID, shardID, step string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRunID.String(runID),
		AttrShardID.String(shardID),
		AttrStep.String(step),
	}
}

// TransitionOperation creates attributes for a state machine transition.
func TransitionOperation(runID, state, event string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRunID.String(runID),
		AttrState.String(state),
		AttrEvent.String(event),
	}
}

// EngineOperation creates attributes for a collaborator engine call.
func EngineOperation(engine, runID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEngine.String(engine),
		AttrRunID.String(runID),
	}
}

// GateOperation creates attributes for an approval or confirmation
// decision.
func GateOperation(runID, kind string, accepted bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRunID.String(runID),
		AttrGateKind.String(kind),
		AttrAccepted.Bool(accepted),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records err on the current span when non-nil.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}

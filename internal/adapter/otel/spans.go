package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "proofworks"

// StartAssignmentSpan starts a span for an assignment lifecycle operation.
func StartAssignmentSpan(ctx context.Context, op, evidenceID, validatorID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "assignment."+op,
		trace.WithAttributes(
			attribute.String("evidence.id", evidenceID),
			attribute.String("validator.id", validatorID),
		),
	)
}

// StartConsensusSpan starts a span for a consensus evaluation.
func StartConsensusSpan(ctx context.Context, evidenceID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "consensus.evaluate",
		trace.WithAttributes(
			attribute.String("evidence.id", evidenceID),
		),
	)
}

// StartAutoValidateSpan starts a span for an automatic validation run.
func StartAutoValidateSpan(ctx context.Context, evidenceID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "validation.auto",
		trace.WithAttributes(
			attribute.String("evidence.id", evidenceID),
		),
	)
}

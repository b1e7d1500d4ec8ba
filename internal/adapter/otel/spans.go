package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "stagesync"

// StartWebhookSpan starts a span for one inbound webhook event.
func StartWebhookSpan(ctx context.Context, event string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "webhook",
		trace.WithAttributes(
			attribute.String("webhook.event", event),
		),
	)
}

// StartStageSpan starts a span for a stage transition.
func StartStageSpan(ctx context.Context, projectID, fromStage, toStage string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "stage.advance",
		trace.WithAttributes(
			attribute.String("project.id", projectID),
			attribute.String("stage.from", fromStage),
			attribute.String("stage.to", toStage),
		),
	)
}

// StartSyncSpan starts a span for a full project sync pass.
func StartSyncSpan(ctx context.Context, projectID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "sync",
		trace.WithAttributes(
			attribute.String("project.id", projectID),
		),
	)
}

package agent

import (
	"context"
	"log/slog"
	"palaver/internal/trace"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

func invokeTraced(ctx context.Context, name, input string, fn Func, args Args) (any, error) {
	ctx, span := trace.Tracer().Start(ctx, name,
		oteltrace.WithAttributes(
			attribute.String("span_type", "function"),
			attribute.String("gen_ai.tool.name", name),
			attribute.String("gen_ai.tool.input", input),
		),
	)
	defer span.End()

	sc := span.SpanContext()
	slog.Debug("tool span started", "tool", name, "trace_id", sc.TraceID(), "span_id", sc.SpanID())

	result, err := fn(ctx, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return result, nil
}

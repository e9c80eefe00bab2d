package gateway

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/ticketrush/coordinator/gateway"

// WithTracing wraps a gateway so every command round-trip becomes an OTel
// span. A nil provider falls back to a noop tracer.
func WithTracing(g Gateway, tp trace.TracerProvider) Gateway {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &tracingGateway{
		next:   g,
		tracer: tp.Tracer(instrumentationName),
	}
}

type tracingGateway struct {
	next   Gateway
	tracer trace.Tracer
}

func (t *tracingGateway) Invoke(ctx context.Context, name string, args Args) (json.RawMessage, error) {
	ctx, span := t.tracer.Start(ctx, "engine.invoke "+name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("engine.command", name)),
	)
	defer span.End()

	reply, err := t.next.Invoke(ctx, name, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return reply, nil
}

package gateway

import (
	"context"
	"encoding/json"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestFuncNilIsUnavailable(t *testing.T) {
	var g Func
	if _, err := g.Invoke(context.Background(), CmdGetState, nil); err != ErrUnavailable {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestInvokeStringAcceptsBothReplyShapes(t *testing.T) {
	bare := Func(func(ctx context.Context, name string, args Args) (json.RawMessage, error) {
		return json.RawMessage(`"task-1"`), nil
	})
	id, err := InvokeString(context.Background(), bare, CmdGetTicketInfo, nil)
	if err != nil || id != "task-1" {
		t.Fatalf("bare reply: id=%q err=%v", id, err)
	}

	wrapped := Func(func(ctx context.Context, name string, args Args) (json.RawMessage, error) {
		return json.RawMessage(`{"task_id":"task-2","message":"ok"}`), nil
	})
	id, err = InvokeString(context.Background(), wrapped, CmdQrcodeLogin, nil)
	if err != nil || id != "task-2" {
		t.Fatalf("wrapped reply: id=%q err=%v", id, err)
	}

	if _, err := InvokeString(context.Background(), nil, CmdGetTicketInfo, nil); err != ErrUnavailable {
		t.Fatalf("nil gateway err = %v, want ErrUnavailable", err)
	}
}

func TestWithTracingEmitsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	inner := Func(func(ctx context.Context, name string, args Args) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})
	g := WithTracing(inner, tp)
	if _, err := g.Invoke(context.Background(), CmdGetState, nil); err != nil {
		t.Fatalf("invoke: %v", err)
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name() != "engine.invoke "+CmdGetState {
		t.Fatalf("span name = %q", spans[0].Name())
	}
}

package traces

import (
	"context"
	"log/slog"
	"reflect"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), "", slog.Default())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if shutdown == nil {
		t.Fatal("expected a shutdown func")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestStartSpanPropagatesThroughContext(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "escrow.Release",
		EscrowID("esc_1"), Amount(9480))
	defer span.End()

	if got := trace.SpanFromContext(ctx); !reflect.DeepEqual(got, span) {
		t.Fatal("span not carried in the returned context")
	}
}

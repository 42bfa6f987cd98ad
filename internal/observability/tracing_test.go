package observability

import (
	"context"
	"testing"

	"github.com/example/adr/internal/config"
)

func TestParseHeaders(t *testing.T) {
	got := parseHeaders("authorization=Bearer abc, x-tenant = t1 ,broken,=empty")
	if len(got) != 2 || got["authorization"] != "Bearer abc" || got["x-tenant"] != "t1" {
		t.Fatalf("unexpected headers: %+v", got)
	}
}

func TestInitTracingNoneIsNoop(t *testing.T) {
	shutdown, err := InitTracing("adr-test", config.TracingConfig{Exporter: "none"})
	if err != nil {
		t.Fatalf("init tracing: %v", err)
	}
	ctx, span := StartSpan(context.Background(), "noop")
	span.End()
	if ctx == nil {
		t.Fatalf("expected a context")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

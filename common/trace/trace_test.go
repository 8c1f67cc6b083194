package trace_test

import (
	"context"
	"strings"
	"testing"

	"github.com/bdobrica/chobo/common/trace"
)

func TestGenerateID(t *testing.T) {
	a, b := trace.GenerateID(), trace.GenerateID()
	if a == b {
		t.Fatalf("two ids collided: %s", a)
	}
	if !strings.HasPrefix(a, "t_") || len(a) != 34 {
		t.Errorf("unexpected id shape %q", a)
	}
}

func TestContext(t *testing.T) {
	ctx := context.Background()
	if trace.FromContext(ctx) != "" || trace.SessionFromContext(ctx) != "" {
		t.Fatal("empty context should carry no ids")
	}
	ctx = trace.WithTraceID(ctx, "t_1")
	ctx = trace.WithSessionID(ctx, "s_1")
	if got := trace.FromContext(ctx); got != "t_1" {
		t.Errorf("trace id = %q", got)
	}
	if got := trace.SessionFromContext(ctx); got != "s_1" {
		t.Errorf("session id = %q", got)
	}
}

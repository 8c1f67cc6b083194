package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/bdobrica/chobo/common/trace"
	"github.com/bdobrica/chobo/internal/chobo/observability"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := observability.ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetup_JSONWithTrace(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	log := observability.Setup("info", "json", &buf)

	ctx := trace.WithSessionID(trace.WithTraceID(context.Background(), "t_abc"), "s_1")
	observability.WithTrace(ctx, log).Info("dialogue.turn", "kind", "slot_fill")
	log.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1 (debug filtered): %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	for k, want := range map[string]string{"msg": "dialogue.turn", "trace_id": "t_abc", "session_id": "s_1", "kind": "slot_fill"} {
		if rec[k] != want {
			t.Errorf("%s = %v, want %q", k, rec[k], want)
		}
	}
}

func TestWithTrace_NoIDs(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))
	if got := observability.WithTrace(context.Background(), base); got != base {
		t.Error("expected the base logger back when ctx has no ids")
	}
}

func TestRedactSecrets(t *testing.T) {
	got := observability.RedactSecrets("key sk-live-999 sent as Bearer sk-other", "sk-live-999")
	if want := "key [REDACTED] sent as Bearer [REDACTED]"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

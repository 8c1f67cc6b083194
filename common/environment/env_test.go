package environment_test

import (
	"testing"
	"time"

	"github.com/bdobrica/chobo/common/environment"
)

func TestStringOr(t *testing.T) {
	t.Setenv("CHOBO_TEST_STRING", "  ledger.db ")
	t.Setenv("CHOBO_TEST_BLANK", "   ")
	if got := environment.StringOr("CHOBO_TEST_STRING", "x"); got != "ledger.db" {
		t.Errorf("got %q, want trimmed value", got)
	}
	if got := environment.StringOr("CHOBO_TEST_BLANK", "x"); got != "x" {
		t.Errorf("blank value: got %q, want default", got)
	}
	if got := environment.StringOr("CHOBO_TEST_MISSING", "x"); got != "x" {
		t.Errorf("missing: got %q, want default", got)
	}
}

func TestBoolOr(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"true", false, true},
		{"0", true, false},
		{"yes", false, true},
		{"OFF", true, false},
		{"maybe", true, true},
		{"", true, true},
	}
	for _, tt := range tests {
		t.Setenv("CHOBO_TEST_BOOL", tt.value)
		if got := environment.BoolOr("CHOBO_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("BoolOr(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestIntOr(t *testing.T) {
	t.Setenv("CHOBO_TEST_INT", "42")
	if got := environment.IntOr("CHOBO_TEST_INT", 0); got != 42 {
		t.Errorf("got %d, want 42", got)
	}
	t.Setenv("CHOBO_TEST_INT", "forty")
	if got := environment.IntOr("CHOBO_TEST_INT", 7); got != 7 {
		t.Errorf("bad value: got %d, want default 7", got)
	}
}

func TestFloatOr(t *testing.T) {
	tests := []struct {
		value string
		want  float64
	}{
		{"0.75", 0.75},
		{"1", 1},
		{"NaN", 0.5},
		{"Inf", 0.5},
		{"high", 0.5},
	}
	for _, tt := range tests {
		t.Setenv("CHOBO_TEST_FLOAT", tt.value)
		if got := environment.FloatOr("CHOBO_TEST_FLOAT", 0.5); got != tt.want {
			t.Errorf("FloatOr(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestDurationOr(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"30s", 30 * time.Second},
		{"10m", 10 * time.Minute},
		{"90", 90 * time.Second},
		{"soon", time.Minute},
	}
	for _, tt := range tests {
		t.Setenv("CHOBO_TEST_DUR", tt.value)
		if got := environment.DurationOr("CHOBO_TEST_DUR", time.Minute); got != tt.want {
			t.Errorf("DurationOr(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestDescribe(t *testing.T) {
	t.Setenv("CHOBO_TEST_DB", "chobo.db")
	t.Setenv("CHOBO_TEST_KEY", "sk-123456")
	got := environment.Describe([]string{"CHOBO_TEST_DB", "CHOBO_TEST_KEY", "CHOBO_TEST_UNSET"}, "CHOBO_TEST_KEY")
	if want := "CHOBO_TEST_DB=chobo.db CHOBO_TEST_KEY=[set]"; got != want {
		t.Errorf("Describe() = %q, want %q", got, want)
	}
}

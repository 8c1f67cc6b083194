// Package environment reads typed settings from environment variables.
//
// Every helper takes a fallback and returns it when the variable is unset,
// empty or unparseable, so a typo degrades to the default instead of
// aborting start-up. Callers that need to reject bad values use Lookup.
package environment

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Lookup returns the trimmed value of name and whether it was non-empty.
func Lookup(name string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	return v, v != ""
}

// StringOr returns the value of name, or def.
func StringOr(name, def string) string {
	if v, ok := Lookup(name); ok {
		return v
	}
	return def
}

// BoolOr parses name with strconv.ParseBool, also accepting "yes"/"no" and
// "on"/"off".
func BoolOr(name string, def bool) bool {
	v, ok := Lookup(name)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// IntOr parses name as a decimal integer.
func IntOr(name string, def int) int {
	v, ok := Lookup(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// FloatOr parses name as a finite float.
func FloatOr(name string, def float64) float64 {
	v, ok := Lookup(name)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return def
	}
	return f
}

// DurationOr parses name with time.ParseDuration ("30s", "10m"). A bare
// integer is read as seconds.
func DurationOr(name string, def time.Duration) time.Duration {
	v, ok := Lookup(name)
	if !ok {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// Describe renders name=value pairs for a start-up log line, hiding the
// values of the names listed in secret.
func Describe(names []string, secret ...string) string {
	hidden := make(map[string]bool, len(secret))
	for _, s := range secret {
		hidden[s] = true
	}
	parts := make([]string, 0, len(names))
	for _, n := range names {
		v, ok := Lookup(n)
		switch {
		case !ok:
			continue
		case hidden[n]:
			v = "[set]"
		}
		parts = append(parts, fmt.Sprintf("%s=%s", n, v))
	}
	return strings.Join(parts, " ")
}

// Package redact strips credentials from text before it is logged or shown
// to the user.
//
// The upstream classifier's API key is the only secret chobo holds. Error
// strings from the HTTP client and from the provider echo request details
// back, so every such string passes through String before it leaves the nlp
// package.
package redact

import "strings"

const placeholder = "[REDACTED]"

// minSecretLen is the shortest value worth redacting. Shorter values match
// ordinary words.
const minSecretLen = 4

// String replaces every occurrence of each sensitive value in s with
// [REDACTED].
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < minSecretLen {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Bearer hides everything after a "Bearer " prefix up to the next blank, for
// messages that quote an Authorization header without the caller knowing the
// key.
func Bearer(s string) string {
	const prefix = "Bearer "
	var b strings.Builder
	for {
		i := strings.Index(s, prefix)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i+len(prefix)])
		rest := s[i+len(prefix):]
		end := strings.IndexAny(rest, " \t\r\n\"'")
		if end < 0 {
			end = len(rest)
		}
		if end > 0 {
			b.WriteString(placeholder)
		}
		s = rest[end:]
	}
}

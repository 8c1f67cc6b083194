// Package learning resolves misspelled counter-party names against history
// and remembers what completed transactions looked like, so later drafts can
// be filled in with fewer questions.
package learning

import "strings"

// MinScore is the lowest Score at which ResolveCounterparty asserts a match.
const MinScore = 2

// Score measures how well candidate matches target. It is case-insensitive and
// directional: containment in either direction is worth 10, an equal first
// rune 3, every rune of target present in candidate 1, and rune lengths within
// one (or two) of each other 2 (or 1).
func Score(candidate, target string) int {
	c := strings.ToLower(strings.TrimSpace(candidate))
	t := strings.ToLower(strings.TrimSpace(target))
	if c == "" || t == "" {
		return 0
	}

	score := 0
	if strings.Contains(c, t) || strings.Contains(t, c) {
		score += 10
	}
	cr, tr := []rune(c), []rune(t)
	if cr[0] == tr[0] {
		score += 3
	}
	for _, r := range tr {
		if strings.ContainsRune(c, r) {
			score++
		}
	}
	switch diff := abs(len(cr) - len(tr)); {
	case diff <= 1:
		score += 2
	case diff <= 2:
		score++
	}
	return score
}

// ResolveCounterparty returns the entry of known that scores highest against
// raw, or "" when the best score is below MinScore. The earliest entry wins
// ties.
func ResolveCounterparty(raw string, known []string) string {
	best, bestScore := "", 0
	for _, k := range known {
		if s := Score(raw, k); s > bestScore {
			best, bestScore = k, s
		}
	}
	if bestScore < MinScore {
		return ""
	}
	return best
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Confident reports whether raw is close enough to known for the engine to
// substitute it without asking. The score has to cover every rune of known
// plus the first-rune bonus, which plain character overlap between unrelated
// names does not reach.
func Confident(raw, known string) bool {
	return Score(raw, known) >= len([]rune(strings.TrimSpace(known)))+3
}

// Mentioned returns the longest entry of known that appears in text as a
// whole phrase, or "".
func Mentioned(text string, known []string) string {
	lower := key(text)
	best := ""
	for _, k := range known {
		kk := key(k)
		if len(kk) > len(key(best)) && containsWord(lower, kk) {
			best = k
		}
	}
	return best
}

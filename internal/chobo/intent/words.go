package intent

import (
	"regexp"
	"strings"
	"unicode"
)

// confirmationPositiveWords are replies that mean "yes, go ahead".
var confirmationPositiveWords = []string{
	"yes", "y", "ok", "okay", "confirm", "confirmed", "proceed", "go ahead",
	"do it", "sure", "yep", "yup", "yeah", "correct", "right", "affirmative",
	"looks good", "sounds good", "save it", "save",
}

// confirmationNegativeWords are replies that mean "no, drop it".
var confirmationNegativeWords = []string{
	"no", "n", "cancel", "abort", "stop", "nope", "nah", "nevermind",
	"never mind", "forget it", "discard", "drop it",
}

// fillerWords may trail a yes or no without changing its meaning.
var fillerWords = map[string]bool{
	"please": true, "thanks": true, "thank": true, "you": true, "it": true,
	"that": true, "this": true, "the": true, "order": true, "transaction": true,
	"sale": true, "purchase": true, "all": true, "good": true, "fine": true,
	"now": true, "then": true, "is": true, "thx": true, "pls": true,
}

var correctionMarker = regexp.MustCompile(`\b(?:change|changed|modify|update|correct(?:ion)?|actually|instead|make\s+it|should\s+be|switch|replace|wrong|set)\b`)

var leadingVerbs = map[string]bool{
	"sell": true, "sold": true, "selling": true, "buy": true, "bought": true,
	"purchase": true, "purchased": true, "order": true, "ordered": true,
	"restock": true, "procure": true, "record": true, "create": true,
	"invoice": true, "ship": true, "deliver": true,
}

// words lower-cases text and splits it on anything that is not a letter,
// digit or apostrophe.
func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// matchesReply reports whether text is one of phrases, optionally followed by
// filler words or further phrases ("yes please", "ok, confirm").
func matchesReply(text string, phrases []string) bool {
	ws := words(text)
	if len(ws) == 0 {
		return false
	}
	matched := false
	for i := 0; i < len(ws); {
		n := phraseAt(ws, i, phrases)
		switch {
		case n > 0:
			matched = true
			i += n
		case matched && fillerWords[ws[i]]:
			i++
		default:
			return false
		}
	}
	return matched
}

// phraseAt returns the word length of the longest phrase starting at ws[i].
func phraseAt(ws []string, i int, phrases []string) int {
	best := 0
	for _, p := range phrases {
		pw := strings.Fields(p)
		if len(pw) <= best || i+len(pw) > len(ws) {
			continue
		}
		ok := true
		for j, w := range pw {
			if ws[i+j] != w {
				ok = false
				break
			}
		}
		if ok {
			best = len(pw)
		}
	}
	return best
}

func isConfirmation(text string) bool {
	return matchesReply(text, confirmationPositiveWords)
}

// isCancellation also accepts anything that opens with "cancel" or "abort".
func isCancellation(text string) bool {
	if ws := words(text); len(ws) > 0 && (ws[0] == "cancel" || ws[0] == "abort") {
		return true
	}
	return matchesReply(text, confirmationNegativeWords)
}

func hasCorrectionMarker(text string) bool {
	return correctionMarker.MatchString(strings.ToLower(text))
}

func startsWithVerb(text string) bool {
	ws := words(text)
	return len(ws) > 0 && leadingVerbs[ws[0]]
}

// Package numeral converts digit and spelled-out English numerals into
// numbers.
//
// Spelled-out forms cover one..nine, ten..nineteen, the tens twenty..ninety,
// "hundred" and "thousand", combined left to right ("two hundred thirty",
// "one thousand and five", "twenty-three"). Anything outside that grammar is
// rejected with ErrNotNumber rather than guessed.
package numeral

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ErrNotNumber is returned when a token is not a supported numeral.
var ErrNotNumber = errors.New("numeral: not a number")

// ErrNotInteger is returned by ParseInt for fractional values.
var ErrNotInteger = errors.New("numeral: not an integer")

var digitsRe = regexp.MustCompile(`^[$¥€£]?\s*(-?(?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d+)?)$`)

var units = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9,
}

var teens = map[string]int{
	"ten": 10, "eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14,
	"fifteen": 15, "sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19,
}

var tens = map[string]int{
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
}

// Parse converts token to a number. Digit forms may carry a leading currency
// symbol, thousands separators and trailing punctuation.
func Parse(token string) (float64, error) {
	s := strings.ToLower(strings.TrimSpace(token))
	s = strings.TrimRight(s, ".,;:!?")
	if s == "" {
		return 0, ErrNotNumber
	}
	if m := digitsRe.FindStringSubmatch(s); m != nil {
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil {
			return 0, ErrNotNumber
		}
		return v, nil
	}
	if n, ok := parseWords(s); ok {
		return float64(n), nil
	}
	return 0, ErrNotNumber
}

// ParseInt is Parse restricted to whole numbers.
func ParseInt(token string) (int, error) {
	v, err := Parse(token)
	if err != nil {
		return 0, err
	}
	if v != math.Trunc(v) {
		return 0, ErrNotInteger
	}
	return int(v), nil
}

// IsWord reports whether w (or every hyphen-joined part of it) is a numeral
// word. "and" is not a numeral word on its own.
func IsWord(w string) bool {
	w = strings.ToLower(w)
	if w == "" {
		return false
	}
	for _, part := range strings.Split(w, "-") {
		if !isAtom(part) {
			return false
		}
	}
	return true
}

func isAtom(w string) bool {
	if _, ok := units[w]; ok {
		return true
	}
	if _, ok := teens[w]; ok {
		return true
	}
	if _, ok := tens[w]; ok {
		return true
	}
	return w == "hundred" || w == "thousand"
}

type wordKind int

const (
	kindNone wordKind = iota
	kindUnit
	kindTeen
	kindTens
	kindHundred
	kindThousand
	kindAnd
)

// parseWords evaluates a spelled-out numeral. The grammar is a small state
// machine over the previous word kind; any transition not listed fails.
func parseWords(s string) (int, bool) {
	words := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == '-' })
	if len(words) == 0 {
		return 0, false
	}

	total, cur := 0, 0
	last := kindNone
	for _, w := range words {
		switch {
		case w == "and":
			if last != kindHundred && last != kindThousand {
				return 0, false
			}
			last = kindAnd

		case units[w] > 0:
			switch last {
			case kindNone, kindTens, kindHundred, kindThousand, kindAnd:
			default:
				return 0, false
			}
			cur += units[w]
			last = kindUnit

		case teens[w] > 0, tens[w] > 0:
			switch last {
			case kindNone, kindHundred, kindThousand, kindAnd:
			default:
				return 0, false
			}
			if v, ok := teens[w]; ok {
				cur += v
				last = kindTeen
			} else {
				cur += tens[w]
				last = kindTens
			}

		case w == "hundred":
			if last != kindUnit || cur >= 10 {
				return 0, false
			}
			cur *= 100
			last = kindHundred

		case w == "thousand":
			if cur == 0 || total != 0 || last == kindAnd {
				return 0, false
			}
			total = cur * 1000
			cur = 0
			last = kindThousand

		default:
			return 0, false
		}
	}
	if last == kindNone || last == kindAnd {
		return 0, false
	}
	return total + cur, true
}

// Normalize rewrites every spelled-out numeral run in text to digits, leaving
// everything else untouched apart from collapsing whitespace. The longest
// parseable run starting at each position wins.
func Normalize(text string) string {
	fields := strings.Fields(text)
	out := make([]string, 0, len(fields))

	for i := 0; i < len(fields); {
		end := runEnd(fields, i)
		replaced := false
		for k := end; k > i; k-- {
			parts := make([]string, 0, k-i)
			for _, f := range fields[i:k] {
				core, _ := splitPunct(f)
				parts = append(parts, strings.ToLower(core))
			}
			n, ok := parseWords(strings.Join(parts, " "))
			if !ok {
				continue
			}
			_, trailing := splitPunct(fields[k-1])
			out = append(out, strconv.Itoa(n)+trailing)
			i = k
			replaced = true
			break
		}
		if !replaced {
			out = append(out, fields[i])
			i++
		}
	}
	return strings.Join(out, " ")
}

// runEnd returns the exclusive end of the numeral-word run starting at i. A
// token with trailing punctuation closes the run.
func runEnd(fields []string, i int) int {
	j := i
	for j < len(fields) {
		core, trailing := splitPunct(fields[j])
		lower := strings.ToLower(core)
		if !IsWord(lower) && !(lower == "and" && j > i) {
			break
		}
		j++
		if trailing != "" {
			break
		}
	}
	return j
}

func splitPunct(tok string) (core, trailing string) {
	core = strings.TrimRight(tok, ".,;:!?")
	return core, tok[len(core):]
}

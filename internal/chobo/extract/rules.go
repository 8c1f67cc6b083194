package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/bdobrica/chobo/internal/chobo/numeral"
	"github.com/bdobrica/chobo/internal/chobo/txn"
)

// Rule is one ordered extraction pattern. Rules of a family run in ascending
// Priority; the first that yields an acceptable value wins. Validate cleans
// the captured text and reports whether it is acceptable. A nil Validate
// accepts the capture as is.
type Rule struct {
	Name     string
	Priority int
	Pattern  *regexp.Regexp
	Validate func(string) (string, bool)
}

// accept runs the rule's validator over a capture.
func (r Rule) accept(raw string) (string, bool) {
	if r.Validate == nil {
		return raw, raw != ""
	}
	return r.Validate(raw)
}

// DirectionRule maps a pattern onto a transaction direction.
type DirectionRule struct {
	Rule
	Direction txn.Direction
}

const (
	numPattern  = `(-?(?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d+)?)`
	symPattern  = `[$¥€£]`
	namePattern = `([A-Za-z][A-Za-z'.-]*(?:[ \t]+[A-Za-z][A-Za-z'.-]*){0,3})`
)

// Purchase phrases outrank bare keywords so "from Acme buy ..." stays a
// purchase even when a sale keyword appears later in the sentence.
func buildDirectionRules() []DirectionRule {
	buyVerbs := `(?:buy|buying|bought|purchase|purchasing|purchased|order|ordering|ordered|procure|procured|restock|restocked|source|sourced)`
	rules := []DirectionRule{
		{
			Rule: Rule{
				Name:     "from-party-then-buy",
				Priority: 10,
				Pattern:  regexp.MustCompile(`\bfrom\s+[a-z][\w'.-]*(?:\s+\S+){0,6}?\s+` + buyVerbs + `\b`),
			},
			Direction: txn.DirectionPurchase,
		},
		{
			Rule: Rule{
				Name:     "buy-then-from-party",
				Priority: 11,
				Pattern:  regexp.MustCompile(`\b` + buyVerbs + `\b.*?\bfrom\s+[a-z]`),
			},
			Direction: txn.DirectionPurchase,
		},
		{
			Rule: Rule{
				Name:     "purchase-keyword",
				Priority: 20,
				Pattern:  regexp.MustCompile(`\b(?:purchase|purchasing|purchased|procure|procured|procurement|restock|restocking|replenish|stock\s+up|supplier|vendor|wholesaler|import)\b`),
			},
			Direction: txn.DirectionPurchase,
		},
		{
			Rule: Rule{
				Name:     "sale-keyword",
				Priority: 30,
				Pattern:  regexp.MustCompile(`\b(?:sell|sells|selling|sold|sale|sales|ship\s+to|deliver\s+to|invoice|customer|client|retail)\b`),
			},
			Direction: txn.DirectionSale,
		},
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })
	return rules
}

func buildCounterpartyRules(validate func(string) (string, bool)) []Rule {
	rules := []Rule{
		{
			Name:     "role-label",
			Priority: 10,
			Pattern:  regexp.MustCompile(`(?i)\b(?:customer|client|buyer|supplier|vendor|seller|counterparty)(?:\s+name)?(?:\s*[:=]\s*|\s+is\s+)` + namePattern),
		},
		{
			Name:     "sold-to",
			Priority: 20,
			Pattern:  regexp.MustCompile(`(?i)\b(?:sold|sell|sells|selling|shipped|delivered)\s+to\s+` + namePattern),
		},
		{
			Name:     "bought-from",
			Priority: 30,
			Pattern:  regexp.MustCompile(`(?i)\b(?:bought|buy|buying|purchased|purchase|ordered|order|sourced)\s+from\s+` + namePattern),
		},
		{
			Name:     "from",
			Priority: 40,
			Pattern:  regexp.MustCompile(`(?i)\bfrom\s+` + namePattern),
		},
		{
			Name:     "to",
			Priority: 50,
			Pattern:  regexp.MustCompile(`(?i)\bto\s+` + namePattern),
		},
		{
			Name:     "for",
			Priority: 60,
			Pattern:  regexp.MustCompile(`(?i)\bfor\s+` + namePattern),
		},
		{
			Name:     "possessive-order",
			Priority: 70,
			Pattern:  regexp.MustCompile(`(?i)\b([A-Za-z][A-Za-z.-]*(?:[ \t]+[A-Za-z][A-Za-z.-]*)?)'s\s+order\b`),
		},
	}
	for i := range rules {
		rules[i].Validate = validate
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })
	return rules
}

func buildPriceRules(currencyAlt string) []Rule {
	cur := ""
	if currencyAlt != "" {
		cur = `(?:(?:` + currencyAlt + `)\s*)?`
	}
	rules := []Rule{
		{
			Name:     "labelled",
			Priority: 10,
			Pattern:  regexp.MustCompile(`\b(?:unit\s+price|price\s+per\s+unit|price|priced|cost|costs)\s*(?:is|of|at|:|=|to|was)?\s*` + symPattern + `?\s*` + numPattern),
		},
		{
			Name:     "at",
			Priority: 20,
			Pattern:  regexp.MustCompile(`(?:\bat|@)\s*` + symPattern + `?\s*` + numPattern),
		},
		{
			Name:     "each",
			Priority: 30,
			Pattern:  regexp.MustCompile(symPattern + `?\s*` + numPattern + `\s*` + cur + `(?:each\b|apiece\b|ea\b|per\s+[a-z]+|a\s+(?:piece|unit)\b|/\s*[a-z]+)`),
		},
		{
			Name:     "symbol",
			Priority: 40,
			Pattern:  regexp.MustCompile(symPattern + `\s*` + numPattern),
		},
	}
	if currencyAlt != "" {
		rules = append(rules, Rule{
			Name:     "currency-word",
			Priority: 50,
			Pattern:  regexp.MustCompile(numPattern + `\s*(?:` + currencyAlt + `)\b`),
		})
	}
	for i := range rules {
		rules[i].Validate = validAmount
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })
	return rules
}

// validAmount accepts a capture that reads as a number, thousands
// separators included.
func validAmount(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if _, err := numeral.Parse(raw); err != nil {
		return "", false
	}
	return raw, true
}

// alternation builds a regexp alternation of words, longest first.
func alternation(words []string) string {
	sorted := append([]string(nil), words...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	quoted := make([]string, 0, len(sorted))
	for _, w := range sorted {
		quoted = append(quoted, phrasePattern(w))
	}
	return strings.Join(quoted, "|")
}

// phrasePattern quotes a possibly multi-word phrase, allowing any run of
// whitespace between words.
func phrasePattern(phrase string) string {
	words := strings.Fields(phrase)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return strings.Join(words, `\s+`)
}

// eachMatch calls fn for every match of re in s, including matches that start
// inside a previous one. fn returns false to stop. Indices are relative to s.
func eachMatch(re *regexp.Regexp, s string, fn func(m []int) bool) {
	offset := 0
	for offset < len(s) {
		loc := re.FindStringSubmatchIndex(s[offset:])
		if loc == nil {
			return
		}
		for i := range loc {
			if loc[i] >= 0 {
				loc[i] += offset
			}
		}
		if !fn(loc) {
			return
		}
		offset = loc[0] + 1
	}
}

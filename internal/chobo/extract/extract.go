// Package extract pulls transaction slots out of free text.
//
// Extraction is rule based and deterministic: spelled-out numerals are first
// rewritten to digits, then ordered rule families are applied for direction,
// counter-party, line items and prices. The same input always yields the same
// Slots. Invalid values (negative quantities, negative prices) are reported
// as Issues instead of being placed on line items.
package extract

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/bdobrica/chobo/internal/chobo/numeral"
	"github.com/bdobrica/chobo/internal/chobo/txn"
)

const maxNameWords = 3

// grammarWords are always treated as stop tokens because the rule patterns
// themselves are built around them.
var grammarWords = []string{
	"a", "an", "the", "and", "at", "each", "per", "apiece", "of", "to", "from", "for", "is", "x",
	"price", "quantity", "qty",
}

// Hints are structured fields supplied alongside the text, typically by an
// upstream classifier. Valid hints take precedence over pattern matches.
type Hints struct {
	Direction    txn.Direction
	Counterparty string
	Items        []txn.LineItem
}

// Issue records a value that was present in the text but is not acceptable.
type Issue struct {
	Field  string // "quantity" or "price"
	Item   string // product the value belongs to, if known
	Value  float64
	Reason string
}

func (i Issue) String() string {
	subject := i.Field
	if i.Item != "" {
		subject = i.Field + " for " + i.Item
	}
	return fmt.Sprintf("%s %s (got %s)", subject, i.Reason, strconv.FormatFloat(i.Value, 'f', -1, 64))
}

// Slots is the result of one extraction.
type Slots struct {
	Direction    txn.Direction
	Counterparty string
	Items        []txn.LineItem

	// Loose values are only set when no product was recognised. They let a
	// follow-up turn such as "500 each" fill a pending slot.
	LoosePrice    float64
	LooseQuantity int
	// LooseNumber is set when the whole utterance was a single number.
	// HasLooseNumber tells a literal 0 apart from no number at all.
	LooseNumber    float64
	HasLooseNumber bool

	Issues      []Issue
	Ambiguities []string
}

// Usable reports whether extraction found anything a transaction could use.
// Direction alone does not count.
func (s Slots) Usable() bool {
	return s.Counterparty != "" || len(s.Items) > 0 || s.LoosePrice != 0 ||
		s.LooseQuantity != 0 || s.HasLooseNumber || len(s.Issues) > 0
}

// Extractor applies a vocabulary and the rule families to text. It is safe for
// concurrent use.
type Extractor struct {
	vocab     *Vocabulary
	aliases   []productAlias
	aliasRes  []*regexp.Regexp
	canonical map[string]string
	stop      map[string]bool

	dirRules   []DirectionRule
	partyRules []Rule
	priceRules []Rule

	genericItem *regexp.Regexp
	qtyBefore   *regexp.Regexp
	qtyAfter    *regexp.Regexp
	qtyLabel    *regexp.Regexp
	looseQty    *regexp.Regexp

	corr correctionRules
}

// New builds an Extractor for vocab. A nil vocab selects the embedded default.
func New(vocab *Vocabulary) *Extractor {
	if vocab == nil {
		vocab = DefaultVocabulary()
	}
	e := &Extractor{
		vocab:     vocab,
		aliases:   vocab.layeredAliases(),
		canonical: make(map[string]string),
		stop:      make(map[string]bool),
	}
	for _, a := range e.aliases {
		e.aliasRes = append(e.aliasRes, regexp.MustCompile(`\b`+phrasePattern(a.alias)+`\b`))
		e.canonical[a.alias] = a.canonical
		if a.words == 1 {
			e.stop[a.alias] = true
		}
	}
	for _, list := range [][]string{grammarWords, vocab.Units, vocab.Currencies, vocab.Verbs, vocab.Stopwords} {
		for _, w := range list {
			e.stop[w] = true
		}
	}

	unitAlt := alternation(vocab.Units)
	unitOpt := ""
	if unitAlt != "" {
		unitOpt = `(?:(?:` + unitAlt + `)\s+(?:of\s+)?)?`
	}

	e.dirRules = buildDirectionRules()
	e.partyRules = buildCounterpartyRules(e.ValidCounterparty)
	e.priceRules = buildPriceRules(alternation(vocab.Currencies))

	e.genericItem = regexp.MustCompile(`(?:^|[^\w.,])` + numPattern + `\s+` + unitOpt + `([a-z][a-z-]{2,})\b`)
	e.qtyBefore = regexp.MustCompile(`(?:^|[^\w.,-])` + numPattern + `\s*(?:[x×*]\s*)?` + unitOpt + `$`)
	e.qtyLabel = regexp.MustCompile(`\b(?:quantity|qty)\s*(?:is|of|:|=)?\s*` + numPattern)
	if unitAlt != "" {
		e.qtyAfter = regexp.MustCompile(`^\s*(?:[x×*]\s*` + numPattern + `|[,:]?\s*` + numPattern + `\s*(?:` + unitAlt + `)\b)`)
		e.looseQty = regexp.MustCompile(`(?:^|[^\w.,-])` + numPattern + `\s*(?:` + unitAlt + `)\b`)
	} else {
		e.qtyAfter = regexp.MustCompile(`^\s*[x×*]\s*` + numPattern)
	}
	e.corr = buildCorrectionRules()
	return e
}

// Vocabulary returns the vocabulary the extractor was built with.
func (e *Extractor) Vocabulary() *Vocabulary { return e.vocab }

// DirectionRules returns the direction rules in evaluation order.
func (e *Extractor) DirectionRules() []DirectionRule {
	return append([]DirectionRule(nil), e.dirRules...)
}

// CounterpartyRules returns the counter-party rules in evaluation order.
func (e *Extractor) CounterpartyRules() []Rule {
	return append([]Rule(nil), e.partyRules...)
}

// PriceRules returns the price rules in evaluation order.
func (e *Extractor) PriceRules() []Rule {
	return append([]Rule(nil), e.priceRules...)
}

// Extract runs every rule family over text.
func (e *Extractor) Extract(text string, hints Hints) Slots {
	norm := numeral.Normalize(text)
	lower := strings.ToLower(norm)

	var s Slots
	s.Direction = e.direction(lower)
	if hints.Direction != txn.DirectionUnknown {
		switch {
		case s.Direction == txn.DirectionUnknown:
			s.Direction = hints.Direction
		case s.Direction != hints.Direction:
			s.Ambiguities = append(s.Ambiguities, fmt.Sprintf(
				"direction: text reads as %s, classifier said %s", s.Direction.Noun(), hints.Direction.Noun()))
		}
	}

	candidates := e.candidates(norm, true)
	if name, ok := e.ValidCounterparty(hints.Counterparty); ok {
		s.Counterparty = name
	} else if len(candidates) > 0 {
		s.Counterparty = candidates[0]
	}
	for _, c := range candidates {
		if !strings.EqualFold(c, s.Counterparty) {
			s.Ambiguities = append(s.Ambiguities, fmt.Sprintf("counterparty: chose %q over %q", s.Counterparty, c))
		}
	}

	items, issues := e.lineItems(lower)
	if len(hints.Items) > 0 {
		items, issues = e.mergeHintItems(hints.Items, items, issues)
	}
	s.Items, s.Issues = items, issues
	if len(s.Items) == 0 {
		e.loose(lower, &s)
	}
	return s
}

// Direction classifies text as a sale or purchase. DirectionUnknown means no
// rule matched and the caller should apply its default.
func (e *Extractor) Direction(text string) txn.Direction {
	return e.direction(strings.ToLower(numeral.Normalize(text)))
}

func (e *Extractor) direction(lower string) txn.Direction {
	for _, r := range e.dirRules {
		if r.Pattern.MatchString(lower) {
			return r.Direction
		}
	}
	return txn.DirectionUnknown
}

// Counterparty returns the first acceptable counter-party name, trying a
// valid hint before the pattern rules. It returns "" when nothing matched.
func (e *Extractor) Counterparty(text string, hints Hints) string {
	if name, ok := e.ValidCounterparty(hints.Counterparty); ok {
		return name
	}
	if c := e.candidates(numeral.Normalize(text), false); len(c) > 0 {
		return c[0]
	}
	return ""
}

// candidates returns accepted counter-party names in rule precedence order,
// de-duplicated case-insensitively. With all unset it stops at the first.
func (e *Extractor) candidates(norm string, all bool) []string {
	var out []string
	seen := make(map[string]bool)
	for _, r := range e.partyRules {
		eachMatch(r.Pattern, norm, func(m []int) bool {
			if m[2] < 0 {
				return true
			}
			if name, ok := r.accept(e.trimName(norm[m[2]:m[3]])); ok {
				key := strings.ToLower(name)
				if !seen[key] {
					seen[key] = true
					out = append(out, name)
				}
			}
			return all || len(out) == 0
		})
		if !all && len(out) > 0 {
			break
		}
	}
	return out
}

// ValidCounterparty cleans name and checks it against the deny-list. A name
// made only of units, product words, verbs, generic nouns or numerals is
// rejected.
func (e *Extractor) ValidCounterparty(name string) (string, bool) {
	name = strings.Join(strings.Fields(strings.Trim(name, " \t\"'.,;:!?")), " ")
	if name == "" {
		return "", false
	}
	meaningful := false
	for _, tok := range strings.Fields(strings.ToLower(name)) {
		if e.stop[tok] || numeral.IsWord(tok) {
			continue
		}
		if _, err := numeral.Parse(tok); err == nil {
			continue
		}
		meaningful = true
	}
	if !meaningful || e.stop[strings.ToLower(name)] {
		return "", false
	}
	return name, true
}

// BareName reads the whole of text as a counter-party name, as in a reply to
// "who is the customer?". Pattern matches are tried first so "the customer is
// Li Si" works too. It returns "" when text does not look like a name.
func (e *Extractor) BareName(text string) string {
	norm := strings.TrimSpace(numeral.Normalize(text))
	if c := e.candidates(norm, false); len(c) > 0 {
		return c[0]
	}
	fields := strings.Fields(norm)
	for len(fields) > 0 {
		lower := strings.ToLower(strings.Trim(fields[0], ",.:;!?"))
		if lower != "it's" && lower != "its" && !e.stop[lower] {
			break
		}
		fields = fields[1:]
	}
	if len(fields) == 0 || len(fields) > maxNameWords {
		return ""
	}
	rest := strings.Join(fields, " ")
	name := e.trimName(rest)
	if len(strings.Fields(name)) != len(fields) {
		return ""
	}
	if valid, ok := e.ValidCounterparty(name); ok {
		return valid
	}
	return ""
}

// trimName cuts a raw capture at the first stop token. When the name starts
// capitalised, the first lower-case word also ends it.
func (e *Extractor) trimName(raw string) string {
	var kept []string
	capitalised := false
	for _, tok := range strings.Fields(raw) {
		possessive := false
		if strings.HasSuffix(strings.ToLower(tok), "'s") {
			tok = tok[:len(tok)-2]
			possessive = true
		}
		tok = strings.Trim(tok, "'-.")
		if tok == "" {
			break
		}
		lower := strings.ToLower(tok)
		if e.stop[lower] || numeral.IsWord(lower) {
			break
		}
		upper := unicode.IsUpper([]rune(tok)[0])
		if len(kept) == 0 {
			capitalised = upper
		} else if capitalised && !upper {
			break
		}
		kept = append(kept, tok)
		if possessive || len(kept) == maxNameWords {
			break
		}
	}
	return strings.Join(kept, " ")
}

// LineItems extracts product lines from text.
func (e *Extractor) LineItems(text string) ([]txn.LineItem, []Issue) {
	return e.lineItems(strings.ToLower(numeral.Normalize(text)))
}

type span struct {
	start, end int
	name       string
}

func (e *Extractor) productSpans(lower string) []span {
	var spans []span
	for i, re := range e.aliasRes {
		for _, loc := range re.FindAllStringIndex(lower, -1) {
			if !overlaps(spans, loc[0], loc[1]) {
				spans = append(spans, span{start: loc[0], end: loc[1], name: e.aliases[i].canonical})
			}
		}
	}
	for _, m := range e.genericItem.FindAllStringSubmatchIndex(lower, -1) {
		noun := lower[m[4]:m[5]]
		if e.stop[noun] || numeral.IsWord(noun) || overlaps(spans, m[4], m[5]) {
			continue
		}
		spans = append(spans, span{start: m[4], end: m[5], name: singular(noun)})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	return spans
}

func overlaps(spans []span, start, end int) bool {
	for _, s := range spans {
		if start < s.end && s.start < end {
			return true
		}
	}
	return false
}

func (e *Extractor) lineItems(lower string) ([]txn.LineItem, []Issue) {
	spans := e.productSpans(lower)
	var (
		items  []txn.LineItem
		issues []Issue
	)
	for j, sp := range spans {
		prevEnd, nextStart := 0, len(lower)
		if j > 0 {
			prevEnd = spans[j-1].end
		}
		if j+1 < len(spans) {
			nextStart = spans[j+1].start
		}
		before := lower[prevEnd:sp.start]
		after := lower[sp.end:nextStart]

		item := txn.LineItem{Name: sp.name}
		rawQty, priceFrom := "", 0
		if m := e.qtyBefore.FindStringSubmatch(before); m != nil {
			rawQty = m[1]
		} else if m := e.qtyAfter.FindStringSubmatchIndex(after); m != nil {
			rawQty = firstGroup(after, m)
			priceFrom = m[1]
		} else if m := e.qtyLabel.FindStringSubmatch(after); m != nil {
			rawQty = m[1]
		}
		if rawQty != "" {
			q, issue := parseQuantity(rawQty, sp.name)
			if issue != nil {
				issues = append(issues, *issue)
			}
			item.Quantity = q
		}
		if p, ok := e.findPrice(after[priceFrom:]); ok {
			if p < 0 {
				issues = append(issues, Issue{Field: "price", Item: sp.name, Value: p, Reason: "must not be negative"})
			} else {
				item.UnitPrice = p
			}
		}
		items = append(items, item)
	}
	return items, issues
}

// firstGroup returns the first non-empty capture group of m.
func firstGroup(s string, m []int) string {
	for g := 2; g+1 < len(m); g += 2 {
		if m[g] >= 0 {
			return s[m[g]:m[g+1]]
		}
	}
	return ""
}

func parseQuantity(raw, item string) (int, *Issue) {
	v, err := numeral.Parse(raw)
	if err != nil {
		return 0, nil
	}
	if v != math.Trunc(v) {
		return 0, &Issue{Field: "quantity", Item: item, Value: v, Reason: "must be a whole number"}
	}
	if v <= 0 {
		return 0, &Issue{Field: "quantity", Item: item, Value: v, Reason: "must be greater than zero"}
	}
	return int(v), nil
}

// findPrice applies the price rules to window in priority order.
func (e *Extractor) findPrice(window string) (float64, bool) {
	for _, r := range e.priceRules {
		m := r.Pattern.FindStringSubmatch(window)
		if m == nil {
			continue
		}
		raw, ok := r.accept(m[1])
		if !ok {
			continue
		}
		if v, err := numeral.Parse(raw); err == nil {
			return v, true
		}
	}
	return 0, false
}

func (e *Extractor) loose(lower string, s *Slots) {
	if v, err := numeral.Parse(strings.TrimSpace(lower)); err == nil {
		s.LooseNumber = v
		s.HasLooseNumber = true
		return
	}
	if p, ok := e.findPrice(lower); ok {
		if p < 0 {
			s.Issues = append(s.Issues, Issue{Field: "price", Value: p, Reason: "must not be negative"})
		} else {
			s.LoosePrice = p
		}
	}
	raw := ""
	if e.looseQty != nil {
		if m := e.looseQty.FindStringSubmatch(lower); m != nil {
			raw = m[1]
		}
	}
	if raw == "" {
		if m := e.qtyLabel.FindStringSubmatch(lower); m != nil {
			raw = m[1]
		}
	}
	if raw != "" {
		q, issue := parseQuantity(raw, "")
		if issue != nil {
			s.Issues = append(s.Issues, *issue)
		}
		s.LooseQuantity = q
	}
}

// mergeHintItems validates hinted items and fills their unset fields from the
// locally extracted line with the same name. Local lines the hints did not
// mention are kept.
func (e *Extractor) mergeHintItems(hinted, local []txn.LineItem, issues []Issue) ([]txn.LineItem, []Issue) {
	used := make(map[int]bool)
	var out []txn.LineItem
	for _, h := range hinted {
		name := e.CanonicalProduct(h.Name)
		if name == "" {
			continue
		}
		it := txn.LineItem{Name: name, Quantity: h.Quantity, UnitPrice: h.UnitPrice}
		if it.Quantity < 0 {
			issues = append(issues, Issue{Field: "quantity", Item: name, Value: float64(it.Quantity), Reason: "must be greater than zero"})
			it.Quantity = 0
		}
		if it.UnitPrice < 0 {
			issues = append(issues, Issue{Field: "price", Item: name, Value: it.UnitPrice, Reason: "must not be negative"})
			it.UnitPrice = 0
		}
		for i, l := range local {
			if used[i] || l.Name != name {
				continue
			}
			used[i] = true
			if it.Quantity == 0 {
				it.Quantity = l.Quantity
			}
			if it.UnitPrice == 0 {
				it.UnitPrice = l.UnitPrice
			}
			break
		}
		out = append(out, it)
	}
	for i, l := range local {
		if !used[i] {
			out = append(out, l)
		}
	}
	return out, issues
}

// CanonicalProduct maps a free-text product phrase onto its vocabulary name.
// Unknown words are singularised. Leading articles and filler words are
// skipped; a phrase with nothing left yields "".
func (e *Extractor) CanonicalProduct(phrase string) string {
	words := strings.Fields(strings.ToLower(strings.Trim(phrase, " \t.,;:!?")))
	for len(words) > 0 {
		if _, ok := e.canonical[words[0]]; ok || !e.stop[words[0]] {
			break
		}
		words = words[1:]
	}
	if len(words) == 0 {
		return ""
	}
	for n := min(3, len(words)); n > 0; n-- {
		if c, ok := e.canonical[strings.Join(words[:n], " ")]; ok {
			return c
		}
	}
	w := singular(words[0])
	if c, ok := e.canonical[w]; ok {
		return c
	}
	if e.stop[w] {
		return ""
	}
	return w
}

func singular(w string) string {
	switch {
	case len(w) > 4 && strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case strings.HasSuffix(w, "ches"), strings.HasSuffix(w, "shes"),
		strings.HasSuffix(w, "sses"), strings.HasSuffix(w, "xes"), strings.HasSuffix(w, "zes"):
		return w[:len(w)-2]
	case strings.HasSuffix(w, "ss"), strings.HasSuffix(w, "us"):
		return w
	case len(w) > 3 && strings.HasSuffix(w, "s"):
		return w[:len(w)-1]
	}
	return w
}

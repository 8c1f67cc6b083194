package extract

import (
	"regexp"
	"strings"

	"github.com/bdobrica/chobo/internal/chobo/numeral"
	"github.com/bdobrica/chobo/internal/chobo/txn"
)

// Correction is the set of changes a modification utterance asks for. Target
// names the product a price or quantity change applies to; "" means the
// first line.
type Correction struct {
	Counterparty string
	Target       string
	Price        float64
	Quantity     int
	Product      string
	Direction    txn.Direction
	Issues       []Issue
}

// Empty reports whether nothing was recognised.
func (c Correction) Empty() bool {
	return c.Counterparty == "" && c.Price == 0 && c.Quantity == 0 &&
		c.Product == "" && c.Direction == txn.DirectionUnknown && len(c.Issues) == 0
}

type correctionRules struct {
	party     *regexp.Regexp
	price     *regexp.Regexp
	quantity  *regexp.Regexp
	product   *regexp.Regexp
	direction *regexp.Regexp
}

func buildCorrectionRules() correctionRules {
	assign := `(?:\s+(?:to|is|should\s+be|at)\s*|\s*[:=]\s*)`
	target := `(?:\s+(?:of|for)\s+([a-z][a-z-]*(?:\s+[a-z][a-z-]*){0,2}))?`
	return correctionRules{
		party: regexp.MustCompile(`(?i)\b(?:customer|client|buyer|supplier|vendor|seller|counterparty)(?:\s+name)?(?:\s+(?:to|is|should\s+be)\s+|\s*[:=]\s*)` + namePattern),
		price: regexp.MustCompile(`\b(?:unit\s+)?price` + target + assign + symPattern + `?\s*` + numPattern),
		quantity: regexp.MustCompile(`\b(?:quantity|qty|amount|count)` + target + assign + numPattern),
		product: regexp.MustCompile(`\b(?:product|item|goods)(?:\s+(?:to|is|should\s+be)\s+|\s*[:=]\s*)([a-z][a-z-]*(?:\s+[a-z][a-z-]*){0,2})`),
		direction: regexp.MustCompile(`\b(?:it'?s|it\s+is|make\s+it|change\s+it\s+to|should\s+be|this\s+is|switch\s+(?:it\s+)?to|actually)\s+(?:a\s+|an\s+)?(sale|purchase)\b`),
	}
}

// Correction parses a modification utterance such as "change customer to Li
// Si", "change the price of laptop to 450" or "make it a purchase".
func (e *Extractor) Correction(text string) Correction {
	norm := numeral.Normalize(text)
	lower := strings.ToLower(norm)
	var c Correction

	if m := e.corr.party.FindStringSubmatch(norm); m != nil {
		if name, ok := e.ValidCounterparty(e.trimName(m[1])); ok {
			c.Counterparty = name
		}
	}

	if m := e.corr.price.FindStringSubmatch(lower); m != nil {
		if v, err := numeral.Parse(m[2]); err == nil {
			c.Target = e.CanonicalProduct(m[1])
			c.setPrice(v)
		}
	} else if v, ok := e.findPrice(lower); ok {
		c.setPrice(v)
	}

	rawQty := ""
	if m := e.corr.quantity.FindStringSubmatch(lower); m != nil {
		rawQty = m[2]
		if c.Target == "" {
			c.Target = e.CanonicalProduct(m[1])
		}
	} else if e.looseQty != nil {
		if m := e.looseQty.FindStringSubmatch(lower); m != nil {
			rawQty = m[1]
		}
	}
	if rawQty != "" {
		q, issue := parseQuantity(rawQty, c.Target)
		if issue != nil {
			c.Issues = append(c.Issues, *issue)
		}
		c.Quantity = q
	}
	if c.Quantity == 0 && rawQty == "" {
		if items, _ := e.lineItems(lower); len(items) == 1 && items[0].Quantity > 0 {
			c.Quantity = items[0].Quantity
			if c.Target == "" {
				c.Target = items[0].Name
			}
		}
	}

	if m := e.corr.product.FindStringSubmatch(lower); m != nil {
		c.Product = e.CanonicalProduct(m[1])
	}
	if m := e.corr.direction.FindStringSubmatch(lower); m != nil {
		c.Direction = txn.ParseDirection(m[1])
	}
	return c
}

func (c *Correction) setPrice(v float64) {
	if v < 0 {
		c.Issues = append(c.Issues, Issue{Field: "price", Item: c.Target, Value: v, Reason: "must not be negative"})
		return
	}
	c.Price = v
}

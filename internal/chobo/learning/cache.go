package learning

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bdobrica/chobo/internal/chobo/txn"
)

// Blend weights applied when a counter-party's preferred price is updated.
const (
	oldPriceWeight = 0.7
	newPriceWeight = 0.3
)

// Preference is what the cache has learned about one counter-party.
type Preference struct {
	FrequentProducts   []string // first appearance order, no duplicates
	PreferredPrices    map[string]float64
	PreferredDirection txn.Direction
	LastOrderTime      time.Time
}

func (p *Preference) clone() Preference {
	cp := *p
	cp.FrequentProducts = append([]string(nil), p.FrequentProducts...)
	cp.PreferredPrices = make(map[string]float64, len(p.PreferredPrices))
	for k, v := range p.PreferredPrices {
		cp.PreferredPrices[k] = v
	}
	return cp
}

// PriceSource says where a suggested price came from.
type PriceSource int

const (
	PriceNone PriceSource = iota
	PriceCounterparty
	PriceGlobal
)

// Cache holds the process-lifetime learning maps: counter-party aliases,
// product aliases, per-counter-party preferences and the last seen price of
// every product. It is safe for concurrent use; every mutation touches a
// single entry and replaces it rather than editing it in place, so snapshots
// handed out earlier are never modified.
type Cache struct {
	mu        sync.RWMutex
	now       func() time.Time
	aliases   map[string]string // lower-case alias -> canonical counter-party
	products  map[string]string // lower-case alias -> canonical product
	prefs     map[string]*Preference
	prices    map[string]float64
	known     []string
	knownKeys map[string]bool
}

// NewCache returns an empty Cache. A nil now selects time.Now.
func NewCache(now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{
		now:       now,
		aliases:   make(map[string]string),
		products:  make(map[string]string),
		prefs:     make(map[string]*Preference),
		prices:    make(map[string]float64),
		knownKeys: make(map[string]bool),
	}
}

func key(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// RecordCompletedTransaction folds a committed transaction into the
// counter-party's preference and the global price map. New products are
// appended to the frequent list; known prices are blended 70/30 old/new.
func (c *Cache) RecordCompletedTransaction(counterparty string, items []txn.LineItem, dir txn.Direction) {
	k := key(counterparty)
	if k == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var next Preference
	if old, ok := c.prefs[k]; ok {
		next = old.clone()
	} else {
		next = Preference{PreferredPrices: make(map[string]float64)}
	}
	for _, it := range items {
		if it.Name == "" {
			continue
		}
		if !containsFold(next.FrequentProducts, it.Name) {
			next.FrequentProducts = append(next.FrequentProducts, it.Name)
		}
		if it.UnitPrice <= 0 {
			continue
		}
		if old, ok := next.PreferredPrices[it.Name]; ok && old > 0 {
			next.PreferredPrices[it.Name] = old*oldPriceWeight + it.UnitPrice*newPriceWeight
		} else {
			next.PreferredPrices[it.Name] = it.UnitPrice
		}
		c.prices[key(it.Name)] = it.UnitPrice
	}
	next.PreferredDirection = dir.OrDefault()
	next.LastOrderTime = c.now()
	c.prefs[k] = &next
	c.addKnownLocked(counterparty)
}

// Preference returns a copy of what is known about counterparty.
func (c *Cache) Preference(counterparty string) (Preference, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prefs[key(counterparty)]
	if !ok {
		return Preference{}, false
	}
	return p.clone(), true
}

// PreferredPrice suggests a unit price for product. The counter-party's own
// history wins over the global last-seen price.
func (c *Cache) PreferredPrice(counterparty, product string) (float64, PriceSource) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.prefs[key(counterparty)]; ok {
		if v := p.PreferredPrices[product]; v > 0 {
			return v, PriceCounterparty
		}
	}
	if v := c.prices[key(product)]; v > 0 {
		return v, PriceGlobal
	}
	return 0, PriceNone
}

// LearnAlias records that alias refers to canonical. Learning an alias also
// makes canonical a known counter-party.
func (c *Cache) LearnAlias(alias, canonical string) {
	a, canon := key(alias), strings.TrimSpace(canonical)
	if a == "" || canon == "" || a == key(canon) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aliases[a] = canon
	c.addKnownLocked(canon)
}

// CanonicalCounterparty returns the canonical name for an exact alias, or
// name itself when no alias is known.
func (c *Cache) CanonicalCounterparty(name string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if canon, ok := c.aliases[key(name)]; ok {
		return canon
	}
	return name
}

// AliasIn looks for a learned counter-party alias mentioned in text and
// returns its canonical name together with the alias that matched. The
// longest alias wins; ties go to the alphabetically first.
func (c *Cache) AliasIn(text string) (canonical, alias string, ok bool) {
	lower := key(text)
	type pair struct{ alias, canonical string }
	c.mu.RLock()
	pairs := make([]pair, 0, len(c.aliases))
	for a, canon := range c.aliases {
		pairs = append(pairs, pair{a, canon})
	}
	c.mu.RUnlock()

	sort.Slice(pairs, func(i, j int) bool {
		if len(pairs[i].alias) != len(pairs[j].alias) {
			return len(pairs[i].alias) > len(pairs[j].alias)
		}
		return pairs[i].alias < pairs[j].alias
	})
	for _, p := range pairs {
		if containsWord(lower, p.alias) {
			return p.canonical, p.alias, true
		}
	}
	return "", "", false
}

// LearnProductAlias records that alias is another name for product.
func (c *Cache) LearnProductAlias(alias, product string) {
	a, p := key(alias), strings.TrimSpace(product)
	if a == "" || p == "" || a == key(p) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[a] = p
}

// CanonicalProduct maps a learned product alias onto its product, returning
// name unchanged when nothing was learned.
func (c *Cache) CanonicalProduct(name string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.products[key(name)]; ok {
		return p
	}
	return name
}

// AddKnown registers counter-party names seen elsewhere, e.g. in the ledger.
func (c *Cache) AddKnown(names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range names {
		c.addKnownLocked(n)
	}
}

func (c *Cache) addKnownLocked(name string) {
	name = strings.Join(strings.Fields(name), " ")
	k := strings.ToLower(name)
	if k == "" || c.knownKeys[k] {
		return
	}
	c.knownKeys[k] = true
	c.known = append(c.known, name)
}

// KnownCounterparties returns every counter-party name the cache has seen,
// in first-seen order.
func (c *Cache) KnownCounterparties() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.known...)
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// containsWord reports whether phrase occurs in text on word boundaries.
func containsWord(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	re, err := regexp.Compile(`(?:^|\W)` + regexp.QuoteMeta(phrase) + `(?:\W|$)`)
	if err != nil {
		return false
	}
	return re.MatchString(text)
}

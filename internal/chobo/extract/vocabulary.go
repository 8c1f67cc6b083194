package extract

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed vocabulary.yaml
var defaultVocabulary []byte

// Product is one canonical product and the free-text aliases that map to it.
type Product struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

// Vocabulary is the word list that drives extraction. Everything except
// Products also feeds the counter-party deny-list.
type Vocabulary struct {
	Products   []Product `yaml:"products"`
	Units      []string  `yaml:"units"`
	Currencies []string  `yaml:"currencies"`
	Verbs      []string  `yaml:"verbs"`
	Stopwords  []string  `yaml:"stopwords"`
}

// DefaultVocabulary returns the embedded vocabulary.
func DefaultVocabulary() *Vocabulary {
	v, err := ParseVocabulary(defaultVocabulary)
	if err != nil {
		panic(fmt.Sprintf("extract: embedded vocabulary is invalid: %v", err))
	}
	return v
}

// LoadVocabulary reads a YAML vocabulary from path.
func LoadVocabulary(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vocabulary read: %w", err)
	}
	return ParseVocabulary(data)
}

// ParseVocabulary decodes and validates a YAML vocabulary. Words are
// lower-cased.
func ParseVocabulary(data []byte) (*Vocabulary, error) {
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("vocabulary parse: %w", err)
	}
	v.normalise()
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return &v, nil
}

// Validate checks the vocabulary for structural problems.
func (v *Vocabulary) Validate() error {
	if len(v.Products) == 0 {
		return fmt.Errorf("vocabulary: at least one product is required")
	}
	owner := make(map[string]string)
	for i, p := range v.Products {
		if p.Name == "" {
			return fmt.Errorf("vocabulary: products[%d]: name must not be empty", i)
		}
		for _, a := range p.Aliases {
			if a == "" {
				return fmt.Errorf("vocabulary: product %q: empty alias", p.Name)
			}
			if prev, ok := owner[a]; ok && prev != p.Name {
				return fmt.Errorf("vocabulary: alias %q claimed by both %q and %q", a, prev, p.Name)
			}
			owner[a] = p.Name
		}
	}
	return nil
}

func (v *Vocabulary) normalise() {
	for i := range v.Products {
		p := &v.Products[i]
		p.Name = strings.ToLower(strings.TrimSpace(p.Name))
		aliases := lowerAll(p.Aliases)
		if !contains(aliases, p.Name) && p.Name != "" {
			aliases = append(aliases, p.Name)
		}
		p.Aliases = aliases
	}
	v.Units = lowerAll(v.Units)
	v.Currencies = lowerAll(v.Currencies)
	v.Verbs = lowerAll(v.Verbs)
	v.Stopwords = lowerAll(v.Stopwords)
}

// productAlias is one (alias, canonical) pair in layered match order.
type productAlias struct {
	alias     string
	canonical string
	words     int
}

// layeredAliases orders aliases so specific multi-word terms are tried before
// generic single terms. Ties keep vocabulary order.
func (v *Vocabulary) layeredAliases() []productAlias {
	var out []productAlias
	for _, p := range v.Products {
		for _, a := range p.Aliases {
			out = append(out, productAlias{alias: a, canonical: p.Name, words: len(strings.Fields(a))})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].words != out[j].words {
			return out[i].words > out[j].words
		}
		return len(out[i].alias) > len(out[j].alias)
	})
	return out
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Package match compares a provider field on file against the value an
// external source reported for it.
package match

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/provider-verify/internal/model"
)

// DefaultNameThreshold is the token overlap above which two differently
// formatted names are treated as the same person.
const DefaultNameThreshold = 0.8

// Result is the outcome of one field comparison.
type Result struct {
	Match      bool    `json:"match"`
	Similarity float64 `json:"similarity"`
}

// Matcher compares provider fields. The zero value is not usable; build one
// with New. A Matcher is safe for concurrent use.
type Matcher struct {
	nameThreshold float64
	taxonomy      *Taxonomy
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithNameThreshold overrides the name token-overlap threshold.
func WithNameThreshold(t float64) Option {
	return func(m *Matcher) {
		if t > 0 && t <= 1 {
			m.nameThreshold = t
		}
	}
}

// WithTaxonomy sets the specialty taxonomy.
func WithTaxonomy(t *Taxonomy) Option {
	return func(m *Matcher) {
		if t != nil {
			m.taxonomy = t
		}
	}
}

// New creates a Matcher with the default name threshold and taxonomy.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		nameThreshold: DefaultNameThreshold,
		taxonomy:      DefaultTaxonomy(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var defaultMatcher = New()

// MatchField reports whether observed corroborates system for the given
// field using the default Matcher.
func MatchField(system, observed string, kind model.FieldKind) bool {
	return defaultMatcher.Field(kind, system, observed).Match
}

// Field compares one field. An empty observed value never matches, and
// unknown kinds never match. Field never panics.
func (m *Matcher) Field(kind model.FieldKind, system, observed string) Result {
	if strings.TrimSpace(observed) == "" || strings.TrimSpace(system) == "" {
		return Result{}
	}
	switch kind {
	case model.FieldName:
		return m.name(system, observed)
	case model.FieldPhone:
		return binary(Phone(system, observed))
	case model.FieldAddress:
		return binary(Address(system, observed))
	case model.FieldSpecialty:
		return binary(m.taxonomy.Match(system, observed))
	}
	return Result{}
}

func binary(ok bool) Result {
	if ok {
		return Result{Match: true, Similarity: 1}
	}
	return Result{}
}

// fold lowercases s and strips diacritics. The transformers are stateful,
// so a fresh chain is built per call.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return cases.Fold().String(out)
}

// words folds s and splits it on anything that is not a letter, digit or
// '#'. Apostrophes are dropped so "O'Brien" becomes "obrien".
func words(s string) []string {
	s = strings.NewReplacer("'", "", "’", "").Replace(fold(s))
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '#'
	})
}

// Normalize lowercases, strips punctuation and diacritics, and collapses
// whitespace.
func Normalize(s string) string {
	return strings.Join(words(s), " ")
}

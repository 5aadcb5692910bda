// Package directory filters provider listings with composable predicates.
package directory

import (
	"strings"

	"github.com/sells-group/provider-verify/internal/match"
	"github.com/sells-group/provider-verify/internal/model"
)

// Predicate reports whether a provider belongs in a view.
type Predicate func(model.Provider) bool

// All matches every provider.
func All() Predicate {
	return func(model.Provider) bool { return true }
}

// And matches providers that satisfy every predicate. And() matches all.
func And(preds ...Predicate) Predicate {
	return func(p model.Provider) bool {
		for _, pred := range preds {
			if !pred(p) {
				return false
			}
		}
		return true
	}
}

// Or matches providers that satisfy at least one predicate. Or() matches
// none.
func Or(preds ...Predicate) Predicate {
	return func(p model.Provider) bool {
		for _, pred := range preds {
			if pred(p) {
				return true
			}
		}
		return false
	}
}

// Not inverts pred.
func Not(pred Predicate) Predicate {
	return func(p model.Provider) bool { return !pred(p) }
}

// ByStatus matches providers with the given status.
func ByStatus(s model.Status) Predicate {
	return func(p model.Provider) bool { return p.Status == s }
}

// Search matches a case-insensitive substring of the name, specialty,
// location or NPI. An empty term matches everything.
func Search(term string) Predicate {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return All()
	}
	return func(p model.Provider) bool {
		for _, v := range []string{p.Name, p.Specialty, p.Location, p.NPI} {
			if strings.Contains(strings.ToLower(v), term) {
				return true
			}
		}
		return false
	}
}

// MinConfidence matches scores at or above min.
func MinConfidence(min int) Predicate {
	return func(p model.Provider) bool { return p.ConfidenceScore >= min }
}

// MaxConfidence matches scores at or below max.
func MaxConfidence(max int) Predicate {
	return func(p model.Provider) bool { return p.ConfidenceScore <= max }
}

// BySpecialty matches providers whose specialty is equivalent to s under
// the matcher's taxonomy.
func BySpecialty(m *match.Matcher, s string) Predicate {
	return func(p model.Provider) bool {
		return m.Field(model.FieldSpecialty, p.Specialty, s).Match
	}
}

// ByState matches providers in the given state, by code or full name.
func ByState(state string) Predicate {
	code, _ := match.StateCode(state)
	return func(p model.Provider) bool {
		if p.State == "" {
			return false
		}
		got, _ := match.StateCode(p.State)
		return got == code
	}
}

// HasSourceStatus matches providers where the named source reported
// status. An empty source name matches any source.
func HasSourceStatus(source string, status model.SourceStatus) Predicate {
	return func(p model.Provider) bool {
		for _, r := range p.DataSources {
			if (source == "" || strings.EqualFold(r.Name, source)) && r.Status == status {
				return true
			}
		}
		return false
	}
}

// Filter returns the providers matching pred, in their original order.
func Filter(providers []model.Provider, pred Predicate) []model.Provider {
	out := make([]model.Provider, 0, len(providers))
	for _, p := range providers {
		if pred(p) {
			out = append(out, p)
		}
	}
	return out
}

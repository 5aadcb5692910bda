package scoring

import (
	"github.com/sells-group/provider-verify/internal/match"
	"github.com/sells-group/provider-verify/internal/model"
)

// SourceInfo describes the external source a result is attributed to.
type SourceInfo struct {
	Name string
	URL  string
}

// Evaluator compares a provider against one source's observation. It holds
// no mutable state and is safe for concurrent use.
type Evaluator struct {
	matcher *match.Matcher
	policy  Policy
}

// NewEvaluator creates an Evaluator. A nil matcher uses match defaults.
func NewEvaluator(m *match.Matcher, policy Policy) *Evaluator {
	if m == nil {
		m = match.New()
	}
	if len(policy.FieldWeights) == 0 {
		policy.FieldWeights = DefaultFieldWeights()
	}
	return &Evaluator{matcher: m, policy: policy}
}

// Evaluate produces the DataSourceResult for one (provider, source) check.
// A missing observation, one with Found false, or one whose NPI belongs to
// a different provider is not-found with zero confidence.
func (e *Evaluator) Evaluate(p model.Provider, src SourceInfo, obs *model.Observation) model.DataSourceResult {
	res := model.DataSourceResult{
		Name: src.Name,
		URL:  src.URL,
	}
	if obs == nil {
		res.Status = model.SourceNotFound
		res.Reason = model.ReasonNoRecord
		return res
	}
	res.LastChecked = obs.CheckedAt

	if !obs.Found {
		res.Status = model.SourceNotFound
		res.Reason = obs.Reason
		if res.Reason == "" {
			res.Reason = model.ReasonNoRecord
		}
		return res
	}
	if obs.NPI != "" && p.NPI != "" && obs.NPI != p.NPI {
		res.Status = model.SourceNotFound
		res.Reason = model.ReasonNPIConflict
		return res
	}

	var earned, total float64
	for _, kind := range model.TrackedFields {
		w := e.policy.FieldWeights[kind]
		total += w
		r := e.matcher.Field(kind, systemValue(p, kind), obs.Value(kind))
		res.Fields = res.Fields.Set(kind, r.Match)
		if r.Match {
			earned += w * r.Similarity
		}
	}

	if res.Fields.All() {
		res.Status = model.SourceMatch
	} else {
		res.Status = model.SourceMismatch
	}

	// Trust is applied once, when results are aggregated.
	if total > 0 {
		res.Confidence = clampScore(100 * earned / total)
	}
	return res
}

func systemValue(p model.Provider, kind model.FieldKind) string {
	switch kind {
	case model.FieldName:
		return p.Name
	case model.FieldPhone:
		return p.Phone
	case model.FieldAddress:
		return p.Address
	case model.FieldSpecialty:
		return p.Specialty
	}
	return ""
}

// Package scoring turns source observations into per-source results and
// combines those into a provider's confidence score and status.
package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-verify/internal/model"
)

// DefaultThreshold is the score at or above which a provider with no
// not-found sources is Verified.
const DefaultThreshold = 80

// DefaultTrust is the weight given to sources the policy does not list.
const DefaultTrust = 0.5

// Policy holds the scoring parameters.
type Policy struct {
	Threshold    int
	DefaultTrust float64
	// Trust maps source names to their reliability weight. It is the only
	// trust input: weights are normalized across the sources of one
	// provider during aggregation and never scale a single result.
	Trust        map[string]float64
	FieldWeights map[model.FieldKind]float64
}

// DefaultFieldWeights weighs the name highest and the address lowest.
func DefaultFieldWeights() map[model.FieldKind]float64 {
	return map[model.FieldKind]float64{
		model.FieldName:      0.40,
		model.FieldSpecialty: 0.25,
		model.FieldPhone:     0.20,
		model.FieldAddress:   0.15,
	}
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() Policy {
	return Policy{
		Threshold:    DefaultThreshold,
		DefaultTrust: DefaultTrust,
		Trust:        map[string]float64{},
		FieldWeights: DefaultFieldWeights(),
	}
}

// TrustFor returns the trust weight of the named source.
func (p Policy) TrustFor(source string) float64 {
	if w, ok := p.Trust[source]; ok && w > 0 {
		return w
	}
	if w, ok := p.Trust[strings.ToLower(source)]; ok && w > 0 {
		return w
	}
	if p.DefaultTrust > 0 {
		return p.DefaultTrust
	}
	return DefaultTrust
}

// Validate checks that the policy is internally consistent.
func (p Policy) Validate() error {
	var errs []string
	if p.Threshold < 0 || p.Threshold > 100 {
		errs = append(errs, fmt.Sprintf("threshold %d outside [0,100]", p.Threshold))
	}
	if p.DefaultTrust < 0 {
		errs = append(errs, "default trust must not be negative")
	}
	for name, w := range p.Trust {
		if w <= 0 {
			errs = append(errs, fmt.Sprintf("trust for %q must be positive", name))
		}
	}
	var sum float64
	for kind, w := range p.FieldWeights {
		if w < 0 {
			errs = append(errs, fmt.Sprintf("field weight for %s must not be negative", kind))
		}
		sum += w
	}
	if sum <= 0 {
		errs = append(errs, "field weights must sum to a positive value")
	}
	if len(errs) > 0 {
		return eris.Errorf("scoring: invalid policy: %s", strings.Join(errs, "; "))
	}
	return nil
}

// clampScore rounds v half away from zero and clamps it to [0,100].
func clampScore(v float64) int {
	r := int(math.Round(v))
	if r < 0 {
		return 0
	}
	if r > 100 {
		return 100
	}
	return r
}

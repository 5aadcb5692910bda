package scoring

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-verify/internal/model"
)

// ErrNoDataSources is returned when a provider has no source results to
// score. The provider is still classified, as Needs Review with score 0.
var ErrNoDataSources = eris.New("scoring: no data sources")

// Decision is the aggregated verdict for one provider.
type Decision struct {
	Score    int          `json:"score"`
	Status   model.Status `json:"status"`
	NotFound int          `json:"not_found"`
}

// Aggregator combines source results into a score and status.
type Aggregator struct {
	policy Policy
}

// NewAggregator creates an Aggregator for the given policy.
func NewAggregator(policy Policy) *Aggregator {
	return &Aggregator{policy: policy}
}

// Threshold returns the score at which providers become Verified.
func (a *Aggregator) Threshold() int {
	return a.policy.Threshold
}

// Aggregate computes the trust-weighted mean of the source confidences.
// Any not-found source forces Needs Review regardless of the score; a score
// exactly at the threshold is Verified. Aggregate is a pure function of its
// input.
func (a *Aggregator) Aggregate(results []model.DataSourceResult) (Decision, error) {
	if len(results) == 0 {
		return Decision{Score: 0, Status: model.StatusNeedsReview}, ErrNoDataSources
	}

	var weighted, weights float64
	var notFound int
	for _, r := range results {
		w := a.policy.TrustFor(r.Name)
		weighted += float64(r.Confidence) * w
		weights += w
		if r.Status == model.SourceNotFound {
			notFound++
		}
	}

	d := Decision{
		Score:    clampScore(weighted / weights),
		Status:   model.StatusNeedsReview,
		NotFound: notFound,
	}
	if d.Score >= a.policy.Threshold && notFound == 0 {
		d.Status = model.StatusVerified
	}
	return d, nil
}

// Apply aggregates results and records the outcome on p. On
// ErrNoDataSources p is still updated (score 0, Needs Review) and the error
// is returned for the caller to log.
func (a *Aggregator) Apply(p *model.Provider, results []model.DataSourceResult, now time.Time) (Decision, error) {
	d, err := a.Aggregate(results)
	p.DataSources = append([]model.DataSourceResult(nil), results...)
	p.ConfidenceScore = d.Score
	p.Status = d.Status
	p.LastVerified = now.UTC()
	return d, err
}

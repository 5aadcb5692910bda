package source

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/provider-verify/internal/model"
	"github.com/sells-group/provider-verify/internal/resilience"
	"github.com/sells-group/provider-verify/internal/scoring"
)

// DefaultTimeout bounds a lookup when the source entry sets none.
const DefaultTimeout = 10 * time.Second

// Answer is one source's reply for one provider. Observation is never
// nil; a failed lookup becomes a not-found observation whose Reason says
// why, and Err keeps the underlying failure for logging.
type Answer struct {
	Info        scoring.SourceInfo
	Observation *model.Observation
	Err         error
}

// Querier fans a provider lookup out to every registered source.
type Querier struct {
	registry *Registry
	guard    resilience.Guard
	now      func() time.Time
}

// NewQuerier creates a Querier over the registry's sources.
func NewQuerier(reg *Registry, guard resilience.Guard) *Querier {
	return &Querier{registry: reg, guard: guard, now: time.Now}
}

// Breakers exposes the per-source circuit breakers.
func (q *Querier) Breakers() *resilience.Breakers {
	return q.guard.Breakers
}

// QueryAll looks id up in every source concurrently and returns the
// answers in registry order once all have finished. Source failures are
// folded into the answers; the only error is the caller's context ending.
func (q *Querier) QueryAll(ctx context.Context, id model.Identity) ([]Answer, error) {
	entries := q.registry.Entries()
	out := make([]Answer, len(entries))

	var g errgroup.Group
	for i, e := range entries {
		g.Go(func() error {
			out[i] = q.lookup(ctx, e, id)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "source: query all")
	}
	return out, nil
}

func (q *Querier) lookup(ctx context.Context, e Entry, id model.Identity) Answer {
	src := e.Source
	ans := Answer{Info: scoring.SourceInfo{Name: src.Name(), URL: src.URL()}}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	obs, err := resilience.Run(lctx, q.guard, src.Name(), func(ctx context.Context) (*model.Observation, error) {
		return src.Lookup(ctx, id)
	})
	if err == nil && obs != nil {
		ans.Observation = obs
		return ans
	}
	if err == nil {
		err = eris.New("source: empty observation")
	}

	reason := model.ReasonSourceUnavailable
	if ctx.Err() == nil && (lctx.Err() != nil || resilience.IsTimeout(err)) {
		reason = model.ReasonTimeout
	}
	ans.Err = eris.Wrapf(ErrSourceUnavailable, "%s: %v", src.Name(), err)
	ans.Observation = &model.Observation{CheckedAt: q.now().UTC(), Reason: reason}

	zap.L().Warn("source: lookup failed",
		zap.String("source", src.Name()),
		zap.String("npi", id.NPI),
		zap.String("reason", reason),
		zap.Error(err),
	)
	return ans
}

// Check queries every source for p and evaluates each answer.
func (q *Querier) Check(ctx context.Context, p model.Provider, ev *scoring.Evaluator) ([]model.DataSourceResult, error) {
	answers, err := q.QueryAll(ctx, p.Identity())
	if err != nil {
		return nil, err
	}
	return EvaluateAll(p, answers, ev), nil
}

// EvaluateAll turns answers into source results in the same order.
func EvaluateAll(p model.Provider, answers []Answer, ev *scoring.Evaluator) []model.DataSourceResult {
	results := make([]model.DataSourceResult, len(answers))
	for i, a := range answers {
		results[i] = ev.Evaluate(p, a.Info, a.Observation)
	}
	return results
}

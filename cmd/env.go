package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/provider-verify/internal/config"
	"github.com/sells-group/provider-verify/internal/match"
	"github.com/sells-group/provider-verify/internal/model"
	"github.com/sells-group/provider-verify/internal/pipeline"
	"github.com/sells-group/provider-verify/internal/resilience"
	"github.com/sells-group/provider-verify/internal/review"
	"github.com/sells-group/provider-verify/internal/scoring"
	"github.com/sells-group/provider-verify/internal/source"
	"github.com/sells-group/provider-verify/internal/store"
	"github.com/sells-group/provider-verify/pkg/nppes"
)

// verifyEnv holds the store and services the commands share.
type verifyEnv struct {
	Store    store.Store
	Matcher  *match.Matcher
	Review   *review.Manager
	Querier  *source.Querier
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the environment.
func (e *verifyEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

type envOptions struct {
	// sources builds the querier and pipeline.
	sources bool
	// offline skips network-backed sources.
	offline   bool
	observers []pipeline.Observer
}

// initEnv opens and migrates the store and builds the services mode
// needs. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string, opts envOptions) (*verifyEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	policy, err := buildPolicy(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	matcher, err := buildMatcher(cfg.Scoring)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	agg := scoring.NewAggregator(policy)

	env := &verifyEnv{
		Store:   st,
		Matcher: matcher,
		Review:  review.NewManager(st, agg),
	}
	if !opts.sources {
		return env, nil
	}

	reg, err := buildRegistry(cfg.Sources, opts.offline)
	if err != nil {
		env.Close()
		return nil, err
	}
	if reg.Len() == 0 {
		env.Close()
		return nil, eris.New("no sources available (offline mode skips nppes sources)")
	}
	r := cfg.Resilience
	env.Querier = source.NewQuerier(reg, resilience.NewGuard(
		r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs, r.CircuitFailures, r.CircuitCooldownSecs,
	))

	pipeOpts := []pipeline.Option{pipeline.WithConcurrency(cfg.Batch.MaxConcurrentProviders)}
	for _, o := range opts.observers {
		pipeOpts = append(pipeOpts, pipeline.WithObserver(o))
	}
	env.Pipeline = pipeline.New(st, env.Querier, scoring.NewEvaluator(matcher, policy), agg, env.Review, pipeOpts...)

	zap.L().Debug("environment ready",
		zap.String("store", cfg.Store.Driver),
		zap.Strings("sources", reg.Names()),
		zap.Int("threshold", policy.Threshold),
	)
	return env, nil
}

func initStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	switch sc.Driver {
	case "sqlite":
		dsn := sc.DatabaseURL
		if dsn == "" {
			dsn = "verify.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, sc.DatabaseURL, &store.PoolConfig{MaxConns: sc.MaxConns})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", sc.Driver)
	}
}

// buildPolicy assembles the scoring policy from the scoring section and
// the per-source trust weights.
func buildPolicy(c *config.Config) (scoring.Policy, error) {
	p := scoring.DefaultPolicy()
	p.Threshold = c.Scoring.Threshold
	if c.Scoring.DefaultTrust > 0 {
		p.DefaultTrust = c.Scoring.DefaultTrust
	}
	if len(c.Scoring.FieldWeights) > 0 {
		p.FieldWeights = make(map[model.FieldKind]float64, len(c.Scoring.FieldWeights))
		for name, w := range c.Scoring.FieldWeights {
			p.FieldWeights[model.FieldKind(name)] = w
		}
	}
	for _, s := range c.Sources {
		if s.Trust > 0 {
			p.Trust[s.Name] = s.Trust
		}
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

func buildMatcher(sc config.ScoringConfig) (*match.Matcher, error) {
	opts := []match.Option{match.WithNameThreshold(sc.NameSimilarity)}
	if sc.TaxonomyPath != "" {
		tax, err := match.LoadTaxonomy(sc.TaxonomyPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, match.WithTaxonomy(tax))
	}
	return match.New(opts...), nil
}

// buildRegistry registers the configured sources in order. offline drops
// nppes sources.
func buildRegistry(sources []config.SourceConfig, offline bool) (*source.Registry, error) {
	reg := source.NewRegistry()
	for _, sc := range sources {
		var src source.Source
		switch sc.Kind {
		case config.SourceKindNPPES:
			if offline {
				zap.L().Info("offline: skipping source", zap.String("source", sc.Name))
				continue
			}
			opts := []nppes.Option{}
			if sc.URL != "" {
				opts = append(opts, nppes.WithBaseURL(sc.URL))
			}
			if sc.RateLimit > 0 {
				opts = append(opts, nppes.WithRateLimit(sc.RateLimit, 1))
			}
			src = source.NewNPPESSource(sc.Name, nppes.NewClient(opts...))
		case config.SourceKindFixture:
			fs, err := source.LoadFixtureSource(sc.FixturePath, sc.Name, sc.URL)
			if err != nil {
				return nil, err
			}
			src = fs
		default:
			return nil, eris.Errorf("source %s: unsupported kind %q", sc.Name, sc.Kind)
		}
		reg.Register(source.Entry{
			Source:  src,
			Timeout: time.Duration(sc.TimeoutMs) * time.Millisecond,
		})
	}
	return reg, nil
}

// Package pipeline runs an upload through parsing, source lookup,
// verification and scoring, and persists the outcome.
package pipeline

import (
	"context"
	"io"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/provider-verify/internal/ingest"
	"github.com/sells-group/provider-verify/internal/model"
	"github.com/sells-group/provider-verify/internal/review"
	"github.com/sells-group/provider-verify/internal/scoring"
	"github.com/sells-group/provider-verify/internal/source"
	"github.com/sells-group/provider-verify/internal/store"
)

// DefaultConcurrency bounds how many providers are processed at once.
const DefaultConcurrency = 8

// Pipeline verifies upload batches.
type Pipeline struct {
	store       store.Store
	querier     *source.Querier
	evaluator   *scoring.Evaluator
	aggregator  *scoring.Aggregator
	review      *review.Manager
	concurrency int
	observers   []Observer
	now         func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithConcurrency sets the per-stage provider concurrency.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithObserver registers a stage observer.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		if o != nil {
			p.observers = append(p.observers, o)
		}
	}
}

// New creates a Pipeline with all dependencies.
func New(
	st store.Store,
	q *source.Querier,
	ev *scoring.Evaluator,
	agg *scoring.Aggregator,
	rm *review.Manager,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		store:       st,
		querier:     q,
		evaluator:   ev,
		aggregator:  agg,
		review:      rm,
		concurrency: DefaultConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Result is the outcome of one batch.
type Result struct {
	Batch     *model.Batch                   `json:"batch"`
	Providers []model.Provider               `json:"providers"`
	Malformed []*ingest.MalformedRecordError `json:"malformed"`
	Created   int                            `json:"created"`
	Updated   int                            `json:"updated"`
}

// work is one provider's state as it moves through the stages.
type work struct {
	provider model.Provider
	existing *model.Provider
	answers  []source.Answer
	results  []model.DataSourceResult
	final    *model.Provider
	created  bool
}

// RunFile verifies a CSV or XLSX file.
func (p *Pipeline) RunFile(ctx context.Context, path string) (*Result, error) {
	return p.run(ctx, filepath.Base(path), func(ctx context.Context) (*ingest.Upload, error) {
		return ingest.ReadFile(ctx, path)
	})
}

// RunCSV verifies a CSV upload read from r.
func (p *Pipeline) RunCSV(ctx context.Context, name string, r io.Reader) (*Result, error) {
	return p.run(ctx, name, func(ctx context.Context) (*ingest.Upload, error) {
		return ingest.ReadCSV(ctx, r)
	})
}

func (p *Pipeline) run(ctx context.Context, name string, read func(context.Context) (*ingest.Upload, error)) (*Result, error) {
	batch := &model.Batch{FileName: name, Status: model.BatchProcessing}
	if err := p.store.CreateBatch(ctx, batch); err != nil {
		return nil, eris.Wrap(err, "pipeline: create batch")
	}
	log := zap.L().With(zap.String("batch_id", batch.ID), zap.String("file", name))
	log.Info("pipeline: starting batch")

	res := &Result{Batch: batch}
	start := p.now()
	if err := p.stages(ctx, batch, res, read); err != nil {
		batch.Status = model.BatchFailed
		batch.Error = err.Error()
		p.finish(ctx, batch)
		log.Error("pipeline: batch failed", zap.String("stage", batch.Stage), zap.Error(err))
		return res, err
	}

	batch.Status = model.BatchCompleted
	p.finish(ctx, batch)
	log.Info("pipeline: batch complete",
		zap.Int("records", batch.Records),
		zap.Int("malformed", batch.Malformed),
		zap.Int("verified", batch.Verified),
		zap.Int("needs_review", batch.NeedsReview),
		zap.Duration("elapsed", p.now().Sub(start)),
	)
	return res, nil
}

func (p *Pipeline) stages(ctx context.Context, batch *model.Batch, res *Result, read func(context.Context) (*ingest.Upload, error)) error {
	// parse
	p.begin(ctx, batch, StageParse, 0)
	upload, err := read(ctx)
	if err != nil {
		return eris.Wrap(err, "pipeline: parse upload")
	}
	batch.Records = upload.Rows
	batch.Malformed = len(upload.Malformed)
	res.Malformed = upload.Malformed
	p.end(batch, StageParse, upload.Rows, upload.Rows)

	items := make([]*work, len(upload.Providers))
	for i, prov := range upload.Providers {
		prov.BatchID = batch.ID
		items[i] = &work{provider: prov}
	}
	total := len(items)

	// extract
	p.begin(ctx, batch, StageExtract, total)
	if err := p.each(ctx, items, p.extract); err != nil {
		return eris.Wrap(err, "pipeline: extract")
	}
	p.end(batch, StageExtract, total, total)

	// query
	p.begin(ctx, batch, StageQuery, total)
	if err := p.each(ctx, items, p.query); err != nil {
		return eris.Wrap(err, "pipeline: query sources")
	}
	p.end(batch, StageQuery, total, total)

	// verify
	p.begin(ctx, batch, StageVerify, total)
	for _, w := range items {
		w.results = source.EvaluateAll(w.provider, w.answers, p.evaluator)
	}
	p.end(batch, StageVerify, total, total)

	// score
	p.begin(ctx, batch, StageScore, total)
	if err := p.each(ctx, items, p.score); err != nil {
		return eris.Wrap(err, "pipeline: score")
	}
	for _, w := range items {
		if w.final == nil {
			continue
		}
		res.Providers = append(res.Providers, *w.final)
		if w.created {
			res.Created++
		} else {
			res.Updated++
		}
		switch w.final.Status {
		case model.StatusVerified:
			batch.Verified++
		case model.StatusNeedsReview:
			batch.NeedsReview++
		}
	}
	p.end(batch, StageScore, len(res.Providers), total)
	return nil
}

// each runs fn over items with bounded concurrency. The stage ends when
// every item is done.
func (p *Pipeline) each(ctx context.Context, items []*work, fn func(context.Context, *work) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, w := range items {
		g.Go(func() error {
			return fn(gctx, w)
		})
	}
	return g.Wait()
}

func (p *Pipeline) extract(ctx context.Context, w *work) error {
	existing, err := p.store.GetProviderByNPI(ctx, w.provider.NPI)
	switch {
	case err == nil:
		w.existing = existing
	case eris.Is(err, store.ErrNotFound):
	default:
		return eris.Wrapf(err, "pipeline: look up npi %s", w.provider.NPI)
	}
	return nil
}

func (p *Pipeline) query(ctx context.Context, w *work) error {
	answers, err := p.querier.QueryAll(ctx, w.provider.Identity())
	if err != nil {
		return err
	}
	w.answers = answers
	return nil
}

// score persists one provider. Known NPIs go through the review manager
// so status changes are audited.
func (p *Pipeline) score(ctx context.Context, w *work) error {
	if w.existing != nil {
		return p.rescore(ctx, w, w.existing.ID)
	}

	prov := w.provider
	if _, err := p.aggregator.Apply(&prov, w.results, p.now()); err != nil && !eris.Is(err, scoring.ErrNoDataSources) {
		return err
	}
	err := p.store.CreateProvider(ctx, &prov)
	if eris.Is(err, store.ErrDuplicate) {
		// Another batch created the NPI since extract.
		existing, gerr := p.store.GetProviderByNPI(ctx, prov.NPI)
		if gerr != nil {
			return eris.Wrapf(gerr, "pipeline: reload npi %s", prov.NPI)
		}
		return p.rescore(ctx, w, existing.ID)
	}
	if err != nil {
		return eris.Wrapf(err, "pipeline: create provider %s", prov.NPI)
	}
	w.final = &prov
	w.created = true
	return nil
}

func (p *Pipeline) rescore(ctx context.Context, w *work, id string) error {
	// Results were computed for the uploaded row, so its attributes go
	// with them.
	updated, err := p.review.ReevaluateAs(ctx, id, w.provider.Attributes(), w.results)
	if eris.Is(err, store.ErrNotFound) {
		zap.L().Warn("pipeline: provider removed during batch, skipping",
			zap.String("provider_id", id),
			zap.String("npi", w.provider.NPI),
		)
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "pipeline: re-evaluate %s", w.provider.NPI)
	}
	w.final = updated
	return nil
}

// begin records the stage on the batch row and notifies observers.
func (p *Pipeline) begin(ctx context.Context, batch *model.Batch, stage Stage, total int) {
	batch.Stage = string(stage)
	if err := p.store.UpdateBatch(ctx, batch); err != nil {
		zap.L().Warn("pipeline: failed to update batch stage",
			zap.String("batch_id", batch.ID),
			zap.String("stage", string(stage)),
			zap.Error(err),
		)
	}
	p.emit(StageEvent{BatchID: batch.ID, Stage: stage, State: StageStarted, Total: total})
}

func (p *Pipeline) end(batch *model.Batch, stage Stage, processed, total int) {
	p.emit(StageEvent{BatchID: batch.ID, Stage: stage, State: StageCompleted, Processed: processed, Total: total})
}

func (p *Pipeline) emit(ev StageEvent) {
	ev.Label = ev.Stage.Label()
	for _, o := range p.observers {
		o(ev)
	}
}

// finish writes the final batch row. It runs even when ctx is done.
func (p *Pipeline) finish(ctx context.Context, batch *model.Batch) {
	done := p.now().UTC()
	batch.CompletedAt = &done
	if err := p.store.UpdateBatch(context.WithoutCancel(ctx), batch); err != nil {
		zap.L().Warn("pipeline: failed to finalize batch", zap.String("batch_id", batch.ID), zap.Error(err))
	}
}

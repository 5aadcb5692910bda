package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-verify/internal/model"
	"github.com/sells-group/provider-verify/internal/report"
	"github.com/sells-group/provider-verify/internal/resilience"
	"github.com/sells-group/provider-verify/internal/store"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Batch metrics (within lookback window).
	BatchTotal      int     `json:"batch_total"`
	BatchCompleted  int     `json:"batch_completed"`
	BatchFailed     int     `json:"batch_failed"`
	BatchProcessing int     `json:"batch_processing"`
	BatchFailRate   float64 `json:"batch_fail_rate"`
	RecordsTotal    int     `json:"records_total"`
	MalformedTotal  int     `json:"malformed_total"`

	// Review queue.
	ReviewBacklog int `json:"review_backlog"`
	LowConfidence int `json:"low_confidence"`

	// Sources whose circuit is open.
	OpenCircuits []string `json:"open_circuits,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// MetricsStore is the part of the store the collector reads.
type MetricsStore interface {
	ListBatches(ctx context.Context, limit int) ([]model.Batch, error)
	ListProviders(ctx context.Context, filter store.ProviderFilter) ([]model.Provider, error)
}

// Collector gathers metrics from the store and source breakers.
type Collector struct {
	store    MetricsStore
	breakers *resilience.Breakers
	now      func() time.Time
}

// NewCollector creates a new metrics collector. breakers may be nil.
func NewCollector(st MetricsStore, breakers *resilience.Breakers) *Collector {
	return &Collector{store: st, breakers: breakers, now: time.Now}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   c.now().UTC(),
	}

	cutoff := snap.CollectedAt.Add(-time.Duration(lookbackHours) * time.Hour)

	batches, err := c.store.ListBatches(ctx, 10000)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list batches")
	}
	for _, b := range batches {
		if b.CreatedAt.Before(cutoff) {
			continue
		}
		snap.BatchTotal++
		snap.RecordsTotal += b.Records
		snap.MalformedTotal += b.Malformed
		switch b.Status {
		case model.BatchCompleted:
			snap.BatchCompleted++
		case model.BatchFailed:
			snap.BatchFailed++
		case model.BatchProcessing:
			snap.BatchProcessing++
		}
	}
	if finished := snap.BatchCompleted + snap.BatchFailed; finished > 0 {
		snap.BatchFailRate = float64(snap.BatchFailed) / float64(finished)
	}

	queue, err := c.store.ListProviders(ctx, store.ProviderFilter{Status: model.StatusNeedsReview, Limit: store.NoLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list review queue")
	}
	snap.ReviewBacklog = len(queue)
	for _, p := range queue {
		if p.ConfidenceScore < report.LowConfidence {
			snap.LowConfidence++
		}
	}

	if c.breakers != nil {
		for _, s := range c.breakers.Snapshot() {
			if s.State == resilience.Open.String() {
				snap.OpenCircuits = append(snap.OpenCircuits, s.Source)
			}
		}
	}

	return snap, nil
}

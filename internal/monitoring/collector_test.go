package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/provider-verify/internal/model"
	"github.com/sells-group/provider-verify/internal/resilience"
	"github.com/sells-group/provider-verify/internal/store"
)

type mockStore struct {
	batches   []model.Batch
	providers []model.Provider
	err       error
}

func (m *mockStore) ListBatches(_ context.Context, limit int) ([]model.Batch, error) {
	if m.err != nil {
		return nil, m.err
	}
	if limit > 0 && len(m.batches) > limit {
		return m.batches[:limit], nil
	}
	return m.batches, nil
}

func (m *mockStore) ListProviders(_ context.Context, filter store.ProviderFilter) ([]model.Provider, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []model.Provider
	for _, p := range m.providers {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

var collectedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestCollector(st MetricsStore, breakers *resilience.Breakers) *Collector {
	c := NewCollector(st, breakers)
	c.now = func() time.Time { return collectedAt }
	return c
}

func TestCollector_EmptyStore(t *testing.T) {
	c := newTestCollector(&mockStore{}, nil)

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.BatchTotal)
	assert.Equal(t, 0, snap.ReviewBacklog)
	assert.Zero(t, snap.BatchFailRate)
	assert.Empty(t, snap.OpenCircuits)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Equal(t, collectedAt, snap.CollectedAt)
}

func TestCollector_BatchMetrics(t *testing.T) {
	recent := collectedAt.Add(-time.Hour)
	st := &mockStore{batches: []model.Batch{
		{ID: "b1", Status: model.BatchCompleted, Records: 10, Malformed: 1, CreatedAt: recent},
		{ID: "b2", Status: model.BatchCompleted, Records: 5, CreatedAt: recent},
		{ID: "b3", Status: model.BatchFailed, Records: 3, CreatedAt: recent},
		{ID: "b4", Status: model.BatchProcessing, Records: 7, Malformed: 2, CreatedAt: recent},
		// Outside the lookback window.
		{ID: "old", Status: model.BatchFailed, Records: 100, CreatedAt: collectedAt.Add(-48 * time.Hour)},
	}}
	c := newTestCollector(st, nil)

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 4, snap.BatchTotal)
	assert.Equal(t, 2, snap.BatchCompleted)
	assert.Equal(t, 1, snap.BatchFailed)
	assert.Equal(t, 1, snap.BatchProcessing)
	assert.Equal(t, 25, snap.RecordsTotal)
	assert.Equal(t, 3, snap.MalformedTotal)
	assert.InDelta(t, 1.0/3.0, snap.BatchFailRate, 0.001)
}

func TestCollector_ReviewBacklog(t *testing.T) {
	st := &mockStore{providers: []model.Provider{
		{ID: "1", Status: model.StatusNeedsReview, ConfidenceScore: 75},
		{ID: "2", Status: model.StatusNeedsReview, ConfidenceScore: 56},
		{ID: "3", Status: model.StatusNeedsReview, ConfidenceScore: 69},
		{ID: "4", Status: model.StatusVerified, ConfidenceScore: 20},
	}}
	c := newTestCollector(st, nil)

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.ReviewBacklog)
	assert.Equal(t, 2, snap.LowConfidence)
}

func TestCollector_OpenCircuits(t *testing.T) {
	breakers := resilience.NewBreakers(resilience.BreakerConfig{Failures: 1, Cooldown: time.Hour})
	_, err := resilience.Call(context.Background(), breakers.For("State Board"), func(context.Context) (int, error) {
		return 0, errors.New("board down")
	})
	require.Error(t, err)
	_, err = resilience.Call(context.Background(), breakers.For("NPI Registry"), func(context.Context) (int, error) {
		return 1, nil
	})
	require.NoError(t, err)

	c := newTestCollector(&mockStore{}, breakers)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, []string{"State Board"}, snap.OpenCircuits)
}

func TestCollector_StoreError(t *testing.T) {
	c := newTestCollector(&mockStore{err: errors.New("db gone")}, nil)

	_, err := c.Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list batches")
}

func TestCollector_FailureRateZeroFinished(t *testing.T) {
	st := &mockStore{batches: []model.Batch{
		{ID: "b1", Status: model.BatchProcessing, CreatedAt: collectedAt},
	}}
	c := newTestCollector(st, nil)

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.BatchFailRate)
}

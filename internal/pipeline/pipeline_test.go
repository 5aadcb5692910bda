package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sells-group/provider-verify/internal/match"
	"github.com/sells-group/provider-verify/internal/model"
	"github.com/sells-group/provider-verify/internal/resilience"
	"github.com/sells-group/provider-verify/internal/review"
	"github.com/sells-group/provider-verify/internal/scoring"
	"github.com/sells-group/provider-verify/internal/source"
	"github.com/sells-group/provider-verify/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	smithNPI = "1234567893"
	jonesNPI = "1245319599"
)

const upload = `Provider Name,NPI,Specialty,Phone,Email,Address,City,State,ZIP
Dr. Jane Smith,1234567893,Cardiology,(617) 555-0100,jsmith@example.com,1 Main St,Boston,MA,02110
Dr. Bob Jones,1245319599,Family Medicine,(512) 555-0199,,200 Congress Ave,Austin,TX,78701
Dr. Bad Number,1234567890,Pediatrics,(212) 555-0000,,5 Elm St,Albany,NY,12207
`

var (
	smithRecord = source.FixtureRecord{
		Name:      "Dr. Jane Smith",
		Phone:     "617-555-0100",
		Address:   "1 Main St, Boston, MA 02110",
		Specialty: "Cardiology",
	}
	jonesRecord = source.FixtureRecord{
		Name:      "Dr. Bob Jones",
		Phone:     "512-555-0199",
		Address:   "200 Congress Ave, Austin, TX 78701",
		Specialty: "Family Medicine",
	}
)

type harness struct {
	store  store.Store
	policy scoring.Policy
	events []StageEvent
	mu     sync.Mutex
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	policy := scoring.DefaultPolicy()
	policy.Trust = map[string]float64{"NPI Registry": 1.0, "State Board": 0.8}
	return &harness{store: st, policy: policy}
}

func (h *harness) observe(ev StageEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *harness) pipeline(sources ...source.Source) *Pipeline {
	reg := source.NewRegistry()
	for _, s := range sources {
		reg.Register(source.Entry{Source: s, Timeout: time.Second})
	}
	guard := resilience.NewGuard(1, 1, 1, 5, 30)
	agg := scoring.NewAggregator(h.policy)
	return New(
		h.store,
		source.NewQuerier(reg, guard),
		scoring.NewEvaluator(match.New(), h.policy),
		agg,
		review.NewManager(h.store, agg),
		WithConcurrency(2),
		WithObserver(h.observe),
	)
}

func registry(records map[string]source.FixtureRecord) source.Source {
	return source.NewFixtureSource("NPI Registry", "https://npiregistry.cms.hhs.gov", records)
}

func board(records map[string]source.FixtureRecord) source.Source {
	return source.NewFixtureSource("State Board", "https://board.example.com", records)
}

func byNPI(providers []model.Provider) map[string]model.Provider {
	out := make(map[string]model.Provider, len(providers))
	for _, p := range providers {
		out[p.NPI] = p
	}
	return out
}

func TestRunCSV(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline(
		registry(map[string]source.FixtureRecord{smithNPI: smithRecord, jonesNPI: jonesRecord}),
		board(map[string]source.FixtureRecord{smithNPI: smithRecord}),
	)

	res, err := p.RunCSV(context.Background(), "upload.csv", strings.NewReader(upload))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Created)
	assert.Zero(t, res.Updated)
	require.Len(t, res.Malformed, 1)
	assert.Equal(t, "invalid npi", res.Malformed[0].Reason)

	got := byNPI(res.Providers)
	require.Len(t, got, 2)

	smith := got[smithNPI]
	assert.Equal(t, model.StatusVerified, smith.Status)
	assert.Equal(t, 100, smith.ConfidenceScore)
	require.Len(t, smith.DataSources, 2)
	assert.Equal(t, "NPI Registry", smith.DataSources[0].Name)
	assert.Equal(t, model.SourceMatch, smith.DataSources[1].Status)

	jones := got[jonesNPI]
	assert.Equal(t, model.StatusNeedsReview, jones.Status)
	assert.Equal(t, 56, jones.ConfidenceScore)
	assert.Equal(t, model.SourceNotFound, jones.DataSources[1].Status)
	assert.Equal(t, model.ReasonNoRecord, jones.DataSources[1].Reason)

	b, err := h.store.GetBatch(context.Background(), res.Batch.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchCompleted, b.Status)
	assert.Equal(t, string(StageScore), b.Stage)
	assert.Equal(t, 3, b.Records)
	assert.Equal(t, 1, b.Malformed)
	assert.Equal(t, 1, b.Verified)
	assert.Equal(t, 1, b.NeedsReview)
	assert.NotNil(t, b.CompletedAt)

	stored, err := h.store.GetProviderByNPI(context.Background(), smithNPI)
	require.NoError(t, err)
	assert.Equal(t, res.Batch.ID, stored.BatchID)
}

func TestRunCSV_StageEventsInOrder(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline(registry(map[string]source.FixtureRecord{smithNPI: smithRecord}))

	res, err := p.RunCSV(context.Background(), "upload.csv", strings.NewReader(upload))
	require.NoError(t, err)

	require.Len(t, h.events, 2*len(Stages))
	for i, stage := range Stages {
		started, completed := h.events[2*i], h.events[2*i+1]
		assert.Equal(t, stage, started.Stage)
		assert.Equal(t, StageStarted, started.State)
		assert.Equal(t, stage, completed.Stage)
		assert.Equal(t, StageCompleted, completed.State)
		assert.Equal(t, stage.Label(), completed.Label)
		assert.Equal(t, res.Batch.ID, completed.BatchID)
	}
	assert.Equal(t, "Querying data sources", h.events[4].Label)

	parsed := h.events[1]
	assert.Equal(t, 3, parsed.Processed)
	scored := h.events[len(h.events)-1]
	assert.Equal(t, 2, scored.Processed)
	assert.Equal(t, 2, scored.Total)
}

func TestRunCSV_ReuploadReevaluatesThroughReview(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.pipeline(
		registry(map[string]source.FixtureRecord{smithNPI: smithRecord, jonesNPI: jonesRecord}),
		board(map[string]source.FixtureRecord{smithNPI: smithRecord}),
	)
	_, err := first.RunCSV(ctx, "first.csv", strings.NewReader(upload))
	require.NoError(t, err)

	// The board now knows Jones and has lost Smith.
	second := h.pipeline(
		registry(map[string]source.FixtureRecord{smithNPI: smithRecord, jonesNPI: jonesRecord}),
		board(map[string]source.FixtureRecord{jonesNPI: jonesRecord}),
	)
	res, err := second.RunCSV(ctx, "second.csv", strings.NewReader(upload))
	require.NoError(t, err)
	assert.Zero(t, res.Created)
	assert.Equal(t, 2, res.Updated)

	got := byNPI(res.Providers)
	assert.Equal(t, model.StatusVerified, got[jonesNPI].Status)
	assert.Equal(t, model.StatusNeedsReview, got[smithNPI].Status)

	rm := review.NewManager(h.store, scoring.NewAggregator(h.policy))
	jonesHistory, err := rm.History(ctx, got[jonesNPI].ID)
	require.NoError(t, err)
	require.Len(t, jonesHistory, 1)
	assert.Equal(t, model.ActionPromote, jonesHistory[0].Action)

	smithHistory, err := rm.History(ctx, got[smithNPI].ID)
	require.NoError(t, err)
	require.Len(t, smithHistory, 1)
	assert.Equal(t, model.ActionDemote, smithHistory[0].Action)

	all, err := h.store.ListProviders(ctx, store.ProviderFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRunCSV_ReuploadStoresCorrectedAttributes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	records := map[string]source.FixtureRecord{smithNPI: smithRecord}

	wrong := strings.Replace(upload, "(617) 555-0100", "(999) 555-1234", 1)
	res, err := h.pipeline(registry(records), board(records)).RunCSV(ctx, "first.csv", strings.NewReader(wrong))
	require.NoError(t, err)
	smith := byNPI(res.Providers)[smithNPI]
	assert.Equal(t, "(999) 555-1234", smith.Phone)
	assert.Equal(t, 80, smith.ConfidenceScore)
	assert.False(t, smith.DataSources[0].Fields.Phone)

	res, err = h.pipeline(registry(records), board(records)).RunCSV(ctx, "second.csv", strings.NewReader(upload))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Updated)

	stored, err := h.store.GetProviderByNPI(ctx, smithNPI)
	require.NoError(t, err)
	assert.Equal(t, "(617) 555-0100", stored.Phone)
	assert.Equal(t, 100, stored.ConfidenceScore)
	assert.Equal(t, model.StatusVerified, stored.Status)
	for _, ds := range stored.DataSources {
		assert.True(t, ds.Fields.Phone, ds.Name)
	}

	// A later upload that breaks the phone is stored with the results that
	// reject it.
	res, err = h.pipeline(registry(records), board(records)).RunCSV(ctx, "third.csv", strings.NewReader(wrong))
	require.NoError(t, err)
	stored, err = h.store.GetProviderByNPI(ctx, smithNPI)
	require.NoError(t, err)
	assert.Equal(t, "(999) 555-1234", stored.Phone)
	assert.Equal(t, 80, stored.ConfidenceScore)
	for _, ds := range stored.DataSources {
		assert.False(t, ds.Fields.Phone, ds.Name)
	}
	assert.Equal(t, byNPI(res.Providers)[smithNPI].Phone, stored.Phone)
}

func TestRunFile_UnavailableSource(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()

	fixture := filepath.Join(dir, "board.yaml")
	require.NoError(t, os.WriteFile(fixture, []byte("name: State Board\nunavailable: true\n"), 0o644))
	offline, err := source.LoadFixtureSource(fixture, "", "")
	require.NoError(t, err)

	csvPath := filepath.Join(dir, "upload.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(upload), 0o644))

	p := h.pipeline(registry(map[string]source.FixtureRecord{smithNPI: smithRecord}), offline)
	res, err := p.RunFile(context.Background(), csvPath)
	require.NoError(t, err)
	assert.Equal(t, "upload.csv", res.Batch.FileName)

	for _, prov := range res.Providers {
		assert.Equal(t, model.StatusNeedsReview, prov.Status)
		require.Len(t, prov.DataSources, 2)
		assert.Equal(t, model.SourceNotFound, prov.DataSources[1].Status)
		assert.Equal(t, model.ReasonSourceUnavailable, prov.DataSources[1].Reason)
	}
}

func TestRunCSV_MissingColumnsFailsBatch(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline(registry(nil))

	res, err := p.RunCSV(context.Background(), "bad.csv", strings.NewReader("Name,Phone\nA,1\n"))
	require.Error(t, err)
	require.NotNil(t, res)

	b, gerr := h.store.GetBatch(context.Background(), res.Batch.ID)
	require.NoError(t, gerr)
	assert.Equal(t, model.BatchFailed, b.Status)
	assert.Equal(t, string(StageParse), b.Stage)
	assert.NotEmpty(t, b.Error)
}

func TestRunCSV_CanceledMidBatch(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := h.pipeline(registry(map[string]source.FixtureRecord{smithNPI: smithRecord}))
	p.observers = append(p.observers, func(ev StageEvent) {
		if ev.Stage == StageQuery && ev.State == StageStarted {
			cancel()
		}
	})

	res, err := p.RunCSV(ctx, "upload.csv", strings.NewReader(upload))
	require.Error(t, err)
	assert.True(t, eris.Is(err, context.Canceled))

	b, gerr := h.store.GetBatch(context.Background(), res.Batch.ID)
	require.NoError(t, gerr)
	assert.Equal(t, model.BatchFailed, b.Status)
	assert.Equal(t, string(StageQuery), b.Stage)

	all, lerr := h.store.ListProviders(context.Background(), store.ProviderFilter{})
	require.NoError(t, lerr)
	assert.Empty(t, all)
}

func TestStageLabel(t *testing.T) {
	assert.Equal(t, "Parsing upload", StageParse.Label())
	assert.Equal(t, "Generating confidence scores", StageScore.Label())
	assert.Equal(t, "custom", Stage("custom").Label())
}

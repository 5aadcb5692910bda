package server

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/provider-verify/internal/match"
	"github.com/sells-group/provider-verify/internal/model"
	"github.com/sells-group/provider-verify/internal/monitoring"
	"github.com/sells-group/provider-verify/internal/pipeline"
	"github.com/sells-group/provider-verify/internal/report"
	"github.com/sells-group/provider-verify/internal/resilience"
	"github.com/sells-group/provider-verify/internal/review"
	"github.com/sells-group/provider-verify/internal/scoring"
	"github.com/sells-group/provider-verify/internal/source"
	"github.com/sells-group/provider-verify/internal/store"
)

type testEnv struct {
	store  store.Store
	server *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	policy := scoring.DefaultPolicy()
	policy.Trust = map[string]float64{"NPI Registry": 1.0}
	agg := scoring.NewAggregator(policy)
	rm := review.NewManager(st, agg)

	reg := source.NewRegistry()
	reg.Register(source.Entry{
		Source: source.NewFixtureSource("NPI Registry", "https://npiregistry.cms.hhs.gov", map[string]source.FixtureRecord{
			"1234567893": {
				Name:      "Dr. Jane Smith",
				Phone:     "617-555-0100",
				Address:   "1 Main St, Boston, MA 02110",
				Specialty: "Cardiology",
			},
		}),
		Timeout: time.Second,
	})
	q := source.NewQuerier(reg, resilience.NewGuard(1, 1, 1, 5, 30))
	m := match.New()
	pl := pipeline.New(st, q, scoring.NewEvaluator(m, policy), agg, rm)

	srv := New(Deps{Store: st, Review: rm, Pipeline: pl, Matcher: m, Breakers: q.Breakers()}, Options{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{store: st, server: ts}
}

func (e *testEnv) seed(t *testing.T, npi, name string, score int, status model.Status) *model.Provider {
	t.Helper()
	p := &model.Provider{
		NPI:             npi,
		Name:            name,
		Specialty:       "Cardiology",
		Location:        "Boston, MA",
		State:           "MA",
		Phone:           "(617) 555-0100",
		Status:          status,
		ConfidenceScore: score,
	}
	require.NoError(t, e.store.CreateProvider(context.Background(), p))
	return p
}

func (e *testEnv) do(t *testing.T, method, path string, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() }) //nolint:errcheck
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestListProviders_Filters(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "1234567893", "Dr. Jane Smith", 95, model.StatusVerified)
	env.seed(t, "1245319599", "Dr. Bob Jones", 45, model.StatusNeedsReview)
	env.seed(t, "1999999992", "Dr. Ana Ortiz", 72, model.StatusNeedsReview)

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"Dr. Ana Ortiz", "Dr. Bob Jones", "Dr. Jane Smith"}},
		{"?status=needs_review", []string{"Dr. Ana Ortiz", "Dr. Bob Jones"}},
		{"?q=smith", []string{"Dr. Jane Smith"}},
		{"?min=50&max=80", []string{"Dr. Ana Ortiz"}},
		{"?state=Massachusetts&status=verified", []string{"Dr. Jane Smith"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp := env.do(t, http.MethodGet, "/providers"+tt.query, "")
			require.Equal(t, http.StatusOK, resp.StatusCode)
			var names []string
			for _, p := range decode[[]model.Provider](t, resp) {
				names = append(names, p.Name)
			}
			assert.ElementsMatch(t, tt.want, names)
		})
	}
}

func TestListProviders_BadInput(t *testing.T) {
	env := newTestEnv(t)
	for _, q := range []string{"?status=pending", "?min=abc", "?max=101"} {
		resp := env.do(t, http.MethodGet, "/providers"+q, "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestGetProvider_NotFound(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/providers/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, decode[errorBody](t, resp).Error)
}

func TestApproveAndHistory(t *testing.T) {
	env := newTestEnv(t)
	p := env.seed(t, "1234567893", "Dr. Jane Smith", 72, model.StatusNeedsReview)

	resp := env.do(t, http.MethodPost, "/queue/"+p.ID+"/approve", `{"reviewer":"alice","version":1}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	approved := decode[model.Provider](t, resp)
	assert.Equal(t, model.StatusVerified, approved.Status)
	assert.Equal(t, 72, approved.ConfidenceScore)

	resp = env.do(t, http.MethodGet, "/providers/"+p.ID+"/history", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := decode[[]model.ReviewAction](t, resp)
	require.Len(t, history, 1)
	assert.Equal(t, "alice", history[0].Reviewer)

	// Approving again is stale: the provider left the queue.
	resp = env.do(t, http.MethodPost, "/queue/"+p.ID+"/approve", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestApprove_StaleVersion(t *testing.T) {
	env := newTestEnv(t)
	p := env.seed(t, "1234567893", "Dr. Jane Smith", 72, model.StatusNeedsReview)

	resp := env.do(t, http.MethodPost, "/queue/"+p.ID+"/approve", `{"version":7}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestApprove_BadBody(t *testing.T) {
	env := newTestEnv(t)
	p := env.seed(t, "1234567893", "Dr. Jane Smith", 72, model.StatusNeedsReview)

	resp := env.do(t, http.MethodPost, "/queue/"+p.ID+"/approve", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRejectThenApprove(t *testing.T) {
	env := newTestEnv(t)
	p := env.seed(t, "1245319599", "Dr. Bob Jones", 45, model.StatusNeedsReview)

	resp := env.do(t, http.MethodPost, "/queue/"+p.ID+"/reject", `{"reviewer":"bob","note":"retired"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	action := decode[model.ReviewAction](t, resp)
	assert.Equal(t, model.ActionReject, action.Action)

	resp = env.do(t, http.MethodPost, "/queue/"+p.ID+"/approve", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/providers/"+p.ID, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestQueueAndExport(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "1234567893", "Smith, Jane", 72, model.StatusNeedsReview)
	env.seed(t, "1245319599", "Dr. Bob Jones", 45, model.StatusNeedsReview)
	env.seed(t, "1999999992", "Dr. Ana Ortiz", 95, model.StatusVerified)

	resp := env.do(t, http.MethodGet, "/queue", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	queue := decode[[]model.Provider](t, resp)
	require.Len(t, queue, 2)
	assert.Equal(t, 45, queue[0].ConfidenceScore)

	resp = env.do(t, http.MethodGet, "/queue/export", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/csv")
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "review-queue.csv")

	records, err := csv.NewReader(resp.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "Smith, Jane", records[2][0])
	assert.Equal(t, "72%", records[2][6])
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "1234567893", "A", 95, model.StatusVerified)
	env.seed(t, "1245319599", "B", 45, model.StatusNeedsReview)

	resp := env.do(t, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	s := decode[report.Summary](t, resp)
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 50.0, s.VerifiedPercent)
	assert.Equal(t, 70.0, s.AvgConfidence)
	assert.Equal(t, 1, s.LowConfidence)
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "1234567893", "A", 95, model.StatusVerified)
	env.seed(t, "1245319599", "B", 45, model.StatusNeedsReview)

	resp := env.do(t, http.MethodGet, "/metrics?hours=12", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decode[monitoring.MetricsSnapshot](t, resp)
	assert.Equal(t, 12, snap.LookbackHours)
	assert.Equal(t, 1, snap.ReviewBacklog)
	assert.Equal(t, 1, snap.LowConfidence)
	assert.Empty(t, snap.OpenCircuits)

	resp = env.do(t, http.MethodGet, "/metrics?hours=-1", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadBatch(t *testing.T) {
	env := newTestEnv(t)
	body := "Provider Name,NPI,Specialty,Phone,Address,City,State,ZIP\n" +
		"Dr. Jane Smith,1234567893,Cardiology,(617) 555-0100,1 Main St,Boston,MA,02110\n" +
		"Dr. Bob Jones,1245319599,Family Medicine,(512) 555-0199,200 Congress Ave,Austin,TX,78701\n"

	resp := env.do(t, http.MethodPost, "/batches?name=march.csv", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	res := decode[pipeline.Result](t, resp)
	assert.Equal(t, "march.csv", res.Batch.FileName)
	assert.Equal(t, model.BatchCompleted, res.Batch.Status)
	assert.Equal(t, 1, res.Batch.Verified)
	assert.Equal(t, 1, res.Batch.NeedsReview)

	resp = env.do(t, http.MethodGet, "/batches", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	batches := decode[[]model.Batch](t, resp)
	require.Len(t, batches, 1)

	resp = env.do(t, http.MethodGet, "/batches/"+res.Batch.ID, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/health", "")
	health := decode[map[string]any](t, resp)
	assert.NotEmpty(t, health["sources"])
}

func TestUploadBatch_MissingColumns(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/batches", "Name,Phone\nA,1\n")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadBatch_Disabled(t *testing.T) {
	srv := New(Deps{}, Options{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/batches", bytes.NewBufferString("x")))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	srv := New(Deps{}, Options{AllowedOrigins: []string{"https://app.example.com"}})
	req := httptest.NewRequest(http.MethodOptions, "/queue", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/provider-verify/internal/directory"
	"github.com/sells-group/provider-verify/internal/ingest"
	"github.com/sells-group/provider-verify/internal/model"
	"github.com/sells-group/provider-verify/internal/report"
	"github.com/sells-group/provider-verify/internal/review"
	"github.com/sells-group/provider-verify/internal/store"
)

// badRequest marks client input errors.
type badRequest struct{ msg string }

func (e *badRequest) Error() string { return e.msg }

func invalid(msg string) error { return &badRequest{msg: msg} }

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

// writeError maps domain errors onto status codes: not found and removed
// are 404, stale decisions 409, bad input 400.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var br *badRequest
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &br), eris.Is(err, ingest.ErrMissingColumns):
		status = http.StatusBadRequest
	case eris.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case eris.Is(err, review.ErrStaleState):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		zap.L().Error("server: request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.deps.Breakers != nil {
		body["sources"] = s.deps.Breakers.Snapshot()
	}
	writeJSON(w, http.StatusOK, body)
}

// providerQuery builds the directory predicate from q, status, min, max,
// state and specialty query parameters.
func (s *Server) providerQuery(r *http.Request) (directory.Predicate, error) {
	q := r.URL.Query()
	preds := []directory.Predicate{directory.Search(q.Get("q"))}

	if v := q.Get("status"); v != "" {
		st, ok := model.ParseStatus(v)
		if !ok {
			return nil, invalid("invalid status " + strconv.Quote(v))
		}
		preds = append(preds, directory.ByStatus(st))
	}
	for _, bound := range []struct {
		key  string
		pred func(int) directory.Predicate
	}{
		{"min", directory.MinConfidence},
		{"max", directory.MaxConfidence},
	} {
		v := q.Get(bound.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 100 {
			return nil, invalid(bound.key + " must be an integer between 0 and 100")
		}
		preds = append(preds, bound.pred(n))
	}
	if v := q.Get("state"); v != "" {
		preds = append(preds, directory.ByState(v))
	}
	if v := q.Get("specialty"); v != "" {
		preds = append(preds, directory.BySpecialty(s.deps.Matcher, v))
	}
	return directory.And(preds...), nil
}

func (s *Server) allProviders(r *http.Request) ([]model.Provider, error) {
	return s.deps.Store.ListProviders(r.Context(), store.ProviderFilter{Limit: store.NoLimit})
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	pred, err := s.providerQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	all, err := s.allProviders(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, directory.Filter(all, pred))
}

func (s *Server) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Store.GetProvider(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	actions, err := s.deps.Review.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actions)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	queue, err := s.deps.Review.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queue)
}

func (s *Server) handleQueueExport(w http.ResponseWriter, r *http.Request) {
	queue, err := s.deps.Review.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="review-queue.csv"`)
	if err := report.WriteCSV(w, report.QueueTable(queue)); err != nil {
		zap.L().Warn("server: write queue export", zap.Error(err))
	}
}

// decision reads an optional JSON body of reviewer, note and version.
func decision(r *http.Request) (review.Decision, error) {
	d := review.Decision{ProviderID: chi.URLParam(r, "id")}
	err := json.NewDecoder(r.Body).Decode(&d)
	if err != nil && !errors.Is(err, io.EOF) {
		return d, invalid("invalid request body")
	}
	d.ProviderID = chi.URLParam(r, "id")
	return d, nil
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	d, err := decision(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.deps.Review.Approve(r.Context(), d)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	d, err := decision(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	action, err := s.deps.Review.Reject(r.Context(), d)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	all, err := s.allProviders(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report.Summarize(all))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, invalid("hours must be a positive integer"))
			return
		}
		hours = n
	}
	snap, err := s.metrics.Collect(r.Context(), hours)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, invalid("limit must be a positive integer"))
			return
		}
		limit = n
	}
	batches, err := s.deps.Store.ListBatches(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batches)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	b, err := s.deps.Store.GetBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// handleUpload runs a CSV body through the pipeline and returns the batch
// result.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pipeline == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "uploads are disabled"})
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "upload.csv"
	}
	body := http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	res, err := s.deps.Pipeline.RunCSV(r.Context(), name, body)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			err = invalid("upload exceeds size limit")
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

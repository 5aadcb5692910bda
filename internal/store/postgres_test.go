package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/provider-verify/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var providerCols = []string{
	"id", "npi", "name", "specialty", "location", "phone", "email", "address", "city", "state", "zip",
	"status", "confidence_score", "last_verified", "data_sources", "manual_override", "batch_id", "version",
	"created_at", "updated_at",
}

func providerRow(rows *pgxmock.Rows, id, npi string, score int, status model.Status) *pgxmock.Rows {
	now := time.Date(2024, 12, 16, 10, 30, 0, 0, time.UTC)
	sources := []byte(`[{"name":"NPI Registry","url":"https://npiregistry.cms.hhs.gov","last_checked":"2024-12-16T10:30:00Z","status":"match","confidence":97,"fields":{"name":true,"phone":true,"address":true,"specialty":true}}]`)
	return rows.AddRow(id, npi, "Dr. Sarah Johnson", "Cardiology", "New York, NY", "(212) 555-0123",
		"", "450 Park Avenue", "New York", "NY", "10022", string(status), score, now, sources, false, "",
		int64(3), now, now)
}

func TestPostgresStore_GetProvider(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`(?s)SELECT .* FROM providers WHERE id = \$1`).
		WithArgs("p1").
		WillReturnRows(providerRow(pgxmock.NewRows(providerCols), "p1", "1234567893", 97, model.StatusVerified))

	p, err := s.GetProvider(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "1234567893", p.NPI)
	assert.Equal(t, model.StatusVerified, p.Status)
	assert.Equal(t, int64(3), p.Version)
	require.Len(t, p.DataSources, 1)
	assert.Equal(t, 97, p.DataSources[0].Confidence)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetProvider_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`(?s)SELECT .* FROM providers WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetProvider(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "get provider")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateProvider_Duplicate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO providers`).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value"})

	err := s.CreateProvider(context.Background(), &model.Provider{NPI: "1234567893", Name: "A", Status: model.StatusVerified})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrDuplicate))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListQueue(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows(providerCols)
	providerRow(rows, "b", "1000000003", 45, model.StatusNeedsReview)
	providerRow(rows, "a", "1000000002", 72, model.StatusNeedsReview)

	mock.ExpectQuery(`WHERE 1=1 AND status = \$1 ORDER BY confidence_score ASC, id ASC LIMIT \$2`).
		WithArgs("Needs Review", defaultListLimit).
		WillReturnRows(rows)

	got, err := s.ListProviders(context.Background(), ProviderFilter{Status: model.StatusNeedsReview, ByScore: true})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, 45, got[0].ConfidenceScore)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListNoLimit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows(providerCols)
	providerRow(rows, "a", "1000000002", 91, model.StatusVerified)

	mock.ExpectQuery(`WHERE 1=1 AND status = \$1 ORDER BY id ASC$`).
		WithArgs("Verified").
		WillReturnRows(rows)

	got, err := s.ListProviders(context.Background(), ProviderFilter{Status: model.StatusVerified, Limit: NoLimit})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateProvider(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`(?s)UPDATE providers SET .* WHERE id = \$17 AND version = \$18`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO review_actions`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	p := &model.Provider{ID: "p1", NPI: "1234567893", Status: model.StatusVerified, Version: 3}
	err := s.UpdateProvider(context.Background(), p, &model.ReviewAction{
		ProviderID: "p1",
		Action:     model.ActionApprove,
		FromStatus: model.StatusNeedsReview,
		ToStatus:   model.StatusVerified,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), p.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateProvider_Stale(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE providers SET`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT version FROM providers WHERE id = \$1`).
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(int64(4)))
	mock.ExpectRollback()

	p := &model.Provider{ID: "p1", Version: 3}
	err := s.UpdateProvider(context.Background(), p, &model.ReviewAction{ProviderID: "p1", Action: model.ActionApprove})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrStaleState))
	assert.Equal(t, int64(3), p.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteProvider_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM providers WHERE id = \$1 AND version = \$2`).
		WithArgs("p1", int64(2)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectQuery(`SELECT version FROM providers`).
		WithArgs("p1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err := s.DeleteProvider(context.Background(), "p1", 2, nil)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteProvider(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM providers`).
		WithArgs("p1", int64(2)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`INSERT INTO review_actions`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.DeleteProvider(context.Background(), "p1", 2, &model.ReviewAction{ProviderID: "p1", Action: model.ActionReject})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_HasRejection(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("p1", "reject").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := s.HasRejection(context.Background(), "p1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateBatch_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE batches SET`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateBatch(context.Background(), &model.Batch{ID: "missing"})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS providers`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

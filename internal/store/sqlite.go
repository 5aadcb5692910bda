package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/provider-verify/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// Writes are serialized on a single connection so version checks and their
// audit rows commit atomically without SQLITE_BUSY upgrades.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS providers (
	id               TEXT PRIMARY KEY,
	npi              TEXT NOT NULL UNIQUE,
	name             TEXT NOT NULL,
	specialty        TEXT NOT NULL DEFAULT '',
	location         TEXT NOT NULL DEFAULT '',
	phone            TEXT NOT NULL DEFAULT '',
	email            TEXT NOT NULL DEFAULT '',
	address          TEXT NOT NULL DEFAULT '',
	city             TEXT NOT NULL DEFAULT '',
	state            TEXT NOT NULL DEFAULT '',
	zip              TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL,
	confidence_score INTEGER NOT NULL DEFAULT 0,
	last_verified    DATETIME NOT NULL,
	data_sources     TEXT NOT NULL DEFAULT '[]',
	manual_override  INTEGER NOT NULL DEFAULT 0,
	batch_id         TEXT NOT NULL DEFAULT '',
	version          INTEGER NOT NULL DEFAULT 1,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS review_actions (
	id               TEXT PRIMARY KEY,
	provider_id      TEXT NOT NULL,
	npi              TEXT NOT NULL,
	provider_name    TEXT NOT NULL,
	action           TEXT NOT NULL,
	reviewer         TEXT NOT NULL DEFAULT '',
	note             TEXT NOT NULL DEFAULT '',
	from_status      TEXT NOT NULL,
	to_status        TEXT NOT NULL,
	confidence_score INTEGER NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS batches (
	id           TEXT PRIMARY KEY,
	file_name    TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'processing',
	stage        TEXT NOT NULL DEFAULT '',
	records      INTEGER NOT NULL DEFAULT 0,
	malformed    INTEGER NOT NULL DEFAULT 0,
	verified     INTEGER NOT NULL DEFAULT 0,
	needs_review INTEGER NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_providers_status_score ON providers(status, confidence_score, id);
CREATE INDEX IF NOT EXISTS idx_providers_batch ON providers(batch_id);
CREATE INDEX IF NOT EXISTS idx_review_actions_provider ON review_actions(provider_id, created_at);
CREATE INDEX IF NOT EXISTS idx_batches_created ON batches(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const providerColumns = `id, npi, name, specialty, location, phone, email, address, city, state, zip,
	status, confidence_score, last_verified, data_sources, manual_override, batch_id, version,
	created_at, updated_at`

func (s *SQLiteStore) CreateProvider(ctx context.Context, p *model.Provider) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.Version = 1
	p.CreatedAt = now
	p.UpdatedAt = now

	sources, err := marshalSources(p.DataSources)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal data sources")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO providers (`+providerColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.NPI, p.Name, p.Specialty, p.Location, p.Phone, p.Email, p.Address, p.City, p.State, p.ZIP,
		string(p.Status), p.ConfidenceScore, p.LastVerified.UTC(), string(sources), p.ManualOverride, p.BatchID, p.Version,
		p.CreatedAt, p.UpdatedAt,
	)
	if isSQLiteUnique(err) {
		return eris.Wrapf(ErrDuplicate, "sqlite: insert provider npi %s", p.NPI)
	}
	return eris.Wrapf(err, "sqlite: insert provider %s", p.ID)
}

func (s *SQLiteStore) GetProvider(ctx context.Context, id string) (*model.Provider, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+providerColumns+` FROM providers WHERE id = ?`, id)
	p, err := scanProvider(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get provider %s", id)
	}
	return p, nil
}

func (s *SQLiteStore) GetProviderByNPI(ctx context.Context, npi string) (*model.Provider, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+providerColumns+` FROM providers WHERE npi = ?`, npi)
	p, err := scanProvider(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get provider by npi %s", npi)
	}
	return p, nil
}

func (s *SQLiteStore) ListProviders(ctx context.Context, filter ProviderFilter) ([]model.Provider, error) {
	query := `SELECT ` + providerColumns + ` FROM providers WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.BatchID != "" {
		query += ` AND batch_id = ?`
		args = append(args, filter.BatchID)
	}
	if filter.ByScore {
		query += ` ORDER BY confidence_score ASC, id ASC`
	} else {
		query += ` ORDER BY id ASC`
	}
	switch {
	case filter.Limit >= 0:
		query += ` LIMIT ?`
		args = append(args, listLimit(filter.Limit))
	case filter.Offset > 0:
		// SQLite needs a LIMIT before OFFSET; -1 means unbounded.
		query += ` LIMIT -1`
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list providers")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: list providers scan")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list providers iterate")
}

func (s *SQLiteStore) UpdateProvider(ctx context.Context, p *model.Provider, action *model.ReviewAction) error {
	sources, err := marshalSources(p.DataSources)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal data sources")
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin update provider")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE providers SET name = ?, specialty = ?, location = ?, phone = ?, email = ?, address = ?,
		 city = ?, state = ?, zip = ?, status = ?, confidence_score = ?, last_verified = ?,
		 data_sources = ?, manual_override = ?, batch_id = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		p.Name, p.Specialty, p.Location, p.Phone, p.Email, p.Address,
		p.City, p.State, p.ZIP, string(p.Status), p.ConfidenceScore, p.LastVerified.UTC(),
		string(sources), p.ManualOverride, p.BatchID, now,
		p.ID, p.Version,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update provider %s", p.ID)
	}
	if err := s.checkVersioned(ctx, tx, res, p.ID); err != nil {
		return err
	}
	if err := insertActionSQLite(ctx, tx, action); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrapf(err, "sqlite: commit update provider %s", p.ID)
	}
	p.Version++
	p.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) DeleteProvider(ctx context.Context, id string, version int64, action *model.ReviewAction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin delete provider")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `DELETE FROM providers WHERE id = ? AND version = ?`, id, version)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete provider %s", id)
	}
	if err := s.checkVersioned(ctx, tx, res, id); err != nil {
		return err
	}
	if err := insertActionSQLite(ctx, tx, action); err != nil {
		return err
	}
	return eris.Wrapf(tx.Commit(), "sqlite: commit delete provider %s", id)
}

// checkVersioned turns a zero-row versioned write into ErrNotFound or
// ErrStaleState depending on whether the row still exists.
func (s *SQLiteStore) checkVersioned(ctx context.Context, tx *sql.Tx, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}
	var version int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM providers WHERE id = ?`, id).Scan(&version)
	if err == sql.ErrNoRows {
		return eris.Wrapf(ErrNotFound, "sqlite: provider %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: check provider %s", id)
	}
	return eris.Wrapf(ErrStaleState, "sqlite: provider %s at version %d", id, version)
}

func insertActionSQLite(ctx context.Context, tx *sql.Tx, a *model.ReviewAction) error {
	if a == nil {
		return nil
	}
	prepareAction(a)
	_, err := tx.ExecContext(ctx,
		`INSERT INTO review_actions (id, provider_id, npi, provider_name, action, reviewer, note,
		 from_status, to_status, confidence_score, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ProviderID, a.NPI, a.ProviderName, string(a.Action), a.Reviewer, a.Note,
		string(a.FromStatus), string(a.ToStatus), a.ConfidenceScore, a.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert %s action for %s", a.Action, a.ProviderID)
}

func (s *SQLiteStore) ListActions(ctx context.Context, providerID string) ([]model.ReviewAction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, provider_id, npi, provider_name, action, reviewer, note, from_status, to_status,
		 confidence_score, created_at FROM review_actions WHERE provider_id = ?
		 ORDER BY created_at ASC, rowid ASC`,
		providerID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list actions %s", providerID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ReviewAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan action")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list actions iterate")
}

func (s *SQLiteStore) HasRejection(ctx context.Context, providerID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM review_actions WHERE provider_id = ? AND action = ?)`,
		providerID, string(model.ActionReject),
	).Scan(&exists)
	return exists, eris.Wrapf(err, "sqlite: has rejection %s", providerID)
}

const batchColumns = `id, file_name, status, stage, records, malformed, verified, needs_review, error, created_at, completed_at`

func (s *SQLiteStore) CreateBatch(ctx context.Context, b *model.Batch) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.Status == "" {
		b.Status = model.BatchProcessing
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batches (`+batchColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.FileName, string(b.Status), b.Stage, b.Records, b.Malformed, b.Verified, b.NeedsReview,
		b.Error, b.CreatedAt, nullTime(b.CompletedAt),
	)
	return eris.Wrapf(err, "sqlite: insert batch %s", b.ID)
}

func (s *SQLiteStore) UpdateBatch(ctx context.Context, b *model.Batch) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET status = ?, stage = ?, records = ?, malformed = ?, verified = ?,
		 needs_review = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(b.Status), b.Stage, b.Records, b.Malformed, b.Verified,
		b.NeedsReview, b.Error, nullTime(b.CompletedAt), b.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update batch %s", b.ID)
	}
	return checkRowsAffected(res, "batch", b.ID)
}

func (s *SQLiteStore) GetBatch(ctx context.Context, id string) (*model.Batch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = ?`, id)
	b, err := scanBatch(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get batch %s", id)
	}
	return b, nil
}

func (s *SQLiteStore) ListBatches(ctx context.Context, limit int) ([]model.Batch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+batchColumns+` FROM batches ORDER BY created_at DESC, id DESC LIMIT ?`,
		listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list batches")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan batch")
		}
		out = append(out, *b)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list batches iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func isSQLiteUnique(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanProvider(row scannable) (*model.Provider, error) {
	var p model.Provider
	var status, sources string

	err := row.Scan(&p.ID, &p.NPI, &p.Name, &p.Specialty, &p.Location, &p.Phone, &p.Email,
		&p.Address, &p.City, &p.State, &p.ZIP, &status, &p.ConfidenceScore, &p.LastVerified,
		&sources, &p.ManualOverride, &p.BatchID, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Status = model.Status(status)
	if p.DataSources, err = unmarshalSources([]byte(sources)); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanAction(row scannable) (*model.ReviewAction, error) {
	var a model.ReviewAction
	var action, from, to string
	err := row.Scan(&a.ID, &a.ProviderID, &a.NPI, &a.ProviderName, &action, &a.Reviewer, &a.Note,
		&from, &to, &a.ConfidenceScore, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Action = model.ReviewActionType(action)
	a.FromStatus = model.Status(from)
	a.ToStatus = model.Status(to)
	return &a, nil
}

func scanBatch(row scannable) (*model.Batch, error) {
	var b model.Batch
	var status string
	var completed sql.NullTime
	err := row.Scan(&b.ID, &b.FileName, &status, &b.Stage, &b.Records, &b.Malformed, &b.Verified,
		&b.NeedsReview, &b.Error, &b.CreatedAt, &completed)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.Status = model.BatchStatus(status)
	if completed.Valid {
		t := completed.Time
		b.CompletedAt = &t
	}
	return &b, nil
}

func marshalSources(results []model.DataSourceResult) ([]byte, error) {
	if results == nil {
		results = []model.DataSourceResult{}
	}
	return json.Marshal(results)
}

func unmarshalSources(data []byte) ([]model.DataSourceResult, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var out []model.DataSourceResult
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "unmarshal data sources")
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// prepareAction fills the generated fields of an audit entry.
func prepareAction(a *model.ReviewAction) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
}

package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-verify/internal/model"
)

// Pool is the subset of pgxpool.Pool used by PostgresStore. pgxmock's
// PgxPoolIface satisfies it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS providers (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
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
	confidence_score INTEGER NOT NULL DEFAULT 0 CHECK (confidence_score BETWEEN 0 AND 100),
	last_verified    TIMESTAMPTZ NOT NULL,
	data_sources     JSONB NOT NULL DEFAULT '[]',
	manual_override  BOOLEAN NOT NULL DEFAULT false,
	batch_id         TEXT NOT NULL DEFAULT '',
	version          BIGINT NOT NULL DEFAULT 1,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS review_actions (
	seq              BIGSERIAL,
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	provider_id      TEXT NOT NULL,
	npi              TEXT NOT NULL,
	provider_name    TEXT NOT NULL,
	action           TEXT NOT NULL,
	reviewer         TEXT NOT NULL DEFAULT '',
	note             TEXT NOT NULL DEFAULT '',
	from_status      TEXT NOT NULL,
	to_status        TEXT NOT NULL,
	confidence_score INTEGER NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS batches (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	file_name    TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'processing',
	stage        TEXT NOT NULL DEFAULT '',
	records      INTEGER NOT NULL DEFAULT 0,
	malformed    INTEGER NOT NULL DEFAULT 0,
	verified     INTEGER NOT NULL DEFAULT 0,
	needs_review INTEGER NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_providers_status_score ON providers(status, confidence_score, id);
CREATE INDEX IF NOT EXISTS idx_providers_batch ON providers(batch_id);
CREATE INDEX IF NOT EXISTS idx_review_actions_provider ON review_actions(provider_id, seq);
CREATE INDEX IF NOT EXISTS idx_batches_created ON batches(created_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateProvider(ctx context.Context, p *model.Provider) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.Version = 1
	p.CreatedAt = now
	p.UpdatedAt = now

	sources, err := marshalSources(p.DataSources)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal data sources")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO providers (`+providerColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		p.ID, p.NPI, p.Name, p.Specialty, p.Location, p.Phone, p.Email, p.Address, p.City, p.State, p.ZIP,
		string(p.Status), p.ConfidenceScore, p.LastVerified.UTC(), sources, p.ManualOverride, p.BatchID, p.Version,
		p.CreatedAt, p.UpdatedAt,
	)
	if isPgUnique(err) {
		return eris.Wrapf(ErrDuplicate, "postgres: insert provider npi %s", p.NPI)
	}
	return eris.Wrapf(err, "postgres: insert provider %s", p.ID)
}

func (s *PostgresStore) GetProvider(ctx context.Context, id string) (*model.Provider, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = $1`, id)
	p, err := scanPgProvider(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get provider %s", id)
	}
	return p, nil
}

func (s *PostgresStore) GetProviderByNPI(ctx context.Context, npi string) (*model.Provider, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers WHERE npi = $1`, npi)
	p, err := scanPgProvider(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get provider by npi %s", npi)
	}
	return p, nil
}

func (s *PostgresStore) ListProviders(ctx context.Context, filter ProviderFilter) ([]model.Provider, error) {
	query := `SELECT ` + providerColumns + ` FROM providers WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = ` + placeholder(len(args))
	}
	if filter.BatchID != "" {
		args = append(args, filter.BatchID)
		query += ` AND batch_id = ` + placeholder(len(args))
	}
	if filter.ByScore {
		query += ` ORDER BY confidence_score ASC, id ASC`
	} else {
		query += ` ORDER BY id ASC`
	}
	if filter.Limit >= 0 {
		args = append(args, listLimit(filter.Limit))
		query += ` LIMIT ` + placeholder(len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET ` + placeholder(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list providers")
	}
	defer rows.Close()

	var out []model.Provider
	for rows.Next() {
		p, err := scanPgProvider(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list providers scan")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list providers iterate")
}

func (s *PostgresStore) UpdateProvider(ctx context.Context, p *model.Provider, action *model.ReviewAction) error {
	sources, err := marshalSources(p.DataSources)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal data sources")
	}
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin update provider")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE providers SET name = $1, specialty = $2, location = $3, phone = $4, email = $5, address = $6,
		 city = $7, state = $8, zip = $9, status = $10, confidence_score = $11, last_verified = $12,
		 data_sources = $13, manual_override = $14, batch_id = $15, version = version + 1, updated_at = $16
		 WHERE id = $17 AND version = $18`,
		p.Name, p.Specialty, p.Location, p.Phone, p.Email, p.Address,
		p.City, p.State, p.ZIP, string(p.Status), p.ConfidenceScore, p.LastVerified.UTC(),
		sources, p.ManualOverride, p.BatchID, now,
		p.ID, p.Version,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update provider %s", p.ID)
	}
	if err := checkPgVersioned(ctx, tx, tag, p.ID); err != nil {
		return err
	}
	if err := insertActionPg(ctx, tx, action); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrapf(err, "postgres: commit update provider %s", p.ID)
	}
	p.Version++
	p.UpdatedAt = now
	return nil
}

func (s *PostgresStore) DeleteProvider(ctx context.Context, id string, version int64, action *model.ReviewAction) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin delete provider")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `DELETE FROM providers WHERE id = $1 AND version = $2`, id, version)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete provider %s", id)
	}
	if err := checkPgVersioned(ctx, tx, tag, id); err != nil {
		return err
	}
	if err := insertActionPg(ctx, tx, action); err != nil {
		return err
	}
	return eris.Wrapf(tx.Commit(ctx), "postgres: commit delete provider %s", id)
}

func checkPgVersioned(ctx context.Context, tx pgx.Tx, tag pgconn.CommandTag, id string) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	var version int64
	err := tx.QueryRow(ctx, `SELECT version FROM providers WHERE id = $1`, id).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "postgres: provider %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: check provider %s", id)
	}
	return eris.Wrapf(ErrStaleState, "postgres: provider %s at version %d", id, version)
}

func insertActionPg(ctx context.Context, tx pgx.Tx, a *model.ReviewAction) error {
	if a == nil {
		return nil
	}
	prepareAction(a)
	_, err := tx.Exec(ctx,
		`INSERT INTO review_actions (id, provider_id, npi, provider_name, action, reviewer, note,
		 from_status, to_status, confidence_score, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.ProviderID, a.NPI, a.ProviderName, string(a.Action), a.Reviewer, a.Note,
		string(a.FromStatus), string(a.ToStatus), a.ConfidenceScore, a.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert %s action for %s", a.Action, a.ProviderID)
}

func (s *PostgresStore) ListActions(ctx context.Context, providerID string) ([]model.ReviewAction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, provider_id, npi, provider_name, action, reviewer, note, from_status, to_status,
		 confidence_score, created_at FROM review_actions WHERE provider_id = $1 ORDER BY seq ASC`,
		providerID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list actions %s", providerID)
	}
	defer rows.Close()

	var out []model.ReviewAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan action")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list actions iterate")
}

func (s *PostgresStore) HasRejection(ctx context.Context, providerID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM review_actions WHERE provider_id = $1 AND action = $2)`,
		providerID, string(model.ActionReject),
	).Scan(&exists)
	return exists, eris.Wrapf(err, "postgres: has rejection %s", providerID)
}

func (s *PostgresStore) CreateBatch(ctx context.Context, b *model.Batch) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.Status == "" {
		b.Status = model.BatchProcessing
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO batches (`+batchColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		b.ID, b.FileName, string(b.Status), b.Stage, b.Records, b.Malformed, b.Verified, b.NeedsReview,
		b.Error, b.CreatedAt, b.CompletedAt,
	)
	return eris.Wrapf(err, "postgres: insert batch %s", b.ID)
}

func (s *PostgresStore) UpdateBatch(ctx context.Context, b *model.Batch) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE batches SET status = $1, stage = $2, records = $3, malformed = $4, verified = $5,
		 needs_review = $6, error = $7, completed_at = $8 WHERE id = $9`,
		string(b.Status), b.Stage, b.Records, b.Malformed, b.Verified,
		b.NeedsReview, b.Error, b.CompletedAt, b.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update batch %s", b.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: batch %s", b.ID)
	}
	return nil
}

func (s *PostgresStore) GetBatch(ctx context.Context, id string) (*model.Batch, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = $1`, id)
	b, err := scanPgBatch(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get batch %s", id)
	}
	return b, nil
}

func (s *PostgresStore) ListBatches(ctx context.Context, limit int) ([]model.Batch, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+batchColumns+` FROM batches ORDER BY created_at DESC, id DESC LIMIT $1`,
		listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list batches")
	}
	defer rows.Close()

	var out []model.Batch
	for rows.Next() {
		b, err := scanPgBatch(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan batch")
		}
		out = append(out, *b)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list batches iterate")
}

func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func isPgUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func scanPgProvider(row pgx.Row) (*model.Provider, error) {
	var p model.Provider
	var status string
	var sources []byte

	err := row.Scan(&p.ID, &p.NPI, &p.Name, &p.Specialty, &p.Location, &p.Phone, &p.Email,
		&p.Address, &p.City, &p.State, &p.ZIP, &status, &p.ConfidenceScore, &p.LastVerified,
		&sources, &p.ManualOverride, &p.BatchID, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Status = model.Status(status)
	if p.DataSources, err = unmarshalSources(sources); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPgBatch(row pgx.Row) (*model.Batch, error) {
	var b model.Batch
	var status string
	err := row.Scan(&b.ID, &b.FileName, &status, &b.Stage, &b.Records, &b.Malformed, &b.Verified,
		&b.NeedsReview, &b.Error, &b.CreatedAt, &b.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.Status = model.BatchStatus(status)
	return &b, nil
}

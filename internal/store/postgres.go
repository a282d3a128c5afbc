package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/tender-sync/internal/db"
	"github.com/sells-group/tender-sync/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, poolCfg)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS entities (
	registration_id TEXT PRIMARY KEY,
	name            TEXT,
	region          TEXT,
	city            TEXT,
	institution     TEXT,
	address         TEXT,
	contact_name    TEXT,
	phone           TEXT,
	email           TEXT,
	history         JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_entities_region ON entities(region);

CREATE TABLE IF NOT EXISTS sync_runs (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	kind         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	summary      JSONB NOT NULL DEFAULT '{}'::jsonb,
	error        TEXT,
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_source ON sync_runs(source, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at DESC);
`

// Migrate creates the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, postgresMigration)
		return eris.Wrap(err, "postgres: migrate")
	})
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// The history CASE appends the entry only when no equal element is present.
// xmax is 0 only for freshly inserted tuples.
const upsertEntitySQL = `INSERT INTO entities (
	registration_id, name, region, city, institution, address, contact_name, phone, email, history
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, jsonb_build_array($10::jsonb))
ON CONFLICT (registration_id) DO UPDATE SET
	name = EXCLUDED.name,
	region = EXCLUDED.region,
	city = EXCLUDED.city,
	institution = EXCLUDED.institution,
	address = EXCLUDED.address,
	contact_name = EXCLUDED.contact_name,
	phone = EXCLUDED.phone,
	email = EXCLUDED.email,
	history = CASE
		WHEN entities.history @> jsonb_build_array($10::jsonb) THEN entities.history
		ELSE entities.history || jsonb_build_array($10::jsonb)
	END,
	updated_at = now()
RETURNING (xmax = 0) AS created`

// UpsertEntity writes u in a single statement.
func (s *PostgresStore) UpsertEntity(ctx context.Context, u EntityUpsert) (bool, error) {
	entry, err := entryJSON(u.Entry)
	if err != nil {
		return false, err
	}
	p := u.Profile
	var created bool
	err = s.pool.QueryRow(ctx, upsertEntitySQL,
		u.RegistrationID, p.Name, p.Region, p.City, p.Institution, p.Address,
		p.ContactName, p.Phone, p.Email, entry,
	).Scan(&created)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: upsert entity %s", u.RegistrationID)
	}
	return created, nil
}

const entityColumns = `registration_id, name, region, city, institution, address, contact_name, phone, email, history, created_at, updated_at`

// GetEntity returns the entity or ErrNotFound.
func (s *PostgresStore) GetEntity(ctx context.Context, registrationID string) (*model.Entity, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE registration_id = $1`, registrationID)
	e, err := scanPgEntity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "entity %s", registrationID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get entity")
	}
	return e, nil
}

// ListEntities returns entities ordered by registration id.
func (s *PostgresStore) ListEntities(ctx context.Context, filter EntityFilter) ([]model.Entity, error) {
	where, args := pgEntityWhere(filter)
	args = append(args, filter.limit(), max(filter.Offset, 0))
	query := fmt.Sprintf(`SELECT %s FROM entities%s ORDER BY registration_id LIMIT $%d OFFSET $%d`,
		entityColumns, where, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list entities")
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		e, err := scanPgEntity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan entity")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list entities")
}

// CountEntities counts entities matching filter, ignoring paging.
func (s *PostgresStore) CountEntities(ctx context.Context, filter EntityFilter) (int, error) {
	where, args := pgEntityWhere(filter)
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM entities`+where, args...).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count entities")
	}
	return n, nil
}

func pgEntityWhere(filter EntityFilter) (string, []any) {
	var conds []string
	var args []any
	if filter.Region != "" {
		args = append(args, filter.Region)
		conds = append(conds, fmt.Sprintf("region = $%d", len(args)))
	}
	if !filter.UpdatedSince.IsZero() {
		args = append(args, filter.UpdatedSince)
		conds = append(conds, fmt.Sprintf("updated_at > $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanPgEntity(row pgx.Row) (*model.Entity, error) {
	var e model.Entity
	var history []byte
	err := row.Scan(&e.RegistrationID, &e.Name, &e.Region, &e.City, &e.Institution,
		&e.Address, &e.ContactName, &e.Phone, &e.Email, &history, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(history, &e.History); err != nil {
		return nil, eris.Wrap(err, "unmarshal history")
	}
	return &e, nil
}

// StartRun records a running sync for source.
func (s *PostgresStore) StartRun(ctx context.Context, source model.Source) (*model.Run, error) {
	run := &model.Run{
		ID:        uuid.New().String(),
		Source:    source.Name,
		Kind:      source.Kind,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_runs (id, source, kind, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.Source, string(run.Kind), string(run.Status), run.StartedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: start run")
	}
	return run, nil
}

// CompleteRun marks a run complete with its summary.
func (s *PostgresStore) CompleteRun(ctx context.Context, id string, summary model.Summary) error {
	return s.finishRun(ctx, id, model.RunStatusComplete, summary, nil)
}

// FailRun marks a run failed.
func (s *PostgresStore) FailRun(ctx context.Context, id string, summary model.Summary, cause error) error {
	return s.finishRun(ctx, id, model.RunStatusFailed, summary, cause)
}

func (s *PostgresStore) finishRun(ctx context.Context, id string, status model.RunStatus, summary model.Summary, cause error) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_runs SET status = $1, summary = $2, error = $3, completed_at = $4 WHERE id = $5`,
		string(status), body, errorText(cause), time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", id)
	}
	return nil
}

// ListRuns returns runs newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	var conds []string
	var args []any
	if filter.Source != "" {
		args = append(args, filter.Source)
		conds = append(conds, fmt.Sprintf("source = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		conds = append(conds, fmt.Sprintf("started_at >= $%d", len(args)))
	}
	query := `SELECT id, source, kind, status, summary, error, started_at, completed_at FROM sync_runs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, filter.limit())
	query += fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []model.Run
	for rows.Next() {
		var r model.Run
		var kind, status string
		var summary []byte
		var errText *string
		if err := rows.Scan(&r.ID, &r.Source, &kind, &status, &summary, &errText, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Kind = model.Kind(kind)
		r.Status = model.RunStatus(status)
		r.Error = model.Deref(errText)
		if len(summary) > 0 {
			if err := json.Unmarshal(summary, &r.Summary); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal summary")
			}
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list runs")
}

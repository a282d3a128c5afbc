package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/tender-sync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It uses a single
// connection; upserts run as read-then-write inside an immediate transaction.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", withTxLock(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// withTxLock makes BEGIN take the write lock up front so concurrent
// processes serialize on the read-then-write.
func withTxLock(dsn string) string {
	if strings.Contains(dsn, "_txlock=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_txlock=immediate"
}

const sqliteMigration = `
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
	history         TEXT NOT NULL DEFAULT '[]',
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entities_region ON entities(region);

CREATE TABLE IF NOT EXISTS sync_runs (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	kind         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	summary      TEXT NOT NULL DEFAULT '{}',
	error        TEXT,
	started_at   DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_source ON sync_runs(source, started_at);
CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at);
`

// Migrate creates the schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertEntity reads the entity and writes it back inside one transaction.
func (s *SQLiteStore) UpsertEntity(ctx context.Context, u EntityUpsert) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	existing, err := scanSQLiteEntity(tx.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE registration_id = ?`, u.RegistrationID))
	created := errors.Is(err, sql.ErrNoRows)
	if err != nil && !created {
		return false, eris.Wrapf(err, "sqlite: read entity %s", u.RegistrationID)
	}

	if created {
		existing = &model.Entity{RegistrationID: u.RegistrationID, CreatedAt: now}
	}
	existing.Apply(u.Profile, u.Entry)
	history, err := json.Marshal(existing.History)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal history")
	}

	p := existing.Profile
	if created {
		_, err = tx.ExecContext(ctx, `INSERT INTO entities (`+entityColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			u.RegistrationID, p.Name, p.Region, p.City, p.Institution, p.Address,
			p.ContactName, p.Phone, p.Email, string(history), now, now)
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE entities SET
			name = ?, region = ?, city = ?, institution = ?, address = ?,
			contact_name = ?, phone = ?, email = ?, history = ?, updated_at = ?
			WHERE registration_id = ?`,
			p.Name, p.Region, p.City, p.Institution, p.Address,
			p.ContactName, p.Phone, p.Email, string(history), now, u.RegistrationID)
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: write entity %s", u.RegistrationID)
	}
	if err := tx.Commit(); err != nil {
		return false, eris.Wrap(err, "sqlite: commit")
	}
	return created, nil
}

// GetEntity returns the entity or ErrNotFound.
func (s *SQLiteStore) GetEntity(ctx context.Context, registrationID string) (*model.Entity, error) {
	e, err := scanSQLiteEntity(s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE registration_id = ?`, registrationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "entity %s", registrationID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get entity")
	}
	return e, nil
}

// ListEntities returns entities ordered by registration id.
func (s *SQLiteStore) ListEntities(ctx context.Context, filter EntityFilter) ([]model.Entity, error) {
	where, args := sqliteEntityWhere(filter)
	args = append(args, filter.limit(), max(filter.Offset, 0))
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities`+where+` ORDER BY registration_id LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list entities")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Entity
	for rows.Next() {
		e, err := scanSQLiteEntity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan entity")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list entities")
}

// CountEntities counts entities matching filter, ignoring paging.
func (s *SQLiteStore) CountEntities(ctx context.Context, filter EntityFilter) (int, error) {
	where, args := sqliteEntityWhere(filter)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM entities`+where, args...).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count entities")
	}
	return n, nil
}

func sqliteEntityWhere(filter EntityFilter) (string, []any) {
	var conds []string
	var args []any
	if filter.Region != "" {
		conds = append(conds, "region = ?")
		args = append(args, filter.Region)
	}
	if !filter.UpdatedSince.IsZero() {
		conds = append(conds, "updated_at > ?")
		args = append(args, filter.UpdatedSince.UTC())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteEntity(row scannable) (*model.Entity, error) {
	var e model.Entity
	var history string
	err := row.Scan(&e.RegistrationID, &e.Name, &e.Region, &e.City, &e.Institution,
		&e.Address, &e.ContactName, &e.Phone, &e.Email, &history, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(history), &e.History); err != nil {
		return nil, eris.Wrap(err, "unmarshal history")
	}
	return &e, nil
}

// StartRun records a running sync for source.
func (s *SQLiteStore) StartRun(ctx context.Context, source model.Source) (*model.Run, error) {
	run := &model.Run{
		ID:        uuid.New().String(),
		Source:    source.Name,
		Kind:      source.Kind,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, source, kind, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Source, string(run.Kind), string(run.Status), run.StartedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: start run")
	}
	return run, nil
}

// CompleteRun marks a run complete with its summary.
func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, summary model.Summary) error {
	return s.finishRun(ctx, id, model.RunStatusComplete, summary, nil)
}

// FailRun marks a run failed.
func (s *SQLiteStore) FailRun(ctx context.Context, id string, summary model.Summary, cause error) error {
	return s.finishRun(ctx, id, model.RunStatusFailed, summary, cause)
}

func (s *SQLiteStore) finishRun(ctx context.Context, id string, status model.RunStatus, summary model.Summary, cause error) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET status = ?, summary = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(status), string(body), errorText(cause), time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", id)
	}
	return checkRowsAffected(res, "run", id)
}

// ListRuns returns runs newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	var conds []string
	var args []any
	if filter.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, filter.Source)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "started_at >= ?")
		args = append(args, filter.Since.UTC())
	}
	query := `SELECT id, source, kind, status, summary, error, started_at, completed_at FROM sync_runs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, filter.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Run
	for rows.Next() {
		var r model.Run
		var kind, status, summary string
		var errText sql.NullString
		var completed sql.NullTime
		if err := rows.Scan(&r.ID, &r.Source, &kind, &status, &summary, &errText, &r.StartedAt, &completed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r.Kind = model.Kind(kind)
		r.Status = model.RunStatus(status)
		r.Error = errText.String
		if completed.Valid {
			t := completed.Time
			r.CompletedAt = &t
		}
		if err := json.Unmarshal([]byte(summary), &r.Summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal summary")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list runs")
}

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

// Package store persists entities and the sync run log.
package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tender-sync/internal/db"
	"github.com/sells-group/tender-sync/internal/model"
)

// ErrNotFound is returned when a requested entity or run does not exist.
var ErrNotFound = eris.New("not found")

// EntityUpsert is one row's write to the aggregate: the profile overwrites the
// stored one and Entry is appended unless an equal entry exists.
type EntityUpsert struct {
	RegistrationID string
	Profile        model.Profile
	Entry          model.HistoryEntry
}

// EntityFilter specifies criteria for listing entities. A non-zero
// UpdatedSince keeps only entities updated strictly after it.
type EntityFilter struct {
	Region       string    `json:"region,omitempty"`
	UpdatedSince time.Time `json:"updated_since,omitempty"`
	Limit        int       `json:"limit,omitempty"`
	Offset       int       `json:"offset,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Source string          `json:"source,omitempty"`
	Status model.RunStatus `json:"status,omitempty"`
	Since  time.Time       `json:"since,omitempty"`
	Limit  int             `json:"limit,omitempty"`
}

// EntityStore is the aggregate store. UpsertEntity is atomic per entity.
type EntityStore interface {
	UpsertEntity(ctx context.Context, u EntityUpsert) (created bool, err error)
	GetEntity(ctx context.Context, registrationID string) (*model.Entity, error)
	ListEntities(ctx context.Context, filter EntityFilter) ([]model.Entity, error)
	CountEntities(ctx context.Context, filter EntityFilter) (int, error)
}

// RunLog records one row per source run.
type RunLog interface {
	StartRun(ctx context.Context, source model.Source) (*model.Run, error)
	CompleteRun(ctx context.Context, id string, summary model.Summary) error
	FailRun(ctx context.Context, id string, summary model.Summary, cause error) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
}

// Store defines the persistence interface for the sync pipeline.
type Store interface {
	EntityStore
	RunLog

	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the store for driver ("postgres" or "sqlite").
func Open(ctx context.Context, driver, dsn string, poolCfg *db.PoolConfig) (Store, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "":
		return NewPostgres(ctx, dsn, poolCfg)
	case "sqlite":
		return NewSQLite(dsn)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func (f EntityFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultListLimit
	case f.Limit > maxListLimit:
		return maxListLimit
	default:
		return f.Limit
	}
}

func (f RunFilter) limit() int {
	if f.Limit <= 0 || f.Limit > maxListLimit {
		return defaultListLimit
	}
	return f.Limit
}

// entryJSON serializes a history entry with every key present, so JSON
// containment in Postgres is equivalent to structural equality.
func entryJSON(e model.HistoryEntry) (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", eris.Wrap(err, "marshal history entry")
	}
	return string(b), nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Package reconcile folds enriched rows into the entity aggregate store.
package reconcile

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tender-sync/internal/model"
	"github.com/sells-group/tender-sync/internal/store"
)

// PersistenceError is a per-row upsert failure. The row is counted as failed
// and the batch continues.
type PersistenceError struct {
	Row            int
	RegistrationID string
	Err            error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist row %d (%s): %v", e.Row, e.RegistrationID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Reconciler applies rows to an EntityStore one at a time.
type Reconciler struct {
	store   store.EntityStore
	columns map[model.Kind]model.Columns
	log     *zap.Logger
}

// New creates a Reconciler. Kinds missing from columns use the default
// column mapping.
func New(st store.EntityStore, columns map[model.Kind]model.Columns) *Reconciler {
	resolved := make(map[model.Kind]model.Columns, len(model.Kinds))
	for _, k := range model.Kinds {
		resolved[k] = columns[k].Merge(model.DefaultColumns(k))
	}
	return &Reconciler{
		store:   st,
		columns: resolved,
		log:     zap.L().With(zap.String("component", "reconcile")),
	}
}

// Reconcile upserts every row that has a registration id. Rows without one
// are skipped. A failed row never stops the loop.
func (r *Reconciler) Reconcile(ctx context.Context, rows []model.EnrichedRow) model.Summary {
	var sum model.Summary
	for _, row := range rows {
		sum.Processed++
		if row.RegistrationID == nil {
			sum.Skipped++
			continue
		}

		rec, err := model.NewRecord(row, r.columns[row.Kind])
		if err != nil {
			perr := &PersistenceError{Row: row.Raw.Index, RegistrationID: *row.RegistrationID, Err: err}
			sum.AddError(perr.Error())
			r.log.Warn("reconcile: row rejected", zap.Int("row", row.Raw.Index), zap.Error(err))
			continue
		}

		entry, err := BuildEntry(rec)
		if err != nil {
			perr := &PersistenceError{Row: row.Raw.Index, RegistrationID: rec.RegistrationID(), Err: err}
			sum.AddError(perr.Error())
			r.log.Error("reconcile: row rejected", zap.Int("row", row.Raw.Index), zap.Error(err))
			continue
		}

		u := store.EntityUpsert{
			RegistrationID: rec.RegistrationID(),
			Profile:        rec.EntityProfile(),
			Entry:          entry,
		}
		created, err := r.store.UpsertEntity(ctx, u)
		if err != nil {
			perr := &PersistenceError{Row: row.Raw.Index, RegistrationID: u.RegistrationID, Err: err}
			sum.AddError(perr.Error())
			r.log.Error("reconcile: upsert failed",
				zap.Int("row", row.Raw.Index),
				zap.String("registration_id", u.RegistrationID),
				zap.Error(err),
			)
			continue
		}
		if created {
			sum.Created++
		} else {
			sum.Updated++
		}
	}

	r.log.Info("reconcile: batch complete",
		zap.Int("processed", sum.Processed),
		zap.Int("created", sum.Created),
		zap.Int("updated", sum.Updated),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed),
	)
	return sum
}

// BuildEntry derives the history entry for a record. Record variants other
// than *ContractRow and *ForecastRow are an error.
func BuildEntry(rec model.Record) (model.HistoryEntry, error) {
	switch r := rec.(type) {
	case *model.ContractRow:
		title := model.UntitledLot
		if r.LotTitle != nil {
			title = *r.LotTitle
		}
		return model.HistoryEntry{
			Kind:         model.KindContracts,
			Title:        title,
			Amount:       ParseAmount(r.Amount),
			Currency:     model.DefaultCurrency,
			Status:       model.StatusActive,
			Date:         NormalizeDate(r.PublishedAt),
			Counterparty: r.Supplier,
		}, nil
	case *model.ForecastRow:
		title := model.UntitledLot
		if r.Subject != nil {
			title = *r.Subject
		}
		return model.HistoryEntry{
			Kind:     model.KindForecast,
			Title:    title,
			Amount:   ParseAmount(r.ExpectedValue),
			Currency: model.DefaultCurrency,
			Status:   model.StatusPlanned,
			Date:     NormalizeDate(r.PlannedDate),
		}, nil
	default:
		return model.HistoryEntry{}, eris.Errorf("reconcile: unhandled record type %T", rec)
	}
}

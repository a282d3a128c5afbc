// Package export writes the aggregate store to an xlsx workbook.
package export

import (
	"context"
	"io"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/tender-sync/internal/model"
	"github.com/sells-group/tender-sync/internal/store"
)

// Sheet names.
const (
	EntitiesSheet = "Entities"
	HistorySheet  = "History"
)

const pageSize = 500

var (
	entityHeader  = []string{"Registration ID", "Name", "Region", "City", "Institution", "Address", "Contact", "Phone", "Email", "Entries", "Updated"}
	historyHeader = []string{"Registration ID", "Kind", "Title", "Amount", "Currency", "Status", "Date", "Counterparty"}
)

// Load pages through every entity matching region.
func Load(ctx context.Context, st store.EntityStore, region string) ([]model.Entity, error) {
	var all []model.Entity
	for offset := 0; ; offset += pageSize {
		page, err := st.ListEntities(ctx, store.EntityFilter{Region: region, Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, eris.Wrap(err, "export: list entities")
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}

// Build lays out entities as a workbook with a profile sheet and a history
// sheet.
func Build(entities []model.Entity) (*xlsx.File, error) {
	f := xlsx.NewFile()
	profiles, err := f.AddSheet(EntitiesSheet)
	if err != nil {
		return nil, eris.Wrap(err, "export: add entities sheet")
	}
	history, err := f.AddSheet(HistorySheet)
	if err != nil {
		return nil, eris.Wrap(err, "export: add history sheet")
	}

	addStrings(profiles.AddRow(), entityHeader...)
	addStrings(history.AddRow(), historyHeader...)

	for _, e := range entities {
		row := profiles.AddRow()
		addStrings(row, e.RegistrationID,
			model.Deref(e.Name), model.Deref(e.Region), model.Deref(e.City),
			model.Deref(e.Institution), model.Deref(e.Address), model.Deref(e.ContactName),
			model.Deref(e.Phone), model.Deref(e.Email))
		row.AddCell().SetInt(len(e.History))
		addStrings(row, formatTime(e.UpdatedAt))

		for _, h := range e.History {
			hr := history.AddRow()
			addStrings(hr, e.RegistrationID, h.Kind.String(), h.Title)
			amount := hr.AddCell()
			if h.Amount != nil {
				amount.SetFloat(*h.Amount)
			}
			addStrings(hr, h.Currency, h.Status, model.Deref(h.Date), model.Deref(h.Counterparty))
		}
	}
	return f, nil
}

// Write builds the workbook and writes it to w.
func Write(w io.Writer, entities []model.Entity) error {
	f, err := Build(entities)
	if err != nil {
		return err
	}
	return eris.Wrap(f.Write(w), "export: write workbook")
}

// Save builds the workbook and saves it to path.
func Save(path string, entities []model.Entity) error {
	f, err := Build(entities)
	if err != nil {
		return err
	}
	return eris.Wrapf(f.Save(path), "export: save %s", path)
}

func addStrings(row *xlsx.Row, values ...string) {
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// FormatAmount renders an amount the way the export's numeric cells display it.
func FormatAmount(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

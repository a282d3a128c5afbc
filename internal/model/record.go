package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Profile is the last-write-wins part of an Entity.
type Profile struct {
	Name        *string `json:"name"`
	Region      *string `json:"region"`
	City        *string `json:"city"`
	Institution *string `json:"institution"`
	Address     *string `json:"address"`
	ContactName *string `json:"contact_name"`
	Phone       *string `json:"phone"`
	Email       *string `json:"email"`
}

// Record is a typed, kind-specific view of an enriched row. It is implemented
// only by *ContractRow and *ForecastRow.
type Record interface {
	RegistrationID() string
	EntityProfile() Profile
	record()
}

// ContractRow is a row from a contracts export.
type ContractRow struct {
	RegID        string
	Profile      Profile
	LotTitle     *string // lot title column, falling back to the detail page heading
	Amount       *string
	PublishedAt  *string
	Supplier     *string
	SourceRowIdx int
}

// ForecastRow is a row from a procurement-plan (forecast) export.
type ForecastRow struct {
	RegID         string
	Profile       Profile
	Subject       *string
	ExpectedValue *string
	PlannedDate   *string
	SourceRowIdx  int
}

func (r *ContractRow) RegistrationID() string { return r.RegID }
func (r *ContractRow) EntityProfile() Profile { return r.Profile }
func (*ContractRow) record()                  {}

func (r *ForecastRow) RegistrationID() string { return r.RegID }
func (r *ForecastRow) EntityProfile() Profile { return r.Profile }
func (*ForecastRow) record()                  {}

// OrganizerName returns the name part of a composite "<name> | <id> | ..."
// organizer value.
func OrganizerName(organizer string) *string {
	name, _, _ := strings.Cut(organizer, "|")
	return StringPtr(name)
}

// NewRecord converts an enriched row into its kind-specific record using the
// given column mapping. Rows without a registration id cannot be converted.
func NewRecord(row EnrichedRow, cols Columns) (Record, error) {
	if row.RegistrationID == nil {
		return nil, eris.Errorf("row %d: missing registration id", row.Raw.Index)
	}

	raw := row.Raw
	profile := Profile{
		Name:        OrganizerName(raw.Get(cols.Organizer)),
		Region:      raw.Value(cols.Region),
		City:        raw.Value(cols.City),
		Institution: raw.Value(cols.Institution),
		Address:     raw.Value(cols.Address),
		ContactName: row.Contact.ContactName,
		Phone:       row.Contact.Phone,
		Email:       row.Contact.Email,
	}

	switch row.Kind {
	case KindContracts:
		title := raw.Value(cols.Title)
		if title == nil {
			title = row.Contact.LotTitle
		}
		published := raw.Value(cols.Date)
		if published == nil {
			published = row.Contact.LotDate
		}
		return &ContractRow{
			RegID:        *row.RegistrationID,
			Profile:      profile,
			LotTitle:     title,
			Amount:       raw.Value(cols.Amount),
			PublishedAt:  published,
			Supplier:     raw.Value(cols.Counterparty),
			SourceRowIdx: raw.Index,
		}, nil
	case KindForecast:
		subject := raw.Value(cols.Title)
		if subject == nil {
			subject = row.Contact.LotTitle
		}
		planned := raw.Value(cols.Date)
		if planned == nil {
			planned = row.Contact.LotDate
		}
		return &ForecastRow{
			RegID:         *row.RegistrationID,
			Profile:       profile,
			Subject:       subject,
			ExpectedValue: raw.Value(cols.Amount),
			PlannedDate:   planned,
			SourceRowIdx:  raw.Index,
		}, nil
	default:
		return nil, eris.Errorf("row %d: unknown kind %q", raw.Index, row.Kind)
	}
}

package model

import "time"

// Status tags used on history entries.
const (
	StatusActive  = "active"
	StatusPlanned = "planned"
)

// DefaultCurrency is the currency code recorded on every history entry.
const DefaultCurrency = "UAH"

// UntitledLot is the history title used when a contract row has no lot title.
const UntitledLot = "Untitled lot"

// HistoryEntry is one tender, lot or plan item associated with an entity.
// Entries are compared by full structural equality; Date is always a
// normalized YYYY-MM-DD string so that formatting drift does not create
// duplicates.
type HistoryEntry struct {
	Kind         Kind     `json:"kind"`
	Title        string   `json:"title"`
	Amount       *float64 `json:"amount"`
	Currency     string   `json:"currency"`
	Status       string   `json:"status"`
	Date         *string  `json:"date"`
	Counterparty *string  `json:"counterparty"`
}

// Equal reports whether two entries carry identical field values.
func (h HistoryEntry) Equal(o HistoryEntry) bool {
	return h.Kind == o.Kind &&
		h.Title == o.Title &&
		h.Currency == o.Currency &&
		h.Status == o.Status &&
		floatPtrEqual(h.Amount, o.Amount) &&
		stringPtrEqual(h.Date, o.Date) &&
		stringPtrEqual(h.Counterparty, o.Counterparty)
}

// Entity is the persisted aggregate for one registration id.
type Entity struct {
	RegistrationID string `json:"registration_id"`
	Profile
	History   []HistoryEntry `json:"history"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// HasEntry reports whether an equal entry is already in the history.
func (e *Entity) HasEntry(entry HistoryEntry) bool {
	for _, h := range e.History {
		if h.Equal(entry) {
			return true
		}
	}
	return false
}

// Apply overwrites the profile and appends entry unless an equal entry is
// already present. Returns true if the entry was appended.
func (e *Entity) Apply(p Profile, entry HistoryEntry) bool {
	e.Profile = p
	if e.HasEntry(entry) {
		return false
	}
	e.History = append(e.History, entry)
	return true
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

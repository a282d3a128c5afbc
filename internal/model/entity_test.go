package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func amount(v float64) *float64 { return &v }

func TestHistoryEntry_Equal(t *testing.T) {
	t.Parallel()

	base := HistoryEntry{
		Kind:     KindContracts,
		Title:    "Paper",
		Amount:   amount(10.5),
		Currency: DefaultCurrency,
		Status:   StatusActive,
		Date:     StringPtr("2024-03-02"),
	}

	same := base
	same.Amount = amount(10.5)
	same.Date = StringPtr("2024-03-02")
	assert.True(t, base.Equal(same))

	other := base
	other.Amount = nil
	assert.False(t, base.Equal(other))

	other = base
	other.Counterparty = StringPtr("X")
	assert.False(t, base.Equal(other))

	other = base
	other.Kind = KindForecast
	assert.False(t, base.Equal(other))
}

func TestEntity_Apply(t *testing.T) {
	t.Parallel()

	e := &Entity{RegistrationID: "1"}
	entry := HistoryEntry{Kind: KindContracts, Title: "A", Currency: DefaultCurrency, Status: StatusActive}

	assert.True(t, e.Apply(Profile{Phone: StringPtr("+380441234567")}, entry))
	assert.False(t, e.Apply(Profile{Phone: StringPtr("+380449999999")}, entry))
	assert.Len(t, e.History, 1)
	assert.Equal(t, "+380449999999", Deref(e.Phone))

	e.Apply(Profile{}, entry)
	assert.Nil(t, e.Phone, "profile overwrite is unconditional")
}

func TestSummary_MergeAndRate(t *testing.T) {
	t.Parallel()

	var s Summary
	s.Merge(Summary{Processed: 4, Created: 1, Updated: 2, Skipped: 1})
	s.Merge(Summary{Processed: 4, Failed: 2, Errors: []string{"boom"}})

	assert.Equal(t, 8, s.Processed)
	assert.Equal(t, 2, s.Failed)
	assert.Equal(t, []string{"boom"}, s.Errors)
	assert.InDelta(t, 0.25, s.FailureRate(), 0.0001)
	assert.Equal(t, "processed=8 created=1 updated=2 skipped=1 failed=2", s.String())

	assert.Zero(t, Summary{}.FailureRate())
}

func TestSource_ScratchName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "contracts.xlsx", Source{Name: "contracts"}.ScratchName())
	assert.Equal(t, "x.xlsx", Source{Name: "contracts", Filename: "x.xlsx"}.ScratchName())
}

package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"1250", 1250},
		{"1 250,50", 1250.50},
		{"1 250,50 грн", 1250.50},
		{"1,234,567.89", 1234567.89},
		{"1.234.567,89", 1234567.89},
		{"1.234.567", 1234567},
		{"12,5", 12.5},
		{"1,250", 1250},
		{"0,125", 0.125},
		{"99.99", 99.99},
		{"-15,00", -15},
		{"UAH 3 000", 3000},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			s := tt.in
			got := ParseAmount(&s)
			require.NotNil(t, got)
			assert.InDelta(t, tt.want, *got, 1e-9)
		})
	}
}

func TestParseAmount_Unparseable(t *testing.T) {
	for _, in := range []string{"", "n/a", "--", "1-2-3"} {
		s := in
		assert.Nil(t, ParseAmount(&s), in)
	}
	assert.Nil(t, ParseAmount(nil))
}

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2024-03-12", "2024-03-12"},
		{"12.03.2024", "2024-03-12"},
		{"12.03.2024 10:15", "2024-03-12"},
		{"2024-03-12T10:15:00Z", "2024-03-12"},
		{"2024-03-12T10:15:00+02:00", "2024-03-12"},
		{"12/03/2024", "2024-03-12"},
		{"45363", "2024-03-12"},
		{" 2.3.2024 ", "2024-03-02"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			s := tt.in
			got := NormalizeDate(&s)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestNormalizeDate_Invalid(t *testing.T) {
	for _, in := range []string{"", "soon", "32.13.2024"} {
		s := in
		assert.Nil(t, NormalizeDate(&s), in)
	}
	assert.Nil(t, NormalizeDate(nil))
}

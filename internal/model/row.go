package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Kind identifies which report family a row was exported from. It selects the
// link column, the detail-page schema and the history-entry layout.
type Kind string

const (
	KindContracts Kind = "contracts"
	KindForecast  Kind = "forecast"
)

// Kinds lists every supported report kind.
var Kinds = []Kind{KindContracts, KindForecast}

// ParseKind converts a string like "contracts" or "forecast" into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindContracts:
		return KindContracts, nil
	case KindForecast:
		return KindForecast, nil
	default:
		return "", eris.Errorf("unknown kind: %q (valid: contracts, forecast)", s)
	}
}

// String returns the kind name.
func (k Kind) String() string { return string(k) }

// LinkSuffix is appended to a column header to name the synthetic hyperlink field.
const LinkSuffix = "_link"

// RawRow is one data row of a parsed spreadsheet. Fields maps a column header
// to its cell value (nil for an empty cell). Links holds hyperlink targets by
// logical column header; an entry exists only when the cell carried a link.
type RawRow struct {
	Index  int                `json:"index"` // 1-based sheet row number
	Fields map[string]*string `json:"fields"`
	Links  map[string]string  `json:"links,omitempty"`
}

// NewRawRow returns an empty row for the given sheet row number.
func NewRawRow(index int) RawRow {
	return RawRow{
		Index:  index,
		Fields: make(map[string]*string),
		Links:  make(map[string]string),
	}
}

// Get returns the raw cell value for header, or "" when absent.
func (r RawRow) Get(header string) string {
	if v, ok := r.Fields[header]; ok && v != nil {
		return *v
	}
	return ""
}

// Value returns the trimmed cell value for header, or nil when the cell is
// absent or blank.
func (r RawRow) Value(header string) *string {
	if header == "" {
		return nil
	}
	return StringPtr(r.Get(header))
}

// Link returns the hyperlink target recovered for header.
func (r RawRow) Link(header string) (string, bool) {
	target, ok := r.Links[header]
	return target, ok && target != ""
}

// SetLink records a hyperlink for header unless one is already present.
// The first link seen for a logical column wins. Returns true if stored.
func (r *RawRow) SetLink(header, target string) bool {
	if target == "" {
		return false
	}
	if r.Links == nil {
		r.Links = make(map[string]string)
	}
	if _, exists := r.Links[header]; exists {
		return false
	}
	r.Links[header] = target
	return true
}

// Flatten returns the row as a single map, with every hyperlink exposed as a
// sibling "{header}_link" field.
func (r RawRow) Flatten() map[string]*string {
	out := make(map[string]*string, len(r.Fields)+len(r.Links))
	for k, v := range r.Fields {
		out[k] = v
	}
	for k, v := range r.Links {
		target := v
		out[k+LinkSuffix] = &target
	}
	return out
}

// IsEmpty reports whether every cell in the row is blank.
func (r RawRow) IsEmpty() bool {
	for _, v := range r.Fields {
		if v != nil && strings.TrimSpace(*v) != "" {
			return false
		}
	}
	return len(r.Links) == 0
}

// StringPtr returns a pointer to the trimmed string, or nil if it is blank.
func StringPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string, or "" for nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

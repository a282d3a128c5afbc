package enrich

import "github.com/sells-group/tender-sync/internal/model"

// Selectors are the CSS selectors applied to a detail page.
type Selectors struct {
	Contact  string
	Phone    string
	Email    string
	LotTitle string
	LotDate  string
}

// DefaultSelectors match the procurement portal's contract and plan-item pages.
func DefaultSelectors() Selectors {
	return Selectors{
		Contact:  ".contact-subject",
		Phone:    `a[href^="tel:"]`,
		Email:    `a[href^="mailto:"]`,
		LotTitle: ".lot-title, h1",
		LotDate:  ".lot-date",
	}
}

// merge fills empty selectors from defaults.
func (s Selectors) merge(defaults Selectors) Selectors {
	if s.Contact == "" {
		s.Contact = defaults.Contact
	}
	if s.Phone == "" {
		s.Phone = defaults.Phone
	}
	if s.Email == "" {
		s.Email = defaults.Email
	}
	if s.LotTitle == "" {
		s.LotTitle = defaults.LotTitle
	}
	if s.LotDate == "" {
		s.LotDate = defaults.LotDate
	}
	return s
}

// Schema says where a kind keeps its organizer and page links, and how its
// pages are read.
type Schema struct {
	Kind      model.Kind
	Organizer string
	Link      string
	LotLink   string
	Selectors Selectors
}

// lotLink returns the lot page column when it differs from the contact link.
func (s Schema) lotLink() string {
	if s.LotLink == s.Link {
		return ""
	}
	return s.LotLink
}

// SchemaFor builds the schema for kind from its column mapping.
func SchemaFor(kind model.Kind, cols model.Columns, sel Selectors) Schema {
	return Schema{
		Kind:      kind,
		Organizer: cols.Organizer,
		Link:      cols.Link,
		LotLink:   cols.LotLink,
		Selectors: sel.merge(DefaultSelectors()),
	}
}

package model

// ContactInfo holds the fields scraped from a row's contact and lot pages.
// A field is nil when its page was not linked, unreachable or did not match.
// Phone is E.164 when the number parses; PhoneDisplay is the tel link's text
// as shown on the page.
type ContactInfo struct {
	ContactName  *string `json:"contact_name"`
	Phone        *string `json:"phone"`
	PhoneDisplay *string `json:"phone_display"`
	Email        *string `json:"email"`
	LotTitle     *string `json:"lot_title"`
	LotDate      *string `json:"lot_date"`
}

// IsZero reports whether no contact field was extracted.
func (c ContactInfo) IsZero() bool {
	return c.ContactName == nil && c.Phone == nil && c.PhoneDisplay == nil &&
		c.Email == nil && c.LotTitle == nil && c.LotDate == nil
}

// EnrichedRow is a RawRow plus its derived registration id and the
// best-effort detail-page fields. EnrichErr carries the first page failure, if
// any; the fields that page would have supplied are nil.
type EnrichedRow struct {
	Raw            RawRow      `json:"raw"`
	Kind           Kind        `json:"kind"`
	RegistrationID *string     `json:"registration_id"`
	Contact        ContactInfo `json:"contact"`
	EnrichErr      error       `json:"-"`
}

package enrich

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/nyaruka/phonenumbers"
	"github.com/rotisserie/eris"

	"github.com/sells-group/tender-sync/internal/model"
)

// ExtractionError is a contact or lot page failure. The row is still emitted,
// with the fields that page supplies left nil.
type ExtractionError struct {
	Row int
	URL string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract row %d (%s): %v", e.Row, e.URL, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Extract reads the contact and lot fields from a detail page. Fields whose
// selector does not match are nil; only an unparseable document is an error.
func Extract(body []byte, sel Selectors, phoneRegion string) (model.ContactInfo, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return model.ContactInfo{}, eris.Wrap(err, "parse html")
	}

	var info model.ContactInfo
	info.ContactName = firstText(doc, sel.Contact)
	info.LotTitle = firstText(doc, sel.LotTitle)
	info.LotDate = firstText(doc, sel.LotDate)

	if a := doc.Find(sel.Phone).First(); a.Length() > 0 {
		display := strings.TrimSpace(a.Text())
		if display == "" {
			href, _ := a.Attr("href")
			display = strings.TrimSpace(strings.TrimPrefix(href, "tel:"))
		}
		info.PhoneDisplay = model.StringPtr(display)
		info.Phone = NormalizePhone(display, phoneRegion)
	}

	if a := doc.Find(sel.Email).First(); a.Length() > 0 {
		href, _ := a.Attr("href")
		addr := strings.TrimPrefix(strings.TrimSpace(href), "mailto:")
		addr, _, _ = strings.Cut(addr, "?")
		info.Email = model.StringPtr(addr)
	}

	return info, nil
}

func firstText(doc *goquery.Document, selector string) *string {
	if selector == "" {
		return nil
	}
	return model.StringPtr(collapse(doc.Find(selector).First().Text()))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizePhone formats a displayed phone number as E.164 when it parses for
// region. Otherwise the trimmed display text is returned unchanged.
func NormalizePhone(display, region string) *string {
	display = strings.TrimSpace(display)
	if display == "" {
		return nil
	}
	if region == "" {
		region = "UA"
	}
	num, err := phonenumbers.Parse(display, strings.ToUpper(region))
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return &display
	}
	formatted := phonenumbers.Format(num, phonenumbers.E164)
	return &formatted
}

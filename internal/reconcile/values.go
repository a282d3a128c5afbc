package reconcile

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/xuri/excelize/v2"
)

// ParseAmount parses a money cell such as "1 250,50", "1,234,567.89" or
// "12 000 грн". When both separators occur the later one is the decimal
// point. A separator that occurs once is decimal unless exactly three digits
// follow it and the integer part is non-zero. It returns nil when no number
// can be read.
func ParseAmount(s *string) *float64 {
	if s == nil {
		return nil
	}
	var b strings.Builder
	for _, r := range *s {
		switch {
		case unicode.IsDigit(r), r == ',', r == '.', r == '-':
			b.WriteRune(r)
		}
	}
	clean := strings.Trim(b.String(), ".,")
	if clean == "" || clean == "-" {
		return nil
	}

	lastComma := strings.LastIndex(clean, ",")
	lastDot := strings.LastIndex(clean, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			clean = strings.ReplaceAll(clean, ".", "")
			clean = strings.Replace(clean, ",", ".", 1)
		} else {
			clean = strings.ReplaceAll(clean, ",", "")
		}
	case lastComma >= 0:
		clean = resolveSingle(clean, ",")
	case lastDot >= 0:
		clean = resolveSingle(clean, ".")
	}

	v, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return nil
	}
	return &v
}

// resolveSingle rewrites s, which contains only sep as a separator.
func resolveSingle(s, sep string) string {
	if strings.Count(s, sep) > 1 {
		return strings.ReplaceAll(s, sep, "")
	}
	intPart, frac, _ := strings.Cut(s, sep)
	if len(frac) == 3 && strings.TrimLeft(strings.TrimPrefix(intPart, "-"), "0") != "" {
		return intPart + frac
	}
	return intPart + "." + frac
}

var dateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"02.01.2006 15:04",
	"02.01.2006 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"02/01/2006",
	"01-02-06",
	"2.1.2006",
}

// NormalizeDate converts a date cell to YYYY-MM-DD. Excel serial day numbers
// are accepted. It returns nil when the value is absent or not a date.
func NormalizeDate(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return isoDate(t)
		}
	}
	if serial, err := strconv.ParseFloat(v, 64); err == nil && serial > 1 && serial < 2958466 {
		if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return isoDate(t)
		}
	}
	return nil
}

func isoDate(t time.Time) *string {
	d := t.Format("2006-01-02")
	return &d
}

// Package validation collects field-level violations for typed form inputs.
// Messages are i18n codes; templates translate them.
package validation

import (
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format of HTML date inputs.
const DateLayout = "2006-01-02"

type Violations map[string]string

func (v Violations) Empty() bool { return len(v) == 0 }

// Add records msg for field unless the field already has a violation.
func (v Violations) Add(field, msg string) {
	if _, exists := v[field]; !exists {
		v[field] = msg
	}
}

// Has reports whether field has a violation.
func (v Violations) Has(field string) bool {
	_, ok := v[field]
	return ok
}

func Required(field, value string, v Violations) {
	if strings.TrimSpace(value) == "" {
		v.Add(field, "required")
	}
}

func MaxLength(field, value string, max int, v Violations) {
	if utf8.RuneCountInString(value) > max {
		v.Add(field, "too_long")
	}
}

// Email accepts an empty value; pair it with Required when mandatory.
func Email(field, value string, v Violations) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		v.Add(field, "invalid_email")
	}
}

func OneOf(field, value string, allowed []string, v Violations) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.Add(field, "invalid_choice")
}

// Decimal parses value. Blank input yields def without a violation.
func Decimal(field, value string, def decimal.Decimal, v Violations) decimal.Decimal {
	value = strings.TrimSpace(value)
	if value == "" {
		return def
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		v.Add(field, "invalid_number")
		return def
	}
	return d
}

func Positive(field string, val decimal.Decimal, v Violations) {
	if !val.IsPositive() {
		v.Add(field, "must_be_positive")
	}
}

func NonNegative(field string, val decimal.Decimal, v Violations) {
	if val.IsNegative() {
		v.Add(field, "must_not_be_negative")
	}
}

func Range(field string, val, minVal, maxVal decimal.Decimal, v Violations) {
	if val.LessThan(minVal) || val.GreaterThan(maxVal) {
		v.Add(field, "out_of_range")
	}
}

// MaxPlaces rejects values with more than places fractional digits.
func MaxPlaces(field string, val decimal.Decimal, places int32, v Violations) {
	if !val.Equal(val.Truncate(places)) {
		v.Add(field, "too_many_decimals")
	}
}

// Date parses a YYYY-MM-DD value. Blank input yields the zero time.
func Date(field, value string, v Violations) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		v.Add(field, "invalid_date")
		return time.Time{}
	}
	return t
}

// Timezone checks that value names an IANA location.
func Timezone(field, value string, v Violations) {
	if _, err := time.LoadLocation(value); err != nil || value == "" {
		v.Add(field, "invalid_timezone")
	}
}

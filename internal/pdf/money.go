package pdf

import (
	"strings"

	"github.com/shopspring/decimal"
)

var symbols = map[string]string{
	"USD": "$", "CAD": "CA$", "AUD": "A$", "EUR": "€", "GBP": "£",
	"JPY": "¥", "INR": "₹", "NGN": "₦", "KES": "KSh", "ZAR": "R", "CHF": "CHF ",
}

// Money formats an amount with two decimals, thousands separators and the
// currency symbol when one is known.
func Money(amount decimal.Decimal, currency string) string {
	s := amount.StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String() + "." + frac
	if sym, ok := symbols[strings.ToUpper(currency)]; ok {
		out = sym + out
	} else if currency != "" {
		out = out + " " + strings.ToUpper(currency)
	}
	if neg {
		out = "-" + out
	}
	return out
}

// Quantity trims trailing zeros: 2.00 -> 2, 1.50 -> 1.5.
func Quantity(q decimal.Decimal) string {
	return q.String()
}

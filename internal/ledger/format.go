package ledger

import (
	"strings"

	"github.com/shopspring/decimal"
)

const CurrencySymbol = "₳"

// FormatAmount renders d for display, e.g. "₳ 1,234.50" or "-₳ 20.00".
func FormatAmount(d decimal.Decimal) string {
	d = d.Round(2)
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}

	fixed := d.StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + CurrencySymbol + " " + b.String() + "." + frac
}

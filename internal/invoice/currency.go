package invoice

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var currencySymbols = map[string]string{
	"GBP": "£",
	"EUR": "€",
	"USD": "$",
}

// CurrencySymbol returns the display symbol, or "" for unknown codes.
func CurrencySymbol(code string) string {
	return currencySymbols[strings.ToUpper(strings.TrimSpace(code))]
}

// FormatMoney renders amount to 2dp with thousands separators.
func FormatMoney(amount decimal.Decimal, currency string) string {
	return formatAmount(amount.StringFixed(2), currency, amount.IsNegative())
}

// FormatUnitPrice keeps up to 4dp for per-unit prices such as pence per litre.
func FormatUnitPrice(amount decimal.Decimal, currency string) string {
	v := amount.Round(4)
	if v.Equal(v.Round(2)) {
		return FormatMoney(v, currency)
	}
	return formatAmount(v.String(), currency, v.IsNegative())
}

// FormatQuantity prints a quantity without trailing zeros.
func FormatQuantity(q decimal.Decimal) string {
	return q.Round(3).String()
}

func formatAmount(fixed, currency string, negative bool) string {
	fixed = strings.TrimPrefix(fixed, "-")
	whole, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}

	sign := ""
	if negative {
		sign = "-"
	}
	return fmt.Sprintf("%s%s%s.%s", sign, CurrencySymbol(currency), b.String(), frac)
}

var unsafeNumberChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// InvoiceNumber returns the caller's number made path-safe, or INV-{unix}.
func InvoiceNumber(supplied string, at time.Time) string {
	if s := strings.Trim(unsafeNumberChars.ReplaceAllString(strings.TrimSpace(supplied), "-"), "-."); s != "" {
		return s
	}
	return fmt.Sprintf("INV-%d", at.Unix())
}

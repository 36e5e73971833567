// Package money renders minor-unit amounts for display. Amounts stay integral
// everywhere else in the codebase; formatting happens only at the edge.
package money

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Format renders a minor-unit amount in the given ISO 4217 currency, localized
// for the BCP 47 locale. Unknown currencies fall back to a plain two-decimal
// rendering so a bad code never breaks a response.
func Format(amount int64, currencyCode, locale string) string {
	unit, err := currency.ParseISO(strings.TrimSpace(currencyCode))
	if err != nil {
		return fmt.Sprintf("%.2f %s", float64(amount)/100, strings.ToUpper(strings.TrimSpace(currencyCode)))
	}
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		tag = language.English
	}
	scale, _ := currency.Cash.Rounding(unit)
	major := float64(amount) / math.Pow10(scale)
	printer := message.NewPrinter(tag)
	return printer.Sprintf("%v", currency.Symbol(unit.Amount(major)))
}

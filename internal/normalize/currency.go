package normalize

import (
	"strings"

	"invoiceflow/pkg/models"
)

// NormalizeCurrency maps currency symbols and names to ISO 4217 codes.
// Unknown values that already look like a code are upper-cased; anything
// else falls back to USD.
func NormalizeCurrency(currency string) string {
	normalized := strings.ToUpper(strings.TrimSpace(currency))

	switch normalized {
	case "":
		return models.DefaultCurrency
	case "$", "US$", "DOLLAR", "DOLLARS", "USD":
		return "USD"
	case "€", "EURO", "EUROS", "EUR":
		return "EUR"
	case "£", "POUND", "POUNDS", "GBP":
		return "GBP"
	case "¥", "YEN", "JPY":
		return "JPY"
	case "C$", "CAD":
		return "CAD"
	case "A$", "AUD":
		return "AUD"
	case "CHF", "SWISS FRANC":
		return "CHF"
	}

	if len(normalized) == 3 && isLetters(normalized) {
		return normalized
	}
	return models.DefaultCurrency
}

func isLetters(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

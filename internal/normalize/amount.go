// Package normalize converts locale-ambiguous amount, date and currency strings
// found on invoices into canonical values.
//
// None of the functions here return errors: malformed input yields a false
// ok flag (or the default value) and never panics.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	amountNoise = regexp.MustCompile(`[$€£¥\s]`)

	// leading float literal, trailing characters are ignored
	floatPrefix = regexp.MustCompile(`^[+-]?(?:\d+\.?\d*|\.\d+)(?:[eE][+-]?\d+)?`)
)

// ParseAmount parses a monetary string such as "1.234,56", "$1,234.56" or
// "1234,56" into a number. When both separators occur, the one appearing last
// is the decimal point. A comma is a decimal point only when it is the only
// comma and exactly two digits follow it; otherwise commas are thousands
// separators.
// It reports false for empty or non-numeric input.
func ParseAmount(text string) (float64, bool) {
	cleaned := amountNoise.ReplaceAllString(text, "")
	if cleaned == "" {
		return 0, false
	}

	lastComma := strings.LastIndex(cleaned, ",")
	lastPeriod := strings.LastIndex(cleaned, ".")

	switch {
	case lastComma >= 0 && lastPeriod >= 0:
		if lastComma > lastPeriod {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = decimalComma(cleaned)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(cleaned, ",") == 1 && isTwoDigits(cleaned[lastComma+1:]) {
			cleaned = decimalComma(cleaned)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	}

	literal := floatPrefix.FindString(cleaned)
	if literal == "" {
		return 0, false
	}
	value, err := strconv.ParseFloat(literal, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// ParseAmountPtr is ParseAmount for optional fields: nil when unparseable.
func ParseAmountPtr(text string) *float64 {
	value, ok := ParseAmount(text)
	if !ok {
		return nil
	}
	return &value
}

// decimalComma turns the last comma into the decimal point and drops the others.
func decimalComma(s string) string {
	i := strings.LastIndex(s, ",")
	return strings.ReplaceAll(s[:i], ",", "") + "." + s[i+1:]
}

func isTwoDigits(s string) bool {
	return len(s) == 2 && s[0] >= '0' && s[0] <= '9' && s[1] >= '0' && s[1] <= '9'
}

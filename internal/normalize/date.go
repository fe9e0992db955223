package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateOrder tells NormalizeDate how to read the first two components of a
// numeric date. Invoices do not say which convention they use, so callers
// choose it explicitly.
type DateOrder int

const (
	// MonthFirst reads 03/04/2024 as March 4th (US convention).
	MonthFirst DateOrder = iota
	// DayFirst reads 03/04/2024 as April 3rd.
	DayFirst
)

// String returns the configuration spelling of the order.
func (o DateOrder) String() string {
	if o == DayFirst {
		return "DMY"
	}
	return "MDY"
}

// ParseDateOrder accepts "MDY" or "DMY" (case-insensitive).
func ParseDateOrder(s string) (DateOrder, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "MDY", "US":
		return MonthFirst, nil
	case "DMY", "EU":
		return DayFirst, nil
	default:
		return MonthFirst, fmt.Errorf("unknown date order %q: use MDY or DMY", s)
	}
}

var dateSeparators = regexp.MustCompile(`[-/]`)

// NormalizeDate converts a numeric date like "3/15/24" or "15-03-2024" into
// YYYY-MM-DD. Two-digit years above 50 map to 19xx, the rest to 20xx. A
// four-digit first component is read as an ISO year-month-day date. It reports
// false when the parts do not form a real calendar date.
func NormalizeDate(text string, order DateOrder) (string, bool) {
	parts := dateSeparators.Split(strings.TrimSpace(text), -1)
	if len(parts) != 3 {
		return "", false
	}

	var yearPart, monthPart, dayPart string
	switch {
	case len(parts[0]) == 4:
		yearPart, monthPart, dayPart = parts[0], parts[1], parts[2]
	case order == DayFirst:
		dayPart, monthPart, yearPart = parts[0], parts[1], parts[2]
	default:
		monthPart, dayPart, yearPart = parts[0], parts[1], parts[2]
	}

	if len(yearPart) == 2 {
		yy, err := strconv.Atoi(yearPart)
		if err != nil {
			return "", false
		}
		if yy > 50 {
			yearPart = "19" + yearPart
		} else {
			yearPart = "20" + yearPart
		}
	}
	if len(yearPart) != 4 || len(monthPart) > 2 || len(dayPart) > 2 {
		return "", false
	}

	year, errY := strconv.Atoi(yearPart)
	month, errM := strconv.Atoi(monthPart)
	day, errD := strconv.Atoi(dayPart)
	if errY != nil || errM != nil || errD != nil {
		return "", false
	}

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return "", false
	}
	return t.Format("2006-01-02"), true
}

// NormalizeUSDate is NormalizeDate with the month-first convention.
func NormalizeUSDate(text string) (string, bool) {
	return NormalizeDate(text, MonthFirst)
}

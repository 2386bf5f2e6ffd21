package core

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// periodPattern matches sheet titles such as "พฤศจิกายน (68)" or "November (68)".
var periodPattern = regexp.MustCompile(`^(.+?)\s*\((\d+)\)$`)

// monthNumbers maps Thai and English month names (lowercase) to 1..12.
var monthNumbers = map[string]int{
	"มกราคม": 1, "กุมภาพันธ์": 2, "มีนาคม": 3, "เมษายน": 4,
	"พฤษภาคม": 5, "มิถุนายน": 6, "กรกฎาคม": 7, "สิงหาคม": 8,
	"กันยายน": 9, "ตุลาคม": 10, "พฤศจิกายน": 11, "ธันวาคม": 12,

	"january": 1, "february": 2, "march": 3, "april": 4,
	"may": 5, "june": 6, "july": 7, "august": 8,
	"september": 9, "october": 10, "november": 11, "december": 12,

	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "jun": 6, "jul": 7,
	"aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

// Period is a parsed billing period. Year is the two-digit year used in
// sheet titles (Buddhist era in the club's spreadsheets).
type Period struct {
	Name      string
	MonthName string
	Month     int
	Year      int
}

// ParsePeriod parses "<MonthName> (<YY>)".
func ParsePeriod(name string) (Period, error) {
	name = strings.TrimSpace(name)
	m := periodPattern.FindStringSubmatch(name)
	if m == nil {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, name)
	}
	year, err := strconv.Atoi(m[2])
	if err != nil {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, name)
	}
	monthName := strings.TrimSpace(m[1])
	month, ok := MonthNumber(monthName)
	if !ok {
		return Period{}, fmt.Errorf("%w: %q", ErrUnknownMonth, monthName)
	}
	return Period{Name: name, MonthName: monthName, Month: month, Year: year}, nil
}

// MonthNumber resolves a Thai or English month name.
func MonthNumber(name string) (int, bool) {
	n, ok := monthNumbers[strings.ToLower(strings.TrimSpace(name))]
	return n, ok
}

// SortKey orders periods chronologically (higher = more recent).
func (p Period) SortKey() int {
	return p.Year*100 + p.Month
}

// Before reports whether p is strictly earlier than o.
func (p Period) Before(o Period) bool {
	return p.SortKey() < o.SortKey()
}

// PeriodSortKey returns the sort key of a sheet title, or 0 when it does not
// parse. A title shaped like a period but naming an unknown month also gets 0,
// not year*100, so it sorts after every real period. Ingestion drops such
// titles before sorting, so only hand-built sheet lists can hit this.
func PeriodSortKey(name string) int {
	p, err := ParsePeriod(name)
	if err != nil {
		return 0
	}
	return p.SortKey()
}

// SortNewestFirst orders sheets from the most recent period to the oldest.
// Unparseable titles sink to the end in their original order.
func SortNewestFirst(sheets []MonthlySheet) {
	sort.SliceStable(sheets, func(i, j int) bool {
		return PeriodSortKey(sheets[i].PeriodName) > PeriodSortKey(sheets[j].PeriodName)
	})
}

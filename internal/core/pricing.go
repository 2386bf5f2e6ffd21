package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// PricingRule maps a period name to its price per week.
type PricingRule interface {
	PriceFor(periodName string) int64
}

// PriceStep switches the weekly price from the given period onwards.
type PriceStep struct {
	Month        int
	Year         int
	PricePerWeek int64
}

func (s PriceStep) sortKey() int { return s.Year*100 + s.Month }

// PriceTable is a step function over periods. Periods before the first step
// (and unparseable period names) use Base.
type PriceTable struct {
	Base  int64
	Steps []PriceStep
}

var _ PricingRule = PriceTable{}

// DefaultPriceTable is the club's current schedule: 20 per week, 40 from
// November of year 68 onwards.
func DefaultPriceTable() PriceTable {
	return PriceTable{
		Base:  20,
		Steps: []PriceStep{{Month: 11, Year: 68, PricePerWeek: 40}},
	}
}

// PriceFor implements PricingRule.
func (t PriceTable) PriceFor(periodName string) int64 {
	p, err := ParsePeriod(periodName)
	if err != nil {
		return t.Base
	}
	return t.PriceForPeriod(p)
}

// PriceForPeriod returns the price of the last step at or before p.
func (t PriceTable) PriceForPeriod(p Period) int64 {
	price := t.Base
	key := p.SortKey()
	for _, s := range t.sorted() {
		if key >= s.sortKey() {
			price = s.PricePerWeek
		}
	}
	return price
}

func (t PriceTable) sorted() []PriceStep {
	steps := append([]PriceStep(nil), t.Steps...)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].sortKey() < steps[j].sortKey() })
	return steps
}

// String renders the table in the PRICE_TABLE format.
func (t PriceTable) String() string {
	parts := []string{strconv.FormatInt(t.Base, 10)}
	for _, s := range t.sorted() {
		parts = append(parts, fmt.Sprintf("%d/%d=%d", s.Month, s.Year, s.PricePerWeek))
	}
	return strings.Join(parts, ";")
}

// ParsePriceTable parses "<base>;<month>/<yy>=<price>;..." e.g. "20;11/68=40".
func ParsePriceTable(s string) (PriceTable, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PriceTable{}, fmt.Errorf("empty price table")
	}
	parts := strings.Split(s, ";")
	base, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil || base < 0 {
		return PriceTable{}, fmt.Errorf("invalid base price %q", parts[0])
	}
	t := PriceTable{Base: base}
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		when, price, ok := strings.Cut(p, "=")
		if !ok {
			return PriceTable{}, fmt.Errorf("invalid price step %q: missing '='", p)
		}
		ms, ys, ok := strings.Cut(strings.TrimSpace(when), "/")
		if !ok {
			return PriceTable{}, fmt.Errorf("invalid price step %q: expected month/year", p)
		}
		month, err := strconv.Atoi(strings.TrimSpace(ms))
		if err != nil || month < 1 || month > 12 {
			return PriceTable{}, fmt.Errorf("invalid month in price step %q", p)
		}
		year, err := strconv.Atoi(strings.TrimSpace(ys))
		if err != nil || year < 0 {
			return PriceTable{}, fmt.Errorf("invalid year in price step %q", p)
		}
		v, err := strconv.ParseInt(strings.TrimSpace(price), 10, 64)
		if err != nil || v < 0 {
			return PriceTable{}, fmt.Errorf("invalid price in price step %q", p)
		}
		t.Steps = append(t.Steps, PriceStep{Month: month, Year: year, PricePerWeek: v})
	}
	return t, nil
}

package core

import "github.com/shopspring/decimal"

// FundMonth is one income row of the fund summary sheet.
type FundMonth struct {
	Label       string
	Collected   decimal.Decimal
	Outstanding decimal.Decimal
	Expected    decimal.Decimal
}

// FundSummary is the club treasury overview. Fields are null when the sheet
// does not carry the corresponding cell.
type FundSummary struct {
	Balance          decimal.NullDecimal
	TotalCollected   decimal.NullDecimal
	TotalOutstanding decimal.NullDecimal
	TotalExpected    decimal.NullDecimal
	TotalExpenses    decimal.NullDecimal
	StudentCount     decimal.NullDecimal
	Months           []FundMonth
}

// CollectionRate is collected / expected as a percentage, rounded to one
// decimal. ok is false when either total is missing or expected is zero.
func (f FundSummary) CollectionRate() (rate decimal.Decimal, ok bool) {
	if !f.TotalCollected.Valid || !f.TotalExpected.Valid || f.TotalExpected.Decimal.IsZero() {
		return decimal.Zero, false
	}
	return f.TotalCollected.Decimal.Div(f.TotalExpected.Decimal).Mul(decimal.NewFromInt(100)).Round(1), true
}

// Empty reports whether nothing was found in the sheet.
func (f FundSummary) Empty() bool {
	return !f.Balance.Valid && !f.TotalCollected.Valid && !f.TotalOutstanding.Valid &&
		!f.TotalExpected.Valid && !f.TotalExpenses.Valid && !f.StudentCount.Valid && len(f.Months) == 0
}

// Package sheets defines the ports used to read dues data and the parsing
// rules shared by every adapter.
package sheets

import (
	"fmt"
	"strings"

	"duescheck/internal/core"
)

// PeriodRange is the A1 column span of a monthly sheet: name, ID, week 1..4.
const PeriodRange = "B:G"

// FundSummaryRange is the A1 column span read from the summary sheet.
const FundSummaryRange = "A:O"

// minCells is the shortest row that still carries name, ID and one week.
const minCells = 5

// skipKeywords mark rows that are not students (resigned, section headers).
var skipKeywords = []string{"ลาออก", "กราฟิก", "รหัสนิสิต", "รหัส"}

// paidTokens are the cell values that count as a paid week.
var paidTokens = map[string]struct{}{"TRUE": {}, "✓": {}, "✔": {}}

// IsPeriodTitle reports whether a sheet title names a billing period.
func IsPeriodTitle(title string) bool {
	_, err := core.ParsePeriod(title)
	return err == nil
}

// CellsToStrings converts an API row into trimmed strings.
func CellsToStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

// ParseRecords turns the rows of a monthly sheet (columns B..G) into
// records. The first row is the header. Rows without a usable student ID
// are dropped. A repeated ID makes the whole sheet invalid.
func ParseRecords(periodName string, rows [][]string) (core.MonthlySheet, error) {
	sheet := core.MonthlySheet{PeriodName: periodName}
	for i, row := range rows {
		if i == 0 || len(row) < minCells {
			continue
		}
		rawID := strings.TrimSpace(row[1])
		if rawID == "" || hasSkipKeyword(rawID) {
			continue
		}
		id := core.CanonicalID(rawID)
		if len(id) < core.MinStudentIDLength {
			continue
		}
		rec := core.StudentWeekRecord{StudentID: id, StudentName: strings.TrimSpace(row[0])}
		for w := 0; w < core.WeeksPerPeriod; w++ {
			rec.Weeks[w] = isPaid(cell(row, 2+w))
		}
		sheet.Records = append(sheet.Records, rec)
	}
	if err := sheet.Validate(); err != nil {
		return core.MonthlySheet{}, err
	}
	return sheet, nil
}

func hasSkipKeyword(s string) bool {
	for _, k := range skipKeywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func isPaid(v string) bool {
	_, ok := paidTokens[strings.ToUpper(strings.TrimSpace(v))]
	return ok
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// ParseFundSummary extracts the treasury overview from the summary sheet
// (columns A..O). Missing cells leave the matching field null.
func ParseFundSummary(rows [][]string) core.FundSummary {
	var f core.FundSummary
	expensesFound, countFound := false, false
	for _, row := range rows {
		label := cell(row, 0)
		switch {
		case strings.Contains(label, "เงินคงเหลือ"):
			f.Balance = core.ParseNullAmount(cell(row, 1))
		case label == "รวม":
			f.TotalCollected = core.ParseNullAmount(cell(row, 1))
			f.TotalOutstanding = core.ParseNullAmount(cell(row, 2))
			f.TotalExpected = core.ParseNullAmount(cell(row, 3))
		case label == "ค่าพาน" || IsPeriodTitle(label):
			collected := core.ParseNullAmount(cell(row, 1))
			outstanding := core.ParseNullAmount(cell(row, 2))
			expected := core.ParseNullAmount(cell(row, 3))
			if collected.Valid || outstanding.Valid || expected.Valid {
				f.Months = append(f.Months, core.FundMonth{
					Label:       label,
					Collected:   collected.Decimal,
					Outstanding: outstanding.Decimal,
					Expected:    expected.Decimal,
				})
			}
		}
		if !expensesFound && cell(row, 5) == "รวม" {
			f.TotalExpenses = core.ParseNullAmount(cell(row, 6))
			expensesFound = true
		}
		if !countFound && strings.Contains(cell(row, 13), "จำนวนนิสิตในสาขา") {
			f.StudentCount = core.ParseNullAmount(cell(row, 14))
			countFound = true
		}
	}
	return f
}

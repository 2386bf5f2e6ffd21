package core

import "sort"

// ReconcileStudent folds every sheet the student appears in into one summary.
// Sheets are visited in supply order; the name comes from the first match.
// Returns ErrStudentNotFound when the ID is absent from all sheets.
func ReconcileStudent(studentID string, sheets []MonthlySheet, rule PricingRule) (StudentSummary, error) {
	id := CanonicalID(studentID)
	if id == "" {
		return StudentSummary{}, ErrStudentNotFound
	}

	summary := StudentSummary{StudentID: id}
	found := false
	for _, sheet := range sheets {
		rec, ok := sheet.Find(id)
		if !ok {
			continue
		}
		if !found {
			summary.StudentName = rec.StudentName
			found = true
		}

		price := rule.PriceFor(sheet.PeriodName)
		unpaid := rec.UnpaidWeeks()
		paid := int64(WeeksPerPeriod - len(unpaid))
		summary.TotalPaid += price * paid

		if len(unpaid) == 0 {
			continue
		}
		amount := price * int64(len(unpaid))
		summary.TotalOwed += amount
		summary.Months = append(summary.Months, MonthDetail{
			PeriodName:   sheet.PeriodName,
			PricePerWeek: price,
			UnpaidWeeks:  unpaid,
			Amount:       amount,
		})
	}

	if !found {
		return StudentSummary{}, ErrStudentNotFound
	}
	return summary, nil
}

// ReconcileAll builds the roster of every student seen in any sheet, ranked by
// total owed (highest first). Ties keep first-seen order.
func ReconcileAll(sheets []MonthlySheet, rule PricingRule) []RosterEntry {
	index := make(map[string]int)
	var roster []RosterEntry

	for _, sheet := range sheets {
		price := rule.PriceFor(sheet.PeriodName)
		for _, rec := range sheet.Records {
			i, ok := index[rec.StudentID]
			if !ok {
				i = len(roster)
				index[rec.StudentID] = i
				roster = append(roster, RosterEntry{StudentID: rec.StudentID, StudentName: rec.StudentName})
			}
			unpaid := len(rec.UnpaidWeeks())
			roster[i].TotalUnpaidWeeks += unpaid
			roster[i].TotalOwed += price * int64(unpaid)
		}
	}

	for i := range roster {
		roster[i].PaidInFull = roster[i].TotalUnpaidWeeks == 0
	}
	sort.SliceStable(roster, func(a, b int) bool {
		return roster[a].TotalOwed > roster[b].TotalOwed
	})
	return roster
}

// RosterIDs returns the set of student IDs present in any sheet.
func RosterIDs(sheets []MonthlySheet) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, sheet := range sheets {
		for _, rec := range sheet.Records {
			ids[rec.StudentID] = struct{}{}
		}
	}
	return ids
}

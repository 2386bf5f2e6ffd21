package core

import (
	"fmt"
	"sort"
)

// OutstandingStudent is a student who has not paid every week of a period.
type OutstandingStudent struct {
	StudentID   string
	StudentName string
	UnpaidWeeks []int
	Amount      int64
}

// OutstandingGroup collects the outstanding students of one major.
type OutstandingGroup struct {
	Name     string
	Students []OutstandingStudent
	Total    int64
}

// MonthOutstanding is the per-period view of who still owes.
type MonthOutstanding struct {
	PeriodName   string
	PricePerWeek int64
	Groups       []OutstandingGroup
	Students     int
	Total        int64
}

// BuildMonthOutstanding lists students with fewer than four paid weeks in the
// named period. Within a group the most unpaid weeks come first, then by ID.
// Groups are sorted by name.
func BuildMonthOutstanding(periodName string, sheets []MonthlySheet, rule PricingRule, groups GroupTable) (MonthOutstanding, error) {
	var sheet *MonthlySheet
	for i := range sheets {
		if sheets[i].PeriodName == periodName {
			sheet = &sheets[i]
			break
		}
	}
	if sheet == nil {
		return MonthOutstanding{}, fmt.Errorf("%w: %q", ErrPeriodNotFound, periodName)
	}

	price := rule.PriceFor(periodName)
	out := MonthOutstanding{PeriodName: periodName, PricePerWeek: price}
	byGroup := make(map[string][]OutstandingStudent)
	for _, rec := range sheet.Records {
		unpaid := rec.UnpaidWeeks()
		if len(unpaid) == 0 {
			continue
		}
		g := groups.Classify(rec.StudentID)
		byGroup[g] = append(byGroup[g], OutstandingStudent{
			StudentID:   rec.StudentID,
			StudentName: rec.StudentName,
			UnpaidWeeks: unpaid,
			Amount:      price * int64(len(unpaid)),
		})
	}

	names := make([]string, 0, len(byGroup))
	for name := range byGroup {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		students := byGroup[name]
		sort.Slice(students, func(i, j int) bool {
			if len(students[i].UnpaidWeeks) != len(students[j].UnpaidWeeks) {
				return len(students[i].UnpaidWeeks) > len(students[j].UnpaidWeeks)
			}
			return students[i].StudentID < students[j].StudentID
		})
		group := OutstandingGroup{Name: name, Students: students}
		for _, s := range students {
			group.Total += s.Amount
		}
		out.Groups = append(out.Groups, group)
		out.Students += len(students)
		out.Total += group.Total
	}
	return out, nil
}

package core

import (
	"errors"
	"reflect"
	"testing"
)

func week(flags ...bool) [WeeksPerPeriod]bool {
	var w [WeeksPerPeriod]bool
	copy(w[:], flags)
	return w
}

func exampleSheets() []MonthlySheet {
	return []MonthlySheet{
		{PeriodName: "ตุลาคม (68)", Records: []StudentWeekRecord{
			{StudentID: "6810610001", StudentName: "Alice", Weeks: week(true, false, true, false)},
		}},
		{PeriodName: "พฤศจิกายน (68)", Records: []StudentWeekRecord{
			{StudentID: "6810610001", StudentName: "Alice Renamed", Weeks: week(true, true, true, true)},
		}},
	}
}

func TestReconcileStudentWorkedExample(t *testing.T) {
	got, err := ReconcileStudent("6810610001", exampleSheets(), DefaultPriceTable())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TotalOwed != 40 {
		t.Fatalf("TotalOwed = %d, want 40", got.TotalOwed)
	}
	if got.TotalPaid != 200 {
		t.Fatalf("TotalPaid = %d, want 200", got.TotalPaid)
	}
	if got.StudentName != "Alice" {
		t.Fatalf("name should come from the first sheet, got %q", got.StudentName)
	}
	want := []MonthDetail{{PeriodName: "ตุลาคม (68)", PricePerWeek: 20, UnpaidWeeks: []int{2, 4}, Amount: 40}}
	if !reflect.DeepEqual(got.Months, want) {
		t.Fatalf("Months = %+v, want %+v", got.Months, want)
	}
}

func TestReconcileStudentNotFound(t *testing.T) {
	cases := []struct {
		name   string
		id     string
		sheets []MonthlySheet
	}{
		{"absent", "6810610999", exampleSheets()},
		{"no sheets", "6810610001", nil},
		{"empty sheets", "6810610001", []MonthlySheet{{PeriodName: "ตุลาคม (68)"}}},
		{"no digits", "abc", exampleSheets()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReconcileStudent(tc.id, tc.sheets, DefaultPriceTable())
			if !errors.Is(err, ErrStudentNotFound) {
				t.Fatalf("expected ErrStudentNotFound, got %v", err)
			}
		})
	}
}

func TestReconcileStudentCanonicalizesInput(t *testing.T) {
	got, err := ReconcileStudent(" 68-1061-0001 ", exampleSheets(), DefaultPriceTable())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.StudentID != "6810610001" {
		t.Fatalf("StudentID = %q", got.StudentID)
	}
}

func TestReconcileStudentAmountInvariant(t *testing.T) {
	sheets := []MonthlySheet{
		{PeriodName: "สิงหาคม (68)", Records: []StudentWeekRecord{{StudentID: "12345", Weeks: week(false, false, false, false)}}},
		{PeriodName: "ธันวาคม (68)", Records: []StudentWeekRecord{{StudentID: "12345", Weeks: week(true, false, true, true)}}},
		{PeriodName: "not a period", Records: []StudentWeekRecord{{StudentID: "12345", Weeks: week(false, true, true, true)}}},
	}
	got, err := ReconcileStudent("12345", sheets, DefaultPriceTable())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var sum int64
	for _, m := range got.Months {
		if m.Amount != m.PricePerWeek*int64(len(m.UnpaidWeeks)) {
			t.Fatalf("amount mismatch in %+v", m)
		}
		sum += m.Amount
	}
	if sum != got.TotalOwed {
		t.Fatalf("TotalOwed %d != sum of months %d", got.TotalOwed, sum)
	}
	// 4*20 + 1*40 + 1*20 (unparseable period uses the base rate)
	if got.TotalOwed != 140 {
		t.Fatalf("TotalOwed = %d, want 140", got.TotalOwed)
	}
	if got.TotalPaid != 3*40+3*20 {
		t.Fatalf("TotalPaid = %d, want %d", got.TotalPaid, 3*40+3*20)
	}
}

func TestReconcileStudentIdempotentAndMonotonic(t *testing.T) {
	sheets := exampleSheets()
	a, _ := ReconcileStudent("6810610001", sheets, DefaultPriceTable())
	b, _ := ReconcileStudent("6810610001", sheets, DefaultPriceTable())
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("results differ between identical calls")
	}

	more := append(sheets, MonthlySheet{PeriodName: "ธันวาคม (68)", Records: []StudentWeekRecord{
		{StudentID: "6810610001", Weeks: week(false, true, true, true)},
	}})
	c, _ := ReconcileStudent("6810610001", more, DefaultPriceTable())
	if c.TotalOwed < a.TotalOwed {
		t.Fatalf("adding a sheet decreased TotalOwed: %d -> %d", a.TotalOwed, c.TotalOwed)
	}
	if c.TotalOwed != 80 {
		t.Fatalf("TotalOwed = %d, want 80", c.TotalOwed)
	}
}

func TestReconcileAllRanking(t *testing.T) {
	sheets := []MonthlySheet{
		{PeriodName: "ตุลาคม (68)", Records: []StudentWeekRecord{
			{StudentID: "11111", StudentName: "Paid", Weeks: week(true, true, true, true)},
			{StudentID: "22222", StudentName: "Some", Weeks: week(true, false, true, true)},
			{StudentID: "33333", StudentName: "Most", Weeks: week(false, false, true, true)},
		}},
		{PeriodName: "พฤศจิกายน (68)", Records: []StudentWeekRecord{
			{StudentID: "11111", StudentName: "Paid", Weeks: week(true, true, true, true)},
			{StudentID: "33333", StudentName: "Most", Weeks: week(false, true, true, true)},
		}},
	}
	got := ReconcileAll(sheets, DefaultPriceTable())
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	wantIDs := []string{"33333", "22222", "11111"}
	wantOwed := []int64{80, 20, 0}
	for i, e := range got {
		if e.StudentID != wantIDs[i] || e.TotalOwed != wantOwed[i] {
			t.Fatalf("entry %d = %+v, want id %s owed %d", i, e, wantIDs[i], wantOwed[i])
		}
	}
	if !got[2].PaidInFull || got[0].PaidInFull || got[1].PaidInFull {
		t.Fatalf("PaidInFull flags wrong: %+v", got)
	}
	if got[0].TotalUnpaidWeeks != 3 {
		t.Fatalf("TotalUnpaidWeeks = %d, want 3", got[0].TotalUnpaidWeeks)
	}
}

func TestReconcileAllStableTies(t *testing.T) {
	sheets := []MonthlySheet{{PeriodName: "ตุลาคม (68)", Records: []StudentWeekRecord{
		{StudentID: "30000", Weeks: week(true, true, true, false)},
		{StudentID: "10000", Weeks: week(true, true, false, true)},
		{StudentID: "20000", Weeks: week(false, true, true, true)},
	}}}
	got := ReconcileAll(sheets, DefaultPriceTable())
	for i, want := range []string{"30000", "10000", "20000"} {
		if got[i].StudentID != want {
			t.Fatalf("position %d = %s, want %s", i, got[i].StudentID, want)
		}
	}
}

func TestReconcileAllEmpty(t *testing.T) {
	if got := ReconcileAll(nil, DefaultPriceTable()); len(got) != 0 {
		t.Fatalf("expected empty roster, got %+v", got)
	}
}

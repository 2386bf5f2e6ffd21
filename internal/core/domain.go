package core

import (
	"errors"
	"strings"
)

// WeeksPerPeriod is the number of weekly payment flags in every monthly sheet.
const WeeksPerPeriod = 4

// MinStudentIDLength is the shortest digit string accepted as a student ID.
const MinStudentIDLength = 5

type (
	// StudentWeekRecord is one student's row in a monthly sheet.
	StudentWeekRecord struct {
		StudentID   string
		StudentName string
		Weeks       [WeeksPerPeriod]bool // true = paid
	}

	// MonthlySheet is one billing period as fetched from the data source.
	MonthlySheet struct {
		PeriodName string
		Records    []StudentWeekRecord
	}

	// MonthDetail lists the unpaid weeks of a student in one period.
	MonthDetail struct {
		PeriodName   string
		PricePerWeek int64
		UnpaidWeeks  []int
		Amount       int64
	}

	// StudentSummary is the reconciled view of one student across all periods.
	StudentSummary struct {
		StudentID   string
		StudentName string
		TotalOwed   int64
		TotalPaid   int64
		Months      []MonthDetail
	}

	// RosterEntry is the lightweight per-student row of the full roster.
	RosterEntry struct {
		StudentID        string
		StudentName      string
		TotalUnpaidWeeks int
		TotalOwed        int64
		PaidInFull       bool
	}
)

var (
	ErrStudentNotFound  = errors.New("student not found")
	ErrPeriodNotFound   = errors.New("period not found")
	ErrDuplicateStudent = errors.New("duplicate student id in sheet")
	ErrInvalidPeriod    = errors.New("invalid period name")
	ErrUnknownMonth     = errors.New("unknown month name")
)

// UnpaidWeeks returns the 1-based numbers of weeks not marked as paid.
func (r StudentWeekRecord) UnpaidWeeks() []int {
	var out []int
	for i, paid := range r.Weeks {
		if !paid {
			out = append(out, i+1)
		}
	}
	return out
}

// PaidWeeks counts the weeks marked as paid.
func (r StudentWeekRecord) PaidWeeks() int {
	n := 0
	for _, paid := range r.Weeks {
		if paid {
			n++
		}
	}
	return n
}

// Find returns the record for the given canonical student ID.
func (s MonthlySheet) Find(studentID string) (StudentWeekRecord, bool) {
	for _, r := range s.Records {
		if r.StudentID == studentID {
			return r, true
		}
	}
	return StudentWeekRecord{}, false
}

// Validate rejects sheets where a student ID appears more than once.
func (s MonthlySheet) Validate() error {
	seen := make(map[string]struct{}, len(s.Records))
	for _, r := range s.Records {
		if _, dup := seen[r.StudentID]; dup {
			return &DuplicateStudentError{PeriodName: s.PeriodName, StudentID: r.StudentID}
		}
		seen[r.StudentID] = struct{}{}
	}
	return nil
}

// DuplicateStudentError reports the first repeated ID found in a sheet.
type DuplicateStudentError struct {
	PeriodName string
	StudentID  string
}

func (e *DuplicateStudentError) Error() string {
	return "sheet " + e.PeriodName + ": student " + e.StudentID + " appears more than once"
}

func (e *DuplicateStudentError) Unwrap() error { return ErrDuplicateStudent }

// CanonicalID strips every non-digit character from a user or sheet supplied ID.
func CanonicalID(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

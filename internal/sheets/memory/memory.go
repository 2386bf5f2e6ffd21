package memory

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"duescheck/internal/core"
	ports "duescheck/internal/sheets"
)

// Store is an in-process data source. Period sheets are kept as raw rows so
// they go through the same parsing as the Google adapter.
type Store struct {
	mu      sync.Mutex
	periods map[string][][]string
	order   []string
	summary [][]string
	log     []core.SearchLogEntry
	// reads counts ReadPeriod calls; tests use it to observe caching.
	reads int
}

var (
	_ ports.PeriodReader      = (*Store)(nil)
	_ ports.FundSummaryReader = (*Store)(nil)
	_ ports.SearchLogWriter   = (*Store)(nil)
)

func New() *Store {
	return &Store{periods: map[string][][]string{}}
}

// NewFromDir loads "<Month> (<YY>).csv" files as period sheets and
// "<summaryName>.csv" as the fund summary. Other files are ignored.
func NewFromDir(dir, summaryName string) (*Store, error) {
	s := New()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read data dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		title := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		rows, err := readCSV(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		switch {
		case title == summaryName:
			s.summary = rows
		case ports.IsPeriodTitle(title):
			s.PutPeriod(title, rows)
		}
	}
	return s, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return rows, nil
}

// PutPeriod stores or replaces a period sheet. rows[0] is the header.
func (s *Store) PutPeriod(title string, rows [][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.periods[title]; !ok {
		s.order = append(s.order, title)
	}
	s.periods[title] = rows
}

// PutSheet stores an already parsed sheet.
func (s *Store) PutSheet(sheet core.MonthlySheet) {
	rows := [][]string{{"name", "id", "w1", "w2", "w3", "w4"}}
	for _, r := range sheet.Records {
		row := []string{r.StudentName, r.StudentID}
		for _, paid := range r.Weeks {
			if paid {
				row = append(row, "TRUE")
			} else {
				row = append(row, "FALSE")
			}
		}
		rows = append(rows, row)
	}
	s.PutPeriod(sheet.PeriodName, rows)
}

// SetSummary replaces the fund summary rows (columns A..O).
func (s *Store) SetSummary(rows [][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = rows
}

func (s *Store) ListPeriods(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...), nil
}

func (s *Store) ReadPeriod(_ context.Context, title string) (core.MonthlySheet, error) {
	s.mu.Lock()
	rows, ok := s.periods[title]
	s.reads++
	s.mu.Unlock()
	if !ok {
		return core.MonthlySheet{}, fmt.Errorf("%w: %q", core.ErrPeriodNotFound, title)
	}
	return ports.ParseRecords(title, rows)
}

func (s *Store) ReadFundSummary(_ context.Context) (core.FundSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ports.ParseFundSummary(s.summary), nil
}

// AppendSearchLog records the entry and returns a synthetic row reference.
func (s *Store) AppendSearchLog(_ context.Context, e core.SearchLogEntry) (string, error) {
	if e.StudentID == "" {
		return "", fmt.Errorf("append search log: %w: empty student id", core.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, e)
	return fmt.Sprintf("mem:%d", len(s.log)), nil
}

// SearchLog returns a copy of the appended entries, oldest first.
func (s *Store) SearchLog() []core.SearchLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]core.SearchLogEntry(nil), s.log...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SearchedAt.Before(out[j].SearchedAt) })
	return out
}

// Reads reports how many period reads have been served.
func (s *Store) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"duescheck/internal/cache"
	"duescheck/internal/core"
	"duescheck/internal/log"
	"duescheck/internal/sheets"
)

// LookupStatus says how a lookup input was resolved.
type LookupStatus int

const (
	LookupNotFound LookupStatus = iota
	LookupFound
	LookupAmbiguous
)

func (s LookupStatus) String() string {
	switch s {
	case LookupFound:
		return "found"
	case LookupAmbiguous:
		return "ambiguous"
	default:
		return "not_found"
	}
}

// Candidate is one possible match for an ambiguous short code.
type Candidate struct {
	StudentID   string
	StudentName string
	Group       string
}

// LookupResult is what the lookup page renders.
type LookupResult struct {
	Status     LookupStatus
	Input      string
	Summary    core.StudentSummary
	Group      string
	Candidates []Candidate
	// Expanded is set when a short code resolved to a single student.
	Expanded bool
}

// RosterRow is a roster entry with its group.
type RosterRow struct {
	core.RosterEntry
	Group string
}

// SearchRecorder stores successful lookups.
type SearchRecorder interface {
	Record(ctx context.Context, entry core.SearchLogEntry) error
}

// DuesConfig carries the tables the aggregator is parameterised with.
type DuesConfig struct {
	Pricing          core.PricingRule
	ShortCodes       core.ShortCodeExpander
	Groups           core.GroupTable
	CacheTTL         time.Duration
	FetchConcurrency int
	// SummaryCacheSize bounds the per-student summary cache.
	SummaryCacheSize int
}

func DefaultDuesConfig() DuesConfig {
	return DuesConfig{
		Pricing:          core.DefaultPriceTable(),
		ShortCodes:       core.DefaultShortCodeExpander(),
		Groups:           core.DefaultGroupTable(),
		CacheTTL:         cache.DefaultTTL,
		FetchConcurrency: sheets.DefaultFetchConcurrency,
		SummaryCacheSize: 256,
	}
}

// DuesService answers dues questions from cached monthly sheets.
type DuesService struct {
	periods  sheets.PeriodReader
	fund     sheets.FundSummaryReader
	recorder SearchRecorder
	cfg      DuesConfig
	logger   *log.Logger
	events   *log.StructuredLogger

	sheets    *cache.Snapshot[[]core.MonthlySheet]
	fundCache *cache.Snapshot[core.FundSummary]
	summaries *cache.LRUCache[core.StudentSummary]
}

// NewDuesService wires the service. fund and recorder may be nil.
func NewDuesService(periods sheets.PeriodReader, fund sheets.FundSummaryReader, recorder SearchRecorder, cfg DuesConfig, logger *log.Logger) *DuesService {
	def := DefaultDuesConfig()
	if cfg.Pricing == nil {
		cfg.Pricing = def.Pricing
	}
	if len(cfg.ShortCodes.Prefixes) == 0 {
		cfg.ShortCodes = def.ShortCodes
	}
	if cfg.Groups.Default == "" && len(cfg.Groups.Ranges) == 0 {
		cfg.Groups = def.Groups
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = def.FetchConcurrency
	}
	if cfg.SummaryCacheSize <= 0 {
		cfg.SummaryCacheSize = def.SummaryCacheSize
	}
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentDues)
	return &DuesService{
		periods:   periods,
		fund:      fund,
		recorder:  recorder,
		cfg:       cfg,
		logger:    logger,
		events:    log.NewStructuredLogger(logger),
		sheets:    cache.NewSnapshot[[]core.MonthlySheet](cfg.CacheTTL),
		fundCache: cache.NewSnapshot[core.FundSummary](cfg.CacheTTL),
		summaries: cache.NewLRUCache[core.StudentSummary](cfg.SummaryCacheSize, cfg.CacheTTL),
	}
}

// Caches exposes the caches for registration with a cache.Manager.
func (s *DuesService) Caches() []cache.Cleaner {
	return []cache.Cleaner{s.sheets, s.fundCache, s.summaries}
}

// Sheets returns every valid monthly sheet, newest first.
func (s *DuesService) Sheets(ctx context.Context) ([]core.MonthlySheet, error) {
	all, _, err := s.loadSheets(ctx)
	return all, err
}

// loadSheets also returns when the sheets were fetched, which identifies the
// snapshot they came from.
func (s *DuesService) loadSheets(ctx context.Context) ([]core.MonthlySheet, time.Time, error) {
	return s.sheets.Get(ctx, func(ctx context.Context) ([]core.MonthlySheet, error) {
		return sheets.FetchAll(ctx, s.periods, s.cfg.FetchConcurrency, s.logger)
	})
}

// Lookup resolves input to a student summary. Inputs of one to three digits
// are expanded against the roster first; when no candidate matches, the
// literal input is looked up. An absent student returns ErrStudentNotFound
// together with a LookupNotFound result.
func (s *DuesService) Lookup(ctx context.Context, input string) (LookupResult, error) {
	id := core.CanonicalID(input)
	res := LookupResult{Input: id}
	if id == "" {
		return res, fmt.Errorf("%w: student id is required", core.ErrInvalidInput)
	}

	all, loadedAt, err := s.loadSheets(ctx)
	if err != nil {
		return res, err
	}

	if core.IsShortCode(id) {
		candidates := s.cfg.ShortCodes.Expand(id, core.RosterIDs(all))
		s.logger.DebugContext(ctx, "Expanded short code",
			log.FieldStudentID, id,
			log.FieldCandidates, candidates)
		switch len(candidates) {
		case 0:
		case 1:
			id = candidates[0]
			res.Expanded = true
		default:
			res.Status = LookupAmbiguous
			res.Candidates = s.describe(candidates, all)
			return res, nil
		}
	}

	summary, err := s.summaryFor(id, all, loadedAt)
	if errors.Is(err, core.ErrStudentNotFound) {
		s.logger.InfoContext(ctx, "Student not found", log.FieldStudentID, id)
		return res, fmt.Errorf("lookup %s: %w", id, err)
	}
	if err != nil {
		return res, err
	}

	res.Status = LookupFound
	res.Summary = summary
	res.Group = s.cfg.Groups.Classify(summary.StudentID)
	s.events.LogLookup(ctx, summary.StudentID, summary.TotalOwed, len(summary.Months))

	if s.recorder != nil {
		entry := core.SearchLogEntry{StudentID: summary.StudentID, StudentName: summary.StudentName}
		if err := s.recorder.Record(ctx, entry); err != nil {
			s.logger.WarnContext(ctx, "Failed to record search",
				log.FieldStudentID, summary.StudentID,
				log.FieldError, err.Error())
		}
	}
	return res, nil
}

// summaryFor memoises ReconcileStudent per loaded snapshot; loadedAt must
// be the load time of the snapshot all came from.
func (s *DuesService) summaryFor(id string, all []core.MonthlySheet, loadedAt time.Time) (core.StudentSummary, error) {
	key := fmt.Sprintf("%d:%s", loadedAt.UnixNano(), id)
	if v, ok := s.summaries.Get(key); ok {
		return v, nil
	}
	summary, err := core.ReconcileStudent(id, all, s.cfg.Pricing)
	if err != nil {
		return core.StudentSummary{}, err
	}
	s.summaries.Set(key, summary)
	return summary, nil
}

func (s *DuesService) describe(ids []string, all []core.MonthlySheet) []Candidate {
	out := make([]Candidate, 0, len(ids))
	for _, id := range ids {
		c := Candidate{StudentID: id, Group: s.cfg.Groups.Classify(id)}
		for _, sheet := range all {
			if rec, ok := sheet.Find(id); ok {
				c.StudentName = rec.StudentName
				break
			}
		}
		out = append(out, c)
	}
	return out
}

// Roster ranks every student by amount owed.
func (s *DuesService) Roster(ctx context.Context) ([]RosterRow, error) {
	all, err := s.Sheets(ctx)
	if err != nil {
		return nil, err
	}
	entries := core.ReconcileAll(all, s.cfg.Pricing)
	rows := make([]RosterRow, len(entries))
	for i, e := range entries {
		rows[i] = RosterRow{RosterEntry: e, Group: s.cfg.Groups.Classify(e.StudentID)}
	}
	return rows, nil
}

// Periods returns the loaded period names, newest first.
func (s *DuesService) Periods(ctx context.Context) ([]string, error) {
	all, err := s.Sheets(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(all))
	for i, sheet := range all {
		names[i] = sheet.PeriodName
	}
	return names, nil
}

// MonthOutstanding lists who still owes for periodName. An empty name
// selects the newest period.
func (s *DuesService) MonthOutstanding(ctx context.Context, periodName string) (core.MonthOutstanding, error) {
	all, err := s.Sheets(ctx)
	if err != nil {
		return core.MonthOutstanding{}, err
	}
	if periodName == "" {
		if len(all) == 0 {
			return core.MonthOutstanding{}, core.ErrPeriodNotFound
		}
		periodName = all[0].PeriodName
	}
	return core.BuildMonthOutstanding(periodName, all, s.cfg.Pricing, s.cfg.Groups)
}

// FundSummary returns the treasury overview. Without a summary source it is
// empty.
func (s *DuesService) FundSummary(ctx context.Context) (core.FundSummary, error) {
	if s.fund == nil {
		return core.FundSummary{}, nil
	}
	fs, _, err := s.fundCache.Get(ctx, func(ctx context.Context) (core.FundSummary, error) {
		fs, err := s.fund.ReadFundSummary(ctx)
		if err != nil {
			return core.FundSummary{}, fmt.Errorf("%w: fund summary: %v", sheets.ErrFetch, err)
		}
		return fs, nil
	})
	return fs, err
}

// Refresh drops every cached sheet so the next request reloads.
func (s *DuesService) Refresh(ctx context.Context) {
	s.sheets.Invalidate()
	s.fundCache.Invalidate()
	s.summaries.Clear()
	s.logger.InfoContext(ctx, "Dues caches invalidated", log.FieldOperation, log.OpRefresh)
}

// CacheStatus reports when the sheets were loaded and whether they expired.
type CacheStatus struct {
	LoadedAt time.Time
	Loaded   bool
	Expired  bool
	TTL      time.Duration
	Sheets   int
}

func (s *DuesService) CacheStatus() CacheStatus {
	v, at, ok := s.sheets.Peek()
	return CacheStatus{
		LoadedAt: at,
		Loaded:   ok,
		Expired:  s.sheets.Expired(),
		TTL:      s.sheets.TTL(),
		Sheets:   len(v),
	}
}

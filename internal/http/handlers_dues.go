package http

import (
	"errors"
	"net/http"

	"duescheck/internal/core"
	"duescheck/internal/log"
	"duescheck/internal/services"
)

const indexAnnouncements = 3

type lookupView struct {
	Result   services.LookupResult
	NotFound bool
}

type indexView struct {
	page
	Recent        []string
	Announcements []core.Announcement
	Lookup        *lookupView
}

type rosterView struct {
	page
	Rows []services.RosterRow
}

type monthView struct {
	page
	Periods  []string
	Selected string
	Month    core.MonthOutstanding
}

type dashboardView struct {
	page
	Fund      core.FundSummary
	FundError string
	Periods   []string
	Month     core.MonthOutstanding
	Cache     services.CacheStatus
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	view, err := s.indexView(r)
	if err != nil {
		s.fail(w, r, log.OpRender, err)
		return
	}
	s.render(w, r, nil, "index.html", view)
}

func (s *Server) indexView(r *http.Request) (indexView, error) {
	view := indexView{page: page{Title: "เช็คค่าบำรุง", Nav: "lookup"}, Recent: readRecent(r)}
	if s.community != nil {
		list, err := s.community.ListAnnouncements(r.Context(), true)
		if err != nil {
			return view, err
		}
		if len(list) > indexAnnouncements {
			list = list[:indexAnnouncements]
		}
		view.Announcements = list
	}
	return view, nil
}

// handleLookup answers GET /ui/lookup?id=. Not found is a 404 with the
// not-found partial; a sheet failure is a 502 error fragment.
func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	input := sanitizeInput(r.URL.Query().Get("id"))
	res, err := s.dues.Lookup(r.Context(), input)

	lv := &lookupView{Result: res}
	resp := NewHTMXResponse()
	switch {
	case err == nil:
	case errors.Is(err, core.ErrStudentNotFound):
		lv.NotFound = true
		resp.Status(http.StatusNotFound)
	default:
		if errors.Is(err, core.ErrInvalidInput) {
			s.appMetrics.countLookup("invalid")
		} else {
			s.appMetrics.countLookup("error")
		}
		s.fail(w, r, log.OpLookup, err)
		return
	}
	s.appMetrics.countLookup(res.Status.String())

	if res.Status == services.LookupFound {
		ids := pushRecent(readRecent(r), res.Summary.StudentID)
		writeRecent(w, ids, s.cookieSecure)
		resp.TriggerRecentUpdated(ids)
	}

	if isHTMX(r) {
		s.render(w, r, resp, "lookup-result", lv)
		return
	}
	view, err := s.indexView(r)
	if err != nil {
		s.fail(w, r, log.OpRender, err)
		return
	}
	view.Lookup = lv
	s.render(w, r, resp, "index.html", view)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, nil, "recent", readRecent(r))
}

func (s *Server) handleRoster(w http.ResponseWriter, r *http.Request) {
	rows, err := s.dues.Roster(r.Context())
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	view := rosterView{page: page{Title: "รายชื่อค้างชำระ", Nav: "roster", Admin: s.isAdmin(r)}, Rows: rows}
	if isHTMX(r) {
		s.render(w, r, nil, "roster-table", view)
		return
	}
	s.render(w, r, nil, "roster.html", view)
}

// handleMonth shows who still owes for ?period=, defaulting to the newest.
func (s *Server) handleMonth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	month, err := s.dues.MonthOutstanding(ctx, sanitizeInput(r.URL.Query().Get("period")))
	if err != nil {
		s.fail(w, r, log.OpRead, err)
		return
	}
	if isHTMX(r) {
		s.render(w, r, nil, "month-table", month)
		return
	}
	periods, err := s.dues.Periods(ctx)
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	s.render(w, r, nil, "month.html", monthView{
		page:     page{Title: "ค้างชำระรายเดือน", Nav: "month"},
		Periods:  periods,
		Selected: month.PeriodName,
		Month:    month,
	})
}

// handleRefresh drops the dues caches. Each refresh costs a full re-read of
// the spreadsheet, so only admins may trigger it.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.dues.Refresh(r.Context())
	if !isHTMX(r) {
		Redirect(w, r, "/dashboard")
		return
	}
	NewHTMXResponse().
		Status(http.StatusNoContent).
		TriggerDuesRefreshed().
		TriggerSuccessNotification("โหลดข้อมูลใหม่แล้ว").
		Write(w)
}

// handleDashboard renders the treasury overview. A failing summary sheet
// only blanks the fund panel; the roster data must load.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view := dashboardView{page: page{Title: "ภาพรวมกองทุน", Nav: "dashboard", Admin: s.isAdmin(r)}}

	periods, err := s.dues.Periods(ctx)
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	view.Periods = periods
	if len(periods) > 0 {
		if view.Month, err = s.dues.MonthOutstanding(ctx, periods[0]); err != nil {
			s.fail(w, r, log.OpRead, err)
			return
		}
	}

	fund, err := s.dues.FundSummary(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "Fund summary unavailable", log.FieldError, err)
		view.FundError = messageFor(err)
	}
	view.Fund = fund
	view.Cache = s.dues.CacheStatus()

	s.render(w, r, nil, "dashboard.html", view)
}

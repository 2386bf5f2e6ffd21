package http

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"duescheck/internal/auth"
	"duescheck/internal/core"
	"duescheck/internal/log"
	"duescheck/internal/media"
	"duescheck/internal/realtime"
	"duescheck/internal/services"
	"duescheck/internal/sheets"
	"duescheck/internal/sheets/memory"
	"duescheck/internal/storage"
)

const testPassword = "club-secret"

type testEnv struct {
	srv       *Server
	store     *memory.Store
	repo      *storage.SQLiteRepository
	community *services.CommunityService
}

type brokenReader struct{}

func (brokenReader) ListPeriods(context.Context) ([]string, error) {
	return nil, errors.New("quota exceeded")
}

func (brokenReader) ReadPeriod(context.Context, string) (core.MonthlySheet, error) {
	return core.MonthlySheet{}, errors.New("unreachable")
}

func rec(id, name string, w1, w2, w3, w4 bool) core.StudentWeekRecord {
	return core.StudentWeekRecord{StudentID: id, StudentName: name, Weeks: [4]bool{w1, w2, w3, w4}}
}

func newTestEnv(t *testing.T, periods sheets.PeriodReader) *testEnv {
	t.Helper()
	return newLoggedTestEnv(t, periods, nil)
}

func newLoggedTestEnv(t *testing.T, periods sheets.PeriodReader, logger *log.Logger) *testEnv {
	t.Helper()
	ctx := context.Background()

	store := memory.New()
	store.PutSheet(core.MonthlySheet{PeriodName: "ตุลาคม (68)", Records: []core.StudentWeekRecord{
		rec("6810610059", "Somchai", true, true, false, false),
		rec("6810610001", "Anan", true, true, true, true),
		rec("6810610101", "Boon", false, false, false, false),
	}})
	store.PutSheet(core.MonthlySheet{PeriodName: "พฤศจิกายน (68)", Records: []core.StudentWeekRecord{
		rec("6810610059", "Somchai", true, true, true, true),
		rec("6810610101", "Boon", true, false, true, true),
		rec("6810620101", "Chai", false, true, true, true),
	}})
	if periods == nil {
		periods = store
	}

	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "http.db"))
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	hub := realtime.NewHub(8)
	search := services.NewSearchLogService(repo, nil)
	cfg := services.DefaultDuesConfig()
	cfg.ShortCodes = core.ShortCodeExpander{Prefixes: []string{"6810610", "6810620"}, IDLength: 10}
	dues := services.NewDuesService(periods, store, search, cfg, nil)
	community := services.NewCommunityService(repo, hub, nil)

	authSvc, err := auth.NewService(repo, "test-secret-0123456789", time.Hour, nil)
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	if err := authSvc.Bootstrap(ctx, testPassword); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	mediaStore, err := media.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("media: %v", err)
	}

	srv, err := NewServer(Options{Addr: ":0", RateLimitPerMinute: 1000, StreamKeepAlive: time.Second}, Dependencies{
		Dues:      dues,
		Search:    search,
		Community: community,
		Auth:      authSvc,
		Media:     mediaStore,
		Hub:       hub,
		Storage:   repo,
	}, logger)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testEnv{srv: srv, store: store, repo: repo, community: community}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func htmx(req *http.Request) *http.Request {
	req.Header.Set("HX-Request", "true")
	return req
}

func formPost(path string, values url.Values, cookies ...*http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func cookieNamed(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (e *testEnv) login(t *testing.T) *http.Cookie {
	t.Helper()
	rr := e.do(formPost("/admin/login", url.Values{"password": {testPassword}}))
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("login status = %d", rr.Code)
	}
	c := cookieNamed(rr, auth.CookieName)
	if c == nil {
		t.Fatal("login did not set session cookie")
	}
	return c
}

func TestIndexAndHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("index status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "เช็คค่าบำรุง") {
		t.Fatal("index body missing heading")
	}
	if rr.Header().Get("Content-Security-Policy") == "" {
		t.Fatal("security headers missing")
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("request id missing")
	}

	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/static/app.css"} {
		rr := env.do(httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, rr.Code)
		}
	}

	rr = env.do(httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown path status = %d", rr.Code)
	}
}

func TestReadyReportsBrokenSource(t *testing.T) {
	env := newTestEnv(t, brokenReader{})
	rr := env.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "dues_source") {
		t.Fatalf("readyz body = %s", rr.Body.String())
	}
}

func TestLookup(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name       string
		id         string
		htmx       bool
		wantStatus int
		wantBody   []string
		wantCookie string
	}{
		{name: "short code", id: "59", htmx: true, wantStatus: http.StatusOK, wantBody: []string{"Somchai", "6810610059", "40"}, wantCookie: "6810610059"},
		{name: "full id paid", id: "6810610001", htmx: true, wantStatus: http.StatusOK, wantBody: []string{"Anan", "ชำระครบแล้ว"}, wantCookie: "6810610001"},
		{name: "ambiguous", id: "101", htmx: true, wantStatus: http.StatusOK, wantBody: []string{"6810610101", "6810620101", "Boon", "Chai"}},
		{name: "not found", id: "6899999999", htmx: true, wantStatus: http.StatusNotFound, wantBody: []string{"ไม่พบรหัสนิสิต"}},
		{name: "empty", id: "", htmx: true, wantStatus: http.StatusUnprocessableEntity, wantBody: []string{`class="error"`}},
		{name: "full page", id: "59", wantStatus: http.StatusOK, wantBody: []string{"<!doctype html>", "Somchai"}, wantCookie: "6810610059"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ui/lookup?id="+url.QueryEscape(tt.id), nil)
			if tt.htmx {
				htmx(req)
			}
			rr := env.do(req)
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rr.Code, tt.wantStatus, rr.Body.String())
			}
			for _, want := range tt.wantBody {
				if !strings.Contains(rr.Body.String(), want) {
					t.Fatalf("body missing %q: %s", want, rr.Body.String())
				}
			}
			c := cookieNamed(rr, recentCookieName)
			if tt.wantCookie == "" {
				if c != nil {
					t.Fatalf("unexpected recent cookie %q", c.Value)
				}
				return
			}
			if c == nil || c.Value != tt.wantCookie {
				t.Fatalf("recent cookie = %v, want %q", c, tt.wantCookie)
			}
			if !strings.Contains(rr.Header().Get("HX-Trigger"), "recent:updated") {
				t.Fatalf("HX-Trigger = %q", rr.Header().Get("HX-Trigger"))
			}
		})
	}

	stats, err := env.repo.SearchStats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Unique != 2 {
		t.Fatalf("search history = %+v", stats)
	}
}

func TestLookupRecentMovesToFront(t *testing.T) {
	env := newTestEnv(t, nil)
	req := htmx(httptest.NewRequest(http.MethodGet, "/ui/lookup?id=59", nil))
	req.AddCookie(&http.Cookie{Name: recentCookieName, Value: "6810610001.6810610059.bogus"})
	rr := env.do(req)

	c := cookieNamed(rr, recentCookieName)
	if c == nil || c.Value != "6810610059.6810610001" {
		t.Fatalf("recent cookie = %v", c)
	}

	req = httptest.NewRequest(http.MethodGet, "/ui/recent", nil)
	req.AddCookie(c)
	rr = env.do(req)
	if !strings.Contains(rr.Body.String(), "6810610001") {
		t.Fatalf("recent partial = %s", rr.Body.String())
	}
}

func TestLookupFetchErrorIsBadGateway(t *testing.T) {
	env := newTestEnv(t, brokenReader{})
	rr := env.do(htmx(httptest.NewRequest(http.MethodGet, "/ui/lookup?id=59", nil)))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "ไม่พบรหัสนิสิต") {
		t.Fatal("fetch failure rendered as not found")
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestFailureLogCarriesRequestID(t *testing.T) {
	out := &lockedBuffer{}
	logger := log.New(log.Config{Component: log.ComponentApp, Handler: slog.NewTextHandler(out, nil)})
	env := newLoggedTestEnv(t, brokenReader{}, logger)

	req := htmx(httptest.NewRequest(http.MethodGet, "/ui/lookup?id=59", nil))
	req.Header.Set("X-Request-ID", "req-lookup-1")
	rr := env.do(req)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Header().Get("HX-Trigger"), "show-notification") {
		t.Fatalf("expected an error toast, got %q", rr.Header().Get("HX-Trigger"))
	}

	var failed string
	for _, line := range strings.Split(out.String(), "\n") {
		if strings.Contains(line, "Request failed") {
			failed = line
		}
	}
	for _, want := range []string{"level=ERROR", "request_id=req-lookup-1", "operation=lookup", "path=/ui/lookup", "component=http", "quota exceeded"} {
		if !strings.Contains(failed, want) {
			t.Fatalf("failure log %q missing %q", failed, want)
		}
	}
}

func TestRosterMonthAndDashboard(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/ui/roster", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "Boon") {
		t.Fatalf("roster status = %d", rr.Code)
	}
	body := rr.Body.String()
	if strings.Index(body, "Boon") > strings.Index(body, "Somchai") {
		t.Fatal("roster must rank the largest debt first")
	}

	rr = env.do(htmx(httptest.NewRequest(http.MethodGet, "/ui/month?period="+url.QueryEscape("ตุลาคม (68)"), nil)))
	if rr.Code != http.StatusOK {
		t.Fatalf("month status = %d", rr.Code)
	}
	for _, want := range []string{"Boon", "Somchai", "ตุลาคม (68)"} {
		if !strings.Contains(rr.Body.String(), want) {
			t.Fatalf("month body missing %q", want)
		}
	}
	if strings.Contains(rr.Body.String(), "Anan") {
		t.Fatal("paid student listed as outstanding")
	}

	rr = env.do(httptest.NewRequest(http.MethodGet, "/ui/month", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "<select") {
		t.Fatalf("month page status = %d", rr.Code)
	}

	rr = env.do(htmx(httptest.NewRequest(http.MethodGet, "/ui/month?period=nope", nil)))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown period status = %d", rr.Code)
	}

	rr = env.do(httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("dashboard status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "พฤศจิกายน (68)") {
		t.Fatal("dashboard must show the newest period")
	}
}

func TestRefresh(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(httptest.NewRequest(http.MethodGet, "/ui/roster", nil))
	reads := env.store.Reads()

	rr := env.do(htmx(httptest.NewRequest(http.MethodPost, "/refresh", nil)))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous htmx refresh = %d", rr.Code)
	}
	rr = env.do(httptest.NewRequest(http.MethodPost, "/refresh", nil))
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/admin/login" {
		t.Fatalf("anonymous refresh = %d %q", rr.Code, rr.Header().Get("Location"))
	}
	env.do(httptest.NewRequest(http.MethodGet, "/ui/roster", nil))
	if env.store.Reads() != reads {
		t.Fatal("anonymous refresh must not reload the sheets")
	}
	if strings.Contains(env.do(httptest.NewRequest(http.MethodGet, "/dashboard", nil)).Body.String(), `hx-post="/refresh"`) {
		t.Fatal("refresh button shown to anonymous visitor")
	}

	session := env.login(t)
	if !strings.Contains(env.do(withCookie(httptest.NewRequest(http.MethodGet, "/dashboard", nil), session)).Body.String(), `hx-post="/refresh"`) {
		t.Fatal("refresh button missing for admin")
	}

	rr = env.do(withCookie(htmx(httptest.NewRequest(http.MethodPost, "/refresh", nil)), session))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("refresh status = %d", rr.Code)
	}
	if !strings.Contains(rr.Header().Get("HX-Trigger"), "dues:refreshed") {
		t.Fatalf("HX-Trigger = %q", rr.Header().Get("HX-Trigger"))
	}

	env.do(httptest.NewRequest(http.MethodGet, "/ui/roster", nil))
	if env.store.Reads() <= reads {
		t.Fatal("refresh must force a reload")
	}

	rr = env.do(withCookie(httptest.NewRequest(http.MethodPost, "/refresh", nil), session))
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/dashboard" {
		t.Fatalf("plain refresh = %d %q", rr.Code, rr.Header().Get("Location"))
	}
}

func withCookie(req *http.Request, c *http.Cookie) *http.Request {
	req.AddCookie(c)
	return req
}

func TestAdminFlow(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/admin", nil))
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/admin/login" {
		t.Fatalf("anonymous admin = %d %q", rr.Code, rr.Header().Get("Location"))
	}

	rr = env.do(formPost("/admin/login", url.Values{"password": {"wrong"}}))
	if rr.Code != http.StatusUnauthorized || !strings.Contains(rr.Body.String(), "รหัสผ่านไม่ถูกต้อง") {
		t.Fatalf("bad login = %d", rr.Code)
	}

	session := env.login(t)
	env.do(htmx(httptest.NewRequest(http.MethodGet, "/ui/lookup?id=59", nil)))

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.AddCookie(session)
	rr = env.do(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("admin status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "ค้นหาทั้งหมด 1 ครั้ง") {
		t.Fatal("admin panel missing search stats")
	}

	rr = env.do(formPost("/admin/announcements", url.Values{
		"title":       {"Club day"},
		"description": {"Bring shoes"},
		"published":   {"on"},
	}, session))
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("create announcement = %d: %s", rr.Code, rr.Body.String())
	}
	list, _ := env.community.ListAnnouncements(context.Background(), true)
	if len(list) != 1 {
		t.Fatalf("announcements = %d", len(list))
	}
	id := strconv.FormatInt(list[0].ID, 10)

	rr = env.do(httptest.NewRequest(http.MethodGet, "/announcements", nil))
	if !strings.Contains(rr.Body.String(), "Club day") {
		t.Fatal("published announcement not listed")
	}

	rr = env.do(formPost("/admin/announcements/"+id, url.Values{"title": {"Club day"}}, session))
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("update announcement = %d", rr.Code)
	}
	rr = env.do(httptest.NewRequest(http.MethodGet, "/announcements", nil))
	if strings.Contains(rr.Body.String(), "Club day") {
		t.Fatal("unpublished announcement still public")
	}

	rr = env.do(formPost("/admin/announcements", url.Values{"title": {""}}, session))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("empty title = %d", rr.Code)
	}

	rr = env.do(htmx(formPost("/admin/announcements/"+id+"/delete", nil, session)))
	if rr.Code != http.StatusOK || rr.Header().Get("HX-Redirect") != "/admin" {
		t.Fatalf("delete = %d %q", rr.Code, rr.Header().Get("HX-Redirect"))
	}
	if _, err := env.community.GetAnnouncement(context.Background(), list[0].ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("announcement still present: %v", err)
	}

	rr = env.do(formPost("/admin/polls", url.Values{"question": {"Next venue?"}, "option": {"Gym", "Hall", ""}}, session))
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("create poll = %d: %s", rr.Code, rr.Body.String())
	}
	polls, _ := env.community.ListPolls(context.Background(), false, 0)
	if len(polls) != 1 || len(polls[0].Options) != 2 {
		t.Fatalf("polls = %+v", polls)
	}
	pollID := strconv.FormatInt(polls[0].ID, 10)
	if rr := env.do(formPost("/admin/polls/"+pollID+"/toggle", nil, session)); rr.Code != http.StatusSeeOther {
		t.Fatalf("toggle = %d", rr.Code)
	}
	if rr := env.do(formPost("/admin/polls/"+pollID+"/delete", nil, session)); rr.Code != http.StatusSeeOther {
		t.Fatalf("delete poll = %d", rr.Code)
	}

	rr = env.do(formPost("/admin/password", url.Values{
		"current_password": {testPassword},
		"new_password":     {"brand-new-pass"},
		"confirm_password": {"brand-new-pass"},
	}, session))
	if rr.Code != http.StatusOK {
		t.Fatalf("change password = %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.do(formPost("/admin/logout", nil, session))
	c := cookieNamed(rr, auth.CookieName)
	if c == nil || c.MaxAge >= 0 {
		t.Fatalf("logout cookie = %v", c)
	}
}

func pngUpload(t *testing.T, field string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, "banner.png")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	_, _ = fw.Write(data)
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/admin/banner", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestBannerUpload(t *testing.T) {
	env := newTestEnv(t, nil)
	session := env.login(t)

	var img bytes.Buffer
	if err := png.Encode(&img, image.NewRGBA(image.Rect(0, 0, 40, 20))); err != nil {
		t.Fatalf("encode: %v", err)
	}

	req := pngUpload(t, "banner", img.Bytes())
	req.AddCookie(session)
	rr := env.do(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("upload = %d: %s", rr.Code, rr.Body.String())
	}
	body := rr.Body.String()
	start := strings.Index(body, media.URLPrefix)
	if !strings.Contains(body, `name="banner_url"`) || start < 0 {
		t.Fatalf("upload body = %s", body)
	}
	bannerURL := body[start : start+strings.Index(body[start:], `"`)]

	rr = env.do(httptest.NewRequest(http.MethodGet, bannerURL, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("serve banner %s = %d", bannerURL, rr.Code)
	}

	req = pngUpload(t, "banner", []byte("plain text"))
	req.AddCookie(session)
	if rr := env.do(req); rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("text upload = %d", rr.Code)
	}

	req = pngUpload(t, "banner", img.Bytes())
	if rr := env.do(req); rr.Code != http.StatusSeeOther {
		t.Fatalf("anonymous upload = %d", rr.Code)
	}
}

func TestChatFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	rr := env.do(htmx(formPost("/chat/messages", url.Values{"body": {"hi"}})))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous message = %d", rr.Code)
	}

	rr = env.do(formPost("/chat/nickname", url.Values{"nickname": {"Ann"}}))
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("register = %d: %s", rr.Code, rr.Body.String())
	}
	session := cookieNamed(rr, chatCookieName)
	if session == nil || session.Value == "" {
		t.Fatal("chat session cookie missing")
	}

	if rr := env.do(formPost("/chat/nickname", url.Values{"nickname": {"Ann"}})); rr.Code != http.StatusConflict {
		t.Fatalf("duplicate nickname = %d", rr.Code)
	}
	rr = env.do(httptest.NewRequest(http.MethodGet, "/chat/nickname/available?nickname=Ann", nil))
	if !strings.Contains(rr.Body.String(), "ชื่อนี้ถูกใช้แล้ว") {
		t.Fatalf("availability = %s", rr.Body.String())
	}

	rr = env.do(htmx(formPost("/chat/messages", url.Values{"body": {"hello club"}}, session)))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("post message = %d: %s", rr.Code, rr.Body.String())
	}
	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	req.AddCookie(session)
	rr = env.do(req)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "hello club") {
		t.Fatalf("chat page = %d", rr.Code)
	}

	poll, err := env.community.CreatePoll(ctx, core.PollDraft{Question: "Snacks?", Options: []string{"Yes", "No"}})
	if err != nil {
		t.Fatalf("create poll: %v", err)
	}
	votePath := "/polls/" + strconv.FormatInt(poll.ID, 10) + "/vote"
	option := strconv.FormatInt(poll.Options[0].ID, 10)

	tests := []struct {
		name       string
		values     url.Values
		cookie     *http.Cookie
		wantStatus int
	}{
		{name: "anonymous", values: url.Values{"option": {option}}, wantStatus: http.StatusUnauthorized},
		{name: "missing option", values: url.Values{}, cookie: session, wantStatus: http.StatusUnprocessableEntity},
		{name: "foreign option", values: url.Values{"option": {"9999"}}, cookie: session, wantStatus: http.StatusUnprocessableEntity},
		{name: "vote", values: url.Values{"option": {option}}, cookie: session, wantStatus: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cookies []*http.Cookie
			if tt.cookie != nil {
				cookies = append(cookies, tt.cookie)
			}
			rr := env.do(htmx(formPost(votePath, tt.values, cookies...)))
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if tt.wantStatus == http.StatusOK && !strings.Contains(rr.Body.String(), "mine") {
				t.Fatalf("vote card does not mark the choice: %s", rr.Body.String())
			}
		})
	}
}

func TestChatStream(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.srv.Handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/chat/stream", nil)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil || strings.TrimSpace(line) != ": connected" {
		t.Fatalf("first line = %q, %v", line, err)
	}

	user, err := env.community.RegisterNickname(ctx, "Bob")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := env.community.PostMessage(ctx, user.SessionID, "hello stream"); err != nil {
		t.Fatalf("post: %v", err)
	}

	var event string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: ") && strings.Contains(line, "hello stream"):
			if event != realtime.EventChatMessage {
				t.Fatalf("event = %q", event)
			}
			return
		}
	}
}

func TestWriteEvent(t *testing.T) {
	var buf bytes.Buffer
	if err := writeEvent(&buf, "message", "<div>\n  hi\r\n</div>"); err != nil {
		t.Fatalf("write: %v", err)
	}
	want := "event: message\ndata: <div>\ndata:   hi\ndata: </div>\n\n"
	if buf.String() != want {
		t.Fatalf("frame = %q, want %q", buf.String(), want)
	}
}

func TestRateLimitedLookups(t *testing.T) {
	env := newTestEnv(t, nil)
	env.srv, _ = NewServer(Options{RateLimitPerMinute: 2}, Dependencies{
		Dues:      env.srv.dues,
		Community: env.srv.community,
		Auth:      env.srv.auth,
		Hub:       realtime.NewHub(1),
	}, nil)
	t.Cleanup(func() { _ = env.srv.Shutdown(context.Background()) })

	for i := 0; i < 2; i++ {
		if rr := env.do(htmx(httptest.NewRequest(http.MethodGet, "/ui/lookup?id=59", nil))); rr.Code != http.StatusOK {
			t.Fatalf("lookup %d = %d", i, rr.Code)
		}
	}
	rr := env.do(htmx(httptest.NewRequest(http.MethodGet, "/ui/lookup?id=59", nil)))
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") == "" {
		t.Fatalf("third lookup = %d", rr.Code)
	}
	if rr := env.do(httptest.NewRequest(http.MethodGet, "/", nil)); rr.Code != http.StatusOK {
		t.Fatalf("pages are not limited: %d", rr.Code)
	}
}

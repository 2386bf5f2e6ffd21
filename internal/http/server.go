package http

import (
	"bytes"
	"context"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"time"

	"duescheck/internal/auth"
	"duescheck/internal/log"
	"duescheck/internal/media"
	"duescheck/internal/middleware/ratelimit"
	"duescheck/internal/middleware/security"
	"duescheck/internal/middleware/trace"
	"duescheck/internal/realtime"
	"duescheck/internal/services"
	appweb "duescheck/web"
)

// Pinger reports whether the local database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the services the handlers call. Search, Media and
// Storage may be nil.
type Dependencies struct {
	Dues      *services.DuesService
	Search    *services.SearchLogService
	Community *services.CommunityService
	Auth      *auth.Service
	Media     *media.Store
	Hub       *realtime.Hub
	Storage   Pinger
}

// Options tune the HTTP surface.
type Options struct {
	Addr               string
	RateLimitPerMinute int
	CookieSecure       bool
	// StreamKeepAlive is the comment interval on /chat/stream.
	StreamKeepAlive time.Duration
}

type appMetrics struct {
	uptime time.Time

	mu      sync.Mutex
	lookups map[string]int64
}

func (m *appMetrics) countLookup(result string) {
	m.mu.Lock()
	m.lookups[result]++
	m.mu.Unlock()
}

func (m *appMetrics) lookupCounts() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.lookups))
	for k, v := range m.lookups {
		out[k] = v
	}
	return out
}

type Server struct {
	http.Server
	templates *template.Template
	logger    *log.Logger

	dues      *services.DuesService
	search    *services.SearchLogService
	community *services.CommunityService
	auth      *auth.Service
	media     *media.Store
	hub       *realtime.Hub
	storage   Pinger

	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware

	cookieSecure bool
	keepAlive    time.Duration
	appMetrics   *appMetrics
	shutdownOnce sync.Once
}

// NewServer parses the embedded templates, mounts every route and wraps the
// mux in tracing, scanner blocking, security headers and rate limiting.
func NewServer(opts Options, deps Dependencies, logger *log.Logger) (*Server, error) {
	if logger == nil {
		logger = log.Discard()
	}
	if opts.StreamKeepAlive <= 0 {
		opts.StreamKeepAlive = 25 * time.Second
	}

	t, err := template.New("").Funcs(templateFuncs).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	s := &Server{
		templates:        t,
		logger:           logger.WithComponent(log.ComponentHTTP),
		dues:             deps.Dues,
		search:           deps.Search,
		community:        deps.Community,
		auth:             deps.Auth,
		media:            deps.Media,
		hub:              deps.Hub,
		storage:          deps.Storage,
		securityDetector: security.NewDetector(logger),
		rateLimiter:      ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
		cookieSecure:     opts.CookieSecure,
		keepAlive:        opts.StreamKeepAlive,
		appMetrics:       &appMetrics{uptime: time.Now(), lookups: map[string]int64{}},
	}
	s.traceMiddleware = trace.NewMiddleware(s.securityDetector.ExtractClientIP, logger)

	mux := http.NewServeMux()
	s.routes(mux)

	var handler http.Handler = mux
	handler = s.rateLimiter.Middleware(s.securityDetector.ExtractClientIP, limited, s.handleRateLimited)(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = s.securityDetector.Middleware(handler)
	handler = s.traceMiddleware.Middleware(handler)

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) routes(mux *http.ServeMux) {
	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(static))
	} else {
		s.logger.Warn("Failed to mount embedded static FS", log.FieldError, err)
	}
	if s.media != nil {
		mux.Handle("GET "+media.URLPrefix, security.StaticAssetMiddleware(86400)(s.media.Handler()))
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	// Dues
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /ui/lookup", s.handleLookup)
	mux.HandleFunc("GET /ui/recent", s.handleRecent)
	mux.HandleFunc("GET /ui/roster", s.handleRoster)
	mux.HandleFunc("GET /ui/month", s.handleMonth)
	mux.Handle("POST /refresh", s.admin(s.handleRefresh))
	mux.HandleFunc("GET /dashboard", s.handleDashboard)

	// Community
	mux.HandleFunc("GET /announcements", s.handleAnnouncements)
	mux.HandleFunc("GET /chat", s.handleChat)
	mux.HandleFunc("GET /chat/nickname/available", s.handleNicknameAvailable)
	mux.HandleFunc("POST /chat/nickname", s.handleRegisterNickname)
	mux.HandleFunc("POST /chat/messages", s.handlePostMessage)
	mux.HandleFunc("GET /chat/polls", s.handleChatPolls)
	mux.HandleFunc("GET /chat/stream", s.handleChatStream)
	mux.HandleFunc("POST /polls/{id}/vote", s.handleVote)

	// Admin
	mux.HandleFunc("GET /admin/login", s.handleLoginPage)
	mux.HandleFunc("POST /admin/login", s.handleLogin)
	mux.HandleFunc("POST /admin/logout", s.handleLogout)
	mux.Handle("GET /admin", s.admin(s.handleAdmin))
	mux.Handle("POST /admin/announcements", s.admin(s.handleSaveAnnouncement))
	mux.Handle("POST /admin/announcements/{id}", s.admin(s.handleSaveAnnouncement))
	mux.Handle("POST /admin/announcements/{id}/delete", s.admin(s.handleDeleteAnnouncement))
	mux.Handle("POST /admin/banner", s.admin(s.handleUploadBanner))
	mux.Handle("POST /admin/polls", s.admin(s.handleCreatePoll))
	mux.Handle("POST /admin/polls/{id}/toggle", s.admin(s.handleTogglePoll))
	mux.Handle("POST /admin/polls/{id}/delete", s.admin(s.handleDeletePoll))
	mux.Handle("POST /admin/password", s.admin(s.handleChangePassword))
}

// limited selects what the rate limiter counts: every POST and every lookup.
func limited(r *http.Request) bool {
	return r.Method == http.MethodPost || r.URL.Path == "/ui/lookup"
}

func (s *Server) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	s.logger.WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.securityDetector.ExtractClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	ErrorResponse(http.StatusTooManyRequests, "ค้นหาบ่อยเกินไป กรุณารอสักครู่").Write(w)
}

func (s *Server) admin(h http.HandlerFunc) http.Handler {
	return s.auth.Middleware("/admin/login")(h)
}

func (s *Server) isAdmin(r *http.Request) bool {
	return s.auth != nil && s.auth.Authenticated(r)
}

// page is embedded in every full-page view model.
type page struct {
	Title string
	Nav   string
	Admin bool
}

// render executes name into a buffer first so a template error never
// leaves a half-written response. resp carries status and triggers; nil
// means a plain 200.
func (s *Server) render(w http.ResponseWriter, r *http.Request, resp *HTMXResponseBuilder, name string, data any) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		s.logger.ErrorContext(r.Context(), "Template execution failed",
			log.FieldError, err,
			log.FieldOperation, log.OpRender,
			"template", name)
		InternalServerError("เกิดข้อผิดพลาดในการแสดงผล").Write(w)
		return
	}
	if resp == nil {
		resp = NewHTMXResponse()
	}
	resp.Body(buf.Bytes()).Header("Content-Type", "text/html; charset=utf-8").Write(w)
}

// fail logs err through the request logger, so the line carries the
// request ID, and writes the error fragment.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	logger := log.FromContext(ctx, s.logger).WithComponent(log.ComponentHTTP)
	resp := errorResponse(err)
	if resp.statusCode >= http.StatusInternalServerError {
		log.NewStructuredLogger(logger).LogError(ctx, "Request failed", err, op, log.LogFields{log.FieldPath: r.URL.Path})
	} else {
		logger.InfoContext(ctx, "Request rejected", log.NewFields().WithOperation(op).WithError(err).ToSlice()...)
	}
	resp.Write(w)
}

func parseForm(w http.ResponseWriter, r *http.Request) bool {
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return false
	}
	return true
}

func isHTMX(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("HX-Request"), "true")
}

// Shutdown stops background goroutines, disconnects event streams and then
// shuts the HTTP server down.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		if s.hub != nil {
			s.hub.Close()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"duescheck/internal/auth"
	"duescheck/internal/core"
	"duescheck/internal/log"
	"duescheck/internal/media"
	"duescheck/internal/services"
	"duescheck/internal/storage"
)

type loginView struct {
	page
	Error string
}

type adminView struct {
	page
	Announcements []core.Announcement
	Polls         []core.Poll
	Editing       core.Announcement
	Stats         *storage.SearchStats
	Cache         services.CacheStatus
	Subscribers   int
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if s.auth.Authenticated(r) {
		http.Redirect(w, r, "/admin", http.StatusSeeOther)
		return
	}
	s.render(w, r, nil, "admin_login.html", loginView{page: page{Title: "เข้าสู่ระบบผู้ดูแล"}})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	token, exp, err := s.auth.Login(r.Context(), r.FormValue("password"))
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.fail(w, r, log.OpValidate, err)
			return
		}
		s.render(w, r, NewHTMXResponse().Status(status), "admin_login.html", loginView{
			page:  page{Title: "เข้าสู่ระบบผู้ดูแล"},
			Error: messageFor(err),
		})
		return
	}
	auth.SetCookie(w, token, exp, s.cookieSecure)
	s.logger.InfoContext(r.Context(), "Admin logged in",
		log.FieldClientIP, s.securityDetector.ExtractClientIP(r))
	Redirect(w, r, "/admin")
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	auth.ClearCookie(w, s.cookieSecure)
	Redirect(w, r, "/admin/login")
}

// handleAdmin renders the panel. ?edit=<id> preloads an announcement into
// the form.
func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view := adminView{page: page{Title: "ผู้ดูแล", Nav: "admin", Admin: true}}

	var err error
	if view.Announcements, err = s.community.ListAnnouncements(ctx, false); err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	if view.Polls, err = s.community.ListPolls(ctx, false, 0); err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	if raw := r.URL.Query().Get("edit"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.fail(w, r, log.OpRead, fmt.Errorf("%w: edit %q", core.ErrInvalidInput, raw))
			return
		}
		if view.Editing, err = s.community.GetAnnouncement(ctx, id); err != nil {
			s.fail(w, r, log.OpRead, err)
			return
		}
	}
	if s.search != nil {
		stats, err := s.search.Stats(ctx)
		if err != nil {
			s.logger.WarnContext(ctx, "Search stats unavailable", log.FieldError, err)
		} else {
			view.Stats = &stats
		}
	}
	view.Cache = s.dues.CacheStatus()
	if s.hub != nil {
		view.Subscribers = s.hub.Subscribers()
	}
	s.render(w, r, nil, "admin.html", view)
}

// handleSaveAnnouncement creates (no {id}) or updates an announcement. A
// replaced local banner is removed from disk.
func (s *Server) handleSaveAnnouncement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var (
		id  int64
		old core.Announcement
		err error
	)
	if r.PathValue("id") != "" {
		if id, err = PathID(r, "id"); err != nil {
			s.fail(w, r, log.OpUpdate, err)
			return
		}
		if old, err = s.community.GetAnnouncement(ctx, id); err != nil {
			s.fail(w, r, log.OpUpdate, err)
			return
		}
	}
	if !parseForm(w, r) {
		return
	}

	saved, err := s.community.SaveAnnouncement(ctx, core.Announcement{
		ID:          id,
		Title:       sanitizeInput(r.FormValue("title")),
		Description: sanitizeInput(r.FormValue("description")),
		BannerURL:   sanitizeInput(r.FormValue("banner_url")),
		ButtonLabel: sanitizeInput(r.FormValue("button_label")),
		ButtonLink:  sanitizeInput(r.FormValue("button_link")),
		Published:   FormBool(r.FormValue("published")),
	})
	if err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}
	if old.BannerURL != "" && old.BannerURL != saved.BannerURL {
		s.removeBanner(r, old.BannerURL)
	}
	s.adminDone(w, r, "บันทึกประกาศแล้ว", (*HTMXResponseBuilder).TriggerAnnouncementsChanged)
}

func (s *Server) handleDeleteAnnouncement(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r, "id")
	if err != nil {
		s.fail(w, r, log.OpDelete, err)
		return
	}
	deleted, err := s.community.DeleteAnnouncement(r.Context(), id)
	if err != nil {
		s.fail(w, r, log.OpDelete, err)
		return
	}
	s.removeBanner(r, deleted.BannerURL)
	s.adminDone(w, r, "ลบประกาศแล้ว", (*HTMXResponseBuilder).TriggerAnnouncementsChanged)
}

func (s *Server) removeBanner(r *http.Request, url string) {
	if s.media == nil || url == "" {
		return
	}
	if err := s.media.Remove(url); err != nil {
		s.logger.WarnContext(r.Context(), "Failed to remove banner",
			log.FieldError, err,
			"url", url)
	}
}

// handleUploadBanner stores a multipart "banner" file and returns the form
// field holding its URL together with a preview.
func (s *Server) handleUploadBanner(w http.ResponseWriter, r *http.Request) {
	if s.media == nil {
		ErrorResponse(http.StatusServiceUnavailable, "ไม่ได้ตั้งค่าที่เก็บไฟล์").Write(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, media.MaxUploadBytes+(1<<20))
	file, _, err := r.FormFile("banner")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = media.ErrTooLarge
		} else {
			err = fmt.Errorf("%w: banner file is required", core.ErrInvalidInput)
		}
		s.fail(w, r, log.OpCreate, err)
		return
	}
	defer file.Close()

	url, err := s.media.SaveBanner(r.Context(), file)
	if err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}
	s.render(w, r, nil, "banner-field", url)
}

func (s *Server) handleCreatePoll(w http.ResponseWriter, r *http.Request) {
	parser := NewRequestBodyParser(r)
	if err := parser.Parse(); err != nil {
		s.fail(w, r, log.OpCreate, fmt.Errorf("%w: %v", core.ErrInvalidInput, err))
		return
	}
	var options []string
	for _, o := range parser.GetAll("option") {
		if o != "" {
			options = append(options, o)
		}
	}
	if _, err := s.community.CreatePoll(r.Context(), core.PollDraft{
		Question: parser.Get("question"),
		Options:  options,
	}); err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}
	s.adminDone(w, r, "สร้างโพลแล้ว", (*HTMXResponseBuilder).TriggerPollsChanged)
}

func (s *Server) handleTogglePoll(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r, "id")
	if err != nil {
		s.fail(w, r, log.OpUpdate, err)
		return
	}
	p, err := s.community.TogglePoll(r.Context(), id)
	if err != nil {
		s.fail(w, r, log.OpUpdate, err)
		return
	}
	msg := "ปิดโพลแล้ว"
	if p.Active {
		msg = "เปิดโพลแล้ว"
	}
	s.adminDone(w, r, msg, (*HTMXResponseBuilder).TriggerPollsChanged)
}

func (s *Server) handleDeletePoll(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r, "id")
	if err != nil {
		s.fail(w, r, log.OpDelete, err)
		return
	}
	if err := s.community.DeletePoll(r.Context(), id); err != nil {
		s.fail(w, r, log.OpDelete, err)
		return
	}
	s.adminDone(w, r, "ลบโพลแล้ว", (*HTMXResponseBuilder).TriggerPollsChanged)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	next := r.FormValue("new_password")
	if next != r.FormValue("confirm_password") {
		s.fail(w, r, log.OpUpdate, fmt.Errorf("%w: passwords do not match", core.ErrInvalidInput))
		return
	}
	if err := s.auth.ChangePassword(r.Context(), r.FormValue("current_password"), next); err != nil {
		s.fail(w, r, log.OpUpdate, err)
		return
	}
	NewHTMXResponse().
		TriggerFormReset().
		TriggerSuccessNotification("เปลี่ยนรหัสผ่านแล้ว").
		BodyHTML(`<div class="success">เปลี่ยนรหัสผ่านแล้ว</div>`).
		Write(w)
}

// adminDone finishes a mutating admin request: HTMX callers reload the
// panel, plain form posts are redirected back to it.
func (s *Server) adminDone(w http.ResponseWriter, r *http.Request, message string, trigger func(*HTMXResponseBuilder) *HTMXResponseBuilder) {
	if !isHTMX(r) {
		http.Redirect(w, r, "/admin", http.StatusSeeOther)
		return
	}
	resp := NewHTMXResponse().
		Header("HX-Redirect", "/admin").
		TriggerSuccessNotification(message)
	trigger(resp).Write(w)
}

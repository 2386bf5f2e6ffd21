package http

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"duescheck/internal/core"
	"duescheck/internal/log"
	"duescheck/internal/realtime"
)

type announcementsView struct {
	page
	Announcements []core.Announcement
}

type pollListView struct {
	Polls   []core.Poll
	CanVote bool
}

type pollCardView struct {
	Poll    core.Poll
	CanVote bool
}

type nicknameStatus struct {
	Checked   bool
	Available bool
}

type chatView struct {
	page
	User     *core.ChatUser
	Messages []core.ChatMessage
	Polls    pollListView
}

func (s *Server) handleAnnouncements(w http.ResponseWriter, r *http.Request) {
	list, err := s.community.ListAnnouncements(r.Context(), true)
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	s.render(w, r, nil, "announcements.html", announcementsView{
		page:          page{Title: "ประกาศ", Nav: "announcements"},
		Announcements: list,
	})
}

// chatUser returns the registered user for the request, or nil.
func (s *Server) chatUser(r *http.Request) (*core.ChatUser, error) {
	u, err := s.community.UserBySession(r.Context(), chatSession(r))
	if errors.Is(err, core.ErrUnauthorizedUser) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Server) pollList(r *http.Request, user *core.ChatUser) (pollListView, error) {
	var viewer int64
	if user != nil {
		viewer = user.ID
	}
	polls, err := s.community.ListPolls(r.Context(), true, viewer)
	if err != nil {
		return pollListView{}, err
	}
	return pollListView{Polls: polls, CanVote: user != nil}, nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, err := s.chatUser(r)
	if err != nil {
		s.fail(w, r, log.OpRead, err)
		return
	}
	messages, err := s.community.RecentMessages(ctx)
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	polls, err := s.pollList(r, user)
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	s.render(w, r, nil, "chat.html", chatView{
		page:     page{Title: "แชท", Nav: "chat"},
		User:     user,
		Messages: messages,
		Polls:    polls,
	})
}

func (s *Server) handleNicknameAvailable(w http.ResponseWriter, r *http.Request) {
	nickname := sanitizeInput(r.URL.Query().Get("nickname"))
	if nickname == "" {
		s.render(w, r, nil, "nickname-status", nicknameStatus{})
		return
	}
	ok, err := s.community.NicknameAvailable(r.Context(), nickname)
	if err != nil {
		s.fail(w, r, log.OpRead, err)
		return
	}
	s.render(w, r, nil, "nickname-status", nicknameStatus{Checked: true, Available: ok})
}

func (s *Server) handleRegisterNickname(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	user, err := s.community.RegisterNickname(r.Context(), sanitizeInput(r.FormValue("nickname")))
	if err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}
	writeChatSession(w, user.SessionID, s.cookieSecure)
	Redirect(w, r, "/chat")
}

// handlePostMessage stores the message; every open stream, the sender's
// included, receives it over SSE.
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	parser := NewRequestBodyParser(r)
	if err := parser.Parse(); err != nil {
		s.fail(w, r, log.OpCreate, fmt.Errorf("%w: %v", core.ErrInvalidInput, err))
		return
	}
	if _, err := s.community.PostMessage(r.Context(), chatSession(r), parser.Get("body")); err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}
	if !isHTMX(r) {
		Redirect(w, r, "/chat")
		return
	}
	NewHTMXResponse().Status(http.StatusNoContent).TriggerFormReset().Write(w)
}

func (s *Server) handleChatPolls(w http.ResponseWriter, r *http.Request) {
	user, err := s.chatUser(r)
	if err != nil {
		s.fail(w, r, log.OpRead, err)
		return
	}
	polls, err := s.pollList(r, user)
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	s.render(w, r, nil, "poll-list", polls)
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	pollID, err := PathID(r, "id")
	if err != nil {
		s.fail(w, r, log.OpUpdate, err)
		return
	}
	if !parseForm(w, r) {
		return
	}
	optionID, err := strconv.ParseInt(r.FormValue("option"), 10, 64)
	if err != nil || optionID <= 0 {
		s.fail(w, r, log.OpUpdate, fmt.Errorf("%w: option is required", core.ErrInvalidInput))
		return
	}
	poll, err := s.community.Vote(r.Context(), chatSession(r), pollID, optionID)
	if err != nil {
		s.fail(w, r, log.OpUpdate, err)
		return
	}
	s.render(w, r, nil, "poll-card", pollCardView{Poll: poll, CanVote: true})
}

// handleChatStream serves GET /chat/stream as Server-Sent Events. Chat
// messages arrive as rendered HTML; poll events carry only the poll ID and
// make the page reload its poll list.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		ErrorResponse(http.StatusServiceUnavailable, "ระบบแชทยังไม่พร้อม").Write(w)
		return
	}
	ctx := r.Context()
	rc := http.NewResponseController(w)

	events, cancel := s.hub.Subscribe()
	defer cancel()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		s.logger.WarnContext(ctx, "Event stream cannot flush", log.FieldError, err)
		return
	}

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := s.renderEvent(ev)
			if err != nil {
				s.logger.ErrorContext(ctx, "Failed to render stream event",
					log.FieldError, err,
					"event", ev.Name)
				continue
			}
			if err := writeEvent(w, ev.Name, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func (s *Server) renderEvent(ev realtime.Event) (string, error) {
	switch p := ev.Payload.(type) {
	case core.ChatMessage:
		var buf bytes.Buffer
		if err := s.templates.ExecuteTemplate(&buf, "chat-message", p); err != nil {
			return "", err
		}
		return buf.String(), nil
	case core.Poll:
		return strconv.FormatInt(p.ID, 10), nil
	case int64:
		return strconv.FormatInt(p, 10), nil
	}
	return "", fmt.Errorf("unexpected payload %T for event %q", ev.Payload, ev.Name)
}

// writeEvent frames data as one SSE event, one data line per text line.
func writeEvent(w io.Writer, name, data string) error {
	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(name)
	b.WriteByte('\n')
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(strings.TrimRight(line, "\r"))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}

package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"duescheck/internal/core"
	"duescheck/internal/log"
	"duescheck/internal/realtime"
	"duescheck/internal/storage"
)

// ChatHistoryLimit is how many messages the chat page loads.
const ChatHistoryLimit = 100

// CommunityService validates community input, persists it and notifies the
// realtime hub.
type CommunityService struct {
	storage *storage.SQLiteRepository
	hub     *realtime.Hub
	logger  *log.Logger
}

func NewCommunityService(storage *storage.SQLiteRepository, hub *realtime.Hub, logger *log.Logger) *CommunityService {
	if logger == nil {
		logger = log.Discard()
	}
	return &CommunityService{
		storage: storage,
		hub:     hub,
		logger:  logger.WithComponent(log.ComponentCommunity),
	}
}

func (s *CommunityService) notify(name string, payload any) {
	if s.hub != nil {
		s.hub.Publish(realtime.Event{Name: name, Payload: payload})
	}
}

// Announcements

func (s *CommunityService) ListAnnouncements(ctx context.Context, publishedOnly bool) ([]core.Announcement, error) {
	return s.storage.ListAnnouncements(ctx, publishedOnly)
}

func (s *CommunityService) GetAnnouncement(ctx context.Context, id int64) (core.Announcement, error) {
	return s.storage.GetAnnouncement(ctx, id)
}

func (s *CommunityService) SaveAnnouncement(ctx context.Context, a core.Announcement) (core.Announcement, error) {
	a.Normalize()
	if err := a.Validate(); err != nil {
		return core.Announcement{}, err
	}
	var (
		saved core.Announcement
		err   error
		op    = log.OpCreate
	)
	if a.ID == 0 {
		saved, err = s.storage.CreateAnnouncement(ctx, a)
	} else {
		op = log.OpUpdate
		saved, err = s.storage.UpdateAnnouncement(ctx, a)
	}
	if err != nil {
		return core.Announcement{}, err
	}
	s.logger.InfoContext(ctx, "Announcement saved",
		log.FieldOperation, op,
		log.FieldEntityID, saved.ID)
	return saved, nil
}

// DeleteAnnouncement removes the announcement and returns it so the caller
// can release its banner.
func (s *CommunityService) DeleteAnnouncement(ctx context.Context, id int64) (core.Announcement, error) {
	a, err := s.storage.GetAnnouncement(ctx, id)
	if err != nil {
		return core.Announcement{}, err
	}
	if err := s.storage.DeleteAnnouncement(ctx, id); err != nil {
		return core.Announcement{}, err
	}
	s.logger.InfoContext(ctx, "Announcement deleted",
		log.FieldOperation, log.OpDelete,
		log.FieldEntityID, id)
	return a, nil
}

// Chat

// RegisterNickname creates a chat user with a fresh session ID.
func (s *CommunityService) RegisterNickname(ctx context.Context, nickname string) (core.ChatUser, error) {
	u := core.ChatUser{Nickname: nickname}
	u.Normalize()
	if err := u.Validate(); err != nil {
		return core.ChatUser{}, err
	}
	created, err := s.storage.CreateChatUser(ctx, u.Nickname, uuid.NewString())
	if err != nil {
		return core.ChatUser{}, err
	}
	s.logger.InfoContext(ctx, "Chat user registered", log.FieldEntityID, created.ID)
	return created, nil
}

// UserBySession returns the chat user for a session cookie value.
func (s *CommunityService) UserBySession(ctx context.Context, sessionID string) (core.ChatUser, error) {
	if sessionID == "" {
		return core.ChatUser{}, core.ErrUnauthorizedUser
	}
	u, err := s.storage.ChatUserBySession(ctx, sessionID)
	if errors.Is(err, core.ErrNotFound) {
		return core.ChatUser{}, core.ErrUnauthorizedUser
	}
	return u, err
}

func (s *CommunityService) NicknameAvailable(ctx context.Context, nickname string) (bool, error) {
	u := core.ChatUser{Nickname: nickname}
	u.Normalize()
	return s.storage.NicknameAvailable(ctx, u.Nickname)
}

// PostMessage stores a message from the session's user and broadcasts it.
func (s *CommunityService) PostMessage(ctx context.Context, sessionID, body string) (core.ChatMessage, error) {
	u, err := s.UserBySession(ctx, sessionID)
	if err != nil {
		return core.ChatMessage{}, err
	}
	m := core.ChatMessage{UserID: u.ID, Body: body}
	m.Normalize()
	if err := m.Validate(); err != nil {
		return core.ChatMessage{}, err
	}
	saved, err := s.storage.InsertChatMessage(ctx, u.ID, m.Body)
	if err != nil {
		return core.ChatMessage{}, err
	}
	s.notify(realtime.EventChatMessage, saved)
	return saved, nil
}

func (s *CommunityService) RecentMessages(ctx context.Context) ([]core.ChatMessage, error) {
	return s.storage.RecentChatMessages(ctx, ChatHistoryLimit)
}

// Polls

func (s *CommunityService) CreatePoll(ctx context.Context, d core.PollDraft) (core.Poll, error) {
	d.Normalize()
	if err := d.Validate(); err != nil {
		return core.Poll{}, err
	}
	p, err := s.storage.CreatePoll(ctx, d)
	if err != nil {
		return core.Poll{}, err
	}
	s.logger.InfoContext(ctx, "Poll created",
		log.FieldEntityID, p.ID,
		log.FieldCount, len(p.Options))
	s.notify(realtime.EventPoll, p)
	return p, nil
}

func (s *CommunityService) ListPolls(ctx context.Context, activeOnly bool, viewerID int64) ([]core.Poll, error) {
	return s.storage.ListPolls(ctx, activeOnly, viewerID)
}

// TogglePoll flips the active flag and returns the new state.
func (s *CommunityService) TogglePoll(ctx context.Context, id int64) (core.Poll, error) {
	p, err := s.storage.GetPoll(ctx, id, 0)
	if err != nil {
		return core.Poll{}, err
	}
	if err := s.storage.SetPollActive(ctx, id, !p.Active); err != nil {
		return core.Poll{}, err
	}
	p.Active = !p.Active
	s.notify(realtime.EventPoll, p)
	return p, nil
}

func (s *CommunityService) DeletePoll(ctx context.Context, id int64) error {
	if err := s.storage.DeletePoll(ctx, id); err != nil {
		return err
	}
	s.notify(realtime.EventPollDeleted, id)
	return nil
}

// Vote records the session user's choice and returns the updated poll as
// that user sees it.
func (s *CommunityService) Vote(ctx context.Context, sessionID string, pollID, optionID int64) (core.Poll, error) {
	u, err := s.UserBySession(ctx, sessionID)
	if err != nil {
		return core.Poll{}, err
	}
	if err := s.storage.Vote(ctx, pollID, optionID, u.ID); err != nil {
		return core.Poll{}, fmt.Errorf("vote: %w", err)
	}
	p, err := s.storage.GetPoll(ctx, pollID, u.ID)
	if err != nil {
		return core.Poll{}, err
	}
	// Other viewers get the tallies without this user's choice.
	broadcast := p
	broadcast.MyVote = 0
	s.notify(realtime.EventPoll, broadcast)
	return p, nil
}

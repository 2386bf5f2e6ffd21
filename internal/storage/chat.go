package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"duescheck/internal/core"
)

// CreateChatUser registers a nickname. Nicknames are unique ignoring case.
func (r *SQLiteRepository) CreateChatUser(ctx context.Context, nickname, sessionID string) (core.ChatUser, error) {
	now := r.now()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO chat_users (nickname, session_id, created_at) VALUES (?, ?, ?)`,
		nickname, sessionID, unix(now))
	if isUniqueViolation(err) {
		return core.ChatUser{}, fmt.Errorf("nickname %q: %w", nickname, core.ErrNicknameTaken)
	}
	if err != nil {
		return core.ChatUser{}, fmt.Errorf("create chat user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.ChatUser{}, fmt.Errorf("create chat user: %w", err)
	}
	return core.ChatUser{ID: id, Nickname: nickname, SessionID: sessionID, CreatedAt: fromUnix(unix(now))}, nil
}

// ChatUserBySession returns the user owning the session or core.ErrNotFound.
func (r *SQLiteRepository) ChatUserBySession(ctx context.Context, sessionID string) (core.ChatUser, error) {
	var (
		u         core.ChatUser
		createdAt int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, nickname, session_id, created_at FROM chat_users WHERE session_id = ?`, sessionID).
		Scan(&u.ID, &u.Nickname, &u.SessionID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ChatUser{}, fmt.Errorf("chat session: %w", core.ErrNotFound)
	}
	if err != nil {
		return core.ChatUser{}, fmt.Errorf("get chat user: %w", err)
	}
	u.CreatedAt = fromUnix(createdAt)
	return u, nil
}

// NicknameAvailable reports whether nobody uses nickname (case-insensitive).
func (r *SQLiteRepository) NicknameAvailable(ctx context.Context, nickname string) (bool, error) {
	var n int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_users WHERE nickname = ?`, nickname).Scan(&n); err != nil {
		return false, fmt.Errorf("check nickname: %w", err)
	}
	return n == 0, nil
}

// InsertChatMessage stores a message and returns it with the author's nickname.
func (r *SQLiteRepository) InsertChatMessage(ctx context.Context, userID int64, body string) (core.ChatMessage, error) {
	now := r.now()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO chat_messages (user_id, body, created_at) VALUES (?, ?, ?)`,
		userID, body, unix(now))
	if err != nil {
		return core.ChatMessage{}, fmt.Errorf("insert chat message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.ChatMessage{}, fmt.Errorf("insert chat message: %w", err)
	}
	var nickname string
	if err := r.db.QueryRowContext(ctx, `SELECT nickname FROM chat_users WHERE id = ?`, userID).Scan(&nickname); err != nil {
		return core.ChatMessage{}, fmt.Errorf("load message author: %w", err)
	}
	return core.ChatMessage{ID: id, UserID: userID, Nickname: nickname, Body: body, CreatedAt: fromUnix(unix(now))}, nil
}

// RecentChatMessages returns the latest limit messages, oldest first.
func (r *SQLiteRepository) RecentChatMessages(ctx context.Context, limit int) ([]core.ChatMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, nickname, body, created_at FROM (
			SELECT m.id, m.user_id, u.nickname, m.body, m.created_at
			FROM chat_messages m JOIN chat_users u ON u.id = m.user_id
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT ?
		) ORDER BY created_at ASC, id ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()

	var out []core.ChatMessage
	for rows.Next() {
		var (
			m         core.ChatMessage
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.Nickname, &m.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		m.CreatedAt = fromUnix(createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"duescheck/internal/core"
)

const announcementColumns = `id, title, description, banner_url, button_label, button_link, is_published, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnnouncement(s rowScanner) (core.Announcement, error) {
	var (
		a                  core.Announcement
		published          int64
		createdAt, updated int64
	)
	if err := s.Scan(&a.ID, &a.Title, &a.Description, &a.BannerURL, &a.ButtonLabel, &a.ButtonLink,
		&published, &createdAt, &updated); err != nil {
		return core.Announcement{}, err
	}
	a.Published = published == 1
	a.CreatedAt = fromUnix(createdAt)
	a.UpdatedAt = fromUnix(updated)
	return a, nil
}

// CreateAnnouncement inserts a and returns it with ID and timestamps set.
func (r *SQLiteRepository) CreateAnnouncement(ctx context.Context, a core.Announcement) (core.Announcement, error) {
	now := r.now()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO announcements (title, description, banner_url, button_label, button_link, is_published, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Title, a.Description, a.BannerURL, a.ButtonLabel, a.ButtonLink, boolInt(a.Published), unix(now), unix(now))
	if err != nil {
		return core.Announcement{}, fmt.Errorf("create announcement: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Announcement{}, fmt.Errorf("create announcement: %w", err)
	}
	slog.InfoContext(ctx, "Announcement created", "id", id, "published", a.Published)
	return r.GetAnnouncement(ctx, id)
}

// UpdateAnnouncement overwrites every editable field of the announcement.
func (r *SQLiteRepository) UpdateAnnouncement(ctx context.Context, a core.Announcement) (core.Announcement, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE announcements
		SET title = ?, description = ?, banner_url = ?, button_label = ?, button_link = ?, is_published = ?, updated_at = ?
		WHERE id = ?`,
		a.Title, a.Description, a.BannerURL, a.ButtonLabel, a.ButtonLink, boolInt(a.Published), unix(r.now()), a.ID)
	if err != nil {
		return core.Announcement{}, fmt.Errorf("update announcement %d: %w", a.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Announcement{}, fmt.Errorf("announcement %d: %w", a.ID, core.ErrNotFound)
	}
	return r.GetAnnouncement(ctx, a.ID)
}

func (r *SQLiteRepository) DeleteAnnouncement(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM announcements WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete announcement %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("announcement %d: %w", id, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) GetAnnouncement(ctx context.Context, id int64) (core.Announcement, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+announcementColumns+` FROM announcements WHERE id = ?`, id)
	a, err := scanAnnouncement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Announcement{}, fmt.Errorf("announcement %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Announcement{}, fmt.Errorf("get announcement %d: %w", id, err)
	}
	return a, nil
}

// ListAnnouncements returns announcements newest first. With publishedOnly
// drafts are left out.
func (r *SQLiteRepository) ListAnnouncements(ctx context.Context, publishedOnly bool) ([]core.Announcement, error) {
	q := `SELECT ` + announcementColumns + ` FROM announcements`
	if publishedOnly {
		q += ` WHERE is_published = 1`
	}
	q += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list announcements: %w", err)
	}
	defer rows.Close()

	var out []core.Announcement
	for rows.Next() {
		a, err := scanAnnouncement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan announcement: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"duescheck/internal/core"
)

// InsertSearch stores a lookup as unsynced and returns its ID.
func (r *SQLiteRepository) InsertSearch(ctx context.Context, e core.SearchLogEntry) (int64, error) {
	at := e.SearchedAt
	if at.IsZero() {
		at = r.now()
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO search_history (student_id, student_name, searched_at) VALUES (?, ?, ?)`,
		e.StudentID, e.StudentName, unix(at))
	if err != nil {
		return 0, fmt.Errorf("insert search: %w", err)
	}
	return res.LastInsertId()
}

func (r *SQLiteRepository) GetSearch(ctx context.Context, id int64) (core.SearchLogEntry, error) {
	var (
		e          core.SearchLogEntry
		searchedAt int64
		syncedAt   sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, student_id, student_name, searched_at, synced_at FROM search_history WHERE id = ?`, id).
		Scan(&e.ID, &e.StudentID, &e.StudentName, &searchedAt, &syncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.SearchLogEntry{}, fmt.Errorf("search %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.SearchLogEntry{}, fmt.Errorf("get search %d: %w", id, err)
	}
	e.SearchedAt = fromUnix(searchedAt)
	e.Synced = syncedAt.Valid
	return e, nil
}

// PendingSearches returns up to limit unsynced rows, oldest first.
func (r *SQLiteRepository) PendingSearches(ctx context.Context, limit int) ([]core.SearchLogEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_id, student_name, searched_at
		FROM search_history WHERE synced_at IS NULL
		ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending searches: %w", err)
	}
	defer rows.Close()

	var out []core.SearchLogEntry
	for rows.Next() {
		var (
			e          core.SearchLogEntry
			searchedAt int64
		)
		if err := rows.Scan(&e.ID, &e.StudentID, &e.StudentName, &searchedAt); err != nil {
			return nil, fmt.Errorf("scan search: %w", err)
		}
		e.SearchedAt = fromUnix(searchedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkSearchSynced records a successful append to the log sheet.
func (r *SQLiteRepository) MarkSearchSynced(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE search_history SET synced_at = ?, sync_error = '' WHERE id = ?`, unix(r.now()), id); err != nil {
		return fmt.Errorf("mark search synced: %w", err)
	}
	slog.DebugContext(ctx, "Search marked as synced", "id", id)
	return nil
}

// MarkSearchSyncError keeps the row pending and stores the last failure.
func (r *SQLiteRepository) MarkSearchSyncError(ctx context.Context, id int64, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if _, err := r.db.ExecContext(ctx,
		`UPDATE search_history SET sync_error = ? WHERE id = ?`, msg, id); err != nil {
		return fmt.Errorf("mark search sync error: %w", err)
	}
	slog.WarnContext(ctx, "Search sync failed", "id", id, "error", msg)
	return nil
}

// SearchStats summarises the lookup history.
type SearchStats struct {
	Total   int
	Pending int
	Unique  int
}

func (r *SQLiteRepository) SearchStats(ctx context.Context) (SearchStats, error) {
	var s SearchStats
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN synced_at IS NULL THEN 1 ELSE 0 END), 0),
		       COUNT(DISTINCT student_id)
		FROM search_history`).Scan(&s.Total, &s.Pending, &s.Unique)
	if err != nil {
		return SearchStats{}, fmt.Errorf("search stats: %w", err)
	}
	return s, nil
}

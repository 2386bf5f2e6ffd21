package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"duescheck/internal/core"
)

// CreatePoll inserts the poll and its options in one transaction.
func (r *SQLiteRepository) CreatePoll(ctx context.Context, d core.PollDraft) (core.Poll, error) {
	var id int64
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO polls (question, is_active, created_at) VALUES (?, 1, ?)`,
			d.Question, unix(r.now()))
		if err != nil {
			return fmt.Errorf("insert poll: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("insert poll: %w", err)
		}
		for i, label := range d.Options {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO poll_options (poll_id, label, position) VALUES (?, ?, ?)`,
				id, label, i); err != nil {
				return fmt.Errorf("insert poll option: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return core.Poll{}, err
	}
	return r.GetPoll(ctx, id, 0)
}

// GetPoll returns one poll with tallies. viewerID marks the viewer's vote.
func (r *SQLiteRepository) GetPoll(ctx context.Context, id, viewerID int64) (core.Poll, error) {
	polls, err := r.listPolls(ctx, `WHERE p.id = ?`, viewerID, id)
	if err != nil {
		return core.Poll{}, err
	}
	if len(polls) == 0 {
		return core.Poll{}, fmt.Errorf("poll %d: %w", id, core.ErrNotFound)
	}
	return polls[0], nil
}

// ListPolls returns polls newest first with vote counts.
func (r *SQLiteRepository) ListPolls(ctx context.Context, activeOnly bool, viewerID int64) ([]core.Poll, error) {
	where := ""
	if activeOnly {
		where = `WHERE p.is_active = 1`
	}
	return r.listPolls(ctx, where, viewerID)
}

func (r *SQLiteRepository) listPolls(ctx context.Context, where string, viewerID int64, args ...any) ([]core.Poll, error) {
	q := `
		SELECT p.id, p.question, p.is_active, p.created_at,
		       o.id, o.label,
		       (SELECT COUNT(*) FROM poll_votes v WHERE v.option_id = o.id),
		       COALESCE((SELECT v.option_id FROM poll_votes v WHERE v.poll_id = p.id AND v.user_id = ?), 0)
		FROM polls p
		LEFT JOIN poll_options o ON o.poll_id = p.id
		` + where + `
		ORDER BY p.created_at DESC, p.id DESC, o.position ASC`
	rows, err := r.db.QueryContext(ctx, q, append([]any{viewerID}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("list polls: %w", err)
	}
	defer rows.Close()

	var out []core.Poll
	for rows.Next() {
		var (
			pollID, createdAt, active, myVote int64
			question                          string
			optID                             sql.NullInt64
			label                             sql.NullString
			votes                             int
		)
		if err := rows.Scan(&pollID, &question, &active, &createdAt, &optID, &label, &votes, &myVote); err != nil {
			return nil, fmt.Errorf("scan poll: %w", err)
		}
		if len(out) == 0 || out[len(out)-1].ID != pollID {
			out = append(out, core.Poll{
				ID:        pollID,
				Question:  question,
				Active:    active == 1,
				CreatedAt: fromUnix(createdAt),
				MyVote:    myVote,
			})
		}
		if optID.Valid {
			p := &out[len(out)-1]
			p.Options = append(p.Options, core.PollOption{ID: optID.Int64, PollID: pollID, Label: label.String, Votes: votes})
		}
	}
	return out, rows.Err()
}

// SetPollActive opens or closes a poll for voting.
func (r *SQLiteRepository) SetPollActive(ctx context.Context, id int64, active bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE polls SET is_active = ? WHERE id = ?`, boolInt(active), id)
	if err != nil {
		return fmt.Errorf("update poll %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("poll %d: %w", id, core.ErrNotFound)
	}
	return nil
}

// DeletePoll removes the poll, its options and votes.
func (r *SQLiteRepository) DeletePoll(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM polls WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete poll %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("poll %d: %w", id, core.ErrNotFound)
	}
	return nil
}

// Vote records the user's choice. A second vote on the same poll replaces
// the first. Closed polls and foreign options are rejected.
func (r *SQLiteRepository) Vote(ctx context.Context, pollID, optionID, userID int64) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		var active int64
		err := tx.QueryRowContext(ctx, `SELECT is_active FROM polls WHERE id = ?`, pollID).Scan(&active)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("poll %d: %w", pollID, core.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load poll %d: %w", pollID, err)
		}
		if active != 1 {
			return fmt.Errorf("poll %d: %w", pollID, core.ErrPollClosed)
		}

		var n int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM poll_options WHERE id = ? AND poll_id = ?`, optionID, pollID).Scan(&n); err != nil {
			return fmt.Errorf("load option %d: %w", optionID, err)
		}
		if n == 0 {
			return fmt.Errorf("option %d: %w", optionID, core.ErrOptionNotInPoll)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO poll_votes (poll_id, option_id, user_id, created_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(poll_id, user_id) DO UPDATE SET option_id = excluded.option_id, created_at = excluded.created_at`,
			pollID, optionID, userID, unix(r.now())); err != nil {
			return fmt.Errorf("record vote: %w", err)
		}
		return nil
	})
}

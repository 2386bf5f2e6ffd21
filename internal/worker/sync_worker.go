package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"duescheck/internal/amqp"
	"duescheck/internal/core"
	"duescheck/internal/sheets"
)

// SearchStore is the slice of storage the worker needs.
type SearchStore interface {
	GetSearch(ctx context.Context, id int64) (core.SearchLogEntry, error)
	PendingSearches(ctx context.Context, limit int) ([]core.SearchLogEntry, error)
	MarkSearchSynced(ctx context.Context, id int64) error
	MarkSearchSyncError(ctx context.Context, id int64, cause error) error
}

// SyncWorker copies lookups recorded in SQLite to the search-log sheet.
type SyncWorker struct {
	storage   SearchStore
	sheets    sheets.SearchLogWriter
	batchSize int
}

func NewSyncWorker(storage SearchStore, writer sheets.SearchLogWriter, batchSize int) *SyncWorker {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &SyncWorker{
		storage:   storage,
		sheets:    writer,
		batchSize: batchSize,
	}
}

// HandleSyncMessage processes a single search-log message from AMQP.
// Rows already synced are acknowledged without a second append.
func (w *SyncWorker) HandleSyncMessage(ctx context.Context, msg *amqp.SearchLogMessage) error {
	slog.InfoContext(ctx, "Processing search log message",
		"id", msg.ID,
		"student_id", msg.StudentID)

	entry, err := w.storage.GetSearch(ctx, msg.ID)
	if errors.Is(err, core.ErrNotFound) {
		slog.WarnContext(ctx, "Search row vanished, dropping message", "id", msg.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get search from storage: %w", err)
	}
	if entry.Synced {
		slog.DebugContext(ctx, "Search already synced", "id", msg.ID)
		return nil
	}
	return w.syncEntry(ctx, entry)
}

// ProcessPending appends up to one batch of unsynced rows. It is the
// fallback for messages lost while the broker was unavailable.
func (w *SyncWorker) ProcessPending(ctx context.Context) (synced int, err error) {
	return w.processPending(ctx, w.batchSize)
}

// StartupSyncCheck drains a larger batch when the worker boots.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	synced, err := w.processPending(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("startup sync: %w", err)
	}
	slog.InfoContext(ctx, "Startup sync completed", "synced", synced)
	return nil
}

// RunBackfill calls ProcessPending every interval until ctx is done.
func (w *SyncWorker) RunBackfill(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.ProcessPending(ctx); err != nil {
				slog.ErrorContext(ctx, "Backfill failed", "error", err)
			}
		}
	}
}

func (w *SyncWorker) processPending(ctx context.Context, limit int) (int, error) {
	pending, err := w.storage.PendingSearches(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("get pending searches: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	slog.InfoContext(ctx, "Processing pending searches", "count", len(pending))

	synced := 0
	for _, entry := range pending {
		if ctx.Err() != nil {
			return synced, ctx.Err()
		}
		if err := w.syncEntry(ctx, entry); err != nil {
			slog.ErrorContext(ctx, "Failed to sync search", "id", entry.ID, "error", err)
			continue
		}
		synced++
	}
	return synced, nil
}

func (w *SyncWorker) syncEntry(ctx context.Context, entry core.SearchLogEntry) error {
	ref, err := w.sheets.AppendSearchLog(ctx, entry)
	if err != nil {
		if markErr := w.storage.MarkSearchSyncError(ctx, entry.ID, err); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark sync error", "id", entry.ID, "error", markErr)
		}
		return fmt.Errorf("append to sheets: %w", err)
	}

	// The row is in the sheet; a failed mark only means a later duplicate.
	if err := w.storage.MarkSearchSynced(ctx, entry.ID); err != nil {
		slog.ErrorContext(ctx, "Failed to mark as synced", "id", entry.ID, "error", err)
	}

	slog.InfoContext(ctx, "Search synced",
		"id", entry.ID,
		"student_id", entry.StudentID,
		"sheets_ref", ref)
	return nil
}

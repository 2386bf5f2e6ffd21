package services

import (
	"context"
	"fmt"
	"log/slog"

	"duescheck/internal/core"
	"duescheck/internal/storage"
)

// Publisher announces stored lookups to the sync worker.
type Publisher interface {
	PublishSearchLog(ctx context.Context, id int64, studentID string) error
}

// SearchLogService records lookups in SQLite and publishes a sync message.
type SearchLogService struct {
	storage   *storage.SQLiteRepository
	publisher Publisher
}

var _ SearchRecorder = (*SearchLogService)(nil)

// NewSearchLogService creates the recorder. publisher may be nil, in which
// case the worker's backfill picks the rows up.
func NewSearchLogService(storage *storage.SQLiteRepository, publisher Publisher) *SearchLogService {
	return &SearchLogService{storage: storage, publisher: publisher}
}

// Record saves the lookup locally first. A failed publish is logged and left
// to the backfill.
func (s *SearchLogService) Record(ctx context.Context, entry core.SearchLogEntry) error {
	id, err := s.storage.InsertSearch(ctx, entry)
	if err != nil {
		return fmt.Errorf("save search: %w", err)
	}

	if s.publisher == nil {
		slog.DebugContext(ctx, "AMQP client not available, search left for backfill", "id", id)
		return nil
	}
	if err := s.publisher.PublishSearchLog(ctx, id, entry.StudentID); err != nil {
		slog.ErrorContext(ctx, "Failed to publish search log message", "id", id, "error", err)
	}
	return nil
}

// Stats summarises the stored history.
func (s *SearchLogService) Stats(ctx context.Context) (storage.SearchStats, error) {
	return s.storage.SearchStats(ctx)
}

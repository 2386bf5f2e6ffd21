package sheets

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"duescheck/internal/core"
	"duescheck/internal/log"
)

// DefaultFetchConcurrency bounds parallel sheet reads against the API quota.
const DefaultFetchConcurrency = 4

// ErrFetch marks failures to reach the data source. It is never returned for
// a student that simply is not there.
var ErrFetch = errors.New("fetch dues sheets")

// FetchAll lists every period sheet and reads them concurrently. Sheets that
// fail to load, fail validation or carry no records are logged and skipped.
// Failing to list the titles is a fetch error. The result is newest first.
func FetchAll(ctx context.Context, r PeriodReader, concurrency int, logger *log.Logger) ([]core.MonthlySheet, error) {
	titles, err := r.ListPeriods(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list periods: %v", ErrFetch, err)
	}
	if concurrency <= 0 {
		concurrency = DefaultFetchConcurrency
	}

	slots := make([]core.MonthlySheet, len(titles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, title := range titles {
		g.Go(func() error {
			sheet, err := r.ReadPeriod(gctx, title)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				if logger != nil {
					logger.WarnContext(gctx, "Skipping period sheet",
						log.FieldPeriod, title,
						log.FieldError, err.Error())
				}
				return nil
			}
			slots[i] = sheet
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	loaded := make([]core.MonthlySheet, 0, len(slots))
	for _, sheet := range slots {
		if len(sheet.Records) > 0 {
			loaded = append(loaded, sheet)
		}
	}
	core.SortNewestFirst(loaded)
	if logger != nil {
		logger.InfoContext(ctx, "Loaded period sheets",
			log.FieldCount, len(loaded),
			"listed", len(titles))
	}
	return loaded, nil
}

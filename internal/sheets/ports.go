package sheets

import (
	"context"

	"duescheck/internal/core"
)

// Ports for outbound adapters.
type (
	// PeriodReader lists and reads the monthly dues sheets.
	PeriodReader interface {
		// ListPeriods returns every sheet title that names a billing period.
		ListPeriods(ctx context.Context) ([]string, error)
		// ReadPeriod reads and validates one monthly sheet.
		ReadPeriod(ctx context.Context, title string) (core.MonthlySheet, error)
	}

	// FundSummaryReader reads the treasury overview sheet.
	FundSummaryReader interface {
		ReadFundSummary(ctx context.Context) (core.FundSummary, error)
	}

	// SearchLogWriter appends lookup history rows to the log sheet.
	SearchLogWriter interface {
		AppendSearchLog(ctx context.Context, entry core.SearchLogEntry) (rowRef string, err error)
	}
)

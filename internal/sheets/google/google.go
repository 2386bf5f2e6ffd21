package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	goauth "golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"duescheck/internal/core"
	ports "duescheck/internal/sheets"
)

// Options configures the Sheets client. Exactly one credential source is
// used, in order: service account, OAuth client + token, API key.
type Options struct {
	SpreadsheetID      string
	SummarySheet       string
	SearchLogSheet     string
	APIKey             string
	ServiceAccountJSON string
	ServiceAccountFile string
	OAuthClientJSON    string
	OAuthClientFile    string
	OAuthTokenJSON     string
	OAuthTokenFile     string
}

type Client struct {
	svc            *gsheet.Service
	spreadsheetID  string
	summarySheet   string
	searchLogSheet string
}

// Ensure interface conformance
var (
	_ ports.PeriodReader      = (*Client)(nil)
	_ ports.FundSummaryReader = (*Client)(nil)
	_ ports.SearchLogWriter   = (*Client)(nil)
)

// New creates a Sheets client for the dues spreadsheet.
func New(ctx context.Context, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	svc, err := newSheetsService(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return newClient(svc, opts), nil
}

func newClient(svc *gsheet.Service, opts Options) *Client {
	summary := strings.TrimSpace(opts.SummarySheet)
	if summary == "" {
		summary = "สรุปยอดเงิน"
	}
	searchLog := strings.TrimSpace(opts.SearchLogSheet)
	if searchLog == "" {
		searchLog = "ประวัติการค้นหา"
	}
	return &Client{
		svc:            svc,
		spreadsheetID:  strings.TrimSpace(opts.SpreadsheetID),
		summarySheet:   summary,
		searchLogSheet: searchLog,
	}
}

// newSheetsService picks the credential source and builds the API service on
// top of a pooled HTTP client.
func newSheetsService(ctx context.Context, opts Options) (*gsheet.Service, error) {
	saJSON, err := readInlineOrFile(opts.ServiceAccountJSON, opts.ServiceAccountFile)
	if err != nil {
		return nil, fmt.Errorf("read service account: %w", err)
	}
	if len(saJSON) > 0 {
		slog.InfoContext(ctx, "Using service account credentials", "credentials_size", len(saJSON))
		return gsheet.NewService(ctx,
			goption.WithCredentialsJSON(saJSON),
			goption.WithScopes(gsheet.SpreadsheetsScope))
	}

	clientJSON, err := readInlineOrFile(opts.OAuthClientJSON, opts.OAuthClientFile)
	if err != nil {
		return nil, fmt.Errorf("read oauth client: %w", err)
	}
	if len(clientJSON) > 0 {
		httpClient, err := oauthHTTPClient(ctx, clientJSON, opts)
		if err != nil {
			return nil, err
		}
		slog.InfoContext(ctx, "Using OAuth user credentials")
		return gsheet.NewService(ctx, goption.WithHTTPClient(httpClient))
	}

	if key := strings.TrimSpace(opts.APIKey); key != "" {
		slog.InfoContext(ctx, "Using API key (read-only access)")
		return gsheet.NewService(ctx,
			goption.WithAPIKey(key),
			goption.WithHTTPClient(newHTTPClientWithPooling()))
	}
	return nil, errors.New("missing credentials (set GOOGLE_SERVICE_ACCOUNT_JSON/FILE, GOOGLE_OAUTH_CLIENT_JSON/FILE or GOOGLE_API_KEY)")
}

func oauthHTTPClient(ctx context.Context, clientJSON []byte, opts Options) (*http.Client, error) {
	cfg, err := goauth.ConfigFromJSON(clientJSON, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("oauth config: %w", err)
	}
	tokJSON, err := readInlineOrFile(opts.OAuthTokenJSON, opts.OAuthTokenFile)
	if err != nil {
		return nil, fmt.Errorf("read oauth token: %w", err)
	}
	if len(tokJSON) == 0 {
		return nil, errors.New("oauth token missing: run oauth-init first")
	}
	var tok oauth2.Token
	if err := json.Unmarshal(tokJSON, &tok); err != nil {
		return nil, fmt.Errorf("parse oauth token: %w", err)
	}
	// Token refreshes go through the pooled transport too.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, newHTTPClientWithPooling())
	return cfg.Client(ctx, &tok), nil
}

func readInlineOrFile(inline, path string) ([]byte, error) {
	if s := strings.TrimSpace(inline); s != "" {
		return []byte(s), nil
	}
	if p := strings.TrimSpace(path); p != "" {
		return os.ReadFile(p)
	}
	return nil, nil
}

// newHTTPClientWithPooling creates an HTTP client tuned for the Sheets API
// with connection pooling and keep-alive.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}

// ListPeriods returns the titles of every sheet named like "<Month> (<YY>)".
func (c *Client) ListPeriods(ctx context.Context) ([]string, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	resp, err := c.svc.Spreadsheets.Get(c.spreadsheetID).
		Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read spreadsheet metadata: %w", err)
	}
	var titles []string
	for _, sh := range resp.Sheets {
		if sh == nil || sh.Properties == nil {
			continue
		}
		if ports.IsPeriodTitle(sh.Properties.Title) {
			titles = append(titles, sh.Properties.Title)
		}
	}
	return titles, nil
}

// ReadPeriod reads columns B..G of a monthly sheet.
func (c *Client) ReadPeriod(ctx context.Context, title string) (core.MonthlySheet, error) {
	rows, err := c.readRange(ctx, title, ports.PeriodRange)
	if err != nil {
		return core.MonthlySheet{}, err
	}
	sheet, err := ports.ParseRecords(title, rows)
	if err != nil {
		return core.MonthlySheet{}, fmt.Errorf("parse %s: %w", title, err)
	}
	return sheet, nil
}

// ReadFundSummary reads the treasury overview sheet.
func (c *Client) ReadFundSummary(ctx context.Context) (core.FundSummary, error) {
	rows, err := c.readRange(ctx, c.summarySheet, ports.FundSummaryRange)
	if err != nil {
		return core.FundSummary{}, err
	}
	return ports.ParseFundSummary(rows), nil
}

// AppendSearchLog adds "timestamp, student id, name" to the search log sheet.
func (c *Client) AppendSearchLog(ctx context.Context, e core.SearchLogEntry) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	if e.StudentID == "" {
		return "", fmt.Errorf("append search log: %w: empty student id", core.ErrInvalidInput)
	}
	rng := quoteSheet(c.searchLogSheet) + "!A:C"
	vr := &gsheet.ValueRange{Values: [][]interface{}{{
		e.SearchedAt.Format("2006-01-02 15:04:05"),
		// Leading apostrophe keeps long IDs from turning into numbers.
		"'" + e.StudentID,
		e.StudentName,
	}}}
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append %s: %w", rng, err)
	}
	if resp.Updates != nil {
		return resp.Updates.UpdatedRange, nil
	}
	return rng, nil
}

func (c *Client) readRange(ctx context.Context, sheetName, cols string) ([][]string, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	rng := quoteSheet(sheetName) + "!" + cols
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	rows := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		rows[i] = ports.CellsToStrings(row)
	}
	return rows, nil
}

// quoteSheet wraps a sheet title for A1 notation.
func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

package google

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"duescheck/internal/core"
)

// fakeSheetsAPI serves the handful of Sheets v4 endpoints the client uses.
type fakeSheetsAPI struct {
	mu       sync.Mutex
	titles   []string
	values   map[string][][]interface{} // keyed by sheet title
	appended [][]interface{}
}

func (f *fakeSheetsAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	path := r.URL.Path

	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":append"):
		var body struct {
			Values [][]interface{} `json:"values"`
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		f.appended = append(f.appended, body.Values...)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"updates": map[string]any{"updatedRange": "'log'!A2:C2"},
		})
	case strings.Contains(path, "/values/"):
		rng := path[strings.Index(path, "/values/")+len("/values/"):]
		title := strings.Trim(rng[:strings.LastIndex(rng, "!")], "'")
		rows, ok := f.values[title]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": 400, "message": "Unable to parse range"}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"range": rng, "values": rows})
	default:
		sheets := make([]map[string]any, 0, len(f.titles))
		for _, t := range f.titles {
			sheets = append(sheets, map[string]any{"properties": map[string]any{"title": t}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"sheets": sheets})
	}
}

func newTestClient(t *testing.T, api *fakeSheetsAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return newClient(svc, Options{SpreadsheetID: "test-sheet", SearchLogSheet: "log"})
}

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), Options{APIKey: "k"})
	if err == nil || err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNew_MissingCredentials(t *testing.T) {
	_, err := New(context.Background(), Options{SpreadsheetID: "id"})
	if err == nil || !strings.Contains(err.Error(), "missing credentials") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNew_InvalidOAuthClient(t *testing.T) {
	_, err := New(context.Background(), Options{
		SpreadsheetID:   "id",
		OAuthClientJSON: "invalid-json",
		OAuthTokenJSON:  `{"access_token":"test"}`,
	})
	if err == nil || !strings.Contains(err.Error(), "oauth config") {
		t.Fatalf("expected oauth config error, got: %v", err)
	}
}

func TestListAndReadPeriods(t *testing.T) {
	api := &fakeSheetsAPI{
		titles: []string{"สรุปยอดเงิน", "ตุลาคม (68)", "พฤศจิกายน (68)", "Template"},
		values: map[string][][]interface{}{
			"ตุลาคม (68)": {
				{"ชื่อ", "รหัสนิสิต", "W1", "W2", "W3", "W4"},
				{"Alice", "6810610001", "TRUE", "FALSE", "TRUE", "FALSE"},
				{"Bob", "68-1061-0002", "✓", "✔", "TRUE", "TRUE"},
				{"Gone", "ลาออก", "TRUE", "TRUE", "TRUE", "TRUE"},
			},
			"พฤศจิกายน (68)": {
				{"ชื่อ", "รหัสนิสิต", "W1", "W2", "W3", "W4"},
				{"Alice", "6810610001", "TRUE", "TRUE", "TRUE", "TRUE"},
				{"Alice again", "6810610001", "TRUE", "TRUE", "TRUE", "TRUE"},
			},
		},
	}
	c := newTestClient(t, api)
	ctx := context.Background()

	titles, err := c.ListPeriods(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(titles) != 2 || titles[0] != "ตุลาคม (68)" || titles[1] != "พฤศจิกายน (68)" {
		t.Fatalf("unexpected titles: %v", titles)
	}

	sheet, err := c.ReadPeriod(ctx, "ตุลาคม (68)")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(sheet.Records) != 2 || sheet.Records[1].StudentID != "6810610002" {
		t.Fatalf("unexpected records: %+v", sheet.Records)
	}
	if sheet.Records[0].Weeks != [4]bool{true, false, true, false} {
		t.Fatalf("unexpected weeks: %v", sheet.Records[0].Weeks)
	}

	if _, err := c.ReadPeriod(ctx, "พฤศจิกายน (68)"); !errors.Is(err, core.ErrDuplicateStudent) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if _, err := c.ReadPeriod(ctx, "missing (68)"); err == nil {
		t.Fatalf("expected error for missing sheet")
	}
}

func TestReadFundSummary(t *testing.T) {
	api := &fakeSheetsAPI{values: map[string][][]interface{}{
		"สรุปยอดเงิน": {
			{"รายรับ", "เก็บแล้ว", "ขาด", "ที่จะเก็บ", "", "รายจ่าย", "จำนวน"},
			{"ตุลาคม (68)", "1,200", "400", "1,600"},
			{"รวม", "1,200", "400", "1,600", "", "รวม", "350"},
			{"เงินคงเหลือ", "850"},
		},
	}}
	c := newTestClient(t, api)
	c.summarySheet = "สรุปยอดเงิน"
	f, err := c.ReadFundSummary(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !f.Balance.Valid || f.Balance.Decimal.IntPart() != 850 {
		t.Fatalf("unexpected balance: %+v", f.Balance)
	}
	if !f.TotalExpenses.Valid || f.TotalExpenses.Decimal.IntPart() != 350 {
		t.Fatalf("unexpected expenses: %+v", f.TotalExpenses)
	}
	if len(f.Months) != 1 || f.Months[0].Collected.IntPart() != 1200 {
		t.Fatalf("unexpected months: %+v", f.Months)
	}
}

func TestAppendSearchLog(t *testing.T) {
	api := &fakeSheetsAPI{}
	c := newTestClient(t, api)
	ref, err := c.AppendSearchLog(context.Background(), core.SearchLogEntry{
		StudentID:   "6810610001",
		StudentName: "Alice",
		SearchedAt:  time.Date(2025, 11, 3, 9, 30, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if ref != "'log'!A2:C2" {
		t.Fatalf("unexpected ref %q", ref)
	}
	if len(api.appended) != 1 {
		t.Fatalf("expected one appended row, got %d", len(api.appended))
	}
	row := api.appended[0]
	if row[0] != "2025-11-03 09:30:00" || row[1] != "'6810610001" || row[2] != "Alice" {
		t.Fatalf("unexpected row: %v", row)
	}

	if _, err := c.AppendSearchLog(context.Background(), core.SearchLogEntry{}); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestNilServiceErrors(t *testing.T) {
	c := &Client{spreadsheetID: "x"}
	if _, err := c.ListPeriods(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := c.ReadFundSummary(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestQuoteSheet(t *testing.T) {
	if got := quoteSheet("Bob's (68)"); got != "'Bob''s (68)'" {
		t.Fatalf("got %q", got)
	}
}

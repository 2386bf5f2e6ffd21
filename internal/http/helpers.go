package http

import (
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"duescheck/internal/core"
	"duescheck/internal/media"
	"duescheck/internal/sheets"
)

const (
	recentCookieName = "recent_searches"
	recentLimit      = 5
	chatCookieName   = "chat_session"
)

// sanitizeInput removes control characters except tab, newline and
// carriage return, and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// readRecent returns the student IDs remembered in the browser, most recent
// first. Anything that is not a canonical ID is dropped.
func readRecent(r *http.Request) []string {
	c, err := r.Cookie(recentCookieName)
	if err != nil || c.Value == "" {
		return nil
	}
	var ids []string
	for _, id := range strings.Split(c.Value, ".") {
		if id != "" && core.CanonicalID(id) == id && len(ids) < recentLimit {
			ids = append(ids, id)
		}
	}
	return ids
}

// pushRecent moves id to the front and keeps at most recentLimit entries.
func pushRecent(ids []string, id string) []string {
	out := make([]string, 0, recentLimit)
	out = append(out, id)
	for _, v := range ids {
		if v != id && len(out) < recentLimit {
			out = append(out, v)
		}
	}
	return out
}

func writeRecent(w http.ResponseWriter, ids []string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     recentCookieName,
		Value:    strings.Join(ids, "."),
		Path:     "/",
		MaxAge:   int((90 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func chatSession(r *http.Request) string {
	c, err := r.Cookie(chatCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func writeChatSession(w http.ResponseWriter, sessionID string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     chatCookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int((365 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// statusFor maps domain errors to HTTP status codes. Sheet failures are a
// bad gateway so they never read as "student not found".
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidInput),
		errors.Is(err, core.ErrInvalidPeriod),
		errors.Is(err, core.ErrOptionNotInPoll):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrStudentNotFound),
		errors.Is(err, core.ErrPeriodNotFound),
		errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrNicknameTaken),
		errors.Is(err, core.ErrPollClosed):
		return http.StatusConflict
	case errors.Is(err, core.ErrUnauthorizedUser),
		errors.Is(err, core.ErrInvalidPassword):
		return http.StatusUnauthorized
	case errors.Is(err, media.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, media.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, sheets.ErrFetch):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// errorResponse builds the error fragment for err. Server and upstream
// failures also raise an error toast.
func errorResponse(err error) *HTMXResponseBuilder {
	msg := messageFor(err)
	var resp *HTMXResponseBuilder
	switch status := statusFor(err); status {
	case http.StatusUnprocessableEntity:
		resp = UnprocessableEntityError(msg)
	case http.StatusNotFound:
		resp = NotFoundError(msg)
	case http.StatusConflict:
		resp = ConflictError(msg)
	case http.StatusUnauthorized:
		resp = UnauthorizedError(msg)
	case http.StatusBadGateway:
		resp = BadGatewayError(msg)
	case http.StatusInternalServerError:
		resp = InternalServerError(msg)
	default:
		resp = ErrorResponse(status, msg)
	}
	if resp.statusCode >= http.StatusInternalServerError {
		resp.TriggerErrorNotification(msg)
	}
	return resp
}

// messageFor returns the user-facing text for err.
func messageFor(err error) string {
	switch statusFor(err) {
	case http.StatusUnprocessableEntity:
		if msg := strings.TrimPrefix(err.Error(), core.ErrInvalidInput.Error()+": "); msg != err.Error() {
			return "ข้อมูลไม่ถูกต้อง: " + msg
		}
		return "ข้อมูลไม่ถูกต้อง"
	case http.StatusNotFound:
		return "ไม่พบข้อมูล"
	case http.StatusConflict:
		if errors.Is(err, core.ErrNicknameTaken) {
			return "ชื่อเล่นนี้ถูกใช้แล้ว"
		}
		return "โพลนี้ปิดแล้ว"
	case http.StatusUnauthorized:
		if errors.Is(err, core.ErrInvalidPassword) {
			return "รหัสผ่านไม่ถูกต้อง"
		}
		return "กรุณาตั้งชื่อเล่นก่อน"
	case http.StatusRequestEntityTooLarge:
		return "ไฟล์ใหญ่เกิน 5 MB"
	case http.StatusUnsupportedMediaType:
		return "รองรับเฉพาะไฟล์ JPEG และ PNG"
	case http.StatusBadGateway:
		return "ไม่สามารถโหลดข้อมูลจาก Google Sheets ได้ กรุณาลองใหม่"
	}
	return "เกิดข้อผิดพลาด กรุณาลองใหม่"
}

// templateFuncs are available to every template.
var templateFuncs = template.FuncMap{
	"baht":    core.FormatBahtInt,
	"bahtDec": core.FormatBaht,
	"bahtNull": func(d decimal.NullDecimal) string {
		if !d.Valid {
			return "-"
		}
		return core.FormatBaht(d.Decimal)
	},
	"count": func(d decimal.NullDecimal) string {
		if !d.Valid {
			return "-"
		}
		return d.Decimal.StringFixed(0)
	},
	"weeks": func(ws []int) string {
		parts := make([]string, len(ws))
		for i, w := range ws {
			parts[i] = strconv.Itoa(w)
		}
		return strings.Join(parts, ", ")
	},
	"rate": func(f core.FundSummary) string {
		r, ok := f.CollectionRate()
		if !ok {
			return "-"
		}
		return r.StringFixed(1) + "%"
	},
	"percent": func(p core.Poll, o core.PollOption) int { return p.Percent(o) },
	"pollCard": func(p core.Poll, canVote bool) pollCardView {
		return pollCardView{Poll: p, CanVote: canVote}
	},
	"when":    func(t time.Time) string { return t.Local().Format("02/01/2006 15:04") },
	"clock":   func(t time.Time) string { return t.Local().Format("15:04") },
	"inc":     func(i int) int { return i + 1 },
	"seq": func(n int) []int {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	},
}

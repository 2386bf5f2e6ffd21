package core

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrNicknameTaken    = errors.New("nickname already taken")
	ErrPollClosed       = errors.New("poll is not active")
	ErrOptionNotInPoll  = errors.New("option does not belong to poll")
	ErrNotFound         = errors.New("not found")
	ErrInvalidPassword  = errors.New("invalid password")
	ErrUnauthorizedUser = errors.New("unknown chat user")
)

type (
	// Announcement is a news item shown on the announcements page.
	Announcement struct {
		ID          int64
		Title       string `validate:"required,max=200"`
		Description string `validate:"max=5000"`
		BannerURL   string `validate:"max=2048"`
		ButtonLabel string `validate:"max=100"`
		ButtonLink  string `validate:"max=2048"`
		Published   bool
		CreatedAt   time.Time
		UpdatedAt   time.Time
	}

	// ChatUser is a registered chat participant identified by a session token.
	ChatUser struct {
		ID        int64
		Nickname  string `validate:"required,min=2,max=30"`
		SessionID string
		CreatedAt time.Time
	}

	// ChatMessage is a single message in the chat room.
	ChatMessage struct {
		ID        int64
		UserID    int64
		Nickname  string
		Body      string `validate:"required,max=500"`
		CreatedAt time.Time
	}

	// PollDraft is the admin input for a new poll.
	PollDraft struct {
		Question string   `validate:"required,max=500"`
		Options  []string `validate:"min=2,max=10,dive,required,max=200"`
	}

	// PollOption is one choice with its current tally.
	PollOption struct {
		ID     int64
		PollID int64
		Label  string
		Votes  int
	}

	// Poll is a question asked in the chat room.
	Poll struct {
		ID        int64
		Question  string
		Active    bool
		CreatedAt time.Time
		Options   []PollOption
		// MyVote is the option chosen by the viewing user, 0 when none.
		MyVote int64
	}

	// SearchLogEntry records one successful student lookup.
	SearchLogEntry struct {
		ID          int64
		StudentID   string
		StudentName string
		SearchedAt  time.Time
		Synced      bool
	}
)

// TotalVotes sums the tallies of every option.
func (p Poll) TotalVotes() int {
	n := 0
	for _, o := range p.Options {
		n += o.Votes
	}
	return n
}

// Percent returns the share of votes for option o, 0..100.
func (p Poll) Percent(o PollOption) int {
	total := p.TotalVotes()
	if total == 0 {
		return 0
	}
	return o.Votes * 100 / total
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// validateStruct runs struct tag validation and flattens the result into a
// single ErrInvalidInput-wrapped error.
func validateStruct(v any) error {
	err := getValidator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must have at least %s characters or items", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must have at most %s characters or items", field, fe.Param())
	}
	return fmt.Sprintf("%s failed %s", field, fe.Tag())
}

// Normalize trims user input in place.
func (a *Announcement) Normalize() {
	a.Title = strings.TrimSpace(a.Title)
	a.Description = strings.TrimSpace(a.Description)
	a.BannerURL = strings.TrimSpace(a.BannerURL)
	a.ButtonLabel = strings.TrimSpace(a.ButtonLabel)
	a.ButtonLink = strings.TrimSpace(a.ButtonLink)
}

func (a Announcement) Validate() error {
	if err := validateStruct(a); err != nil {
		return err
	}
	if (a.ButtonLabel == "") != (a.ButtonLink == "") {
		return fmt.Errorf("%w: button label and link must be set together", ErrInvalidInput)
	}
	return nil
}

// HasButton reports whether the call-to-action button should be rendered.
func (a Announcement) HasButton() bool {
	return a.ButtonLabel != "" && a.ButtonLink != ""
}

func (u *ChatUser) Normalize() { u.Nickname = strings.TrimSpace(u.Nickname) }

func (u ChatUser) Validate() error { return validateStruct(u) }

func (m *ChatMessage) Normalize() { m.Body = strings.TrimSpace(m.Body) }

func (m ChatMessage) Validate() error { return validateStruct(m) }

// Normalize trims the question and every option, dropping empty options.
func (d *PollDraft) Normalize() {
	d.Question = strings.TrimSpace(d.Question)
	opts := d.Options[:0]
	for _, o := range d.Options {
		if o = strings.TrimSpace(o); o != "" {
			opts = append(opts, o)
		}
	}
	d.Options = opts
}

func (d PollDraft) Validate() error { return validateStruct(d) }

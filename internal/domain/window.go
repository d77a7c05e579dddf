package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar date layout used for windows and CLI input
const DateLayout = "2006-01-02"

// DateWindow is an inclusive range of calendar dates.
// Start <= End is the caller's responsibility.
type DateWindow struct {
	Start time.Time
	End   time.Time
}

// dayFirstLayout is the DD/MM/YYYY form accepted from users
const dayFirstLayout = "02/01/2006"

// ParseDate accepts "YYYY-MM-DD" or "DD/MM/YYYY"
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(dayFirstLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected YYYY-MM-DD or DD/MM/YYYY, got %q", s)
	}
	return t, nil
}

// NewDateWindow builds a window from two dates in a form ParseDate accepts
func NewDateWindow(start, end string) (DateWindow, error) {
	s, err := ParseDate(start)
	if err != nil {
		return DateWindow{}, fmt.Errorf("invalid start date: %w", err)
	}
	e, err := ParseDate(end)
	if err != nil {
		return DateWindow{}, fmt.Errorf("invalid end date: %w", err)
	}
	return DateWindow{Start: s, End: e}, nil
}

// SinceParam returns the start of the window in the remote "since" form
func (w DateWindow) SinceParam() string {
	return w.Start.Format(DateLayout) + "T00:00:01Z"
}

// UntilParam returns the end of the window in the remote "until" form
func (w DateWindow) UntilParam() string {
	return w.End.Format(DateLayout) + "T23:59:59Z"
}

// Contains reports whether t falls on a calendar date inside the window
func (w DateWindow) Contains(t time.Time) bool {
	d := dateOf(t)
	return !d.Before(dateOf(w.Start)) && !d.After(dateOf(w.End))
}

// Before reports whether t falls on a calendar date before the window start
func (w DateWindow) Before(t time.Time) bool {
	return dateOf(t).Before(dateOf(w.Start))
}

func (w DateWindow) String() string {
	return w.Start.Format(DateLayout) + " to " + w.End.Format(DateLayout)
}

type windowJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// MarshalJSON encodes the window as two "YYYY-MM-DD" dates
func (w DateWindow) MarshalJSON() ([]byte, error) {
	return json.Marshal(windowJSON{Start: w.Start.Format(DateLayout), End: w.End.Format(DateLayout)})
}

func (w *DateWindow) UnmarshalJSON(data []byte) error {
	var raw windowJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := NewDateWindow(raw.Start, raw.End)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

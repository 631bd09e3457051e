package domain

import "time"

// ExtractedTask is a structured task proposal produced by the external
// extraction pipeline from a raw transcript. All enum-ish fields arrive as
// plain strings and are parsed with safe defaults; a malformed proposal
// never fails a batch.
type ExtractedTask struct {
	Content       string `json:"content"`
	Emoji         string `json:"emoji,omitempty"`
	ActionType    string `json:"actionType,omitempty"`
	ContactName   string `json:"contactName,omitempty"`
	ActionTarget  string `json:"actionTarget,omitempty"`
	IsActionable  bool   `json:"isActionable"`
	Priority      string `json:"priority,omitempty"`
	DueDateString string `json:"dueDateString,omitempty"`
}

// ParseDueDate resolves a proposal's due-date string against the current
// time. Recognized forms are "today", "tomorrow" and an ISO calendar date
// (YYYY-MM-DD); anything else yields no due date. Fails soft, never errors.
func ParseDueDate(s string, now time.Time) *time.Time {
	switch s {
	case "":
		return nil
	case "today":
		d := startOfDay(now)
		return &d
	case "tomorrow":
		d := startOfDay(now).AddDate(0, 0, 1)
		return &d
	}
	parsed, err := time.ParseInLocation("2006-01-02", s, now.Location())
	if err != nil {
		return nil
	}
	return &parsed
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

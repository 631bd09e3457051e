package domain

import (
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusActive  Status = "active"
	StatusSnoozed Status = "snoozed"
	StatusDone    Status = "done"
	StatusDropped Status = "dropped"
)

// SourceType records where a task was captured from. Set once at creation.
type SourceType string

const (
	SourceManual      SourceType = "manual"
	SourceVoiceDump   SourceType = "voiceDump"
	SourceShare       SourceType = "share"
	SourceAISuggested SourceType = "aiSuggested"
)

// ActionType tags a suggested follow-up action. The empty string means none.
type ActionType string

const (
	ActionCall          ActionType = "call"
	ActionText          ActionType = "text"
	ActionEmail         ActionType = "email"
	ActionOpenLink      ActionType = "openLink"
	ActionSearch        ActionType = "search"
	ActionNavigate      ActionType = "navigate"
	ActionAddToCalendar ActionType = "addToCalendar"
)

// Priority orders tasks within a sort tie. High sorts before low.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// AccentStatus is the display classification derived from a task's state.
type AccentStatus string

const (
	AccentComplete AccentStatus = "complete"
	AccentOverdue  AccentStatus = "overdue"
	AccentStale    AccentStatus = "stale"
	AccentActive   AccentStatus = "active"
)

// staleAfterDays is how long an active task sits before it reads as stale.
const staleAfterDays = 3

// ParseStatus maps a persisted status string to a Status. Unrecognized
// values degrade to active so schema drift never panics a load.
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusActive, StatusSnoozed, StatusDone, StatusDropped:
		return Status(s)
	default:
		return StatusActive
	}
}

// ParseSourceType maps a persisted provenance string, defaulting to manual.
func ParseSourceType(s string) SourceType {
	switch SourceType(s) {
	case SourceManual, SourceVoiceDump, SourceShare, SourceAISuggested:
		return SourceType(s)
	default:
		return SourceManual
	}
}

// ParseActionType maps an action tag string. Unknown or empty input yields
// the empty ActionType (no action).
func ParseActionType(s string) ActionType {
	switch ActionType(s) {
	case ActionCall, ActionText, ActionEmail, ActionOpenLink, ActionSearch, ActionNavigate, ActionAddToCalendar:
		return ActionType(s)
	default:
		return ""
	}
}

// ParsePriority maps a priority string, defaulting to medium.
func ParsePriority(s string) Priority {
	switch Priority(s) {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return Priority(s)
	default:
		return PriorityMedium
	}
}

// Rank returns the sort rank of a priority, high first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// Task is the unit of work. Mutated only through the Repository; the
// transition methods below are the full status state machine.
//
// Invariants: SnoozedUntil is non-nil iff Status is snoozed, CompletedAt is
// non-nil iff Status is done, and ID/SourceType/CreatedAt never change after
// creation.
type Task struct {
	ID               string     `json:"id"`
	Content          string     `json:"content"`
	Status           Status     `json:"status"`
	SourceType       SourceType `json:"sourceType"`
	ActionType       ActionType `json:"actionType,omitempty"`
	ContactName      string     `json:"contactName,omitempty"`
	ActionTarget     string     `json:"actionTarget,omitempty"`
	Priority         Priority   `json:"priority"`
	DueDate          *time.Time `json:"dueDate,omitempty"`
	ScheduledTime    *time.Time `json:"scheduledTime,omitempty"`
	EstimatedMinutes int        `json:"estimatedMinutes,omitempty"`
	SnoozedUntil     *time.Time `json:"snoozedUntil,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	SortOrder        int        `json:"sortOrder"`
	AIDraft          string     `json:"aiDraft,omitempty"`
	Emoji            string     `json:"emoji,omitempty"`
	DumpID           string     `json:"dumpId,omitempty"`
}

// AgeInDays is the floor-truncated number of days since creation, never
// negative.
func (t *Task) AgeInDays(now time.Time) int {
	d := int(now.Sub(t.CreatedAt).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// IsStale reports whether an active task has sat untouched long enough to
// surface as stale.
func (t *Task) IsStale(now time.Time) bool {
	return t.Status == StatusActive && t.AgeInDays(now) >= staleAfterDays
}

// IsOverdue reports whether a snoozed task's wake-up time has passed.
func (t *Task) IsOverdue(now time.Time) bool {
	return t.Status == StatusSnoozed && t.SnoozedUntil != nil && !t.SnoozedUntil.After(now)
}

// ShouldResurface signals the repository sweep to flip the task back to
// active.
func (t *Task) ShouldResurface(now time.Time) bool {
	return t.IsOverdue(now)
}

// HasAction reports whether a follow-up action is attached.
func (t *Task) HasAction() bool { return t.ActionType != "" }

// HasDraft reports whether an AI message draft is attached.
func (t *Task) HasDraft() bool { return t.AIDraft != "" }

// Accent classifies the task for display.
func (t *Task) Accent(now time.Time) AccentStatus {
	switch {
	case t.Status == StatusDone:
		return AccentComplete
	case t.IsOverdue(now):
		return AccentOverdue
	case t.IsStale(now):
		return AccentStale
	default:
		return AccentActive
	}
}

// MarkDone completes the task from active or snoozed. Returns false when the
// call changed nothing: done is idempotent and dropped is absorbing, so a
// second call never advances CompletedAt.
func (t *Task) MarkDone(now time.Time) bool {
	if t.Status != StatusActive && t.Status != StatusSnoozed {
		return false
	}
	done := now
	t.Status = StatusDone
	t.CompletedAt = &done
	t.SnoozedUntil = nil
	t.UpdatedAt = now
	return true
}

// UndoDone restores a completed task to active with the caller-supplied sort
// order.
func (t *Task) UndoDone(restoreSortOrder int, now time.Time) bool {
	if t.Status != StatusDone {
		return false
	}
	t.Status = StatusActive
	t.CompletedAt = nil
	t.SortOrder = restoreSortOrder
	t.UpdatedAt = now
	return true
}

// Snooze parks the task until the given time. Allowed from active and done;
// re-snoozing an already snoozed task just moves the wake-up time. A past
// until is accepted as-is and immediately reads as overdue; the resurface
// sweep corrects it on the next pass.
func (t *Task) Snooze(until, now time.Time) bool {
	switch t.Status {
	case StatusDropped:
		return false
	case StatusSnoozed:
		if t.SnoozedUntil != nil && t.SnoozedUntil.Equal(until) {
			return false
		}
	}
	u := until
	t.Status = StatusSnoozed
	t.SnoozedUntil = &u
	t.CompletedAt = nil
	t.UpdatedAt = now
	return true
}

// Resurface flips a snoozed task back to active. No-op otherwise.
func (t *Task) Resurface(now time.Time) bool {
	if t.Status != StatusSnoozed {
		return false
	}
	t.Status = StatusActive
	t.SnoozedUntil = nil
	t.UpdatedAt = now
	return true
}

// Drop soft-deletes the task from any state. Dropped is terminal and
// absorbing; only the sync tombstone purge removes the record physically.
func (t *Task) Drop(now time.Time) bool {
	if t.Status == StatusDropped {
		return false
	}
	t.Status = StatusDropped
	t.SnoozedUntil = nil
	t.CompletedAt = nil
	t.UpdatedAt = now
	return true
}

// Skip reorders the task within the active queue without changing status.
func (t *Task) Skip(newOrder int, now time.Time) bool {
	if t.Status != StatusActive || t.SortOrder == newOrder {
		return false
	}
	t.SortOrder = newOrder
	t.UpdatedAt = now
	return true
}

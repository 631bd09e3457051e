package domain

import (
	"testing"
	"time"
)

func checkInvariants(t *testing.T, task *Task) {
	t.Helper()
	if (task.SnoozedUntil != nil) != (task.Status == StatusSnoozed) {
		t.Fatalf("snoozedUntil/status invariant violated: status=%s snoozedUntil=%v", task.Status, task.SnoozedUntil)
	}
	if (task.CompletedAt != nil) != (task.Status == StatusDone) {
		t.Fatalf("completedAt/status invariant violated: status=%s completedAt=%v", task.Status, task.CompletedAt)
	}
}

func TestMarkDoneThenUndoRestoresState(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	task := &Task{ID: "t1", Content: "Call dentist", Status: StatusActive, SortOrder: 7, CreatedAt: now}

	if !task.MarkDone(now) {
		t.Fatal("expected markDone to apply")
	}
	checkInvariants(t, task)
	if task.CompletedAt == nil || !task.CompletedAt.Equal(now) {
		t.Fatalf("unexpected completedAt: %v", task.CompletedAt)
	}

	if !task.UndoDone(42, now.Add(time.Minute)) {
		t.Fatal("expected undoDone to apply")
	}
	checkInvariants(t, task)
	if task.Status != StatusActive {
		t.Fatalf("expected active after undo, got %s", task.Status)
	}
	if task.SortOrder != 42 {
		t.Fatalf("expected restored sort order 42, got %d", task.SortOrder)
	}
	if task.CompletedAt != nil {
		t.Fatalf("expected cleared completedAt, got %v", task.CompletedAt)
	}
}

func TestMarkDoneIsIdempotent(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	task := &Task{ID: "t1", Status: StatusActive, CreatedAt: now}

	task.MarkDone(now)
	first := *task.CompletedAt

	if task.MarkDone(now.Add(time.Hour)) {
		t.Fatal("second markDone should be a no-op")
	}
	if !task.CompletedAt.Equal(first) {
		t.Fatalf("second markDone advanced completedAt: %v", task.CompletedAt)
	}
	checkInvariants(t, task)
}

func TestSnoozeAcceptsPastTimeAndReadsOverdue(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	task := &Task{ID: "t1", Status: StatusActive, CreatedAt: now}

	past := now.Add(-time.Hour)
	if !task.Snooze(past, now) {
		t.Fatal("expected snooze to apply")
	}
	checkInvariants(t, task)
	if !task.IsOverdue(now) {
		t.Fatal("past snooze should read as overdue immediately")
	}
	if !task.ShouldResurface(now) {
		t.Fatal("overdue snooze should signal resurface")
	}

	if !task.Resurface(now) {
		t.Fatal("expected resurface to apply")
	}
	checkInvariants(t, task)
	if task.Status != StatusActive || task.SnoozedUntil != nil {
		t.Fatalf("unexpected state after resurface: %s %v", task.Status, task.SnoozedUntil)
	}
}

func TestSnoozeFromDoneClearsCompletion(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	task := &Task{ID: "t1", Status: StatusActive, CreatedAt: now}
	task.MarkDone(now)

	if !task.Snooze(now.Add(time.Hour), now) {
		t.Fatal("expected snooze from done to apply")
	}
	checkInvariants(t, task)
	if task.CompletedAt != nil {
		t.Fatalf("snooze should clear completedAt, got %v", task.CompletedAt)
	}
}

func TestDropIsAbsorbing(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	task := &Task{ID: "t1", Status: StatusActive, CreatedAt: now}

	if !task.Drop(now) {
		t.Fatal("expected drop to apply")
	}
	if task.Drop(now) {
		t.Fatal("second drop should be a no-op")
	}
	if task.MarkDone(now) || task.Snooze(now.Add(time.Hour), now) || task.Resurface(now) || task.Skip(5, now) {
		t.Fatal("no transition should leave dropped")
	}
	if task.Status != StatusDropped {
		t.Fatalf("expected dropped, got %s", task.Status)
	}
}

func TestSkipReordersWithoutStatusChange(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	task := &Task{ID: "t1", Status: StatusActive, SortOrder: 1, CreatedAt: now}

	if !task.Skip(9, now) {
		t.Fatal("expected skip to apply")
	}
	if task.Status != StatusActive || task.SortOrder != 9 {
		t.Fatalf("unexpected state after skip: %s %d", task.Status, task.SortOrder)
	}
	if task.Skip(9, now) {
		t.Fatal("skip to the same order should be a no-op")
	}
}

func TestStaleClassification(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	old := &Task{ID: "t1", Status: StatusActive, CreatedAt: now.AddDate(0, 0, -4)}
	if !old.IsStale(now) {
		t.Fatal("4-day-old active task should be stale")
	}
	if got := old.Accent(now); got != AccentStale {
		t.Fatalf("expected stale accent, got %s", got)
	}

	fresh := &Task{ID: "t2", Status: StatusActive, CreatedAt: now}
	if fresh.IsStale(now) {
		t.Fatal("fresh task should not be stale")
	}
	if got := fresh.Accent(now); got != AccentActive {
		t.Fatalf("expected active accent, got %s", got)
	}
}

func TestAccentPrecedence(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	done := &Task{ID: "t1", Status: StatusActive, CreatedAt: now.AddDate(0, 0, -10)}
	done.MarkDone(now)
	if got := done.Accent(now); got != AccentComplete {
		t.Fatalf("done should classify complete, got %s", got)
	}

	overdue := &Task{ID: "t2", Status: StatusActive, CreatedAt: now.AddDate(0, 0, -10)}
	overdue.Snooze(now.Add(-time.Minute), now)
	if got := overdue.Accent(now); got != AccentOverdue {
		t.Fatalf("overdue should win over stale, got %s", got)
	}
}

func TestAgeInDaysNeverNegative(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	task := &Task{ID: "t1", CreatedAt: now.Add(time.Hour)}
	if got := task.AgeInDays(now); got != 0 {
		t.Fatalf("expected 0 for future createdAt, got %d", got)
	}
	task.CreatedAt = now.Add(-36 * time.Hour)
	if got := task.AgeInDays(now); got != 1 {
		t.Fatalf("expected floor truncation to 1 day, got %d", got)
	}
}

func TestEnumParsingDegradesToDefaults(t *testing.T) {
	if got := ParseStatus("banana"); got != StatusActive {
		t.Fatalf("unknown status should degrade to active, got %s", got)
	}
	if got := ParsePriority("urgent"); got != PriorityMedium {
		t.Fatalf("unknown priority should degrade to medium, got %s", got)
	}
	if got := ParseActionType("teleport"); got != "" {
		t.Fatalf("unknown action type should degrade to none, got %s", got)
	}
	if got := ParseSourceType(""); got != SourceManual {
		t.Fatalf("empty source should degrade to manual, got %s", got)
	}
	if got := ParseActionType("openLink"); got != ActionOpenLink {
		t.Fatalf("known action type should parse, got %s", got)
	}
}

func TestPriorityRankOrder(t *testing.T) {
	if !(PriorityHigh.Rank() < PriorityMedium.Rank() && PriorityMedium.Rank() < PriorityLow.Rank()) {
		t.Fatal("priority rank must order high before medium before low")
	}
}

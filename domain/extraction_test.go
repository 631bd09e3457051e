package domain

import (
	"testing"
	"time"
)

func TestParseDueDateKeywords(t *testing.T) {
	now := time.Date(2026, 8, 30, 15, 30, 0, 0, time.UTC)

	today := ParseDueDate("today", now)
	if today == nil || !today.Equal(time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected today: %v", today)
	}

	tomorrow := ParseDueDate("tomorrow", now)
	if tomorrow == nil || !tomorrow.Equal(time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected tomorrow: %v", tomorrow)
	}
}

func TestParseDueDateISO(t *testing.T) {
	now := time.Date(2026, 8, 30, 15, 30, 0, 0, time.UTC)
	got := ParseDueDate("2026-12-24", now)
	if got == nil || !got.Equal(time.Date(2026, 12, 24, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected ISO date: %v", got)
	}
}

func TestParseDueDateFailsSoft(t *testing.T) {
	now := time.Now()
	for _, s := range []string{"", "next week", "24.12.2026", "garbage"} {
		if got := ParseDueDate(s, now); got != nil {
			t.Fatalf("expected nil due date for %q, got %v", s, got)
		}
	}
}

package domain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type fakeStore struct {
	tasks      map[string]Task
	dumps      []BrainDump
	loadErr    error
	upsertErr  error
	deleteErr  error
	insertErr  error
	upsertSeen []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: make(map[string]Task)}
}

func (f *fakeStore) LoadTasks(ctx context.Context) ([]Task, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	out := make([]Task, 0, len(f.tasks))
	for _, t := range f.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeStore) UpsertTask(ctx context.Context, t Task) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.tasks[t.ID] = t
	f.upsertSeen = append(f.upsertSeen, t.ID)
	return nil
}

func (f *fakeStore) DeleteTask(ctx context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.tasks, id)
	return nil
}

func (f *fakeStore) InsertBrainDump(ctx context.Context, d BrainDump) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.dumps = append(f.dumps, d)
	return nil
}

func (f *fakeStore) CountBrainDumpsSince(ctx context.Context, since time.Time) (int, error) {
	n := 0
	for _, d := range f.dumps {
		if !d.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func newTestRepo(t *testing.T, st Storage) (*Repository, func(time.Time)) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	repo := NewRepository(context.Background(), st, logger)
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	repo.SetClock(func() time.Time { return now })
	return repo, func(next time.Time) {
		now = next
		repo.SetClock(func() time.Time { return next })
	}
}

func TestCreateManualAssignsIncreasingSortOrder(t *testing.T) {
	repo, _ := newTestRepo(t, newFakeStore())
	ctx := context.Background()

	first, err := repo.CreateManual(ctx, "first")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := repo.CreateManual(ctx, "second")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if second.SortOrder <= first.SortOrder {
		t.Fatalf("sort order must increase: %d then %d", first.SortOrder, second.SortOrder)
	}
	if first.SourceType != SourceManual || first.Status != StatusActive {
		t.Fatalf("unexpected manual task: %#v", first)
	}
}

func TestCreateManualRejectsEmptyContent(t *testing.T) {
	repo, _ := newTestRepo(t, newFakeStore())
	if _, err := repo.CreateManual(context.Background(), ""); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
}

func TestCreateFromExtractionScenario(t *testing.T) {
	repo, _ := newTestRepo(t, newFakeStore())
	ctx := context.Background()

	dentist, err := repo.CreateFromExtraction(ctx, ExtractedTask{
		Content: "Call dentist", Priority: "high", DueDateString: "tomorrow", IsActionable: true,
	}, "dump-1")
	if err != nil {
		t.Fatalf("create dentist: %v", err)
	}
	milk, err := repo.CreateFromExtraction(ctx, ExtractedTask{
		Content: "Buy milk", Priority: "low", DueDateString: "",
	}, "dump-1")
	if err != nil {
		t.Fatalf("create milk: %v", err)
	}

	if dentist.Priority != PriorityHigh {
		t.Fatalf("expected high priority, got %s", dentist.Priority)
	}
	wantDue := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	if dentist.DueDate == nil || !dentist.DueDate.Equal(wantDue) {
		t.Fatalf("expected due date %v, got %v", wantDue, dentist.DueDate)
	}
	if milk.Priority != PriorityLow || milk.DueDate != nil {
		t.Fatalf("unexpected milk task: %#v", milk)
	}
	if got := repo.ActiveCount(); got != 2 {
		t.Fatalf("expected activeCount 2, got %d", got)
	}

	queue := repo.FetchActiveQueue()
	if len(queue) != 2 || queue[0].Content != "Call dentist" || queue[1].Content != "Buy milk" {
		t.Fatalf("expected proposal order preserved, got %#v", queue)
	}
}

func TestCreateFromExtractionDegradesMalformedFields(t *testing.T) {
	repo, _ := newTestRepo(t, newFakeStore())
	task, err := repo.CreateFromExtraction(context.Background(), ExtractedTask{
		Content:       "Ping Alice",
		ActionType:    "summon",
		ContactName:   "Alice",
		Priority:      "critical",
		DueDateString: "someday",
	}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.ActionType != "" || task.ContactName != "" {
		t.Fatalf("unknown action type should strip action metadata: %#v", task)
	}
	if task.Priority != PriorityMedium || task.DueDate != nil {
		t.Fatalf("malformed fields should degrade to defaults: %#v", task)
	}
	if task.SourceType != SourceVoiceDump {
		t.Fatalf("extraction tasks carry voiceDump provenance, got %s", task.SourceType)
	}
}

func TestCreateFromShareSnoozeRouting(t *testing.T) {
	repo, _ := newTestRepo(t, newFakeStore())
	ctx := context.Background()
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	future, err := repo.CreateFromShare(ctx, SharePayload{
		Content:      "Read article",
		SnoozedUntil: base.Add(time.Hour).Unix(),
		SavedAt:      base.Unix(),
	})
	if err != nil {
		t.Fatalf("create future: %v", err)
	}
	if future.Status != StatusSnoozed || future.SnoozedUntil == nil {
		t.Fatalf("future snooze hint should land snoozed: %#v", future)
	}

	past, err := repo.CreateFromShare(ctx, SharePayload{
		Content:      "Old share",
		SnoozedUntil: base.Add(-time.Hour).Unix(),
		SavedAt:      base.Unix(),
	})
	if err != nil {
		t.Fatalf("create past: %v", err)
	}
	if past.Status != StatusActive || past.SnoozedUntil != nil {
		t.Fatalf("past snooze hint should land active: %#v", past)
	}
}

func TestCreateFromShareURLBecomesOpenLink(t *testing.T) {
	repo, _ := newTestRepo(t, newFakeStore())
	url := "https://example.com"
	task, err := repo.CreateFromShare(context.Background(), SharePayload{Content: "Look", URL: &url, SavedAt: 1})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.ActionType != ActionOpenLink || task.ActionTarget != url {
		t.Fatalf("shared URL should attach an openLink action: %#v", task)
	}
	if task.SourceType != SourceShare {
		t.Fatalf("expected share provenance, got %s", task.SourceType)
	}
}

func TestFetchAllGroupedOrdering(t *testing.T) {
	st := newFakeStore()
	repo, setNow := newTestRepo(t, st)
	ctx := context.Background()
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	a, _ := repo.CreateManual(ctx, "a")
	b, _ := repo.CreateManual(ctx, "b")
	c, _ := repo.CreateManual(ctx, "c")

	if _, err := repo.Snooze(ctx, b.ID, base.Add(2*time.Hour)); err != nil {
		t.Fatalf("snooze b: %v", err)
	}
	if _, err := repo.Snooze(ctx, c.ID, base.Add(time.Hour)); err != nil {
		t.Fatalf("snooze c: %v", err)
	}

	setNow(base.Add(10 * time.Minute))
	if _, err := repo.MarkDone(ctx, a.ID); err != nil {
		t.Fatalf("done a: %v", err)
	}
	d, _ := repo.CreateManual(ctx, "d")

	g := repo.FetchAllGrouped()
	if len(g.Active) != 1 || g.Active[0].ID != d.ID {
		t.Fatalf("unexpected active group: %#v", g.Active)
	}
	if len(g.Snoozed) != 2 || g.Snoozed[0].ID != c.ID || g.Snoozed[1].ID != b.ID {
		t.Fatalf("snoozed must order by wake-up time: %#v", g.Snoozed)
	}
	if len(g.DoneToday) != 1 || g.DoneToday[0].ID != a.ID {
		t.Fatalf("unexpected doneToday group: %#v", g.DoneToday)
	}
}

func TestFetchCompletedTodayExcludesYesterday(t *testing.T) {
	repo, setNow := newTestRepo(t, newFakeStore())
	ctx := context.Background()
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	old, _ := repo.CreateManual(ctx, "yesterday's win")
	if _, err := repo.MarkDone(ctx, old.ID); err != nil {
		t.Fatalf("done: %v", err)
	}

	setNow(base.AddDate(0, 0, 1))
	if got := repo.FetchCompletedToday(); len(got) != 0 {
		t.Fatalf("yesterday's completion should not show today: %#v", got)
	}
}

func TestFetchNextItemEmptyQueue(t *testing.T) {
	repo, _ := newTestRepo(t, newFakeStore())
	if _, ok := repo.FetchNextItem(); ok {
		t.Fatal("empty queue should report no next item")
	}
}

func TestTransitionNotFound(t *testing.T) {
	repo, _ := newTestRepo(t, newFakeStore())
	if _, err := repo.MarkDone(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResurfaceExpiredSnoozes(t *testing.T) {
	repo, setNow := newTestRepo(t, newFakeStore())
	ctx := context.Background()
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	expired, _ := repo.CreateManual(ctx, "expired")
	pending, _ := repo.CreateManual(ctx, "pending")
	repo.Snooze(ctx, expired.ID, base.Add(time.Minute))
	repo.Snooze(ctx, pending.ID, base.Add(time.Hour))

	setNow(base.Add(30 * time.Minute))
	n, err := repo.ResurfaceExpiredSnoozes(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one resurfaced task, got %d", n)
	}
	got, _ := repo.Get(expired.ID)
	if got.Status != StatusActive || got.SnoozedUntil != nil {
		t.Fatalf("expired snooze should be active again: %#v", got)
	}
	still, _ := repo.Get(pending.ID)
	if still.Status != StatusSnoozed {
		t.Fatalf("pending snooze should stay snoozed: %#v", still)
	}
}

func TestPersistFailureKeepsInMemoryState(t *testing.T) {
	st := newFakeStore()
	repo, _ := newTestRepo(t, st)
	ctx := context.Background()

	task, err := repo.CreateManual(ctx, "flaky")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	st.upsertErr = errors.New("disk full")
	_, err = repo.MarkDone(ctx, task.ID)
	var pe *PersistError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PersistError, got %v", err)
	}

	got, _ := repo.Get(task.ID)
	if got.Status != StatusDone {
		t.Fatalf("in-memory state must keep the attempted transition, got %s", got.Status)
	}
}

func TestLoadFailureStartsEmpty(t *testing.T) {
	st := newFakeStore()
	st.loadErr = errors.New("corrupt db")
	logger, hook := test.NewNullLogger()
	repo := NewRepository(context.Background(), st, logger)

	if got := repo.ActiveCount(); got != 0 {
		t.Fatalf("expected empty collection, got %d active", got)
	}
	found := false
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			found = true
		}
	}
	if !found {
		t.Fatal("load failure should be logged as a warning")
	}
}

func TestCancelledContextBlocksWrites(t *testing.T) {
	repo, _ := newTestRepo(t, newFakeStore())
	ctx, cancel := context.WithCancel(context.Background())
	task, _ := repo.CreateManual(ctx, "victim")
	cancel()

	if _, err := repo.CreateManual(ctx, "late"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := repo.MarkDone(ctx, task.ID); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	got, _ := repo.Get(task.ID)
	if got.Status != StatusActive {
		t.Fatalf("cancelled transition must not mutate, got %s", got.Status)
	}
}

func TestAdoptRemoteAndPurge(t *testing.T) {
	st := newFakeStore()
	repo, _ := newTestRepo(t, st)
	ctx := context.Background()

	remote := Task{ID: "r1", Content: "from replica", Status: StatusDropped, SourceType: SourceManual, Priority: PriorityMedium}
	if err := repo.AdoptRemote(ctx, remote); err != nil {
		t.Fatalf("adopt: %v", err)
	}
	got, ok := repo.Get("r1")
	if !ok || got.Status != StatusDropped {
		t.Fatalf("adopted record missing or wrong: %#v", got)
	}

	if err := repo.Purge(ctx, "r1"); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if _, ok := repo.Get("r1"); ok {
		t.Fatal("purged record should be gone")
	}
	if _, ok := st.tasks["r1"]; ok {
		t.Fatal("purge must delete from storage too")
	}
}

func TestBrainDumpAccounting(t *testing.T) {
	repo, _ := newTestRepo(t, newFakeStore())
	ctx := context.Background()

	dump, err := repo.CreateBrainDump(ctx, "", "call mom and buy milk", []string{"a", "b"})
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	if dump.TaskCount() != 2 || dump.WasSingleItem() {
		t.Fatalf("unexpected dump accounting: %#v", dump)
	}

	n, err := repo.CountBrainDumpsToday(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one dump today, got %d", n)
	}
}

package domain

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Storage is the persistence surface the Repository writes through. The
// concrete store keeps enums as strings and timestamps nullable; all typed
// mapping happens on this side of the boundary.
type Storage interface {
	LoadTasks(ctx context.Context) ([]Task, error)
	UpsertTask(ctx context.Context, t Task) error
	DeleteTask(ctx context.Context, id string) error
	InsertBrainDump(ctx context.Context, d BrainDump) error
	CountBrainDumpsSince(ctx context.Context, since time.Time) (int, error)
}

// Grouped is the three ordered slices the presentation layer renders.
type Grouped struct {
	Active    []Task `json:"active"`
	Snoozed   []Task `json:"snoozed"`
	DoneToday []Task `json:"doneToday"`
}

// Repository is the sole mutation boundary over the task collection. It
// holds the collection in memory and writes through to Storage: a failed
// persist is reported as a PersistError but the in-memory entity keeps the
// attempted transition, so presentation state stays responsive.
//
// The Repository exposes no locking. Callers are expected to invoke it from
// a single coordinating context and serialize access themselves.
type Repository struct {
	st    Storage
	log   *log.Logger
	now   func() time.Time
	tasks map[string]*Task
}

// NewRepository loads the persisted collection. A load failure degrades to
// an empty collection rather than refusing to start.
func NewRepository(ctx context.Context, st Storage, logger *log.Logger) *Repository {
	r := &Repository{
		st:    st,
		log:   logger,
		now:   time.Now,
		tasks: make(map[string]*Task),
	}
	loaded, err := st.LoadTasks(ctx)
	if err != nil {
		logger.WithError(err).Warn("task load failed, starting with empty collection")
		return r
	}
	for i := range loaded {
		t := loaded[i]
		r.tasks[t.ID] = &t
	}
	return r
}

// SetClock overrides the repository clock. Intended for tests.
func (r *Repository) SetClock(now func() time.Time) { r.now = now }

// CreateManual creates an active task from typed input.
func (r *Repository) CreateManual(ctx context.Context, content string) (*Task, error) {
	if content == "" {
		return nil, ErrEmptyContent
	}
	t := Task{
		Content:    content,
		Status:     StatusActive,
		SourceType: SourceManual,
		Priority:   PriorityMedium,
	}
	return r.create(ctx, t)
}

// CreateFromExtraction maps an extraction proposal into a task. Unparseable
// enum and date strings degrade to safe defaults; the proposal is never
// rejected for them. dumpID links the task back to its capture session and
// may be empty.
func (r *Repository) CreateFromExtraction(ctx context.Context, ex ExtractedTask, dumpID string) (*Task, error) {
	if ex.Content == "" {
		return nil, ErrEmptyContent
	}
	t := Task{
		Content:      ex.Content,
		Status:       StatusActive,
		SourceType:   SourceVoiceDump,
		ActionType:   ParseActionType(ex.ActionType),
		ContactName:  ex.ContactName,
		ActionTarget: ex.ActionTarget,
		Priority:     ParsePriority(ex.Priority),
		DueDate:      ParseDueDate(ex.DueDateString, r.now()),
		Emoji:        ex.Emoji,
		DumpID:       dumpID,
	}
	if t.ActionType == "" {
		t.ContactName = ""
		t.ActionTarget = ""
	}
	return r.create(ctx, t)
}

// CreateFromShare converts a mailbox payload into a task. A future snooze
// hint lands the task directly in snoozed; a hint already in the past lands
// it active.
func (r *Repository) CreateFromShare(ctx context.Context, p SharePayload) (*Task, error) {
	content := p.Content
	if content == "" && p.URL != nil {
		content = *p.URL
	}
	if content == "" {
		return nil, ErrEmptyContent
	}
	t := Task{
		Content:    content,
		Status:     StatusActive,
		SourceType: SourceShare,
		Priority:   PriorityMedium,
	}
	if p.URL != nil {
		t.ActionType = ActionOpenLink
		t.ActionTarget = *p.URL
	}
	if until := p.SnoozedUntilTime(); !until.IsZero() && until.After(r.now()) {
		u := until
		t.Status = StatusSnoozed
		t.SnoozedUntil = &u
	}
	return r.create(ctx, t)
}

func (r *Repository) create(ctx context.Context, t Task) (*Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := r.now()
	t.ID = uuid.NewString()
	t.CreatedAt = now
	t.UpdatedAt = now
	t.SortOrder = r.nextSortOrder()
	r.tasks[t.ID] = &t
	cp := t
	if err := r.st.UpsertTask(ctx, t); err != nil {
		r.log.WithError(err).WithField("task", t.ID).Error("task create persist failed")
		return &cp, &PersistError{Op: "create", Err: err}
	}
	return &cp, nil
}

func (r *Repository) nextSortOrder() int {
	max := 0
	for _, t := range r.tasks {
		if t.SortOrder > max {
			max = t.SortOrder
		}
	}
	return max + 1
}

// Get returns a copy of the task with the given id.
func (r *Repository) Get(id string) (Task, bool) {
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// FetchAllGrouped returns the three presentation groups: active by sort
// order then creation time, snoozed by wake-up time, and tasks completed
// within the current calendar day, newest first.
func (r *Repository) FetchAllGrouped() Grouped {
	g := Grouped{
		Active:    r.FetchActiveQueue(),
		Snoozed:   make([]Task, 0),
		DoneToday: r.FetchCompletedToday(),
	}
	for _, t := range r.tasks {
		if t.Status == StatusSnoozed {
			g.Snoozed = append(g.Snoozed, *t)
		}
	}
	sort.Slice(g.Snoozed, func(i, j int) bool {
		a, b := g.Snoozed[i].SnoozedUntil, g.Snoozed[j].SnoozedUntil
		if a == nil || b == nil {
			return b == nil && a != nil
		}
		return a.Before(*b)
	})
	return g
}

// FetchActiveQueue returns active tasks ordered by sort order ascending.
// Sort-order collisions are tolerated and resolved on creation time, then
// priority.
func (r *Repository) FetchActiveQueue() []Task {
	out := make([]Task, 0)
	for _, t := range r.tasks {
		if t.Status == StatusActive {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Priority.Rank() < out[j].Priority.Rank()
	})
	return out
}

// FetchNextItem returns the head of the active queue, if any.
func (r *Repository) FetchNextItem() (Task, bool) {
	queue := r.FetchActiveQueue()
	if len(queue) == 0 {
		return Task{}, false
	}
	return queue[0], true
}

// FetchCompletedToday returns tasks completed within the current calendar
// day, most recent first.
func (r *Repository) FetchCompletedToday() []Task {
	dayStart := startOfDay(r.now())
	dayEnd := dayStart.AddDate(0, 0, 1)
	out := make([]Task, 0)
	for _, t := range r.tasks {
		if t.Status != StatusDone || t.CompletedAt == nil {
			continue
		}
		if t.CompletedAt.Before(dayStart) || !t.CompletedAt.Before(dayEnd) {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CompletedAt.After(*out[j].CompletedAt)
	})
	return out
}

// ActiveCount reports the size of the active queue.
func (r *Repository) ActiveCount() int {
	n := 0
	for _, t := range r.tasks {
		if t.Status == StatusActive {
			n++
		}
	}
	return n
}

// SavedItemCount counts all non-dropped tasks, the population the saved-item
// quota admits against.
func (r *Repository) SavedItemCount() int {
	n := 0
	for _, t := range r.tasks {
		if t.Status != StatusDropped {
			n++
		}
	}
	return n
}

// MarkDone completes the task with the given id.
func (r *Repository) MarkDone(ctx context.Context, id string) (*Task, error) {
	return r.transition(ctx, id, "markDone", func(t *Task, now time.Time) bool {
		return t.MarkDone(now)
	})
}

// UndoDone restores a completed task to active with the supplied sort order.
func (r *Repository) UndoDone(ctx context.Context, id string, restoreSortOrder int) (*Task, error) {
	return r.transition(ctx, id, "undoDone", func(t *Task, now time.Time) bool {
		return t.UndoDone(restoreSortOrder, now)
	})
}

// Snooze parks the task until the given time.
func (r *Repository) Snooze(ctx context.Context, id string, until time.Time) (*Task, error) {
	return r.transition(ctx, id, "snooze", func(t *Task, now time.Time) bool {
		return t.Snooze(until, now)
	})
}

// Drop soft-deletes the task.
func (r *Repository) Drop(ctx context.Context, id string) (*Task, error) {
	return r.transition(ctx, id, "drop", func(t *Task, now time.Time) bool {
		return t.Drop(now)
	})
}

// Skip moves the task within the active queue.
func (r *Repository) Skip(ctx context.Context, id string, newOrder int) (*Task, error) {
	return r.transition(ctx, id, "skip", func(t *Task, now time.Time) bool {
		return t.Skip(newOrder, now)
	})
}

func (r *Repository) transition(ctx context.Context, id, op string, apply func(*Task, time.Time) bool) (*Task, error) {
	t, ok := r.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !apply(t, r.now()) {
		cp := *t
		return &cp, nil
	}
	cp := *t
	if err := r.st.UpsertTask(ctx, *t); err != nil {
		r.log.WithError(err).WithFields(log.Fields{"task": id, "op": op}).Error("transition persist failed")
		return &cp, &PersistError{Op: op, Err: err}
	}
	return &cp, nil
}

// ResurfaceExpiredSnoozes scans snoozed tasks and flips every one whose
// wake-up time has passed back to active. The snoozed set is fetched broad
// and filtered in memory; the storage layer cannot compare against a
// nullable timestamp column safely. Returns how many tasks resurfaced and
// the first persist failure, if any.
func (r *Repository) ResurfaceExpiredSnoozes(ctx context.Context) (int, error) {
	now := r.now()
	var firstErr error
	n := 0
	for _, t := range r.tasks {
		if !t.ShouldResurface(now) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if !t.Resurface(now) {
			continue
		}
		n++
		if err := r.st.UpsertTask(ctx, *t); err != nil {
			r.log.WithError(err).WithField("task", t.ID).Error("resurface persist failed")
			if firstErr == nil {
				firstErr = &PersistError{Op: "resurface", Err: err}
			}
		}
	}
	return n, firstErr
}

// CreateBrainDump records a capture session and its extracted task ids. The
// id is supplied by the caller, which minted it before creating the member
// tasks so each could carry the back-reference.
func (r *Repository) CreateBrainDump(ctx context.Context, id, transcript string, itemIDs []string) (*BrainDump, error) {
	if id == "" {
		id = uuid.NewString()
	}
	d := BrainDump{
		ID:            id,
		RawTranscript: transcript,
		CreatedAt:     r.now(),
		ItemIDs:       append([]string(nil), itemIDs...),
	}
	if err := r.st.InsertBrainDump(ctx, d); err != nil {
		r.log.WithError(err).Error("brain dump persist failed")
		return &d, &PersistError{Op: "brainDump", Err: err}
	}
	return &d, nil
}

// CountBrainDumpsToday reports how many capture sessions were recorded since
// the start of the current calendar day.
func (r *Repository) CountBrainDumpsToday(ctx context.Context) (int, error) {
	return r.st.CountBrainDumpsSince(ctx, startOfDay(r.now()))
}

// All returns a copy of every task, dropped included. Used by the sync
// reconciler.
func (r *Repository) All() []Task {
	out := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, *t)
	}
	return out
}

// AdoptRemote replaces or inserts a task with the remote replica's record,
// whole-record. Used when the remote side wins a reconciliation.
func (r *Repository) AdoptRemote(ctx context.Context, t Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := t
	r.tasks[t.ID] = &cp
	if err := r.st.UpsertTask(ctx, t); err != nil {
		r.log.WithError(err).WithField("task", t.ID).Error("remote adopt persist failed")
		return &PersistError{Op: "adoptRemote", Err: err}
	}
	return nil
}

// Purge physically removes a task. Only the sync reconciler calls this, and
// only for tombstones both replicas have acknowledged.
func (r *Repository) Purge(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	delete(r.tasks, id)
	if err := r.st.DeleteTask(ctx, id); err != nil {
		r.log.WithError(err).WithField("task", id).Error("purge persist failed")
		return &PersistError{Op: "purge", Err: err}
	}
	return nil
}

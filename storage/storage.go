package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"nudge-core/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id                TEXT PRIMARY KEY,
	content           TEXT NOT NULL,
	status            TEXT NOT NULL,
	source_type       TEXT NOT NULL,
	action_type       TEXT,
	contact_name      TEXT,
	action_target     TEXT,
	priority          TEXT NOT NULL,
	due_date          INTEGER,
	scheduled_time    INTEGER,
	estimated_minutes INTEGER NOT NULL DEFAULT 0,
	snoozed_until     INTEGER,
	completed_at      INTEGER,
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL,
	sort_order        INTEGER NOT NULL,
	ai_draft          TEXT,
	emoji             TEXT,
	dump_id           TEXT
);
CREATE TABLE IF NOT EXISTS brain_dumps (
	id             TEXT PRIMARY KEY,
	raw_transcript TEXT NOT NULL,
	created_at     INTEGER NOT NULL,
	item_ids       TEXT NOT NULL
);
`

// Store persists the task collection in SQLite. Enums are stored as raw
// strings and re-validated on load with safe defaults, so records written
// by a newer schema never break an older reader.
type Store struct {
	db *sql.DB
}

// Open opens the on-disk store at path. If the file cannot be opened or the
// schema cannot be initialized, it falls back to a non-persistent in-memory
// database rather than refusing to start.
func Open(path string, logger *log.Logger) (*Store, error) {
	db, err := openAt(path)
	if err != nil {
		logger.WithError(err).Error("on-disk store unavailable, falling back to in-memory store")
		db, err = openAt(":memory:")
		if err != nil {
			return nil, fmt.Errorf("open in-memory store: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// OpenMemory opens a non-persistent store. Used by tests and as the explicit
// ephemeral mode.
func OpenMemory() (*Store, error) {
	db, err := openAt(":memory:")
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func openAt(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return db, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// LoadTasks returns every persisted task, dropped ones included.
func (s *Store) LoadTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, content, status, source_type,
		action_type, contact_name, action_target, priority, due_date,
		scheduled_time, estimated_minutes, snoozed_until, completed_at,
		created_at, updated_at, sort_order, ai_draft, emoji, dump_id
		FROM tasks`)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		var (
			t                                              domain.Task
			status, sourceType, priority                   string
			actionType, contactName, actionTarget          sql.NullString
			aiDraft, emoji, dumpID                         sql.NullString
			dueDate, scheduledTime, snoozedUntil, doneAt   sql.NullInt64
			createdAt, updatedAt                           int64
		)
		if err := rows.Scan(&t.ID, &t.Content, &status, &sourceType,
			&actionType, &contactName, &actionTarget, &priority, &dueDate,
			&scheduledTime, &t.EstimatedMinutes, &snoozedUntil, &doneAt,
			&createdAt, &updatedAt, &t.SortOrder, &aiDraft, &emoji, &dumpID); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Status = domain.ParseStatus(status)
		t.SourceType = domain.ParseSourceType(sourceType)
		t.ActionType = domain.ParseActionType(actionType.String)
		t.ContactName = contactName.String
		t.ActionTarget = actionTarget.String
		t.Priority = domain.ParsePriority(priority)
		t.DueDate = nanoTime(dueDate)
		t.ScheduledTime = nanoTime(scheduledTime)
		t.SnoozedUntil = nanoTime(snoozedUntil)
		t.CompletedAt = nanoTime(doneAt)
		t.CreatedAt = time.Unix(0, createdAt)
		t.UpdatedAt = time.Unix(0, updatedAt)
		t.AIDraft = aiDraft.String
		t.Emoji = emoji.String
		t.DumpID = dumpID.String
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpsertTask writes a task wholesale, inserting or replacing by id.
func (s *Store) UpsertTask(ctx context.Context, t domain.Task) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO tasks (id, content, status,
		source_type, action_type, contact_name, action_target, priority,
		due_date, scheduled_time, estimated_minutes, snoozed_until,
		completed_at, created_at, updated_at, sort_order, ai_draft, emoji, dump_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		content=excluded.content, status=excluded.status,
		action_type=excluded.action_type, contact_name=excluded.contact_name,
		action_target=excluded.action_target, priority=excluded.priority,
		due_date=excluded.due_date, scheduled_time=excluded.scheduled_time,
		estimated_minutes=excluded.estimated_minutes,
		snoozed_until=excluded.snoozed_until, completed_at=excluded.completed_at,
		updated_at=excluded.updated_at, sort_order=excluded.sort_order,
		ai_draft=excluded.ai_draft, emoji=excluded.emoji, dump_id=excluded.dump_id`,
		t.ID, t.Content, string(t.Status), string(t.SourceType),
		nullString(string(t.ActionType)), nullString(t.ContactName),
		nullString(t.ActionTarget), string(t.Priority),
		nanoInt(t.DueDate), nanoInt(t.ScheduledTime), t.EstimatedMinutes,
		nanoInt(t.SnoozedUntil), nanoInt(t.CompletedAt),
		t.CreatedAt.UnixNano(), t.UpdatedAt.UnixNano(), t.SortOrder,
		nullString(t.AIDraft), nullString(t.Emoji), nullString(t.DumpID))
	if err != nil {
		return fmt.Errorf("upsert task %s: %w", t.ID, err)
	}
	return nil
}

// DeleteTask removes a task physically. Deleting an absent id is not an
// error; tombstone purges may race with an earlier purge.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

// InsertBrainDump records a capture session.
func (s *Store) InsertBrainDump(ctx context.Context, d domain.BrainDump) error {
	items, err := sonic.Marshal(d.ItemIDs)
	if err != nil {
		return fmt.Errorf("encode dump items: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO brain_dumps (id, raw_transcript, created_at, item_ids)
		VALUES (?, ?, ?, ?)`,
		d.ID, d.RawTranscript, d.CreatedAt.UnixNano(), string(items))
	if err != nil {
		return fmt.Errorf("insert brain dump %s: %w", d.ID, err)
	}
	return nil
}

// CountBrainDumpsSince counts capture sessions recorded at or after the
// given time.
func (s *Store) CountBrainDumpsSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM brain_dumps WHERE created_at >= ?`, since.UnixNano()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count brain dumps: %w", err)
	}
	return n, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nanoInt(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func nanoTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64)
	return &t
}

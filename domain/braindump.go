package domain

import "time"

// BrainDump owns the tasks extracted from a single capture session. Tasks
// keep a nullable back-reference (Task.DumpID); deleting a dump nullifies
// that link rather than deleting the tasks.
type BrainDump struct {
	ID            string    `json:"id"`
	RawTranscript string    `json:"rawTranscript"`
	CreatedAt     time.Time `json:"createdAt"`
	ItemIDs       []string  `json:"itemIds"`
}

// TaskCount is the number of tasks extracted from this capture session.
func (b *BrainDump) TaskCount() int { return len(b.ItemIDs) }

// WasSingleItem reports whether the session produced at most one task.
func (b *BrainDump) WasSingleItem() bool { return len(b.ItemIDs) <= 1 }

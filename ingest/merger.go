package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"nudge-core/domain"
)

// Extractor turns a raw capture transcript into task proposals. The concrete
// implementation calls a language model; tests stub it.
type Extractor interface {
	Extract(ctx context.Context, transcript string) ([]domain.ExtractedTask, error)
}

// Quotas bound how much a device may admit. Zero means unlimited.
type Quotas struct {
	MaxDailyBrainDumps int
	MaxSavedItems      int
}

// DrainResult reports what one mailbox drain did.
type DrainResult struct {
	Admitted   int `json:"admitted"`
	Duplicates int `json:"duplicates"`
	Corrupt    int `json:"corrupt"`
}

// Merger is the single entry point for content arriving from outside the
// repository: capture transcripts and mailbox payloads. It enforces the
// admission quotas and hands admitted content to the repository.
type Merger struct {
	repo      *domain.Repository
	extractor Extractor
	box       Mailbox
	dedupe    Deduper
	quotas    Quotas
	log       *log.Logger
}

// NewMerger wires a merger. extractor may be nil when the deployment has no
// capture path; box and dedupe may be nil when it has no mailbox.
func NewMerger(repo *domain.Repository, extractor Extractor, box Mailbox, dedupe Deduper, quotas Quotas, logger *log.Logger) *Merger {
	if repo == nil {
		panic("ingest.NewMerger: repository is nil")
	}
	return &Merger{repo: repo, extractor: extractor, box: box, dedupe: dedupe, quotas: quotas, log: logger}
}

// IngestTranscript runs one capture session: extract proposals, admit the
// batch against both quotas, create the tasks, then record the session. The
// whole batch is admitted or denied together; a session that would push the
// device over either quota creates nothing.
func (m *Merger) IngestTranscript(ctx context.Context, transcript string) (*domain.BrainDump, []domain.Task, error) {
	if transcript == "" {
		return nil, nil, domain.ErrEmptyContent
	}
	if m.extractor == nil {
		return nil, nil, errors.New("no extractor configured")
	}

	if m.quotas.MaxDailyBrainDumps > 0 {
		n, err := m.repo.CountBrainDumpsToday(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("count capture sessions: %w", err)
		}
		if n >= m.quotas.MaxDailyBrainDumps {
			return nil, nil, &domain.AdmissionDeniedError{Quota: "brainDumps", Limit: m.quotas.MaxDailyBrainDumps}
		}
	}

	proposals, err := m.extractor.Extract(ctx, transcript)
	if err != nil {
		return nil, nil, fmt.Errorf("extract transcript: %w", err)
	}
	if m.quotas.MaxSavedItems > 0 && m.repo.SavedItemCount()+len(proposals) > m.quotas.MaxSavedItems {
		return nil, nil, &domain.AdmissionDeniedError{Quota: "savedItems", Limit: m.quotas.MaxSavedItems}
	}

	dumpID := uuid.NewString()
	tasks := make([]domain.Task, 0, len(proposals))
	ids := make([]string, 0, len(proposals))
	var firstErr error
	for _, p := range proposals {
		if !p.IsActionable {
			// Non-actionable items become plain notes.
			p.ActionType = ""
			p.ContactName = ""
			p.ActionTarget = ""
		}
		t, err := m.repo.CreateFromExtraction(ctx, p, dumpID)
		if err != nil {
			if errors.Is(err, domain.ErrEmptyContent) {
				m.log.Warn("extractor proposed an empty task, skipping")
				continue
			}
			var pe *domain.PersistError
			if errors.As(err, &pe) {
				if firstErr == nil {
					firstErr = err
				}
			} else {
				return nil, tasks, err
			}
		}
		tasks = append(tasks, *t)
		ids = append(ids, t.ID)
	}

	dump, err := m.repo.CreateBrainDump(ctx, dumpID, transcript, ids)
	if err != nil && firstErr == nil {
		firstErr = err
	}
	return dump, tasks, firstErr
}

// SaveShare accepts one payload pushed directly over the API and drops it in
// the mailbox for the next drain.
func (m *Merger) SaveShare(ctx context.Context, p domain.SharePayload) error {
	if m.box == nil {
		return errors.New("no mailbox configured")
	}
	if p.Content == "" && p.URL == nil {
		return domain.ErrEmptyContent
	}
	return m.box.Append(ctx, p)
}

// DrainMailbox admits every pending payload. Duplicates of payloads already
// admitted on an earlier drain are dropped; entries that do not decode are
// counted and skipped. The mailbox is cleared only after the whole batch has
// been attempted, so a crash mid-drain redelivers and the deduper absorbs
// the repeats. A drain that would push the device over the saved-item quota
// stops without clearing and reports the denial.
func (m *Merger) DrainMailbox(ctx context.Context) (DrainResult, error) {
	var res DrainResult
	if m.box == nil {
		return res, nil
	}

	payloads, corrupt, err := m.box.ReadAll(ctx)
	res.Corrupt = corrupt
	if err != nil {
		return res, fmt.Errorf("read mailbox: %w", err)
	}

	var firstErr error
	for _, p := range payloads {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if m.quotas.MaxSavedItems > 0 && m.repo.SavedItemCount() >= m.quotas.MaxSavedItems {
			return res, &domain.AdmissionDeniedError{Quota: "savedItems", Limit: m.quotas.MaxSavedItems}
		}
		fresh, err := m.admit(ctx, p)
		if err != nil {
			if errors.Is(err, domain.ErrEmptyContent) {
				res.Corrupt++
				continue
			}
			var pe *domain.PersistError
			if errors.As(err, &pe) {
				res.Admitted++
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			return res, err
		}
		if fresh {
			res.Admitted++
		} else {
			res.Duplicates++
		}
	}

	if err := m.box.Clear(ctx); err != nil {
		m.log.WithError(err).Error("mailbox clear failed, next drain will redeliver")
	}
	return res, firstErr
}

func (m *Merger) admit(ctx context.Context, p domain.SharePayload) (bool, error) {
	key := dedupeKey(p)
	if m.dedupe != nil {
		fresh, err := m.dedupe.Add(ctx, key)
		if err != nil {
			return false, fmt.Errorf("dedupe check: %w", err)
		}
		if !fresh {
			return false, nil
		}
	}
	if _, err := m.repo.CreateFromShare(ctx, p); err != nil {
		var pe *domain.PersistError
		if errors.As(err, &pe) {
			// The task was admitted in memory, so the key stays recorded.
			return true, err
		}
		if m.dedupe != nil {
			if rmErr := m.dedupe.Remove(ctx, key); rmErr != nil {
				m.log.WithError(rmErr).Warn("dedupe rollback failed")
			}
		}
		return false, err
	}
	return true, nil
}

func dedupeKey(p domain.SharePayload) string {
	return fmt.Sprintf("%d:%s", p.SavedAt, p.Content)
}

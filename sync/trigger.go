package sync

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

type syncer interface {
	Reconcile(ctx context.Context) (Result, error)
}

// Trigger decides when reconciliation runs. Local mutations call Notify and
// get coalesced behind a debounce window; a periodic tick catches changes
// made on other devices; Foreground runs a cycle immediately for callers
// that need the merged view right now.
type Trigger struct {
	rec      syncer
	log      *log.Logger
	debounce time.Duration
	interval time.Duration
	kick     chan struct{}
}

// NewTrigger wires a trigger around the reconciler.
func NewTrigger(rec syncer, debounce, interval time.Duration, logger *log.Logger) *Trigger {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Trigger{
		rec:      rec,
		log:      logger,
		debounce: debounce,
		interval: interval,
		kick:     make(chan struct{}, 1),
	}
}

// Notify signals that local state changed. Never blocks; a pending signal
// absorbs further ones.
func (t *Trigger) Notify() {
	select {
	case t.kick <- struct{}{}:
	default:
	}
}

// Foreground runs one cycle right away.
func (t *Trigger) Foreground(ctx context.Context) (Result, error) {
	return t.rec.Reconcile(ctx)
}

// Run processes signals until the context is cancelled.
func (t *Trigger) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.kick:
			if !t.settle(ctx) {
				return
			}
			t.cycle(ctx)
		case <-ticker.C:
			t.cycle(ctx)
		}
	}
}

// settle waits out the debounce window, restarting it whenever another
// signal arrives. Returns false when the context was cancelled.
func (t *Trigger) settle(ctx context.Context) bool {
	timer := time.NewTimer(t.debounce)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-t.kick:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(t.debounce)
		case <-timer.C:
			return true
		}
	}
}

func (t *Trigger) cycle(ctx context.Context) {
	res, err := t.rec.Reconcile(ctx)
	if err != nil {
		t.log.WithError(err).Error("sync cycle failed")
		return
	}
	t.log.WithFields(log.Fields{
		"pushed": res.Pushed,
		"pulled": res.Pulled,
		"purged": res.Purged,
	}).Debug("sync cycle complete")
}

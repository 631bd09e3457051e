package sync

import (
	"context"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"nudge-core/domain"
)

// Local is the device-side replica. The repository implements it.
type Local interface {
	All() []domain.Task
	AdoptRemote(ctx context.Context, t domain.Task) error
	Purge(ctx context.Context, id string) error
}

// Result reports what one reconciliation cycle did.
type Result struct {
	Pushed int `json:"pushed"`
	Pulled int `json:"pulled"`
	Purged int `json:"purged"`
}

// Reconciler merges the local and remote replicas. Conflicts resolve
// whole-record on UpdatedAt: the younger record wins and replaces the other
// side entirely. Dropped tasks travel as tombstones and are physically
// purged only once both replicas hold the tombstone.
type Reconciler struct {
	local  Local
	remote Remote
	log    *log.Logger
	tracer trace.Tracer
}

// NewReconciler wires a reconciler over the two replicas.
func NewReconciler(local Local, remote Remote, logger *log.Logger) *Reconciler {
	return &Reconciler{
		local:  local,
		remote: remote,
		log:    logger,
		tracer: otel.Tracer("nudge-core/sync"),
	}
}

// Reconcile runs one full cycle. Individual write failures are logged and
// the cycle continues; the first failure is returned so the caller can
// schedule a retry. A cancelled context stops the cycle between writes.
func (r *Reconciler) Reconcile(ctx context.Context) (Result, error) {
	ctx, span := r.tracer.Start(ctx, "sync.reconcile")
	defer span.End()

	var res Result
	remoteTasks, err := r.remote.List(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "remote list failed")
		return res, err
	}

	remoteByID := make(map[string]domain.Task, len(remoteTasks))
	for _, t := range remoteTasks {
		remoteByID[t.ID] = t
	}
	localByID := make(map[string]domain.Task)
	for _, t := range r.local.All() {
		localByID[t.ID] = t
	}

	var firstErr error
	record := func(err error) {
		r.log.WithError(err).Error("reconcile write failed")
		if firstErr == nil {
			firstErr = err
		}
	}

	for id, lt := range localByID {
		if err := ctx.Err(); err != nil {
			return r.finish(span, res, err)
		}
		rt, onRemote := remoteByID[id]
		if !onRemote {
			// Tombstones are pushed too, so other devices learn of the
			// drop before anyone purges.
			if err := r.remote.Upsert(ctx, lt); err != nil {
				record(err)
				continue
			}
			res.Pushed++
			continue
		}
		if lt.Status == domain.StatusDropped && rt.Status == domain.StatusDropped {
			if err := r.local.Purge(ctx, id); err != nil {
				record(err)
				continue
			}
			if err := r.remote.Delete(ctx, id); err != nil {
				record(err)
				continue
			}
			res.Purged++
			continue
		}
		switch {
		case lt.UpdatedAt.After(rt.UpdatedAt):
			if err := r.remote.Upsert(ctx, lt); err != nil {
				record(err)
				continue
			}
			res.Pushed++
		case rt.UpdatedAt.After(lt.UpdatedAt):
			if err := r.local.AdoptRemote(ctx, rt); err != nil {
				record(err)
				continue
			}
			res.Pulled++
		}
	}

	for _, rt := range remoteTasks {
		if _, onLocal := localByID[rt.ID]; onLocal {
			continue
		}
		if err := ctx.Err(); err != nil {
			return r.finish(span, res, err)
		}
		// Remote-only records are adopted wholesale, tombstones included;
		// a tombstone adopted here meets its twin on the next cycle and
		// both get purged.
		if err := r.local.AdoptRemote(ctx, rt); err != nil {
			record(err)
			continue
		}
		res.Pulled++
	}

	return r.finish(span, res, firstErr)
}

func (r *Reconciler) finish(span trace.Span, res Result, err error) (Result, error) {
	span.SetAttributes(
		attribute.Int("sync.pushed", res.Pushed),
		attribute.Int("sync.pulled", res.Pulled),
		attribute.Int("sync.purged", res.Purged),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconcile incomplete")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return res, err
}

package api

import (
	"context"

	"nudge-core/domain"
	nsync "nudge-core/sync"
)

// SyncLocal adapts the repository for the sync reconciler. Every call takes
// the handler lock, so background cycles and request handlers serialize on
// the one mutex the repository expects its callers to hold. The lock covers
// single calls, not whole cycles; a cycle never holds it across remote I/O.
func (s *Server) SyncLocal() nsync.Local {
	return &lockedReplica{s: s}
}

type lockedReplica struct {
	s *Server
}

func (l *lockedReplica) All() []domain.Task {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return l.s.repo.All()
}

func (l *lockedReplica) AdoptRemote(ctx context.Context, t domain.Task) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return l.s.repo.AdoptRemote(ctx, t)
}

func (l *lockedReplica) Purge(ctx context.Context, id string) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return l.s.repo.Purge(ctx, id)
}

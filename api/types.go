package api

import (
	"context"

	"nudge-core/domain"
	"nudge-core/ingest"
	nsync "nudge-core/sync"
)

// Ingestor is the admission path for content arriving from outside the
// repository. The ingest merger implements it.
type Ingestor interface {
	IngestTranscript(ctx context.Context, transcript string) (*domain.BrainDump, []domain.Task, error)
	SaveShare(ctx context.Context, p domain.SharePayload) error
	DrainMailbox(ctx context.Context) (ingest.DrainResult, error)
}

// Syncer schedules reconciliation with the remote replica.
type Syncer interface {
	Notify()
	Foreground(ctx context.Context) (nsync.Result, error)
}

// Authenticator is implemented by types able to extract device IDs from headers.
type Authenticator interface {
	DeviceIDFromAuthHeader(string) (string, error)
}

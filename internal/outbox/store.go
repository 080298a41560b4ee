package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists outbox rows. Every status change is a single-row
// compare-and-set; a row that is not in the expected state yields
// ErrTransitionConflict.
type Store interface {
	// Append inserts ev as PENDING inside the transaction carried by ctx.
	Append(ctx context.Context, ev Event) error
	// FetchPending returns up to limit PENDING rows, oldest first.
	FetchPending(ctx context.Context, limit int) ([]Event, error)
	// ClaimBatch atomically moves up to limit PENDING or retry-eligible
	// FAILED rows to PROCESSING and returns them oldest first.
	ClaimBatch(ctx context.Context, limit int) ([]Event, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error
	// MarkFailed records a failed attempt; retryCount never lowers the stored value.
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retryCount int) error
	// MarkExhausted moves a row to terminal FAILED.
	MarkExhausted(ctx context.Context, id uuid.UUID, errMsg string) error
	// RequeueStuck fails PROCESSING rows claimed more than olderThan ago.
	RequeueStuck(ctx context.Context, olderThan time.Duration) (int64, error)
	Get(ctx context.Context, id uuid.UUID) (Event, error)
	Stats(ctx context.Context) (Stats, error)
}

type Stats struct {
	Counts    map[Status]int64 `json:"counts"`
	Exhausted int64            `json:"exhausted"`
	// OldestPendingAge is zero when nothing is pending.
	OldestPendingAge time.Duration `json:"oldest_pending_age"`
}

const stuckError = "processing timeout"

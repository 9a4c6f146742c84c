package event

import (
	"context"
	"time"
)

// Repository defines data access for change events (the outbox).
// All implementations must be wrapped with instrumentation.
type Repository interface {
	FindByID(ctx context.Context, eventID string) (*ChangeEvent, error)
	FindByListing(ctx context.Context, source, listingID string) ([]*ChangeEvent, error)
	Insert(ctx context.Context, e *ChangeEvent) error
	InsertMany(ctx context.Context, events []*ChangeEvent) error

	// ClaimPending leases up to batchSize PENDING (or expired-lease IN_FLIGHT)
	// events, flipping them to IN_FLIGHT with a fresh lease, and returns them.
	ClaimPending(ctx context.Context, batchSize int, leaseDuration time.Duration) ([]*ChangeEvent, error)

	// Complete marks a claimed event PROCESSED (terminal success).
	Complete(ctx context.Context, eventID string) error

	// Retry releases a claimed event back to PENDING for another delivery
	// attempt, recording the incremented retry count.
	Retry(ctx context.Context, eventID string, retryCount int) error

	// DeadLetter marks a claimed event FAILED (terminal, retries exhausted).
	DeadLetter(ctx context.Context, eventID string, retryCount int) error
}

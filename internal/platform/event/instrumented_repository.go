package event

import (
	"context"
	"time"

	"github.com/tunahanbr/willhaben/internal/common/repository"
)

type instrumentedRepository struct {
	inner Repository
}

func newInstrumentedRepository(inner Repository) Repository {
	return &instrumentedRepository{inner: inner}
}

func (r *instrumentedRepository) FindByID(ctx context.Context, eventID string) (*ChangeEvent, error) {
	return repository.Instrument(ctx, collectionEvents, "FindByID", func() (*ChangeEvent, error) {
		return r.inner.FindByID(ctx, eventID)
	})
}

func (r *instrumentedRepository) FindByListing(ctx context.Context, source, listingID string) ([]*ChangeEvent, error) {
	return repository.Instrument(ctx, collectionEvents, "FindByListing", func() ([]*ChangeEvent, error) {
		return r.inner.FindByListing(ctx, source, listingID)
	})
}

func (r *instrumentedRepository) Insert(ctx context.Context, e *ChangeEvent) error {
	return repository.InstrumentVoid(ctx, collectionEvents, "Insert", func() error {
		return r.inner.Insert(ctx, e)
	})
}

func (r *instrumentedRepository) InsertMany(ctx context.Context, events []*ChangeEvent) error {
	return repository.InstrumentVoid(ctx, collectionEvents, "InsertMany", func() error {
		return r.inner.InsertMany(ctx, events)
	})
}

func (r *instrumentedRepository) ClaimPending(ctx context.Context, batchSize int, leaseDuration time.Duration) ([]*ChangeEvent, error) {
	return repository.Instrument(ctx, collectionEvents, "ClaimPending", func() ([]*ChangeEvent, error) {
		return r.inner.ClaimPending(ctx, batchSize, leaseDuration)
	})
}

func (r *instrumentedRepository) Complete(ctx context.Context, eventID string) error {
	return repository.InstrumentVoid(ctx, collectionEvents, "Complete", func() error {
		return r.inner.Complete(ctx, eventID)
	})
}

func (r *instrumentedRepository) Retry(ctx context.Context, eventID string, retryCount int) error {
	return repository.InstrumentVoid(ctx, collectionEvents, "Retry", func() error {
		return r.inner.Retry(ctx, eventID, retryCount)
	})
}

func (r *instrumentedRepository) DeadLetter(ctx context.Context, eventID string, retryCount int) error {
	return repository.InstrumentVoid(ctx, collectionEvents, "DeadLetter", func() error {
		return r.inner.DeadLetter(ctx, eventID, retryCount)
	})
}

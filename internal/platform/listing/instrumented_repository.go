package listing

import (
	"context"
	"time"

	"github.com/tunahanbr/willhaben/internal/common/repository"
)

// instrumentedRepository wraps a Repository with metrics and logging.
type instrumentedRepository struct {
	inner Repository
}

func newInstrumentedRepository(inner Repository) Repository {
	return &instrumentedRepository{inner: inner}
}

func (r *instrumentedRepository) FindBySourceAndListingID(ctx context.Context, source, listingID string) (*Listing, error) {
	return repository.Instrument(ctx, collectionListings, "FindBySourceAndListingID", func() (*Listing, error) {
		return r.inner.FindBySourceAndListingID(ctx, source, listingID)
	})
}

func (r *instrumentedRepository) FindBySource(ctx context.Context, source string) ([]*Listing, error) {
	return repository.Instrument(ctx, collectionListings, "FindBySource", func() ([]*Listing, error) {
		return r.inner.FindBySource(ctx, source)
	})
}

func (r *instrumentedRepository) FindByStatus(ctx context.Context, status Status) ([]*Listing, error) {
	return repository.Instrument(ctx, collectionListings, "FindByStatus", func() ([]*Listing, error) {
		return r.inner.FindByStatus(ctx, status)
	})
}

func (r *instrumentedRepository) Upsert(ctx context.Context, l *Listing) error {
	return repository.InstrumentVoid(ctx, collectionListings, "Upsert", func() error {
		return r.inner.Upsert(ctx, l)
	})
}

func (r *instrumentedRepository) MarkRemoved(ctx context.Context, source, listingID string, at time.Time) error {
	return repository.InstrumentVoid(ctx, collectionListings, "MarkRemoved", func() error {
		return r.inner.MarkRemoved(ctx, source, listingID, at)
	})
}

func (r *instrumentedRepository) Delete(ctx context.Context, source, listingID string) error {
	return repository.InstrumentVoid(ctx, collectionListings, "Delete", func() error {
		return r.inner.Delete(ctx, source, listingID)
	})
}

package subscriber

import (
	"context"

	"github.com/tunahanbr/willhaben/internal/common/repository"
)

type instrumentedRepository struct {
	inner Repository
}

func newInstrumentedRepository(inner Repository) Repository {
	return &instrumentedRepository{inner: inner}
}

func (r *instrumentedRepository) FindByID(ctx context.Context, id string) (*Subscriber, error) {
	return repository.Instrument(ctx, collectionSubscribers, "FindByID", func() (*Subscriber, error) {
		return r.inner.FindByID(ctx, id)
	})
}

func (r *instrumentedRepository) FindAll(ctx context.Context) ([]*Subscriber, error) {
	return repository.Instrument(ctx, collectionSubscribers, "FindAll", func() ([]*Subscriber, error) {
		return r.inner.FindAll(ctx)
	})
}

func (r *instrumentedRepository) FindEnabled(ctx context.Context) ([]*Subscriber, error) {
	return repository.Instrument(ctx, collectionSubscribers, "FindEnabled", func() ([]*Subscriber, error) {
		return r.inner.FindEnabled(ctx)
	})
}

func (r *instrumentedRepository) Insert(ctx context.Context, s *Subscriber) error {
	return repository.InstrumentVoid(ctx, collectionSubscribers, "Insert", func() error {
		return r.inner.Insert(ctx, s)
	})
}

func (r *instrumentedRepository) Update(ctx context.Context, s *Subscriber) error {
	return repository.InstrumentVoid(ctx, collectionSubscribers, "Update", func() error {
		return r.inner.Update(ctx, s)
	})
}

func (r *instrumentedRepository) Delete(ctx context.Context, id string) error {
	return repository.InstrumentVoid(ctx, collectionSubscribers, "Delete", func() error {
		return r.inner.Delete(ctx, id)
	})
}

package target

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

func (r *instrumentedRepository) FindByID(ctx context.Context, id string) (*PollingTarget, error) {
	return repository.Instrument(ctx, collectionTargets, "FindByID", func() (*PollingTarget, error) {
		return r.inner.FindByID(ctx, id)
	})
}

func (r *instrumentedRepository) FindAll(ctx context.Context) ([]*PollingTarget, error) {
	return repository.Instrument(ctx, collectionTargets, "FindAll", func() ([]*PollingTarget, error) {
		return r.inner.FindAll(ctx)
	})
}

func (r *instrumentedRepository) FindEnabled(ctx context.Context) ([]*PollingTarget, error) {
	return repository.Instrument(ctx, collectionTargets, "FindEnabled", func() ([]*PollingTarget, error) {
		return r.inner.FindEnabled(ctx)
	})
}

func (r *instrumentedRepository) Insert(ctx context.Context, t *PollingTarget) error {
	return repository.InstrumentVoid(ctx, collectionTargets, "Insert", func() error {
		return r.inner.Insert(ctx, t)
	})
}

func (r *instrumentedRepository) Update(ctx context.Context, t *PollingTarget) error {
	return repository.InstrumentVoid(ctx, collectionTargets, "Update", func() error {
		return r.inner.Update(ctx, t)
	})
}

func (r *instrumentedRepository) Delete(ctx context.Context, id string) error {
	return repository.InstrumentVoid(ctx, collectionTargets, "Delete", func() error {
		return r.inner.Delete(ctx, id)
	})
}

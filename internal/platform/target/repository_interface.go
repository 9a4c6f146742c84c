package target

import "context"

// Repository defines data access for polling targets.
// All implementations must be wrapped with instrumentation.
type Repository interface {
	FindByID(ctx context.Context, id string) (*PollingTarget, error)
	FindAll(ctx context.Context) ([]*PollingTarget, error)
	FindEnabled(ctx context.Context) ([]*PollingTarget, error)
	Insert(ctx context.Context, t *PollingTarget) error
	Update(ctx context.Context, t *PollingTarget) error
	Delete(ctx context.Context, id string) error
}

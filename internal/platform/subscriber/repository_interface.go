package subscriber

import "context"

// Repository defines data access for subscribers.
// All implementations must be wrapped with instrumentation.
type Repository interface {
	FindByID(ctx context.Context, id string) (*Subscriber, error)
	FindAll(ctx context.Context) ([]*Subscriber, error)
	FindEnabled(ctx context.Context) ([]*Subscriber, error)
	Insert(ctx context.Context, s *Subscriber) error
	Update(ctx context.Context, s *Subscriber) error
	Delete(ctx context.Context, id string) error
}

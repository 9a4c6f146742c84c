package subscriber

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/tunahanbr/willhaben/internal/common/tsid"
)

const collectionSubscribers = "subscribers"

// ErrNotFound indicates the requested subscriber was not found.
var ErrNotFound = errors.New("subscriber not found")

type mongoRepository struct {
	subscribers *mongo.Collection
}

// NewRepository creates a new subscriber repository with instrumentation.
func NewRepository(db *mongo.Database) Repository {
	return newInstrumentedRepository(&mongoRepository{
		subscribers: db.Collection(collectionSubscribers),
	})
}

func (r *mongoRepository) FindByID(ctx context.Context, id string) (*Subscriber, error) {
	var s Subscriber
	err := r.subscribers.FindOne(ctx, bson.M{"_id": id}).Decode(&s)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *mongoRepository) FindAll(ctx context.Context) ([]*Subscriber, error) {
	cursor, err := r.subscribers.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var subs []*Subscriber
	if err := cursor.All(ctx, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *mongoRepository) FindEnabled(ctx context.Context) ([]*Subscriber, error) {
	cursor, err := r.subscribers.Find(ctx, bson.M{"enabled": true})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var subs []*Subscriber
	if err := cursor.All(ctx, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *mongoRepository) Insert(ctx context.Context, s *Subscriber) error {
	if s.ID == "" {
		s.ID = tsid.Generate()
	}
	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now

	_, err := r.subscribers.InsertOne(ctx, s)
	return err
}

func (r *mongoRepository) Update(ctx context.Context, s *Subscriber) error {
	s.UpdatedAt = time.Now()

	result, err := r.subscribers.ReplaceOne(ctx, bson.M{"_id": s.ID}, s)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *mongoRepository) Delete(ctx context.Context, id string) error {
	result, err := r.subscribers.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

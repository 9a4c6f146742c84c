package target

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/tunahanbr/willhaben/internal/common/tsid"
)

const collectionTargets = "polling_targets"

// ErrNotFound indicates the requested target was not found.
var ErrNotFound = errors.New("polling target not found")

// ErrDuplicateURL indicates a target with the same URL already exists.
var ErrDuplicateURL = errors.New("polling target url already exists")

type mongoRepository struct {
	targets *mongo.Collection
}

// NewRepository creates a new target repository with instrumentation.
func NewRepository(db *mongo.Database) Repository {
	return newInstrumentedRepository(&mongoRepository{
		targets: db.Collection(collectionTargets),
	})
}

func (r *mongoRepository) FindByID(ctx context.Context, id string) (*PollingTarget, error) {
	var t PollingTarget
	err := r.targets.FindOne(ctx, bson.M{"_id": id}).Decode(&t)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *mongoRepository) FindAll(ctx context.Context) ([]*PollingTarget, error) {
	cursor, err := r.targets.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var targets []*PollingTarget
	if err := cursor.All(ctx, &targets); err != nil {
		return nil, err
	}
	return targets, nil
}

func (r *mongoRepository) FindEnabled(ctx context.Context) ([]*PollingTarget, error) {
	cursor, err := r.targets.Find(ctx, bson.M{"enabled": true})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var targets []*PollingTarget
	if err := cursor.All(ctx, &targets); err != nil {
		return nil, err
	}
	return targets, nil
}

func (r *mongoRepository) Insert(ctx context.Context, t *PollingTarget) error {
	if t.ID == "" {
		t.ID = tsid.Generate()
	}
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.CircuitBreakerState == "" {
		t.CircuitBreakerState = BreakerClosed
	}

	_, err := r.targets.InsertOne(ctx, t)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateURL
	}
	return err
}

func (r *mongoRepository) Update(ctx context.Context, t *PollingTarget) error {
	t.UpdatedAt = time.Now()

	result, err := r.targets.ReplaceOne(ctx, bson.M{"_id": t.ID}, t)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *mongoRepository) Delete(ctx context.Context, id string) error {
	result, err := r.targets.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

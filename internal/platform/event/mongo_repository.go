package event

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collectionEvents = "events"

var (
	ErrNotFound       = errors.New("change event not found")
	ErrDuplicateEvent = errors.New("duplicate event id")
)

// mongoRepository provides MongoDB access to the change-event outbox.
type mongoRepository struct {
	events *mongo.Collection
}

// NewRepository creates a new event repository with instrumentation.
func NewRepository(db *mongo.Database) Repository {
	return newInstrumentedRepository(&mongoRepository{
		events: db.Collection(collectionEvents),
	})
}

func (r *mongoRepository) FindByID(ctx context.Context, eventID string) (*ChangeEvent, error) {
	var e ChangeEvent
	err := r.events.FindOne(ctx, bson.M{"_id": eventID}).Decode(&e)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (r *mongoRepository) FindByListing(ctx context.Context, source, listingID string) ([]*ChangeEvent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "version", Value: 1}})
	cursor, err := r.events.Find(ctx, bson.M{"source": source, "listingId": listingID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var events []*ChangeEvent
	if err := cursor.All(ctx, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (r *mongoRepository) Insert(ctx context.Context, e *ChangeEvent) error {
	if e.Status == "" {
		e.Status = StatusPending
	}
	_, err := r.events.InsertOne(ctx, e)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateEvent
	}
	return err
}

func (r *mongoRepository) InsertMany(ctx context.Context, events []*ChangeEvent) error {
	if len(events) == 0 {
		return nil
	}
	docs := make([]interface{}, len(events))
	for i, e := range events {
		if e.Status == "" {
			e.Status = StatusPending
		}
		docs[i] = e
	}
	_, err := r.events.InsertMany(ctx, docs)
	return err
}

// ClaimPending leases up to batchSize claimable events one at a time via
// FindOneAndUpdate, so concurrent dispatcher instances never double-claim
// the same row. A row is claimable if it is PENDING, or IN_FLIGHT with an
// expired lease (a prior dispatcher crashed mid-delivery).
func (r *mongoRepository) ClaimPending(ctx context.Context, batchSize int, leaseDuration time.Duration) ([]*ChangeEvent, error) {
	now := time.Now()
	filter := bson.M{
		"$or": []bson.M{
			{"status": StatusPending},
			{"status": StatusInFlight, "leaseExpiresAt": bson.M{"$lt": now}},
		},
	}
	update := bson.M{
		"$set": bson.M{
			"status":         StatusInFlight,
			"leaseExpiresAt": now.Add(leaseDuration),
		},
	}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "detectedAt", Value: 1}}).
		SetReturnDocument(options.After)

	claimed := make([]*ChangeEvent, 0, batchSize)
	for len(claimed) < batchSize {
		var e ChangeEvent
		err := r.events.FindOneAndUpdate(ctx, filter, update, opts).Decode(&e)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				break
			}
			return claimed, err
		}
		claimed = append(claimed, &e)
	}
	return claimed, nil
}

func (r *mongoRepository) Complete(ctx context.Context, eventID string) error {
	return r.setTerminalOrRetry(ctx, eventID, bson.M{"status": StatusProcessed})
}

func (r *mongoRepository) Retry(ctx context.Context, eventID string, retryCount int) error {
	return r.setTerminalOrRetry(ctx, eventID, bson.M{
		"status":      StatusPending,
		"retryCount":  retryCount,
		"lastRetryAt": time.Now(),
	})
}

func (r *mongoRepository) DeadLetter(ctx context.Context, eventID string, retryCount int) error {
	return r.setTerminalOrRetry(ctx, eventID, bson.M{
		"status":      StatusFailed,
		"retryCount":  retryCount,
		"lastRetryAt": time.Now(),
	})
}

func (r *mongoRepository) setTerminalOrRetry(ctx context.Context, eventID string, set bson.M) error {
	result, err := r.events.UpdateOne(ctx,
		bson.M{"_id": eventID},
		bson.M{"$set": set, "$unset": bson.M{"leaseExpiresAt": ""}},
	)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

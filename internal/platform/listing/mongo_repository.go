package listing

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/tunahanbr/willhaben/internal/common/tsid"
)

const collectionListings = "listings"

// ErrNotFound indicates the requested listing was not found.
var ErrNotFound = errors.New("listing not found")

// mongoRepository provides MongoDB access to canonical listing state.
type mongoRepository struct {
	listings *mongo.Collection
}

// NewRepository creates a new listing repository with instrumentation.
func NewRepository(db *mongo.Database) Repository {
	return newInstrumentedRepository(&mongoRepository{
		listings: db.Collection(collectionListings),
	})
}

func (r *mongoRepository) FindBySourceAndListingID(ctx context.Context, source, listingID string) (*Listing, error) {
	var l Listing
	err := r.listings.FindOne(ctx, bson.M{"source": source, "listingId": listingID}).Decode(&l)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

func (r *mongoRepository) FindBySource(ctx context.Context, source string) ([]*Listing, error) {
	cursor, err := r.listings.Find(ctx, bson.M{"source": source})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var listings []*Listing
	if err := cursor.All(ctx, &listings); err != nil {
		return nil, err
	}
	return listings, nil
}

func (r *mongoRepository) FindByStatus(ctx context.Context, status Status) ([]*Listing, error) {
	cursor, err := r.listings.Find(ctx, bson.M{"status": status})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var listings []*Listing
	if err := cursor.All(ctx, &listings); err != nil {
		return nil, err
	}
	return listings, nil
}

// Upsert inserts or replaces a listing keyed by (source, listingId).
// Callers hold the write lock implicitly via the Store's transaction; this
// method itself is not transactional.
func (r *mongoRepository) Upsert(ctx context.Context, l *Listing) error {
	if l.ID == "" {
		l.ID = tsid.Generate()
	}
	filter := bson.M{"source": l.Source, "listingId": l.ListingID}
	_, err := r.listings.ReplaceOne(ctx, filter, l, (&mongo.ReplaceOptions{}).SetUpsert(true))
	return err
}

func (r *mongoRepository) MarkRemoved(ctx context.Context, source, listingID string, at time.Time) error {
	result, err := r.listings.UpdateOne(ctx,
		bson.M{"source": source, "listingId": listingID},
		bson.M{"$set": bson.M{"status": StatusRemoved, "removedAt": at}},
	)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *mongoRepository) Delete(ctx context.Context, source, listingID string) error {
	result, err := r.listings.DeleteOne(ctx, bson.M{"source": source, "listingId": listingID})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

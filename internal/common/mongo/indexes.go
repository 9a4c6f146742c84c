package mongo

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// IndexDefinition defines a MongoDB index
type IndexDefinition struct {
	Collection string
	Keys       bson.D
	Options    *options.IndexOptions
}

// IndexInitializer creates indexes on startup
type IndexInitializer struct {
	client *Client
}

// NewIndexInitializer creates a new index initializer
func NewIndexInitializer(client *Client) *IndexInitializer {
	return &IndexInitializer{client: client}
}

// Initialize creates all required indexes
func (i *IndexInitializer) Initialize(ctx context.Context) error {
	indexes := i.getIndexDefinitions()

	for _, idx := range indexes {
		if err := i.createIndex(ctx, idx); err != nil {
			slog.Warn("Failed to create index (may already exist)",
				"error", err,
				"collection", idx.Collection)
		}
	}

	slog.Info("Index initialization complete", "count", len(indexes))
	return nil
}

func (i *IndexInitializer) createIndex(ctx context.Context, idx IndexDefinition) error {
	collection := i.client.Collection(idx.Collection)

	indexModel := mongo.IndexModel{
		Keys:    idx.Keys,
		Options: idx.Options,
	}

	_, err := collection.Indexes().CreateOne(ctx, indexModel)
	return err
}

func (i *IndexInitializer) getIndexDefinitions() []IndexDefinition {
	return []IndexDefinition{
		// listings: canonical state, keyed by (source, listingId)
		{
			Collection: "listings",
			Keys:       bson.D{{Key: "source", Value: 1}, {Key: "listingId", Value: 1}},
			Options:    options.Index().SetUnique(true),
		},
		{
			Collection: "listings",
			Keys:       bson.D{{Key: "source", Value: 1}},
		},
		{
			Collection: "listings",
			Keys:       bson.D{{Key: "status", Value: 1}},
		},
		{
			Collection: "listings",
			Keys:       bson.D{{Key: "lastSeenAt", Value: 1}},
		},

		// polling_targets
		{
			Collection: "polling_targets",
			Keys:       bson.D{{Key: "url", Value: 1}},
			Options:    options.Index().SetUnique(true),
		},
		{
			Collection: "polling_targets",
			Keys:       bson.D{{Key: "enabled", Value: 1}},
		},
		{
			Collection: "polling_targets",
			Keys:       bson.D{{Key: "domain", Value: 1}},
		},

		// events: outbox rows awaiting dispatch
		{
			Collection: "events",
			Keys:       bson.D{{Key: "eventId", Value: 1}},
			Options:    options.Index().SetUnique(true),
		},
		{
			Collection: "events",
			Keys:       bson.D{{Key: "status", Value: 1}, {Key: "detectedAt", Value: 1}},
		},
		{
			Collection: "events",
			Keys:       bson.D{{Key: "listingId", Value: 1}, {Key: "source", Value: 1}},
		},
		{
			Collection: "events",
			Keys:       bson.D{{Key: "leaseExpiresAt", Value: 1}},
			Options:    options.Index().SetSparse(true),
		},
		{
			Collection: "events",
			Keys:       bson.D{{Key: "detectedAt", Value: 1}},
			Options:    options.Index().SetExpireAfterSeconds(int32(30 * 24 * time.Hour / time.Second)),
		},

		// subscribers
		{
			Collection: "subscribers",
			Keys:       bson.D{{Key: "enabled", Value: 1}},
		},
		{
			Collection: "subscribers",
			Keys:       bson.D{{Key: "type", Value: 1}},
		},
	}
}

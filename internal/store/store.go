// Package store is the single writer of persistent engine state: canonical
// listings, polling targets, and the event outbox, plus an advisory Redis
// cache for listing lookups. CommitPollOutcome is the critical contract:
// a poll's target state, listing mutations, and new events must become
// visible atomically.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"github.com/redis/go-redis/v9"

	commonmongo "github.com/tunahanbr/willhaben/internal/common/mongo"
	"github.com/tunahanbr/willhaben/internal/common/metrics"
	"github.com/tunahanbr/willhaben/internal/platform/event"
	"github.com/tunahanbr/willhaben/internal/platform/listing"
	"github.com/tunahanbr/willhaben/internal/platform/subscriber"
	"github.com/tunahanbr/willhaben/internal/platform/target"
	"github.com/tunahanbr/willhaben/internal/store/journal"
)

const cachePrefix = "listingwatch:listing:"
const cacheTTL = 10 * time.Minute

// Store bundles the durable repositories with the Redis cache and,
// when the MongoDB deployment has no replica set, the write-ahead journal
// fallback for CommitPollOutcome.
type Store struct {
	mongo *commonmongo.Client
	redis *redis.Client

	listings    listing.Repository
	targets     target.Repository
	events      event.Repository
	subscribers subscriber.Repository

	journal       *journal.Journal
	transactional bool
}

// New builds a Store over the given Mongo/Redis connections, detecting
// whether transactions are available and wiring the journal fallback when
// they aren't. journalDir is only used in the fallback case.
func New(ctx context.Context, mongoClient *commonmongo.Client, redisClient *redis.Client, journalDir string) (*Store, error) {
	s := &Store{
		mongo:       mongoClient,
		redis:       redisClient,
		listings:    listing.NewRepository(mongoClient.Database()),
		targets:     target.NewRepository(mongoClient.Database()),
		events:      event.NewRepository(mongoClient.Database()),
		subscribers: subscriber.NewRepository(mongoClient.Database()),
	}

	replicated, err := hasReplicaSet(ctx, mongoClient)
	if err != nil {
		slog.Warn("could not determine replica set status, assuming standalone", "error", err)
		replicated = false
	}
	s.transactional = replicated

	if !replicated {
		j, err := journal.Open(journalDir)
		if err != nil {
			return nil, fmt.Errorf("store: open journal: %w", err)
		}
		s.journal = j
		if err := s.replayJournal(ctx); err != nil {
			return nil, fmt.Errorf("store: replay journal: %w", err)
		}
		slog.Warn("MongoDB has no replica set; CommitPollOutcome uses the write-ahead journal fallback")
	}

	return s, nil
}

// hasReplicaSet asks MongoDB's hello command whether it's part of a
// replica set (a prerequisite for multi-document transactions).
func hasReplicaSet(ctx context.Context, c *commonmongo.Client) (bool, error) {
	var reply struct {
		SetName string `bson:"setName"`
	}
	if err := c.Database().RunCommand(ctx, map[string]any{"hello": 1}).Decode(&reply); err != nil {
		return false, err
	}
	return reply.SetName != "", nil
}

// GetListing returns a canonical listing, consulting the Redis cache first.
func (s *Store) GetListing(ctx context.Context, source, id string) (*listing.Listing, error) {
	key := cacheKey(source, id)

	if cached, ok := s.readCache(ctx, key); ok {
		metrics.StoreCacheHits.WithLabelValues("hit").Inc()
		return cached, nil
	}
	metrics.StoreCacheHits.WithLabelValues("miss").Inc()

	l, err := s.listings.FindBySourceAndListingID(ctx, source, id)
	if err != nil {
		return nil, err
	}
	if l != nil {
		s.writeCache(ctx, key, l)
	}
	return l, nil
}

// ListListings returns every canonical listing for a source.
func (s *Store) ListListings(ctx context.Context, source string) ([]*listing.Listing, error) {
	return s.listings.FindBySource(ctx, source)
}

// UpsertListing persists one listing outside a poll-outcome commit (e.g.
// an admin backfill); it invalidates the cache entry.
func (s *Store) UpsertListing(ctx context.Context, l *listing.Listing) error {
	if err := s.listings.Upsert(ctx, l); err != nil {
		return err
	}
	s.invalidateCache(ctx, cacheKey(l.Source, l.ListingID))
	return nil
}

// MarkListingRemoved flips a listing to REMOVED outside the normal poll
// cycle (admin operation).
func (s *Store) MarkListingRemoved(ctx context.Context, source, id string, at time.Time) error {
	if err := s.listings.MarkRemoved(ctx, source, id, at); err != nil {
		return err
	}
	s.invalidateCache(ctx, cacheKey(source, id))
	return nil
}

// GetTarget, ListTargets, UpsertTarget, DeleteTarget are the admin-facing
// target operations; EnabledTargets below is the scheduler's read path.
func (s *Store) GetTarget(ctx context.Context, id string) (*target.PollingTarget, error) {
	return s.targets.FindByID(ctx, id)
}

func (s *Store) ListTargets(ctx context.Context) ([]*target.PollingTarget, error) {
	return s.targets.FindAll(ctx)
}

func (s *Store) EnabledTargets(ctx context.Context) ([]*target.PollingTarget, error) {
	return s.targets.FindEnabled(ctx)
}

func (s *Store) UpsertTarget(ctx context.Context, t *target.PollingTarget) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.UpdatedAt = time.Now()
	existing, err := s.targets.FindByID(ctx, t.ID)
	if err != nil && !errors.Is(err, target.ErrNotFound) {
		return err
	}
	if existing == nil {
		return s.targets.Insert(ctx, t)
	}
	return s.targets.Update(ctx, t)
}

func (s *Store) DeleteTarget(ctx context.Context, id string) error {
	return s.targets.Delete(ctx, id)
}

// Subscribers mirrors the same admin CRUD shape for subscribers.
func (s *Store) ListSubscribers(ctx context.Context) ([]*subscriber.Subscriber, error) {
	return s.subscribers.FindAll(ctx)
}

func (s *Store) EnabledSubscribers(ctx context.Context) ([]*subscriber.Subscriber, error) {
	return s.subscribers.FindEnabled(ctx)
}

func (s *Store) UpsertSubscriber(ctx context.Context, sub *subscriber.Subscriber) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	sub.UpdatedAt = time.Now()
	existing, err := s.subscribers.FindByID(ctx, sub.ID)
	if err != nil && !errors.Is(err, subscriber.ErrNotFound) {
		return err
	}
	if existing == nil {
		return s.subscribers.Insert(ctx, sub)
	}
	return s.subscribers.Update(ctx, sub)
}

func (s *Store) DeleteSubscriber(ctx context.Context, id string) error {
	return s.subscribers.Delete(ctx, id)
}

// AppendEvents inserts change events outside a poll-outcome commit, with no
// target-state or listing mutation bundled alongside them.
func (s *Store) AppendEvents(ctx context.Context, events []*event.ChangeEvent) error {
	if len(events) == 0 {
		return nil
	}
	return s.events.InsertMany(ctx, events)
}

// ClaimPendingEvents leases up to batchSize events for delivery.
func (s *Store) ClaimPendingEvents(ctx context.Context, batchSize int, leaseDuration time.Duration) ([]*event.ChangeEvent, error) {
	events, err := s.events.ClaimPending(ctx, batchSize, leaseDuration)
	if err != nil {
		return nil, err
	}
	metrics.DispatcherEventsClaimed.Add(float64(len(events)))
	return events, nil
}

// CompleteEvent resolves a claimed event to its terminal or retry state.
func (s *Store) CompleteEvent(ctx context.Context, eventID string, outcome event.Status, retryCount int) error {
	switch outcome {
	case event.StatusProcessed:
		return s.events.Complete(ctx, eventID)
	case event.StatusFailed:
		return s.events.DeadLetter(ctx, eventID, retryCount)
	default:
		return s.events.Retry(ctx, eventID, retryCount)
	}
}

// CommitPollOutcome is the critical contract: target state, listing
// mutations, and new events become visible atomically. When the
// underlying MongoDB has no replica set, it falls back to a write-ahead
// journal entry followed by best-effort sequential writes, tolerating
// duplicate publication on crash-recovery (the dispatcher's event IDs are
// already idempotent).
func (s *Store) CommitPollOutcome(ctx context.Context, t *target.PollingTarget, listings []*listing.Listing, events []*event.ChangeEvent) error {
	start := time.Now()
	var err error
	if s.transactional {
		err = s.commitTransactional(ctx, t, listings, events)
	} else {
		err = s.commitViaJournal(ctx, t, listings, events)
	}

	metrics.StoreCommitDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StoreCommits.WithLabelValues("error").Inc()
		return err
	}
	metrics.StoreCommits.WithLabelValues("ok").Inc()

	for _, l := range listings {
		s.invalidateCache(ctx, cacheKey(l.Source, l.ListingID))
	}
	return nil
}

func (s *Store) commitTransactional(ctx context.Context, t *target.PollingTarget, listings []*listing.Listing, events []*event.ChangeEvent) error {
	t.UpdatedAt = time.Now()
	return s.mongo.WithTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		if err := s.targets.Update(sessCtx, t); err != nil {
			return fmt.Errorf("commit target: %w", err)
		}
		for _, l := range listings {
			if err := s.listings.Upsert(sessCtx, l); err != nil {
				return fmt.Errorf("commit listing %s: %w", l.ListingID, err)
			}
		}
		if len(events) > 0 {
			if err := s.events.InsertMany(sessCtx, events); err != nil {
				return fmt.Errorf("commit events: %w", err)
			}
		}
		return nil
	})
}

// commitViaJournal implements the "events last, tolerate duplicates"
// fallback: the full outcome is durably recorded in the journal first,
// then applied sequentially (target, listings, events in that order); the
// journal entry is removed only once all writes succeed. A crash between
// any two steps leaves the entry behind for replayJournal to finish.
func (s *Store) commitViaJournal(ctx context.Context, t *target.PollingTarget, listings []*listing.Listing, events []*event.ChangeEvent) error {
	t.UpdatedAt = time.Now()

	id, err := s.journal.Write(journal.Entry{Target: t, Listings: listings, Events: events})
	if err != nil {
		return fmt.Errorf("journal write: %w", err)
	}

	if err := s.applyOutcome(ctx, t, listings, events); err != nil {
		return fmt.Errorf("apply journaled outcome: %w", err)
	}

	return s.journal.Remove(id)
}

func (s *Store) applyOutcome(ctx context.Context, t *target.PollingTarget, listings []*listing.Listing, events []*event.ChangeEvent) error {
	if err := s.targets.Update(ctx, t); err != nil {
		return fmt.Errorf("target: %w", err)
	}
	for _, l := range listings {
		if err := s.listings.Upsert(ctx, l); err != nil {
			return fmt.Errorf("listing %s: %w", l.ListingID, err)
		}
	}
	if len(events) > 0 {
		if err := s.events.InsertMany(ctx, events); err != nil {
			return fmt.Errorf("events: %w", err)
		}
	}
	return nil
}

// replayJournal re-applies any entries left behind by a crash between a
// journal write and its removal, run once at startup.
func (s *Store) replayJournal(ctx context.Context) error {
	entries, names, err := s.journal.Pending()
	if err != nil {
		return err
	}
	for i, e := range entries {
		slog.Info("replaying journaled poll outcome", "target", e.Target.ID, "writtenAt", e.WrittenAt)
		if err := s.applyOutcome(ctx, e.Target, e.Listings, e.Events); err != nil {
			slog.Error("failed to replay journal entry; leaving it for the next startup", "error", err, "entry", names[i])
			continue
		}
		if err := s.journal.Remove(names[i]); err != nil {
			slog.Error("failed to remove replayed journal entry", "error", err, "entry", names[i])
			continue
		}
		metrics.StoreJournalReplays.Inc()
	}
	return nil
}

// Ping verifies both backing stores are reachable, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.mongo.Ping(ctx); err != nil {
		return fmt.Errorf("mongo: %w", err)
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func cacheKey(source, id string) string {
	return cachePrefix + source + ":" + id
}

func (s *Store) readCache(ctx context.Context, key string) (*listing.Listing, bool) {
	if s.redis == nil {
		return nil, false
	}
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var l listing.Listing
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, false
	}
	return &l, true
}

func (s *Store) writeCache(ctx context.Context, key string, l *listing.Listing) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(l)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, key, data, cacheTTL).Err(); err != nil {
		slog.Debug("listing cache write failed", "error", err)
	}
}

func (s *Store) invalidateCache(ctx context.Context, key string) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, key).Err(); err != nil {
		slog.Debug("listing cache invalidation failed", "error", err)
	}
}

// Package diff implements the pure-function reconciliation engine that
// turns a fresh scrape and the last-known canonical state into listing
// upserts and change events. It has no I/O: callers (the scheduler) own
// fetching and persistence, and pass in everything Compute needs.
package diff

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tunahanbr/willhaben/internal/common/metrics"
	"github.com/tunahanbr/willhaben/internal/common/tsid"
	"github.com/tunahanbr/willhaben/internal/platform/event"
	"github.com/tunahanbr/willhaben/internal/platform/listing"
)

// DefaultMinSignificance is the event emission floor used when a target
// doesn't override it.
const DefaultMinSignificance = 0.1

const (
	significanceHighThreshold   = 0.5
	significanceMediumThreshold = 0.2
)

// Input bundles one reconciliation pass's inputs: a fresh scrape against
// the last-known canonical listings for the same source.
type Input struct {
	Source          string
	Scraped         []ScrapedListing
	Canonical       []*listing.Listing
	Full            bool // true when Scraped reflects every page, not just the first
	GracePeriod     time.Duration
	TrackedFields   []string
	MinSignificance float64
	Now             time.Time
}

// ScrapedListing mirrors fetch.ScrapedListing; duplicated here (rather than
// imported) to keep this package free of a dependency on the fetch
// boundary — diff only needs the shape, not the contract.
type ScrapedListing struct {
	ID        string
	URL       string
	Fields    map[string]any
	ImageURLs []string
	Raw       map[string]any
}

// Outcome is what a reconciliation pass wants persisted: listings to
// upsert (created, updated, or removed) and the change events those
// mutations produced.
type Outcome struct {
	UpsertListings []*listing.Listing
	Events         []*event.ChangeEvent
}

// Compute reconciles a scrape against the canonical set and returns the
// listings to persist and the events to enqueue. Reconciliation is keyed
// by ListingID: S\C listings are CREATED, C\S listings are candidate (and,
// when in.Full and the grace period has elapsed, confirmed) REMOVED, and
// S∩C listings are diffed field by field.
func Compute(in Input) Outcome {
	start := time.Now()
	defer func() {
		metrics.DiffComputeDuration.Observe(time.Since(start).Seconds())
	}()
	metrics.DiffListingsCompared.Observe(float64(len(in.Canonical)))

	minSig := in.MinSignificance
	if minSig <= 0 {
		minSig = DefaultMinSignificance
	}

	scraped := make(map[string]ScrapedListing, len(in.Scraped))
	for _, s := range in.Scraped {
		scraped[s.ID] = s
	}
	canonical := make(map[string]*listing.Listing, len(in.Canonical))
	for _, c := range in.Canonical {
		canonical[c.ListingID] = c
	}

	var out Outcome

	for id, s := range scraped {
		if _, exists := canonical[id]; !exists {
			l, ev := created(in, s)
			out.UpsertListings = append(out.UpsertListings, l)
			out.Events = append(out.Events, ev)
		}
	}

	for id, c := range canonical {
		if _, exists := scraped[id]; !exists {
			if l, ev := removed(in, c); l != nil {
				out.UpsertListings = append(out.UpsertListings, l)
				if ev != nil {
					out.Events = append(out.Events, ev)
				}
			}
			continue
		}

		s := scraped[id]
		l, ev := updated(in, c, s, minSig)
		if l != nil {
			out.UpsertListings = append(out.UpsertListings, l)
		}
		if ev != nil {
			out.Events = append(out.Events, ev)
		}
	}

	for _, ev := range out.Events {
		metrics.DiffEventsEmitted.WithLabelValues(strings.ToLower(string(ev.EventType)), strings.ToLower(string(ev.Significance))).Inc()
	}

	return out
}

func created(in Input, s ScrapedListing) (*listing.Listing, *event.ChangeEvent) {
	hash := fieldHash(s.Fields, in.TrackedFields)
	l := &listing.Listing{
		ID:           tsid.Generate(),
		Source:       in.Source,
		ListingID:    s.ID,
		URL:          s.URL,
		Status:       listing.StatusActive,
		Fields:       s.Fields,
		ImageURLs:    s.ImageURLs,
		RawData:      s.Raw,
		Version:      1,
		FieldHash:    hash,
		FirstSeenAt:  in.Now,
		LastSeenAt:   in.Now,
	}

	ev := &event.ChangeEvent{
		EventID:        uuid.New().String(),
		EventType:      event.ChangeTypeCreated,
		ListingID:      s.ID,
		Source:         in.Source,
		FieldHashAfter: hash,
		DetectedAt:     in.Now,
		Version:        1,
		Confidence:     1,
		Significance:   event.SignificanceHigh,
		Status:         event.StatusPending,
	}
	l.ChangeHistory = append(l.ChangeHistory, listing.ChangeRecord{
		At: in.Now, EventID: ev.EventID, Fields: in.TrackedFields, Version: 1,
	})
	return l, ev
}

// removed handles a canonical listing absent from the current scrape. It
// returns (nil, nil) when the candidate should simply be left alone
// (partial scrape, or still inside the grace period).
func removed(in Input, c *listing.Listing) (*listing.Listing, *event.ChangeEvent) {
	if !in.Full {
		// A partial (first-page-only) scrape proves nothing about listings
		// beyond page one; never treat their absence as evidence of removal.
		return nil, nil
	}
	if c.Status == listing.StatusRemoved {
		return nil, nil
	}
	if in.Now.Sub(c.LastSeenAt) < in.GracePeriod {
		return nil, nil
	}

	c.Status = listing.StatusRemoved
	c.RemovedAt = in.Now
	c.Version++

	ev := &event.ChangeEvent{
		EventID:         uuid.New().String(),
		EventType:       event.ChangeTypeRemoved,
		ListingID:       c.ListingID,
		Source:          in.Source,
		FieldHashBefore: c.FieldHash,
		FieldHashAfter:  c.FieldHash,
		DetectedAt:      in.Now,
		Version:         c.Version,
		Confidence:      1,
		Significance:    event.SignificanceHigh,
		Status:          event.StatusPending,
	}
	c.ChangeHistory = append(c.ChangeHistory, listing.ChangeRecord{
		At: in.Now, EventID: ev.EventID, Version: c.Version,
	})
	return c, ev
}

// updated diffs a canonical listing against its fresh scrape, returning
// the (possibly mutated) listing to persist and an event when the change
// clears minSig. The listing is always returned with LastSeenAt bumped,
// even when nothing tracked changed, since it confirms the listing is
// still live.
func updated(in Input, c *listing.Listing, s ScrapedListing, minSig float64) (*listing.Listing, *event.ChangeEvent) {
	wasRemoved := c.Status == listing.StatusRemoved

	c.LastSeenAt = in.Now
	if wasRemoved {
		return reactivated(in, c, s)
	}

	changes := diffFields(c.Fields, s.Fields, in.TrackedFields)
	c.RawData = s.Raw
	if s.URL != "" {
		c.URL = s.URL
	}
	c.ImageURLs = s.ImageURLs

	if len(changes) == 0 {
		return c, nil
	}

	maxSig := 0.0
	sum := 0.0
	for _, fc := range changes {
		sum += fc.Significance
		if fc.Significance > maxSig {
			maxSig = fc.Significance
		}
	}
	if maxSig < minSig {
		// Below the noise floor: keep the refreshed fields/LastSeenAt but
		// don't bump the version or emit an event.
		c.Fields = s.Fields
		return c, nil
	}

	before := c.FieldHash
	c.Fields = s.Fields
	c.Version++
	c.FieldHash = fieldHash(s.Fields, in.TrackedFields)

	ev := &event.ChangeEvent{
		EventID:         uuid.New().String(),
		EventType:       event.ChangeTypeUpdated,
		ListingID:       c.ListingID,
		Source:          in.Source,
		ChangedFields:   changes,
		FieldHashBefore: before,
		FieldHashAfter:  c.FieldHash,
		DetectedAt:      in.Now,
		Version:         c.Version,
		Confidence:      minFloat(sum/float64(len(changes))*2, 1),
		Significance:    bucket(maxSig),
		Status:          event.StatusPending,
	}
	changedFieldNames := make([]string, len(changes))
	for i, fc := range changes {
		changedFieldNames[i] = fc.Field
	}
	c.ChangeHistory = append(c.ChangeHistory, listing.ChangeRecord{
		At: in.Now, EventID: ev.EventID, Fields: changedFieldNames, Version: c.Version,
	})
	return c, ev
}

// reactivated handles a listingId that reappears in a scrape after having
// been confirmed REMOVED. It is reported as a fresh CREATED (the listing
// is, from a subscriber's perspective, new again) while the version
// lineage continues from the stored value rather than resetting to 1.
func reactivated(in Input, c *listing.Listing, s ScrapedListing) (*listing.Listing, *event.ChangeEvent) {
	before := c.FieldHash
	c.Status = listing.StatusActive
	c.RemovedAt = time.Time{}
	c.Fields = s.Fields
	c.RawData = s.Raw
	c.ImageURLs = s.ImageURLs
	if s.URL != "" {
		c.URL = s.URL
	}
	c.Version++
	c.FieldHash = fieldHash(s.Fields, in.TrackedFields)

	ev := &event.ChangeEvent{
		EventID:         uuid.New().String(),
		EventType:       event.ChangeTypeCreated,
		ListingID:       c.ListingID,
		Source:          in.Source,
		FieldHashBefore: before,
		FieldHashAfter:  c.FieldHash,
		DetectedAt:      in.Now,
		Version:         c.Version,
		Confidence:      1,
		Significance:    event.SignificanceHigh,
		Status:          event.StatusPending,
	}
	c.ChangeHistory = append(c.ChangeHistory, listing.ChangeRecord{
		At: in.Now, EventID: ev.EventID, Version: c.Version,
	})
	return c, ev
}

// diffFields compares tracked fields between the canonical and scraped
// field maps, returning one FieldChange per field whose normalized value
// differs (present->absent and absent->present both count).
func diffFields(before, after map[string]any, trackedFields []string) []event.FieldChange {
	var changes []event.FieldChange
	for _, field := range trackedFields {
		oldVal, hadOld := before[field]
		newVal, hasNew := after[field]

		switch {
		case !hadOld && !hasNew:
			continue
		case hadOld && !hasNew:
			changes = append(changes, event.FieldChange{
				Field: field, ChangeType: event.ChangeTypeRemoved,
				OldValue: oldVal, Significance: significanceFor(field, oldVal, nil),
			})
		case !hadOld && hasNew:
			changes = append(changes, event.FieldChange{
				Field: field, ChangeType: event.ChangeTypeCreated,
				NewValue: newVal, Significance: significanceFor(field, nil, newVal),
			})
		default:
			if valuesEqual(oldVal, newVal) {
				continue
			}
			changes = append(changes, event.FieldChange{
				Field: field, ChangeType: event.ChangeTypeUpdated,
				OldValue: oldVal, NewValue: newVal, Significance: significanceFor(field, oldVal, newVal),
			})
		}
	}
	return changes
}

// significanceFor scores a single field change in [0, 1]. Price is scaled
// by relative magnitude, title by token-set dissimilarity; everything else
// is a fixed weight by field identity.
func significanceFor(field string, oldVal, newVal any) float64 {
	switch field {
	case "price":
		oldF, oldOK := toFloat(oldVal)
		newF, newOK := toFloat(newVal)
		if !oldOK || !newOK {
			return 1
		}
		if oldF == 0 {
			return 1
		}
		delta := newF - oldF
		if delta < 0 {
			delta = -delta
		}
		return minFloat(delta/oldF, 1)
	case "title":
		oldS, _ := oldVal.(string)
		newS, _ := newVal.(string)
		return jaccardDistance(oldS, newS)
	case "condition":
		return 0.3
	case "location":
		return 0.2
	default:
		return 0.1
	}
}

func bucket(sig float64) event.Significance {
	switch {
	case sig > significanceHighThreshold:
		return event.SignificanceHigh
	case sig > significanceMediumThreshold:
		return event.SignificanceMedium
	default:
		return event.SignificanceLow
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

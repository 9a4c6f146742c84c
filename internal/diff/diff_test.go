package diff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunahanbr/willhaben/internal/platform/event"
	"github.com/tunahanbr/willhaben/internal/platform/listing"
)

var trackedFields = []string{"title", "price", "condition", "location"}

func TestCompute_FirstSighting(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	in := Input{
		Source: "example",
		Scraped: []ScrapedListing{
			{ID: "abc123", URL: "https://example.com/abc123", Fields: map[string]any{
				"title": "Canon EOS 90D", "price": 650.0, "condition": "used", "location": "Vienna",
			}},
		},
		TrackedFields: trackedFields,
		Now:           now,
	}

	out := Compute(in)

	require.Len(t, out.UpsertListings, 1)
	require.Len(t, out.Events, 1)
	assert.Equal(t, listing.StatusActive, out.UpsertListings[0].Status)
	assert.Equal(t, int64(1), out.UpsertListings[0].Version)
	assert.Equal(t, event.ChangeTypeCreated, out.Events[0].EventType)
	assert.Equal(t, event.SignificanceHigh, out.Events[0].Significance)
	assert.Equal(t, 1.0, out.Events[0].Confidence)
}

func TestCompute_PriceDrop(t *testing.T) {
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	existing := &listing.Listing{
		ID: "l1", Source: "example", ListingID: "abc123", Status: listing.StatusActive,
		Fields: map[string]any{"title": "Canon EOS 90D", "price": 650.0, "condition": "used", "location": "Vienna"},
		Version: 1, FieldHash: fieldHash(map[string]any{
			"title": "Canon EOS 90D", "price": 650.0, "condition": "used", "location": "Vienna",
		}, trackedFields),
		LastSeenAt: now.Add(-time.Hour),
	}

	in := Input{
		Source:    "example",
		Canonical: []*listing.Listing{existing},
		Scraped: []ScrapedListing{
			{ID: "abc123", Fields: map[string]any{
				"title": "Canon EOS 90D", "price": 500.0, "condition": "used", "location": "Vienna",
			}},
		},
		TrackedFields: trackedFields,
		Now:           now,
	}

	out := Compute(in)

	require.Len(t, out.UpsertListings, 1)
	require.Len(t, out.Events, 1)
	ev := out.Events[0]
	assert.Equal(t, event.ChangeTypeUpdated, ev.EventType)
	assert.Equal(t, int64(2), ev.Version)
	require.Len(t, ev.ChangedFields, 1)
	assert.Equal(t, "price", ev.ChangedFields[0].Field)
	assert.InDelta(t, 150.0/650.0, ev.ChangedFields[0].Significance, 1e-9)
	assert.Equal(t, event.SignificanceMedium, ev.Significance)
}

func TestCompute_CosmeticTitleChangeBelowThreshold(t *testing.T) {
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	fields := map[string]any{"title": "Canon EOS 90D - Like New!", "price": 650.0, "condition": "used", "location": "Vienna"}
	existing := &listing.Listing{
		ID: "l1", Source: "example", ListingID: "abc123", Status: listing.StatusActive,
		Fields: fields, Version: 1, FieldHash: fieldHash(fields, trackedFields),
		LastSeenAt: now.Add(-time.Hour),
	}

	in := Input{
		Source:    "example",
		Canonical: []*listing.Listing{existing},
		Scraped: []ScrapedListing{
			{ID: "abc123", Fields: map[string]any{
				"title": "canon eos 90d like new", "price": 650.0, "condition": "used", "location": "Vienna",
			}},
		},
		TrackedFields:   trackedFields,
		MinSignificance: 0.1,
		Now:             now,
	}

	out := Compute(in)

	require.Len(t, out.UpsertListings, 1)
	assert.Empty(t, out.Events, "punctuation/casing-only title change must not clear the significance floor")
	assert.Equal(t, int64(1), out.UpsertListings[0].Version, "version must not bump when no event is emitted")
}

func TestCompute_RemovalRequiresFullScrapeAndGracePeriod(t *testing.T) {
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	existing := &listing.Listing{
		ID: "l1", Source: "example", ListingID: "gone1", Status: listing.StatusActive,
		Fields: map[string]any{"title": "old phone"}, Version: 1,
		LastSeenAt: now.Add(-30 * time.Minute),
	}

	// Partial scrape: absence proves nothing.
	partial := Compute(Input{
		Source: "example", Canonical: []*listing.Listing{existing},
		Full: false, GracePeriod: time.Hour, TrackedFields: trackedFields, Now: now,
	})
	assert.Empty(t, partial.UpsertListings)
	assert.Empty(t, partial.Events)

	// Full scrape, but still inside the grace period.
	tooSoon := Compute(Input{
		Source: "example", Canonical: []*listing.Listing{existing},
		Full: true, GracePeriod: time.Hour, TrackedFields: trackedFields, Now: now,
	})
	assert.Empty(t, tooSoon.UpsertListings)

	// Full scrape, grace period elapsed: confirmed removal.
	existing.LastSeenAt = now.Add(-2 * time.Hour)
	confirmed := Compute(Input{
		Source: "example", Canonical: []*listing.Listing{existing},
		Full: true, GracePeriod: time.Hour, TrackedFields: trackedFields, Now: now,
	})
	require.Len(t, confirmed.UpsertListings, 1)
	require.Len(t, confirmed.Events, 1)
	assert.Equal(t, listing.StatusRemoved, confirmed.UpsertListings[0].Status)
	assert.Equal(t, event.ChangeTypeRemoved, confirmed.Events[0].EventType)
	assert.Equal(t, int64(2), confirmed.Events[0].Version)
}

func TestFieldHash_StableAcrossKeyOrder(t *testing.T) {
	a := map[string]any{"title": "x", "price": 1.0}
	b := map[string]any{"price": 1.0, "title": "x"}
	assert.Equal(t, fieldHash(a, trackedFields), fieldHash(b, trackedFields))
}

func TestJaccardDistance_BothEmptyIsIdentical(t *testing.T) {
	assert.Equal(t, 0.0, jaccardDistance("", ""))
}

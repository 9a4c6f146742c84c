// Package fetch defines the boundary between the engine and the outside
// world: the Fetcher contract a poll task calls to retrieve the current
// state of a target's listings.
package fetch

import (
	"context"
	"time"

	"github.com/tunahanbr/willhaben/internal/platform/target"
)

// ScrapedListing is one listing as observed by a fetch, before
// normalization or diffing. Typed tracked fields live in Fields; anything
// the fetcher doesn't recognize is preserved opaquely in Raw.
type ScrapedListing struct {
	ID        string
	URL       string
	Fields    map[string]any
	ImageURLs []string
	Raw       map[string]any
}

// Result is the outcome of a single fetch call.
type Result struct {
	Listings      []ScrapedListing
	TotalListings int
	PagesScraped  int
	ScrapedAt     time.Time
	Source        string
	ETag          string
	LastModified  string
	NotModified   bool // true when a conditional request confirmed no change
}

// Fetcher retrieves the current listings for a polling target. When full is
// false, implementations may take a fast path (e.g. first page only) and
// populate only enough of Result for the scheduler's first-page ID-set
// equality check; the scheduler re-fetches with full=true when that check
// indicates a possible change.
type Fetcher interface {
	Fetch(ctx context.Context, t *target.PollingTarget, full bool) (*Result, error)
}

// Package htmlfetcher implements fetch.Fetcher against plain HTML listing
// pages using goquery CSS selectors, for source sites with no JSON API.
package htmlfetcher

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/tunahanbr/willhaben/internal/engineerr"
	"github.com/tunahanbr/willhaben/internal/fetch"
	"github.com/tunahanbr/willhaben/internal/platform/target"
)

// Selectors describes how to pick listing fields out of a source site's
// markup. One Selectors value is registered per domain.
type Selectors struct {
	ListingItem string // selector for one listing card, relative to the document
	ID          string // attribute on ListingItem holding the listing id, e.g. "data-id"
	Title       string // selector for title, relative to ListingItem
	Price       string // selector for price text, relative to ListingItem
	Condition   string
	Location    string
	URL         string // selector for the anchor, relative to ListingItem
	Image       string // selector for image elements, relative to ListingItem
	NextPage    string // selector for the "next page" link, at document level
}

// Fetcher fetches and parses HTML listing pages with goquery.
type Fetcher struct {
	client    *http.Client
	selectors map[string]Selectors // keyed by target.Domain
	maxPages  int
}

// New creates an HTML fetcher with per-domain CSS selector sets.
func New(client *http.Client, selectors map[string]Selectors, maxPages int) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxPages <= 0 {
		maxPages = 20
	}
	return &Fetcher{client: client, selectors: selectors, maxPages: maxPages}
}

// Fetch implements fetch.Fetcher. When full is false, only the first page
// is parsed, which is sufficient for the scheduler's ID-set fast path.
func (f *Fetcher) Fetch(ctx context.Context, t *target.PollingTarget, full bool) (*fetch.Result, error) {
	sel, ok := f.selectors[t.Domain]
	if !ok {
		return nil, &engineerr.ConfigError{Field: "domain", Reason: fmt.Sprintf("no selectors registered for domain %q", t.Domain)}
	}

	result := &fetch.Result{Source: t.Source, ScrapedAt: time.Now()}
	pageURL := t.URL

	pages := f.maxPages
	if !full {
		pages = 1
	}

	for page := 0; page < pages && pageURL != ""; page++ {
		doc, next, err := f.fetchPage(ctx, pageURL, sel)
		if err != nil {
			return nil, &engineerr.TransientFetchError{TargetID: t.ID, Cause: err}
		}

		listings, err := f.parseListings(doc, sel)
		if err != nil {
			return nil, &engineerr.ParseError{TargetID: t.ID, Cause: err}
		}

		result.Listings = append(result.Listings, listings...)
		result.PagesScraped++
		pageURL = next
	}

	result.TotalListings = len(result.Listings)
	return result, nil
}

func (f *Fetcher) fetchPage(ctx context.Context, pageURL string, sel Selectors) (*goquery.Document, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, pageURL)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, "", err
	}

	next := ""
	if sel.NextPage != "" {
		if href, ok := doc.Find(sel.NextPage).First().Attr("href"); ok {
			next = href
		}
	}
	return doc, next, nil
}

func (f *Fetcher) parseListings(doc *goquery.Document, sel Selectors) ([]fetch.ScrapedListing, error) {
	var listings []fetch.ScrapedListing
	var parseErr error

	doc.Find(sel.ListingItem).EachWithBreak(func(_ int, item *goquery.Selection) bool {
		id, ok := item.Attr(sel.ID)
		if !ok || strings.TrimSpace(id) == "" {
			parseErr = fmt.Errorf("listing item missing id attribute %q", sel.ID)
			return false
		}

		fields := map[string]any{}
		if sel.Title != "" {
			fields["title"] = strings.TrimSpace(item.Find(sel.Title).First().Text())
		}
		if sel.Price != "" {
			fields["price"] = parsePrice(item.Find(sel.Price).First().Text())
		}
		if sel.Condition != "" {
			fields["condition"] = strings.TrimSpace(item.Find(sel.Condition).First().Text())
		}
		if sel.Location != "" {
			fields["location"] = strings.TrimSpace(item.Find(sel.Location).First().Text())
		}

		url := ""
		if sel.URL != "" {
			url, _ = item.Find(sel.URL).First().Attr("href")
		}

		var images []string
		if sel.Image != "" {
			item.Find(sel.Image).Each(func(_ int, img *goquery.Selection) {
				if src, ok := img.Attr("src"); ok {
					images = append(images, src)
				}
			})
		}

		listings = append(listings, fetch.ScrapedListing{
			ID:        id,
			URL:       url,
			Fields:    fields,
			ImageURLs: images,
			Raw:       map[string]any{"html": item.Text()},
		})
		return true
	})

	return listings, parseErr
}

func parsePrice(text string) float64 {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, text)
	v, _ := strconv.ParseFloat(cleaned, 64)
	return v
}

// Package extract turns parsed listing-site documents into domain records.
//
// The crawl core only depends on the Extractor and ResultParser interfaces, so the
// site rules in this package can be swapped without touching pagination or the
// worker pool.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"carcrawler/internal/domain"
)

// ErrMissingElement is returned when a mandatory part of a page is absent.
// Callers treat it as a failed extraction of that listing.
var ErrMissingElement = errors.New("missing mandatory element")

// Extractor builds a Listing from a fetched listing page.
type Extractor interface {
	Extract(ctx context.Context, link string, doc *goquery.Document) (domain.Listing, error)
}

// ResultParser reads a search-result page.
type ResultParser interface {
	// NextPage returns the absolute URL of the following result page, or false on the last page.
	NextPage(doc *goquery.Document) (string, bool)

	// ListingLinks returns the absolute, de-duplicated listing links on the page in page order.
	ListingLinks(doc *goquery.Document) []string
}

// find returns the first match of selector under sel, or false when there is none.
func find(sel *goquery.Selection, selector string) (*goquery.Selection, bool) {
	match := sel.Find(selector).First()
	return match, match.Length() > 0
}

// findRequired is find for mandatory elements.
func findRequired(sel *goquery.Selection, selector string) (*goquery.Selection, error) {
	match, ok := find(sel, selector)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingElement, selector)
	}
	return match, nil
}

// lines splits text into trimmed, non-empty lines.
func lines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func cleanText(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\u00a0", ""))
}

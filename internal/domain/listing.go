package domain

import (
	"net/url"
	"strings"
	"time"
)

// Detail category titles recognised on a listing page.
const (
	CategoryInterior   = "Beltér"
	CategoryTechnical  = "Műszaki"
	CategoryExterior   = "Kültér"
	CategoryMultimedia = "Multimédia / Navigáció"
)

// DetailCategories is the closed set of section titles collected into Listing.Details.
var DetailCategories = []string{
	CategoryInterior,
	CategoryTechnical,
	CategoryExterior,
	CategoryMultimedia,
}

// Listing is the structured record extracted from one listing page.
// A Listing is only built by a successful extraction and is not modified afterwards.
type Listing struct {
	// ID is derived from the link, see ListingID.
	ID string `json:"id"`

	// Link is the listing URL (and its identity during a crawl).
	Link string `json:"link"`

	// Images holds the thumbnails shown on the listing page.
	Images []Image `json:"images"`

	// Common holds the main attribute table plus brand, model and model_group.
	Common map[string]string `json:"common"`

	// Details maps a detail category title to its option lines, in page order.
	Details map[string][]string `json:"details"`

	// Description holds the free-text sections of the page.
	Description Description `json:"description"`

	// FetchedAt is when the listing page was extracted.
	FetchedAt time.Time `json:"fetched_at"`
}

// Description holds the free-text sections of a listing.
type Description struct {
	// Text is the "Leírás" section, empty when the page has none.
	Text string `json:"leiras"`

	// Other is the "Egyéb információ" section split into lines.
	Other []string `json:"egyeb_informacio"`
}

// Image is a downloaded thumbnail.
type Image struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	Data        []byte `json:"data,omitempty"`
}

// ListingID returns the numeric identifier at the end of a listing link,
// e.g. ".../bmw-x5-xdrive30d-19288513" yields "19288513".
func ListingID(link string) string {
	path := link
	if u, err := url.Parse(link); err == nil {
		path = u.Path
	}
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndex(path, "-"); i >= 0 {
		return path[i+1:]
	}
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

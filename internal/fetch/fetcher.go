package fetch

import (
	"context"
	"errors"

	"github.com/PuerkitoBio/goquery"
)

// ErrStatus is returned when a server answers with a non-2xx status code.
var ErrStatus = errors.New("unexpected http status")

// PageGetter fetches a page with a plain GET and parses it.
type PageGetter interface {
	Get(ctx context.Context, url string) (*goquery.Document, error)
}

// PagePoster fetches a page with a POST carrying the configured headers and cookies.
type PagePoster interface {
	Post(ctx context.Context, url string) (*goquery.Document, error)
}

// ByteGetter downloads raw bytes, used for thumbnails.
type ByteGetter interface {
	Bytes(ctx context.Context, url string) (data []byte, contentType string, err error)
}

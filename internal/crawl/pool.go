package crawl

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"carcrawler/internal/domain"
	"carcrawler/internal/extract"
	"carcrawler/internal/fetch"
)

// DefaultConcurrency is the number of listings scraped at once.
const DefaultConcurrency = 10

// Scraper fetches one listing page and extracts its record.
// A non-nil error marks the link broken for the rest of the run.
type Scraper interface {
	Scrape(ctx context.Context, link string) (domain.Listing, error)
}

// ListingScraper is the production Scraper: POST the listing page, then extract.
type ListingScraper struct {
	pages     fetch.PagePoster
	extractor extract.Extractor
}

// NewListingScraper combines a page fetcher and an extractor.
func NewListingScraper(pages fetch.PagePoster, extractor extract.Extractor) *ListingScraper {
	return &ListingScraper{pages: pages, extractor: extractor}
}

// Scrape implements Scraper.
func (s *ListingScraper) Scrape(ctx context.Context, link string) (domain.Listing, error) {
	doc, err := s.pages.Post(ctx, link)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("fetch: %w", err)
	}
	rec, err := s.extractor.Extract(ctx, link, doc)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("extract: %w", err)
	}
	return rec, nil
}

// WaveResult summarises one Dispatch call.
type WaveResult struct {
	Dispatched int
	Processed  int
	Broken     int
	Elapsed    time.Duration
}

// Pool runs scrape tasks with bounded concurrency.
type Pool struct {
	scraper Scraper
	limit   int
	log     logrus.FieldLogger
}

// NewPool creates a pool running at most limit tasks at once.
// A limit below 1 uses DefaultConcurrency.
func NewPool(scraper Scraper, limit int, logger logrus.FieldLogger) *Pool {
	if limit < 1 {
		limit = DefaultConcurrency
	}
	return &Pool{
		scraper: scraper,
		limit:   limit,
		log:     logger.WithField("component", "pool"),
	}
}

// Dispatch scrapes every pending link in links once and blocks until all tasks
// finish. Each link ends processed (record appended to st.Buffer) or broken.
// A task failure never stops the other tasks. Links that are not pending, and
// repeated links, are skipped.
//
// When ctx is cancelled the links not yet started are marked broken without a request.
func (p *Pool) Dispatch(ctx context.Context, st *State, links []string) WaveResult {
	start := time.Now()
	sem := semaphore.NewWeighted(int64(p.limit))

	var (
		wg        sync.WaitGroup
		processed atomic.Int64
		broken    atomic.Int64
	)
	finish := func(link string, rec domain.Listing, err error) {
		if p.complete(st, link, rec, err) {
			processed.Add(1)
		} else {
			broken.Add(1)
		}
	}

	// --- Launch one task per pending link, at most p.limit at a time ---
	seen := make(map[string]struct{}, len(links))
	dispatched := 0
	for _, link := range links {
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}

		if state := st.Links.State(link); state != StatePending {
			p.log.WithFields(logrus.Fields{"link": link, "state": state}).Warn("Skipping link that is not pending")
			continue
		}
		dispatched++

		// Acquire only fails once ctx is done. The link must not stay pending.
		if err := sem.Acquire(ctx, 1); err != nil {
			finish(link, domain.Listing{}, fmt.Errorf("not started: %w", err))
			continue
		}

		wg.Add(1)
		go func(link string) {
			defer wg.Done()
			defer sem.Release(1)
			rec, err := p.scrape(ctx, link)
			finish(link, rec, err)
		}(link)
	}
	// A wave ends when every task has reported.
	wg.Wait()

	return WaveResult{
		Dispatched: dispatched,
		Processed:  int(processed.Load()),
		Broken:     int(broken.Load()),
		Elapsed:    time.Since(start),
	}
}

// scrape runs the scraper, turning a panic in extraction code into an error.
func (p *Pool) scrape(ctx context.Context, link string) (rec domain.Listing, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.WithFields(logrus.Fields{
				"link":  link,
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("Scraper panic recovered")
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.scraper.Scrape(ctx, link)
}

// complete records the outcome of one task and reports whether it was processed.
func (p *Pool) complete(st *State, link string, rec domain.Listing, err error) bool {
	log := p.log.WithField("link", link)

	if err != nil {
		log.WithError(err).Warn("Broken listing link")
		if markErr := st.Links.MarkBroken(link); markErr != nil {
			log.WithError(markErr).Error("Failed to mark link broken")
		}
		return false
	}

	if markErr := st.Links.MarkProcessed(link); markErr != nil {
		log.WithError(markErr).Error("Failed to mark link processed")
		return false
	}
	st.Buffer.Append(rec)
	log.Debug("Listing processed")
	return true
}

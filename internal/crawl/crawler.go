package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"time"

	"github.com/sirupsen/logrus"

	"carcrawler/internal/extract"
	"carcrawler/internal/fetch"
	"carcrawler/internal/notify"
	"carcrawler/internal/storage"
)

// ErrFirstPage is returned by Run when the entry page cannot be fetched.
var ErrFirstPage = errors.New("first result page unavailable")

// Summary describes a finished crawl.
type Summary struct {
	Pages      int
	Processed  int
	Broken     int
	Pending    int
	Batches    int
	Incomplete bool
	Elapsed    time.Duration
}

// Options tune a Crawler.
type Options struct {
	// MaxPages stops the crawl after that many result pages; 0 means no limit.
	MaxPages int
}

// Crawler walks the result pages and scrapes every listing they link to.
type Crawler struct {
	pages    fetch.PageGetter
	results  extract.ResultParser
	pool     *Pool
	writer   *storage.BatchWriter
	notifier notify.Notifier
	opts     Options
	log      logrus.FieldLogger
}

// New creates a Crawler. A nil notifier disables notifications.
func New(
	pages fetch.PageGetter,
	results extract.ResultParser,
	pool *Pool,
	writer *storage.BatchWriter,
	notifier notify.Notifier,
	opts Options,
	logger logrus.FieldLogger,
) *Crawler {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Crawler{
		pages:    pages,
		results:  results,
		pool:     pool,
		writer:   writer,
		notifier: notifier,
		opts:     opts,
		log:      logger.WithField("component", "crawler"),
	}
}

// Run crawls from startURL until the result pages run out, then flushes what is
// left in the buffer. Only a failure to fetch startURL is returned as ErrFirstPage;
// a later page failure ends the crawl early with Summary.Incomplete set.
func (c *Crawler) Run(ctx context.Context, startURL string) (Summary, error) {
	start := time.Now()
	st := NewState()
	var summary Summary

	// --- First page ---
	c.log.WithField("url", startURL).Info("Starting crawl")
	doc, err := c.pages.Get(ctx, startURL)
	if err != nil {
		c.log.WithError(err).WithField("url", startURL).Error("Failed to fetch first result page")
		return summary, fmt.Errorf("%w: %w", ErrFirstPage, err)
	}

	visited := map[string]struct{}{startURL: {}}
	pageURL := startURL

	// --- Pagination loop ---
	for {
		log := c.log.WithField("page", pageLabel(pageURL))

		next, ok := c.results.NextPage(doc)
		if !ok {
			log.Info("No next page, crawl complete")
			break
		}

		// 1. Queue this page's listings, then run a wave over everything pending.
		added := 0
		for _, link := range c.results.ListingLinks(doc) {
			if st.Links.AddPending(link) {
				added++
			}
		}

		wave := c.pool.Dispatch(ctx, st, st.Links.Pending())
		summary.Pages++
		log.WithFields(logrus.Fields{
			"new_links": added,
			"processed": wave.Processed,
			"broken":    wave.Broken,
			"elapsed":   fmt.Sprintf("%.2fs", wave.Elapsed.Seconds()),
		}).Info("Result page crawled")

		// 2. Persist once the buffer is large enough.
		batch, flushed, err := c.writer.MaybeFlush(ctx, st.Buffer, st.Links)
		if err != nil {
			log.WithError(err).Error("Flush failed, records stay buffered")
		}
		if flushed {
			summary.Batches++
			c.notify(ctx, fmt.Sprintf("Batch %s saved (%d listings)", batch.Name, batch.Records))
		}

		// 3. Decide whether to move on.
		if ctx.Err() != nil {
			log.Warn("Crawl cancelled")
			summary.Incomplete = true
			break
		}
		if c.opts.MaxPages > 0 && summary.Pages >= c.opts.MaxPages {
			log.WithField("max_pages", c.opts.MaxPages).Info("Page limit reached")
			break
		}
		if _, seen := visited[next]; seen {
			log.WithField("next", next).Warn("Next page already visited, stopping")
			break
		}
		visited[next] = struct{}{}

		doc, err = c.pages.Get(ctx, next)
		if err != nil {
			log.WithError(err).WithField("next", next).Error("Failed to fetch next result page, stopping")
			summary.Incomplete = true
			break
		}
		pageURL = next
	}

	// --- Wrap up ---
	// The final flush must run even when ctx was cancelled by a shutdown signal.
	batch, flushed, flushErr := c.writer.Flush(context.WithoutCancel(ctx), st.Buffer, st.Links)
	if flushed {
		summary.Batches++
	}

	summary.Pending, summary.Processed, summary.Broken = st.Links.Counts()
	summary.Elapsed = time.Since(start)

	c.log.WithFields(logrus.Fields{
		"pages":      summary.Pages,
		"processed":  summary.Processed,
		"broken":     summary.Broken,
		"batches":    summary.Batches,
		"incomplete": summary.Incomplete,
		"elapsed":    summary.Elapsed.String(),
	}).Info("Crawl finished")

	if flushErr != nil {
		c.log.WithError(flushErr).Error("Final flush failed")
		return summary, fmt.Errorf("final flush: %w", flushErr)
	}
	if flushed {
		c.log.WithFields(logrus.Fields{"batch": batch.Name, "records": batch.Records}).Debug("Final batch written")
	}

	c.notify(context.WithoutCancel(ctx), fmt.Sprintf(
		"Crawl finished: %d pages, %d listings saved, %d broken links, %d batches",
		summary.Pages, summary.Processed, summary.Broken, summary.Batches,
	))
	return summary, nil
}

func (c *Crawler) notify(ctx context.Context, message string) {
	if err := c.notifier.Notify(ctx, message); err != nil {
		c.log.WithError(err).Warn("Notification failed")
	}
}

// pageLabel is the last path segment of a result page URL, used in log lines.
func pageLabel(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" || u.Path == "/" {
		return raw
	}
	return path.Base(u.Path)
}

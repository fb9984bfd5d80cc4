package crawl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carcrawler/internal/extract"
	"carcrawler/internal/fetch"
	"carcrawler/internal/storage"
)

const site = "https://www.hasznaltauto.hu"

// fakePages serves canned result pages and records every GET.
type fakePages struct {
	mu    sync.Mutex
	pages map[string]string
	gets  []string
}

func (f *fakePages) Get(_ context.Context, raw string) (*goquery.Document, error) {
	f.mu.Lock()
	f.gets = append(f.gets, raw)
	html, ok := f.pages[raw]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: GET %s returned 404", fetch.ErrStatus, raw)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	doc.Url, _ = url.Parse(raw)
	return doc, nil
}

func resultPage(next string, links ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, l := range links {
		fmt.Fprintf(&b, `<a title="car" href="%s">car</a>`, l)
	}
	if next != "" {
		fmt.Fprintf(&b, `<ul><li class="next"><a href="%s">next</a></li></ul>`, next)
	}
	b.WriteString("</body></html>")
	return b.String()
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingNotifier) Notify(_ context.Context, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

type fixture struct {
	pages    *fakePages
	scraper  *fakeScraper
	store    *storage.FileStore
	notifier *recordingNotifier
	crawler  *Crawler
}

func newFixture(t *testing.T, pages map[string]string, threshold int, opts Options) *fixture {
	t.Helper()
	fp := &fakePages{pages: pages}
	scraper := newFakeScraper(time.Millisecond)

	store, err := storage.NewFileStore(filepath.Join(t.TempDir(), "data"), storage.JSONCodec{}, testLogger())
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	parser := extract.NewHasznaltauto(nil, testLogger())
	c := New(fp, parser, NewPool(scraper, 3, testLogger()), storage.NewBatchWriter(store, threshold, testLogger()), notifier, opts, testLogger())

	return &fixture{pages: fp, scraper: scraper, store: store, notifier: notifier, crawler: c}
}

func TestCrawler_NoNextPageTerminates(t *testing.T) {
	start := site + "/talalatilista/ABC"
	f := newFixture(t, map[string]string{
		start: resultPage("", "/szemelyauto/bmw/x5/bmw_x5-1"),
	}, 10, Options{})

	summary, err := f.crawler.Run(context.Background(), start)
	require.NoError(t, err)

	assert.Equal(t, []string{start}, f.pages.gets, "no further fetches")
	assert.Equal(t, 0, summary.Pages)
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 0, f.scraper.callCount(site+"/szemelyauto/bmw/x5/bmw_x5-1"))
	assert.False(t, summary.Incomplete)
}

func TestCrawler_FirstPageFailureIsFatal(t *testing.T) {
	f := newFixture(t, map[string]string{}, 10, Options{})

	_, err := f.crawler.Run(context.Background(), site+"/talalatilista/ABC")
	assert.ErrorIs(t, err, ErrFirstPage)
	assert.ErrorIs(t, err, fetch.ErrStatus)

	names, err := f.store.ListBatches(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestCrawler_FullRun(t *testing.T) {
	p1 := site + "/talalatilista/ABC/page1"
	p2 := site + "/talalatilista/ABC/page2"
	p3 := site + "/talalatilista/ABC/page3"
	f := newFixture(t, map[string]string{
		p1: resultPage("/talalatilista/ABC/page2",
			"/szemelyauto/bmw/x5/bmw_x5-1",
			"/szemelyauto/opel/astra/opel_astra-2"),
		p2: resultPage("/talalatilista/ABC/page3",
			"/szemelyauto/opel/astra/opel_astra-2",
			"/szemelyauto/audi/a4/bad_audi-3",
			"/szemelyauto/skoda/fabia/skoda_fabia-4"),
		p3: resultPage("", "/szemelyauto/seat/leon/seat_leon-5"),
	}, 2, Options{})

	summary, err := f.crawler.Run(context.Background(), p1)
	require.NoError(t, err)

	assert.Equal(t, []string{p1, p2, p3}, f.pages.gets)
	assert.Equal(t, 2, summary.Pages)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 1, summary.Broken)
	assert.Equal(t, 0, summary.Pending)
	assert.Equal(t, 2, summary.Batches, "one threshold flush plus the final flush")
	assert.False(t, summary.Incomplete)

	assert.Equal(t, 1, f.scraper.callCount(site+"/szemelyauto/opel/astra/opel_astra-2"), "links are scraped once")

	ctx := context.Background()
	names, err := f.store.ListBatches(ctx)
	require.NoError(t, err)
	require.Len(t, names, 2)

	ids := map[string]bool{}
	for _, name := range names {
		recs, err := f.store.LoadBatch(ctx, name)
		require.NoError(t, err)
		for _, r := range recs {
			ids[r.ID] = true
		}
	}
	assert.Equal(t, map[string]bool{"1": true, "2": true, "4": true}, ids)

	broken, err := f.store.LoadBrokenLinks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{site + "/szemelyauto/audi/a4/bad_audi-3"}, broken)

	require.NotEmpty(t, f.notifier.messages)
	assert.Contains(t, f.notifier.messages[0], "Batch")
	assert.Contains(t, f.notifier.messages[len(f.notifier.messages)-1], "Crawl finished")
}

func TestCrawler_LaterPageFailureStopsGracefully(t *testing.T) {
	p1 := site + "/talalatilista/ABC/page1"
	f := newFixture(t, map[string]string{
		p1: resultPage("/talalatilista/ABC/missing", "/szemelyauto/bmw/x5/bmw_x5-1"),
	}, 100, Options{})

	summary, err := f.crawler.Run(context.Background(), p1)
	require.NoError(t, err)
	assert.True(t, summary.Incomplete)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Batches, "buffered records are flushed at the end")
}

func TestCrawler_StopsOnRevisitedPage(t *testing.T) {
	p1 := site + "/talalatilista/ABC/page1"
	f := newFixture(t, map[string]string{
		p1: resultPage("/talalatilista/ABC/page1", "/szemelyauto/bmw/x5/bmw_x5-1"),
	}, 100, Options{})

	summary, err := f.crawler.Run(context.Background(), p1)
	require.NoError(t, err)
	assert.Equal(t, []string{p1}, f.pages.gets)
	assert.Equal(t, 1, summary.Pages)
}

func TestCrawler_MaxPages(t *testing.T) {
	p1 := site + "/talalatilista/ABC/page1"
	f := newFixture(t, map[string]string{
		p1: resultPage("/talalatilista/ABC/page2", "/szemelyauto/bmw/x5/bmw_x5-1"),
		site + "/talalatilista/ABC/page2": resultPage("/talalatilista/ABC/page3"),
	}, 100, Options{MaxPages: 1})

	summary, err := f.crawler.Run(context.Background(), p1)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Pages)
	assert.Equal(t, []string{p1}, f.pages.gets)
}

func TestCrawler_CancelledRunFlushes(t *testing.T) {
	p1 := site + "/talalatilista/ABC/page1"
	f := newFixture(t, map[string]string{
		p1: resultPage("/talalatilista/ABC/page2", "/szemelyauto/bmw/x5/bmw_x5-1"),
	}, 100, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The fake page getter ignores ctx, so the first page still loads.
	summary, err := f.crawler.Run(ctx, p1)
	require.NoError(t, err)
	assert.True(t, summary.Incomplete)
	assert.Equal(t, 1, summary.Broken)
	assert.Equal(t, 0, summary.Pending)

	broken, err := f.store.LoadBrokenLinks(context.Background())
	require.NoError(t, err)
	assert.Len(t, broken, 1)
}

const listingHTML = `<html><body>
<a type="marka">Opel</a><a type="modell">Astra</a>
<table class="hirdetesadatok"><tr><td>Vételár:</td><td>2 500 000 Ft</td></tr></table>
</body></html>`

// TestCrawler_EndToEndHTTP runs the real fetcher and extractor against a test server.
// Listing pages only answer POST requests that carry the session cookie.
func TestCrawler_EndToEndHTTP(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/talalatilista/page1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, resultPage("/talalatilista/page2",
			"/szemelyauto/opel/astra/opel_astra-1",
			"/szemelyauto/opel/astra/opel_astra-2",
			"/szemelyauto/opel/astra/opel_astra-3"))
	})
	mux.HandleFunc("/talalatilista/page2", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, resultPage(""))
	})
	mux.HandleFunc("/szemelyauto/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if c, err := r.Cookie("session"); err != nil || c.Value != "s1" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		if strings.HasSuffix(r.URL.Path, "-3") {
			_, _ = io.WriteString(w, "<html><body>removed listing</body></html>")
			return
		}
		_, _ = io.WriteString(w, listingHTML)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	fetcher := fetch.NewHTTPFetcher(fetch.HTTPOptions{
		Timeout: 2 * time.Second,
		Cookies: map[string]string{"session": "s1"},
	}, testLogger())
	parser := extract.NewHasznaltauto(fetcher, testLogger())

	store, err := storage.NewFileStore(t.TempDir(), storage.JSONCodec{}, testLogger())
	require.NoError(t, err)

	c := New(fetcher, parser,
		NewPool(NewListingScraper(fetcher, parser), DefaultConcurrency, testLogger()),
		storage.NewBatchWriter(store, storage.DefaultFlushThreshold, testLogger()),
		nil, Options{}, testLogger())

	summary, err := c.Run(context.Background(), srv.URL+"/talalatilista/page1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Pages)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Broken)

	names, err := store.ListBatches(context.Background())
	require.NoError(t, err)
	require.Len(t, names, 1)

	recs, err := store.LoadBatch(context.Background(), names[0])
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.Equal(t, "Opel", r.Common["brand"])
		assert.Equal(t, "2 500 000 Ft", r.Common["Vételár:"])
	}

	broken, err := store.LoadBrokenLinks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{srv.URL + "/szemelyauto/opel/astra/opel_astra-3"}, broken)
}

func TestPageLabel(t *testing.T) {
	assert.Equal(t, "page2", pageLabel(site+"/talalatilista/ABC/page2"))
	assert.Equal(t, site, pageLabel(site))
	assert.NotEmpty(t, pageLabel("::"))
}

func TestListingScraper_WrapsErrors(t *testing.T) {
	s := NewListingScraper(failingPoster{}, extract.NewHasznaltauto(nil, testLogger()))
	_, err := s.Scrape(context.Background(), site+"/szemelyauto/x-1")
	assert.ErrorIs(t, err, errPoster)
}

var errPoster = errors.New("connection refused")

type failingPoster struct{}

func (failingPoster) Post(context.Context, string) (*goquery.Document, error) {
	return nil, errPoster
}

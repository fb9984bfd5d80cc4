package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"
)

// BrowserFetcher implements PageGetter by rendering pages in headless Chromium.
// It is used for result pages whose listing links are inserted by scripts.
type BrowserFetcher struct {
	browser *rod.Browser
	timeout time.Duration
	log     logrus.FieldLogger
}

// NewBrowserFetcher launches a persistent browser instance. Close must be called to release it.
func NewBrowserFetcher(timeout time.Duration, logger logrus.FieldLogger) (*BrowserFetcher, error) {
	log := logger.WithField("component", "browser")

	path, exists := launcher.LookPath()
	if !exists {
		log.Error("Cannot find browser executable for rod")
		return nil, errors.New("rod browser dependency not found")
	}

	u, err := launcher.New().Bin(path).Launch()
	if err != nil {
		log.WithError(err).Error("Failed to launch rod browser")
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		log.WithError(err).Error("Failed to connect to rod browser")
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	log.Info("Persistent rod browser instance created")

	return &BrowserFetcher{browser: browser, timeout: timeout, log: log}, nil
}

// Close shuts the browser down.
func (f *BrowserFetcher) Close() error {
	f.log.Info("Closing persistent rod browser instance")
	return f.browser.Close()
}

// Get navigates to pageURL, waits for the load event and parses the rendered HTML.
func (f *BrowserFetcher) Get(ctx context.Context, pageURL string) (*goquery.Document, error) {
	log := f.log.WithField("url", pageURL)

	page, err := f.browser.Page(proto.TargetCreateTarget{URL: pageURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	defer func() {
		if closeErr := page.Close(); closeErr != nil {
			log.WithError(closeErr).Warn("Error closing rod page")
		}
	}()

	pageCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	page = page.Context(pageCtx)

	if err := page.WaitLoad(); err != nil {
		if errors.Is(pageCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("rendering timed out for %s: %w", pageURL, pageCtx.Err())
		}
		return nil, fmt.Errorf("failed waiting for page load: %w", err)
	}

	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("failed to read rendered html of %s: %w", pageURL, err)
	}

	// Redirects and client-side navigation can move the page away from pageURL.
	final := pageURL
	if info, err := page.Info(); err == nil && info.URL != "" {
		final = info.URL
	} else if err != nil {
		log.WithError(err).Debug("Failed to read page info, using requested url")
	}

	doc, err := RenderedDocument(html, final)
	if err != nil {
		return nil, err
	}
	log.Debug("Page rendered")
	return doc, nil
}

// RenderedDocument parses html produced by a browser and records pageURL as
// the document location, so relative links resolve the same way they do for
// documents fetched over plain HTTP.
func RenderedDocument(html, pageURL string) (*goquery.Document, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page url %q: %w", pageURL, err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("page url %q is not absolute", pageURL)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html of %s: %w", pageURL, err)
	}
	doc.Url = base
	return doc, nil
}

package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html/charset"
)

const maxBodySize = 16 << 20

// HTTPOptions configures an HTTPFetcher.
type HTTPOptions struct {
	// Timeout bounds every request, including reading the body.
	Timeout time.Duration
	// UserAgent is sent when Headers does not set one.
	UserAgent string
	// Headers and Cookies are attached to POST requests.
	Headers map[string]string
	Cookies map[string]string
}

// HTTPFetcher implements PageGetter, PagePoster and ByteGetter over net/http.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions
	log    logrus.FieldLogger
}

// NewHTTPFetcher creates a fetcher whose client enforces opts.Timeout per request.
func NewHTTPFetcher(opts HTTPOptions, logger logrus.FieldLogger) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: opts.Timeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
	}

	return &HTTPFetcher{
		client: &http.Client{Transport: transport, Timeout: opts.Timeout},
		opts:   opts,
		log:    logger.WithField("component", "fetcher"),
	}
}

// Get fetches url with a plain GET and parses the response as HTML.
func (f *HTTPFetcher) Get(ctx context.Context, url string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", url, err)
	}
	f.setUserAgent(req)
	return f.document(req)
}

// Post fetches url with a POST request carrying the configured headers and cookies.
func (f *HTTPFetcher) Post(ctx context.Context, url string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", url, err)
	}
	for name, value := range f.opts.Headers {
		req.Header.Set(name, value)
	}
	for name, value := range f.opts.Cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	f.setUserAgent(req)
	return f.document(req)
}

// Bytes downloads url with a plain GET and returns the body and its content type.
func (f *HTTPFetcher) Bytes(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request for %s: %w", url, err)
	}
	f.setUserAgent(req)

	resp, err := f.do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read body of %s: %w", url, err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (f *HTTPFetcher) setUserAgent(req *http.Request) {
	if req.Header.Get("User-Agent") == "" && f.opts.UserAgent != "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}
}

func (f *HTTPFetcher) do(req *http.Request) (*http.Response, error) {
	log := f.log.WithFields(logrus.Fields{"method": req.Method, "url": req.URL.String()})
	start := time.Now()

	resp, err := f.client.Do(req)
	if err != nil {
		log.WithError(err).Debug("Request failed")
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	log.WithFields(logrus.Fields{
		"status":  resp.StatusCode,
		"elapsed": time.Since(start).String(),
	}).Debug("Request completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s %s returned %d", ErrStatus, req.Method, req.URL, resp.StatusCode)
	}
	return resp, nil
}

func (f *HTTPFetcher) document(req *http.Request) (*goquery.Document, error) {
	resp, err := f.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// Listing pages are not always served as UTF-8.
	body, err := charset.NewReader(io.LimitReader(resp.Body, maxBodySize), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("failed to detect charset of %s: %w", req.URL, err)
	}

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html of %s: %w", req.URL, err)
	}
	doc.Url = resp.Request.URL
	return doc, nil
}

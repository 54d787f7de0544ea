package scraper

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/aluiziolira/go-tululu-books/config"
	"github.com/gocolly/colly/v2"
)

// maxSamePathRedirects mirrors net/http's default redirect limit.
const maxSamePathRedirects = 10

// Resource labels what a request fetches, for metrics and logs.
type Resource string

const (
	ResourceDetail Resource = "detail"
	ResourceText   Resource = "text"
	ResourceImage  Resource = "image"
)

// Page is the result of a single GET.
type Page struct {
	Body       []byte
	URL        string
	StatusCode int
	// Redirected is set when the server answered with a redirect to another
	// path. The site signals a missing book this way, so the body must not
	// be used; URL holds the redirect target.
	Redirected bool
}

// Fetcher wraps a colly collector configured for sequential downloads.
type Fetcher struct {
	collector   *colly.Collector
	metrics     *Metrics
	maxBodySize int
}

// NewFetcher builds a fetcher configured from cfg.
func NewFetcher(cfg *config.Config, metrics *Metrics) (*Fetcher, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.UserAgent(cfg.UserAgent),
		colly.MaxBodySize(cfg.MaxBodySize),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})
	collector.SetRedirectHandler(samePathRedirects)

	return &Fetcher{
		collector:   collector,
		metrics:     metrics,
		maxBodySize: cfg.MaxBodySize,
	}, nil
}

// WithTransport replaces the HTTP transport used by every request.
func (f *Fetcher) WithTransport(transport http.RoundTripper) {
	f.collector.WithTransport(transport)
}

// Get issues one GET for rawURL with query merged into its query string.
//
// Transport failures are returned as ErrConnection or ErrTimeout and any
// other non-2xx status as ErrHTTPStatus (or one of its labelled wrappers).
// A redirect to another path is not an error: it comes back as a Page with
// Redirected set. With a body size limit, a body that reaches the limit is
// ErrBodyTruncated. Text and image bodies are returned as sent; only detail
// pages are decoded to UTF-8.
func (f *Fetcher) Get(ctx context.Context, kind Resource, rawURL string, query url.Values) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	target, err := withQuery(rawURL, query)
	if err != nil {
		return nil, err
	}

	var (
		page    = &Page{URL: target}
		headers http.Header
	)
	c := f.collector.Clone()
	if kind != ResourceDetail {
		c.OnResponseHeaders(func(r *colly.Response) {
			keepRawBody(r.Headers)
		})
	}
	c.OnResponse(func(r *colly.Response) {
		page.StatusCode = r.StatusCode
		page.Body = r.Body
		if r.Request != nil && r.Request.URL != nil {
			page.URL = r.Request.URL.String()
		}
	})
	c.OnError(func(r *colly.Response, _ error) {
		if r == nil {
			return
		}
		page.StatusCode = r.StatusCode
		page.Body = r.Body
		if r.Headers != nil {
			headers = *r.Headers
		}
		if r.Request != nil && r.Request.URL != nil {
			page.URL = r.Request.URL.String()
		}
	})

	f.metrics.IncRequest(string(kind), "started")
	start := time.Now()
	reqErr := c.Request(http.MethodGet, target, nil, nil, nil)
	f.metrics.ObserveDuration(string(kind), time.Since(start))

	if location := redirectLocation(page.StatusCode, headers); location != "" {
		page.Redirected = true
		page.Body = nil
		page.URL = resolveReference(page.URL, location)
		f.metrics.IncRequest(string(kind), "redirected")
		return page, nil
	}

	if classified := classifyError(reqErr, page.StatusCode, target); classified != nil {
		f.metrics.IncRequest(string(kind), "failed")
		f.metrics.IncError(errorTypeLabel(classified))
		return nil, fmt.Errorf("get %s: %w", target, classified)
	}

	if f.maxBodySize > 0 && len(page.Body) >= f.maxBodySize {
		truncated := ErrBodyTruncated{URL: target, Limit: f.maxBodySize}
		f.metrics.IncRequest(string(kind), "failed")
		f.metrics.IncError(errorTypeLabel(truncated))
		return nil, fmt.Errorf("get %s: %w", target, truncated)
	}

	f.metrics.IncRequest(string(kind), "completed")
	return page, nil
}

// keepRawBody strips the charset parameter from Content-Type so colly does
// not transcode the body. Book texts and covers are saved byte for byte.
func keepRawBody(headers *http.Header) {
	if headers == nil {
		return
	}
	contentType := headers.Get("Content-Type")
	if contentType == "" {
		return
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		headers.Del("Content-Type")
		return
	}
	headers.Set("Content-Type", mediaType)
}

// samePathRedirects follows redirects that keep the request path (scheme or
// host canonicalisation) and stops at the first hop to a different path.
func samePathRedirects(req *http.Request, via []*http.Request) error {
	if len(via) >= maxSamePathRedirects {
		return http.ErrUseLastResponse
	}
	if req.URL.Path != via[0].URL.Path {
		return http.ErrUseLastResponse
	}
	return nil
}

func redirectLocation(statusCode int, headers http.Header) string {
	switch statusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return headers.Get("Location")
	}
	return ""
}

func resolveReference(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

func withQuery(rawURL string, query url.Values) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if len(query) == 0 {
		return parsed.String(), nil
	}
	merged := parsed.Query()
	for key, values := range query {
		for _, value := range values {
			merged.Add(key, value)
		}
	}
	parsed.RawQuery = merged.Encode()
	return parsed.String(), nil
}

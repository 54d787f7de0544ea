package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"testing/iotest"

	"github.com/aluiziolira/go-tululu-books/config"
	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "ok status", err: nil, statusCode: http.StatusOK, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "url error", err: &url.Error{Op: "Get", URL: "http://example.test", Err: errors.New("EOF")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "server error", err: errors.New("Internal Server Error"), statusCode: http.StatusInternalServerError, expected: "http_status"},
		{name: "body cut short", err: io.ErrUnexpectedEOF, statusCode: 0, expected: "connection"},
		{name: "eof", err: io.EOF, statusCode: 0, expected: "connection"},
		{name: "any transport error", err: errors.New("stream error"), statusCode: 0, expected: "connection"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err, tt.statusCode, "http://example.test/")); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "connection", err: fmt.Errorf("get: %w", ErrConnection{Err: errors.New("reset")}), want: true},
		{name: "timeout", err: ErrTimeout{Err: context.DeadlineExceeded}, want: true},
		{name: "status", err: ErrHTTPStatus{Code: http.StatusBadGateway}, want: false},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "canceled inside connection", err: ErrConnection{Err: &url.Error{Op: "Get", Err: context.Canceled}}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Fatalf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func newTestFetcher(t *testing.T) (*Fetcher, *httpmock.MockTransport, *Metrics) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.BaseURL = "http://example.test"

	metrics := NewMetrics()
	f, err := NewFetcher(cfg, metrics)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	transport := httpmock.NewMockTransport()
	f.WithTransport(transport)
	return f, transport, metrics
}

func TestFetcherGetSuccess(t *testing.T) {
	f, transport, metrics := newTestFetcher(t)
	transport.RegisterResponder("GET", "http://example.test/b1/", httpmock.NewStringResponder(200, "<h1>Book</h1>"))

	page, err := f.Get(context.Background(), ResourceDetail, "http://example.test/b1/", nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if page.Redirected {
		t.Fatalf("page should not be redirected")
	}
	if string(page.Body) != "<h1>Book</h1>" {
		t.Fatalf("body = %q", page.Body)
	}
	if page.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", page.StatusCode)
	}
	if page.URL != "http://example.test/b1/" {
		t.Fatalf("url = %q", page.URL)
	}
	if got := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("detail", "completed")); got != 1 {
		t.Fatalf("completed requests = %v, want 1", got)
	}
}

func TestFetcherGetRevisitsSameURL(t *testing.T) {
	f, transport, _ := newTestFetcher(t)
	transport.RegisterResponder("GET", "http://example.test/b1/", httpmock.NewStringResponder(200, "ok"))

	for i := 0; i < 2; i++ {
		if _, err := f.Get(context.Background(), ResourceDetail, "http://example.test/b1/", nil); err != nil {
			t.Fatalf("get #%d: %v", i+1, err)
		}
	}
	if got := transport.GetTotalCallCount(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestFetcherGetWithQuery(t *testing.T) {
	f, transport, _ := newTestFetcher(t)
	transport.RegisterResponder("GET", "http://example.test/txt.php?id=7", httpmock.NewStringResponder(200, "text"))

	page, err := f.Get(context.Background(), ResourceText, "http://example.test/txt.php", url.Values{"id": {"7"}})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(page.Body) != "text" {
		t.Fatalf("body = %q", page.Body)
	}
}

func TestFetcherGetRedirectToOtherPath(t *testing.T) {
	f, transport, metrics := newTestFetcher(t)

	redirect := httpmock.NewStringResponse(http.StatusFound, "")
	redirect.Header.Set("Location", "/")
	transport.RegisterResponder("GET", "http://example.test/b5/", httpmock.ResponderFromResponse(redirect))
	transport.RegisterResponder("GET", "http://example.test/", httpmock.NewStringResponder(200, "<html>home</html>"))

	page, err := f.Get(context.Background(), ResourceDetail, "http://example.test/b5/", nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !page.Redirected {
		t.Fatalf("expected redirect")
	}
	if page.URL != "http://example.test/" {
		t.Fatalf("redirect url = %q", page.URL)
	}
	if len(page.Body) != 0 {
		t.Fatalf("redirected page must not carry a body, got %q", page.Body)
	}
	if got := transport.GetCallCountInfo()["GET http://example.test/"]; got != 0 {
		t.Fatalf("homepage fetched %d times, want 0", got)
	}
	if got := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("detail", "redirected")); got != 1 {
		t.Fatalf("redirected requests = %v, want 1", got)
	}
}

func TestFetcherGetFollowsSamePathRedirect(t *testing.T) {
	f, transport, _ := newTestFetcher(t)

	redirect := httpmock.NewStringResponse(http.StatusMovedPermanently, "")
	redirect.Header.Set("Location", "http://www.example.test/b1/")
	transport.RegisterResponder("GET", "http://example.test/b1/", httpmock.ResponderFromResponse(redirect))
	transport.RegisterResponder("GET", "http://www.example.test/b1/", httpmock.NewStringResponder(200, "book"))

	page, err := f.Get(context.Background(), ResourceDetail, "http://example.test/b1/", nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if page.Redirected {
		t.Fatalf("same-path redirect should be followed")
	}
	if string(page.Body) != "book" {
		t.Fatalf("body = %q", page.Body)
	}
	if page.URL != "http://www.example.test/b1/" {
		t.Fatalf("final url = %q", page.URL)
	}
}

func TestFetcherGetHTTPStatusClassification(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{status: http.StatusTooManyRequests, expected: "rate_limited"},
		{status: http.StatusForbidden, expected: "forbidden"},
		{status: http.StatusNotFound, expected: "not_found"},
		{status: http.StatusBadGateway, expected: "http_status"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			f, transport, metrics := newTestFetcher(t)
			transport.RegisterResponder("GET", "http://example.test/b1/", httpmock.NewStringResponder(tt.status, ""))

			_, err := f.Get(context.Background(), ResourceDetail, "http://example.test/b1/", nil)
			if err == nil {
				t.Fatalf("expected error for status %d", tt.status)
			}
			if !IsHTTPStatus(err) {
				t.Fatalf("expected http status error, got %v", err)
			}
			if IsTransient(err) {
				t.Fatalf("status %d must not be transient", tt.status)
			}
			if got := testutil.ToFloat64(metrics.ErrorsTotal.WithLabelValues(tt.expected)); got != 1 {
				t.Fatalf("expected %q classification for status %d", tt.expected, tt.status)
			}
		})
	}
}

func TestFetcherGetConnectionFailure(t *testing.T) {
	f, transport, metrics := newTestFetcher(t)
	transport.RegisterResponder("GET", "http://example.test/b1/",
		httpmock.NewErrorResponder(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}))

	_, err := f.Get(context.Background(), ResourceDetail, "http://example.test/b1/", nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if got := testutil.ToFloat64(metrics.ErrorsTotal.WithLabelValues("connection")); got != 1 {
		t.Fatalf("connection errors = %v, want 1", got)
	}
}

func TestFetcherGetCanceledContext(t *testing.T) {
	f, transport, _ := newTestFetcher(t)
	transport.RegisterResponder("GET", "http://example.test/b1/", httpmock.NewStringResponder(200, "ok"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Get(ctx, ResourceDetail, "http://example.test/b1/", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if transport.GetTotalCallCount() != 0 {
		t.Fatalf("no request should be issued after cancellation")
	}
}

func TestFetcherGetBodyCutShortIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hijacker, ok := w.(http.Hijacker)
		if !ok {
			t.Errorf("response writer cannot be hijacked")
			return
		}
		conn, buf, err := hijacker.Hijack()
		if err != nil {
			t.Errorf("hijack: %v", err)
			return
		}
		defer conn.Close()
		_, _ = buf.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 1000\r\n\r\npartial")
		_ = buf.Flush()
	}))
	defer server.Close()

	cfg := config.DefaultConfig()
	cfg.BaseURL = server.URL
	metrics := NewMetrics()
	f, err := NewFetcher(cfg, metrics)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}

	_, err = f.Get(context.Background(), ResourceText, server.URL+"/txt.php", url.Values{"id": {"1"}})
	if err == nil {
		t.Fatalf("expected error for a body cut short")
	}
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if got := testutil.ToFloat64(metrics.ErrorsTotal.WithLabelValues("connection")); got != 1 {
		t.Fatalf("connection errors = %v, want 1", got)
	}
}

func TestFetcherGetBodyReadErrorIsTransient(t *testing.T) {
	f, transport, _ := newTestFetcher(t)
	transport.RegisterResponder("GET", "http://example.test/txt.php?id=1", func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			Status:     "200 OK",
			StatusCode: http.StatusOK,
			Header:     http.Header{},
			Body:       io.NopCloser(iotest.ErrReader(io.ErrUnexpectedEOF)),
			Request:    req,
		}, nil
	})

	_, err := f.Get(context.Background(), ResourceText, "http://example.test/txt.php", url.Values{"id": {"1"}})
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected wrapped io.ErrUnexpectedEOF, got %v", err)
	}
}

// "Привет" in windows-1251.
var cp1251Hello = []byte{0xcf, 0xf0, 0xe8, 0xe2, 0xe5, 0xf2}

func cp1251Responder(contentType string) httpmock.Responder {
	resp := httpmock.NewBytesResponse(http.StatusOK, cp1251Hello)
	resp.Header.Set("Content-Type", contentType)
	return httpmock.ResponderFromResponse(resp)
}

func TestFetcherGetKeepsPayloadBytes(t *testing.T) {
	tests := []struct {
		name        string
		kind        Resource
		contentType string
	}{
		{name: "text with charset", kind: ResourceText, contentType: "text/plain; charset=windows-1251"},
		{name: "text with quoted charset", kind: ResourceText, contentType: `text/plain; charset="windows-1251"`},
		{name: "image with charset", kind: ResourceImage, contentType: "image/jpeg; charset=windows-1251"},
		{name: "malformed content type", kind: ResourceText, contentType: "text/plain; charset"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, transport, _ := newTestFetcher(t)
			transport.RegisterResponder("GET", "http://example.test/payload", cp1251Responder(tt.contentType))

			page, err := f.Get(context.Background(), tt.kind, "http://example.test/payload", nil)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if string(page.Body) != string(cp1251Hello) {
				t.Fatalf("body = % x, want % x", page.Body, cp1251Hello)
			}
		})
	}
}

func TestFetcherGetDecodesDetailPages(t *testing.T) {
	f, transport, _ := newTestFetcher(t)
	transport.RegisterResponder("GET", "http://example.test/b1/", cp1251Responder("text/html; charset=windows-1251"))

	page, err := f.Get(context.Background(), ResourceDetail, "http://example.test/b1/", nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(page.Body) != "Привет" {
		t.Fatalf("body = %q, want UTF-8 text", page.Body)
	}
}

func TestFetcherGetRejectsTruncatedBody(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BaseURL = "http://example.test"
	cfg.MaxBodySize = 8

	metrics := NewMetrics()
	f, err := NewFetcher(cfg, metrics)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	transport := httpmock.NewMockTransport()
	f.WithTransport(transport)
	transport.RegisterResponder("GET", "http://example.test/long", httpmock.NewStringResponder(200, "a body longer than eight bytes"))
	transport.RegisterResponder("GET", "http://example.test/short", httpmock.NewStringResponder(200, "short"))

	_, err = f.Get(context.Background(), ResourceText, "http://example.test/long", nil)
	var truncated ErrBodyTruncated
	if !errors.As(err, &truncated) {
		t.Fatalf("expected ErrBodyTruncated, got %v", err)
	}
	if truncated.Limit != 8 {
		t.Fatalf("limit = %d, want 8", truncated.Limit)
	}
	if IsTransient(err) || !IsUnusable(err) {
		t.Fatalf("truncated body must be unusable, not transient")
	}
	if got := testutil.ToFloat64(metrics.ErrorsTotal.WithLabelValues("truncated")); got != 1 {
		t.Fatalf("truncated errors = %v, want 1", got)
	}

	page, err := f.Get(context.Background(), ResourceText, "http://example.test/short", nil)
	if err != nil {
		t.Fatalf("body under the limit: %v", err)
	}
	if string(page.Body) != "short" {
		t.Fatalf("body = %q", page.Body)
	}
}

package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrHTTPStatus indicates a non-success, non-redirect response.
type ErrHTTPStatus struct {
	Code int
	URL  string
}

func (e ErrHTTPStatus) Error() string {
	return fmt.Sprintf("http status %d (%s) for %s", e.Code, http.StatusText(e.Code), e.URL)
}

// ErrForbidden indicates a forbidden response (HTTP 403).
type ErrForbidden struct {
	Err error
}

func (e ErrForbidden) Error() string {
	return fmt.Errorf("forbidden: %w", e.Err).Error()
}

func (e ErrForbidden) Unwrap() error {
	return e.Err
}

// ErrNotFound indicates a missing resource (HTTP 404).
type ErrNotFound struct {
	Err error
}

func (e ErrNotFound) Error() string {
	return fmt.Errorf("not_found: %w", e.Err).Error()
}

func (e ErrNotFound) Unwrap() error {
	return e.Err
}

// ErrRateLimited indicates the target rate-limited the request.
type ErrRateLimited struct {
	Err error
}

func (e ErrRateLimited) Error() string {
	return fmt.Errorf("rate_limited: %w", e.Err).Error()
}

func (e ErrRateLimited) Unwrap() error {
	return e.Err
}

// ErrBodyTruncated indicates a response body that reached the configured
// size limit and was cut off.
type ErrBodyTruncated struct {
	URL   string
	Limit int
}

func (e ErrBodyTruncated) Error() string {
	return fmt.Sprintf("response body for %s reached the %d byte limit", e.URL, e.Limit)
}

// IsTransient reports whether err is a connection-level failure that the
// batch should recover from by backing off and restarting.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return true
	}
	var conn ErrConnection
	return errors.As(err, &conn)
}

// IsHTTPStatus reports whether err carries an unexpected HTTP status.
func IsHTTPStatus(err error) bool {
	var status ErrHTTPStatus
	return errors.As(err, &status)
}

// IsUnusable reports whether the server answered but the payload cannot be
// used: an unexpected status or a truncated body.
func IsUnusable(err error) bool {
	var truncated ErrBodyTruncated
	return IsHTTPStatus(err) || errors.As(err, &truncated)
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var forbidden ErrForbidden
	if errors.As(err, &forbidden) {
		return "forbidden"
	}
	var notFound ErrNotFound
	if errors.As(err, &notFound) {
		return "not_found"
	}
	var rateLimited ErrRateLimited
	if errors.As(err, &rateLimited) {
		return "rate_limited"
	}
	var status ErrHTTPStatus
	if errors.As(err, &status) {
		return "http_status"
	}
	var truncated ErrBodyTruncated
	if errors.As(err, &truncated) {
		return "truncated"
	}
	return "other"
}

// classifyError maps a transport error or response status to the typed
// errors above. A nil result means the response can be used as is.
func classifyError(err error, statusCode int, rawURL string) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if err != nil && statusCode == 0 {
		if errors.Is(err, context.Canceled) {
			return err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout{Err: err}
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return ErrTimeout{Err: err}
		}
		// No status means the exchange never completed: a refused dial, a
		// reset, or a body cut short (io.ErrUnexpectedEOF).
		return ErrConnection{Err: err}
	}

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return nil
	}

	wrapped := ErrHTTPStatus{Code: statusCode, URL: rawURL}
	switch statusCode {
	case http.StatusForbidden:
		return ErrForbidden{Err: wrapped}
	case http.StatusNotFound:
		return ErrNotFound{Err: wrapped}
	case http.StatusTooManyRequests:
		return ErrRateLimited{Err: wrapped}
	}
	return wrapped
}

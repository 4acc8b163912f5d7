package audit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrInvalidSitemap reports malformed XML or a sitemap without usable URLs.
	ErrInvalidSitemap = errors.New("invalid sitemap")
	// ErrUnreachableSitemap reports a failed sitemap fetch, non-2xx status or non-XML content.
	ErrUnreachableSitemap = errors.New("unreachable sitemap")
	// ErrSitemapTooLarge reports an index expansion beyond the raw entry limit.
	ErrSitemapTooLarge = errors.New("sitemap too large")
	// ErrAnalysisFailed reports a structurally unusable document.
	ErrAnalysisFailed = errors.New("analysis failed")
	// ErrInvalidTransition reports a lifecycle change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrJobNotFound reports a lookup for an unknown job.
	ErrJobNotFound = errors.New("audit job not found")
	// ErrJobExists reports a duplicate job id on create.
	ErrJobExists = errors.New("audit job already exists")
	// ErrQueueClosed reports a run queue that no longer accepts or yields work.
	ErrQueueClosed = errors.New("queue closed")
)

// FetchErrorKind classifies fetch failures for retry decisions.
type FetchErrorKind string

// Fetch failure kinds.
const (
	FetchTimeout      FetchErrorKind = "timeout"
	FetchNetworkError FetchErrorKind = "network"
	FetchHTTPError    FetchErrorKind = "http"
)

// FetchError is returned by fetchers for every failed retrieval.
type FetchError struct {
	Kind   FetchErrorKind
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	switch {
	case e.Kind == FetchHTTPError:
		return fmt.Sprintf("fetch %s: http status %d", e.URL, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	default:
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Transient reports whether one more attempt may succeed. Timeouts and 4xx
// responses are permanent; connection-level failures and gateway errors are not.
func (e *FetchError) Transient() bool {
	switch e.Kind {
	case FetchNetworkError:
		return true
	case FetchHTTPError:
		return e.Status == http.StatusBadGateway ||
			e.Status == http.StatusServiceUnavailable ||
			e.Status == http.StatusGatewayTimeout
	default:
		return false
	}
}

// NewHTTPError builds a FetchError for a non-2xx response.
func NewHTTPError(url string, status int) *FetchError {
	return &FetchError{Kind: FetchHTTPError, URL: url, Status: status}
}

// ClassifyFetchError converts an arbitrary fetch failure into a FetchError.
func ClassifyFetchError(url string, err error) *FetchError {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{Kind: FetchTimeout, URL: url, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &FetchError{Kind: FetchTimeout, URL: url, Err: err}
	}
	return &FetchError{Kind: FetchNetworkError, URL: url, Err: err}
}

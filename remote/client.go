// Package remote fetches manifests and blobs over HTTP from a flat set of
// mirror origins, with strict response sanity checks.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// ErrNoMirrorsReachable is returned when every candidate origin failed.
var ErrNoMirrorsReachable = errors.New("no mirrors reachable")

// ErrHTMLResponse marks a response whose content type indicates an HTML
// document where a file was expected, the signature of captive portals
// and blocked-page substitutions.
var ErrHTMLResponse = errors.New("origin returned an HTML document")

// ErrSizeTooLarge marks a payload exceeding its declared or capped size.
var ErrSizeTooLarge = errors.New("payload exceeds size bound")

// ErrSizeMismatch marks a completed stream whose byte count differs from
// the manifest's declared size.
var ErrSizeMismatch = errors.New("payload size mismatch")

// ErrIntegrity marks a completed stream whose hash differs from the
// manifest's declared digest.
var ErrIntegrity = errors.New("payload hash mismatch")

// ErrorKind classifies fetch failures for retry policy.
type ErrorKind int

const (
	// KindTransient covers timeouts, 429, and 5xx, worth retrying with
	// backoff on non-canonical origins.
	KindTransient ErrorKind = iota
	// KindPermanent covers other 4xx: the origin doesn't have it; try
	// the next candidate path or origin, never retry here.
	KindPermanent
)

// FetchError wraps a failed fetch with its origin and retry class.
type FetchError struct {
	Kind   ErrorKind
	Origin string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch from %s: %v", e.Origin, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsTransient returns true for errors worth a backoff retry.
func IsTransient(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind == KindTransient
	}
	// Raw transport errors (connection refused, timeouts) are transient.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// classifyStatus maps an HTTP status to a retry class.
func classifyStatus(code int) ErrorKind {
	if code == http.StatusTooManyRequests || code >= 500 {
		return KindTransient
	}
	return KindPermanent
}

// isHTMLResponse reports whether the response declares an HTML body.
func isHTMLResponse(resp *http.Response) bool {
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

// Client is the shared HTTP client for all mirror traffic. Redirects are
// followed; the final origin is reported to callers so the serving mirror
// can be preferred for subsequent requests.
type Client struct {
	http *http.Client
}

// NewClient builds a client with sane connection pooling for many small
// parallel transfers.
func NewClient() *Client {
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        64,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Get issues a GET with an optional per-request timeout layered on ctx.
// The caller owns the response body; closing it releases the timeout.
// Non-2xx responses are closed and returned as a FetchError.
func (c *Client) Get(ctx context.Context, url string, timeout time.Duration) (*http.Response, error) {
	return c.get(ctx, url, timeout)
}

// get issues a GET with a per-request timeout layered on ctx. The caller
// owns the response body. Non-2xx responses are drained, closed, and
// returned as a FetchError.
func (c *Client) get(ctx context.Context, url string, timeout time.Duration) (*http.Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		// The body outlives this function; tie cancel to body close via
		// the response wrapper below.
		resp, err := c.do(ctx, url)
		if err != nil {
			cancel()
			return nil, err
		}
		resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}
	return c.do(ctx, url)
}

func (c *Client) do(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", "packwright/"+userAgentVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &FetchError{
			Kind:   classifyStatus(resp.StatusCode),
			Origin: originOf(resp.Request.URL.String()),
			Err:    fmt.Errorf("unexpected status %s", resp.Status),
		}
	}
	return resp, nil
}

const userAgentVersion = "0.4"

// cancelBody releases the request's timeout context when the body closes.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// originOf reduces a URL to scheme://host.
func originOf(rawURL string) string {
	rest, ok := strings.CutPrefix(rawURL, "https://")
	scheme := "https://"
	if !ok {
		rest, ok = strings.CutPrefix(rawURL, "http://")
		scheme = "http://"
		if !ok {
			return rawURL
		}
	}
	host, _, _ := strings.Cut(rest, "/")
	return scheme + host
}

// joinURL joins an origin and a relative path with exactly one slash.
func joinURL(origin, rel string) string {
	return strings.TrimRight(origin, "/") + "/" + strings.TrimLeft(rel, "/")
}

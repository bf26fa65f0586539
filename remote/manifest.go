package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/packwright/packwright/log"
	"github.com/packwright/packwright/mirror"
	"github.com/packwright/packwright/types"
)

// manifestSizeCap bounds the manifest document; anything bigger is a
// blocked-page or a misconfigured origin, not a manifest.
const manifestSizeCap = 8 << 20

// primaryTimeouts are the two attempts given to the declared primary
// origin before the mirror race starts. Short, increasing: the primary is
// expected to be occasionally slow, not unhealthy, so neither failure
// penalizes its score.
var primaryTimeouts = []time.Duration{6 * time.Second, 12 * time.Second}

// raceTimeout bounds each candidate request inside the mirror race; the
// race as a whole ends the instant one candidate succeeds.
const raceTimeout = 15 * time.Second

// defaultCDNMarkers identify "known fast" CDN-class hosts, launched ahead
// of ordinary mirrors in the race.
var defaultCDNMarkers = []string{"cdn.", ".b-cdn.net", "cloudfront.net", "fastly", "r2.dev"}

// Fetcher retrieves and parses the authoritative pack manifest.
type Fetcher struct {
	client     *Client
	tracker    *mirror.Tracker
	log        *log.Logger
	cdnMarkers []string
	// manifestPath is the origin-relative path of the manifest document.
	manifestPath string
}

// NewFetcher creates a manifest fetcher. cdnMarkers may be nil to use the
// built-in list.
func NewFetcher(client *Client, tracker *mirror.Tracker, logger *log.Logger, manifestPath string, cdnMarkers []string) *Fetcher {
	if len(cdnMarkers) == 0 {
		cdnMarkers = defaultCDNMarkers
	}
	return &Fetcher{
		client:       client,
		tracker:      tracker,
		log:          logger,
		cdnMarkers:   cdnMarkers,
		manifestPath: manifestPath,
	}
}

// raceResult carries one candidate's outcome out of the mirror race.
type raceResult struct {
	origin   string // origin that actually served, post-redirect
	manifest *types.Manifest
	elapsed  time.Duration
	size     int64
	err      error
	launched string // origin the request was sent to, for score bookkeeping
}

// Fetch retrieves the manifest, trying the declared primary first and
// then racing the remaining mirrors. Returns the origin that served the
// manifest (after following redirects) so callers can prefer it for blob
// traffic. Fails with ErrNoMirrorsReachable when every origin fails.
func (f *Fetcher) Fetch(ctx context.Context, primary string, mirrors []string) (string, *types.Manifest, error) {
	if primary != "" {
		for _, timeout := range primaryTimeouts {
			origin, m, elapsed, size, err := f.fetchOne(ctx, primary, timeout)
			if err == nil {
				f.tracker.RecordSuccess(primary, mirror.ClassManifest, elapsed, size)
				return origin, m, nil
			}
			if ctx.Err() != nil {
				return "", nil, ctx.Err()
			}
			// No score penalty for the primary; a local network blip must
			// not poison it for every later ordering decision.
			f.log.Debug("primary manifest attempt failed",
				zap.String("origin", primary),
				zap.Duration("timeout", timeout),
				zap.Error(err))
		}
	}

	candidates := make([]string, 0, len(mirrors))
	for _, m := range mirrors {
		if m != primary && m != "" {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return "", nil, ErrNoMirrorsReachable
	}

	return f.race(ctx, candidates)
}

// race fetches from all candidates in parallel and takes the first valid
// response, cancelling the losers. CDN-class origins are launched first,
// each group ordered by health score. Launch order is a tiebreak, not a
// filter: every candidate still runs.
func (f *Fetcher) race(ctx context.Context, candidates []string) (string, *types.Manifest, error) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var cdn, rest []string
	for _, c := range candidates {
		if f.isCDN(c) {
			cdn = append(cdn, c)
		} else {
			rest = append(rest, c)
		}
	}
	launch := append(f.tracker.Order(cdn, mirror.ClassManifest), f.tracker.Order(rest, mirror.ClassManifest)...)

	results := make(chan raceResult, len(launch))
	for _, origin := range launch {
		go func(origin string) {
			served, m, elapsed, size, err := f.fetchOne(raceCtx, origin, raceTimeout)
			results <- raceResult{origin: served, manifest: m, elapsed: elapsed, size: size, err: err, launched: origin}
		}(origin)
	}

	var errs []error
	for range launch {
		select {
		case <-ctx.Done():
			return "", nil, ctx.Err()
		case res := <-results:
			if res.err != nil {
				// Cancellation of losers is not a health signal.
				if raceCtx.Err() == nil || ctx.Err() != nil {
					f.tracker.RecordFailure(res.launched, mirror.ClassManifest)
					errs = append(errs, res.err)
				}
				continue
			}
			f.tracker.RecordSuccess(res.launched, mirror.ClassManifest, res.elapsed, res.size)
			cancel()
			return res.origin, res.manifest, nil
		}
	}
	return "", nil, fmt.Errorf("%w: %w", ErrNoMirrorsReachable, errors.Join(errs...))
}

// fetchOne retrieves and decodes the manifest from a single origin.
func (f *Fetcher) fetchOne(ctx context.Context, origin string, timeout time.Duration) (string, *types.Manifest, time.Duration, int64, error) {
	start := time.Now()
	resp, err := f.client.get(ctx, joinURL(origin, f.manifestPath), timeout)
	if err != nil {
		return "", nil, 0, 0, err
	}
	defer resp.Body.Close()

	if isHTMLResponse(resp) {
		return "", nil, 0, 0, &FetchError{Kind: KindPermanent, Origin: origin, Err: ErrHTMLResponse}
	}
	if resp.ContentLength > manifestSizeCap {
		return "", nil, 0, 0, &FetchError{Kind: KindPermanent, Origin: origin, Err: ErrSizeTooLarge}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, manifestSizeCap+1))
	if err != nil {
		return "", nil, 0, 0, &FetchError{Kind: KindTransient, Origin: origin, Err: err}
	}
	if len(body) > manifestSizeCap {
		return "", nil, 0, 0, &FetchError{Kind: KindPermanent, Origin: origin, Err: ErrSizeTooLarge}
	}
	// A leading '<' is an HTML document regardless of declared type.
	if trimmed := strings.TrimSpace(string(body)); strings.HasPrefix(trimmed, "<") {
		return "", nil, 0, 0, &FetchError{Kind: KindPermanent, Origin: origin, Err: ErrHTMLResponse}
	}

	var m types.Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return "", nil, 0, 0, &FetchError{Kind: KindPermanent, Origin: origin, Err: fmt.Errorf("invalid manifest JSON: %w", err)}
	}

	served := originOf(resp.Request.URL.String())
	return served, &m, time.Since(start), int64(len(body)), nil
}

func (f *Fetcher) isCDN(origin string) bool {
	lowered := strings.ToLower(origin)
	for _, marker := range f.cdnMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

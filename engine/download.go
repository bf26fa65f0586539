package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/packwright/packwright/remote"
	"github.com/packwright/packwright/types"
)

// blobMaxRetries bounds backoff retries for transient errors against a
// single origin before failing over to the next one.
const blobMaxRetries = 2

func newBlobBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 30 * time.Second
	return bo
}

// downloadFile walks the origin preference list, trying each blob path
// variant per origin. Permanent errors (404 and friends) move to the next
// variant immediately; transient errors get a backoff retry on the same
// origin, and once exhausted the whole origin is abandoned.
func (o *Orchestrator) downloadFile(ctx context.Context, f types.PackFile, dest string, origins []string) (remote.Outcome, error) {
	variants := remote.BlobPathVariants(f, o.isUserMutable(f.Path))
	var errs []error

	for i, origin := range origins {
		if i > 0 {
			o.collector.IncOriginFailover()
		}
		for _, variant := range variants {
			var outcome remote.Outcome
			op := func() error {
				var err error
				outcome, err = o.downloader.Download(ctx, origin, variant, f, dest)
				if err == nil {
					return nil
				}
				if remote.IsTransient(err) {
					return err
				}
				return backoff.Permanent(err)
			}
			notify := func(err error, next time.Duration) {
				o.collector.IncDownloadRetry()
				o.log.Debug("transient download failure, retrying",
					zap.String("path", f.Path),
					zap.String("origin", origin),
					zap.Duration("backoff", next),
					zap.Error(err))
			}
			bo := backoff.WithContext(backoff.WithMaxRetries(newBlobBackOff(), blobMaxRetries), ctx)

			err := backoff.RetryNotify(op, bo, notify)
			if err == nil {
				return outcome, nil
			}
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			errs = append(errs, err)
			if remote.IsTransient(err) {
				// The origin itself is unhealthy; other path variants on
				// it will fare no better.
				break
			}
		}
	}
	return 0, fmt.Errorf("download %s: %w: %w", f.Path, remote.ErrNoMirrorsReachable, errors.Join(errs...))
}

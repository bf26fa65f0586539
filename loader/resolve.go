package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/packwright/packwright/iox"
	"github.com/packwright/packwright/mirror"
	"github.com/packwright/packwright/remote"
)

// source is one candidate location for the installer JAR. Canonical
// sources get a short timeout and zero retries; they are known to hang
// from some networks rather than fail cleanly.
type source struct {
	url       string
	origin    string
	canonical bool
}

// resolveSources builds the candidate list for an installer URL: mirrors
// carrying the upstream tree first (ordered by blob health score), then
// the source-archive fallback, then the canonical upstream dead last.
func (i *Installer) resolveSources(installerURL string) ([]source, error) {
	parsed, err := url.Parse(installerURL)
	if err != nil {
		return nil, fmt.Errorf("parse installer url %q: %w", installerURL, err)
	}
	relPath := strings.TrimLeft(parsed.Path, "/")

	var sources []source
	for _, m := range i.tracker.Order(i.opts.Mirrors, mirror.ClassBlob) {
		sources = append(sources, source{
			url:    strings.TrimRight(m, "/") + "/" + relPath,
			origin: m,
		})
	}
	if i.opts.ArchiveBase != "" {
		sources = append(sources, source{
			url:    strings.TrimRight(i.opts.ArchiveBase, "/") + "/" + relPath,
			origin: i.opts.ArchiveBase,
		})
	}
	sources = append(sources, source{
		url:       installerURL,
		origin:    parsed.Scheme + "://" + parsed.Host,
		canonical: true,
	})
	return sources, nil
}

// cachedJarPath is where the downloaded installer lands in the cache.
func (i *Installer) cachedJarPath(installerURL string) string {
	name := path.Base(installerURL)
	if name == "" || name == "." || name == "/" {
		name = "installer.jar"
	}
	return filepath.Join(i.opts.CacheDir, "installers", name)
}

// downloadInstaller fetches the installer JAR, trying each source in
// order. The body has no published digest, so verification is structural:
// non-HTML, non-empty, and a readable zip archive.
func (i *Installer) downloadInstaller(ctx context.Context, installerURL string) (string, error) {
	dest := i.cachedJarPath(installerURL)
	if ok, _ := isZip(dest); ok {
		return dest, nil
	}

	sources, err := i.resolveSources(installerURL)
	if err != nil {
		return "", err
	}

	var errs []error
	for _, src := range sources {
		jar, err := i.fetchJar(ctx, src, dest)
		if err == nil {
			return jar, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		i.tracker.RecordFailure(src.origin, mirror.ClassBlob)
		errs = append(errs, err)
		i.log.Debug("installer source failed",
			zap.String("url", src.url),
			zap.Error(err))
	}
	return "", fmt.Errorf("%w: %w", remote.ErrNoMirrorsReachable, errors.Join(errs...))
}

// fetchJar downloads one candidate into dest via a temp file.
func (i *Installer) fetchJar(ctx context.Context, src source, dest string) (string, error) {
	timeout := time.Duration(0)
	if src.canonical {
		timeout = canonicalTimeout
	}

	start := time.Now()
	resp, err := i.client.Get(ctx, src.url, timeout)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if ct := strings.ToLower(resp.Header.Get("Content-Type")); strings.Contains(ct, "text/html") {
		return "", &remote.FetchError{Kind: remote.KindPermanent, Origin: src.origin, Err: remote.ErrHTMLResponse}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".part-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	discard := func() {
		iox.DiscardClose(tmp)
		_ = os.Remove(tmpName)
	}

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		discard()
		return "", &remote.FetchError{Kind: remote.KindTransient, Origin: src.origin, Err: err}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}
	if n == 0 {
		_ = os.Remove(tmpName)
		return "", &remote.FetchError{Kind: remote.KindPermanent, Origin: src.origin, Err: errors.New("empty installer body")}
	}
	if ok, zerr := isZip(tmpName); !ok {
		_ = os.Remove(tmpName)
		return "", &remote.FetchError{Kind: remote.KindPermanent, Origin: src.origin, Err: fmt.Errorf("not a jar archive: %w", zerr)}
	}

	if err := iox.ReplaceFile(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}
	if !src.canonical {
		i.tracker.RecordSuccess(src.origin, mirror.ClassBlob, time.Since(start), n)
	}
	return dest, nil
}

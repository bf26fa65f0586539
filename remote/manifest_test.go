package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/packwright/packwright/log"
	"github.com/packwright/packwright/mirror"
)

var testManifestJSON = `{
	"packId": "demo",
	"packVersion": "1.2.0",
	"files": [
		{"path": "mods/a.jar", "sha256": "` + strings.Repeat("ab", 32) + `", "size": 10}
	]
}`

func manifestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pack.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(testManifestJSON))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newFetcher(tr *mirror.Tracker) *Fetcher {
	return NewFetcher(NewClient(), tr, log.NewNop(), "pack.json", nil)
}

func TestFetcher_PrimaryServes(t *testing.T) {
	srv := manifestServer(t)
	f := newFetcher(mirror.NewTracker())

	origin, m, err := f.Fetch(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if origin != srv.URL {
		t.Errorf("serving origin = %q, want %q", origin, srv.URL)
	}
	if m.PackID != "demo" || m.Version != "1.2.0" {
		t.Errorf("manifest = %+v", m)
	}
}

func TestFetcher_PrimaryDownFallsToMirrors(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer down.Close()
	srv := manifestServer(t)

	tr := mirror.NewTracker()
	f := newFetcher(tr)

	origin, m, err := f.Fetch(context.Background(), down.URL, []string{srv.URL})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if origin != srv.URL {
		t.Errorf("serving origin = %q, want mirror %q", origin, srv.URL)
	}
	if m == nil {
		t.Fatal("manifest is nil")
	}

	// Primary failures carry no score penalty.
	snap := tr.Snapshot(false)
	if stat, ok := snap[down.URL]; ok && stat.Manifest.Failure > 0 {
		t.Errorf("primary was penalized: %+v", stat.Manifest)
	}
}

func TestFetcher_RaceRejectsHTML(t *testing.T) {
	portal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>sign in to continue</html>"))
	}))
	defer portal.Close()
	srv := manifestServer(t)

	f := newFetcher(mirror.NewTracker())
	origin, _, err := f.Fetch(context.Background(), "", []string{portal.URL, srv.URL})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if origin != srv.URL {
		t.Errorf("serving origin = %q, HTML origin must lose", origin)
	}
}

func TestFetcher_RejectsUndeclaredHTMLBody(t *testing.T) {
	// Declared JSON, actual HTML: the body sniff must still reject it.
	sneaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("<!DOCTYPE html><html></html>"))
	}))
	defer sneaky.Close()

	f := newFetcher(mirror.NewTracker())
	_, _, err := f.Fetch(context.Background(), "", []string{sneaky.URL})
	if !errors.Is(err, ErrNoMirrorsReachable) {
		t.Fatalf("err = %v, want ErrNoMirrorsReachable", err)
	}
	if !errors.Is(err, ErrHTMLResponse) {
		t.Errorf("err = %v, want wrapped ErrHTMLResponse", err)
	}
}

func TestFetcher_AllOriginsFail(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer down.Close()

	tr := mirror.NewTracker()
	f := newFetcher(tr)
	_, _, err := f.Fetch(context.Background(), "", []string{down.URL})
	if !errors.Is(err, ErrNoMirrorsReachable) {
		t.Fatalf("err = %v, want ErrNoMirrorsReachable", err)
	}

	snap := tr.Snapshot(false)
	if snap[down.URL].Manifest.Failure != 1 {
		t.Errorf("race loser failure count = %d, want 1", snap[down.URL].Manifest.Failure)
	}
}

func TestFetcher_NoCandidates(t *testing.T) {
	f := newFetcher(mirror.NewTracker())
	_, _, err := f.Fetch(context.Background(), "", nil)
	if !errors.Is(err, ErrNoMirrorsReachable) {
		t.Fatalf("err = %v, want ErrNoMirrorsReachable", err)
	}
}

func TestFetcher_ReportsRedirectTarget(t *testing.T) {
	backend := manifestServer(t)
	front := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, backend.URL+r.URL.Path, http.StatusFound)
	}))
	defer front.Close()

	f := newFetcher(mirror.NewTracker())
	origin, _, err := f.Fetch(context.Background(), front.URL, nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if origin != backend.URL {
		t.Errorf("serving origin = %q, want post-redirect %q", origin, backend.URL)
	}
}

// Package mirror tracks per-origin health for manifest and blob traffic
// and orders candidate origins by score.
package mirror

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Class separates manifest traffic from blob traffic. A mirror that
// serves tiny manifests quickly may still be slow for bulk payloads, so
// scores are kept per class.
type Class string

const (
	ClassManifest Class = "manifest"
	ClassBlob     Class = "blob"
)

// ewmaAlpha weights recent samples so a degrading mirror is demoted
// within a handful of requests, while a single outlier success doesn't
// instantly promote a bad one.
const ewmaAlpha = 0.30

// ClassStat is the persisted per-class record for one origin.
type ClassStat struct {
	// Score is the EWMA of elapsed time per MiB, in milliseconds.
	// 0 means never probed.
	Score float64 `json:"score"`
	// Success and Failure count completed probes.
	Success int64 `json:"success"`
	Failure int64 `json:"failure"`
	// LastSuccess is the time of the most recent successful fetch.
	LastSuccess time.Time `json:"lastSuccess,omitempty"`
}

// OriginStat holds both traffic classes for one origin.
type OriginStat struct {
	Manifest ClassStat `json:"manifest"`
	Blob     ClassStat `json:"blob"`
}

// Tracker maintains health scores for every origin seen this run.
// Thread-safe for concurrent access. The origin set only grows and is
// bounded by configuration, so entries are never evicted.
type Tracker struct {
	mu    sync.Mutex
	stats map[string]*OriginStat
	dirty bool
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{stats: make(map[string]*OriginStat)}
}

// NewTrackerFrom creates a tracker seeded with previously persisted stats.
func NewTrackerFrom(seed map[string]OriginStat) *Tracker {
	t := NewTracker()
	for origin, stat := range seed {
		s := stat
		t.stats[origin] = &s
	}
	return t
}

func (t *Tracker) class(origin string, class Class) *ClassStat {
	stat, ok := t.stats[origin]
	if !ok {
		stat = &OriginStat{}
		t.stats[origin] = stat
	}
	if class == ClassManifest {
		return &stat.Manifest
	}
	return &stat.Blob
}

// RecordSuccess folds a successful fetch into the origin's score.
// The sample is normalized to elapsed time per MiB so a 1 KB manifest and
// a 50 MB blob remain comparable; payloads under 1 MiB are scored as one
// MiB to keep tiny fetches from producing wild samples.
func (t *Tracker) RecordSuccess(origin string, class Class, elapsed time.Duration, bytes int64) {
	const mib = 1 << 20
	size := float64(bytes)
	if size < mib {
		size = mib
	}
	sample := float64(elapsed.Milliseconds()) / (size / mib)

	t.mu.Lock()
	defer t.mu.Unlock()
	stat := t.class(origin, class)
	if stat.Score <= 0 {
		stat.Score = sample
	} else {
		stat.Score = stat.Score*(1-ewmaAlpha) + sample*ewmaAlpha
	}
	stat.Success++
	stat.LastSuccess = time.Now()
	t.dirty = true
}

// RecordFailure counts a failed fetch against the origin.
func (t *Tracker) RecordFailure(origin string, class Class) {
	t.mu.Lock()
	defer t.mu.Unlock()
	stat := t.class(origin, class)
	stat.Failure++
	t.dirty = true
}

// score returns the effective ordering score: unprobed origins sort last.
func (t *Tracker) score(origin string, class Class) float64 {
	stat, ok := t.stats[origin]
	if !ok {
		return math.Inf(1)
	}
	cs := stat.Manifest
	if class == ClassBlob {
		cs = stat.Blob
	}
	if cs.Score <= 0 {
		return math.Inf(1)
	}
	return cs.Score
}

// Order returns origins sorted ascending by health score for the given
// class. Origins never probed carry a +Inf sentinel and therefore come
// after every known-good origin; ties preserve the input order.
func (t *Tracker) Order(origins []string, class Class) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ordered := make([]string, len(origins))
	copy(ordered, origins)
	sort.SliceStable(ordered, func(i, j int) bool {
		return t.score(ordered[i], class) < t.score(ordered[j], class)
	})
	return ordered
}

// Snapshot returns a copy of all stats for persistence or display, and
// clears the dirty flag when take is true.
func (t *Tracker) Snapshot(take bool) map[string]OriginStat {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]OriginStat, len(t.stats))
	for origin, stat := range t.stats {
		out[origin] = *stat
	}
	if take {
		t.dirty = false
	}
	return out
}

// Dirty reports whether stats changed since the last taken snapshot.
func (t *Tracker) Dirty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dirty
}

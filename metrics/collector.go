// Package metrics accumulates per-run sync counters.
//
// The Collector is a leaf package with no internal dependencies. Counters
// are recorded live by the engine and downloader call sites; Snapshot is
// taken once at run completion for the final report.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of the run's counters.
// Safe to read concurrently after creation.
type Snapshot struct {
	// Per-file outcomes
	FilesVerified   int64 // matched without download
	FilesDownloaded int64
	FilesPending    int64 // parked as .pending sidecars
	FilesSkipped    int64 // user-mutable paths left alone
	FilesFailed     int64
	FilesDeleted    int64
	FilesPruned     int64

	// Transfer
	BytesDownloaded int64
	HashesComputed  int64 // full-content hashes, cache misses

	// Fetch attempts
	DownloadRetries int64
	OriginFailovers int64

	// Dimensions (informational, set at construction)
	PackID    string
	SessionID string
}

// Collector accumulates counters during a single sync run.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	filesVerified   int64
	filesDownloaded int64
	filesPending    int64
	filesSkipped    int64
	filesFailed     int64
	filesDeleted    int64
	filesPruned     int64

	bytesDownloaded int64
	hashesComputed  int64

	downloadRetries int64
	originFailovers int64

	packID    string
	sessionID string
}

// NewCollector creates a Collector labelled with the run's dimensions.
func NewCollector(packID, sessionID string) *Collector {
	return &Collector{packID: packID, sessionID: sessionID}
}

func (c *Collector) inc(field *int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

// IncFileVerified records a file that matched without a download.
func (c *Collector) IncFileVerified() {
	if c == nil {
		return
	}
	c.inc(&c.filesVerified)
}

// IncFileDownloaded records a file fetched and placed, adding its bytes.
func (c *Collector) IncFileDownloaded(bytes int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.filesDownloaded++
	c.bytesDownloaded += bytes
	c.mu.Unlock()
}

// IncFilePending records a file parked as a .pending sidecar.
func (c *Collector) IncFilePending() {
	if c == nil {
		return
	}
	c.inc(&c.filesPending)
}

// IncFileSkipped records a user-mutable file deliberately left alone.
func (c *Collector) IncFileSkipped() {
	if c == nil {
		return
	}
	c.inc(&c.filesSkipped)
}

// IncFileFailed records a file that exhausted all origins.
func (c *Collector) IncFileFailed() {
	if c == nil {
		return
	}
	c.inc(&c.filesFailed)
}

// IncFileDeleted records a manifest-directed deletion.
func (c *Collector) IncFileDeleted() {
	if c == nil {
		return
	}
	c.inc(&c.filesDeleted)
}

// IncFilePruned records a file swept from a pruned subtree.
func (c *Collector) IncFilePruned() {
	if c == nil {
		return
	}
	c.inc(&c.filesPruned)
}

// IncHashComputed records a full-content hash (a verification cache miss).
func (c *Collector) IncHashComputed() {
	if c == nil {
		return
	}
	c.inc(&c.hashesComputed)
}

// IncDownloadRetry records a backoff retry against the same origin.
func (c *Collector) IncDownloadRetry() {
	if c == nil {
		return
	}
	c.inc(&c.downloadRetries)
}

// IncOriginFailover records a move to the next candidate origin.
func (c *Collector) IncOriginFailover() {
	if c == nil {
		return
	}
	c.inc(&c.originFailovers)
}

// Snapshot returns an immutable view of all counters. The Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		FilesVerified:   c.filesVerified,
		FilesDownloaded: c.filesDownloaded,
		FilesPending:    c.filesPending,
		FilesSkipped:    c.filesSkipped,
		FilesFailed:     c.filesFailed,
		FilesDeleted:    c.filesDeleted,
		FilesPruned:     c.filesPruned,

		BytesDownloaded: c.bytesDownloaded,
		HashesComputed:  c.hashesComputed,

		DownloadRetries: c.downloadRetries,
		OriginFailovers: c.originFailovers,

		PackID:    c.packID,
		SessionID: c.sessionID,
	}
}

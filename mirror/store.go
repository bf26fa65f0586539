package mirror

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/packwright/packwright/iox"
)

// persistMinInterval rate-limits opportunistic stat writes so a busy sync
// doesn't thrash the disk. Persistence is advisory: a crash loses at most
// a few recent samples and no invariant depends on it being current.
const persistMinInterval = 5 * time.Second

// statsDocument is the on-disk shape of mirror_stats.json.
type statsDocument struct {
	Version int                   `json:"version"`
	Origins map[string]OriginStat `json:"origins"`
}

// Store persists tracker snapshots to mirror_stats.json.
type Store struct {
	path string

	mu        sync.Mutex
	lastWrite time.Time
}

// NewStore creates a store writing to path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads previously persisted stats. A missing file yields an empty
// map; a corrupt file is discarded rather than failing the sync.
func (s *Store) Load() (map[string]OriginStat, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]OriginStat{}, nil
		}
		return nil, fmt.Errorf("read mirror stats: %w", err)
	}

	var doc statsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		// Advisory data; start fresh instead of blocking the sync.
		return map[string]OriginStat{}, nil
	}
	if doc.Origins == nil {
		doc.Origins = map[string]OriginStat{}
	}
	return doc.Origins, nil
}

// MaybeSave persists the tracker's snapshot if it is dirty and the
// rate-limit window has elapsed.
func (s *Store) MaybeSave(t *Tracker) error {
	s.mu.Lock()
	elapsed := time.Since(s.lastWrite)
	s.mu.Unlock()

	if elapsed < persistMinInterval || !t.Dirty() {
		return nil
	}
	return s.Save(t)
}

// Save unconditionally persists the tracker's snapshot. Called at the end
// of every successful sync.
func (s *Store) Save(t *Tracker) error {
	doc := statsDocument{
		Version: 1,
		Origins: t.Snapshot(true),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode mirror stats: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := iox.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("persist mirror stats: %w", err)
	}
	s.lastWrite = time.Now()
	return nil
}

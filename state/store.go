// Package state persists the per-pack verification cache between runs.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/packwright/packwright/iox"
	"github.com/packwright/packwright/types"
)

// stateVersion is bumped when the on-disk shape changes incompatibly.
// Older or unknown versions are discarded, forcing a full re-verify.
const stateVersion = 1

type stateDocument struct {
	Version int              `json:"version"`
	State   *types.PackState `json:"state"`
}

// Store reads and writes pack_state.json. All access goes through one
// mutex so concurrent save paths (periodic checkpoint, final write) never
// interleave.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a store backed by the given path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the cached state for packID. A missing, corrupt, or
// mismatched-pack file yields a fresh empty state rather than an error:
// the cache only saves hashing work, it is never authoritative.
func (s *Store) Load(packID string) (*types.PackState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.NewPackState(packID), nil
		}
		return nil, fmt.Errorf("read pack state: %w", err)
	}

	var doc stateDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return types.NewPackState(packID), nil
	}
	if doc.Version != stateVersion || doc.State == nil || doc.State.PackID != packID {
		return types.NewPackState(packID), nil
	}
	if doc.State.Files == nil {
		doc.State.Files = make(map[string]types.FileRecord)
	}
	return doc.State, nil
}

// Save atomically persists st.
func (s *Store) Save(st *types.PackState) error {
	doc := stateDocument{Version: stateVersion, State: st}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode pack state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := iox.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("persist pack state: %w", err)
	}
	return nil
}

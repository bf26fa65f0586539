package types

import "time"

// FileRecord is the last-verified observation of one local file. A record
// is trusted without re-hashing only when both size and mtime still match
// the file on disk exactly.
type FileRecord struct {
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
	// MtimeUnixNano is the file's last-write time at verification.
	MtimeUnixNano int64 `json:"lastWriteUnixNano"`
}

// Matches reports whether the cached record still describes a file with
// the given size and mtime.
func (r FileRecord) Matches(size int64, mtime time.Time) bool {
	return r.Size == size && r.MtimeUnixNano == mtime.UnixNano()
}

// PackState is the local durable cache for one pack installation. Entries
// are written only after a file is verified to match or freshly placed.
type PackState struct {
	PackID string `json:"packId"`
	// AppliedManifest is the identity of the last fully applied manifest.
	// Deliberately left stale while pending sidecars remain so the next
	// run retries reconciliation.
	AppliedManifest string `json:"appliedManifest,omitempty"`
	// Files maps normalized relative path to its last-verified record.
	Files map[string]FileRecord `json:"files"`
}

// NewPackState returns an empty state for the given pack.
func NewPackState(packID string) *PackState {
	return &PackState{
		PackID: packID,
		Files:  make(map[string]FileRecord),
	}
}

// Record stores the verification record for path.
func (s *PackState) Record(path string, rec FileRecord) {
	if s.Files == nil {
		s.Files = make(map[string]FileRecord)
	}
	s.Files[path] = rec
}

// Lookup returns the cached record for path.
func (s *PackState) Lookup(path string) (FileRecord, bool) {
	rec, ok := s.Files[path]
	return rec, ok
}

// Forget drops the cached record for path.
func (s *PackState) Forget(path string) {
	delete(s.Files, path)
}

// PruneTo drops records for paths no longer in the wanted set and returns
// the removed paths.
func (s *PackState) PruneTo(wanted map[string]struct{}) []string {
	var removed []string
	for path := range s.Files {
		if _, ok := wanted[path]; !ok {
			delete(s.Files, path)
			removed = append(removed, path)
		}
	}
	return removed
}

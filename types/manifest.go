package types

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// EmptyFileSHA256 is the well-known digest of zero bytes. A manifest entry
// with size 0 must carry exactly this hash.
const EmptyFileSHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// DefaultAllowedRoots are the top-level directories manifest paths may
// resolve under when the config does not override them.
var DefaultAllowedRoots = []string{"mods/", "config/", "resourcepacks/", "scripts/", "kubejs/"}

var sha256Pattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// PackFile is one manifest entry: a relative destination path plus the
// content address of its body.
type PackFile struct {
	// Path is the destination path relative to the instance root,
	// forward-slash separated.
	Path string `json:"path"`
	// SHA256 is the lowercase hex digest of the file body.
	SHA256 string `json:"sha256"`
	// Size is the body length in bytes.
	Size int64 `json:"size"`
	// Blob optionally overrides the mirror-relative blob path.
	Blob string `json:"blob,omitempty"`
}

// BlobPath returns the mirror-relative path the body is served from.
// Defaults to the content-addressed layout blobs/<hash[0:2]>/<hash>.
func (f PackFile) BlobPath() string {
	if f.Blob != "" {
		return strings.TrimLeft(f.Blob, "/")
	}
	return fmt.Sprintf("blobs/%s/%s", f.SHA256[:2], f.SHA256)
}

// IsEmpty reports whether the entry describes a zero-byte file.
func (f PackFile) IsEmpty() bool {
	return f.Size == 0 && f.SHA256 == EmptyFileSHA256
}

// Manifest is the server-published description of the desired file set
// for one pack build. Fetched fresh on every sync; never persisted
// verbatim (only its identity string is cached).
type Manifest struct {
	PackID  string     `json:"packId"`
	Channel string     `json:"channel,omitempty"`
	Version string     `json:"packVersion"`
	Build   string     `json:"build,omitempty"`
	Files   []PackFile `json:"files"`
	// Mirrors optionally narrows/extends the blob mirror candidate set.
	Mirrors []string `json:"mirrors,omitempty"`
	// Delete lists exact relative paths to remove after a sync.
	Delete []string `json:"delete,omitempty"`
	// Prune lists subtree roots to sweep of unwanted files after a sync.
	Prune []string `json:"prune,omitempty"`
}

// manifestAlias mirrors Manifest for two-field version decoding. The wire
// format historically used "version"; newer publishers emit "packVersion".
type manifestAlias struct {
	PackID      string     `json:"packId"`
	Channel     string     `json:"channel"`
	PackVersion string     `json:"packVersion"`
	Version     string     `json:"version"`
	Build       string     `json:"build"`
	Files       []PackFile `json:"files"`
	Mirrors     []string   `json:"mirrors"`
	Delete      []string   `json:"delete"`
	Prune       []string   `json:"prune"`
}

// UnmarshalJSON accepts both "packVersion" and the legacy "version" key,
// preferring the former when both are present.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	var alias manifestAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	version := alias.PackVersion
	if version == "" {
		version = alias.Version
	}
	*m = Manifest{
		PackID:  alias.PackID,
		Channel: alias.Channel,
		Version: version,
		Build:   alias.Build,
		Files:   alias.Files,
		Mirrors: alias.Mirrors,
		Delete:  alias.Delete,
		Prune:   alias.Prune,
	}
	return nil
}

// Identity returns the identity string cached in pack state to detect
// manifest changes across runs.
func (m *Manifest) Identity() string {
	channel := m.Channel
	if channel == "" {
		channel = "default"
	}
	if m.Build != "" {
		return fmt.Sprintf("%s/%s/%s+%s", m.PackID, channel, m.Version, m.Build)
	}
	return fmt.Sprintf("%s/%s/%s", m.PackID, channel, m.Version)
}

// NormalizePath canonicalizes a manifest-relative path: backslashes become
// forward slashes, leading "./" and "/" are stripped, and interior "./"
// segments collapse. Returns an error for traversal segments, drive
// letters, home-relative paths, and empty results.
func NormalizePath(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(p, "~") {
		return "", fmt.Errorf("home-relative path not allowed: %q", p)
	}
	if len(p) >= 2 && p[1] == ':' {
		return "", fmt.Errorf("drive-letter path not allowed: %q", p)
	}
	p = strings.TrimPrefix(p, "/")

	segments := strings.Split(p, "/")
	out := segments[:0]
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			return "", fmt.Errorf("path traversal not allowed: %q", p)
		}
		out = append(out, seg)
	}
	if len(out) == 0 {
		return "", fmt.Errorf("empty path")
	}
	return strings.Join(out, "/"), nil
}

// underRoot reports whether path falls under any of the given slash-
// terminated roots.
func underRoot(path string, roots []string) bool {
	for _, root := range roots {
		if strings.HasPrefix(path, root) {
			return true
		}
	}
	return false
}

// Validate normalizes every file path, enforces the allowed-roots policy,
// verifies hash shape and the empty-file rule, and resolves duplicates:
// identical duplicate entries dedupe silently, conflicting ones are a hard
// error. The Files slice is rewritten in place with normalized paths.
// Validate must pass before any download begins.
func (m *Manifest) Validate(allowedRoots []string) error {
	if m.PackID == "" {
		return fmt.Errorf("manifest missing packId")
	}
	if m.Version == "" {
		return fmt.Errorf("manifest missing version")
	}
	if len(allowedRoots) == 0 {
		allowedRoots = DefaultAllowedRoots
	}

	seen := make(map[string]PackFile, len(m.Files))
	deduped := make([]PackFile, 0, len(m.Files))
	for _, f := range m.Files {
		normalized, err := NormalizePath(f.Path)
		if err != nil {
			return fmt.Errorf("manifest entry %q: %w", f.Path, err)
		}
		f.Path = normalized

		if !underRoot(f.Path, allowedRoots) {
			return fmt.Errorf("manifest entry %q: outside allowed roots %v", f.Path, allowedRoots)
		}
		if !sha256Pattern.MatchString(f.SHA256) {
			return fmt.Errorf("manifest entry %q: malformed sha256 %q", f.Path, f.SHA256)
		}
		if f.Size < 0 {
			return fmt.Errorf("manifest entry %q: negative size %d", f.Path, f.Size)
		}
		if f.Size == 0 && f.SHA256 != EmptyFileSHA256 {
			return fmt.Errorf("manifest entry %q: size 0 with non-empty hash %s", f.Path, f.SHA256)
		}

		if prev, ok := seen[f.Path]; ok {
			if prev.SHA256 != f.SHA256 || prev.Size != f.Size {
				return fmt.Errorf("manifest entry %q: duplicate path with conflicting content", f.Path)
			}
			// Identical duplicate; keep the first occurrence.
			continue
		}
		seen[f.Path] = f
		deduped = append(deduped, f)
	}
	m.Files = deduped

	// Delete and prune entries are held to the same roots policy as files:
	// a manifest must never be able to reach outside the managed subtrees,
	// no matter what it asks to remove.
	for i, d := range m.Delete {
		normalized, err := NormalizePath(strings.TrimSuffix(d, "/"))
		if err != nil {
			return fmt.Errorf("delete entry %q: %w", d, err)
		}
		if strings.HasSuffix(d, "/") {
			normalized += "/"
		}
		if !underRoot(normalized, allowedRoots) && !underRoot(normalized+"/", allowedRoots) {
			return fmt.Errorf("delete entry %q: outside allowed roots %v", d, allowedRoots)
		}
		m.Delete[i] = normalized
	}
	for i, p := range m.Prune {
		normalized, err := NormalizePath(strings.TrimSuffix(p, "/"))
		if err != nil {
			return fmt.Errorf("prune entry %q: %w", p, err)
		}
		if !underRoot(normalized+"/", allowedRoots) {
			return fmt.Errorf("prune entry %q: outside allowed roots %v", p, allowedRoots)
		}
		m.Prune[i] = normalized + "/"
	}
	return nil
}

// WantedSet returns the set of normalized file paths the manifest wants.
// Validate must have been called first.
func (m *Manifest) WantedSet() map[string]struct{} {
	wanted := make(map[string]struct{}, len(m.Files))
	for _, f := range m.Files {
		wanted[f.Path] = struct{}{}
	}
	return wanted
}

package iox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// WriteFileAtomic writes data to path via a temp file in the same
// directory followed by a rename. If a previous version of the file
// exists, it is first copied aside to <path>.bak so a crash mid-replace
// never corrupts the last good document.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		DiscardClose(tmp)
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if prev, err := os.ReadFile(path); err == nil {
		// Best effort; the .bak copy is advisory.
		_ = os.WriteFile(path+".bak", prev, perm)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// ReplaceFile moves src over dest atomically, creating parent directories
// as needed. The caller owns src; on failure src is left in place so it
// can be salvaged (e.g. as a pending sidecar).
func ReplaceFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", dest, err)
	}
	if err := os.Rename(src, dest); err != nil {
		return err
	}
	return nil
}

// IsLocked reports whether err indicates the destination is held open by
// another process (a running game keeping a mod jar mapped, an installer
// still writing). Covers the POSIX busy-text errno and the Windows
// sharing-violation shapes surfaced through os errors.
func IsLocked(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ETXTBSY) || errors.Is(err, syscall.EBUSY) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		// ERROR_SHARING_VIOLATION (32) / ERROR_LOCK_VIOLATION (33) on Windows.
		if uintptr(errno) == 32 || uintptr(errno) == 33 {
			return true
		}
	}
	// Some wrappers only preserve the message.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "sharing violation") ||
		strings.Contains(msg, "being used by another process")
}

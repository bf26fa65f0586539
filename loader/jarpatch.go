package loader

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zip"
)

// isZip reports whether path is a readable zip archive.
func isZip(path string) (bool, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return false, err
	}
	_ = r.Close()
	return true, nil
}

// isSignatureEntry matches JAR signing artifacts under META-INF/. They
// stop validating once any entry is edited, so a patched JAR must not
// carry them.
func isSignatureEntry(name string) bool {
	if !strings.HasPrefix(name, "META-INF/") {
		return false
	}
	upper := strings.ToUpper(name)
	return strings.HasSuffix(upper, ".SF") ||
		strings.HasSuffix(upper, ".RSA") ||
		strings.HasSuffix(upper, ".DSA") ||
		strings.HasSuffix(upper, ".EC")
}

// isTextTarget matches entries whose text may embed download URLs.
func isTextTarget(name string) bool {
	return strings.HasSuffix(name, ".json")
}

// NeedsPatch reports whether any JSON entry inside the JAR references
// the given host.
func NeedsPatch(jarPath, host string) (bool, error) {
	r, err := zip.OpenReader(jarPath)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", jarPath, err)
	}
	defer r.Close()

	needle := []byte(host)
	for _, f := range r.File {
		if !isTextTarget(f.Name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return false, fmt.Errorf("open entry %s: %w", f.Name, err)
		}
		body, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return false, fmt.Errorf("read entry %s: %w", f.Name, err)
		}
		if bytes.Contains(body, needle) {
			return true, nil
		}
	}
	return false, nil
}

// PatchJar writes a copy of srcPath to dstPath with every occurrence of
// upstreamBase inside JSON entries replaced by mirrorBase. Signature
// entries are stripped; all other entries are copied verbatim with their
// original compression.
func PatchJar(srcPath, dstPath, upstreamBase, mirrorBase string) error {
	r, err := zip.OpenReader(srcPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", srcPath, err)
	}
	defer r.Close()

	out, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", dstPath, err)
	}
	w := zip.NewWriter(out)

	fail := func(err error) error {
		_ = w.Close()
		_ = out.Close()
		_ = os.Remove(dstPath)
		return err
	}

	for _, f := range r.File {
		if isSignatureEntry(f.Name) {
			continue
		}

		if isTextTarget(f.Name) {
			rc, err := f.Open()
			if err != nil {
				return fail(fmt.Errorf("open entry %s: %w", f.Name, err))
			}
			body, err := io.ReadAll(rc)
			_ = rc.Close()
			if err != nil {
				return fail(fmt.Errorf("read entry %s: %w", f.Name, err))
			}

			rewritten := strings.ReplaceAll(string(body), upstreamBase, mirrorBase)
			header := f.FileHeader
			header.CRC32 = 0
			header.CompressedSize64 = 0
			header.UncompressedSize64 = 0
			ew, err := w.CreateHeader(&header)
			if err != nil {
				return fail(fmt.Errorf("write entry %s: %w", f.Name, err))
			}
			if _, err := ew.Write([]byte(rewritten)); err != nil {
				return fail(fmt.Errorf("write entry %s: %w", f.Name, err))
			}
			continue
		}

		if err := w.Copy(f); err != nil {
			return fail(fmt.Errorf("copy entry %s: %w", f.Name, err))
		}
	}

	if err := w.Close(); err != nil {
		_ = out.Close()
		_ = os.Remove(dstPath)
		return fmt.Errorf("finalize %s: %w", dstPath, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dstPath)
		return fmt.Errorf("close %s: %w", dstPath, err)
	}
	return nil
}

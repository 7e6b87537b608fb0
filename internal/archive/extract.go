// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// maxEntryBytes bounds a single extracted entry (1 GB) to stop decompression bombs.
const maxEntryBytes = 1 << 30

var (
	// ErrCorrupt is returned when an archive cannot be read to completion.
	// The destination directory has already been removed when it is returned.
	ErrCorrupt = errors.New("corrupt archive")

	// ErrUnsupported is returned for extensions no extractor handles.
	ErrUnsupported = errors.New("unsupported archive type")

	// ErrUnsafePath is returned for entries that would escape the destination.
	ErrUnsafePath = errors.New("archive entry escapes destination")
)

// Supported reports whether ext (with leading dot) names an archive type
// Extract understands.
func Supported(ext string) bool {
	switch strings.ToLower(ext) {
	case ".zip", ".tar", ".tgz":
		return true
	default:
		return false
	}
}

// Extract unpacks the archive at src into dest according to ext. On any
// failure dest is removed entirely and the error wraps ErrCorrupt (or
// ErrUnsupported when ext is unknown).
func Extract(src, ext, dest string) error {
	if !Supported(ext) {
		return fmt.Errorf("%w: %s", ErrUnsupported, ext)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("creating extraction directory: %w", err)
	}

	var err error
	switch strings.ToLower(ext) {
	case ".zip":
		err = extractZip(src, dest)
	case ".tar":
		err = withFile(src, func(r io.Reader) error { return ExtractTar(r, dest) })
	case ".tgz":
		err = withFile(src, func(r io.Reader) error {
			gz, gzErr := gzip.NewReader(r)
			if gzErr != nil {
				return fmt.Errorf("creating gzip reader: %w", gzErr)
			}
			defer func() { _ = gz.Close() }() // read-only stream
			return ExtractTar(gz, dest)
		})
	}
	if err != nil {
		_ = os.RemoveAll(dest)
		if errors.Is(err, ErrCorrupt) {
			return err
		}
		return fmt.Errorf("%w: %s: %w", ErrCorrupt, filepath.Base(src), err)
	}
	return nil
}

// ExtractTar streams a tar archive into dest. Directory entries and entries
// with empty names are skipped; parent directories are created on demand.
// Symlinks and other special entries are ignored.
func ExtractTar(r io.Reader, dest string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if err := writeEntry(dest, hdr.Name, tr, hdr.FileInfo().Mode().Perm()); err != nil {
			return err
		}
	}
}

func extractZip(src, dest string) error {
	zr, err := zip.OpenReader(src)
	if errors.Is(err, zip.ErrInsecurePath) {
		if zr != nil {
			_ = zr.Close()
		}
		return fmt.Errorf("%w: %w", ErrUnsafePath, err)
	}
	if err != nil {
		return fmt.Errorf("opening zip: %w", err)
	}
	defer func() { _ = zr.Close() }() // read-only archive

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if err := extractZipEntry(f, dest); err != nil {
			return err
		}
	}
	return nil
}

func extractZipEntry(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening entry %s: %w", f.Name, err)
	}
	defer func() { _ = rc.Close() }() // read-only entry

	return writeEntry(dest, f.Name, rc, f.Mode().Perm())
}

// writeEntry copies one archive entry to dest/name.
func writeEntry(dest, name string, r io.Reader, perm os.FileMode) (err error) {
	target, ok, err := safeJoin(dest, name)
	if err != nil || !ok {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", name, err)
	}
	if perm == 0 {
		perm = 0o644
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm|0o200)
	if err != nil {
		return fmt.Errorf("creating %s: %w", name, err)
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	n, err := io.Copy(out, io.LimitReader(r, maxEntryBytes+1))
	if err != nil {
		return fmt.Errorf("extracting %s: %w", name, err)
	}
	if n > maxEntryBytes {
		return fmt.Errorf("extracting %s: entry exceeds %d bytes", name, int64(maxEntryBytes))
	}
	return nil
}

// safeJoin resolves an archive entry name under dest. It reports ok=false for
// names that reduce to nothing (directory markers such as "a/" or ".").
func safeJoin(dest, name string) (string, bool, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.ReplaceAll(name, "\\", "/")))
	if clean == "." || clean == string(filepath.Separator) || filepath.Base(clean) == "" {
		return "", false, nil
	}
	if filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" {
		return "", false, fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", false, fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return filepath.Join(dest, clean), true, nil
}

func withFile(path string, fn func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }() // read-only file

	return fn(f)
}

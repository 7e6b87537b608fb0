// SPDX-License-Identifier: MPL-2.0

// Package backup replaces files on disk without ever destroying the previous
// copy: the existing file is first moved into a backup directory under a
// collision-proof name, and only then is the new file moved into place.
package backup

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/melonup/melonup/internal/clock"
)

const stampLayout = "20060102-150405"

// Store moves superseded files into Dir.
type Store struct {
	Dir   string
	Clock clock.Clock
}

// New creates a Store rooted at dir.
func New(dir string, c clock.Clock) *Store {
	return &Store{Dir: dir, Clock: clock.OrReal(c)}
}

// Replace installs src at dst. When dst already exists it is moved into the
// backup directory first and its backup path is returned. If moving src
// fails afterwards, the backup is restored to dst.
func (s *Store) Replace(src, dst string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", filepath.Dir(dst), err)
	}

	var backupPath string
	if _, err := os.Lstat(dst); err == nil {
		backupPath, err = s.Retire(dst)
		if err != nil {
			return "", err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("inspecting %s: %w", dst, err)
	}

	if err := Move(src, dst); err != nil {
		if backupPath != "" {
			if rerr := Move(backupPath, dst); rerr != nil {
				return backupPath, fmt.Errorf("installing %s: %w (restoring backup %s also failed: %w)", dst, err, backupPath, rerr)
			}
			return "", fmt.Errorf("installing %s: %w (previous file restored)", dst, err)
		}
		return "", fmt.Errorf("installing %s: %w", dst, err)
	}
	return backupPath, nil
}

// Retire moves path into the backup directory and returns its new location.
func (s *Store) Retire(path string) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}
	target := s.nameFor(path)
	if err := Move(path, target); err != nil {
		return "", fmt.Errorf("backing up %s: %w", path, err)
	}
	return target, nil
}

// nameFor returns Dir/<stem>_<yyyyMMdd-HHmmssfff><ext>, adding a counter
// when a backup with the same millisecond stamp already exists.
func (s *Store) nameFor(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	now := clock.OrReal(s.Clock).Now()
	stamp := fmt.Sprintf("%s%03d", now.Format(stampLayout), now.Nanosecond()/1_000_000)

	candidate := filepath.Join(s.Dir, fmt.Sprintf("%s_%s%s", stem, stamp, ext))
	for n := 1; fileExists(candidate); n++ {
		candidate = filepath.Join(s.Dir, fmt.Sprintf("%s_%s_%d%s", stem, stamp, n, ext))
	}
	return candidate
}

// Move renames src to dst, falling back to copy-then-remove when a rename is
// not possible (for example across filesystems). The copy is staged next to
// dst and renamed into place so dst never holds a partial file.
func Move(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	} else if !isLinkError(err) {
		return err
	}

	staged := dst + ".partial"
	if err := copyFile(src, staged); err != nil {
		_ = os.Remove(staged)
		return err
	}
	if err := os.Rename(staged, dst); err != nil {
		_ = os.Remove(staged)
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }() // read-only file

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func isLinkError(err error) bool {
	var le *os.LinkError
	return errors.As(err, &le) && !errors.Is(err, os.ErrNotExist)
}

func fileExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

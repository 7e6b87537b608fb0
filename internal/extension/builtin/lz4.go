// SPDX-License-Identifier: MPL-2.0

package builtin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pierrec/lz4"

	"github.com/melonup/melonup/internal/archive"
	"github.com/melonup/melonup/internal/extension"
	"github.com/melonup/melonup/internal/source"
)

// maxDecompressedBytes caps the output of one LZ4 stream (1 GB).
const maxDecompressedBytes = 1 << 30

// LZ4 installs .lz4 payloads. A compressed tarball is extracted and merged;
// any other compressed file is merged as a single file.
type LZ4 struct{}

// Descriptor implements extension.Extension.
func (*LZ4) Descriptor() extension.Descriptor {
	return extension.Descriptor{
		Name:    "LZ4",
		Author:  "melonup",
		Version: source.ToolVersion,
	}
}

// FileExtensions implements extension.Installable.
func (*LZ4) FileExtensions() []string {
	return []string{".lz4"}
}

// Priority implements extension.Installable.
func (*LZ4) Priority() int {
	return 0
}

// Install implements extension.Installable.
func (*LZ4) Install(ctx context.Context, req extension.InstallRequest) (extension.InstallResult, error) {
	if req.Merge == nil {
		return extension.InstallResult{}, errors.New("install request has no merge function")
	}
	inner := strings.TrimSuffix(filepath.Base(req.Path), filepath.Ext(req.Path))
	if inner == "" {
		inner = "payload"
	}

	payload := filepath.Join(req.Scratch, "lz4-"+inner)
	if err := decompress(req.Path, payload); err != nil {
		return extension.InstallResult{Handled: true, Failed: 1}, err
	}
	defer func() { _ = os.Remove(payload) }() // scratch file

	tree := filepath.Join(req.Scratch, "lz4-tree")
	if err := os.RemoveAll(tree); err != nil {
		return extension.InstallResult{Handled: true, Failed: 1}, fmt.Errorf("clearing scratch tree: %w", err)
	}
	if err := os.MkdirAll(tree, 0o755); err != nil {
		return extension.InstallResult{Handled: true, Failed: 1}, fmt.Errorf("creating scratch tree: %w", err)
	}
	defer func() { _ = os.RemoveAll(tree) }() // scratch tree

	if strings.EqualFold(filepath.Ext(inner), ".tar") {
		if err := extractTar(payload, tree); err != nil {
			return extension.InstallResult{Handled: true, Failed: 1}, err
		}
	} else if err := os.Rename(payload, filepath.Join(tree, inner)); err != nil {
		return extension.InstallResult{Handled: true, Failed: 1}, fmt.Errorf("staging %s: %w", inner, err)
	}

	installed, failed := req.Merge(ctx, tree)
	return extension.InstallResult{Handled: true, Success: installed, Failed: failed}, nil
}

func decompress(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer func() { _ = in.Close() }() // read-only

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating scratch directory: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	n, err := io.Copy(out, io.LimitReader(lz4.NewReader(in), maxDecompressedBytes+1))
	if err != nil {
		return fmt.Errorf("%w: decompressing %s: %w", archive.ErrCorrupt, filepath.Base(src), err)
	}
	if n > maxDecompressedBytes {
		return fmt.Errorf("%w: %s decompresses past the size limit", archive.ErrCorrupt, filepath.Base(src))
	}
	return nil
}

func extractTar(src, dest string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer func() { _ = f.Close() }() // read-only

	if err := archive.ExtractTar(f, dest); err != nil {
		_ = os.RemoveAll(dest)
		return fmt.Errorf("%w: %w", archive.ErrCorrupt, err)
	}
	return nil
}

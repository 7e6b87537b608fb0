// SPDX-License-Identifier: MPL-2.0

// Package download fetches release assets into the scratch area.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds one download when the caller sets none.
	DefaultTimeout = 2 * time.Minute

	// DefaultMaxBytes caps a single asset (512 MB).
	DefaultMaxBytes int64 = 512 << 20

	fallbackName = "download.bin"
)

var (
	// ErrUnexpectedStatus wraps non-200 download responses.
	ErrUnexpectedStatus = errors.New("unexpected download status")

	// ErrTooLarge is returned when an asset exceeds the size cap.
	ErrTooLarge = errors.New("download exceeds size limit")
)

type (
	// Downloader writes assets into Dir, one file per call.
	Downloader struct {
		Client    *http.Client
		Dir       string
		UserAgent string
		Timeout   time.Duration
		MaxBytes  int64
	}

	// Request names one asset. FileName is an optional declared name.
	Request struct {
		URL      string
		FileName string
	}

	// Result describes a downloaded file.
	Result struct {
		Path string
		// FileName is the name the file was saved under.
		FileName string
		// ContentType is the response Content-Type, parameters stripped.
		ContentType string
		Size        int64
		SHA256      string
	}
)

// Fetch downloads req into d.Dir. The call carries its own timeout, and a
// partially written file is removed on failure.
func (d *Downloader) Fetch(ctx context.Context, req Request) (_ *Result, err error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if d.UserAgent != "" {
		httpReq.Header.Set("User-Agent", d.UserAgent)
	}

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", redactURL(req.URL), err)
	}
	defer func() { _ = resp.Body.Close() }() // read-only response body

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading %s: %w %d", redactURL(req.URL), ErrUnexpectedStatus, resp.StatusCode)
	}

	name := FileName(req.FileName, resp.Header.Get("Content-Disposition"), resp.Request.URL)
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating download directory: %w", err)
	}
	dst := uniquePath(filepath.Join(d.Dir, name))

	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", dst, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	limit := d.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("writing %s: %w", name, err)
	}
	if n > limit {
		return nil, fmt.Errorf("%s: %w (%d bytes)", name, ErrTooLarge, limit)
	}

	return &Result{
		Path:        dst,
		FileName:    filepath.Base(dst),
		ContentType: mediaType(resp.Header.Get("Content-Type")),
		Size:        n,
		SHA256:      hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// FileName picks the name to save an asset under: the declared name, else
// the Content-Disposition filename, else the last URL path segment.
func FileName(declared, disposition string, u *url.URL) string {
	if name := sanitize(declared); name != "" {
		return name
	}
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			if name := sanitize(params["filename"]); name != "" {
				return name
			}
		}
	}
	if u != nil {
		if unescaped, err := url.PathUnescape(u.Path); err == nil {
			if name := sanitize(path.Base(unescaped)); name != "" {
				return name
			}
		}
	}
	return fallbackName
}

// sanitize reduces s to a plain base name, or "" when nothing usable is left.
func sanitize(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\\", "/")
	s = path.Base(s)
	switch s {
	case ".", "..", "/":
		return ""
	}
	return strings.Map(func(r rune) rune {
		if r < 0x20 || strings.ContainsRune(`<>:"|?*`, r) {
			return '_'
		}
		return r
	}, s)
}

// uniquePath appends " (N)" before the extension until p does not exist.
func uniquePath(p string) string {
	if _, err := os.Lstat(p); errors.Is(err, os.ErrNotExist) {
		return p
	}
	ext := filepath.Ext(p)
	stem := strings.TrimSuffix(p, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, i, ext)
		if _, err := os.Lstat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
	}
}

func mediaType(header string) string {
	if header == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return mt
}

// redactURL strips query parameters and fragments for safe logging. Presigned
// URLs carry credentials in the query.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

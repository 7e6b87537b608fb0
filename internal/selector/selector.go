// SPDX-License-Identifier: MPL-2.0

// Package selector chooses one binary among several candidates that
// represent the same unit, such as the per-platform builds shipped in one
// release archive.
package selector

import (
	"slices"

	"github.com/melonup/melonup/internal/binfmt"
	"github.com/melonup/melonup/internal/melon"
	"github.com/melonup/melonup/internal/version"
)

type (
	// Selector ranks candidates against the running host.
	Selector struct {
		// OS and Arch describe the running host in GOOS/GOARCH spelling.
		OS   string
		Arch string
		// Loader is the running loader version; nil skips the compatibility check.
		Loader *version.Version
	}

	// Candidate is one evaluated file.
	Candidate struct {
		Path string
		// Recognized is false when the file is not a readable binary.
		Recognized bool
		// Unit is nil when the binary carries no usable identity.
		Unit       *melon.Unit
		Compatible bool
		NativeHost bool
	}
)

// Evaluate inspects the file at path.
func (s Selector) Evaluate(path string) Candidate {
	c := Candidate{Path: path}
	img, err := binfmt.Open(path)
	if err != nil {
		return c
	}
	c.Recognized = true
	c.NativeHost = img.OS == s.OS && img.Arch == s.Arch

	if !img.HasIdentity() {
		return c
	}
	u, err := melon.FromImage(img)
	if err != nil {
		return c
	}
	c.Unit = u
	c.Compatible = u.CompatibleWith(s.Loader)
	return c
}

// Compare orders a before b (negative) when a is the better candidate. The
// criteria apply in strict precedence: recognized format, identity, loader
// compatibility, native runtime, newer framework reference. It returns 0
// when no criterion separates the two.
func Compare(a, b Candidate) int {
	if c := preferTrue(a.Recognized, b.Recognized); c != 0 {
		return c
	}
	if c := preferTrue(a.Unit != nil, b.Unit != nil); c != 0 {
		return c
	}
	if a.Unit == nil {
		return 0
	}
	if c := preferTrue(a.Compatible, b.Compatible); c != 0 {
		return c
	}
	if c := preferTrue(a.NativeHost, b.NativeHost); c != 0 {
		return c
	}

	ra, rb := a.Unit.Reference, b.Unit.Reference
	switch {
	case ra == nil && rb == nil:
		return 0
	case ra == nil:
		return 1
	case rb == nil:
		return -1
	default:
		return rb.Compare(ra)
	}
}

// Rank evaluates and orders paths best-first. Ties keep input order.
func (s Selector) Rank(paths []string) []Candidate {
	out := make([]Candidate, 0, len(paths))
	for _, p := range paths {
		out = append(out, s.Evaluate(p))
	}
	slices.SortStableFunc(out, Compare)
	return out
}

// Best returns the top-ranked path. ok is false when paths is empty.
func (s Selector) Best(paths []string) (string, bool) {
	ranked := s.Rank(paths)
	if len(ranked) == 0 {
		return "", false
	}
	return ranked[0].Path, true
}

func preferTrue(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return -1
	default:
		return 1
	}
}

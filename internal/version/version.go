// SPDX-License-Identifier: MPL-2.0

package version

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// ErrInvalidVersion is the sentinel for version strings that cannot be parsed.
var ErrInvalidVersion = errors.New("invalid semantic version")

type (
	// Version is a parsed semantic version. Build metadata is retained for
	// display but never participates in ordering.
	Version struct {
		Major      int
		Minor      int
		Patch      int
		Prerelease string
		Build      string
	}

	// ParseError reports the raw input that failed to parse.
	ParseError struct {
		Input string
	}

	// Requirement is a loader version constraint. When Minimum is false the
	// actual version must equal Version exactly.
	Requirement struct {
		Version *Version
		Minimum bool
	}
)

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid semantic version %q", e.Input)
}

// Unwrap returns ErrInvalidVersion for errors.Is checks.
func (e *ParseError) Unwrap() error {
	return ErrInvalidVersion
}

// Parse parses text as a semantic version. A leading "v" or "V" is accepted,
// and the short forms "1" and "1.2" are widened to "1.0.0" and "1.2.0".
// It never returns a zero Version on failure.
func Parse(text string) (*Version, error) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return nil, &ParseError{Input: text}
	}
	if raw[0] == 'v' || raw[0] == 'V' {
		raw = raw[1:]
	}

	v := "v" + raw
	if !semver.IsValid(v) {
		return nil, &ParseError{Input: text}
	}

	canonical := semver.Canonical(v)
	build := semver.Build(v)
	pre := semver.Prerelease(canonical)

	core := strings.TrimPrefix(canonical, "v")
	core = strings.TrimSuffix(core, pre)
	parts := strings.SplitN(core, ".", 3)
	if len(parts) != 3 {
		return nil, &ParseError{Input: text}
	}

	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, &ParseError{Input: text}
		}
		nums[i] = n
	}

	return &Version{
		Major:      nums[0],
		Minor:      nums[1],
		Patch:      nums[2],
		Prerelease: strings.TrimPrefix(pre, "-"),
		Build:      strings.TrimPrefix(build, "+"),
	}, nil
}

// MustParse is like Parse but panics on error. Intended for constants and tests.
func MustParse(text string) *Version {
	v, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return v
}

// String renders the version without a "v" prefix.
func (v *Version) String() string {
	if v == nil {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Prerelease != "" {
		sb.WriteByte('-')
		sb.WriteString(v.Prerelease)
	}
	if v.Build != "" {
		sb.WriteByte('+')
		sb.WriteString(v.Build)
	}
	return sb.String()
}

func (v *Version) semver() string {
	s := fmt.Sprintf("v%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Prerelease != "" {
		s += "-" + v.Prerelease
	}
	return s
}

// Compare returns -1, 0, or +1 following semantic version precedence.
func (v *Version) Compare(other *Version) int {
	return semver.Compare(v.semver(), other.semver())
}

// Equal reports whether both versions have the same precedence.
func (v *Version) Equal(other *Version) bool {
	return v.Compare(other) == 0
}

// Less reports whether v orders strictly before other.
func (v *Version) Less(other *Version) bool {
	return v.Compare(other) < 0
}

// Compare orders a and b. It exists for use with slices.SortFunc.
func Compare(a, b *Version) int {
	return a.Compare(b)
}

// IsCompatible reports whether actual satisfies req. Absent values on either
// side are treated as compatible.
func IsCompatible(req Requirement, actual *Version) bool {
	if req.Version == nil || actual == nil {
		return true
	}
	if req.Minimum {
		return actual.Compare(req.Version) >= 0
	}
	return actual.Equal(req.Version)
}

// String renders the requirement as ">=X" or "=X".
func (r Requirement) String() string {
	if r.Version == nil {
		return "any"
	}
	if r.Minimum {
		return ">=" + r.Version.String()
	}
	return "=" + r.Version.String()
}

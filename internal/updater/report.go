// SPDX-License-Identifier: MPL-2.0

package updater

import (
	"errors"
	"fmt"
	"strings"

	"github.com/melonup/melonup/internal/extension"
	"github.com/melonup/melonup/internal/version"
)

// Update modes.
const (
	ModeAuto Mode = iota
	ModeManual
)

// Unit result statuses.
const (
	StatusUpdated      Status = "updated"
	StatusPartial      Status = "partial"
	StatusFailed       Status = "failed"
	StatusManual       Status = "manual"
	StatusUpToDate     Status = "up-to-date"
	StatusNewer        Status = "current-newer"
	StatusNoSource     Status = "no-source"
	StatusIncompatible Status = "incompatible"
	StatusSkipped      Status = "skipped"
)

// ErrInvalidMode is returned by ParseMode.
var ErrInvalidMode = errors.New("invalid update mode")

type (
	// Mode selects whether available updates are installed or only reported.
	Mode int

	// Status is the outcome of checking one unit.
	Status string

	// UnitResult is the outcome for one file.
	UnitResult struct {
		File    string
		Unit    string
		Author  string
		Current *version.Version
		Latest  *version.Version
		Status  Status
		// Source names the extension that resolved the release.
		Source string
		// PageURL is where to update manually.
		PageURL   string
		Installed int
		Failed    int
		Reason    string
	}

	// DirectoryReport collects the results of one managed directory.
	DirectoryReport struct {
		Name string
		Path string
		// Checked counts managed units that went through the pipeline.
		Checked int
		Results []UnitResult
		// Err is set when the directory itself could not be read.
		Err error
	}

	// Report is the outcome of one run.
	Report struct {
		Mode        Mode
		Directories []DirectoryReport
		Rotten      []extension.RottenEntry
	}
)

// String returns "auto" or "manual".
func (m Mode) String() string {
	if m == ModeManual {
		return "manual"
	}
	return "auto"
}

// ParseMode parses "auto" or "manual".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto", "automatic":
		return ModeAuto, nil
	case "manual":
		return ModeManual, nil
	default:
		return ModeAuto, fmt.Errorf("%w: %q (want auto or manual)", ErrInvalidMode, s)
	}
}

// Counts tallies results by status.
func (d *DirectoryReport) Counts() map[Status]int {
	counts := make(map[Status]int)
	for _, r := range d.Results {
		counts[r.Status]++
	}
	return counts
}

// Filter returns the results with one of the given statuses, in scan order.
func (d *DirectoryReport) Filter(statuses ...Status) []UnitResult {
	var out []UnitResult
	for _, r := range d.Results {
		for _, s := range statuses {
			if r.Status == s {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// Counts tallies results by status across all directories.
func (r *Report) Counts() map[Status]int {
	counts := make(map[Status]int)
	for i := range r.Directories {
		for s, n := range r.Directories[i].Counts() {
			counts[s] += n
		}
	}
	return counts
}

// Failed reports whether any unit failed (fully or partially) or any
// directory could not be read.
func (r *Report) Failed() bool {
	for i := range r.Directories {
		d := &r.Directories[i]
		if d.Err != nil || len(d.Filter(StatusFailed, StatusPartial)) > 0 {
			return true
		}
	}
	return false
}

// ManualNotices returns every result asking for a manual update.
func (r *Report) ManualNotices() []UnitResult {
	var out []UnitResult
	for i := range r.Directories {
		out = append(out, r.Directories[i].Filter(StatusManual)...)
	}
	return out
}

// Versions renders "old -> new" with "?" for unknown sides.
func (u UnitResult) Versions() string {
	return versionOrUnknown(u.Current) + " -> " + versionOrUnknown(u.Latest)
}

func versionOrUnknown(v *version.Version) string {
	if v == nil {
		return "?"
	}
	return v.String()
}

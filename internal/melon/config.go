// SPDX-License-Identifier: MPL-2.0

package melon

import (
	"path"
	"strings"
)

type (
	// Config is the per-unit policy document embedded alongside a unit.
	Config struct {
		Disabled bool `json:"disabled"`
		// AllowedFileDownloads restricts which downloaded file names may be
		// installed. Nil allows every file.
		AllowedFileDownloads []string `json:"allowedFileDownloads,omitempty"`
		// DoNotInclude lists file names, directory names, or relative paths
		// ("parent/child") that must never be merged.
		DoNotInclude []string  `json:"doNotInclude,omitempty"`
		Platform     *Platform `json:"platform,omitempty"`
		// BruteCheck opts the unit out of name+author lookups when false.
		BruteCheck *bool `json:"bruteCheck,omitempty"`
	}

	// Platform restricts which source extensions may serve the unit.
	Platform struct {
		// Whitelist selects allow-list semantics; otherwise List is a deny-list.
		Whitelist bool     `json:"whitelist"`
		List      []string `json:"list"`
	}
)

// CanInclude reports whether the relative path rel may be merged. A deny
// pattern of k segments excludes rel when it equals any k contiguous
// segments of rel, compared case-insensitively. This covers plain name
// matches, "parent/child" suffix matches, and everything below a denied
// directory.
func (c *Config) CanInclude(rel string) bool {
	if c == nil || len(c.DoNotInclude) == 0 {
		return true
	}
	segs := splitPath(rel)
	if len(segs) == 0 {
		return true
	}
	for _, pattern := range c.DoNotInclude {
		pat := splitPath(pattern)
		if len(pat) == 0 || len(pat) > len(segs) {
			continue
		}
		if containsRun(segs, pat) {
			return false
		}
	}
	return true
}

// AllowsDownload reports whether a downloaded file named name may be installed.
func (c *Config) AllowsDownload(name string) bool {
	if c == nil || c.AllowedFileDownloads == nil {
		return true
	}
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	for _, allowed := range c.AllowedFileDownloads {
		if strings.EqualFold(strings.TrimSpace(allowed), base) {
			return true
		}
	}
	return false
}

// AllowsPlatform reports whether the source extension named platform may be
// consulted for this unit.
func (c *Config) AllowsPlatform(platform string) bool {
	if c == nil || c.Platform == nil {
		return true
	}
	listed := false
	for _, p := range c.Platform.List {
		if strings.EqualFold(strings.TrimSpace(p), platform) {
			listed = true
			break
		}
	}
	if c.Platform.Whitelist {
		return listed
	}
	return !listed
}

// AllowsBruteCheck reports whether name+author lookups are permitted.
func (c *Config) AllowsBruteCheck() bool {
	if c == nil || c.BruteCheck == nil {
		return true
	}
	return *c.BruteCheck
}

func splitPath(p string) []string {
	p = strings.ReplaceAll(p, "\\", "/")
	var segs []string
	for s := range strings.SplitSeq(p, "/") {
		s = strings.TrimSpace(s)
		if s == "" || s == "." {
			continue
		}
		segs = append(segs, s)
	}
	return segs
}

// containsRun reports whether pat occurs as a contiguous run inside segs.
// Callers guarantee len(pat) <= len(segs).
func containsRun(segs, pat []string) bool {
	for start := 0; start+len(pat) <= len(segs); start++ {
		match := true
		for i := range pat {
			if !strings.EqualFold(segs[start+i], pat[i]) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

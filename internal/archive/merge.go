// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/melonup/melonup/internal/backup"
	"github.com/melonup/melonup/internal/binfmt"
	"github.com/melonup/melonup/internal/melon"
)

type (
	// Targets are the host directories a scratch tree merges into. Files
	// outside the special top-level folders land under Root.
	Targets struct {
		Root     string
		Mods     string
		Plugins  string
		UserLibs string
		UserData string
	}

	// BinaryOutcome is what the installer reports for one binary. Handled is
	// false for binaries that are not managed units; the merger then copies
	// them like any other file.
	BinaryOutcome struct {
		Handled   bool
		Installed bool
		HardFault bool
	}

	// BinaryInstaller installs one unit binary from the scratch tree.
	BinaryInstaller interface {
		InstallBinary(ctx context.Context, path string) BinaryOutcome
	}

	// Selector picks the preferred binary among candidates that represent
	// the same unit.
	Selector interface {
		Best(paths []string) (string, bool)
	}

	// Merger copies an extracted tree into the host installation.
	Merger struct {
		Targets   Targets
		Backups   *backup.Store
		Installer BinaryInstaller
		Selector  Selector
		Logger    *log.Logger
	}

	// Result counts per-file outcomes of a merge.
	Result struct {
		Installed int
		Failed    int
		Excluded  int
		// Superseded counts binaries dropped in favor of a better candidate.
		Superseded int
		HardFault  bool
	}

	dirJob struct {
		src string
		rel string
		dst string
	}
)

// Add accumulates other into r.
func (r *Result) Add(other Result) {
	r.Installed += other.Installed
	r.Failed += other.Failed
	r.Excluded += other.Excluded
	r.Superseded += other.Superseded
	r.HardFault = r.HardFault || other.HardFault
}

// Merge walks root with an explicit worklist and merges every file into the
// host tree. cfg may be nil. Errors on individual files are counted, never
// returned.
func (m *Merger) Merge(ctx context.Context, root string, cfg *melon.Config) Result {
	var res Result
	losers := m.supersededBinaries(root)

	stack := []dirJob{{src: root, rel: "", dst: m.Targets.Root}}
	for len(stack) > 0 {
		if ctx.Err() != nil {
			res.HardFault = true
			return res
		}
		job := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(job.src)
		if err != nil {
			m.logger().Error("reading extracted directory", "dir", job.rel, "err", err)
			res.Failed++
			res.HardFault = true
			continue
		}

		var subdirs []dirJob
		for _, e := range entries {
			rel := path.Join(job.rel, e.Name())
			srcPath := filepath.Join(job.src, e.Name())

			if !cfg.CanInclude(rel) {
				m.logger().Debug("excluded by unit policy", "path", rel)
				res.Excluded++
				continue
			}

			if e.IsDir() {
				dst := filepath.Join(job.dst, e.Name())
				if job.rel == "" {
					dst = m.topLevel(e.Name(), dst)
				}
				subdirs = append(subdirs, dirJob{src: srcPath, rel: rel, dst: dst})
				continue
			}
			if !e.Type().IsRegular() {
				continue
			}
			if _, drop := losers[srcPath]; drop {
				res.Superseded++
				continue
			}
			res.Add(m.mergeFile(ctx, srcPath, rel, filepath.Join(job.dst, e.Name())))
		}

		// Reverse so the stack pops subdirectories in name order.
		slices.Reverse(subdirs)
		stack = append(stack, subdirs...)
	}
	return res
}

func (m *Merger) mergeFile(ctx context.Context, src, rel, dst string) Result {
	if m.Installer != nil && binfmt.IsBinary(src) {
		out := m.Installer.InstallBinary(ctx, src)
		if out.Handled {
			if out.Installed {
				return Result{Installed: 1}
			}
			return Result{Failed: 1, HardFault: out.HardFault}
		}
	}

	if _, err := m.Backups.Replace(src, dst); err != nil {
		m.logger().Error("merging file", "path", rel, "err", err)
		return Result{Failed: 1, HardFault: true}
	}
	m.logger().Debug("merged file", "path", rel, "dest", dst)
	return Result{Installed: 1}
}

// topLevel maps the special folders at the archive root onto host directories.
func (m *Merger) topLevel(name, fallback string) string {
	for _, special := range []struct {
		name string
		dir  string
	}{
		{"Mods", m.Targets.Mods},
		{"Plugins", m.Targets.Plugins},
		{"UserLibs", m.Targets.UserLibs},
		{"UserData", m.Targets.UserData},
	} {
		if special.dir != "" && strings.EqualFold(name, special.name) {
			return special.dir
		}
	}
	return fallback
}

// supersededBinaries returns the binaries of the tree that lost selection
// against another build of the same unit.
func (m *Merger) supersededBinaries(root string) map[string]struct{} {
	if m.Selector == nil {
		return make(map[string]struct{})
	}
	var files []string
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !d.Type().IsRegular() {
			return nil //nolint:nilerr // Unreadable entries are reported by Merge itself.
		}
		files = append(files, p)
		return nil
	})
	return Superseded(m.Selector, files, m.logger())
}

// Superseded groups the unit binaries among paths by manifest identity
// (name and author, case-insensitive) and, for every group with more than
// one candidate, returns the paths that lost selection. Files without an
// identity never compete.
func Superseded(selector Selector, paths []string, logger *log.Logger) map[string]struct{} {
	losers := make(map[string]struct{})
	if selector == nil {
		return losers
	}

	groups := make(map[string][]string)
	var order []string
	for _, p := range paths {
		img, err := binfmt.Open(p)
		if err != nil || !img.HasIdentity() {
			continue
		}
		key := strings.ToLower(img.Manifest.Info.Name) + "\x00" + strings.ToLower(img.Manifest.Info.Author)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], p)
	}

	for _, key := range order {
		candidates := groups[key]
		if len(candidates) < 2 {
			continue
		}
		best, ok := selector.Best(candidates)
		for _, c := range candidates {
			if ok && c == best {
				continue
			}
			losers[c] = struct{}{}
		}
		if logger != nil {
			logger.Debug("selected candidate", "best", filepath.Base(best), "candidates", len(candidates))
		}
	}
	return losers
}

func (m *Merger) logger() *log.Logger {
	if m.Logger == nil {
		return log.Default()
	}
	return m.Logger
}

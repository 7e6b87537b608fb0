// SPDX-License-Identifier: MPL-2.0

package updater

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/melonup/melonup/internal/archive"
	"github.com/melonup/melonup/internal/backup"
	"github.com/melonup/melonup/internal/binfmt"
	"github.com/melonup/melonup/internal/contenttype"
	"github.com/melonup/melonup/internal/download"
	"github.com/melonup/melonup/internal/extension"
	"github.com/melonup/melonup/internal/installer"
	"github.com/melonup/melonup/internal/melon"
	"github.com/melonup/melonup/internal/selector"
)

type (
	installOutcome struct {
		installed  int
		failed     int
		superseded int
		hardFault  bool
		reason     string
	}

	// installRun holds the per-unit collaborators of one install.
	installRun struct {
		unit    *melon.Unit
		req     installer.Request
		inst    *installer.Installer
		merger  *archive.Merger
		scratch string
		logger  *log.Logger
	}
)

func (o *installOutcome) add(other installOutcome) {
	o.installed += other.installed
	o.failed += other.failed
	o.superseded += other.superseded
	o.hardFault = o.hardFault || other.hardFault
	if other.reason != "" && o.reason == "" {
		o.reason = other.reason
	}
}

// install downloads every entry of res in order and routes each file.
func (u *Updater) install(ctx context.Context, unit *melon.Unit, res *extension.SourceResult, logger *log.Logger) installOutcome {
	layout := u.opts.Host.Layout
	scratch := filepath.Join(layout.Temp, scratchName(unit.Name))
	if err := os.RemoveAll(scratch); err != nil {
		return installOutcome{failed: len(res.Downloads), hardFault: true, reason: "clearing scratch: " + err.Error()}
	}
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return installOutcome{failed: len(res.Downloads), hardFault: true, reason: "creating scratch: " + err.Error()}
	}
	defer func() { _ = os.RemoveAll(scratch) }() // per-unit scratch

	pageURL := res.PageURL
	if pageURL == "" {
		pageURL = unit.DownloadLink
	}
	req := installer.Request{
		Unit:     unit.Name,
		Author:   unit.Author,
		Latest:   res.Latest,
		PageURL:  pageURL,
		Replaces: unit.Path,
	}
	host := u.opts.Host
	inst := &installer.Installer{
		Mods:     layout.Mods,
		Plugins:  layout.Plugins,
		Loader:   host.Loader,
		Backups:  u.backups,
		Metadata: binfmt.Patcher{},
		Logger:   logger,
	}
	run := &installRun{
		unit: unit,
		req:  req,
		inst: inst,
		merger: &archive.Merger{
			Targets:   layout.Targets(),
			Backups:   u.backups,
			Installer: inst.For(req),
			Selector:  selector.Selector{OS: host.Runtime.OS, Arch: host.Runtime.Arch, Loader: host.Loader},
			Logger:    logger,
		},
		scratch: scratch,
		logger:  logger,
	}

	dl := *u.opts.Downloader
	dl.Dir = filepath.Join(scratch, "downloads")

	type fetched struct {
		path string
		ext  string
	}
	var (
		out   installOutcome
		files []fetched
	)
	for _, entry := range res.Downloads {
		got, err := dl.Fetch(ctx, download.Request{URL: entry.URL, FileName: entry.FileName})
		if err != nil {
			logger.Error("download failed", "err", err)
			u.opts.Metrics.download("error")
			out.add(installOutcome{failed: 1, reason: "download failed: " + err.Error()})
			continue
		}
		if !unit.Config.AllowsDownload(got.FileName) {
			logger.Info("download not allowed by unit config", "name", got.FileName)
			u.opts.Metrics.download("rejected")
			continue
		}
		u.opts.Metrics.download("ok")

		ext := resolveExtension(entry.ContentType, got)
		logger.Debug("downloaded", "name", got.FileName, "type", got.ContentType, "ext", ext, "size", got.Size, "sha256", got.SHA256)
		files = append(files, fetched{path: got.Path, ext: ext})
	}

	// Separate assets can be per-platform builds of one unit; only the best
	// build of each unit is installed.
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.path)
	}
	losers := archive.Superseded(run.merger.Selector, paths, logger)

	for i, f := range files {
		if _, drop := losers[f.path]; drop {
			logger.Debug("superseded by a better build", "file", filepath.Base(f.path))
			out.superseded++
			continue
		}
		out.add(u.route(ctx, run, f.path, f.ext, filepath.Join(scratch, fmt.Sprintf("entry-%d", i))))
	}
	return out
}

// route installs one downloaded file: unit binaries go to the installer,
// supported archives are extracted and merged, and anything else goes to
// the install extensions claiming its extension.
func (u *Updater) route(ctx context.Context, run *installRun, path, ext, work string) installOutcome {
	if binfmt.IsBinary(path) {
		o := run.inst.Install(ctx, path, run.req)
		switch {
		case o.Handled && o.Installed:
			return installOutcome{installed: 1}
		case o.Handled:
			return installOutcome{failed: 1, hardFault: o.HardFault, reason: o.Reason}
		}
		// Unmanaged binaries are copied like any merged file.
		return u.mergeSingle(ctx, run, path, work)
	}

	if archive.Supported(ext) {
		tree := filepath.Join(work, "tree")
		if err := archive.Extract(path, ext, tree); err != nil {
			run.logger.Error("extracting archive", "file", filepath.Base(path), "err", err)
			return installOutcome{failed: 1, hardFault: true, reason: "extracting archive: " + err.Error()}
		}
		return fromMerge(run.merger.Merge(ctx, tree, run.unit.Config))
	}

	if u.opts.Registry != nil {
		for _, e := range u.opts.Registry.ActiveInstallers(ext) {
			if err := os.MkdirAll(work, 0o755); err != nil {
				return installOutcome{failed: 1, hardFault: true, reason: err.Error()}
			}
			res, err := e.Install(ctx, extension.InstallRequest{
				Path:    path,
				Unit:    run.unit,
				Scratch: work,
				Merge: func(ctx context.Context, root string) (int, int) {
					r := run.merger.Merge(ctx, root, run.unit.Config)
					return r.Installed, r.Failed
				},
			})
			if err != nil {
				run.logger.Warn("install extension failed", "extension", e.Desc.Name, "err", err)
				if res.Handled {
					return installOutcome{installed: res.Success, failed: max(res.Failed, 1), hardFault: true, reason: err.Error()}
				}
				continue
			}
			if res.Handled {
				return installOutcome{installed: res.Success, failed: res.Failed}
			}
		}
	}

	run.logger.Warn("no installer handles downloaded file", "file", filepath.Base(path), "ext", ext)
	return installOutcome{failed: 1, reason: "unsupported file type " + ext}
}

// mergeSingle merges path as a one-file tree, applying the unit's policy.
func (u *Updater) mergeSingle(ctx context.Context, run *installRun, path, work string) installOutcome {
	tree := filepath.Join(work, "single")
	if err := os.MkdirAll(tree, 0o755); err != nil {
		return installOutcome{failed: 1, hardFault: true, reason: err.Error()}
	}
	if err := backup.Move(path, filepath.Join(tree, filepath.Base(path))); err != nil {
		return installOutcome{failed: 1, hardFault: true, reason: err.Error()}
	}
	return fromMerge(run.merger.Merge(ctx, tree, run.unit.Config))
}

func fromMerge(r archive.Result) installOutcome {
	out := installOutcome{installed: r.Installed, failed: r.Failed, superseded: r.Superseded, hardFault: r.HardFault}
	if r.Failed > 0 {
		out.reason = fmt.Sprintf("%d file(s) failed to merge", r.Failed)
	}
	return out
}

// resolveExtension picks the extension used for routing, preferring the
// content-type table and falling back to the file name.
func resolveExtension(declared string, got *download.Result) string {
	if t, err := contenttype.ForDownload(declared, got.ContentType, got.FileName); err == nil && t.Extension != "" {
		return strings.ToLower(t.Extension)
	}
	return strings.ToLower(filepath.Ext(got.FileName))
}

// scratchName turns a unit name into a safe directory name.
func scratchName(name string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
	clean = strings.Trim(clean, ".")
	if clean == "" {
		return "unit"
	}
	return clean
}

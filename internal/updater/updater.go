// SPDX-License-Identifier: MPL-2.0

package updater

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/melonup/melonup/internal/backup"
	"github.com/melonup/melonup/internal/binfmt"
	"github.com/melonup/melonup/internal/clock"
	"github.com/melonup/melonup/internal/download"
	"github.com/melonup/melonup/internal/extension"
	"github.com/melonup/melonup/internal/hostinfo"
	"github.com/melonup/melonup/internal/melon"
)

type (
	// Options configure an Updater.
	Options struct {
		Host     hostinfo.Host
		Registry *extension.Registry
		Mode     Mode
		// BruteCheck enables name+author lookups for units without a link.
		BruteCheck bool
		// Ignore lists file names (with or without extension) to leave alone.
		Ignore     []string
		Downloader *download.Downloader
		Clock      clock.Clock
		Metrics    *Metrics
		Logger     *log.Logger
	}

	// Updater runs the update pipeline. It is not safe for concurrent use.
	Updater struct {
		opts    Options
		backups *backup.Store
		logger  *log.Logger
	}

	// lookupResult is the first successful source answer for a unit.
	lookupResult struct {
		res    *extension.SourceResult
		source string
	}
)

// New creates an Updater.
func New(opts Options) *Updater {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Downloader == nil {
		opts.Downloader = &download.Downloader{}
	}
	opts.Clock = clock.OrReal(opts.Clock)
	return &Updater{
		opts:    opts,
		backups: backup.New(opts.Host.Layout.Backups, opts.Clock),
		logger:  opts.Logger,
	}
}

// Run checks the Mods and Plugins directories. The scratch area is cleared
// before and after the run. The error is non-nil only when the scratch area
// cannot be prepared; per-directory failures are recorded in the report.
func (u *Updater) Run(ctx context.Context) (*Report, error) {
	layout := u.opts.Host.Layout
	if err := os.RemoveAll(layout.Temp); err != nil {
		return nil, fmt.Errorf("clearing scratch area %s: %w", layout.Temp, err)
	}
	defer func() { _ = os.RemoveAll(layout.Temp) }() // scratch area

	report := &Report{Mode: u.opts.Mode}
	for _, dir := range []struct{ name, path string }{
		{"Mods", layout.Mods},
		{"Plugins", layout.Plugins},
	} {
		report.Directories = append(report.Directories, u.CheckDirectory(ctx, dir.name, dir.path))
	}

	if u.opts.Registry != nil {
		report.Rotten = u.opts.Registry.Rotten()
	}
	u.opts.Metrics.setRotten(len(report.Rotten))
	return report, nil
}

// CheckDirectory checks every binary directly inside path.
func (u *Updater) CheckDirectory(ctx context.Context, name, path string) DirectoryReport {
	rep := DirectoryReport{Name: name, Path: path}
	logger := u.logger.With("directory", name)

	entries, err := os.ReadDir(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Debug("directory does not exist, nothing to check", "path", path)
		return rep
	}
	if err != nil {
		logger.Error("reading directory", "path", path, "err", err)
		rep.Err = fmt.Errorf("reading %s directory: %w", name, err)
		return rep
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			rep.Err = ctx.Err()
			return rep
		}
		if !e.Type().IsRegular() || u.ignored(e.Name()) {
			continue
		}
		file := filepath.Join(path, e.Name())
		if !binfmt.IsBinary(file) {
			continue
		}

		res, counted := u.checkFile(ctx, file)
		if counted {
			rep.Checked++
			u.opts.Metrics.unitChecked(name)
		}
		u.opts.Metrics.result(res.Status)
		rep.Results = append(rep.Results, res)
	}
	return rep
}

func (u *Updater) ignored(fileName string) bool {
	stem := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	return slices.ContainsFunc(u.opts.Ignore, func(ig string) bool {
		ig = strings.TrimSpace(ig)
		return strings.EqualFold(ig, fileName) || strings.EqualFold(ig, stem)
	})
}

// checkFile runs one file through the pipeline. counted is false for files
// that are not checked as managed units (disabled, unmanaged, unreadable).
func (u *Updater) checkFile(ctx context.Context, file string) (res UnitResult, counted bool) {
	res = UnitResult{File: filepath.Base(file)}

	unit, err := melon.Load(file)
	if err != nil {
		u.logger.Error("reading unit metadata", "file", res.File, "err", err)
		res.Status, res.Reason = StatusSkipped, "unreadable metadata: "+err.Error()
		return res, false
	}
	res.Unit, res.Author, res.Current = unit.Name, unit.Author, unit.Version
	logger := u.logger.With("unit", unit.Name, "file", res.File)

	switch {
	case unit.Disabled():
		logger.Info("updates disabled by unit config")
		res.Status, res.Reason = StatusSkipped, "disabled by unit config"
		return res, false
	case !unit.Managed():
		logger.Warn("not a managed unit, skipping")
		res.Status, res.Reason = StatusSkipped, "not a managed unit"
		return res, false
	case !unit.CompatibleWith(u.opts.Host.Loader):
		logger.Warn("unit is incompatible with the running loader",
			"requires", unit.Loader.String(), "loader", versionOrUnknown(u.opts.Host.Loader))
		res.Status, res.Reason = StatusIncompatible, "requires loader "+unit.Loader.String()
		return res, true
	}

	found := u.lookup(ctx, unit, logger)
	if found == nil || found.res.Latest == nil {
		res.Status, res.Reason = StatusNoSource, "no source returned a release"
		if unit.DownloadLink == "" {
			res.Reason = "no download link and brute check found nothing"
		}
		return res, true
	}
	res.Latest, res.Source, res.PageURL = found.res.Latest, found.source, found.res.PageURL
	if res.PageURL == "" {
		res.PageURL = unit.DownloadLink
	}
	logger = logger.With("current", unit.Version.String(), "latest", res.Latest.String(), "source", found.source)

	switch c := unit.Version.Compare(res.Latest); {
	case c == 0:
		logger.Info("up to date")
		res.Status = StatusUpToDate
		return res, true
	case c > 0:
		logger.Info("installed version is newer than upstream")
		res.Status = StatusNewer
		return res, true
	}

	if u.opts.Mode == ModeManual {
		logger.Info("update available", "page", res.PageURL)
		res.Status, res.Reason = StatusManual, "update available"
		return res, true
	}
	if len(found.res.Downloads) == 0 {
		logger.Warn("update available but no downloadable assets", "page", res.PageURL)
		res.Status, res.Reason = StatusManual, "no downloadable assets"
		return res, true
	}

	out := u.install(ctx, unit, found.res, logger)
	res.Installed, res.Failed, res.Reason = out.installed, out.failed, out.reason
	switch {
	case out.installed == 0 && out.failed == 0:
		res.Status = StatusManual
		if res.Reason == "" {
			res.Reason = "no downloads were allowed by the unit config"
		}
	case out.installed > 0 && out.failed == 0:
		res.Status = StatusUpdated
		logger.Info("updated", "files", out.installed, "superseded", out.superseded)
	case out.installed > 0:
		res.Status = StatusPartial
		logger.Warn("partially updated", "installed", out.installed, "failed", out.failed)
	default:
		res.Status = StatusFailed
		logger.Error("update failed", "failed", out.failed, "reason", out.reason)
	}
	return res, true
}

// lookup consults the active sources in registration order and returns the
// first result. Units with a link use Search; brute check applies only to
// units without one.
func (u *Updater) lookup(ctx context.Context, unit *melon.Unit, logger *log.Logger) *lookupResult {
	reg := u.opts.Registry
	if reg == nil {
		return nil
	}
	start := u.opts.Clock.Now()
	defer func() { u.opts.Metrics.lookup(u.opts.Clock.Now().Sub(start).Seconds()) }()

	var sources []*extension.Entry
	for _, e := range reg.ActiveSources() {
		if !e.CanSearch(unit.Config) {
			logger.Debug("source excluded by unit platform policy", "source", e.Desc.Name)
			continue
		}
		if err := e.PrepareUnit(ctx, unit); err != nil {
			logger.Warn("preparing unit for source", "source", e.Desc.Name, "err", err)
			continue
		}
		sources = append(sources, e)
	}

	if unit.DownloadLink != "" {
		for _, e := range sources {
			res, err := e.Search(ctx, unit.DownloadLink, unit.Version)
			if found := u.accept(e, res, err, logger); found != nil {
				return found
			}
		}
		return nil
	}

	if !u.opts.BruteCheck || !unit.Config.AllowsBruteCheck() {
		logger.Debug("no download link and brute check disabled")
		return nil
	}
	for _, e := range sources {
		if !e.SupportsBruteCheck() {
			continue
		}
		res, err := e.BruteCheck(ctx, unit.Name, unit.Author, unit.Version)
		if found := u.accept(e, res, err, logger); found != nil {
			return found
		}
	}
	return nil
}

func (u *Updater) accept(e *extension.Entry, res *extension.SourceResult, err error, logger *log.Logger) *lookupResult {
	switch {
	case errors.Is(err, extension.ErrRotten):
		return nil
	case err != nil:
		logger.Warn("source lookup failed", "source", e.Desc.Name, "err", err)
		return nil
	case res == nil:
		return nil
	case res.Latest == nil:
		logger.Error("source returned a release without a version", "source", e.Desc.Name)
		return nil
	}
	return &lookupResult{res: res, source: e.Desc.Name}
}

// SPDX-License-Identifier: MPL-2.0

// Package installer places downloaded unit binaries into the host's Mods or
// Plugins directory, backing up whatever they replace, and repairs stale
// embedded metadata afterwards.
package installer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/melonup/melonup/internal/archive"
	"github.com/melonup/melonup/internal/backup"
	"github.com/melonup/melonup/internal/binfmt"
	"github.com/melonup/melonup/internal/melon"
	"github.com/melonup/melonup/internal/version"
)

type (
	// MetadataWriter rewrites the identity fields embedded in an installed
	// binary.
	MetadataWriter interface {
		PatchVersion(path, v string) error
		PatchDownloadLink(path, link string) error
	}

	// Installer installs unit binaries. Loader is the running loader version
	// used for the compatibility gate; nil accepts everything.
	Installer struct {
		Mods     string
		Plugins  string
		Loader   *version.Version
		Backups  *backup.Store
		Metadata MetadataWriter
		Logger   *log.Logger
	}

	// Request carries what the lookup learned about the unit being updated.
	// Unit and Author identify it; Latest and PageURL only describe binaries
	// carrying that identity.
	Request struct {
		Unit    string
		Author  string
		Latest  *version.Version
		PageURL string
		// Replaces is the on-disk file of the unit being updated. When the new
		// binary has a different file name, this file is retired to backups.
		Replaces string
	}

	// Outcome reports one install attempt. Handled is false when the file is
	// not a managed unit binary and should be treated as a plain file.
	Outcome struct {
		Handled   bool
		Installed bool
		HardFault bool
		Path      string
		Unit      *melon.Unit
		Reason    string
	}

	bound struct {
		inst *Installer
		req  Request
	}
)

// Install classifies the binary at path and, when it is a compatible Mod or
// Plugin, moves it into place. It never panics and never returns an error;
// every failure is folded into the Outcome and logged.
func (i *Installer) Install(ctx context.Context, path string, req Request) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			i.logger().Error("installer panic", "file", filepath.Base(path), "panic", r)
			out = Outcome{Handled: true, HardFault: true, Reason: fmt.Sprintf("panic: %v", r)}
		}
	}()

	if err := ctx.Err(); err != nil {
		return Outcome{Handled: true, HardFault: true, Reason: err.Error()}
	}

	u, err := melon.Load(path)
	switch {
	case errors.Is(err, binfmt.ErrUnrecognized):
		return Outcome{Reason: "not a binary"}
	case errors.Is(err, binfmt.ErrMalformed):
		i.logger().Error("malformed binary", "file", filepath.Base(path), "err", err)
		return Outcome{Handled: true, HardFault: true, Reason: "malformed binary"}
	case err != nil:
		i.logger().Error("reading unit metadata", "file", filepath.Base(path), "err", err)
		return Outcome{Handled: true, Reason: err.Error()}
	}

	if !u.Managed() {
		i.logger().Warn("not a managed unit, copying as a plain file", "file", filepath.Base(path))
		return Outcome{Unit: u, Reason: "not a managed unit"}
	}

	if !u.CompatibleWith(i.Loader) {
		i.logger().Warn("downloaded build is incompatible with the running loader",
			"unit", u.Name, "requires", u.Loader.String(), "loader", i.Loader.String())
		return Outcome{Handled: true, Unit: u, Reason: "requires loader " + u.Loader.String()}
	}

	dir := i.Mods
	if u.Kind == melon.KindPlugin {
		dir = i.Plugins
	}
	dst := filepath.Join(dir, filepath.Base(path))

	if _, err := i.Backups.Replace(path, dst); err != nil {
		i.logger().Error("placing unit", "unit", u.Name, "dest", dst, "err", err)
		return Outcome{Handled: true, HardFault: true, Unit: u, Reason: err.Error()}
	}
	i.retireReplaced(req.Replaces, dst, u)
	if req.describes(u) {
		i.repairMetadata(dst, req)
	}

	i.logger().Info("installed", "unit", u.Name, "version", u.Version.String(), "dest", dst)
	return Outcome{Handled: true, Installed: true, Path: dst, Unit: u}
}

// For binds req so the installer can serve as an archive.BinaryInstaller.
func (i *Installer) For(req Request) archive.BinaryInstaller {
	return bound{inst: i, req: req}
}

// InstallBinary implements archive.BinaryInstaller.
func (b bound) InstallBinary(ctx context.Context, path string) archive.BinaryOutcome {
	out := b.inst.Install(ctx, path, b.req)
	return archive.BinaryOutcome{Handled: out.Handled, Installed: out.Installed, HardFault: out.HardFault}
}

// retireReplaced moves the previous file of the same unit into backups when
// the new build was installed under a different file name.
func (i *Installer) retireReplaced(old, dst string, installed *melon.Unit) {
	if old == "" || filepath.Clean(old) == filepath.Clean(dst) {
		return
	}
	prev, err := melon.Load(old)
	if err != nil || !strings.EqualFold(prev.Name, installed.Name) {
		return //nolint:nilerr // A missing or foreign file is not ours to retire.
	}
	if moved, err := i.Backups.Retire(old); err != nil {
		i.logger().Warn("could not retire replaced file", "file", old, "err", err)
	} else {
		i.logger().Debug("retired replaced file", "file", old, "backup", moved)
	}
}

// describes reports whether the release in r belongs to u. Bundled
// dependencies are separate units and keep their own metadata. An empty
// author on either side matches any author.
func (r Request) describes(u *melon.Unit) bool {
	if r.Unit == "" || !strings.EqualFold(r.Unit, u.Name) {
		return false
	}
	return r.Author == "" || u.Author == "" || strings.EqualFold(r.Author, u.Author)
}

// repairMetadata patches the installed binary when it under-reports its own
// version or lacks a download link. Failures are logged only.
func (i *Installer) repairMetadata(dst string, req Request) {
	if i.Metadata == nil {
		return
	}
	installed, err := melon.Load(dst)
	if err != nil || installed.Version == nil {
		i.logger().Warn("re-reading installed metadata", "file", dst, "err", err)
		return
	}

	if req.Latest != nil && installed.Version.Less(req.Latest) {
		if err := i.Metadata.PatchVersion(dst, req.Latest.String()); err != nil {
			i.logger().Warn("patching embedded version", "file", filepath.Base(dst), "err", err)
		} else {
			i.logger().Info("patched embedded version",
				"file", filepath.Base(dst), "from", installed.Version.String(), "to", req.Latest.String())
		}
	}

	if installed.DownloadLink == "" && req.PageURL != "" {
		if err := i.Metadata.PatchDownloadLink(dst, req.PageURL); err != nil {
			i.logger().Warn("patching download link", "file", filepath.Base(dst), "err", err)
		}
	}
}

func (i *Installer) logger() *log.Logger {
	if i.Logger == nil {
		return log.Default()
	}
	return i.Logger
}

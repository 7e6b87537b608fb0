// SPDX-License-Identifier: MPL-2.0

// Package hostinfo describes the host installation being maintained: the
// runtime it executes on, the loader version it runs, and its directory
// layout.
package hostinfo

import (
	"context"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/melonup/melonup/internal/archive"
	"github.com/melonup/melonup/internal/version"
)

type (
	// Runtime is an OS/architecture pair in GOOS/GOARCH spelling.
	Runtime struct {
		OS   string
		Arch string
	}

	// Layout is the set of directories the updater reads and writes.
	Layout struct {
		Root            string
		Mods            string
		Plugins         string
		UserLibs        string
		UserData        string
		Backups         string
		Temp            string
		Extensions      string
		ExtensionConfig string
	}

	// Host bundles what the pipeline needs to know about the installation.
	Host struct {
		Loader  *version.Version
		Runtime Runtime
		Layout  Layout
	}
)

// String renders "os/arch".
func (r Runtime) String() string {
	return r.OS + "/" + r.Arch
}

// DetectRuntime asks the operating system for its kernel architecture and
// falls back to the values the binary was compiled for.
func DetectRuntime(ctx context.Context) Runtime {
	rt := Runtime{OS: runtime.GOOS, Arch: runtime.GOARCH}
	info, err := host.InfoWithContext(ctx)
	if err != nil || info == nil {
		return rt
	}
	if info.OS != "" {
		rt.OS = strings.ToLower(info.OS)
	}
	if arch := NormalizeArch(info.KernelArch); arch != "" {
		rt.Arch = arch
	}
	return rt
}

// NormalizeArch maps kernel architecture names onto GOARCH values. Unknown
// names map to "".
func NormalizeArch(kernel string) string {
	switch strings.ToLower(strings.TrimSpace(kernel)) {
	case "x86_64", "amd64", "x64":
		return "amd64"
	case "i386", "i486", "i586", "i686", "x86", "386":
		return "386"
	case "aarch64", "arm64", "armv8", "armv8l":
		return "arm64"
	case "armv7l", "armv6l", "arm":
		return "arm"
	case "riscv64":
		return "riscv64"
	default:
		return ""
	}
}

// DefaultLayout derives the standard directory names under root. Any
// non-empty field of overrides replaces the derived value; relative
// overrides are resolved against root.
func DefaultLayout(root string, overrides Layout) Layout {
	l := Layout{
		Root:            root,
		Mods:            filepath.Join(root, "Mods"),
		Plugins:         filepath.Join(root, "Plugins"),
		UserLibs:        filepath.Join(root, "UserLibs"),
		UserData:        filepath.Join(root, "UserData"),
		Backups:         filepath.Join(root, "Backups"),
		Temp:            filepath.Join(root, "MelonUpTemp"),
		Extensions:      filepath.Join(root, "UserData", "MelonUp", "Extensions"),
		ExtensionConfig: filepath.Join(root, "UserData", "MelonUp", "ExtensionConfig"),
	}
	override := func(dst *string, v string) {
		if v == "" {
			return
		}
		if !filepath.IsAbs(v) {
			v = filepath.Join(root, v)
		}
		*dst = v
	}
	override(&l.Mods, overrides.Mods)
	override(&l.Plugins, overrides.Plugins)
	override(&l.UserLibs, overrides.UserLibs)
	override(&l.UserData, overrides.UserData)
	override(&l.Backups, overrides.Backups)
	override(&l.Temp, overrides.Temp)
	override(&l.Extensions, overrides.Extensions)
	override(&l.ExtensionConfig, overrides.ExtensionConfig)
	return l
}

// Targets returns the merge destinations for this layout.
func (l Layout) Targets() archive.Targets {
	return archive.Targets{
		Root:     l.Root,
		Mods:     l.Mods,
		Plugins:  l.Plugins,
		UserLibs: l.UserLibs,
		UserData: l.UserData,
	}
}

// SPDX-License-Identifier: MPL-2.0

package hostinfo

import (
	"context"
	"path/filepath"
	"testing"
)

func TestNormalizeArch(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"x86_64":  "amd64",
		"AMD64":   "amd64",
		"aarch64": "arm64",
		"i686":    "386",
		"armv7l":  "arm",
		"sparc64": "",
		"":        "",
	}
	for in, want := range tests {
		if got := NormalizeArch(in); got != want {
			t.Errorf("NormalizeArch(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDetectRuntime(t *testing.T) {
	t.Parallel()

	rt := DetectRuntime(context.Background())
	if rt.OS == "" || rt.Arch == "" {
		t.Errorf("DetectRuntime() = %+v, want both fields set", rt)
	}
}

func TestDefaultLayout(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "Game")
	abs := filepath.Join(t.TempDir(), "bk")
	l := DefaultLayout(root, Layout{Plugins: "Extra/Plugins", Backups: abs})

	if l.Mods != filepath.Join(root, "Mods") {
		t.Errorf("Mods = %s", l.Mods)
	}
	if l.Plugins != filepath.Join(root, "Extra", "Plugins") {
		t.Errorf("Plugins = %s", l.Plugins)
	}
	if l.Backups != abs {
		t.Errorf("Backups = %s", l.Backups)
	}

	tg := l.Targets()
	if tg.Root != root || tg.UserData != l.UserData {
		t.Errorf("Targets() = %+v", tg)
	}
}

// SPDX-License-Identifier: MPL-2.0

package melon

import (
	"errors"
	"testing"

	"github.com/melonup/melonup/internal/binfmt"
	"github.com/melonup/melonup/internal/testutil/melontest"
	"github.com/melonup/melonup/internal/version"
	"pgregory.net/rapid"
)

func TestLoad(t *testing.T) {
	t.Parallel()

	path := melontest.Write(t, t.TempDir(), "Cool.so", melontest.Unit{
		Name:          "Cool",
		Version:       "v1.0.0",
		Author:        "dev",
		DownloadLink:  " https://github.com/dev/cool ",
		Kind:          "Plugin",
		LoaderVersion: "0.5.0",
		LoaderMinimum: true,
		Framework:     "6.0.0",
		Config:        `{"disabled":false,"doNotInclude":["x.txt"],"bruteCheck":false}`,
	})

	u, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if u.Kind != KindPlugin || !u.Managed() {
		t.Errorf("Kind = %v", u.Kind)
	}
	if u.Version.String() != "1.0.0" {
		t.Errorf("Version = %s", u.Version)
	}
	if u.DownloadLink != "https://github.com/dev/cool" {
		t.Errorf("DownloadLink = %q", u.DownloadLink)
	}
	if !u.CompatibleWith(version.MustParse("0.6.0")) || u.CompatibleWith(version.MustParse("0.4.9")) {
		t.Error("loader requirement not honored")
	}
	if u.Reference == nil || u.Reference.String() != "6.0.0" {
		t.Errorf("Reference = %v", u.Reference)
	}
	if u.Config == nil || u.Config.AllowsBruteCheck() || u.Config.CanInclude("x.txt") {
		t.Errorf("Config = %+v", u.Config)
	}
	if u.Label() != "Cool by dev" {
		t.Errorf("Label() = %q", u.Label())
	}
}

func TestLoad_Other(t *testing.T) {
	t.Parallel()

	path := melontest.Write(t, t.TempDir(), "libdep.so", melontest.Unit{NoManifest: true})
	u, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if u.Kind != KindOther || u.Managed() {
		t.Errorf("Kind = %v, want other", u.Kind)
	}
}

func TestLoad_BadVersion(t *testing.T) {
	t.Parallel()

	path := melontest.Write(t, t.TempDir(), "Bad.so", melontest.Unit{Name: "Bad", Version: "latest", Author: "x"})
	if _, err := Load(path); !errors.Is(err, version.ErrInvalidVersion) {
		t.Errorf("Load() error = %v, want ErrInvalidVersion", err)
	}
}

func TestLoad_NotBinary(t *testing.T) {
	t.Parallel()

	if _, err := Load("testdata-does-not-exist"); err == nil {
		t.Error("Load() on missing file succeeded")
	}
	path := melontest.Write(t, t.TempDir(), "k.so", melontest.Unit{Name: "K", Version: "1.0.0", Kind: "weird"})
	u, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if u.Kind != KindOther {
		t.Errorf("unknown kind classified as %v", u.Kind)
	}
	if u.Format != binfmt.FormatELF {
		t.Errorf("Format = %v", u.Format)
	}
}

func TestCanInclude(t *testing.T) {
	t.Parallel()

	cfg := &Config{DoNotInclude: []string{"test.dll", "UserData/cache", "docs", "", "/"}}

	tests := []struct {
		path string
		want bool
	}{
		{"test.dll", false},
		{"Mods/test.dll", false},
		{"TEST.DLL", false},
		{"keep.dll", true},
		{"UserData/cache", false},
		{"UserData/cache/a.bin", false},
		{`UserData\cache\b.bin`, false},
		{"UserData/cache2/a.bin", true},
		{"cache", true},
		{"Mods/docs/readme.md", false},
		{"docs", false},
		{"documents/readme.md", true},
		{"", true},
	}

	for _, tt := range tests {
		if got := cfg.CanInclude(tt.path); got != tt.want {
			t.Errorf("CanInclude(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}

	var nilCfg *Config
	if !nilCfg.CanInclude("anything") {
		t.Error("nil config must include everything")
	}
}

func TestCanInclude_PureAndTotal(t *testing.T) {
	t.Parallel()

	segment := rapid.SampledFrom([]string{"a", "B", "mods", "x.dll", "..", ".", "", " ", "\\", "c/d"})
	genPath := rapid.Custom(func(t *rapid.T) string {
		parts := rapid.SliceOfN(segment, 0, 6).Draw(t, "parts")
		sep := rapid.SampledFrom([]string{"/", "\\", "//"}).Draw(t, "sep")
		out := ""
		for i, p := range parts {
			if i > 0 {
				out += sep
			}
			out += p
		}
		return out
	})

	rapid.Check(t, func(t *rapid.T) {
		p := genPath.Draw(t, "path")
		patterns := rapid.SliceOfN(genPath, 0, 4).Draw(t, "patterns")
		cfg := &Config{DoNotInclude: patterns}

		first := cfg.CanInclude(p)
		second := cfg.CanInclude(p)
		if first != second {
			t.Fatalf("CanInclude(%q) not deterministic", p)
		}
		if len(patterns) != len(cfg.DoNotInclude) {
			t.Fatal("CanInclude mutated its patterns")
		}
		for _, pat := range patterns {
			if pat == p && len(splitPath(p)) > 0 && first {
				t.Fatalf("exact pattern %q did not exclude itself", p)
			}
		}
	})
}

func TestAllowsDownload(t *testing.T) {
	t.Parallel()

	var none *Config
	if !none.AllowsDownload("a.zip") {
		t.Error("nil config must allow downloads")
	}
	if !(&Config{}).AllowsDownload("a.zip") {
		t.Error("absent allow-list must allow downloads")
	}

	cfg := &Config{AllowedFileDownloads: []string{"Mod.dll", "extras.zip"}}
	if !cfg.AllowsDownload("mod.DLL") || !cfg.AllowsDownload("/tmp/x/extras.zip") {
		t.Error("listed file rejected")
	}
	if cfg.AllowsDownload("other.zip") {
		t.Error("unlisted file allowed")
	}
	if (&Config{AllowedFileDownloads: []string{}}).AllowsDownload("a.zip") {
		t.Error("empty allow-list must reject everything")
	}
}

func TestAllowsPlatform(t *testing.T) {
	t.Parallel()

	white := &Config{Platform: &Platform{Whitelist: true, List: []string{"GitHub"}}}
	black := &Config{Platform: &Platform{List: []string{"nexus"}}}

	if !white.AllowsPlatform("github") || white.AllowsPlatform("Thunderstore") {
		t.Error("whitelist semantics violated")
	}
	if black.AllowsPlatform("Nexus") || !black.AllowsPlatform("GitHub") {
		t.Error("blacklist semantics violated")
	}
	if !(&Config{}).AllowsPlatform("anything") {
		t.Error("absent platform list must allow everything")
	}
}

func TestParseConfig(t *testing.T) {
	t.Parallel()

	cfg, err := ParseConfig([]byte(`{"disabled":true,"allowedFileDownloads":["a.dll"],"platform":{"whitelist":true,"list":["GitHub"]}}`))
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if !cfg.Disabled || len(cfg.AllowedFileDownloads) != 1 || cfg.Platform == nil || !cfg.Platform.Whitelist {
		t.Errorf("ParseConfig() = %+v", cfg)
	}
	if _, err := ParseConfig([]byte("{")); err == nil {
		t.Error("ParseConfig() accepted invalid JSON")
	}
}

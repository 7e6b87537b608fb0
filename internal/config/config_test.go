// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/melonup/melonup/internal/issue"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// clearEnv unsets every variable the loader reads so the host environment
// cannot leak into assertions.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range envAliases {
		t.Setenv(env, "")
		_ = os.Unsetenv(env)
	}
	for _, key := range []string{"MELONUP_MODE", "MELONUP_SOURCES_GITHUB_TOKEN", "MELONUP_SOURCES_NEXUS_API_KEY"} {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if cfg.Mode != ModeAuto || !cfg.BruteCheck || cfg.Network.Timeout != DefaultTimeout {
		t.Errorf("DefaultConfig() = %+v", cfg)
	}
	if ok, errs := cfg.IsValid(); !ok {
		t.Errorf("defaults invalid: %v", errs)
	}
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	cfg, path, err := loadWithOptions(context.Background(), LoadOptions{ConfigDirPath: t.TempDir()})
	if err != nil {
		t.Fatalf("load error = %v", err)
	}
	if path != "" {
		t.Errorf("resolved path = %q, want empty", path)
	}
	if cfg.Mode != ModeAuto || cfg.UI.ColorScheme != ColorSchemeAuto || cfg.Network.Timeout != DefaultTimeout {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	path := writeConfig(t, dir, `
mode: "manual"
brute_check: false
ignore: ["Broken", "Other.dll"]
host: {
	dir: "/games/host"
	loader_version: "0.6.1"
}
paths: temp: "scratch"
network: timeout: "1m30s"
sources: {
	github: token: "ghp_file"
	s3: {
		region: "eu-west-1"
		path_style: true
	}
}
metrics: textfile: "/var/lib/node/melonup.prom"
ui: verbose: true
`)

	cfg, resolved, err := loadWithOptions(context.Background(), LoadOptions{ConfigDirPath: dir})
	if err != nil {
		t.Fatalf("load error = %v", err)
	}
	if resolved != path {
		t.Errorf("resolved = %q, want %q", resolved, path)
	}
	if cfg.Mode != ModeManual || cfg.BruteCheck {
		t.Errorf("mode/brute = %s/%v", cfg.Mode, cfg.BruteCheck)
	}
	if strings.Join(cfg.Ignore, ",") != "Broken,Other.dll" {
		t.Errorf("ignore = %v", cfg.Ignore)
	}
	if cfg.Host.Dir != "/games/host" || cfg.Host.LoaderVersion != "0.6.1" || cfg.Paths.Temp != "scratch" {
		t.Errorf("host/paths = %+v %+v", cfg.Host, cfg.Paths)
	}
	if cfg.Network.Timeout != 90*time.Second {
		t.Errorf("timeout = %s", cfg.Network.Timeout)
	}
	if cfg.Sources.GitHub.Token != "ghp_file" || cfg.Sources.S3.Region != "eu-west-1" || !cfg.Sources.S3.PathStyle {
		t.Errorf("sources = %+v", cfg.Sources)
	}
	if cfg.Metrics.Textfile == "" || !cfg.UI.Verbose || cfg.UI.ColorScheme != ColorSchemeAuto {
		t.Errorf("metrics/ui = %+v %+v", cfg.Metrics, cfg.UI)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	writeConfig(t, dir, `sources: github: token: "from-file"`)
	t.Setenv("GITHUB_TOKEN", "from-env")
	t.Setenv("NEXUS_API_KEY", "nexus-env")
	t.Setenv("MELONUP_MODE", "manual")

	cfg, _, err := loadWithOptions(context.Background(), LoadOptions{ConfigDirPath: dir})
	if err != nil {
		t.Fatalf("load error = %v", err)
	}
	if cfg.Sources.GitHub.Token != "from-env" {
		t.Errorf("github token = %q, want env value", cfg.Sources.GitHub.Token)
	}
	if cfg.Sources.Nexus.APIKey != "nexus-env" {
		t.Errorf("nexus key = %q", cfg.Sources.Nexus.APIKey)
	}
	if cfg.Mode != ModeManual {
		t.Errorf("mode = %q", cfg.Mode)
	}
}

func TestLoad_SchemaErrors(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad mode", `mode: "sometimes"`, "mode"},
		{"unknown key", `colour: "red"`, "colour"},
		{"bad duration", `network: timeout: "soon"`, "network.timeout"},
		{"wrong type", `brute_check: "yes"`, "brute_check"},
		{"syntax", `mode: `, "config.cue"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, tt.content)

			_, _, err := loadWithOptions(context.Background(), LoadOptions{ConfigDirPath: dir})
			if err == nil {
				t.Fatal("load error = nil")
			}
			var ae *issue.ActionableError
			if !errors.As(err, &ae) || ae.Issue != issue.ConfigLoadFailedId {
				t.Fatalf("error = %T %v, want actionable config error", err, err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad_SemanticValidation(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	writeConfig(t, dir, `
host: loader_version: "not-a-version"
network: timeout: "0s"
sources: nexus: api_base: "nexus.example"
`)
	_, _, err := loadWithOptions(context.Background(), LoadOptions{ConfigDirPath: dir})
	for _, sentinel := range []error{ErrInvalidConfig, ErrInvalidLoaderVersion, ErrInvalidTimeout, ErrInvalidURL} {
		if !errors.Is(err, sentinel) {
			t.Errorf("errors.Is(err, %v) = false; err = %v", sentinel, err)
		}
	}
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	clearEnv(t)

	missing := filepath.Join(t.TempDir(), "nope.cue")
	_, err := NewProvider().Load(context.Background(), LoadOptions{ConfigFilePath: missing})
	var ae *issue.ActionableError
	if !errors.As(err, &ae) || ae.Resource != missing {
		t.Errorf("error = %v, want actionable error naming the file", err)
	}
}

func TestLoad_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := loadWithOptions(ctx, LoadOptions{}); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(t.TempDir())

	p := NewProvider()
	path, exists, err := p.Resolve(LoadOptions{ConfigDirPath: dir})
	if err != nil || exists || path != filepath.Join(dir, "config.cue") {
		t.Errorf("Resolve() = %q, %v, %v", path, exists, err)
	}

	writeConfig(t, ".", `mode: "auto"`)
	path, exists, _ = p.Resolve(LoadOptions{ConfigDirPath: dir})
	if !exists || path != "config.cue" {
		t.Errorf("Resolve() with local file = %q, %v", path, exists)
	}

	want := writeConfig(t, dir, `mode: "auto"`)
	path, exists, _ = p.Resolve(LoadOptions{ConfigDirPath: dir})
	if !exists || path != want {
		t.Errorf("Resolve() prefers config dir: got %q, %v", path, exists)
	}
}

func TestConfigDir_Override(t *testing.T) {
	SetConfigDirOverride("/tmp/override")
	t.Cleanup(Reset)

	dir, err := ConfigDir()
	if err != nil || dir != "/tmp/override" {
		t.Errorf("ConfigDir() = %q, %v", dir, err)
	}
	path, _ := DefaultPath()
	if path != filepath.Join("/tmp/override", "config.cue") {
		t.Errorf("DefaultPath() = %q", path)
	}
}

func TestGenerateCUE_RoundTrip(t *testing.T) {
	clearEnv(t)

	want := DefaultConfig()
	want.Mode = ModeManual
	want.Ignore = []string{`Quote"d`, "Plain"}
	want.Host.LoaderVersion = "0.6.1"
	want.Network.Timeout = 45 * time.Second
	want.Sources.S3.PathStyle = true
	want.Sources.Nexus.APIBase = "https://api.nexus.example"
	want.UI.ColorScheme = ColorSchemeDark

	dir := t.TempDir()
	path := filepath.Join(dir, "config.cue")
	written, err := WriteFile(path, want, false)
	if err != nil || !written {
		t.Fatalf("WriteFile() = %v, %v", written, err)
	}
	if written, _ := WriteFile(path, DefaultConfig(), false); written {
		t.Error("WriteFile() overwrote an existing file without overwrite")
	}

	got, _, err := loadWithOptions(context.Background(), LoadOptions{ConfigFilePath: path})
	if err != nil {
		t.Fatalf("reloading generated config: %v\n%s", err, GenerateCUE(want))
	}
	if got.Mode != want.Mode || got.Network.Timeout != want.Network.Timeout ||
		got.Host.LoaderVersion != want.Host.LoaderVersion || got.UI.ColorScheme != want.UI.ColorScheme ||
		!got.Sources.S3.PathStyle || got.Sources.Nexus.APIBase != want.Sources.Nexus.APIBase ||
		strings.Join(got.Ignore, "|") != strings.Join(want.Ignore, "|") {
		t.Errorf("round trip mismatch:\ngot  %+v\nwant %+v", got, want)
	}
}

func TestRedacted(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Sources.GitHub.Token = "secret"
	cfg.Sources.S3.SecretAccessKey = "secret"
	r := cfg.Redacted()
	if r.Sources.GitHub.Token != redacted || r.Sources.S3.SecretAccessKey != redacted {
		t.Errorf("Redacted() = %+v", r.Sources)
	}
	if r.Sources.Nexus.APIKey != "" {
		t.Error("empty credential should stay empty")
	}
	if cfg.Sources.GitHub.Token != "secret" {
		t.Error("Redacted() modified the receiver")
	}
}

func TestIsValid_Fields(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Mode = "sometimes"
	cfg.UI.ColorScheme = "neon"
	ok, errs := cfg.IsValid()
	if ok || len(errs) != 1 {
		t.Fatalf("IsValid() = %v, %v", ok, errs)
	}
	var invalid *InvalidConfigError
	if !errors.As(errs[0], &invalid) || len(invalid.FieldErrors) != 2 {
		t.Fatalf("errs[0] = %v", errs[0])
	}
	if !errors.Is(errs[0], ErrInvalidMode) || !errors.Is(errs[0], ErrInvalidColorScheme) {
		t.Errorf("field sentinels not reachable from %v", errs[0])
	}
}

// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"

	"github.com/melonup/melonup/internal/cueutil"
	"github.com/melonup/melonup/internal/issue"
)

const (
	// AppName is the application name.
	AppName = "melonup"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes the generic MELONUP_<KEY> overrides.
	EnvPrefix = "MELONUP"
)

// envAliases are the conventional variables honored besides MELONUP_<KEY>.
var envAliases = map[string]string{
	"sources.github.token":         "GITHUB_TOKEN",
	"sources.nexus.api_key":        "NEXUS_API_KEY",
	"sources.s3.access_key_id":     "AWS_ACCESS_KEY_ID",
	"sources.s3.secret_access_key": "AWS_SECRET_ACCESS_KEY",
	"sources.s3.region":            "AWS_REGION",
}

//go:embed config_schema.cue
var configSchema string

// ConfigDir returns the melonup configuration directory using platform
// conventions: %APPDATA% on Windows, ~/Library/Application Support on macOS
// and $XDG_CONFIG_HOME (default ~/.config) elsewhere.
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, "Library", "Application Support")
	default:
		base = os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, AppName), nil
}

// DefaultPath returns the config file inside ConfigDir.
func DefaultPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName+"."+ConfigFileExt), nil
}

// resolvePath picks the file to load: the explicit path, then the config
// directory, then ./config.cue. When none exists the config-directory path
// is returned with exists false.
func resolvePath(opts LoadOptions) (string, bool, error) {
	if opts.ConfigFilePath != "" {
		return opts.ConfigFilePath, fileExists(opts.ConfigFilePath), nil
	}

	dir := opts.ConfigDirPath
	if dir == "" {
		var err error
		if dir, err = ConfigDir(); err != nil {
			return "", false, err
		}
	}
	cuePath := filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
	if fileExists(cuePath) {
		return cuePath, true, nil
	}
	if local := ConfigFileName + "." + ConfigFileExt; fileExists(local) {
		return local, true, nil
	}
	return cuePath, false, nil
}

// newViper returns a Viper instance carrying the defaults and environment
// bindings.
func newViper() *viper.Viper {
	v := viper.New()
	d := DefaultConfig()
	v.SetDefault("mode", string(d.Mode))
	v.SetDefault("brute_check", d.BruteCheck)
	v.SetDefault("ignore", d.Ignore)
	v.SetDefault("network.timeout", d.Network.Timeout)
	v.SetDefault("ui.color_scheme", string(d.UI.ColorScheme))
	v.SetDefault("ui.verbose", d.UI.Verbose)
	for _, key := range []string{
		"host.dir", "host.loader_version",
		"paths.mods", "paths.plugins", "paths.user_libs", "paths.user_data",
		"paths.backups", "paths.temp", "paths.extensions", "paths.extension_config",
		"network.user_agent",
		"sources.github.api_base", "sources.thunderstore.api_base", "sources.nexus.api_base",
		"sources.s3.endpoint", "metrics.textfile",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("sources.s3.path_style", false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envAliases {
		_ = v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env)
	}
	return v
}

// loadWithOptions loads, merges and validates the configuration, returning
// the path that was read ("" when defaults were used).
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	path, exists, err := resolvePath(opts)
	if err != nil {
		return nil, "", err
	}

	v := newViper()
	resolved := ""
	switch {
	case exists:
		if err := loadCUEIntoViper(v, path); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the values match the documented keys and types").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(err).
				BuildError()
		}
		resolved = path
	case opts.ConfigFilePath != "":
		return nil, "", issue.NewErrorContext().
			WithOperation("load configuration").
			WithResource(opts.ConfigFilePath).
			WithSuggestion("Verify the file path is correct").
			WithSuggestion("Use 'melonup config init' to create a configuration file").
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
			BuildError()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	if ok, errs := cfg.IsValid(); !ok {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(resolved).
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(errors.Join(errs...)).
			BuildError()
	}
	return &cfg, resolved, nil
}

// loadCUEIntoViper validates the file against #Config and merges it into v.
// Decoding goes through a map so Viper keeps precedence over defaults and
// below the environment.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := cueutil.CheckFileSize(data, cueutil.DefaultMaxFileSize, path); err != nil {
		return err
	}

	ctx := cuecontext.New()
	schemaValue := ctx.CompileString(configSchema)
	if schemaValue.Err() != nil {
		return fmt.Errorf("internal error: failed to compile config schema: %w", schemaValue.Err())
	}

	userValue := ctx.CompileBytes(data, cue.Filename(path))
	if userValue.Err() != nil {
		return cueutil.FormatError(userValue.Err(), path)
	}

	unified := schemaValue.LookupPath(cue.ParsePath("#Config")).Unify(userValue)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return cueutil.FormatError(err, path)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return cueutil.FormatError(err, path)
	}
	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// WriteFile writes cfg as CUE to path, creating parent directories. An
// existing file is kept unless overwrite is set; written reports whether
// the file was written.
func WriteFile(path string, cfg *Config, overwrite bool) (written bool, err error) {
	if !overwrite && fileExists(path) {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}
	// The file can carry API credentials.
	if err := os.WriteFile(path, []byte(GenerateCUE(cfg)), 0o600); err != nil {
		return false, fmt.Errorf("failed to write config file: %w", err)
	}
	return true, nil
}

// GenerateCUE renders cfg as a config.cue document accepted by the schema.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder
	w := func(format string, args ...any) { fmt.Fprintf(&sb, format, args...) }

	sb.WriteString("// melonup configuration\n\n")
	w("mode:        %q\n", cfg.Mode)
	w("brute_check: %v\n", cfg.BruteCheck)
	if len(cfg.Ignore) == 0 {
		sb.WriteString("ignore: []\n")
	} else {
		sb.WriteString("ignore: [\n")
		for _, ig := range cfg.Ignore {
			w("\t%q,\n", ig)
		}
		sb.WriteString("]\n")
	}

	section := func(name string, fields [][2]string) {
		w("\n%s: {\n", name)
		for _, f := range fields {
			w("\t%s: %s\n", f[0], f[1])
		}
		sb.WriteString("}\n")
	}
	q := func(s string) string { return fmt.Sprintf("%q", s) }

	section("host", [][2]string{
		{"dir", q(cfg.Host.Dir)},
		{"loader_version", q(cfg.Host.LoaderVersion)},
	})
	section("paths", [][2]string{
		{"mods", q(cfg.Paths.Mods)},
		{"plugins", q(cfg.Paths.Plugins)},
		{"user_libs", q(cfg.Paths.UserLibs)},
		{"user_data", q(cfg.Paths.UserData)},
		{"backups", q(cfg.Paths.Backups)},
		{"temp", q(cfg.Paths.Temp)},
		{"extensions", q(cfg.Paths.Extensions)},
		{"extension_config", q(cfg.Paths.ExtensionConfig)},
	})
	section("network", [][2]string{
		{"timeout", q(cfg.Network.Timeout.String())},
		{"user_agent", q(cfg.Network.UserAgent)},
	})

	s := cfg.Sources
	sb.WriteString("\nsources: {\n")
	w("\tgithub: {\n\t\ttoken: %q\n\t\tapi_base: %q\n\t}\n", s.GitHub.Token, s.GitHub.APIBase)
	w("\tthunderstore: {\n\t\tapi_base: %q\n\t}\n", s.Thunderstore.APIBase)
	w("\tnexus: {\n\t\tapi_key: %q\n\t\tapi_base: %q\n\t}\n", s.Nexus.APIKey, s.Nexus.APIBase)
	w("\ts3: {\n\t\tregion: %q\n\t\tendpoint: %q\n\t\taccess_key_id: %q\n\t\tsecret_access_key: %q\n\t\tpath_style: %v\n\t}\n",
		s.S3.Region, s.S3.Endpoint, s.S3.AccessKeyID, s.S3.SecretAccessKey, s.S3.PathStyle)
	sb.WriteString("}\n")

	section("metrics", [][2]string{{"textfile", q(cfg.Metrics.Textfile)}})
	section("ui", [][2]string{
		{"color_scheme", q(string(cfg.UI.ColorScheme))},
		{"verbose", fmt.Sprintf("%v", cfg.UI.Verbose)},
	})
	return sb.String()
}

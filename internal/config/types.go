// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/melonup/melonup/internal/version"
)

const (
	// ModeAuto installs available updates.
	ModeAuto Mode = "auto"
	// ModeManual only reports them.
	ModeManual Mode = "manual"

	// ColorSchemeAuto detects the terminal color scheme automatically.
	ColorSchemeAuto ColorScheme = "auto"
	// ColorSchemeDark forces the dark color scheme.
	ColorSchemeDark ColorScheme = "dark"
	// ColorSchemeLight forces the light color scheme.
	ColorSchemeLight ColorScheme = "light"

	// DefaultTimeout bounds each upstream API call and script invocation.
	DefaultTimeout = 30 * time.Second

	redacted = "<redacted>"
)

var (
	// ErrInvalidMode is returned when a Mode value is not recognized.
	ErrInvalidMode = errors.New("invalid mode")
	// ErrInvalidColorScheme is returned when a ColorScheme value is not recognized.
	ErrInvalidColorScheme = errors.New("invalid color scheme")
	// ErrInvalidLoaderVersion is returned when host.loader_version does not parse.
	ErrInvalidLoaderVersion = errors.New("invalid loader version")
	// ErrInvalidTimeout is returned for a non-positive network timeout.
	ErrInvalidTimeout = errors.New("invalid network timeout")
	// ErrInvalidURL is returned for an API base or endpoint that is not an absolute URL.
	ErrInvalidURL = errors.New("invalid URL")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// Mode selects whether updates are installed or only reported.
	Mode string

	// InvalidModeError wraps ErrInvalidMode.
	InvalidModeError struct {
		Value Mode
	}

	// ColorScheme specifies the terminal color scheme preference.
	ColorScheme string

	// InvalidColorSchemeError wraps ErrInvalidColorScheme.
	InvalidColorSchemeError struct {
		Value ColorScheme
	}

	// InvalidLoaderVersionError wraps ErrInvalidLoaderVersion and the parse error.
	InvalidLoaderVersionError struct {
		Value string
		Err   error
	}

	// InvalidTimeoutError wraps ErrInvalidTimeout.
	InvalidTimeoutError struct {
		Value time.Duration
	}

	// InvalidURLError wraps ErrInvalidURL.
	InvalidURLError struct {
		Field string
		Value string
	}

	// InvalidConfigError collects every field error of a Config and wraps
	// ErrInvalidConfig.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the tool configuration.
	Config struct {
		Mode Mode `json:"mode" mapstructure:"mode"`
		// BruteCheck enables name and author lookups for units without a
		// download link.
		BruteCheck bool `json:"brute_check" mapstructure:"brute_check"`
		// Ignore lists unit file names, with or without extension, to skip.
		Ignore  []string      `json:"ignore" mapstructure:"ignore"`
		Host    HostConfig    `json:"host" mapstructure:"host"`
		Paths   PathsConfig   `json:"paths" mapstructure:"paths"`
		Network NetworkConfig `json:"network" mapstructure:"network"`
		Sources SourcesConfig `json:"sources" mapstructure:"sources"`
		Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`
		UI      UIConfig      `json:"ui" mapstructure:"ui"`
	}

	// HostConfig locates the host installation.
	HostConfig struct {
		// Dir is the installation root; empty means the working directory.
		Dir string `json:"dir" mapstructure:"dir"`
		// LoaderVersion is the installed loader version.
		LoaderVersion string `json:"loader_version" mapstructure:"loader_version"`
	}

	// PathsConfig overrides the directories derived from Host.Dir. Relative
	// values are resolved against Host.Dir.
	PathsConfig struct {
		Mods            string `json:"mods" mapstructure:"mods"`
		Plugins         string `json:"plugins" mapstructure:"plugins"`
		UserLibs        string `json:"user_libs" mapstructure:"user_libs"`
		UserData        string `json:"user_data" mapstructure:"user_data"`
		Backups         string `json:"backups" mapstructure:"backups"`
		Temp            string `json:"temp" mapstructure:"temp"`
		Extensions      string `json:"extensions" mapstructure:"extensions"`
		ExtensionConfig string `json:"extension_config" mapstructure:"extension_config"`
	}

	// NetworkConfig tunes outbound HTTP.
	NetworkConfig struct {
		Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
		// UserAgent empty means "melonup/<version>".
		UserAgent string `json:"user_agent" mapstructure:"user_agent"`
	}

	// SourcesConfig configures the built-in sources.
	SourcesConfig struct {
		GitHub       GitHubConfig       `json:"github" mapstructure:"github"`
		Thunderstore ThunderstoreConfig `json:"thunderstore" mapstructure:"thunderstore"`
		Nexus        NexusConfig        `json:"nexus" mapstructure:"nexus"`
		S3           S3Config           `json:"s3" mapstructure:"s3"`
	}

	// GitHubConfig configures the GitHub releases source.
	GitHubConfig struct {
		Token   string `json:"token" mapstructure:"token"`
		APIBase string `json:"api_base" mapstructure:"api_base"`
	}

	// ThunderstoreConfig configures the Thunderstore source.
	ThunderstoreConfig struct {
		APIBase string `json:"api_base" mapstructure:"api_base"`
	}

	// NexusConfig configures the Nexus source.
	NexusConfig struct {
		APIKey  string `json:"api_key" mapstructure:"api_key"`
		APIBase string `json:"api_base" mapstructure:"api_base"`
	}

	// S3Config configures the object-store release mirror.
	S3Config struct {
		Region          string `json:"region" mapstructure:"region"`
		Endpoint        string `json:"endpoint" mapstructure:"endpoint"`
		AccessKeyID     string `json:"access_key_id" mapstructure:"access_key_id"`
		SecretAccessKey string `json:"secret_access_key" mapstructure:"secret_access_key"`
		PathStyle       bool   `json:"path_style" mapstructure:"path_style"`
	}

	// MetricsConfig controls the run metrics textfile.
	MetricsConfig struct {
		// Textfile is written after each run when set.
		Textfile string `json:"textfile" mapstructure:"textfile"`
	}

	// UIConfig configures terminal output.
	UIConfig struct {
		ColorScheme ColorScheme `json:"color_scheme" mapstructure:"color_scheme"`
		Verbose     bool        `json:"verbose" mapstructure:"verbose"`
	}
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Mode:       ModeAuto,
		BruteCheck: true,
		Ignore:     []string{},
		Network:    NetworkConfig{Timeout: DefaultTimeout},
		UI:         UIConfig{ColorScheme: ColorSchemeAuto},
	}
}

// IsValid validates every typed field and collects all failures into one
// InvalidConfigError.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	collect := func(_ bool, fieldErrs []error) { errs = append(errs, fieldErrs...) }

	collect(c.Mode.IsValid())
	collect(c.UI.ColorScheme.IsValid())
	if c.Host.LoaderVersion != "" {
		if _, err := version.Parse(c.Host.LoaderVersion); err != nil {
			errs = append(errs, &InvalidLoaderVersionError{Value: c.Host.LoaderVersion, Err: err})
		}
	}
	if c.Network.Timeout <= 0 {
		errs = append(errs, &InvalidTimeoutError{Value: c.Network.Timeout})
	}
	for _, u := range []struct{ field, value string }{
		{"sources.github.api_base", c.Sources.GitHub.APIBase},
		{"sources.thunderstore.api_base", c.Sources.Thunderstore.APIBase},
		{"sources.nexus.api_base", c.Sources.Nexus.APIBase},
		{"sources.s3.endpoint", c.Sources.S3.Endpoint},
	} {
		collect(validURL(u.field, u.value))
	}

	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Redacted returns a copy with credentials masked, for display.
func (c Config) Redacted() *Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return redacted
	}
	c.Ignore = append([]string(nil), c.Ignore...)
	c.Sources.GitHub.Token = mask(c.Sources.GitHub.Token)
	c.Sources.Nexus.APIKey = mask(c.Sources.Nexus.APIKey)
	c.Sources.S3.AccessKeyID = mask(c.Sources.S3.AccessKeyID)
	c.Sources.S3.SecretAccessKey = mask(c.Sources.S3.SecretAccessKey)
	return &c
}

func validURL(field, value string) (bool, []error) {
	if value == "" {
		return true, nil
	}
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false, []error{&InvalidURLError{Field: field, Value: value}}
	}
	return true, nil
}

// String returns the string representation of the Mode.
func (m Mode) String() string { return string(m) }

// IsValid reports whether m is auto or manual.
func (m Mode) IsValid() (bool, []error) {
	switch m {
	case ModeAuto, ModeManual:
		return true, nil
	default:
		return false, []error{&InvalidModeError{Value: m}}
	}
}

// String returns the string representation of the ColorScheme.
func (cs ColorScheme) String() string { return string(cs) }

// IsValid reports whether cs is one of the defined color schemes.
func (cs ColorScheme) IsValid() (bool, []error) {
	switch cs {
	case ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight:
		return true, nil
	default:
		return false, []error{&InvalidColorSchemeError{Value: cs}}
	}
}

func (e *InvalidModeError) Error() string {
	return fmt.Sprintf("invalid mode %q (valid: auto, manual)", e.Value)
}

// Unwrap returns ErrInvalidMode.
func (e *InvalidModeError) Unwrap() error { return ErrInvalidMode }

func (e *InvalidColorSchemeError) Error() string {
	return fmt.Sprintf("invalid color scheme %q (valid: auto, dark, light)", e.Value)
}

// Unwrap returns ErrInvalidColorScheme.
func (e *InvalidColorSchemeError) Unwrap() error { return ErrInvalidColorScheme }

func (e *InvalidLoaderVersionError) Error() string {
	return fmt.Sprintf("invalid loader version %q: %v", e.Value, e.Err)
}

// Unwrap returns ErrInvalidLoaderVersion and the parse error.
func (e *InvalidLoaderVersionError) Unwrap() []error { return []error{ErrInvalidLoaderVersion, e.Err} }

func (e *InvalidTimeoutError) Error() string {
	return fmt.Sprintf("invalid network timeout %s: must be positive", e.Value)
}

// Unwrap returns ErrInvalidTimeout.
func (e *InvalidTimeoutError) Unwrap() error { return ErrInvalidTimeout }

func (e *InvalidURLError) Error() string {
	return fmt.Sprintf("%s: %q is not an absolute URL", e.Field, e.Value)
}

// Unwrap returns ErrInvalidURL.
func (e *InvalidURLError) Unwrap() error { return ErrInvalidURL }

// Error lists every field error.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, len(e.FieldErrors))
	for i, err := range e.FieldErrors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("invalid config: %s", strings.Join(msgs, "; "))
}

// Unwrap returns ErrInvalidConfig and the field errors.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}

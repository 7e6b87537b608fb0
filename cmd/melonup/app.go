// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/melonup/melonup/internal/clock"
	"github.com/melonup/melonup/internal/config"
	"github.com/melonup/melonup/internal/extension"
	"github.com/melonup/melonup/internal/extension/builtin"
	"github.com/melonup/melonup/internal/extension/script"
	"github.com/melonup/melonup/internal/hostinfo"
	"github.com/melonup/melonup/internal/issue"
	"github.com/melonup/melonup/internal/source"
	"github.com/melonup/melonup/internal/version"
)

type (
	// App is the composition root of the CLI. Command handlers receive it and
	// build everything else from its dependencies.
	App struct {
		Config     config.Provider
		HTTPClient *http.Client
		Clock      clock.Clock
		// DetectRuntime reports the platform units are selected for.
		DetectRuntime func(context.Context) hostinfo.Runtime
		stdout        io.Writer
		stderr        io.Writer
	}

	// Dependencies are the injection points of NewApp. Nil fields get
	// production defaults.
	Dependencies struct {
		Config        config.Provider
		HTTPClient    *http.Client
		Clock         clock.Clock
		DetectRuntime func(context.Context) hostinfo.Runtime
		Stdout        io.Writer
		Stderr        io.Writer
	}

	// sessionOptions are the command-line overrides shared by the commands
	// that open a host installation.
	sessionOptions struct {
		ConfigPath    string
		Dir           string
		LoaderVersion string
		Verbose       bool
	}

	// session is one opened host installation with its extensions loaded.
	session struct {
		cfg      *config.Config
		host     hostinfo.Host
		registry *extension.Registry
		client   *http.Client
		logger   *log.Logger
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) *App {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.DetectRuntime == nil {
		deps.DetectRuntime = hostinfo.DetectRuntime
	}
	return &App{
		Config:        deps.Config,
		HTTPClient:    deps.HTTPClient,
		Clock:         clock.OrReal(deps.Clock),
		DetectRuntime: deps.DetectRuntime,
		stdout:        deps.Stdout,
		stderr:        deps.Stderr,
	}
}

// loadConfig loads the configuration and applies the verbose setting.
func (a *App) loadConfig(ctx context.Context, opts sessionOptions) (*config.Config, error) {
	cfg, err := a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: opts.ConfigPath})
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		cfg.UI.Verbose = true
	}
	return cfg, nil
}

func (a *App) newLogger(verbose bool) *log.Logger {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	return log.NewWithOptions(a.stderr, log.Options{Prefix: "melonup", Level: level})
}

// openSession resolves the host installation and loads the built-in and
// scripted extensions.
func (a *App) openSession(ctx context.Context, opts sessionOptions) (*session, error) {
	cfg, err := a.loadConfig(ctx, opts)
	if err != nil {
		return nil, err
	}
	logger := a.newLogger(cfg.UI.Verbose)

	host, err := a.resolveHost(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	logger.Debug("host installation", "root", host.Layout.Root, "runtime", host.Runtime.String(),
		"loader", versionString(host.Loader))
	if host.Loader == nil {
		logger.Warn("loader version unknown, loader compatibility checks are skipped")
	}

	client := a.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Network.Timeout}
	}

	candidates := []extension.Candidate{builtin.Candidate(builtin.Config{
		GitHubToken:         cfg.Sources.GitHub.Token,
		GitHubAPIBase:       cfg.Sources.GitHub.APIBase,
		ThunderstoreAPIBase: cfg.Sources.Thunderstore.APIBase,
		NexusAPIKey:         cfg.Sources.Nexus.APIKey,
		NexusAPIBase:        cfg.Sources.Nexus.APIBase,
		S3: source.S3Config{
			Region:          cfg.Sources.S3.Region,
			Endpoint:        cfg.Sources.S3.Endpoint,
			AccessKeyID:     cfg.Sources.S3.AccessKeyID,
			SecretAccessKey: cfg.Sources.S3.SecretAccessKey,
			PathStyle:       cfg.Sources.S3.PathStyle,
		},
		Clock:  a.Clock,
		Logger: logger,
	})}

	scripts, err := script.Discover(host.Layout.Extensions, script.Options{Timeout: cfg.Network.Timeout, Logger: logger})
	if err != nil {
		// Built-in sources still work without scripts.
		logger.Warn("script extensions not loaded", "dir", host.Layout.Extensions, "err", err)
		a.renderIssue(issue.ExtensionsUnreadableId, cfg)
	}
	candidates = append(candidates, scripts...)

	registry := extension.Load(ctx, candidates, extension.LoadOptions{
		HostVersion: host.Loader,
		ToolVersion: source.ToolVersion,
		StorageDir:  host.Layout.ExtensionConfig,
		HTTPClient:  client,
		UserAgent:   userAgent(cfg),
		Logger:      logger,
	})

	return &session{cfg: cfg, host: host, registry: registry, client: client, logger: logger}, nil
}

// resolveHost builds the host description. The directory comes from the
// flag, then the configuration, then the working directory, and must hold a
// Mods or Plugins folder.
func (a *App) resolveHost(ctx context.Context, cfg *config.Config, opts sessionOptions) (hostinfo.Host, error) {
	dir := firstNonEmpty(opts.Dir, cfg.Host.Dir)
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return hostinfo.Host{}, fmt.Errorf("resolving working directory: %w", err)
		}
		dir = wd
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return hostinfo.Host{}, fmt.Errorf("resolving host directory: %w", err)
	}

	p := cfg.Paths
	layout := hostinfo.DefaultLayout(dir, hostinfo.Layout{
		Mods:            p.Mods,
		Plugins:         p.Plugins,
		UserLibs:        p.UserLibs,
		UserData:        p.UserData,
		Backups:         p.Backups,
		Temp:            p.Temp,
		Extensions:      p.Extensions,
		ExtensionConfig: p.ExtensionConfig,
	})
	if !isDir(layout.Mods) && !isDir(layout.Plugins) {
		return hostinfo.Host{}, issue.NewErrorContext().
			WithOperation("open host installation").
			WithResource(dir).
			WithSuggestion("Pass the installation directory with --dir").
			WithSuggestion("Or set host.dir in the configuration").
			WithIssue(issue.HostDirNotFoundId).
			Wrap(errors.New("no Mods or Plugins directory")).
			BuildError()
	}

	var loader *version.Version
	if raw := firstNonEmpty(opts.LoaderVersion, cfg.Host.LoaderVersion); raw != "" {
		if loader, err = version.Parse(raw); err != nil {
			return hostinfo.Host{}, issue.NewErrorContext().
				WithOperation("read loader version").
				WithResource(raw).
				WithSuggestion("Use a semantic version such as 0.6.1").
				WithIssue(issue.LoaderVersionInvalidId).
				Wrap(err).
				BuildError()
		}
	}

	return hostinfo.Host{Loader: loader, Runtime: a.DetectRuntime(ctx), Layout: layout}, nil
}

// renderIssue prints the catalog guidance for id to stderr.
func (a *App) renderIssue(id issue.Id, cfg *config.Config) {
	entry := issue.Get(id)
	if entry == nil {
		return
	}
	rendered, err := entry.Render(glamourStyle(cfg))
	if err != nil {
		fmt.Fprintln(a.stderr, string(entry.MarkdownMsg()))
		return
	}
	fmt.Fprint(a.stderr, rendered)
}

// glamourStyle maps the configured color scheme onto a glamour style.
func glamourStyle(cfg *config.Config) string {
	if cfg == nil {
		return "dark"
	}
	switch cfg.UI.ColorScheme {
	case config.ColorSchemeLight:
		return "light"
	case config.ColorSchemeDark:
		return "dark"
	default:
		return "auto"
	}
}

func userAgent(cfg *config.Config) string {
	if cfg.Network.UserAgent != "" {
		return cfg.Network.UserAgent
	}
	return "melonup/" + source.ToolVersion.String()
}

func versionString(v *version.Version) string {
	if v == nil {
		return "unknown"
	}
	return v.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

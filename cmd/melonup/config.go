// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/melonup/melonup/internal/config"
	"github.com/melonup/melonup/internal/issue"
)

// newConfigCommand creates the `melonup config` command tree.
func newConfigCommand(app *App, root *rootFlags) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage melonup configuration",
		Long: `Manage melonup configuration.

Configuration is stored in:
  - Linux: ~/.config/melonup/config.cue
  - macOS: ~/Library/Application Support/melonup/config.cue
  - Windows: %APPDATA%\melonup\config.cue

Environment variables override the file: MELONUP_<KEY> for any key
(dots become underscores), plus GITHUB_TOKEN, NEXUS_API_KEY and the
standard AWS variables for the sources.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.loadConfig(cmd.Context(), sessionOptions{ConfigPath: root.configPath, Verbose: root.verbose})
			if err != nil {
				return app.setupError(err, nil, root.verbose)
			}
			return app.showConfig(cfg, root.configPath)
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return app.initConfig(root.configPath, force)
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cfgCmd.AddCommand(initCmd)

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			path, exists, err := app.Config.Resolve(config.LoadOptions{ConfigFilePath: root.configPath})
			if err != nil {
				return err
			}
			if exists {
				fmt.Fprintln(app.stdout, path)
			} else {
				fmt.Fprintln(app.stdout, path+" "+SubtitleStyle.Render("(not created yet)"))
			}
			return nil
		},
	})

	var showSecrets bool
	dumpCmd := &cobra.Command{
		Use:   "dump",
		Short: "Output the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.loadConfig(cmd.Context(), sessionOptions{ConfigPath: root.configPath})
			if err != nil {
				return app.setupError(err, nil, root.verbose)
			}
			if !showSecrets {
				cfg = cfg.Redacted()
			}
			fmt.Fprint(app.stdout, config.GenerateCUE(cfg))
			return nil
		},
	}
	dumpCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "print tokens and keys in clear text")
	cfgCmd.AddCommand(dumpCmd)

	return cfgCmd
}

func (a *App) showConfig(cfg *config.Config, configPath string) error {
	keyStyle := CmdStyle
	valueStyle := SuccessStyle
	out := func(key, value string) {
		if value == "" {
			value = SubtitleStyle.Render("(unset)")
		} else {
			value = valueStyle.Render(value)
		}
		fmt.Fprintf(a.stdout, "%s: %s\n", keyStyle.Render(key), value)
	}

	fmt.Fprintln(a.stdout, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(a.stdout)

	path, exists, err := a.Config.Resolve(config.LoadOptions{ConfigFilePath: configPath})
	switch {
	case err != nil || !exists:
		fmt.Fprintf(a.stdout, "%s: %s\n", keyStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	default:
		fmt.Fprintf(a.stdout, "%s: %s\n", keyStyle.Render("Config file"), path)
	}
	fmt.Fprintln(a.stdout)

	cfg = cfg.Redacted()
	out("mode", cfg.Mode.String())
	out("brute_check", fmt.Sprint(cfg.BruteCheck))
	out("ignore", strings.Join(cfg.Ignore, ", "))
	out("host.dir", cfg.Host.Dir)
	out("host.loader_version", cfg.Host.LoaderVersion)
	out("network.timeout", cfg.Network.Timeout.String())
	out("network.user_agent", cfg.Network.UserAgent)
	out("sources.github.token", cfg.Sources.GitHub.Token)
	out("sources.github.api_base", cfg.Sources.GitHub.APIBase)
	out("sources.thunderstore.api_base", cfg.Sources.Thunderstore.APIBase)
	out("sources.nexus.api_key", cfg.Sources.Nexus.APIKey)
	out("sources.s3.region", cfg.Sources.S3.Region)
	out("sources.s3.endpoint", cfg.Sources.S3.Endpoint)
	out("sources.s3.access_key_id", cfg.Sources.S3.AccessKeyID)
	out("metrics.textfile", cfg.Metrics.Textfile)
	out("ui.color_scheme", cfg.UI.ColorScheme.String())
	out("ui.verbose", fmt.Sprint(cfg.UI.Verbose))
	return nil
}

// initConfig writes the defaults to path, or to the default location when
// path is empty.
func (a *App) initConfig(path string, force bool) error {
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return issue.WrapWithContext(err, "locate configuration directory", "")
		}
	}
	written, err := config.WriteFile(path, config.DefaultConfig(), force)
	if err != nil {
		return issue.WrapWithContext(err, "write configuration", path)
	}
	if !written {
		fmt.Fprintln(a.stdout, WarningStyle.Render("Config file already exists: ")+path)
		fmt.Fprintln(a.stdout, SubtitleStyle.Render("Use --force to overwrite it."))
		return nil
	}
	fmt.Fprintln(a.stdout, SuccessStyle.Render("Created config file: ")+path)
	return nil
}

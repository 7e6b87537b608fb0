// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/melonup/melonup/internal/download"
	"github.com/melonup/melonup/internal/issue"
	"github.com/melonup/melonup/internal/updater"
)

type checkFlags struct {
	mode            string
	bruteCheck      bool
	dir             string
	loaderVersion   string
	metricsTextfile string
}

func newCheckCommand(app *App, root *rootFlags) *cobra.Command {
	flags := &checkFlags{}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check every mod and plugin for updates",
		Long: `Check every mod and plugin of the host installation for updates.

In auto mode newer releases are downloaded and installed, and every replaced
file is backed up first. In manual mode melonup only reports what is
available and where to get it.`,
		Example: `  melonup check --dir ~/Games/MyGame
  melonup check --mode manual --loader-version 0.6.1
  melonup check --metrics-textfile /var/lib/node_exporter/melonup.prom`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runCheck(cmd, root, flags)
		},
	}

	cmd.Flags().StringVar(&flags.mode, "mode", "", "update mode: auto or manual (default from config)")
	cmd.Flags().BoolVar(&flags.bruteCheck, "brute-check", true, "look up units without a download link by name and author")
	cmd.Flags().StringVar(&flags.dir, "dir", "", "host installation directory (default from config, then the working directory)")
	cmd.Flags().StringVar(&flags.loaderVersion, "loader-version", "", "installed loader version")
	cmd.Flags().StringVar(&flags.metricsTextfile, "metrics-textfile", "", "write run metrics to this file in node-exporter textfile format")
	return cmd
}

func (a *App) runCheck(cmd *cobra.Command, root *rootFlags, flags *checkFlags) error {
	ctx := cmd.Context()
	opts := sessionOptions{
		ConfigPath:    root.configPath,
		Dir:           flags.dir,
		LoaderVersion: flags.loaderVersion,
		Verbose:       root.verbose,
	}

	s, err := a.openSession(ctx, opts)
	if err != nil {
		return a.setupError(err, nil, root.verbose)
	}

	modeText := s.cfg.Mode.String()
	if flags.mode != "" {
		modeText = flags.mode
	}
	mode, err := updater.ParseMode(modeText)
	if err != nil {
		return a.setupError(err, s.cfg, root.verbose)
	}
	bruteCheck := s.cfg.BruteCheck
	if cmd.Flags().Changed("brute-check") {
		bruteCheck = flags.bruteCheck
	}

	metrics := updater.NewMetrics()
	u := updater.New(updater.Options{
		Host:       s.host,
		Registry:   s.registry,
		Mode:       mode,
		BruteCheck: bruteCheck,
		Ignore:     s.cfg.Ignore,
		Downloader: &download.Downloader{
			Client:    s.client,
			UserAgent: userAgent(s.cfg),
			Timeout:   s.cfg.Network.Timeout,
		},
		Clock:   a.Clock,
		Metrics: metrics,
		Logger:  s.logger,
	})

	report, err := u.Run(ctx)
	if err != nil {
		err = issue.NewErrorContext().
			WithOperation("prepare scratch area").
			WithResource(s.host.Layout.Temp).
			WithSuggestion("Check that the host directory is writable").
			WithIssue(issue.ScratchUnavailableId).
			Wrap(err).
			BuildError()
		return a.setupError(err, s.cfg, s.cfg.UI.Verbose)
	}

	renderReport(a.stdout, report, s.cfg.UI.Verbose)

	textfile := flags.metricsTextfile
	if textfile == "" {
		textfile = s.cfg.Metrics.Textfile
	}
	if textfile != "" {
		if err := metrics.WriteTextfile(textfile); err != nil {
			fmt.Fprintln(a.stderr, WarningStyle.Render("Warning: ")+err.Error())
			a.renderIssue(issue.MetricsWriteFailedId, s.cfg)
		}
	}

	if report.Failed() {
		a.renderIssue(issue.UpdatesFailedId, s.cfg)
		return &ExitError{Code: ExitFailures}
	}
	return nil
}

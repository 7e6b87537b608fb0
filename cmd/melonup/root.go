// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/melonup/melonup/internal/config"
	"github.com/melonup/melonup/internal/issue"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// rootFlags are the persistent flags shared by every subcommand.
type rootFlags struct {
	verbose    bool
	configPath string
}

// NewRootCommand builds the command tree bound to app.
func NewRootCommand(app *App) *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:   "melonup",
		Short: "Keeps MelonLoader mods and plugins up to date",
		Long: TitleStyle.Render("melonup") + SubtitleStyle.Render(" - Keeps MelonLoader mods and plugins up to date") + `

melonup inspects the Mods and Plugins folders of a game installation,
asks the configured sources for newer releases and installs them,
backing up every file it replaces.

` + SubtitleStyle.Render("Examples:") + `
  melonup check --dir ~/Games/MyGame     Update everything in place
  melonup check --mode manual            Only report available updates
  melonup extensions                     List loaded sources and installers
  melonup config init                    Write a default configuration`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(app.stdout)
	root.SetErr(app.stderr)

	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable verbose output")
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default is "+defaultConfigPathHint()+")")

	root.AddCommand(
		newCheckCommand(app, flags),
		newExtensionsCommand(app, flags),
		newConfigCommand(app, flags),
		newVersionCommand(app),
	)
	return root
}

func defaultConfigPathHint() string {
	if path, err := config.DefaultPath(); err == nil {
		return path
	}
	return "<config dir>/melonup/config.cue"
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI. It is called by main.main().
func Execute() {
	app := NewApp(Dependencies{})
	err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
		fang.WithErrorHandler(handleError),
	)
	if err == nil {
		return
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.Code)
	}
	os.Exit(ExitSetup)
}

// handleError prints errors fang surfaces, except exit codes whose cause the
// command already rendered.
func handleError(w io.Writer, styles fang.Styles, err error) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Err == nil {
		return
	}
	fang.DefaultErrorHandler(w, styles, err)
}

// formatErrorForDisplay formats an error for user display. Actionable errors
// render their suggestions; verbose mode adds the full error chain.
func formatErrorForDisplay(err error, verbose bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verbose)
	}
	return err.Error()
}

// setupError prints err with its catalog guidance and returns an ExitError
// carrying ExitSetup.
func (a *App) setupError(err error, cfg *config.Config, verbose bool) error {
	fmt.Fprintln(a.stderr, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, verbose))
	var ae *issue.ActionableError
	if errors.As(err, &ae) && ae.Issue != 0 {
		a.renderIssue(ae.Issue, cfg)
	}
	return &ExitError{Code: ExitSetup}
}

// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/melonup/melonup/internal/extension"
)

type extensionsFlags struct {
	dir           string
	loaderVersion string
}

func newExtensionsCommand(app *App, root *rootFlags) *cobra.Command {
	flags := &extensionsFlags{}
	cmd := &cobra.Command{
		Use:     "extensions",
		Aliases: []string{"ext"},
		Short:   "List the loaded sources and installers",
		Long: `Load the built-in and script extensions the way a check would and list
them with their capabilities. Extensions that failed to load or initialize
are shown with the reason they were removed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := app.openSession(cmd.Context(), sessionOptions{
				ConfigPath:    root.configPath,
				Dir:           flags.dir,
				LoaderVersion: flags.loaderVersion,
				Verbose:       root.verbose,
			})
			if err != nil {
				return app.setupError(err, nil, root.verbose)
			}
			renderExtensions(app.stdout, s.registry)
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.dir, "dir", "", "host installation directory")
	cmd.Flags().StringVar(&flags.loaderVersion, "loader-version", "", "installed loader version")
	return cmd
}

// renderExtensions writes one table row per registered extension.
func renderExtensions(w io.Writer, registry *extension.Registry) {
	entries := registry.Entries()
	if len(entries) == 0 {
		fmt.Fprintln(w, SubtitleStyle.Render("No extensions loaded."))
		return
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorMuted)).
		Headers("NAME", "AUTHOR", "VERSION", "ORIGIN", "CAPABILITIES", "STATUS").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			return tableCellStyle
		})

	for _, e := range entries {
		status := SuccessStyle.Render("active")
		if rotten, reason := e.Rotten(); rotten {
			status = ErrorStyle.Render("removed") + ": " + reason
		}
		t.Row(
			e.Desc.Name,
			e.Desc.Author,
			versionString(e.Desc.Version),
			e.Origin,
			strings.Join(e.Capabilities(), ", "),
			status,
		)
	}
	fmt.Fprintln(w, t.String())
}

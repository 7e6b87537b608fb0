// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/melonup/melonup/internal/source"
)

func newVersionCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(app.stdout, "melonup %s\n", getVersionString())
			fmt.Fprintf(app.stdout, "extension API %s\n", source.ToolVersion)
		},
	}
}

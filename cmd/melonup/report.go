// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/melonup/melonup/internal/updater"
)

// summaryOrder is the order statuses appear in the summary line.
var summaryOrder = []updater.Status{
	updater.StatusUpdated,
	updater.StatusPartial,
	updater.StatusFailed,
	updater.StatusManual,
	updater.StatusUpToDate,
	updater.StatusNewer,
	updater.StatusNoSource,
	updater.StatusIncompatible,
	updater.StatusSkipped,
}

// renderReport writes a human-readable run report. Quiet statuses (skipped
// units) are only listed in verbose mode.
func renderReport(w io.Writer, rep *updater.Report, verbose bool) {
	fmt.Fprintln(w, TitleStyle.Render("melonup")+SubtitleStyle.Render(" "+rep.Mode.String()+" mode"))

	for i := range rep.Directories {
		d := &rep.Directories[i]
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%s %s\n", SubtitleStyle.Render(d.Name), CmdStyle.Render(d.Path))
		if d.Err != nil {
			fmt.Fprintln(w, "  "+ErrorStyle.Render("✗ ")+d.Err.Error())
			continue
		}
		shown := 0
		for _, r := range d.Results {
			if r.Status == updater.StatusSkipped && !verbose {
				continue
			}
			fmt.Fprintln(w, "  "+formatResult(r, verbose))
			shown++
		}
		if shown == 0 {
			fmt.Fprintln(w, "  "+VerboseStyle.Render("nothing to check"))
		}
	}

	if notices := rep.ManualNotices(); len(notices) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, WarningStyle.Render("Updates to install manually:"))
		for _, r := range notices {
			line := fmt.Sprintf("  • %s %s", r.Unit, r.Versions())
			if r.PageURL != "" {
				line += "  " + CmdStyle.Render(r.PageURL)
			}
			fmt.Fprintln(w, line)
		}
	}

	if len(rep.Rotten) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, WarningStyle.Render("Extensions removed during the run:"))
		for _, e := range rep.Rotten {
			fmt.Fprintf(w, "  • %s (%s): %s\n", e.Descriptor.Label(), e.Origin, e.Reason)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, formatSummary(rep.Counts()))
}

// formatResult renders one unit line: marker, name, versions and detail.
func formatResult(r updater.UnitResult, verbose bool) string {
	name := r.Unit
	if name == "" {
		name = r.File
	}
	var b strings.Builder
	b.WriteString(statusMarker(r.Status))
	b.WriteString(" ")
	b.WriteString(name)
	if r.Current != nil || r.Latest != nil {
		b.WriteString(" ")
		b.WriteString(r.Versions())
	}
	b.WriteString(" ")
	b.WriteString(statusStyle(r.Status).Render(string(r.Status)))
	if r.Source != "" {
		b.WriteString(VerboseStyle.Render(" via " + r.Source))
	}
	if r.Status == updater.StatusPartial || (verbose && r.Installed+r.Failed > 0) {
		fmt.Fprintf(&b, " (%d installed, %d failed)", r.Installed, r.Failed)
	}
	if r.Reason != "" {
		b.WriteString(VerboseStyle.Render(": " + r.Reason))
	}
	if verbose && r.File != "" && r.File != name {
		b.WriteString(VerboseStyle.Render(" [" + r.File + "]"))
	}
	return b.String()
}

// formatSummary renders the non-zero counts in summaryOrder.
func formatSummary(counts map[updater.Status]int) string {
	var parts []string
	for _, s := range summaryOrder {
		if n := counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, s))
		}
	}
	if len(parts) == 0 {
		return SubtitleStyle.Render("Summary: ") + "no units found"
	}
	return SubtitleStyle.Render("Summary: ") + strings.Join(parts, ", ")
}

func statusMarker(s updater.Status) string {
	switch s {
	case updater.StatusUpdated:
		return SuccessStyle.Render("✓")
	case updater.StatusFailed, updater.StatusPartial:
		return ErrorStyle.Render("✗")
	case updater.StatusManual, updater.StatusIncompatible:
		return WarningStyle.Render("!")
	default:
		return VerboseStyle.Render("·")
	}
}

func statusStyle(s updater.Status) lipgloss.Style {
	switch s {
	case updater.StatusUpdated:
		return SuccessStyle
	case updater.StatusFailed, updater.StatusPartial:
		return ErrorStyle
	case updater.StatusManual, updater.StatusIncompatible:
		return WarningStyle
	default:
		return VerboseStyle
	}
}

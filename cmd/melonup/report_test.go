// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/melonup/melonup/internal/extension"
	"github.com/melonup/melonup/internal/updater"
	"github.com/melonup/melonup/internal/version"
)

func sampleReport() *updater.Report {
	return &updater.Report{
		Mode: updater.ModeAuto,
		Directories: []updater.DirectoryReport{
			{
				Name: "Mods",
				Path: "/games/x/Mods",
				Results: []updater.UnitResult{
					{
						File: "Cool.dll", Unit: "Cool", Status: updater.StatusUpdated, Source: "GitHub",
						Current: version.MustParse("1.0.0"), Latest: version.MustParse("1.1.0"), Installed: 1,
					},
					{
						File: "Manual.dll", Unit: "Manual", Status: updater.StatusManual,
						Current: version.MustParse("2.0.0"), Latest: version.MustParse("2.1.0"),
						PageURL: "https://example.invalid/manual",
					},
					{File: "Off.dll", Status: updater.StatusSkipped, Reason: "disabled"},
					{
						File: "Half.dll", Unit: "Half", Status: updater.StatusPartial,
						Installed: 2, Failed: 1,
					},
				},
			},
			{Name: "Plugins", Path: "/games/x/Plugins", Err: errors.New("permission denied")},
		},
		Rotten: []extension.RottenEntry{{
			Descriptor: extension.Descriptor{Name: "Broken", Author: "someone"},
			Origin:     "broken.js",
			Reason:     "panic during search",
		}},
	}
}

func TestRenderReport(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	renderReport(&buf, sampleReport(), false)
	out := buf.String()

	for _, want := range []string{
		"auto mode",
		"Cool 1.0.0 -> 1.1.0",
		"via GitHub",
		"Updates to install manually:",
		"https://example.invalid/manual",
		"(2 installed, 1 failed)",
		"permission denied",
		"Broken by someone (broken.js): panic during search",
		"Summary: 1 updated, 1 partial, 1 manual, 1 skipped",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Off.dll") {
		t.Errorf("skipped unit listed outside verbose mode:\n%s", out)
	}
}

func TestRenderReport_VerboseListsSkipped(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	renderReport(&buf, sampleReport(), true)
	if out := buf.String(); !strings.Contains(out, "Off.dll") || !strings.Contains(out, "disabled") {
		t.Errorf("verbose report missing skipped unit:\n%s", out)
	}
}

func TestFormatSummary_Empty(t *testing.T) {
	t.Parallel()

	if got := formatSummary(nil); !strings.Contains(got, "no units found") {
		t.Errorf("formatSummary(nil) = %q", got)
	}
}

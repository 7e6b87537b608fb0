// SPDX-License-Identifier: MPL-2.0

package extension

import (
	"context"
	"net/http"

	"github.com/charmbracelet/log"

	"github.com/melonup/melonup/internal/melon"
	"github.com/melonup/melonup/internal/version"
)

// Wildcard in FileExtensions claims every file extension.
const Wildcard = "*"

type (
	// Descriptor is the identity an extension declares.
	Descriptor struct {
		Name   string
		Author string
		// ID disambiguates extensions sharing a name and author.
		ID      string
		Version *version.Version
		// MinHostVersion and MinToolVersion are advisory; unmet minimums are
		// logged but the extension still loads.
		MinHostVersion *version.Version
		MinToolVersion *version.Version
		// Link points at the platform the extension serves.
		Link string
	}

	// Extension is implemented by every extension.
	Extension interface {
		Descriptor() Descriptor
	}

	// Searchable resolves a unit's declared download URL to upstream release
	// data. "Not found" is (nil, nil), never an error.
	Searchable interface {
		Extension
		Search(ctx context.Context, url string, current *version.Version) (*SourceResult, error)
	}

	// BruteCheckable additionally resolves units by name and author.
	BruteCheckable interface {
		Searchable
		BruteCheck(ctx context.Context, name, author string, current *version.Version) (*SourceResult, error)
	}

	// Installable installs downloaded files with particular extensions.
	Installable interface {
		Extension
		// FileExtensions lists handled extensions with a leading dot, or Wildcard.
		FileExtensions() []string
		// Priority orders installers claiming the same extension; higher first.
		Priority() int
		Install(ctx context.Context, req InstallRequest) (InstallResult, error)
	}

	// Initializer runs once after registration.
	Initializer interface {
		Init(ctx context.Context, env Env) error
	}

	// UnitPreparer runs before a unit is checked, for extensions that keep
	// per-unit state.
	UnitPreparer interface {
		PrepareUnit(ctx context.Context, u *melon.Unit) error
	}

	// SourceResult is the latest upstream release of a unit.
	SourceResult struct {
		Latest    *version.Version
		Downloads []DownloadEntry
		// PageURL is where a human can fetch the release manually.
		PageURL string
	}

	// DownloadEntry is one downloadable asset. ContentType and FileName are
	// optional declarations.
	DownloadEntry struct {
		URL         string
		ContentType string
		FileName    string
	}

	// InstallRequest hands a downloaded file to an Installable.
	InstallRequest struct {
		Path string
		Unit *melon.Unit
		// Scratch is an empty directory the extension may use.
		Scratch string
		// Merge merges an extracted tree into the host installation with the
		// unit's policy applied, returning installed and failed counts.
		Merge func(ctx context.Context, root string) (installed, failed int)
	}

	// InstallResult reports what an Installable did.
	InstallResult struct {
		Handled bool
		Success int
		Failed  int
	}

	// Env is what the registry hands an extension at Init.
	Env struct {
		Logger     *log.Logger
		Storage    *Storage
		HTTPClient *http.Client
		UserAgent  string
		// Unload removes the extension for the rest of the run.
		Unload func(reason string)
	}

	// Factory instantiates one extension.
	Factory func() (Extension, error)

	// Candidate is one loadable pack of extensions, such as the built-in set
	// or a script file.
	Candidate struct {
		Origin    string
		Factories []Factory
	}
)

// Label returns "Name by Author".
func (d Descriptor) Label() string {
	return d.Name + " by " + d.Author
}

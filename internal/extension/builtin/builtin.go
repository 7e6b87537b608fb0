// SPDX-License-Identifier: MPL-2.0

// Package builtin assembles the extensions that ship with melonup.
package builtin

import (
	"github.com/charmbracelet/log"

	"github.com/melonup/melonup/internal/clock"
	"github.com/melonup/melonup/internal/extension"
	"github.com/melonup/melonup/internal/source"
)

// Origin identifies built-in extensions in logs and reports.
const Origin = "builtin"

// Config carries the settings of the built-in sources. Empty API bases
// select the public endpoints.
type Config struct {
	GitHubToken         string
	GitHubAPIBase       string
	ThunderstoreAPIBase string
	NexusAPIKey         string
	NexusAPIBase        string
	S3                  source.S3Config
	Clock               clock.Clock
	Logger              *log.Logger
}

// Candidate returns the built-in extensions in registration order:
// Thunderstore, GitHub, Nexus, S3, then the LZ4 installer.
func Candidate(cfg Config) extension.Candidate {
	common := func(base string) []source.Option {
		return []source.Option{
			source.WithBaseURL(base),
			source.WithClock(cfg.Clock),
			source.WithLogger(cfg.Logger),
		}
	}
	return extension.Candidate{
		Origin: Origin,
		Factories: []extension.Factory{
			func() (extension.Extension, error) {
				return source.NewThunderstore(common(cfg.ThunderstoreAPIBase)...), nil
			},
			func() (extension.Extension, error) {
				return source.NewGitHub(append(common(cfg.GitHubAPIBase), source.WithCredential(cfg.GitHubToken))...), nil
			},
			func() (extension.Extension, error) {
				return source.NewNexus(append(common(cfg.NexusAPIBase), source.WithCredential(cfg.NexusAPIKey))...), nil
			},
			func() (extension.Extension, error) {
				return source.NewS3(cfg.S3), nil
			},
			func() (extension.Extension, error) {
				return &LZ4{}, nil
			},
		},
	}
}

// SPDX-License-Identifier: MPL-2.0

package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/melonup/melonup/internal/extension"
	"github.com/melonup/melonup/internal/version"
)

// GitHubName is the platform name units use in their platform lists.
const GitHubName = "GitHub"

type (
	// GitHub resolves github.com repository links through the Releases API.
	GitHub struct {
		client
	}

	githubRelease struct {
		TagName    string        `json:"tag_name"`
		Name       string        `json:"name"`
		Prerelease bool          `json:"prerelease"`
		Draft      bool          `json:"draft"`
		HTMLURL    string        `json:"html_url"`
		Assets     []githubAsset `json:"assets"`
	}

	githubAsset struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
		Size               int64  `json:"size"`
		ContentType        string `json:"content_type"`
	}
)

// NewGitHub creates the GitHub source. WithCredential sets a token, which
// raises the API quota.
func NewGitHub(opts ...Option) *GitHub {
	return &GitHub{client: newClient(GitHubName, "https://api.github.com", opts)}
}

// Descriptor implements extension.Extension.
func (g *GitHub) Descriptor() extension.Descriptor {
	return extension.Descriptor{
		Name:    GitHubName,
		Author:  author,
		Version: ToolVersion,
		Link:    "https://github.com",
	}
}

// Init implements extension.Initializer.
func (g *GitHub) Init(_ context.Context, env extension.Env) error {
	g.adopt(env)
	return nil
}

// Search looks up the latest release of the repository named by rawURL.
// Links that are not github.com repositories yield (nil, nil).
func (g *GitHub) Search(ctx context.Context, rawURL string, _ *version.Version) (*extension.SourceResult, error) {
	segs, ok := pathSegments(rawURL, "github.com")
	if !ok || len(segs) < 2 {
		return nil, nil
	}
	owner, repo := segs[0], strings.TrimSuffix(segs[1], ".git")

	if g.suppressed() {
		return nil, nil
	}

	latestURL := fmt.Sprintf("%s/repos/%s/%s/releases/latest", g.baseURL, url.PathEscape(owner), url.PathEscape(repo))
	resp, err := g.do(ctx, latestURL, g.headers())
	if err != nil {
		return nil, fmt.Errorf("github %s/%s: %w", owner, repo, err)
	}
	defer func() { _ = resp.Body.Close() }() // read-only response body

	if rlErr := g.checkRateLimit(resp); rlErr != nil && resp.StatusCode != http.StatusOK {
		return nil, rlErr
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("github %s/%s: %w %d", owner, repo, ErrUnexpectedStatus, resp.StatusCode)
	}

	var rel githubRelease
	if err := decodeJSON(resp.Body, &rel); err != nil {
		return nil, fmt.Errorf("github %s/%s: %w", owner, repo, err)
	}
	if rel.Draft {
		return nil, nil
	}

	latest, err := parseUpstreamVersion("github "+owner+"/"+repo, rel.TagName)
	if err != nil {
		return nil, err
	}

	res := &extension.SourceResult{Latest: latest, PageURL: rel.HTMLURL}
	for _, a := range rel.Assets {
		if a.BrowserDownloadURL == "" {
			continue
		}
		res.Downloads = append(res.Downloads, extension.DownloadEntry{
			URL:         a.BrowserDownloadURL,
			ContentType: a.ContentType,
			FileName:    a.Name,
		})
	}
	return res, nil
}

func (g *GitHub) headers() map[string]string {
	h := map[string]string{
		"Accept":               "application/vnd.github+json",
		"X-GitHub-Api-Version": "2022-11-28",
	}
	if g.credential != "" {
		h["Authorization"] = "Bearer " + g.credential
	}
	return h
}

// checkRateLimit inspects the X-RateLimit-* headers. When at most one call
// remains it opens the breaker until the advertised reset and returns a
// RateLimitError; the current response is still usable if it succeeded.
func (g *GitHub) checkRateLimit(resp *http.Response) error {
	remaining := resp.Header.Get("X-RateLimit-Remaining")
	if remaining == "" {
		if resp.StatusCode == http.StatusTooManyRequests {
			return g.tripOnRetryAfter(resp)
		}
		return nil
	}
	rem, err := strconv.Atoi(remaining)
	if err != nil || rem > 1 {
		return nil //nolint:nilerr // Non-numeric header is non-fatal.
	}

	resetAt := g.clock.Now().Add(defaultBackoff)
	if resetUnix, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		resetAt = time.Unix(resetUnix, 0)
	}
	g.breaker.Trip(resetAt)
	rlErr := &RateLimitError{Source: GitHubName, Remaining: rem, ResetAt: resetAt}
	g.logger.Warn("GitHub API quota nearly exhausted", "remaining", rem, "reset", resetAt.UTC().Format(time.RFC3339))
	return rlErr
}

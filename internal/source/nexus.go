// SPDX-License-Identifier: MPL-2.0

package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/melonup/melonup/internal/extension"
	"github.com/melonup/melonup/internal/version"
)

const (
	// NexusName is the platform name units use in their platform lists.
	NexusName = "Nexus"

	// nexusKeyStorage is the storage key holding the API key.
	nexusKeyStorage = "api_key"
)

type (
	// Nexus resolves nexusmods.com mod pages. It needs a personal API key;
	// without one every lookup yields no result. Accounts without premium
	// access get no download links, which turns the update into a manual one.
	Nexus struct {
		client
	}

	nexusMod struct {
		Name      string `json:"name"`
		Version   string `json:"version"`
		Available bool   `json:"available"`
	}

	nexusFiles struct {
		Files []nexusFile `json:"files"`
	}

	nexusFile struct {
		FileID       int64  `json:"file_id"`
		FileName     string `json:"file_name"`
		Version      string `json:"version"`
		CategoryName string `json:"category_name"`
		IsPrimary    bool   `json:"is_primary"`
	}

	nexusLink struct {
		URI       string `json:"URI"`
		ShortName string `json:"short_name"`
	}
)

// NewNexus creates the Nexus source. WithCredential sets the API key.
func NewNexus(opts ...Option) *Nexus {
	return &Nexus{client: newClient(NexusName, "https://api.nexusmods.com", opts)}
}

// Descriptor implements extension.Extension.
func (n *Nexus) Descriptor() extension.Descriptor {
	return extension.Descriptor{
		Name:    NexusName,
		Author:  author,
		Version: ToolVersion,
		Link:    "https://www.nexusmods.com",
	}
}

// Init implements extension.Initializer. The API key comes from the
// configured credential, then NEXUS_API_KEY, then extension storage; a key
// found in configuration or the environment is persisted to storage.
func (n *Nexus) Init(_ context.Context, env extension.Env) error {
	n.adopt(env)
	if n.credential == "" {
		n.credential = strings.TrimSpace(os.Getenv("NEXUS_API_KEY"))
	}
	if env.Storage == nil {
		return nil
	}
	if n.credential == "" {
		if key, ok := env.Storage.Get(nexusKeyStorage); ok {
			n.credential = key
		}
		return nil
	}
	if stored, _ := env.Storage.Get(nexusKeyStorage); stored != n.credential {
		if err := env.Storage.Set(nexusKeyStorage, n.credential); err != nil {
			n.logger.Warn("could not persist API key", "err", err)
		}
	}
	return nil
}

// Search accepts links of the form https://www.nexusmods.com/<game>/mods/<id>.
func (n *Nexus) Search(ctx context.Context, rawURL string, _ *version.Version) (*extension.SourceResult, error) {
	segs, ok := pathSegments(rawURL, "nexusmods.com")
	if !ok || len(segs) < 3 || segs[1] != "mods" {
		return nil, nil
	}
	game := segs[0]
	modID, err := strconv.ParseInt(segs[2], 10, 64)
	if err != nil {
		return nil, nil //nolint:nilerr // Not a mod page link.
	}
	if n.credential == "" {
		n.logger.Debug("no API key configured, skipping", "url", redactURL(rawURL))
		return nil, nil
	}
	if n.suppressed() {
		return nil, nil
	}

	page := fmt.Sprintf("https://www.nexusmods.com/%s/mods/%d", game, modID)
	modURL := fmt.Sprintf("%s/v1/games/%s/mods/%d", n.baseURL, url.PathEscape(game), modID)

	var mod nexusMod
	if found, err := n.getJSON(ctx, modURL+".json", &mod); err != nil || !found {
		return nil, err
	}
	if !mod.Available {
		return nil, nil
	}
	latest, err := parseUpstreamVersion("nexus "+game+"/"+strconv.FormatInt(modID, 10), mod.Version)
	if err != nil {
		return nil, err
	}
	res := &extension.SourceResult{Latest: latest, PageURL: page}

	// Each request can trip the breaker; once tripped, what is already known
	// is reported as a manual update.
	if n.suppressed() {
		return res, nil
	}
	var files nexusFiles
	if found, err := n.getJSON(ctx, modURL+"/files.json", &files); err != nil || !found {
		n.logger.Warn("listing files failed, falling back to a manual update", "mod", page, "err", err)
		return res, nil
	}
	for _, f := range mainFiles(files.Files) {
		if n.suppressed() {
			return &extension.SourceResult{Latest: latest, PageURL: page}, nil
		}
		var links []nexusLink
		linkURL := fmt.Sprintf("%s/files/%d/download_link.json", modURL, f.FileID)
		found, err := n.getJSON(ctx, linkURL, &links)
		if err != nil || !found || len(links) == 0 {
			// Download links require a premium account.
			n.logger.Info("no direct download available", "mod", page, "file", f.FileName, "err", err)
			return &extension.SourceResult{Latest: latest, PageURL: page}, nil
		}
		res.Downloads = append(res.Downloads, extension.DownloadEntry{URL: links[0].URI, FileName: f.FileName})
	}
	return res, nil
}

// getJSON fetches reqURL into v. found is false for 404 and 403 responses.
func (n *Nexus) getJSON(ctx context.Context, reqURL string, v any) (found bool, err error) {
	resp, err := n.do(ctx, reqURL, map[string]string{"apikey": n.credential})
	if err != nil {
		return false, fmt.Errorf("nexus: %w", err)
	}
	defer func() { _ = resp.Body.Close() }() // read-only response body

	n.checkRateLimit(resp)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusForbidden:
		return false, nil
	case http.StatusTooManyRequests:
		return false, n.tripOnRetryAfter(resp)
	case http.StatusUnauthorized:
		return false, extension.Fault("authenticate", fmt.Errorf("%w %d: API key rejected", ErrUnexpectedStatus, resp.StatusCode))
	default:
		return false, fmt.Errorf("nexus: %w %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	if err := decodeJSON(resp.Body, v); err != nil {
		return false, fmt.Errorf("nexus: %w", err)
	}
	return true, nil
}

// checkRateLimit trips the breaker when either the hourly or the daily
// quota is down to one request.
func (n *Nexus) checkRateLimit(resp *http.Response) {
	for _, window := range []string{"hourly", "daily"} {
		raw := resp.Header.Get("x-rl-" + window + "-remaining")
		if raw == "" {
			continue
		}
		rem, err := strconv.Atoi(raw)
		if err != nil || rem > 1 {
			continue
		}
		reset := n.clock.Now().Add(defaultBackoff)
		if t, err := time.Parse(time.RFC3339, resp.Header.Get("x-rl-"+window+"-reset")); err == nil {
			reset = t
		} else if t, err := time.Parse("2006-01-02 15:04:05 -0700", resp.Header.Get("x-rl-"+window+"-reset")); err == nil {
			reset = t
		}
		n.breaker.Trip(reset)
		n.logger.Warn("Nexus quota nearly exhausted", "window", window, "remaining", rem, "reset", reset.UTC().Format(time.RFC3339))
	}
}

// mainFiles returns the files in the MAIN category, or the primary file when
// no category is tagged MAIN.
func mainFiles(files []nexusFile) []nexusFile {
	var out []nexusFile
	for _, f := range files {
		if strings.EqualFold(f.CategoryName, "MAIN") {
			out = append(out, f)
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, f := range files {
		if f.IsPrimary {
			return []nexusFile{f}
		}
	}
	return nil
}

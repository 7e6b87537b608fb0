// SPDX-License-Identifier: MPL-2.0

package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/melonup/melonup/internal/extension"
	"github.com/melonup/melonup/internal/version"
)

// ThunderstoreName is the platform name units use in their platform lists.
const ThunderstoreName = "Thunderstore"

type (
	// Thunderstore resolves packages on thunderstore.io by namespace and name.
	// It also supports brute checks, mapping a unit's author to the namespace.
	Thunderstore struct {
		client
		site string
	}

	thunderstorePackage struct {
		Namespace  string `json:"namespace"`
		Name       string `json:"name"`
		PackageURL string `json:"package_url"`
		Latest     struct {
			VersionNumber string `json:"version_number"`
			DownloadURL   string `json:"download_url"`
			WebsiteURL    string `json:"website_url"`
		} `json:"latest"`
	}
)

// NewThunderstore creates the Thunderstore source.
func NewThunderstore(opts ...Option) *Thunderstore {
	return &Thunderstore{
		client: newClient(ThunderstoreName, "https://thunderstore.io", opts),
		site:   "thunderstore.io",
	}
}

// Descriptor implements extension.Extension.
func (t *Thunderstore) Descriptor() extension.Descriptor {
	return extension.Descriptor{
		Name:    ThunderstoreName,
		Author:  author,
		Version: ToolVersion,
		Link:    "https://thunderstore.io",
	}
}

// Init implements extension.Initializer.
func (t *Thunderstore) Init(_ context.Context, env extension.Env) error {
	t.adopt(env)
	return nil
}

// Search accepts package links of the forms
// https://thunderstore.io/package/<namespace>/<name>/ and
// https://thunderstore.io/c/<community>/p/<namespace>/<name>/.
func (t *Thunderstore) Search(ctx context.Context, rawURL string, _ *version.Version) (*extension.SourceResult, error) {
	segs, ok := pathSegments(rawURL, t.site)
	if !ok {
		return nil, nil
	}
	var ns, name string
	switch {
	case len(segs) >= 3 && segs[0] == "package":
		ns, name = segs[1], segs[2]
	case len(segs) >= 5 && segs[0] == "c" && segs[2] == "p":
		ns, name = segs[3], segs[4]
	default:
		return nil, nil
	}
	return t.lookup(ctx, ns, name)
}

// BruteCheck guesses the package from the unit's author and name.
func (t *Thunderstore) BruteCheck(ctx context.Context, name, unitAuthor string, _ *version.Version) (*extension.SourceResult, error) {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(unitAuthor) == "" {
		return nil, nil
	}
	return t.lookup(ctx, packageSlug(unitAuthor), packageSlug(name))
}

func (t *Thunderstore) lookup(ctx context.Context, ns, name string) (*extension.SourceResult, error) {
	if t.suppressed() {
		return nil, nil
	}

	apiURL := fmt.Sprintf("%s/api/experimental/package/%s/%s/", t.baseURL, url.PathEscape(ns), url.PathEscape(name))
	resp, err := t.do(ctx, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("thunderstore %s/%s: %w", ns, name, err)
	}
	defer func() { _ = resp.Body.Close() }() // read-only response body

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	case http.StatusTooManyRequests:
		return nil, t.tripOnRetryAfter(resp)
	default:
		return nil, fmt.Errorf("thunderstore %s/%s: %w %d", ns, name, ErrUnexpectedStatus, resp.StatusCode)
	}

	var pkg thunderstorePackage
	if err := decodeJSON(resp.Body, &pkg); err != nil {
		return nil, fmt.Errorf("thunderstore %s/%s: %w", ns, name, err)
	}
	if pkg.Latest.VersionNumber == "" || pkg.Latest.DownloadURL == "" {
		return nil, fmt.Errorf("thunderstore %s/%s: %w: missing latest version", ns, name, ErrMalformed)
	}
	latest, err := parseUpstreamVersion("thunderstore "+ns+"/"+name, pkg.Latest.VersionNumber)
	if err != nil {
		return nil, err
	}

	page := pkg.PackageURL
	if page == "" {
		page = fmt.Sprintf("https://%s/package/%s/%s/", t.site, ns, name)
	}
	return &extension.SourceResult{
		Latest:  latest,
		PageURL: page,
		Downloads: []extension.DownloadEntry{{
			URL:         pkg.Latest.DownloadURL,
			ContentType: "application/zip",
			FileName:    fmt.Sprintf("%s-%s-%s.zip", ns, name, pkg.Latest.VersionNumber),
		}},
	}, nil
}

// packageSlug mirrors how the index names packages: spaces become
// underscores and anything outside [A-Za-z0-9_] is dropped.
func packageSlug(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r == ' ':
			b.WriteByte('_')
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SPDX-License-Identifier: MPL-2.0

package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/melonup/melonup/internal/clock"
	"github.com/melonup/melonup/internal/extension"
	"github.com/melonup/melonup/internal/version"
)

const (
	// maxJSONResponseBytes is the upper bound on JSON API response size (10 MB).
	maxJSONResponseBytes = 10 << 20

	// defaultBackoff applies when an upstream rate-limits without a reset hint.
	defaultBackoff = 15 * time.Minute

	author = "melonup"
)

// ToolVersion is the version reported by the built-in sources.
var ToolVersion = version.MustParse("0.4.0")

var (
	// ErrUnexpectedStatus wraps non-success HTTP statuses.
	ErrUnexpectedStatus = errors.New("unexpected upstream status")

	// ErrMalformed wraps upstream payloads that are missing fields or carry
	// unparsable versions.
	ErrMalformed = errors.New("malformed upstream data")
)

type (
	// RateLimitError reports that an upstream is (nearly) out of quota.
	RateLimitError struct {
		Source    string
		Remaining int
		ResetAt   time.Time
	}

	// Option configures a built-in source.
	Option func(*client)

	// client is the HTTP plumbing shared by the JSON API sources.
	client struct {
		name       string
		httpClient *http.Client
		baseURL    string
		credential string
		userAgent  string
		clock      clock.Clock
		logger     *log.Logger
		breaker    *Breaker
	}
)

// Error formats the rate limit details as a human-readable message.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limit reached (%d remaining, resets at %s)",
		e.Source, e.Remaining, e.ResetAt.UTC().Format("15:04 UTC"))
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *client) { cl.httpClient = c }
}

// WithBaseURL overrides the API base URL, primarily for test servers.
func WithBaseURL(base string) Option {
	return func(cl *client) {
		if base != "" {
			cl.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithCredential sets the token or API key sent with API requests.
func WithCredential(secret string) Option {
	return func(cl *client) { cl.credential = secret }
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(cl *client) {
		if ua != "" {
			cl.userAgent = ua
		}
	}
}

// WithClock replaces the clock used by the rate-limit breaker.
func WithClock(c clock.Clock) Option {
	return func(cl *client) { cl.clock = c }
}

// WithLogger sets the logger; Init replaces it with the registry's.
func WithLogger(l *log.Logger) Option {
	return func(cl *client) {
		if l != nil {
			cl.logger = l
		}
	}
}

func newClient(name, baseURL string, opts []Option) client {
	c := client{
		name:      name,
		baseURL:   baseURL,
		userAgent: "melonup/" + ToolVersion.String(),
		logger:    log.Default().WithPrefix(name),
	}
	for _, opt := range opts {
		opt(&c)
	}
	c.breaker = NewBreaker(c.clock)
	c.clock = clock.OrReal(c.clock)
	return c
}

// adopt takes the registry-provided logger and HTTP client unless the
// source was configured with its own.
func (c *client) adopt(env extension.Env) {
	if env.Logger != nil {
		c.logger = env.Logger
	}
	if c.httpClient == nil {
		c.httpClient = env.HTTPClient
	}
	if env.UserAgent != "" {
		c.userAgent = env.UserAgent
	}
}

// suppressed reports (and logs) whether the breaker forbids a call now.
func (c *client) suppressed() bool {
	open, until := c.breaker.Open()
	if open {
		c.logger.Warn("rate limited, skipping lookup", "until", until.UTC().Format(time.RFC3339))
	}
	return open
}

func (c *client) do(ctx context.Context, reqURL string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	hc := c.httpClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	return resp, nil
}

// decodeJSON decodes a bounded JSON body into v.
func decodeJSON(body io.Reader, v any) error {
	if err := json.NewDecoder(io.LimitReader(body, maxJSONResponseBytes)).Decode(v); err != nil {
		return fmt.Errorf("%w: decoding response: %w", ErrMalformed, err)
	}
	return nil
}

// tripOnRetryAfter opens the breaker for a 429 response and returns the
// corresponding RateLimitError.
func (c *client) tripOnRetryAfter(resp *http.Response) error {
	reset := c.clock.Now().Add(defaultBackoff)
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil {
			reset = c.clock.Now().Add(time.Duration(secs) * time.Second)
		} else if t, err := http.ParseTime(s); err == nil {
			reset = t
		}
	}
	c.breaker.Trip(reset)
	return &RateLimitError{Source: c.name, Remaining: 0, ResetAt: reset}
}

func parseUpstreamVersion(source, raw string) (*version.Version, error) {
	v, err := version.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s reported version %q: %w", ErrMalformed, source, raw, err)
	}
	return v, nil
}

// pathSegments returns the non-empty path segments of u when its host is
// one of hosts (case-insensitive, "www." ignored).
func pathSegments(raw string, hosts ...string) ([]string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return nil, false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	matched := false
	for _, h := range hosts {
		if host == h {
			matched = true
			break
		}
	}
	if !matched {
		return nil, false
	}
	var segs []string
	for s := range strings.SplitSeq(u.Path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs, true
}

// redactURL strips query parameters and fragments for safe logging.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

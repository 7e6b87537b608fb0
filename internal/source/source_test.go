// SPDX-License-Identifier: MPL-2.0

package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/charmbracelet/log"

	"github.com/melonup/melonup/internal/clock"
	"github.com/melonup/melonup/internal/extension"
)

func quiet() *log.Logger {
	return log.New(io.Discard)
}

func testOpts(srv *httptest.Server, c clock.Clock) []Option {
	return []Option{
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
		WithClock(c),
		WithLogger(quiet()),
	}
}

func TestGitHub_Search(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/cool/releases/latest" || r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("X-RateLimit-Remaining", "4999")
		_, _ = io.WriteString(w, `{
			"tag_name": "v1.5.0",
			"html_url": "https://github.com/acme/cool/releases/tag/v1.5.0",
			"assets": [
				{"name": "Cool.dll", "browser_download_url": "https://dl.example/Cool.dll", "content_type": "application/octet-stream"},
				{"name": "broken", "browser_download_url": ""}
			]
		}`)
	}))
	t.Cleanup(srv.Close)

	gh := NewGitHub(append(testOpts(srv, clock.NewFake(time.Time{})), WithCredential("tok"))...)
	res, err := gh.Search(context.Background(), "https://www.github.com/acme/cool.git", nil)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if res == nil {
		t.Fatal("Search() = nil, want result")
	}
	if res.Latest.String() != "1.5.0" {
		t.Errorf("Latest = %s, want 1.5.0", res.Latest)
	}
	if len(res.Downloads) != 1 || res.Downloads[0].FileName != "Cool.dll" {
		t.Errorf("Downloads = %+v", res.Downloads)
	}
	if res.PageURL != "https://github.com/acme/cool/releases/tag/v1.5.0" {
		t.Errorf("PageURL = %q", res.PageURL)
	}
}

func TestGitHub_NotFoundAndForeignLinks(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	gh := NewGitHub(testOpts(srv, nil)...)
	for _, link := range []string{
		"https://github.com/acme/missing",
		"https://thunderstore.io/package/acme/cool/",
		"https://github.com/acme",
		"not a url",
	} {
		res, err := gh.Search(context.Background(), link, nil)
		if err != nil || res != nil {
			t.Errorf("Search(%q) = %v, %v; want nil, nil", link, res, err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}

func TestGitHub_MalformedVersion(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"tag_name": "latest-build"}`)
	}))
	t.Cleanup(srv.Close)

	_, err := NewGitHub(testOpts(srv, nil)...).Search(context.Background(), "https://github.com/acme/cool", nil)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("Search() error = %v, want ErrMalformed", err)
	}
}

func TestGitHub_BreakerSuppressesUntilReset(t *testing.T) {
	t.Parallel()

	fake := clock.NewFake(time.Time{})
	reset := fake.Now().Add(time.Hour)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("X-RateLimit-Remaining", "1")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		_, _ = io.WriteString(w, `{"tag_name": "1.0.0"}`)
	}))
	t.Cleanup(srv.Close)

	gh := NewGitHub(testOpts(srv, fake)...)
	ctx := context.Background()

	res, err := gh.Search(ctx, "https://github.com/acme/cool", nil)
	if err != nil || res == nil {
		t.Fatalf("first Search() = %v, %v; want a result", res, err)
	}

	res, err = gh.Search(ctx, "https://github.com/acme/other", nil)
	if err != nil || res != nil {
		t.Fatalf("second Search() = %v, %v; want nil, nil", res, err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("requests while breaker open = %d, want 1", got)
	}

	fake.Advance(2 * time.Hour)
	if _, err := gh.Search(ctx, "https://github.com/acme/other", nil); err != nil {
		t.Fatalf("Search() after reset error = %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("requests after reset = %d, want 2", got)
	}
}

func TestGitHub_TooManyRequestsUsesRetryAfter(t *testing.T) {
	t.Parallel()

	fake := clock.NewFake(time.Time{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	gh := NewGitHub(testOpts(srv, fake)...)
	_, err := gh.Search(context.Background(), "https://github.com/acme/cool", nil)

	var rlErr *RateLimitError
	if !errors.As(err, &rlErr) {
		t.Fatalf("Search() error = %v, want RateLimitError", err)
	}
	if want := fake.Now().Add(120 * time.Second); !rlErr.ResetAt.Equal(want) {
		t.Errorf("ResetAt = %v, want %v", rlErr.ResetAt, want)
	}
}

func TestThunderstore_SearchForms(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/experimental/package/Acme/Cool_Mod/" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, `{
			"namespace": "Acme", "name": "Cool_Mod",
			"package_url": "https://thunderstore.io/c/game/p/Acme/Cool_Mod/",
			"latest": {"version_number": "2.1.0", "download_url": "https://ts.example/Acme-Cool_Mod-2.1.0.zip"}
		}`)
	}))
	t.Cleanup(srv.Close)

	ts := NewThunderstore(testOpts(srv, nil)...)
	ctx := context.Background()

	for _, link := range []string{
		"https://thunderstore.io/package/Acme/Cool_Mod/",
		"https://thunderstore.io/c/game/p/Acme/Cool_Mod/",
	} {
		res, err := ts.Search(ctx, link, nil)
		if err != nil || res == nil {
			t.Fatalf("Search(%q) = %v, %v", link, res, err)
		}
		if res.Latest.String() != "2.1.0" {
			t.Errorf("Latest = %s", res.Latest)
		}
		if len(res.Downloads) != 1 {
			t.Fatalf("Downloads = %+v", res.Downloads)
		}
		d := res.Downloads[0]
		if d.ContentType != "application/zip" || d.FileName != "Acme-Cool_Mod-2.1.0.zip" {
			t.Errorf("download = %+v", d)
		}
	}

	res, err := ts.BruteCheck(ctx, "Cool Mod", "Acme", nil)
	if err != nil || res == nil {
		t.Fatalf("BruteCheck() = %v, %v; want a result", res, err)
	}

	res, err = ts.BruteCheck(ctx, "Unknown", "Acme", nil)
	if err != nil || res != nil {
		t.Errorf("BruteCheck(unknown) = %v, %v; want nil, nil", res, err)
	}
}

func TestThunderstore_TooManyRequestsTripsBreaker(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	ts := NewThunderstore(testOpts(srv, clock.NewFake(time.Time{}))...)
	ctx := context.Background()

	if _, err := ts.BruteCheck(ctx, "Cool", "Acme", nil); err == nil {
		t.Fatal("BruteCheck() error = nil, want rate limit error")
	}
	if res, err := ts.BruteCheck(ctx, "Cool", "Acme", nil); res != nil || err != nil {
		t.Fatalf("BruteCheck() while open = %v, %v", res, err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}

func TestPackageSlug(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Cool Mod":       "Cool_Mod",
		"  Trim me  ":    "Trim_me",
		"Weird!Chars#99": "WeirdChars99",
		"under_score":    "under_score",
	}
	for in, want := range tests {
		if got := packageSlug(in); got != want {
			t.Errorf("packageSlug(%q) = %q, want %q", in, got, want)
		}
	}
}

func nexusServer(t *testing.T, linkStatus int) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/games/game/mods/42.json", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("apikey") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"name": "Cool", "version": "3.0.1", "available": true}`)
	})
	mux.HandleFunc("/v1/games/game/mods/42/files.json", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, `{"files": [
			{"file_id": 7, "file_name": "Cool-3.0.1.zip", "category_name": "MAIN"},
			{"file_id": 8, "file_name": "Cool-old.zip", "category_name": "OLD_VERSION"}
		]}`)
	})
	mux.HandleFunc("/v1/games/game/mods/42/files/7/download_link.json", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		if linkStatus != http.StatusOK {
			w.WriteHeader(linkStatus)
			return
		}
		_, _ = io.WriteString(w, `[{"URI": "https://cdn.example/Cool-3.0.1.zip", "short_name": "CDN"}]`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestNexus_Search(t *testing.T) {
	t.Parallel()

	srv, _ := nexusServer(t, http.StatusOK)
	nx := NewNexus(append(testOpts(srv, nil), WithCredential("key"))...)

	res, err := nx.Search(context.Background(), "https://www.nexusmods.com/game/mods/42?tab=files", nil)
	if err != nil || res == nil {
		t.Fatalf("Search() = %v, %v", res, err)
	}
	if res.Latest.String() != "3.0.1" {
		t.Errorf("Latest = %s", res.Latest)
	}
	if res.PageURL != "https://www.nexusmods.com/game/mods/42" {
		t.Errorf("PageURL = %q", res.PageURL)
	}
	if len(res.Downloads) != 1 || res.Downloads[0].URL != "https://cdn.example/Cool-3.0.1.zip" {
		t.Errorf("Downloads = %+v", res.Downloads)
	}
}

func TestNexus_NoPremiumMeansManual(t *testing.T) {
	t.Parallel()

	srv, _ := nexusServer(t, http.StatusForbidden)
	nx := NewNexus(append(testOpts(srv, nil), WithCredential("key"))...)

	res, err := nx.Search(context.Background(), "https://nexusmods.com/game/mods/42", nil)
	if err != nil || res == nil {
		t.Fatalf("Search() = %v, %v", res, err)
	}
	if len(res.Downloads) != 0 {
		t.Errorf("Downloads = %+v, want none", res.Downloads)
	}
	if res.PageURL == "" {
		t.Error("PageURL is empty, want mod page for a manual update")
	}
}

func TestNexus_WithoutKeySkips(t *testing.T) {
	t.Setenv("NEXUS_API_KEY", "")

	srv, calls := nexusServer(t, http.StatusOK)
	nx := NewNexus(testOpts(srv, nil)...)
	if err := nx.Init(context.Background(), extension.Env{Logger: quiet()}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	res, err := nx.Search(context.Background(), "https://nexusmods.com/game/mods/42", nil)
	if err != nil || res != nil {
		t.Fatalf("Search() = %v, %v; want nil, nil", res, err)
	}
	if calls.Load() != 0 {
		t.Errorf("requests = %d, want 0", calls.Load())
	}
}

func TestNexus_InitKeySources(t *testing.T) {
	t.Setenv("NEXUS_API_KEY", "from-env")

	dir := t.TempDir()
	store, err := extension.OpenStorage(dir, NexusName)
	if err != nil {
		t.Fatalf("OpenStorage() error = %v", err)
	}

	nx := NewNexus(WithLogger(quiet()))
	if err := nx.Init(context.Background(), extension.Env{Storage: store}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if nx.credential != "from-env" {
		t.Errorf("credential = %q, want from-env", nx.credential)
	}
	if v, _ := store.Get(nexusKeyStorage); v != "from-env" {
		t.Errorf("stored key = %q, want from-env", v)
	}

	t.Setenv("NEXUS_API_KEY", "")
	reopened, err := extension.OpenStorage(dir, NexusName)
	if err != nil {
		t.Fatalf("OpenStorage() error = %v", err)
	}
	nx2 := NewNexus(WithLogger(quiet()))
	if err := nx2.Init(context.Background(), extension.Env{Storage: reopened}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if nx2.credential != "from-env" {
		t.Errorf("credential from storage = %q, want from-env", nx2.credential)
	}
}

func TestNexus_HourlyQuotaTripsBreaker(t *testing.T) {
	t.Parallel()

	fake := clock.NewFake(time.Time{})
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("x-rl-hourly-remaining", "0")
		w.Header().Set("x-rl-hourly-reset", fake.Now().Add(30*time.Minute).Format(time.RFC3339))
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	nx := NewNexus(append(testOpts(srv, fake), WithCredential("key"))...)
	ctx := context.Background()
	_, _ = nx.Search(ctx, "https://nexusmods.com/game/mods/1", nil)
	_, _ = nx.Search(ctx, "https://nexusmods.com/game/mods/2", nil)
	if got := calls.Load(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}

func TestNexus_QuotaTrippedMidLookupStopsRequests(t *testing.T) {
	t.Parallel()

	fake := clock.NewFake(time.Time{})
	var links atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/games/game/mods/42.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"name": "Cool", "version": "3.0.1", "available": true}`)
	})
	mux.HandleFunc("/v1/games/game/mods/42/files.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("x-rl-daily-remaining", "1")
		w.Header().Set("x-rl-daily-reset", fake.Now().Add(time.Hour).Format(time.RFC3339))
		_, _ = io.WriteString(w, `{"files": [
			{"file_id": 7, "file_name": "Cool-3.0.1.zip", "category_name": "MAIN"},
			{"file_id": 9, "file_name": "Cool-extras.zip", "category_name": "MAIN"}
		]}`)
	})
	mux.HandleFunc("/v1/games/game/mods/42/files/", func(w http.ResponseWriter, _ *http.Request) {
		links.Add(1)
		_, _ = io.WriteString(w, `[{"URI": "https://cdn.example/file.zip"}]`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	nx := NewNexus(append(testOpts(srv, fake), WithCredential("key"))...)
	res, err := nx.Search(context.Background(), "https://nexusmods.com/game/mods/42", nil)
	if err != nil || res == nil {
		t.Fatalf("Search() = %v, %v", res, err)
	}
	if res.Latest.String() != "3.0.1" || len(res.Downloads) != 0 {
		t.Errorf("result = %+v, want a manual update for 3.0.1", res)
	}
	if got := links.Load(); got != 0 {
		t.Errorf("download link requests = %d, want 0 after the breaker tripped", got)
	}
}

type (
	fakeLister struct {
		pages [][]string
	}

	fakePresigner struct {
		expires time.Duration
	}
)

func (f *fakeLister) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	page := 0
	if in.ContinuationToken != nil {
		page, _ = strconv.Atoi(*in.ContinuationToken)
	}
	out := &s3.ListObjectsV2Output{}
	for _, key := range f.pages[page] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
	}
	if page+1 < len(f.pages) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(strconv.Itoa(page + 1))
	}
	return out, nil
}

func (f *fakePresigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	f.expires = opts.Expires
	return &v4.PresignedHTTPRequest{
		URL: fmt.Sprintf("https://signed.example/%s/%s", aws.ToString(in.Bucket), aws.ToString(in.Key)),
	}, nil
}

func TestS3_SearchPicksNewestRelease(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{pages: [][]string{
		{"mods/cool/1.0.0/Cool.dll", "mods/cool/1.10.0/Cool.dll"},
		{"mods/cool/1.10.0/Cool.melonconfig.json", "mods/cool/nightly/Cool.dll", "mods/cool/1.2.0/"},
	}}
	presigner := &fakePresigner{}
	src := NewS3(S3Config{PresignExpiry: time.Minute}, WithS3Clients(lister, presigner))
	if err := src.Init(context.Background(), extension.Env{Logger: quiet()}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	res, err := src.Search(context.Background(), "s3://releases/mods/cool/", nil)
	if err != nil || res == nil {
		t.Fatalf("Search() = %v, %v", res, err)
	}
	if res.Latest.String() != "1.10.0" {
		t.Errorf("Latest = %s, want 1.10.0", res.Latest)
	}
	if len(res.Downloads) != 2 {
		t.Fatalf("Downloads = %+v, want 2", res.Downloads)
	}
	if res.Downloads[0].URL != "https://signed.example/releases/mods/cool/1.10.0/Cool.dll" {
		t.Errorf("URL = %q", res.Downloads[0].URL)
	}
	if res.Downloads[1].FileName != "Cool.melonconfig.json" {
		t.Errorf("FileName = %q", res.Downloads[1].FileName)
	}
	if presigner.expires != time.Minute {
		t.Errorf("presign expiry = %v, want 1m", presigner.expires)
	}
}

func TestS3_ForeignAndEmpty(t *testing.T) {
	t.Parallel()

	src := NewS3(S3Config{}, WithS3Clients(&fakeLister{pages: [][]string{{}}}, &fakePresigner{}))
	ctx := context.Background()

	if res, err := src.Search(ctx, "https://github.com/acme/cool", nil); res != nil || err != nil {
		t.Errorf("Search(foreign) = %v, %v", res, err)
	}
	if res, err := src.Search(ctx, "s3://releases/none", nil); res != nil || err != nil {
		t.Errorf("Search(empty) = %v, %v", res, err)
	}
}

func TestParseS3URL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in             string
		bucket, prefix string
		ok             bool
	}{
		{"s3://bucket/a/b/", "bucket", "a/b", true},
		{"S3://bucket", "bucket", "", true},
		{"https://bucket/a", "", "", false},
		{"s3:///a", "", "", false},
	}
	for _, tt := range tests {
		b, p, ok := parseS3URL(tt.in)
		if b != tt.bucket || p != tt.prefix || ok != tt.ok {
			t.Errorf("parseS3URL(%q) = %q, %q, %v", tt.in, b, p, ok)
		}
	}
}

func TestBreaker_NeverShortens(t *testing.T) {
	t.Parallel()

	fake := clock.NewFake(time.Time{})
	b := NewBreaker(fake)
	if open, _ := b.Open(); open {
		t.Fatal("new breaker is open")
	}

	b.Trip(fake.Now().Add(time.Hour))
	b.Trip(fake.Now().Add(time.Minute))
	fake.Advance(30 * time.Minute)
	if open, _ := b.Open(); !open {
		t.Error("breaker closed before the longer window elapsed")
	}
	fake.Advance(time.Hour)
	if open, _ := b.Open(); open {
		t.Error("breaker still open after reset")
	}
}

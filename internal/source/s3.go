// SPDX-License-Identifier: MPL-2.0

package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/charmbracelet/log"

	"github.com/melonup/melonup/internal/extension"
	"github.com/melonup/melonup/internal/version"
)

const (
	// S3Name is the platform name units use in their platform lists.
	S3Name = "S3"

	defaultPresignExpiry = 15 * time.Minute
)

type (
	// S3Config is the connection configuration of the S3 source. Empty
	// credentials mean anonymous access.
	S3Config struct {
		Region          string
		Endpoint        string
		AccessKeyID     string
		SecretAccessKey string
		PathStyle       bool
		PresignExpiry   time.Duration
	}

	// ObjectPresigner presigns GetObject requests; *s3.PresignClient
	// implements it.
	ObjectPresigner interface {
		PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	}

	// S3 serves self-hosted release buckets. A unit links
	// s3://<bucket>/<prefix>; releases live under <prefix>/<version>/ and
	// every object of the newest version becomes a presigned download.
	S3 struct {
		cfg       S3Config
		lister    s3.ListObjectsV2APIClient
		presigner ObjectPresigner
		logger    *log.Logger
	}

	// S3Option configures the S3 source.
	S3Option func(*S3)
)

// WithS3Clients injects the listing and presigning clients instead of
// building them from S3Config at Init.
func WithS3Clients(lister s3.ListObjectsV2APIClient, presigner ObjectPresigner) S3Option {
	return func(s *S3) {
		s.lister = lister
		s.presigner = presigner
	}
}

// NewS3 creates the S3 source.
func NewS3(cfg S3Config, opts ...S3Option) *S3 {
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = defaultPresignExpiry
	}
	s := &S3{cfg: cfg, logger: log.Default().WithPrefix(S3Name)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Descriptor implements extension.Extension.
func (s *S3) Descriptor() extension.Descriptor {
	return extension.Descriptor{
		Name:    S3Name,
		Author:  author,
		Version: ToolVersion,
		Link:    "s3://",
	}
}

// Init implements extension.Initializer.
func (s *S3) Init(_ context.Context, env extension.Env) error {
	if env.Logger != nil {
		s.logger = env.Logger
	}
	if s.lister != nil && s.presigner != nil {
		return nil
	}

	region := s.cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	o := s3.Options{
		Region:       region,
		UsePathStyle: s.cfg.PathStyle,
		Credentials:  s.credentials(),
	}
	if s.cfg.Endpoint != "" {
		o.BaseEndpoint = aws.String(s.cfg.Endpoint)
	}
	if env.HTTPClient != nil {
		o.HTTPClient = env.HTTPClient
	}
	client := s3.New(o)
	if s.lister == nil {
		s.lister = client
	}
	if s.presigner == nil {
		s.presigner = s3.NewPresignClient(client)
	}
	return nil
}

func (s *S3) credentials() aws.CredentialsProvider {
	if s.cfg.AccessKeyID == "" || s.cfg.SecretAccessKey == "" {
		return aws.AnonymousCredentials{}
	}
	id, secret := s.cfg.AccessKeyID, s.cfg.SecretAccessKey
	return aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{AccessKeyID: id, SecretAccessKey: secret, Source: "melonup config"}, nil
	})
}

// Search lists the bucket prefix and presigns the newest release.
func (s *S3) Search(ctx context.Context, rawURL string, _ *version.Version) (*extension.SourceResult, error) {
	bucket, prefix, ok := parseS3URL(rawURL)
	if !ok {
		return nil, nil
	}
	if s.lister == nil || s.presigner == nil {
		return nil, extension.Fault("search", errors.New("S3 clients not initialized"))
	}

	listPrefix := prefix
	if listPrefix != "" {
		listPrefix += "/"
	}
	releases := make(map[string][]string)
	paginator := s3.NewListObjectsV2Paginator(s.lister, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(listPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing s3://%s/%s: %w", bucket, listPrefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			rel := strings.TrimPrefix(key, listPrefix)
			ver, file, found := strings.Cut(rel, "/")
			if !found || file == "" || strings.HasSuffix(file, "/") {
				continue
			}
			releases[ver] = append(releases[ver], key)
		}
	}

	var (
		latest    *version.Version
		latestDir string
	)
	for dir := range releases {
		v, err := version.Parse(dir)
		if err != nil {
			s.logger.Debug("ignoring non-version release folder", "bucket", bucket, "folder", dir)
			continue
		}
		if latest == nil || latest.Less(v) {
			latest, latestDir = v, dir
		}
	}
	if latest == nil {
		return nil, nil
	}

	res := &extension.SourceResult{Latest: latest, PageURL: rawURL}
	for _, key := range releases[latestDir] {
		req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(s.cfg.PresignExpiry))
		if err != nil {
			return nil, fmt.Errorf("presigning s3://%s/%s: %w", bucket, key, err)
		}
		res.Downloads = append(res.Downloads, extension.DownloadEntry{URL: req.URL, FileName: path.Base(key)})
	}
	return res, nil
}

// parseS3URL splits s3://bucket/prefix into its parts; the prefix has no
// surrounding slashes.
func parseS3URL(raw string) (bucket, prefix string, ok bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !strings.EqualFold(u.Scheme, "s3") || u.Host == "" {
		return "", "", false
	}
	return u.Host, strings.Trim(u.Path, "/"), true
}

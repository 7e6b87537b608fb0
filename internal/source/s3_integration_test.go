// SPDX-License-Identifier: MPL-2.0

package source

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/melonup/melonup/internal/extension"
)

const (
	minioImage    = "minio/minio:RELEASE.2025-04-22T22-12-26Z"
	minioUser     = "melonup"
	minioPassword = "melonup-secret"
)

// checkTestcontainersAvailable reports whether a container provider can be
// reached. Provider detection panics on some hosts without a daemon.
func checkTestcontainersAvailable() (available bool) {
	defer func() {
		if r := recover(); r != nil {
			available = false
		}
	}()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		return false
	}
	defer provider.Close()
	return true
}

// startMinIO runs an object store and returns its endpoint.
func startMinIO(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        minioImage,
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     minioUser,
				"MINIO_ROOT_PASSWORD": minioPassword,
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp").WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("skipping: MinIO container did not start: %v", err)
	}
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	endpoint, err := ctr.PortEndpoint(ctx, "9000/tcp", "http")
	if err != nil {
		t.Fatalf("resolving MinIO endpoint: %v", err)
	}
	return endpoint
}

func TestS3_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if !checkTestcontainersAvailable() {
		t.Skip("skipping S3 integration test: testcontainers provider not available")
	}

	endpoint := startMinIO(t)
	ctx := context.Background()

	cfg := S3Config{
		Region:          "us-east-1",
		Endpoint:        endpoint,
		AccessKeyID:     minioUser,
		SecretAccessKey: minioPassword,
		PathStyle:       true,
	}
	seed := s3.New(s3.Options{
		Region:       cfg.Region,
		BaseEndpoint: aws.String(endpoint),
		UsePathStyle: true,
		Credentials:  NewS3(cfg).credentials(),
	})
	if _, err := seed.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String("releases")}); err != nil {
		t.Fatalf("CreateBucket() error = %v", err)
	}
	objects := map[string][]byte{
		"cool/1.0.0/Cool.dll":   []byte("old"),
		"cool/1.2.0/Cool.dll":   []byte("new"),
		"cool/nightly/Cool.dll": []byte("nightly"),
	}
	for key, body := range objects {
		if _, err := seed.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String("releases"),
			Key:    aws.String(key),
			Body:   bytes.NewReader(body),
		}); err != nil {
			t.Fatalf("PutObject(%s) error = %v", key, err)
		}
	}

	src := NewS3(cfg)
	if err := src.Init(ctx, extension.Env{Logger: quiet(), HTTPClient: http.DefaultClient}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	res, err := src.Search(ctx, "s3://releases/cool", nil)
	if err != nil || res == nil {
		t.Fatalf("Search() = %v, %v", res, err)
	}
	if res.Latest.String() != "1.2.0" {
		t.Errorf("Latest = %s, want 1.2.0", res.Latest)
	}
	if len(res.Downloads) != 1 || res.Downloads[0].FileName != "Cool.dll" {
		t.Fatalf("Downloads = %+v", res.Downloads)
	}

	resp, err := http.Get(res.Downloads[0].URL)
	if err != nil {
		t.Fatalf("fetching presigned URL: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || string(body) != "new" {
		t.Errorf("presigned GET = %d %q, want 200 \"new\"", resp.StatusCode, body)
	}
}

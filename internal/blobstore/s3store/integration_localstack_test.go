//go:build integration

package s3store

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/gostratum/ingestgw/internal/blobstore"
)

func ensureDockerCompose(t *testing.T) {
	if _, err := exec.LookPath("docker-compose"); err != nil {
		t.Skip("docker-compose not found; skipping integration")
	}
}

func startLocalstack(t *testing.T) {
	ensureDockerCompose(t)
	cmd := exec.Command("docker-compose", "-f", "test/localstack/docker-compose.yml", "up", "-d")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		t.Fatalf("failed to start localstack: %v", err)
	}
	time.Sleep(5 * time.Second)
}

func stopLocalstack(t *testing.T) {
	cmd := exec.Command("docker-compose", "-f", "test/localstack/docker-compose.yml", "down")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	_ = cmd.Run()
}

func TestLocalstackS3Basic(t *testing.T) {
	startLocalstack(t)
	defer stopLocalstack(t)

	os.Setenv("AWS_ACCESS_KEY_ID", "test")
	os.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	os.Setenv("AWS_REGION", "us-east-1")
	endpoint := "http://localhost:4566"

	ctx := context.Background()
	cfg := &blobstore.Config{
		Provider:             "s3",
		Bucket:               "integration-bucket",
		Region:               "us-east-1",
		Endpoint:             endpoint,
		UseSDKDefaults:       true,
		RequestTimeout:       10 * time.Second,
		BackoffInitial:       200 * time.Millisecond,
		BackoffMax:           5 * time.Second,
		MultipartPartSize:    8 << 20,
		SmallObjectThreshold: 5 << 20,
	}

	s, err := NewS3Storage(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	defer s.client.Close()

	if err := s.client.CreateBucketIfNotExists(ctx); err != nil {
		t.Fatalf("CreateBucketIfNotExists failed: %v", err)
	}

	exists, err := s.client.BucketExists(ctx)
	if err != nil {
		t.Fatalf("BucketExists failed: %v", err)
	}
	if !exists {
		t.Fatalf("expected bucket to exist")
	}

	data := []byte("hello")
	if _, err := s.Put(ctx, "hello.txt", bytes.NewReader(data), int64(len(data)), nil); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	t.Log("localstack S3 integration test passed")
}

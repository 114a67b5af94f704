package buildlog

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/edvin/hosting/internal/config"
)

// Archiver persists Git deployment build transcripts to an S3-compatible
// bucket, keyed by deployment and version, so GetLogs can recover the full
// build output for a FAILED deployment after its container is gone.
type Archiver struct {
	bucket string
	client *s3.Client
}

// NewArchiver builds an Archiver from config. Returns nil if no bucket is
// configured; callers must treat a nil Archiver as archival being disabled.
func NewArchiver(cfg *config.Config) *Archiver {
	if cfg.BuildLogBucket == "" {
		return nil
	}

	opts := s3.Options{
		Region:       cfg.BuildLogRegion,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.BuildLogAccessKeyID, cfg.BuildLogSecretAccessKey, ""),
		UsePathStyle: true,
	}
	if cfg.BuildLogEndpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.BuildLogEndpoint)
	}

	return &Archiver{
		bucket: cfg.BuildLogBucket,
		client: s3.New(opts),
	}
}

func key(deploymentID string, version int) string {
	return deploymentID + "/" + strconv.Itoa(version) + ".log"
}

// Put uploads the full build-event transcript for one deployment version.
func (a *Archiver) Put(ctx context.Context, deploymentID string, version int, transcript string) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key(deploymentID, version)),
		Body:   strings.NewReader(transcript),
	})
	if err != nil {
		return fmt.Errorf("archive build log for deployment %s v%d: %w", deploymentID, version, err)
	}
	return nil
}

// Get retrieves a previously archived build transcript.
func (a *Archiver) Get(ctx context.Context, deploymentID string, version int) (string, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key(deploymentID, version)),
	})
	if err != nil {
		return "", fmt.Errorf("fetch build log for deployment %s v%d: %w", deploymentID, version, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("read build log for deployment %s v%d: %w", deploymentID, version, err)
	}
	return string(body), nil
}

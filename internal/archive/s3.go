// Package archive offloads oversized execution output to S3-compatible
// object storage. The sandbox executor captures stdout/stderr inline on the
// ExecutionResult; once a capture exceeds a configured threshold this store
// keeps the full bytes out of the metrics database and hands back a
// reference the caller can resolve later.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config configures the S3-compatible output archive.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string // set for S3-compatible stores (MinIO, R2, ...)
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// Store archives oversized stdout/stderr captures in S3.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// New connects an S3 client for the given config. It does not verify bucket
// access; the first Put call surfaces that.
func New(ctx context.Context, cfg Config) (*Store, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("archive: bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return &Store{client: client, bucket: bucket, prefix: strings.Trim(cfg.Prefix, "/")}, nil
}

// PutOutput uploads a captured stdout/stderr stream under a key derived from
// the function name and execution id, returning an s3:// reference.
func (s *Store) PutOutput(ctx context.Context, functionName, executionID, stream string, data []byte) (string, error) {
	key := s.objectKey(functionName, executionID, stream)
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/plain; charset=utf-8"),
	}); err != nil {
		return "", fmt.Errorf("archive: put %s: %w", stream, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// GetOutput retrieves a previously archived stream.
func (s *Store) GetOutput(ctx context.Context, functionName, executionID, stream string) (io.ReadCloser, error) {
	key := s.objectKey(functionName, executionID, stream)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		return nil, fmt.Errorf("archive: get %s: %w", stream, err)
	}
	return out.Body, nil
}

func (s *Store) objectKey(functionName, executionID, stream string) string {
	key := fmt.Sprintf("%s/%s/%s.log", functionName, executionID, stream)
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

// utils/r2.go
package utils

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// R2Config holds Cloudflare R2 credentials. Empty AccountID disables R2.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	// Endpoint overrides https://<account>.r2.cloudflarestorage.com (tests, minio).
	Endpoint string
}

func (c R2Config) Enabled() bool {
	return c.AccountID != "" && c.Bucket != ""
}

// ObjectPutter is the slice of the S3 API the exporter needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// R2Client writes objects into a single R2 bucket.
type R2Client struct {
	api    ObjectPutter
	bucket string
}

func NewR2Client(ctx context.Context, c R2Config) (*R2Client, error) {
	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", c.AccountID)
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			c.AccessKeyID, c.AccessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	api := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
	return &R2Client{api: api, bucket: c.Bucket}, nil
}

// NewR2ClientWithAPI wraps an existing S3 implementation.
func NewR2ClientWithAPI(api ObjectPutter, bucket string) *R2Client {
	return &R2Client{api: api, bucket: bucket}
}

// PutObject uploads body under key and returns the object path.
func (r *R2Client) PutObject(ctx context.Context, key, contentType string, body []byte) (string, error) {
	_, err := r.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to R2: %w", err)
	}
	return fmt.Sprintf("%s/%s", r.bucket, key), nil
}

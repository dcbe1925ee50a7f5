// Package assets stores uploaded gift media in an S3-compatible bucket.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var (
	// ErrDisabled indicates an upload while no bucket is configured.
	ErrDisabled = errors.New("assets: object storage is not configured")
	// ErrForeignReference indicates a reference outside the configured bucket.
	ErrForeignReference = errors.New("assets: reference is not served by this bucket")
)

// ObjectClient is the subset of the S3 API the store uses.
type ObjectClient interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store writes objects to a bucket and references them by public URL.
type S3Store struct {
	client        ObjectClient
	bucket        string
	publicBaseURL string
}

// NewS3Store builds the S3 client from static credentials. A custom endpoint
// switches to path-style addressing for MinIO-compatible servers.
func NewS3Store(ctx context.Context, cfg config.AssetConfig) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("assets: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3StoreWithClient(client, cfg.Bucket, cfg.PublicBaseURL)
}

// NewS3StoreWithClient binds a store to an existing client.
func NewS3StoreWithClient(client ObjectClient, bucket, publicBaseURL string) (*S3Store, error) {
	if client == nil {
		return nil, errors.New("assets: object client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("assets: bucket is required")
	}
	base := strings.TrimRight(strings.TrimSpace(publicBaseURL), "/")
	if _, err := url.ParseRequestURI(base); err != nil || base == "" {
		return nil, fmt.Errorf("assets: invalid public base url %q", publicBaseURL)
	}
	return &S3Store{client: client, bucket: bucket, publicBaseURL: base}, nil
}

// Put uploads body under key and returns its public reference.
func (s *S3Store) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("assets: put %s: %w", key, err)
	}
	return s.Reference(key), nil
}

// Remove deletes the object behind ref.
func (s *S3Store) Remove(ctx context.Context, ref string) error {
	key, err := s.Key(ref)
	if err != nil {
		return err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("assets: delete %s: %w", key, err)
	}
	return nil
}

// Reference maps an object key to its public URL.
func (s *S3Store) Reference(key string) string {
	return s.publicBaseURL + "/" + strings.TrimLeft(key, "/")
}

// Key maps a public URL back to its object key.
func (s *S3Store) Key(ref string) (string, error) {
	prefix := s.publicBaseURL + "/"
	if !strings.HasPrefix(ref, prefix) {
		return "", ErrForeignReference
	}
	key := strings.TrimPrefix(ref, prefix)
	if unescaped, err := url.PathUnescape(key); err == nil {
		key = unescaped
	}
	if key == "" {
		return "", ErrForeignReference
	}
	return key, nil
}

// DisabledStore stands in when no bucket is configured: uploads fail and
// removals are no-ops.
type DisabledStore struct{}

// Put always fails with ErrDisabled.
func (DisabledStore) Put(context.Context, string, string, io.Reader, int64) (string, error) {
	return "", ErrDisabled
}

// Remove does nothing.
func (DisabledStore) Remove(context.Context, string) error {
	return nil
}

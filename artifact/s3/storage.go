// Package s3 stores artifacts in an S3-compatible bucket (AWS S3,
// Cloudflare R2, MinIO).
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/xraph/spool"
	"github.com/xraph/spool/export"
)

// Compile-time interface check.
var _ export.ArtifactStorage = (*Storage)(nil)

// Config configures the bucket connection.
type Config struct {
	// Endpoint overrides the service endpoint for S3-compatible providers.
	Endpoint string
	Region   string
	Bucket   string

	AccessKeyID     string
	SecretAccessKey string

	// Prefix is prepended to every object key.
	Prefix string

	// PublicURL is the base URL objects are reachable under. When empty the
	// endpoint's path-style URL is used.
	PublicURL string

	// PresignExpiry, when positive, makes SaveArtifact return a presigned
	// GET URL valid for that long instead of a public URL.
	PresignExpiry time.Duration

	// UsePathStyle forces path-style addressing (required by MinIO).
	UsePathStyle bool
}

// Storage implements export.ArtifactStorage on S3.
type Storage struct {
	client    *s3.Client
	presigner *s3.PresignClient
	cfg       Config
}

// New creates a Storage from cfg.
func New(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("spool/s3: bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "auto"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("spool/s3: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &Storage{
		client:    client,
		presigner: s3.NewPresignClient(client),
		cfg:       cfg,
	}, nil
}

// SaveArtifact uploads data and returns its download URL.
func (s *Storage) SaveArtifact(ctx context.Context, filename, contentType string, data []byte) (string, error) {
	key := s.key(filename)
	input := &s3.PutObjectInput{
		Bucket:             aws.String(s.cfg.Bucket),
		Key:                aws.String(key),
		Body:               bytes.NewReader(data),
		ContentLength:      aws.Int64(int64(len(data))),
		ContentDisposition: aws.String(`attachment; filename="` + filename + `"`),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("spool/s3: put %s: %w", key, err)
	}

	if s.cfg.PresignExpiry > 0 {
		req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(s.cfg.PresignExpiry))
		if err != nil {
			return "", fmt.Errorf("spool/s3: presign %s: %w", key, err)
		}
		return req.URL, nil
	}
	return s.PublicURL(filename), nil
}

// DeleteArtifact removes the object for filename. S3 deletes are
// idempotent, so existence is checked first to report
// spool.ErrArtifactNotFound.
func (s *Storage) DeleteArtifact(ctx context.Context, filename string) error {
	key := s.key(filename)

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return spool.ErrArtifactNotFound
		}
		return fmt.Errorf("spool/s3: head %s: %w", key, err)
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("spool/s3: delete %s: %w", key, err)
	}
	return nil
}

// PublicURL returns the unsigned URL of filename.
func (s *Storage) PublicURL(filename string) string {
	key := s.key(filename)
	if s.cfg.PublicURL != "" {
		return strings.TrimRight(s.cfg.PublicURL, "/") + "/" + escapeKey(key)
	}
	if s.cfg.Endpoint != "" {
		return strings.TrimRight(s.cfg.Endpoint, "/") + "/" + s.cfg.Bucket + "/" + escapeKey(key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, escapeKey(key))
}

func (s *Storage) key(filename string) string {
	if s.cfg.Prefix == "" {
		return filename
	}
	return strings.Trim(s.cfg.Prefix, "/") + "/" + filename
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nsk)
}

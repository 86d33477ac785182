package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds S3-compatible storage settings
type S3Config struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix"`
	Region          string `mapstructure:"region" yaml:"region"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint,omitempty"` // e.g. http://localhost:9000 for MinIO
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
	ForcePathStyle  bool   `mapstructure:"force_path_style" yaml:"force_path_style"` // required for MinIO
}

// S3Archiver uploads artifacts to an S3-compatible bucket.
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewS3Archiver builds the client from cfg. Static credentials are used when
// given, otherwise the default AWS credential chain applies.
func NewS3Archiver(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 archive bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	logger.Info("s3 archive initialized",
		"bucket", cfg.Bucket,
		"endpoint", cfg.Endpoint,
		"region", cfg.Region,
		"force_path_style", cfg.ForcePathStyle)

	return &S3Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger.With("component", "archive"),
	}, nil
}

// Key returns the object key for an artifact.
func (a *S3Archiver) Key(runID string, ordinal int, artifact string) string {
	name := ObjectName(runID, ordinal, artifact)
	if a.prefix == "" {
		return name
	}
	return path.Join(a.prefix, name)
}

// Archive uploads the artifact and returns its s3:// location.
func (a *S3Archiver) Archive(ctx context.Context, runID string, ordinal int, artifact string) (string, error) {
	data, err := os.ReadFile(artifact)
	if err != nil {
		return "", fmt.Errorf("failed to read artifact: %w", err)
	}

	key := a.Key(runID, ordinal, artifact)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("image/png"),
		Metadata: map[string]string{
			"run-id":    runID,
			"iteration": fmt.Sprintf("%d", ordinal),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to put object %s: %w", key, err)
	}

	a.logger.Debug("artifact archived", "bucket", a.bucket, "key", key, "bytes", len(data))
	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}

package export

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ternarybob/arbor"

	"github.com/HTF1125/investment-x-sub000/internal/interfaces"
)

// ArchiveConfig locates the bucket finished exports are copied to.
// Endpoint and UsePathStyle target S3-compatible stores such as MinIO.
type ArchiveConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// S3Archive uploads export documents to an S3 bucket
type S3Archive struct {
	bucket   string
	uploader *manager.Uploader
	logger   arbor.ILogger
}

var _ interfaces.DocumentArchive = (*S3Archive)(nil)

// NewS3Archive loads AWS configuration (static keys when given, the default
// chain otherwise) and returns an archive for cfg.Bucket.
func NewS3Archive(ctx context.Context, cfg ArchiveConfig, logger arbor.ILogger) (*S3Archive, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}

	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	logger.Info().
		Str("bucket", cfg.Bucket).
		Str("region", awsCfg.Region).
		Bool("custom_endpoint", cfg.Endpoint != "").
		Msg("Export archive configured")

	return &S3Archive{bucket: cfg.Bucket, uploader: manager.NewUploader(client), logger: logger}, nil
}

// Put uploads data under key and returns the object location.
func (a *S3Archive) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	out, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	a.logger.Debug().Str("key", key).Int("bytes", len(data)).Msg("Export archived")
	return out.Location, nil
}

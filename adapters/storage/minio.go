package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/satriahrh/ditado/domain/repositories"
)

// MinioConfig holds configuration for the S3 compatible artifact archive
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// ValidateMinioConfig validates the MinioConfig
func ValidateMinioConfig(config MinioConfig) error {
	if config.Endpoint == "" {
		return errors.New("archive endpoint is required")
	}
	if config.Bucket == "" {
		return errors.New("archive bucket is required")
	}
	if config.AccessKey == "" || config.SecretKey == "" {
		return errors.New("archive access key and secret key are required")
	}
	return nil
}

// MinioArchive uploads workflow artifacts to a bucket
type MinioArchive struct {
	client *minio.Client
	bucket string
	prefix string
	host   string
	logger *zap.Logger
}

// Ensure MinioArchive implements the ArtifactArchive interface
var _ repositories.ArtifactArchive = (*MinioArchive)(nil)

// NewMinioArchive connects and checks that the bucket exists
func NewMinioArchive(ctx context.Context, config MinioConfig, logger *zap.Logger) (*MinioArchive, error) {
	if err := ValidateMinioConfig(config); err != nil {
		return nil, err
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init archive client: %w", err)
	}

	exists, err := client.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %q does not exist", config.Bucket)
	}

	scheme := "http"
	if config.UseSSL {
		scheme = "https"
	}

	logger.Info("Artifact archive ready",
		zap.String("endpoint", config.Endpoint),
		zap.String("bucket", config.Bucket))

	return &MinioArchive{
		client: client,
		bucket: config.Bucket,
		prefix: config.Prefix,
		host:   fmt.Sprintf("%s://%s", scheme, config.Endpoint),
		logger: logger,
	}, nil
}

// Archive implements repositories.ArtifactArchive
func (a *MinioArchive) Archive(ctx context.Context, workflowID, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat artifact: %w", err)
	}

	key := objectKey(a.prefix, workflowID, filepath.Base(localPath))
	_, err = a.client.PutObject(ctx, a.bucket, key, f, info.Size(), minio.PutObjectOptions{
		ContentType:  ContentType(localPath),
		UserMetadata: map[string]string{"uploaded-at": time.Now().Format(time.RFC3339), "workflow-id": workflowID},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload artifact: %w", err)
	}

	location := publicURL(a.host, a.bucket, key)
	a.logger.Debug("Artifact archived", zap.String("workflowID", workflowID), zap.String("location", location))
	return location, nil
}

func objectKey(prefix, workflowID, name string) string {
	return path.Join(prefix, workflowID, name)
}

func publicURL(host, bucket, key string) string {
	return fmt.Sprintf("%s/%s/%s", host, bucket, (&url.URL{Path: key}).EscapedPath())
}

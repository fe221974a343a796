package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"

	"github.com/hacknation/campus-lost-found/internal/models"
)

// URL modes for image references
const (
	URLModePublic    = "public"
	URLModePresigned = "presigned"
)

// MinIOStorage resolves stored item images to URLs the vision service can fetch
type MinIOStorage struct {
	client         *minio.Client
	bucketName     string
	publicEndpoint string
	urlMode        string
	urlTTL         time.Duration
}

// MinIOConfig contains configuration for the object store
type MinIOConfig struct {
	Endpoint       string
	PublicEndpoint string
	AccessKey      string
	SecretKey      string
	BucketName     string // Used when an image reference carries no bucket id
	UseSSL         bool
	Region         string // Set to skip bucket location lookups when presigning
	URLMode        string
	URLTTL         time.Duration
}

// NewMinIOStorage creates a new MinIO storage client
func NewMinIOStorage(cfg MinIOConfig) (*MinIOStorage, error) {
	minioClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	publicEndpoint := cfg.PublicEndpoint
	if publicEndpoint == "" {
		publicEndpoint = cfg.Endpoint
	}

	storage := &MinIOStorage{
		client:         minioClient,
		bucketName:     cfg.BucketName,
		publicEndpoint: cleanEndpoint(publicEndpoint, cfg.UseSSL),
		urlMode:        cfg.URLMode,
		urlTTL:         cfg.URLTTL,
	}
	if storage.urlMode == "" {
		storage.urlMode = URLModePublic
	}
	if storage.urlTTL <= 0 {
		storage.urlTTL = 15 * time.Minute
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Images are written by the upload service, so a missing bucket is only worth a warning here.
	exists, err := minioClient.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		log.Warn().Err(err).Msgf("Failed to check bucket existence for %s (will continue)", cfg.BucketName)
	} else if !exists {
		log.Warn().Msgf("Bucket %s does not exist yet", cfg.BucketName)
	}

	log.Info().
		Str("endpoint", cfg.Endpoint).
		Str("public_endpoint", storage.publicEndpoint).
		Str("bucket", cfg.BucketName).
		Str("url_mode", storage.urlMode).
		Msg("MinIO storage initialized")

	return storage, nil
}

// cleanEndpoint strips quotes and trailing slashes and adds a scheme when missing
func cleanEndpoint(endpoint string, useSSL bool) string {
	endpoint = strings.TrimSpace(endpoint)
	endpoint = strings.Trim(endpoint, `"'= `)
	endpoint = strings.TrimSuffix(endpoint, "/")

	if endpoint == "" || strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

func (s *MinIOStorage) bucketFor(ref models.ImageReference) string {
	if ref.BucketID != "" {
		return ref.BucketID
	}
	return s.bucketName
}

// ImageURL returns a fetchable URL for the image: the public object URL, or a
// presigned GET URL when the bucket is private
func (s *MinIOStorage) ImageURL(ctx context.Context, ref models.ImageReference) (string, error) {
	objectKey := strings.TrimPrefix(ref.Path, "/")
	if objectKey == "" {
		return "", fmt.Errorf("image reference has no path")
	}
	bucket := s.bucketFor(ref)

	if s.urlMode == URLModePresigned {
		u, err := s.client.PresignedGetObject(ctx, bucket, objectKey, s.urlTTL, url.Values{})
		if err != nil {
			return "", fmt.Errorf("failed to presign image url: %w", err)
		}
		return u.String(), nil
	}

	return s.PublicURL(bucket, objectKey), nil
}

// PublicURL derives <public endpoint>/<bucket>/<path>
func (s *MinIOStorage) PublicURL(bucket, objectKey string) string {
	escaped := (&url.URL{Path: objectKey}).EscapedPath()
	finalURL := fmt.Sprintf("%s/%s/%s", s.publicEndpoint, bucket, escaped)

	log.Debug().
		Str("bucket", bucket).
		Str("object_key", objectKey).
		Str("generated_url", finalURL).
		Msg("Derived public image URL")

	return finalURL
}

// HealthCheck verifies the MinIO connection
func (s *MinIOStorage) HealthCheck(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("MinIO health check failed: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket '%s' does not exist", s.bucketName)
	}
	return nil
}

package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/fakturly/invoice-ocr-pipeline/internal/config"
)

// DownloadURLExpiry bounds presigned download links handed to the pipeline.
const DownloadURLExpiry = 15 * time.Minute

// Store wraps the MinIO client for invoice document storage.
type Store struct {
	client *minio.Client
	bucket string
}

// NewStore creates a storage client and verifies the bucket exists.
func NewStore(ctx context.Context, cfg config.StorageConfig) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", cfg.Bucket)
	}

	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// Upload stores a document under a tenant-scoped path:
// {tenant}/YYYY/MM/{filename}. Returns the object path for persistence.
func (s *Store) Upload(ctx context.Context, tenant, filename string, reader io.Reader, size int64, contentType string) (string, error) {
	now := time.Now()
	objectName := fmt.Sprintf("%s/%d/%02d/%s", tenant, now.Year(), now.Month(), filename)

	_, err := s.client.PutObject(ctx, s.bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload document: %w", err)
	}
	return objectName, nil
}

// PresignedDownloadURL generates a short-lived, authenticated download link
// for a stored document.
func (s *Store) PresignedDownloadURL(ctx context.Context, objectPath string) (string, error) {
	url, err := s.client.PresignedGetObject(ctx, s.bucket, s.trim(objectPath), DownloadURLExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return url.String(), nil
}

// Download fetches a stored document's bytes through a short-lived presigned
// URL, so every read carries the same time-bounded authorization a handed-out
// link would.
func (s *Store) Download(ctx context.Context, objectPath string) ([]byte, error) {
	url, err := s.PresignedDownloadURL(ctx, objectPath)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build document request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch document: unexpected status %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return data, nil
}

// Delete removes a stored document.
func (s *Store) Delete(ctx context.Context, objectPath string) error {
	return s.client.RemoveObject(ctx, s.bucket, s.trim(objectPath), minio.RemoveObjectOptions{})
}

// trim strips a legacy bucket prefix from object paths stored before paths
// were bucket-relative.
func (s *Store) trim(objectPath string) string {
	return strings.TrimPrefix(objectPath, s.bucket+"/")
}

// FileExtension maps a content type to a file extension for object naming.
func FileExtension(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/tiff":
		return ".tiff"
	case "application/pdf":
		return ".pdf"
	default:
		return ".bin"
	}
}

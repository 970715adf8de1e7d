package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ArchiveService stores run outputs in S3-compatible storage
type ArchiveService struct {
	client     *minio.Client
	bucketName string
	region     string
	urlExpiry  time.Duration
}

// ArchiveResult describes an archived run
type ArchiveResult struct {
	Key         string
	URL         string
	ObjectCount int
}

// NewArchiveService creates a new S3 archive service
func NewArchiveService(endpoint, accessKey, secretKey, bucketName, region string, useSSL bool, urlExpiry time.Duration) (*ArchiveService, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	if urlExpiry <= 0 {
		urlExpiry = time.Hour
	}

	return &ArchiveService{
		client:     client,
		bucketName: bucketName,
		region:     region,
		urlExpiry:  urlExpiry,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *ArchiveService) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{
			Region: s.region,
		})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// ArchiveRun uploads the markdown of a run and its images under runs/<runID>/
// and returns a presigned URL for the markdown object.
func (s *ArchiveService) ArchiveRun(ctx context.Context, runID, markdownName, markdown, imagesRoot string, imagePaths []string) (*ArchiveResult, error) {
	prefix := RunArchivePrefix(runID)
	mdKey := path.Join(prefix, markdownName)

	if err := s.upload(ctx, mdKey, []byte(markdown), "text/markdown; charset=utf-8"); err != nil {
		return nil, err
	}

	for _, rel := range imagePaths {
		data, err := os.ReadFile(filepath.Join(imagesRoot, filepath.FromSlash(rel)))
		if err != nil {
			return nil, fmt.Errorf("failed to read image %s: %w", rel, err)
		}
		if err := s.upload(ctx, path.Join(prefix, rel), data, mimetype.Detect(data).String()); err != nil {
			return nil, err
		}
	}

	url, err := s.GetPresignedURL(ctx, mdKey)
	if err != nil {
		return nil, err
	}

	return &ArchiveResult{
		Key:         prefix,
		URL:         url,
		ObjectCount: len(imagePaths) + 1,
	}, nil
}

func (s *ArchiveService) upload(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// GetPresignedURL generates a presigned URL for downloading an archived object
func (s *ArchiveService) GetPresignedURL(ctx context.Context, key string) (string, error) {
	url, err := s.client.PresignedGetObject(ctx, s.bucketName, key, s.urlExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return url.String(), nil
}

// GetBucketName returns the bucket name
func (s *ArchiveService) GetBucketName() string {
	return s.bucketName
}

// RunArchivePrefix is the object prefix shared by all outputs of a run
func RunArchivePrefix(runID string) string {
	return "runs/" + strings.TrimSpace(runID)
}

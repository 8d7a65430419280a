// Package blobstore wraps source-document bytes in MinIO, adapted from
// unified-rag-service's NewUnifiedRAGService/uploadDocumentHandler (bucket
// bootstrap + PutObject path shape).
package blobstore

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/zks-samoprocjena/compliance-engine/internal/config"
)

type Store struct {
	client *minio.Client
	bucket string
}

func New(ctx context.Context, cfg config.MinIOConfig) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// Put uploads src under a timestamp-partitioned, collision-resistant path
// and returns the blob path to persist on ProcessedDocument.BlobPath.
func (s *Store) Put(ctx context.Context, orgID, fileName, contentType string, size int64, src io.Reader) (string, error) {
	path := fmt.Sprintf("%s/%s/%d_%s", orgID, time.Now().Format("2006/01/02"), time.Now().UnixNano(), strings.ReplaceAll(fileName, " ", "_"))
	if _, err := s.client.PutObject(ctx, s.bucket, path, src, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return path, nil
}

func (s *Store) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	return obj, nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	return s.client.RemoveObject(ctx, s.bucket, path, minio.RemoveObjectOptions{})
}

// Package archive copies uploaded BOM files to object storage so the source
// of a session can be recovered later. Archiving is best-effort: a nil
// *Archiver is valid and does nothing.
package archive

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// Archiver stores uploaded files in a MinIO/S3 bucket.
type Archiver struct {
	client *minio.Client
	bucket string
	log    *zap.Logger
}

// New connects to the object store and ensures the bucket exists.
func New(endpoint, accessKey, secretKey, bucket string, useSSL bool, logger *zap.Logger) (*Archiver, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object store: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", bucket, err)
		}
	}
	return &Archiver{client: client, bucket: bucket, log: logger}, nil
}

// Store uploads one file under a date-partitioned object name and returns
// the object key.
func (a *Archiver) Store(ctx context.Context, filename string, r io.Reader, size int64, contentType string) (string, error) {
	if a == nil {
		return "", nil
	}
	now := time.Now()
	object := fmt.Sprintf("boms/%d/%02d/%s_%s", now.Year(), now.Month(),
		uuid.New().String()[:8], filepath.Base(filename))

	_, err := a.client.PutObject(ctx, a.bucket, object, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("archive %q: %w", filename, err)
	}
	a.log.Info("Archived uploaded BOM",
		zap.String("object", object), zap.Int64("size", size))
	return object, nil
}

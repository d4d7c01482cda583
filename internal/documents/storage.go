package documents

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/igdrones/ig-docs-backend/pkg/storage"
)

// KeyPrefix is the root of every blob this service writes.
const KeyPrefix = "documents/"

// StorageOptions configures the StorageProvider.
type StorageOptions struct {
	Bucket        string
	UploadTimeout time.Duration
	PresignTTL    time.Duration
	MaxReadBytes  int64
}

// StorageProvider stores document artifacts under predictable keys.
type StorageProvider struct {
	s3      storage.S3Client
	options StorageOptions
}

func NewStorageProvider(s3 storage.S3Client, options StorageOptions) *StorageProvider {
	if options.UploadTimeout <= 0 {
		options.UploadTimeout = 30 * time.Second
	}
	if options.PresignTTL <= 0 {
		options.PresignTTL = time.Hour
	}
	if options.MaxReadBytes <= 0 {
		options.MaxReadBytes = 5 << 20
	}
	return &StorageProvider{s3: s3, options: options}
}

// OriginalKey names the blob of a newly created document.
func (p *StorageProvider) OriginalKey(filename string) string {
	return fmt.Sprintf("%s%s%s", KeyPrefix, uuid.New(), strings.ToLower(filepath.Ext(filename)))
}

// VersionKey names the artifact produced at a stage.
func (p *StorageProvider) VersionKey(documentID uuid.UUID, stage int, filename string) string {
	return fmt.Sprintf("%s%s/%d/%s%s", KeyPrefix, documentID, stage, uuid.New(), path.Base(filepath.ToSlash(filename)))
}

// Put uploads body and returns once the object is durable. The upload is
// bounded by the configured timeout.
func (p *StorageProvider) Put(ctx context.Context, key string, body []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, p.options.UploadTimeout)
	defer cancel()

	if _, err := p.s3.Upload(ctx, p.options.Bucket, key, bytes.NewReader(body), contentType); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// Get reads a stored object, up to the configured limit.
func (p *StorageProvider) Get(ctx context.Context, key string) ([]byte, error) {
	rc, err := p.s3.Download(ctx, p.options.Bucket, key)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, p.options.MaxReadBytes))
}

func (p *StorageProvider) Delete(ctx context.Context, key string) error {
	return p.s3.Delete(ctx, p.options.Bucket, key)
}

// SignedURL returns a time-limited GET link for key.
func (p *StorageProvider) SignedURL(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	return p.s3.GetPresignedURL(ctx, p.options.Bucket, key, p.options.PresignTTL)
}

// validKey accepts only keys this service could have written.
func validKey(key string) bool {
	if !strings.HasPrefix(key, KeyPrefix) || len(key) == len(KeyPrefix) {
		return false
	}
	return path.Clean(key) == key && !strings.Contains(key, "..")
}

package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"
)

// MemoryClient keeps objects in process. It backs local development and tests.
type MemoryClient struct {
	mu      sync.RWMutex
	objects map[string][]byte
	types   map[string]string
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func objectPath(bucket, key string) string { return bucket + "/" + key }

func (c *MemoryClient) Upload(ctx context.Context, bucket, key string, body io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[objectPath(bucket, key)] = data
	c.types[objectPath(bucket, key)] = contentType
	return "memory://" + objectPath(bucket, key), nil
}

func (c *MemoryClient) Download(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, ok := c.objects[objectPath(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrObjectNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (c *MemoryClient) Delete(ctx context.Context, bucket, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.objects, objectPath(bucket, key))
	delete(c.types, objectPath(bucket, key))
	return nil
}

func (c *MemoryClient) GetPresignedURL(ctx context.Context, bucket, key string, expiration time.Duration) (string, error) {
	q := url.Values{}
	q.Set("expires", fmt.Sprintf("%d", int(expiration.Seconds())))
	return "memory://" + objectPath(bucket, key) + "?" + q.Encode(), nil
}

// Has reports whether an object exists.
func (c *MemoryClient) Has(bucket, key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.objects[objectPath(bucket, key)]
	return ok
}

// Len returns the number of stored objects.
func (c *MemoryClient) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.objects)
}

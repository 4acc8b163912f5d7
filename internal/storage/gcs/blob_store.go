// Package gcs stores audit report artifacts in Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // integrity digest required by GCS
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

const (
	defaultCacheControl   = "no-cache"
	defaultMaxObjectBytes = 8 << 20
)

// ErrTooLarge is returned when a report exceeds Config.MaxObjectBytes.
var ErrTooLarge = errors.New("report exceeds size limit")

// Config captures the target bucket and object settings.
type Config struct {
	Bucket string
	// CacheControl is applied to every object. Empty means no-cache.
	CacheControl string
	// MaxObjectBytes caps a single upload. Zero uses 8 MiB.
	MaxObjectBytes int64
}

// BlobStore writes audit reports to a configured GCS bucket.
type BlobStore struct {
	client   *storage.Client
	bucket   string
	cache    string
	maxBytes int64
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.CacheControl == "" {
		cfg.CacheControl = defaultCacheControl
	}
	if cfg.MaxObjectBytes <= 0 {
		cfg.MaxObjectBytes = defaultMaxObjectBytes
	}
	return &BlobStore{client: client, bucket: cfg.Bucket, cache: cfg.CacheControl, maxBytes: cfg.MaxObjectBytes}, nil
}

// PutObject uploads a report in a single request and returns its gs:// URI.
// The upload carries MD5 and CRC32C digests so GCS rejects a corrupted body.
// Objects stored under "<prefix>/<audit id>/<name>" are tagged with the audit
// id as object metadata.
func (s *BlobStore) PutObject(ctx context.Context, objectPath string, contentType string, r io.Reader) (string, error) {
	objectPath = strings.TrimLeft(objectPath, "/")
	if strings.TrimSpace(objectPath) == "" {
		return "", errors.New("path is required")
	}
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read report: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return "", fmt.Errorf("%s: %w (%d bytes)", objectPath, ErrTooLarge, s.maxBytes)
	}

	writer := s.client.Bucket(s.bucket).Object(objectPath).NewWriter(ctx)
	writer.ChunkSize = 0
	writer.ContentType = contentType
	writer.CacheControl = s.cache
	writer.Metadata = objectMetadata(objectPath)
	sum := md5.Sum(data) //nolint:gosec
	writer.MD5 = sum[:]
	writer.CRC32C = crc32.Checksum(data, crc32.MakeTable(crc32.Castagnoli))
	writer.SendCRC32C = true

	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("upload gs://%s/%s: %w", s.bucket, objectPath, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, objectPath), nil
}

func objectMetadata(objectPath string) map[string]string {
	meta := map[string]string{"artifact": path.Base(objectPath)}
	if dir := path.Dir(objectPath); dir != "." {
		meta["audit_id"] = path.Base(dir)
	}
	return meta
}

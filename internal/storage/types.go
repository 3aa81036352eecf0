package storage

import (
	"context"
	"errors"
	"time"
)

// ObjectStorageConfig describes the S3-compatible bucket backing media
// uploads and content mirroring, plus the CDN that fronts it.
type ObjectStorageConfig struct {
	Endpoint       string
	Region         string
	AccessKey      string
	SecretKey      string
	Bucket         string
	UseSSL         bool
	Prefix         string
	PublicEndpoint string
	RequestTimeout time.Duration
}

// Client is the object-storage surface the rest of the system depends on.
// An unconfigured deployment gets a disabled no-op implementation so every
// remote side effect degrades to "log and continue".
type Client interface {
	Enabled() bool
	Upload(ctx context.Context, key, contentType, cacheControl string, body []byte) (ObjectRef, error)
	Delete(ctx context.Context, key string) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	PublicURL(key string) string
}

// ObjectRef identifies a stored object and its public URL.
type ObjectRef struct {
	Key string
	URL string
}

// ObjectInfo is one entry of a List result.
type ObjectInfo struct {
	Key  string
	Size int64
}

// ErrObjectNotFound is returned by Get for absent keys.
var ErrObjectNotFound = errors.New("storage: object not found")

const defaultObjectStorageRequestTimeout = 30 * time.Second

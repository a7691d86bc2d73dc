// Package blob stores exported simulation artifacts (run timelines,
// aggregated result summaries) under content keys. Drivers cover local
// filesystem, S3-compatible object stores, and an in-memory store for
// tests. All drivers implement the same create-only contract: a Put to
// an existing key fails unless the payload is byte-identical.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/caarlos0/env/v11"
)

// Driver identifies a blob storage backend.
type Driver string

const (
	DriverMemory Driver = "memory"
	DriverFS     Driver = "fs"
	DriverS3     Driver = "s3"
)

// ErrUnsupported is returned for operations a driver cannot provide,
// such as presigned URLs on the in-memory store.
var ErrUnsupported = errors.New("blob: operation not supported by driver")

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("blob: object not found")

// Info describes a stored object.
type Info struct {
	Key         string            `json:"key"`
	Size        int64             `json:"size"`
	ETag        string            `json:"etag"`
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// PutOptions carries optional attributes recorded alongside a payload.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// SignedURLOptions configures PresignURL.
type SignedURLOptions struct {
	// Method must be GET when set. Empty defaults to GET.
	Method string
	// Expiry defaults to 15 minutes when zero.
	Expiry time.Duration
}

// Store is the driver-neutral object store contract.
type Store interface {
	Put(ctx context.Context, key string, payload io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (io.ReadCloser, Info, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]Info, error)
	PresignURL(ctx context.Context, key string, opts SignedURLOptions) (string, error)
	Driver() Driver
}

// Config selects and parameterizes a driver from the environment.
type Config struct {
	Driver string `env:"TRIALCORE_BLOB_DRIVER" envDefault:"memory"`

	FSRoot string `env:"TRIALCORE_BLOB_FS_ROOT" envDefault:"./data/exports"`

	S3Bucket    string `env:"TRIALCORE_BLOB_S3_BUCKET"`
	S3Region    string `env:"TRIALCORE_BLOB_S3_REGION"`
	S3Endpoint  string `env:"TRIALCORE_BLOB_S3_ENDPOINT"`
	S3PathStyle bool   `env:"TRIALCORE_BLOB_S3_PATH_STYLE"`
}

// Open builds a Store from environment configuration.
func Open(ctx context.Context) (Store, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("blob: parse config: %w", err)
	}
	return OpenConfig(ctx, cfg)
}

// OpenConfig builds a Store from an explicit Config.
func OpenConfig(ctx context.Context, cfg Config) (Store, error) {
	switch Driver(cfg.Driver) {
	case DriverMemory, "":
		return NewMemory(), nil
	case DriverFS:
		return NewFS(cfg.FSRoot)
	case DriverS3:
		return NewS3(ctx, S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
	default:
		return nil, fmt.Errorf("blob: unknown driver %q", cfg.Driver)
	}
}

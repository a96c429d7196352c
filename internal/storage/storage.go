package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrBucketNotFound  = errors.New("volume not found")
	ErrAccessDenied    = errors.New("access denied")
	ErrObjectNotFound  = errors.New("object not found")
	ErrInvalidKey      = errors.New("key cannot be mirrored locally")
	ErrOutsideRoot     = errors.New("path escapes local root")
	ErrRootUnavailable = errors.New("local root unavailable")
)

type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified *time.Time
}

// Listing is one level of a delimiter-scoped listing: the objects directly
// under a prefix and the sub-prefixes one level deeper.
type Listing struct {
	Prefix      string
	Objects     []ObjectInfo
	SubPrefixes []string
}

// ProgressFunc receives the bytes written so far and the expected total
// (zero when unknown).
type ProgressFunc func(done, total int64)

// Service is the remote side of the drain: a single bucket on an
// S3-compatible endpoint.
type Service interface {
	// CheckBucket verifies the configured bucket exists and is reachable.
	CheckBucket(ctx context.Context) error
	// ListChildren returns the immediate children of prefix.
	ListChildren(ctx context.Context, prefix string) (Listing, error)
	// Download writes the object identified by key into dst and returns the
	// number of bytes written.
	Download(ctx context.Context, key string, dst io.WriterAt) (int64, error)
	Delete(ctx context.Context, key string) error
}

// Local is the mirror side of the drain.
type Local interface {
	Root() string
	CheckRoot() error
	Path(rel string) (string, error)
	EnsureDir(rel string) error
	WriteFile(rel string, fill func(w io.WriterAt) error) error
	// RemoveStale deletes staging files an interrupted WriteFile left behind.
	RemoveStale() (int, error)
}

package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	// PutMultipart streams large payloads in parts of at least partSize bytes.
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error
}

// BlobReader inspects object storage.
type BlobReader interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver copies ledger history to cold storage.
type Archiver interface {
	// ArchiveDay writes every transaction record created on day (UTC) and
	// returns how many were written.
	ArchiveDay(ctx context.Context, day time.Time) (int64, error)
}

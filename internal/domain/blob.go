package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads an object to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver moves aged records out of the primary store into cold storage.
type Archiver interface {
	ArchiveResolutions(ctx context.Context, before time.Time) (int64, error)
	ArchiveAudit(ctx context.Context, before time.Time) (int64, error)
}

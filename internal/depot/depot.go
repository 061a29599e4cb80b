package depot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Default limits, matching the sizes the store was originally tuned for:
// 256 KiB chunks, 16 MiB parts, 256 MiB objects, one-hour upload sessions.
const (
	DefaultChunkSize      = 256 * 1024
	DefaultMaxPartSize    = 16 * 1024 * 1024
	DefaultMaxFileSize    = 256 * 1024 * 1024
	DefaultUploadExpireIn = time.Hour

	// maxChunksPerPart is the multiplier used to build a chunk's sort key
	// from its (part number, chunk number) pair. It must strictly exceed
	// the number of chunks any single part can produce, otherwise chunk
	// numbers from different parts could collide in sort order.
	maxChunksPerPart = 64 * 1024 * 1024
)

// Config holds the tunables shared by all FileStore implementations.
type Config struct {
	// Name identifies the store and is embedded in upload/download URLs.
	Name string

	// DataDir is the root directory for store state (metadata database,
	// scratch files). Must not be empty.
	DataDir string

	ChunkSize      int
	MaxPartSize    int64
	MaxFileSize    int64
	UploadExpireIn time.Duration
}

// withDefaults fills in zero-valued fields and validates the result.
func (c Config) withDefaults() (Config, error) {
	if c.Name == "" {
		c.Name = "depot"
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.MaxPartSize == 0 {
		c.MaxPartSize = DefaultMaxPartSize
	}
	if c.MaxFileSize == 0 {
		c.MaxFileSize = DefaultMaxFileSize
	}
	if c.UploadExpireIn == 0 {
		c.UploadExpireIn = DefaultUploadExpireIn
	}

	if c.ChunkSize < 1 {
		return c, fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.MaxPartSize < int64(c.ChunkSize) {
		return c, fmt.Errorf("max part size %d is smaller than chunk size %d", c.MaxPartSize, c.ChunkSize)
	}
	if c.MaxFileSize < c.MaxPartSize {
		return c, fmt.Errorf("max file size %d is smaller than max part size %d", c.MaxFileSize, c.MaxPartSize)
	}

	// The sort-key encoding caps how many chunks one part may hold.
	if chunksPerPart(c.MaxPartSize, c.ChunkSize) > maxChunksPerPart {
		return c, fmt.Errorf("max part size %d requires more than %d chunks of %d bytes", c.MaxPartSize, maxChunksPerPart, c.ChunkSize)
	}

	return c, nil
}

func chunksPerPart(partSize int64, chunkSize int) int64 {
	return (partSize + int64(chunkSize) - 1) / int64(chunkSize)
}

// FileStore is the capability surface shared by every storage backend:
// the chunked SQLite engine, the plain directory backend, and the
// S3-delegated backend. Implementations are selected at construction
// time; callers never depend on which one they got.
type FileStore interface {
	// BeginUpload starts a multipart upload for key. When sizeInBytes is
	// positive the returned part slots cover the whole object up front;
	// when it is zero (size unknown) a single part is allocated. Fails
	// with ErrSizeExceeded when sizeInBytes is larger than the store's
	// maximum file size.
	BeginUpload(ctx context.Context, key, contentType string, sizeInBytes int64) (*Upload, []UploadPart, error)

	// SavePart streams src into the identified part slot, replacing any
	// content previously saved to it, and returns the updated part.
	// Fails with ErrNotFound when the part (or its upload) is gone or
	// expired.
	SavePart(ctx context.Context, partID string, src io.Reader) (*UploadPart, error)

	// FinishUpload assembles the upload's parts into a downloadable
	// object and deletes the upload session. A second call with the same
	// id fails with ErrNotFound.
	FinishUpload(ctx context.Context, uploadID string) (*FileHandle, error)

	// AbortUpload deletes the upload session and all content written to
	// its parts. It reports whether the upload existed.
	AbortUpload(ctx context.Context, uploadID string) (bool, error)

	// ReadFile returns the handle for a finished object, or ErrNotFound.
	ReadFile(ctx context.Context, key string) (*FileHandle, error)

	// ReadFileBatch reads several handles at once. The result is aligned
	// with keys; missing objects yield nil entries rather than an error.
	ReadFileBatch(ctx context.Context, keys []string) ([]*FileHandle, error)

	// SearchFiles pages through handles whose key starts with prefix,
	// ordered by key. An empty page key starts from the beginning.
	SearchFiles(ctx context.Context, prefix, pageKey string, limit int) (*FileHandlePage, error)

	// CountFiles counts handles whose key starts with prefix.
	CountFiles(ctx context.Context, prefix string) (int, error)

	// DeleteFile removes a finished object and its content, reporting
	// whether it existed.
	DeleteFile(ctx context.Context, key string) (bool, error)

	// OpenContent opens the object's content for streaming. The returned
	// reader supports at least forward seeking relative to the current
	// position; backends backed by real files may support more.
	OpenContent(ctx context.Context, key string) (io.ReadSeekCloser, error)

	io.Closer
}

// UploadIntrospector is implemented by backends that can report on
// in-flight uploads. Backends that delegate session state elsewhere
// (such as the S3 backend) may not provide it.
type UploadIntrospector interface {
	ReadUpload(ctx context.Context, uploadID string) (*Upload, error)
	SearchParts(ctx context.Context, uploadID, pageKey string, limit int) (*UploadPartPage, error)
	CountParts(ctx context.Context, uploadID string) (int, error)
}

// Sweeper is implemented by backends whose upload sessions expire and
// must be reclaimed by the reaper.
type Sweeper interface {
	// Sweep aborts every upload whose deadline is before now and returns
	// how many uploads were reclaimed.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Error taxonomy. Callers classify with errors.Is; anything else coming
// out of a FileStore is a persistence failure and is propagated as-is.
var (
	// ErrNotFound reports a missing upload, part, or file handle.
	ErrNotFound = errors.New("not found")

	// ErrSizeExceeded reports a declared size above the configured
	// maximum file size.
	ErrSizeExceeded = errors.New("size exceeds configured maximum")

	// ErrCapacityExceeded reports that a single part produced more
	// chunks than the store permits.
	ErrCapacityExceeded = errors.New("chunk capacity exceeded")

	// ErrInvalidRange reports a Range header this store cannot parse.
	ErrInvalidRange = errors.New("invalid range")

	// ErrMultipartRangeNotSupported reports a Range header naming more
	// than one byte range.
	ErrMultipartRangeNotSupported = errors.New("multipart ranges not supported")

	// ErrUnsupportedSeek reports a seek outside the forward-only
	// contract of the chunk reader.
	ErrUnsupportedSeek = errors.New("unsupported seek")
)

package depot

import (
	"time"
)

// Chunk is one fixed-size slice of an uploaded part's content. Chunks
// are immutable once written; replacing a part's content deletes its
// chunks and writes new ones.
type Chunk struct {
	ID         string `json:"id"`
	StreamID   string `json:"stream_id"`
	PartNumber int    `json:"part_number"`
	// ChunkNumber is the 1-based position of this chunk within its part.
	ChunkNumber int       `json:"chunk_number"`
	SortKey     int64     `json:"sort_key"`
	Data        []byte    `json:"data"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SortKey computes the global ordering key for a chunk. Part numbers
// are 1-based, so keys from consecutive parts never interleave as long
// as no part holds more than maxChunksPerPart chunks (enforced by
// Config validation).
func SortKey(partNumber, chunkNumber int) int64 {
	return int64(partNumber)*maxChunksPerPart + int64(chunkNumber)
}

// Upload is an in-flight multipart upload session.
type Upload struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	ContentType string    `json:"content_type,omitempty"`
	SizeInBytes int64     `json:"size_in_bytes"`
	ExpireAt    time.Time `json:"expire_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UploadPart is one slot of an upload session. Content may be saved to
// a slot any number of times before the upload finishes; the last save
// wins.
type UploadPart struct {
	ID          string `json:"id"`
	UploadID    string `json:"upload_id"`
	PartNumber  int    `json:"part_number"`
	SizeInBytes int64  `json:"size_in_bytes"`
	// UploadURL is where clients PUT this part's content.
	UploadURL string    `json:"upload_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FileHandle describes a finished, downloadable object.
type FileHandle struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type,omitempty"`
	SizeInBytes int64     `json:"size_in_bytes"`
	ETag        string    `json:"etag"`
	DownloadURL string    `json:"download_url"`
	UploadedAt  time.Time `json:"uploaded_at"`

	// StreamID ties the handle to its content and is not part of the
	// public representation.
	StreamID string `json:"-"`
}

// FileHandlePage is one page of a handle search, ordered by key.
type FileHandlePage struct {
	Items []FileHandle `json:"items"`
	// NextPageKey is the page key for the following page, or empty when
	// this is the last page.
	NextPageKey string `json:"next_page_key,omitempty"`
}

// UploadPartPage is one page of an upload's parts, ordered by part number.
type UploadPartPage struct {
	Items       []UploadPart `json:"items"`
	NextPageKey string       `json:"next_page_key,omitempty"`
}

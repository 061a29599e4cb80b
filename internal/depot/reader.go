package depot

import (
	"fmt"
	"io"
)

// ChunkCursor yields a stream's chunks in sort-key order. Next returns
// io.EOF after the last chunk.
type ChunkCursor interface {
	Next() (*Chunk, error)
	Close() error
}

// ChunkReader streams a stored object by walking its chunks. It
// implements io.ReadSeekCloser with a deliberately narrow seek
// contract: only io.SeekCurrent is accepted. Forward seeks skip whole
// chunks without touching their payloads once the current chunk is
// exhausted; negative seeks are honored only within the bytes already
// consumed from the current chunk. Everything else fails with
// ErrUnsupportedSeek.
type ChunkReader struct {
	cursor ChunkCursor

	current []byte
	offset  int
	pos     int64
	closed  bool
}

// NewChunkReader returns a reader over the cursor's chunks. The cursor
// is not advanced until the first Read or Seek.
func NewChunkReader(cursor ChunkCursor) *ChunkReader {
	return &ChunkReader{cursor: cursor}
}

// Read copies bytes from the current chunk, advancing the cursor when
// the chunk is exhausted. A single call never crosses a chunk boundary,
// so short reads are normal.
func (r *ChunkReader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, fmt.Errorf("read from closed chunk reader")
	}
	if err := r.ensure(); err != nil {
		return 0, err
	}
	n := copy(p, r.current[r.offset:])
	r.offset += n
	r.pos += int64(n)
	return n, nil
}

// Seek adjusts the read position relative to the current one. whence
// must be io.SeekCurrent.
func (r *ChunkReader) Seek(offset int64, whence int) (int64, error) {
	if r.closed {
		return r.pos, fmt.Errorf("seek on closed chunk reader")
	}
	if whence != io.SeekCurrent {
		return r.pos, fmt.Errorf("whence %d: %w", whence, ErrUnsupportedSeek)
	}

	if offset < 0 {
		// Backward movement can only rewind into the part of the current
		// chunk that has already been consumed.
		if -offset > int64(r.offset) {
			return r.pos, fmt.Errorf("cannot rewind %d bytes, only %d buffered: %w", -offset, r.offset, ErrUnsupportedSeek)
		}
		r.offset += int(offset)
		r.pos += offset
		return r.pos, nil
	}

	for offset > 0 {
		if err := r.ensure(); err != nil {
			if err == io.EOF {
				return r.pos, fmt.Errorf("seek past end of stream: %w", ErrUnsupportedSeek)
			}
			return r.pos, err
		}
		n := int64(len(r.current) - r.offset)
		if n > offset {
			n = offset
		}
		r.offset += int(n)
		r.pos += n
		offset -= n
	}
	return r.pos, nil
}

// Close releases the underlying cursor.
func (r *ChunkReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.cursor.Close()
}

// ensure advances to the next non-empty chunk if the current one is
// spent. Returns io.EOF at end of stream.
func (r *ChunkReader) ensure() error {
	for r.offset >= len(r.current) {
		chunk, err := r.cursor.Next()
		if err != nil {
			return err
		}
		r.current = chunk.Data
		r.offset = 0
	}
	return nil
}

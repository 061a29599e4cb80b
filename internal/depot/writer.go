package depot

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
)

// ChunkSink persists chunks produced by a ChunkWriter.
type ChunkSink interface {
	CreateChunk(ctx context.Context, chunk *Chunk) error
}

// ChunkWriter slices a byte stream into fixed-size chunks and persists
// them through a ChunkSink, keeping a running MD5 and byte count of
// everything written. It implements io.WriteCloser; Close flushes the
// final partial chunk.
type ChunkWriter struct {
	ctx        context.Context
	sink       ChunkSink
	streamID   string
	partNumber int
	chunkSize  int

	buf       []byte
	chunkNum  int
	maxChunks int

	digest hash.Hash
	size   int64
	closed bool
}

// NewChunkWriter returns a writer that persists chunks for the given
// stream and part. maxChunks caps how many chunks this writer may
// produce; writes beyond the cap fail with ErrCapacityExceeded.
func NewChunkWriter(ctx context.Context, sink ChunkSink, streamID string, partNumber, chunkSize, maxChunks int) *ChunkWriter {
	return &ChunkWriter{
		ctx:        ctx,
		sink:       sink,
		streamID:   streamID,
		partNumber: partNumber,
		chunkSize:  chunkSize,
		buf:        make([]byte, 0, chunkSize),
		maxChunks:  maxChunks,
		digest:     md5.New(),
	}
}

// Write buffers p, persisting a chunk each time the buffer reaches the
// chunk size. The hash and byte count always reflect every byte
// accepted, including bytes still buffered.
func (w *ChunkWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("write to closed chunk writer")
	}

	w.digest.Write(p)
	w.size += int64(len(p))

	written := len(p)
	for len(p) > 0 {
		n := w.chunkSize - len(w.buf)
		if n > len(p) {
			n = len(p)
		}
		w.buf = append(w.buf, p[:n]...)
		p = p[n:]

		if len(w.buf) == w.chunkSize {
			if err := w.flush(); err != nil {
				return written - len(p), err
			}
		}
	}
	return written, nil
}

// Close persists any buffered bytes as a final, possibly undersized
// chunk. Closing an empty writer persists nothing.
func (w *ChunkWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if len(w.buf) == 0 {
		return nil
	}
	return w.flush()
}

func (w *ChunkWriter) flush() error {
	if w.chunkNum >= w.maxChunks {
		return fmt.Errorf("part %d of stream %s: %w", w.partNumber, w.streamID, ErrCapacityExceeded)
	}
	w.chunkNum++

	data := make([]byte, len(w.buf))
	copy(data, w.buf)
	w.buf = w.buf[:0]

	chunk := &Chunk{
		StreamID:    w.streamID,
		PartNumber:  w.partNumber,
		ChunkNumber: w.chunkNum,
		SortKey:     SortKey(w.partNumber, w.chunkNum),
		Data:        data,
	}
	if err := w.sink.CreateChunk(w.ctx, chunk); err != nil {
		return fmt.Errorf("persisting chunk %d: %w", w.chunkNum, err)
	}
	chunksWritten.Inc()
	return nil
}

// Size returns the total number of bytes accepted so far.
func (w *ChunkWriter) Size() int64 {
	return w.size
}

// ETag returns the hex MD5 of everything written so far.
func (w *ChunkWriter) ETag() string {
	return hex.EncodeToString(w.digest.Sum(nil))
}

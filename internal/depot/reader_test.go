package depot

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// sliceCursor yields pre-built chunks for reader tests and records
// whether Close was called.
type sliceCursor struct {
	chunks []*Chunk
	next   int
	closed bool
}

func (c *sliceCursor) Next() (*Chunk, error) {
	if c.next >= len(c.chunks) {
		return nil, io.EOF
	}
	chunk := c.chunks[c.next]
	c.next++
	return chunk, nil
}

func (c *sliceCursor) Close() error {
	c.closed = true
	return nil
}

func chunksOf(payload []byte, chunkSize int) []*Chunk {
	var chunks []*Chunk
	for i := 0; i < len(payload); i += chunkSize {
		end := i + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		n := len(chunks) + 1
		chunks = append(chunks, &Chunk{
			ChunkNumber: n,
			PartNumber:  1,
			SortKey:     SortKey(1, n),
			Data:        payload[i:end],
		})
	}
	return chunks
}

func TestChunkReaderReadsWholeStream(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("0123456789"), 7)
	r := NewChunkReader(&sliceCursor{chunks: chunksOf(payload, 16)})

	data, err := io.ReadAll(r)
	require.NoError(t, err, "ReadAll error")
	require.Equal(t, payload, data, "stream content")
	require.NoError(t, r.Close(), "Close error")
}

func TestChunkReaderShortReadsAtChunkBoundaries(t *testing.T) {
	t.Parallel()

	payload := []byte("abcdefghij")
	r := NewChunkReader(&sliceCursor{chunks: chunksOf(payload, 4)})

	buf := make([]byte, 10)
	n, err := r.Read(buf)
	require.NoError(t, err, "first Read error")
	require.Equal(t, 4, n, "a single Read never crosses a chunk boundary")
	require.Equal(t, "abcd", string(buf[:n]), "first chunk content")
}

func TestChunkReaderForwardSeek(t *testing.T) {
	t.Parallel()

	payload := []byte("abcdefghijklmnopqrstuvwxyz")
	r := NewChunkReader(&sliceCursor{chunks: chunksOf(payload, 5)})

	// Seek forward across two chunk boundaries.
	pos, err := r.Seek(12, io.SeekCurrent)
	require.NoError(t, err, "forward Seek error")
	require.Equal(t, int64(12), pos, "position after forward seek")

	data, err := io.ReadAll(r)
	require.NoError(t, err, "ReadAll after seek")
	require.Equal(t, "mnopqrstuvwxyz", string(data), "content after seek")
}

func TestChunkReaderBackwardSeekWithinChunk(t *testing.T) {
	t.Parallel()

	payload := []byte("abcdefghij")
	r := NewChunkReader(&sliceCursor{chunks: chunksOf(payload, 10)})

	buf := make([]byte, 6)
	_, err := io.ReadFull(r, buf)
	require.NoError(t, err, "priming read")

	// Rewind three of the six consumed bytes.
	pos, err := r.Seek(-3, io.SeekCurrent)
	require.NoError(t, err, "backward Seek error")
	require.Equal(t, int64(3), pos, "position after backward seek")

	data, err := io.ReadAll(r)
	require.NoError(t, err, "ReadAll after backward seek")
	require.Equal(t, "defghij", string(data), "content after backward seek")
}

func TestChunkReaderSeekContract(t *testing.T) {
	t.Parallel()

	payload := []byte("abcdefghij")

	t.Run("absolute seek rejected", func(t *testing.T) {
		r := NewChunkReader(&sliceCursor{chunks: chunksOf(payload, 4)})
		_, err := r.Seek(0, io.SeekStart)
		require.ErrorIs(t, err, ErrUnsupportedSeek, "SeekStart")
		_, err = r.Seek(0, io.SeekEnd)
		require.ErrorIs(t, err, ErrUnsupportedSeek, "SeekEnd")
	})

	t.Run("backward seek past consumed bytes rejected", func(t *testing.T) {
		r := NewChunkReader(&sliceCursor{chunks: chunksOf(payload, 4)})
		buf := make([]byte, 2)
		_, err := io.ReadFull(r, buf)
		require.NoError(t, err, "priming read")
		_, err = r.Seek(-3, io.SeekCurrent)
		require.ErrorIs(t, err, ErrUnsupportedSeek, "rewinding past chunk buffer")
	})

	t.Run("seek past end rejected", func(t *testing.T) {
		r := NewChunkReader(&sliceCursor{chunks: chunksOf(payload, 4)})
		_, err := r.Seek(int64(len(payload))+1, io.SeekCurrent)
		require.ErrorIs(t, err, ErrUnsupportedSeek, "seeking past end")
	})
}

func TestChunkReaderCloseReleasesCursor(t *testing.T) {
	t.Parallel()

	cursor := &sliceCursor{chunks: chunksOf([]byte("abc"), 2)}
	r := NewChunkReader(cursor)
	require.NoError(t, r.Close(), "Close error")
	require.True(t, cursor.closed, "cursor closed")

	_, err := r.Read(make([]byte, 1))
	require.Error(t, err, "read after Close must fail")
}

func TestChunkReaderEmptyStream(t *testing.T) {
	t.Parallel()

	r := NewChunkReader(&sliceCursor{})
	data, err := io.ReadAll(r)
	require.NoError(t, err, "ReadAll error")
	require.Empty(t, data, "empty stream yields no bytes")
}

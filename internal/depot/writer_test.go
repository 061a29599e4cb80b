package depot

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

// memorySink collects chunks in memory for writer tests.
type memorySink struct {
	chunks []*Chunk
}

func (s *memorySink) CreateChunk(_ context.Context, chunk *Chunk) error {
	s.chunks = append(s.chunks, chunk)
	return nil
}

func TestChunkWriterSplitsIntoChunks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		chunkSize  int
		payloadLen int
		wantChunks int
		wantLast   int
	}{
		{name: "empty payload", chunkSize: 8, payloadLen: 0, wantChunks: 0, wantLast: 0},
		{name: "single partial chunk", chunkSize: 8, payloadLen: 5, wantChunks: 1, wantLast: 5},
		{name: "exact chunk", chunkSize: 8, payloadLen: 8, wantChunks: 1, wantLast: 8},
		{name: "full plus partial", chunkSize: 8, payloadLen: 21, wantChunks: 3, wantLast: 5},
		{name: "several exact chunks", chunkSize: 4, payloadLen: 16, wantChunks: 4, wantLast: 4},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			payload := bytes.Repeat([]byte{0x5a}, tc.payloadLen)
			sink := &memorySink{}
			w := NewChunkWriter(context.Background(), sink, "stream-1", 1, tc.chunkSize, 1000)

			n, err := w.Write(payload)
			require.NoError(t, err, "Write error")
			require.Equal(t, tc.payloadLen, n, "bytes accepted")
			require.NoError(t, w.Close(), "Close error")

			require.Len(t, sink.chunks, tc.wantChunks, "number of chunks")
			var reassembled []byte
			for i, chunk := range sink.chunks {
				require.Equal(t, "stream-1", chunk.StreamID, "chunk stream id")
				require.Equal(t, 1, chunk.PartNumber, "chunk part number")
				require.Equal(t, i+1, chunk.ChunkNumber, "chunk number")
				require.Equal(t, SortKey(1, i+1), chunk.SortKey, "chunk sort key")
				if i < len(sink.chunks)-1 {
					require.Len(t, chunk.Data, tc.chunkSize, "interior chunk size")
				} else {
					require.Len(t, chunk.Data, tc.wantLast, "final chunk size")
				}
				reassembled = append(reassembled, chunk.Data...)
			}
			require.Equal(t, payload, reassembled, "reassembled payload")

			require.Equal(t, int64(tc.payloadLen), w.Size(), "writer size")
			sum := md5.Sum(payload)
			require.Equal(t, hex.EncodeToString(sum[:]), w.ETag(), "writer etag")
		})
	}
}

func TestChunkWriterManySmallWrites(t *testing.T) {
	t.Parallel()

	sink := &memorySink{}
	w := NewChunkWriter(context.Background(), sink, "stream-2", 3, 10, 1000)

	payload := []byte("the quick brown fox jumps over the lazy dog")
	for _, b := range payload {
		n, err := w.Write([]byte{b})
		require.NoError(t, err, "Write error")
		require.Equal(t, 1, n, "bytes accepted")
	}
	require.NoError(t, w.Close(), "Close error")

	var reassembled []byte
	for _, chunk := range sink.chunks {
		reassembled = append(reassembled, chunk.Data...)
	}
	require.Equal(t, payload, reassembled, "reassembled payload")

	sum := md5.Sum(payload)
	require.Equal(t, hex.EncodeToString(sum[:]), w.ETag(), "writer etag")
	require.Equal(t, int64(len(payload)), w.Size(), "writer size")
}

func TestChunkWriterCapacityExceeded(t *testing.T) {
	t.Parallel()

	sink := &memorySink{}
	w := NewChunkWriter(context.Background(), sink, "stream-3", 1, 4, 2)

	// Two full chunks fit; the ninth byte needs a third.
	_, err := w.Write(bytes.Repeat([]byte{0x41}, 8))
	require.NoError(t, err, "writing up to capacity")

	_, err = w.Write([]byte{0x42, 0x42, 0x42, 0x42})
	require.ErrorIs(t, err, ErrCapacityExceeded, "writing past capacity")
}

func TestChunkWriterCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	sink := &memorySink{}
	w := NewChunkWriter(context.Background(), sink, "stream-4", 1, 8, 10)

	_, err := w.Write([]byte("abc"))
	require.NoError(t, err, "Write error")
	require.NoError(t, w.Close(), "first Close")
	require.NoError(t, w.Close(), "second Close")
	require.Len(t, sink.chunks, 1, "partial chunk flushed exactly once")

	_, err = w.Write([]byte("more"))
	require.Error(t, err, "write after Close must fail")
}

package depot

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSortKeyOrdersAcrossParts(t *testing.T) {
	t.Parallel()

	// Every chunk of part n must sort before every chunk of part n+1,
	// no matter how many chunks either part holds.
	last := SortKey(1, 1)
	for part := 1; part <= 3; part++ {
		for chunk := 1; chunk <= 1000; chunk++ {
			if part == 1 && chunk == 1 {
				continue
			}
			key := SortKey(part, chunk)
			require.Greaterf(t, key, last, "sort key for part %d chunk %d", part, chunk)
			last = key
		}
	}

	require.Greater(t, SortKey(2, 1), SortKey(1, maxChunksPerPart), "first chunk of part 2 vs fullest part 1")
}

func TestConfigValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "defaults", cfg: Config{}, wantErr: false},
		{name: "partial config filled in", cfg: Config{MaxPartSize: 1 << 20}, wantErr: false},
		{name: "part smaller than chunk", cfg: Config{ChunkSize: 1024, MaxPartSize: 512}, wantErr: true},
		{name: "file smaller than part", cfg: Config{MaxPartSize: 16 << 20, MaxFileSize: 8 << 20}, wantErr: true},
		{name: "too many chunks per part", cfg: Config{ChunkSize: 1, MaxPartSize: maxChunksPerPart + 1, MaxFileSize: maxChunksPerPart + 1}, wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.cfg.withDefaults()
			if tc.wantErr {
				require.Error(t, err, "expected validation error")
			} else {
				require.NoError(t, err, "unexpected validation error")
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Config{}.withDefaults()
	require.NoError(t, err, "withDefaults error")
	require.Equal(t, DefaultChunkSize, cfg.ChunkSize, "chunk size default")
	require.Equal(t, int64(DefaultMaxPartSize), cfg.MaxPartSize, "max part size default")
	require.Equal(t, int64(DefaultMaxFileSize), cfg.MaxFileSize, "max file size default")
	require.Equal(t, DefaultUploadExpireIn, cfg.UploadExpireIn, "upload TTL default")
	require.Equal(t, "depot", cfg.Name, "store name default")
}

package depot

import (
	"context"
	"crypto/md5"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations
var migrationsFS embed.FS

// ChunkStore is the chunked FileStore: part content is sliced into
// fixed-size chunks stored as rows in SQLite, and finished objects are
// streamed back by walking those rows in sort-key order.
type ChunkStore struct {
	cfg Config
	db  *sql.DB

	// now is replaceable so expiry behavior can be tested.
	now func() time.Time
}

var (
	_ FileStore          = (*ChunkStore)(nil)
	_ UploadIntrospector = (*ChunkStore)(nil)
	_ Sweeper            = (*ChunkStore)(nil)
	_ ChunkSink          = (*ChunkStore)(nil)
)

// initSchema applies all SQL files in the embedded migrations in
// lexicographical order.
func initSchema(ctx context.Context, db *sql.DB) error {
	return fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		content, readError := migrationsFS.ReadFile(path)
		if readError != nil {
			return fmt.Errorf("error reading SQL file: %w", readError)
		}

		slog.Info("Running migration", "path", path)
		_, execError := db.ExecContext(ctx, string(content))
		return execError
	})
}

// NewChunkStore initializes the metadata database under cfg.DataDir and
// returns the store.
func NewChunkStore(ctx context.Context, cfg Config) (*ChunkStore, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	if cfg.DataDir == "" {
		return nil, errors.New("DataDir must not be empty")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := path.Join(cfg.DataDir, "metadata.sqlite")

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &ChunkStore{cfg: cfg, db: db, now: time.Now}, nil
}

// Close closes the metadata database.
func (s *ChunkStore) Close() error {
	return s.db.Close()
}

// Config returns the store's effective configuration.
func (s *ChunkStore) Config() Config {
	return s.cfg
}

// WithTransaction runs a function within a database transaction.
func WithTransaction(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return fmt.Errorf("error executing transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}

	return nil
}

// CreateChunk persists a single chunk row. Chunks are append-only; a
// duplicate (stream, sort key) pair is a bug in the caller and surfaces
// as a constraint violation.
func (s *ChunkStore) CreateChunk(ctx context.Context, chunk *Chunk) error {
	if chunk.ID == "" {
		chunk.ID = uuid.NewString()
	}
	now := s.now().UTC()
	chunk.CreatedAt = now
	chunk.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chunks(id, stream_id, part_number, chunk_number, sort_key, data, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		chunk.ID, chunk.StreamID, chunk.PartNumber, chunk.ChunkNumber, chunk.SortKey, chunk.Data, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert chunk: %w", err)
	}
	return nil
}

// chunkCursor walks chunk rows lazily, one per Next call.
type chunkCursor struct {
	rows *sql.Rows
}

func (c *chunkCursor) Next() (*Chunk, error) {
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	var chunk Chunk
	if err := c.rows.Scan(&chunk.ID, &chunk.StreamID, &chunk.PartNumber, &chunk.ChunkNumber, &chunk.SortKey, &chunk.Data); err != nil {
		return nil, fmt.Errorf("scan chunk: %w", err)
	}
	return &chunk, nil
}

func (c *chunkCursor) Close() error {
	return c.rows.Close()
}

// openStream returns a cursor over all chunks of a stream in sort-key
// order.
func (s *ChunkStore) openStream(ctx context.Context, streamID string) (ChunkCursor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, stream_id, part_number, chunk_number, sort_key, data
		 FROM chunks WHERE stream_id = ? ORDER BY sort_key`,
		streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	return &chunkCursor{rows: rows}, nil
}

// deleteStreamChunks removes every chunk of a stream, optionally
// limited to one part.
func deleteStreamChunks(ctx context.Context, tx *sql.Tx, streamID string, partNumber int) error {
	var err error
	if partNumber > 0 {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM chunks WHERE stream_id = ? AND part_number = ?`, streamID, partNumber)
	} else {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM chunks WHERE stream_id = ?`, streamID)
	}
	return err
}

// BeginUpload creates an upload session for key and allocates its part
// slots up front.
func (s *ChunkStore) BeginUpload(ctx context.Context, key, contentType string, sizeInBytes int64) (*Upload, []UploadPart, error) {
	if key == "" {
		return nil, nil, errors.New("key must not be empty")
	}
	if sizeInBytes < 0 {
		return nil, nil, fmt.Errorf("negative size %d", sizeInBytes)
	}
	if sizeInBytes > s.cfg.MaxFileSize {
		return nil, nil, fmt.Errorf("declared size %d exceeds maximum %d: %w", sizeInBytes, s.cfg.MaxFileSize, ErrSizeExceeded)
	}
	if contentType == "" {
		contentType = contentTypeForKey(key)
	}

	numParts := 1
	if sizeInBytes > 0 {
		numParts = int((sizeInBytes + s.cfg.MaxPartSize - 1) / s.cfg.MaxPartSize)
	}

	now := s.now().UTC()
	upload := &Upload{
		ID:          uuid.NewString(),
		Key:         key,
		ContentType: contentType,
		SizeInBytes: sizeInBytes,
		ExpireAt:    now.Add(s.cfg.UploadExpireIn),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	parts := make([]UploadPart, 0, numParts)
	err := WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO uploads(id, key, content_type, size_in_bytes, expire_at, created_at, updated_at)
			 VALUES(?, ?, ?, ?, ?, ?, ?)`,
			upload.ID, upload.Key, upload.ContentType, upload.SizeInBytes, upload.ExpireAt, now, now,
		)
		if err != nil {
			return fmt.Errorf("insert upload: %w", err)
		}

		for n := 1; n <= numParts; n++ {
			part := UploadPart{
				ID:         uuid.NewString(),
				UploadID:   upload.ID,
				PartNumber: n,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			part.UploadURL = s.partUploadURL(part.ID)
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO upload_parts(id, upload_id, part_number, size_in_bytes, created_at, updated_at)
				 VALUES(?, ?, ?, 0, ?, ?)`,
				part.ID, part.UploadID, part.PartNumber, now, now,
			); err != nil {
				return fmt.Errorf("insert upload part %d: %w", n, err)
			}
			parts = append(parts, part)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	uploadsStarted.Inc()
	return upload, parts, nil
}

// SavePart replaces the content of one part slot with the bytes read
// from src.
func (s *ChunkStore) SavePart(ctx context.Context, partID string, src io.Reader) (*UploadPart, error) {
	var part UploadPart
	var expireAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT p.id, p.upload_id, p.part_number, p.created_at, u.expire_at
		 FROM upload_parts p JOIN uploads u ON u.id = p.upload_id
		 WHERE p.id = ?`,
		partID,
	).Scan(&part.ID, &part.UploadID, &part.PartNumber, &part.CreatedAt, &expireAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("part %s: %w", partID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup part: %w", err)
	}
	if !expireAt.After(s.now().UTC()) {
		// Expired but not yet swept; behave as if the reaper ran already.
		return nil, fmt.Errorf("part %s: upload expired: %w", partID, ErrNotFound)
	}

	// Repave: drop whatever was saved to this slot before, then stream
	// the new content in.
	err = WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		return deleteStreamChunks(ctx, tx, part.UploadID, part.PartNumber)
	})
	if err != nil {
		return nil, fmt.Errorf("clear part chunks: %w", err)
	}

	maxChunks := int(chunksPerPart(s.cfg.MaxPartSize, s.cfg.ChunkSize))
	w := NewChunkWriter(ctx, s, part.UploadID, part.PartNumber, s.cfg.ChunkSize, maxChunks)
	if _, err := io.Copy(w, src); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE upload_parts SET size_in_bytes = ?, updated_at = ? WHERE id = ?`,
		w.Size(), now, part.ID,
	); err != nil {
		return nil, fmt.Errorf("update part size: %w", err)
	}

	part.SizeInBytes = w.Size()
	part.UpdatedAt = now
	part.UploadURL = s.partUploadURL(part.ID)
	return &part, nil
}

// FinishUpload folds the upload's chunks into a file handle and removes
// the session. The fold streams chunk by chunk, so object size is not
// bounded by memory.
func (s *ChunkStore) FinishUpload(ctx context.Context, uploadID string) (*FileHandle, error) {
	upload, err := s.readUpload(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	cursor, err := s.openStream(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	digest := md5.New()
	var size int64
	for {
		chunk, err := cursor.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		digest.Write(chunk.Data)
		size += int64(len(chunk.Data))
	}

	now := s.now().UTC()
	handle := &FileHandle{
		Key:         upload.Key,
		ContentType: upload.ContentType,
		SizeInBytes: size,
		ETag:        hex.EncodeToString(digest.Sum(nil)),
		DownloadURL: s.downloadURL(upload.Key),
		UploadedAt:  now,
		StreamID:    uploadID,
	}

	// The handle row flips over to the new stream before the old stream's
	// chunks go away, so a concurrent reader sees either the old object
	// or the new one, never a torn mix.
	var oldStreamID sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT stream_id FROM file_handles WHERE key = ?`, upload.Key,
	).Scan(&oldStreamID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lookup existing handle: %w", err)
	}

	err = WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO file_handles(key, stream_id, content_type, size_in_bytes, etag, uploaded_at)
			 VALUES(?, ?, ?, ?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET
				stream_id=excluded.stream_id,
				content_type=excluded.content_type,
				size_in_bytes=excluded.size_in_bytes,
				etag=excluded.etag,
				uploaded_at=excluded.uploaded_at`,
			handle.Key, handle.StreamID, handle.ContentType, handle.SizeInBytes, handle.ETag, handle.UploadedAt,
		); err != nil {
			return fmt.Errorf("upsert file handle: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM upload_parts WHERE upload_id = ?`, uploadID); err != nil {
			return fmt.Errorf("delete upload parts: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM uploads WHERE id = ?`, uploadID); err != nil {
			return fmt.Errorf("delete upload: %w", err)
		}

		if oldStreamID.Valid && oldStreamID.String != uploadID {
			if err := deleteStreamChunks(ctx, tx, oldStreamID.String, 0); err != nil {
				return fmt.Errorf("delete replaced chunks: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	uploadsFinished.Inc()
	return handle, nil
}

// AbortUpload discards the session and every chunk written to it.
func (s *ChunkStore) AbortUpload(ctx context.Context, uploadID string) (bool, error) {
	existed := false
	err := WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM uploads WHERE id = ?`, uploadID)
		if err != nil {
			return fmt.Errorf("delete upload: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		existed = rows > 0
		if !existed {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM upload_parts WHERE upload_id = ?`, uploadID); err != nil {
			return fmt.Errorf("delete upload parts: %w", err)
		}
		return deleteStreamChunks(ctx, tx, uploadID, 0)
	})
	if err != nil {
		return false, err
	}

	if existed {
		uploadsAborted.Inc()
	}
	return existed, nil
}

// readUpload returns a live upload session, treating expired sessions
// as already reaped.
func (s *ChunkStore) readUpload(ctx context.Context, uploadID string) (*Upload, error) {
	var u Upload
	var contentType sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, key, content_type, size_in_bytes, expire_at, created_at, updated_at
		 FROM uploads WHERE id = ?`,
		uploadID,
	).Scan(&u.ID, &u.Key, &contentType, &u.SizeInBytes, &u.ExpireAt, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("upload %s: %w", uploadID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup upload: %w", err)
	}
	if !u.ExpireAt.After(s.now().UTC()) {
		return nil, fmt.Errorf("upload %s expired: %w", uploadID, ErrNotFound)
	}
	u.ContentType = contentType.String
	return &u, nil
}

// ReadUpload returns a live upload session.
func (s *ChunkStore) ReadUpload(ctx context.Context, uploadID string) (*Upload, error) {
	return s.readUpload(ctx, uploadID)
}

// SearchParts pages through an upload's part slots in part-number
// order. The page key is the last part number of the previous page.
func (s *ChunkStore) SearchParts(ctx context.Context, uploadID, pageKey string, limit int) (*UploadPartPage, error) {
	if _, err := s.readUpload(ctx, uploadID); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	after := 0
	if pageKey != "" {
		n, err := parsePageNumber(pageKey)
		if err != nil {
			return nil, err
		}
		after = n
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, upload_id, part_number, size_in_bytes, created_at, updated_at
		 FROM upload_parts WHERE upload_id = ? AND part_number > ?
		 ORDER BY part_number LIMIT ?`,
		uploadID, after, limit+1,
	)
	if err != nil {
		return nil, fmt.Errorf("query parts: %w", err)
	}
	defer rows.Close()

	var page UploadPartPage
	for rows.Next() {
		var p UploadPart
		if err := rows.Scan(&p.ID, &p.UploadID, &p.PartNumber, &p.SizeInBytes, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan part: %w", err)
		}
		p.UploadURL = s.partUploadURL(p.ID)
		page.Items = append(page.Items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(page.Items) > limit {
		page.Items = page.Items[:limit]
		page.NextPageKey = fmt.Sprintf("%d", page.Items[limit-1].PartNumber)
	}
	return &page, nil
}

// CountParts counts the part slots of a live upload.
func (s *ChunkStore) CountParts(ctx context.Context, uploadID string) (int, error) {
	if _, err := s.readUpload(ctx, uploadID); err != nil {
		return 0, err
	}
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM upload_parts WHERE upload_id = ?`, uploadID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count parts: %w", err)
	}
	return count, nil
}

// ReadFile returns the handle of a finished object.
func (s *ChunkStore) ReadFile(ctx context.Context, key string) (*FileHandle, error) {
	var h FileHandle
	var contentType sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT key, stream_id, content_type, size_in_bytes, etag, uploaded_at
		 FROM file_handles WHERE key = ?`,
		key,
	).Scan(&h.Key, &h.StreamID, &contentType, &h.SizeInBytes, &h.ETag, &h.UploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup file handle: %w", err)
	}
	h.ContentType = contentType.String
	h.DownloadURL = s.downloadURL(h.Key)
	return &h, nil
}

// ReadFileBatch reads several handles; the result is aligned with keys
// and missing objects yield nil entries.
func (s *ChunkStore) ReadFileBatch(ctx context.Context, keys []string) ([]*FileHandle, error) {
	results := make([]*FileHandle, len(keys))
	for i, key := range keys {
		h, err := s.ReadFile(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		results[i] = h
	}
	return results, nil
}

// SearchFiles pages through handles by key. The page key is the last
// key of the previous page.
func (s *ChunkStore) SearchFiles(ctx context.Context, prefix, pageKey string, limit int) (*FileHandlePage, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, stream_id, content_type, size_in_bytes, etag, uploaded_at
		 FROM file_handles WHERE key LIKE ? ESCAPE '\' AND key > ?
		 ORDER BY key LIMIT ?`,
		likePrefix(prefix), pageKey, limit+1,
	)
	if err != nil {
		return nil, fmt.Errorf("query file handles: %w", err)
	}
	defer rows.Close()

	var page FileHandlePage
	for rows.Next() {
		var h FileHandle
		var contentType sql.NullString
		if err := rows.Scan(&h.Key, &h.StreamID, &contentType, &h.SizeInBytes, &h.ETag, &h.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan file handle: %w", err)
		}
		h.ContentType = contentType.String
		h.DownloadURL = s.downloadURL(h.Key)
		page.Items = append(page.Items, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(page.Items) > limit {
		page.Items = page.Items[:limit]
		page.NextPageKey = page.Items[limit-1].Key
	}
	return &page, nil
}

// CountFiles counts handles whose key starts with prefix.
func (s *ChunkStore) CountFiles(ctx context.Context, prefix string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM file_handles WHERE key LIKE ? ESCAPE '\'`, likePrefix(prefix),
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count file handles: %w", err)
	}
	return count, nil
}

// DeleteFile removes a handle and its content stream.
func (s *ChunkStore) DeleteFile(ctx context.Context, key string) (bool, error) {
	var streamID string
	err := s.db.QueryRowContext(ctx,
		`SELECT stream_id FROM file_handles WHERE key = ?`, key,
	).Scan(&streamID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup file handle: %w", err)
	}

	err = WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM file_handles WHERE key = ?`, key); err != nil {
			return fmt.Errorf("delete file handle: %w", err)
		}
		return deleteStreamChunks(ctx, tx, streamID, 0)
	})
	if err != nil {
		return false, err
	}

	filesDeleted.Inc()
	return true, nil
}

// OpenContent opens the object's chunk stream for reading.
func (s *ChunkStore) OpenContent(ctx context.Context, key string) (io.ReadSeekCloser, error) {
	handle, err := s.ReadFile(ctx, key)
	if err != nil {
		return nil, err
	}
	cursor, err := s.openStream(ctx, handle.StreamID)
	if err != nil {
		return nil, err
	}
	return NewChunkReader(cursor), nil
}

// Sweep aborts every upload whose deadline passed before now.
func (s *ChunkStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM uploads WHERE expire_at <= ?`, now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("query expired uploads: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan upload id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	reaped := 0
	for _, id := range ids {
		existed, err := s.AbortUpload(ctx, id)
		if err != nil {
			return reaped, err
		}
		if existed {
			reaped++
		}
	}
	return reaped, nil
}

func (s *ChunkStore) partUploadURL(partID string) string {
	return fmt.Sprintf("/data/%s-part/%s", s.cfg.Name, partID)
}

func (s *ChunkStore) downloadURL(key string) string {
	return fmt.Sprintf("/data/%s/%s", s.cfg.Name, key)
}

// contentTypeForKey maps a key's extension to a MIME type, defaulting
// to application/octet-stream.
func contentTypeForKey(key string) string {
	if ct := mime.TypeByExtension(filepath.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// likePrefix builds a LIKE pattern matching keys that start with
// prefix, escaping the LIKE metacharacters.
func likePrefix(prefix string) string {
	escaped := make([]byte, 0, len(prefix)+2)
	for i := 0; i < len(prefix); i++ {
		c := prefix[i]
		if c == '%' || c == '_' || c == '\\' {
			escaped = append(escaped, '\\')
		}
		escaped = append(escaped, c)
	}
	return string(escaped) + "%"
}

// parsePageNumber parses a numeric page key.
func parsePageNumber(pageKey string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(pageKey, "%d", &n); err != nil || n < 0 {
		return 0, fmt.Errorf("invalid page key %q", pageKey)
	}
	return n, nil
}
